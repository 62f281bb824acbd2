package profiles

import (
	"context"
	"sync"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
)

// Session holds the decrypted profiles of one scope.
type Session struct {
	store *Store
	scope Scope
	key   []byte

	mu       sync.Mutex
	profiles []DeviceProfile
}

// Scope returns the session's scope.
func (s *Session) Scope() Scope { return s.scope }

// Profiles returns a copy of the loaded profiles.
func (s *Session) Profiles() []DeviceProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceProfile(nil), s.profiles...)
}

// ActiveProfile returns the active profile.
//
// Returns ErrNoDeviceProfile if no profile is loaded or none is active.
func (s *Session) ActiveProfile() (*DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.profiles {
		if s.profiles[i].Active {
			p := s.profiles[i]
			return &p, nil
		}
	}
	return nil, kerrors.New(kerrors.CodeNoDeviceProfile, "no active profile loaded")
}

// SetActive switches the active device and reloads the session.
func (s *Session) SetActive(ctx context.Context, deviceID string) error {
	profiles, err := s.store.SetActive(ctx, s.scope, s.key, deviceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	return nil
}

// MarkHfpSent records that deviceID's fingerprint has been transmitted.
// The flag only ever moves from false to true; it is persisted before
// returning so a crash cannot cause a second transmission.
func (s *Session) MarkHfpSent(ctx context.Context, deviceID string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	profiles, err := s.store.decryptAll(ctx, s.scope, s.key)
	if err != nil {
		return kerrors.Wrap(kerrors.CodeCryptoError, "loading profiles", err)
	}
	found := false
	for i := range profiles {
		if profiles[i].DeviceID == deviceID {
			profiles[i].SentHfpOnce = true
			found = true
		}
	}
	if !found {
		return kerrors.New(kerrors.CodeNoDeviceProfile, "missing a profile for device %s", deviceID)
	}
	if err := s.store.rewrite(ctx, s.scope, s.key, profiles); err != nil {
		return err
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	return nil
}
