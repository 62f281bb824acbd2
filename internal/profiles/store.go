package profiles

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/storage"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 1000
	derivedKeySize   = 32
)

// Scope identifies one application user at one origin.
type Scope struct {
	Origin string
	AppID  string
	UserID string
}

// Key is the storage key holding the scope's profile list.
func (s Scope) Key() string {
	return s.Origin + "|" + s.AppID + "|" + s.UserID
}

// Validate reports missing scope members.
func (s Scope) Validate() error {
	if s.AppID == "" || s.UserID == "" {
		return kerrors.New(kerrors.CodeBadRequest, "appId and userId are required")
	}
	return nil
}

// DeriveKey derives the profile encryption key:
// PBKDF2-HMAC-SHA256(userAuth+origin, appID, 1000 iterations, 32 bytes).
func DeriveKey(userAuth, origin, appID string) []byte {
	return pbkdf2.Key([]byte(userAuth+origin), []byte(appID), pbkdf2Iterations, derivedKeySize, sha256.New)
}

// Store persists encrypted profile lists.
type Store struct {
	backend  storage.Backend
	provider primitives.Provider
	log      logger.Logger

	// mu serializes every read-modify-write of a profile list.
	mu sync.Mutex
}

// NewStore returns a Store over backend.
func NewStore(backend storage.Backend, provider primitives.Provider, log logger.Logger) *Store {
	if provider == nil {
		provider = primitives.New()
	}
	return &Store{backend: backend, provider: provider, log: log}
}

func (s *Store) readList(ctx context.Context, scope Scope) ([]string, error) {
	raw, ok, err := s.backend.Get(ctx, scope.Key())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to parse profile list: %w", err)
	}
	return list, nil
}

func (s *Store) writeList(ctx context.Context, scope Scope, list []string) error {
	if list == nil {
		list = []string{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode profile list: %w", err)
	}
	return s.backend.Put(ctx, scope.Key(), raw)
}

func (s *Store) seal(key []byte, profile DeviceProfile) (string, error) {
	plaintext, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}
	iv, err := s.provider.RandomBytes(primitives.IVSize)
	if err != nil {
		return "", err
	}
	ct, err := s.provider.CTR(key, iv, plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(iv, ct...)), nil
}

func (s *Store) open(key []byte, entry string) (DeviceProfile, error) {
	var profile DeviceProfile
	raw, err := base64.StdEncoding.DecodeString(entry)
	if err != nil {
		return profile, fmt.Errorf("failed to decode profile entry: %w", err)
	}
	if len(raw) < primitives.IVSize {
		return profile, fmt.Errorf("profile entry too short")
	}
	pt, err := s.provider.CTR(key, raw[:primitives.IVSize], raw[primitives.IVSize:])
	if err != nil {
		return profile, err
	}
	if err := json.Unmarshal(pt, &profile); err != nil {
		return profile, fmt.Errorf("failed to parse profile: %w", err)
	}
	return profile, nil
}

func (s *Store) decryptAll(ctx context.Context, scope Scope, key []byte) ([]DeviceProfile, error) {
	list, err := s.readList(ctx, scope)
	if err != nil {
		return nil, err
	}
	profiles := make([]DeviceProfile, 0, len(list))
	for _, entry := range list {
		p, err := s.open(key, entry)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Query returns the decrypted profiles of scope. Missing or undecryptable
// data yields an empty list, never an error.
func (s *Store) Query(ctx context.Context, scope Scope, key []byte) []DeviceProfile {
	profiles, err := s.decryptAll(ctx, scope, key)
	if err != nil {
		s.log.Debugf("Profile query for %s returned nothing: %v", scope.Key(), err)
		return []DeviceProfile{}
	}
	return profiles
}

// QueryProfiles derives the key from userAuth and queries scope.
func (s *Store) QueryProfiles(ctx context.Context, scope Scope, userAuth string) []DeviceProfile {
	return s.Query(ctx, scope, DeriveKey(userAuth, scope.Origin, scope.AppID))
}

// Save appends profile to scope's list.
func (s *Store) Save(ctx context.Context, scope Scope, key []byte, profile DeviceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.seal(key, profile)
	if err != nil {
		return kerrors.Wrap(kerrors.CodeCryptoError, "storing profile", err)
	}
	list, err := s.readList(ctx, scope)
	if err != nil {
		return kerrors.Wrap(kerrors.CodeUnknown, "storing profile", err)
	}
	if err := s.writeList(ctx, scope, append(list, entry)); err != nil {
		return kerrors.Wrap(kerrors.CodeUnknown, "storing profile", err)
	}
	s.log.Debugf("Stored profile for device %s", profile.DeviceID)
	return nil
}

// SetActive marks exactly the profile with deviceID active and rewrites the
// whole list with fresh IVs.
//
// Returns ErrNoDeviceProfile if no profile has deviceID.
// Returns ErrCorruptedProfileSet if more than one does.
func (s *Store) SetActive(ctx context.Context, scope Scope, key []byte, deviceID string) ([]DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.decryptAll(ctx, scope, key)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "loading profiles", err)
	}

	matches := 0
	for _, p := range profiles {
		if p.DeviceID == deviceID {
			matches++
		}
	}
	if matches == 0 {
		return nil, kerrors.New(kerrors.CodeNoDeviceProfile, "missing a profile for device %s", deviceID)
	}
	if matches > 1 {
		return nil, kerrors.Wrap(kerrors.CodeNoDeviceProfile,
			fmt.Sprintf("multiple profiles for device %s", deviceID), kerrors.ErrCorruptedProfileSet)
	}

	for i := range profiles {
		profiles[i].Active = profiles[i].DeviceID == deviceID
	}
	if err := s.rewrite(ctx, scope, key, profiles); err != nil {
		return nil, err
	}
	s.log.Infof("Device %s is now the active profile", deviceID)
	return profiles, nil
}

// rewrite replaces the scope's list. Callers hold s.mu.
func (s *Store) rewrite(ctx context.Context, scope Scope, key []byte, profiles []DeviceProfile) error {
	list := make([]string, 0, len(profiles))
	for _, p := range profiles {
		entry, err := s.seal(key, p)
		if err != nil {
			return kerrors.Wrap(kerrors.CodeCryptoError, "storing profile", err)
		}
		list = append(list, entry)
	}
	if err := s.writeList(ctx, scope, list); err != nil {
		return kerrors.Wrap(kerrors.CodeUnknown, "storing profiles", err)
	}
	return nil
}

// LoadSession loads every profile of scope into a Session.
//
// Returns ErrNoDeviceProfile if the scope holds no profiles.
func (s *Store) LoadSession(ctx context.Context, scope Scope, userAuth string) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if userAuth == "" {
		return nil, kerrors.New(kerrors.CodeBadRequest, "userAuth is required")
	}
	key := DeriveKey(userAuth, scope.Origin, scope.AppID)
	profiles := s.Query(ctx, scope, key)
	if len(profiles) == 0 {
		return nil, kerrors.New(kerrors.CodeNoDeviceProfile, "no profiles found for %s", scope.Key())
	}
	return &Session{store: s, scope: scope, key: key, profiles: profiles}, nil
}
