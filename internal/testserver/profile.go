package testserver

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/profiles"
	"github.com/PolarWolf314/keyward/internal/storage"
	"github.com/google/uuid"
)

// NewProfile registers a device directly, skipping enrollment, and returns
// an active profile for it.
func (s *Server) NewProfile() profiles.DeviceProfile {
	d := &device{id: "D" + uuid.NewString()[:8]}
	d.idcKey, _ = s.Provider.RandomBytes(primitives.KeySize)
	d.kaKey, _ = s.Provider.RandomBytes(primitives.KeySize)

	s.mu.Lock()
	s.devices[d.id] = d
	s.mu.Unlock()

	hfp := profiles.HostFingerprint()
	hash, _ := hfp.Hash()
	return profiles.DeviceProfile{
		Server:    s.URL,
		DeviceID:  d.id,
		Keyspace:  "test",
		Hfp:       hfp,
		HfpHash:   hash,
		IDCKey:    hex.EncodeToString(d.idcKey),
		KAKey:     hex.EncodeToString(d.kaKey),
		CreatedOn: time.Now().UnixMilli(),
		Active:    true,
	}
}

// Session stores profile in a fresh in-memory profile store and returns
// the loaded session.
func Session(t testing.TB, profile profiles.DeviceProfile) *profiles.Session {
	t.Helper()
	ctx := context.Background()
	scope := profiles.Scope{Origin: "https://app.test", AppID: "app", UserID: "user"}

	store := profiles.NewStore(storage.NewMemory(), nil, logger.Logger{})
	key := profiles.DeriveKey("auth", scope.Origin, scope.AppID)
	if err := store.Save(ctx, scope, key, profile); err != nil {
		t.Fatalf("Failed to store profile: %v", err)
	}
	session, err := store.LoadSession(ctx, scope, "auth")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	return session
}
