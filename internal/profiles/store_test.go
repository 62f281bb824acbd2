package profiles

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/storage"
)

var testScope = Scope{Origin: "https://app.example.com", AppID: "app", UserID: "alice"}

func newTestStore() *Store {
	return NewStore(storage.NewMemory(), primitives.New(), logger.Logger{})
}

func testProfile(deviceID string) DeviceProfile {
	return DeviceProfile{
		Server:    "https://api.example.com",
		DeviceID:  deviceID,
		Keyspace:  "ks01",
		Hfp:       HostFingerprint(),
		IDCKey:    hex.EncodeToString(make([]byte, 32)),
		KAKey:     hex.EncodeToString(make([]byte, 32)),
		CreatedOn: 1700000000000,
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey("secret", "https://o", "app")
	b := DeriveKey("secret", "https://o", "app")
	c := DeriveKey("secret", "https://other", "app")

	if len(a) != 32 {
		t.Fatalf("Expected 32-byte key, got: %d", len(a))
	}
	if hex.EncodeToString(a) != hex.EncodeToString(b) {
		t.Errorf("Expected identical keys for identical inputs")
	}
	if hex.EncodeToString(a) == hex.EncodeToString(c) {
		t.Errorf("Expected origin to change the derived key")
	}
}

func TestQuery_MissingScopeReturnsEmpty(t *testing.T) {
	s := newTestStore()
	got := s.QueryProfiles(context.Background(), testScope, "secret")
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil list, got: %v", got)
	}
}

func TestQuery_WrongKeyReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := DeriveKey("secret", testScope.Origin, testScope.AppID)
	if err := s.Save(ctx, testScope, key, testProfile("dev-1")); err != nil {
		t.Fatalf("Failed to save profile: %v", err)
	}

	got := s.QueryProfiles(ctx, testScope, "wrong")
	if len(got) != 0 {
		t.Errorf("Expected no profiles with a wrong userAuth, got: %d", len(got))
	}
}

func TestSaveAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := DeriveKey("secret", testScope.Origin, testScope.AppID)

	for _, id := range []string{"dev-1", "dev-2"} {
		if err := s.Save(ctx, testScope, key, testProfile(id)); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	got := s.QueryProfiles(ctx, testScope, "secret")
	if len(got) != 2 {
		t.Fatalf("Expected 2 profiles, got: %d", len(got))
	}
	if got[0].DeviceID != "dev-1" || got[1].DeviceID != "dev-2" {
		t.Errorf("Expected profiles in insertion order, got: %s, %s", got[0].DeviceID, got[1].DeviceID)
	}

	other := Scope{Origin: testScope.Origin, AppID: "app", UserID: "bob"}
	if n := len(s.QueryProfiles(ctx, other, "secret")); n != 0 {
		t.Errorf("Expected scopes to be isolated, got %d profiles for bob", n)
	}
}

func TestSetActive_ExactlyOneActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := DeriveKey("secret", testScope.Origin, testScope.AppID)

	for _, id := range []string{"dev-1", "dev-2", "dev-3"} {
		p := testProfile(id)
		p.Active = true
		if err := s.Save(ctx, testScope, key, p); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	if _, err := s.SetActive(ctx, testScope, key, "dev-2"); err != nil {
		t.Fatalf("Failed to set active: %v", err)
	}

	active := 0
	for _, p := range s.Query(ctx, testScope, key) {
		if p.Active {
			active++
			if p.DeviceID != "dev-2" {
				t.Errorf("Expected dev-2 active, got: %s", p.DeviceID)
			}
		}
	}
	if active != 1 {
		t.Errorf("Expected exactly one active profile, got: %d", active)
	}
}

func TestSetActive_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := DeriveKey("secret", testScope.Origin, testScope.AppID)

	if _, err := s.SetActive(ctx, testScope, key, "dev-1"); !errors.Is(err, kerrors.ErrNoDeviceProfile) {
		t.Errorf("Expected ErrNoDeviceProfile, got: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, testScope, key, testProfile("dup")); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}
	_, err := s.SetActive(ctx, testScope, key, "dup")
	if !errors.Is(err, kerrors.ErrCorruptedProfileSet) {
		t.Errorf("Expected ErrCorruptedProfileSet, got: %v", err)
	}
}

func TestLoadSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if _, err := s.LoadSession(ctx, testScope, "secret"); !errors.Is(err, kerrors.ErrNoDeviceProfile) {
		t.Fatalf("Expected ErrNoDeviceProfile for empty scope, got: %v", err)
	}
	if _, err := s.LoadSession(ctx, Scope{Origin: "o"}, "secret"); !errors.Is(err, kerrors.ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest for missing appId, got: %v", err)
	}

	key := DeriveKey("secret", testScope.Origin, testScope.AppID)
	p := testProfile("dev-1")
	p.Active = true
	if err := s.Save(ctx, testScope, key, p); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	session, err := s.LoadSession(ctx, testScope, "secret")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	active, err := session.ActiveProfile()
	if err != nil {
		t.Fatalf("Failed to get active profile: %v", err)
	}
	if active.DeviceID != "dev-1" {
		t.Errorf("Expected dev-1, got: %s", active.DeviceID)
	}
}

func TestSession_MarkHfpSentPersists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := DeriveKey("secret", testScope.Origin, testScope.AppID)
	p := testProfile("dev-1")
	p.Active = true
	if err := s.Save(ctx, testScope, key, p); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	session, err := s.LoadSession(ctx, testScope, "secret")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if err := session.MarkHfpSent(ctx, "dev-1"); err != nil {
		t.Fatalf("Failed to mark hfp sent: %v", err)
	}

	stored := s.Query(ctx, testScope, key)
	if len(stored) != 1 || !stored[0].SentHfpOnce {
		t.Errorf("Expected persisted sentHfpOnce, got: %+v", stored)
	}
	active, _ := session.ActiveProfile()
	if !active.SentHfpOnce {
		t.Errorf("Expected session copy to be updated")
	}
}

func TestHfp_Hash(t *testing.T) {
	h, err := Hfp{FpType: "t", OSFamily: "f", OSRelease: "r"}.Hash()
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}
	if len(h) != 64 {
		t.Errorf("Expected 64 hex chars, got: %d", len(h))
	}
}

func TestSummarize_OmitsKeys(t *testing.T) {
	got := Summarize([]DeviceProfile{testProfile("dev-1")})
	if len(got) != 1 || got[0].DeviceID != "dev-1" || got[0].Keyspace != "ks01" {
		t.Errorf("Unexpected summary: %+v", got)
	}
}
