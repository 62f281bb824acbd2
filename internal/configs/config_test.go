package configs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
)

func withTempSettings(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := *UserKeywardSettings
	UserKeywardSettings.ConfigPath = filepath.Join(dir, "config")
	UserKeywardSettings.DataPath = filepath.Join(dir, "data")
	t.Cleanup(func() { *UserKeywardSettings = old })
	return dir
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	withTempSettings(t)

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Store.Backend != BackendFile {
		t.Errorf("Expected default backend %q, got: %q", BackendFile, config.Store.Backend)
	}
	timeout, err := config.HTTP.TimeoutDuration()
	if err != nil || timeout != DefaultTimeout {
		t.Errorf("Expected default timeout, got: %v (%v)", timeout, err)
	}
	if !strings.HasSuffix(config.StorePath(), filepath.Join("data", "profiles.json")) {
		t.Errorf("Unexpected default store path: %s", config.StorePath())
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	withTempSettings(t)

	config := DefaultConfig()
	config.Client = ClientConfig{AppID: "app", UserID: "alice", Origin: "https://app.example.com"}
	config.Store = StoreConfig{Backend: BackendSQLite}
	config.HTTP.Timeout = "5s"
	config.Enrollment.URL = "https://enroll.example.com/keyspace/ABCD/register"

	if err := SaveConfig(config); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *loaded != *config {
		t.Errorf("Expected %+v, got: %+v", config, loaded)
	}
	if timeout, _ := loaded.HTTP.TimeoutDuration(); timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got: %v", timeout)
	}
	if !strings.HasSuffix(loaded.StorePath(), "profiles.db") {
		t.Errorf("Expected sqlite default path, got: %s", loaded.StorePath())
	}

	scope := loaded.Scope()
	if scope.Key() != "https://app.example.com|app|alice" {
		t.Errorf("Unexpected scope key: %s", scope.Key())
	}
}

func TestLoadConfig_PartialFileMergesDefaults(t *testing.T) {
	withTempSettings(t)

	path := UserKeywardSettings.ConfigFile()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("[store]\nbackend = \"memory\"\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Store.Backend != BackendMemory {
		t.Errorf("Expected memory backend, got: %s", config.Store.Backend)
	}
	if config.Client.AppID != DefaultConfig().Client.AppID {
		t.Errorf("Expected default app id, got: %s", config.Client.AppID)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    kerrors.Code
	}{
		{"UnknownKey", "[client]\nnope = 1\n", kerrors.CodeInvalidValue},
		{"BadBackend", "[store]\nbackend = \"redis\"\n", kerrors.CodeInvalidValue},
		{"BadTimeout", "[http]\ntimeout = \"soon\"\n", kerrors.CodeInvalidValue},
		{"BadOrigin", "[client]\norigin = \"app.example.com\"\n", kerrors.CodeInvalidValue},
		{"Malformed", "[client\n", kerrors.CodeParseFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			withTempSettings(t)
			path := UserKeywardSettings.ConfigFile()
			os.MkdirAll(filepath.Dir(path), 0700)
			if err := os.WriteFile(path, []byte(tc.content), 0600); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			_, err := LoadConfig()
			if kerrors.CodeOf(err) != tc.code {
				t.Errorf("Expected %s, got: %v", tc.code, err)
			}
		})
	}
}

func TestInitConfig(t *testing.T) {
	withTempSettings(t)

	config := DefaultConfig()
	config.Client.UserID = ""
	path, err := InitConfig(config, false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if len(config.Client.UserID) != 36 {
		t.Errorf("Expected generated uuid user id, got: %q", config.Client.UserID)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected config file at %s: %v", path, err)
	}

	if _, err := InitConfig(DefaultConfig(), false); !errors.Is(err, kerrors.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue for existing config, got: %v", err)
	}
	if _, err := InitConfig(DefaultConfig(), true); err != nil {
		t.Errorf("Expected overwrite to succeed, got: %v", err)
	}
}
