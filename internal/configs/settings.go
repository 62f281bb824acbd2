package configs

import (
	"log"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/keyward/internal/utils"
)

// UserSettings holds the per-user directories keyward reads and writes.
type UserSettings struct {
	ConfigPath string
	DataPath   string
	Username   string
}

// UserKeywardSettings is resolved once at startup.
var UserKeywardSettings *UserSettings

func init() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("error getting home directory: %s", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("error getting config directory: %s", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	username, err := utils.GetUsername()
	if err != nil {
		username = ""
	}

	UserKeywardSettings = &UserSettings{
		ConfigPath: filepath.Join(configDir, "keyward"),
		DataPath:   filepath.Join(dataDir, "keyward"),
		Username:   username,
	}
}

// ConfigFile is the path of config.toml.
func (s *UserSettings) ConfigFile() string {
	return filepath.Join(s.ConfigPath, "config.toml")
}

// AuditLogFile is the path of the JSON-lines audit trail.
func (s *UserSettings) AuditLogFile() string {
	return filepath.Join(s.DataPath, "audit.jsonl")
}

// DefaultStorePath returns where a backend keeps its data when the config
// does not name a path.
func (s *UserSettings) DefaultStorePath(backend string) string {
	switch backend {
	case BackendSQLite:
		return filepath.Join(s.DataPath, "profiles.db")
	default:
		return filepath.Join(s.DataPath, "profiles.json")
	}
}
