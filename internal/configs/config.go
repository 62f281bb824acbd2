package configs

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/profiles"
	"github.com/PolarWolf314/keyward/internal/utils"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultTimeout bounds each HTTP request when the config does not.
const DefaultTimeout = 30 * time.Second

type Config struct {
	Client     ClientConfig     `toml:"client"`
	Store      StoreConfig      `toml:"store"`
	HTTP       HTTPConfig       `toml:"http"`
	Enrollment EnrollmentConfig `toml:"enrollment"`
}

// ClientConfig identifies the application and user a profile belongs to.
type ClientConfig struct {
	AppID  string `toml:"app_id"`
	UserID string `toml:"user_id"`
	Origin string `toml:"origin"`
}

type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path,omitempty"`
}

type HTTPConfig struct {
	Timeout string `toml:"timeout"`
}

type EnrollmentConfig struct {
	URL string `toml:"url,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			AppID:  "keyward",
			UserID: utils.DefaultUserID(),
			Origin: "https://localhost",
		},
		Store: StoreConfig{Backend: BackendFile},
		HTTP:  HTTPConfig{Timeout: DefaultTimeout.String()},
	}
}

// LoadConfig reads config.toml, filling unset fields from DefaultConfig.
// A missing file yields the defaults.
func LoadConfig() (*Config, error) {
	config := DefaultConfig()
	path := UserKeywardSettings.ConfigFile()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	loaded := &Config{}
	unknown, err := LoadTOML(path, loaded)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "failed to load config "+path, err)
	}
	if len(unknown) > 0 {
		return nil, kerrors.New(kerrors.CodeInvalidValue, "unknown keys in %s: %v", path, unknown)
	}

	merge(config, loaded)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func merge(dst, src *Config) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Client.AppID, src.Client.AppID)
	set(&dst.Client.UserID, src.Client.UserID)
	set(&dst.Client.Origin, src.Client.Origin)
	set(&dst.Store.Backend, src.Store.Backend)
	set(&dst.Store.Path, src.Store.Path)
	set(&dst.HTTP.Timeout, src.HTTP.Timeout)
	set(&dst.Enrollment.URL, src.Enrollment.URL)
}

// SaveConfig writes config to config.toml.
func SaveConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if err := SaveTOML(UserKeywardSettings.ConfigFile(), config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// InitConfig writes a fresh config.toml unless one exists. A generated
// user_id is used when the caller leaves it empty.
func InitConfig(config *Config, overwrite bool) (string, error) {
	path := UserKeywardSettings.ConfigFile()
	if _, err := os.Stat(path); err == nil && !overwrite {
		return path, kerrors.New(kerrors.CodeInvalidValue, "config already exists at %s", path)
	}
	if config.Client.UserID == "" {
		config.Client.UserID = uuid.New().String()
	}
	return path, SaveConfig(config)
}

// Validate checks field formats.
//
// Returns ErrInvalidValue naming the first offending field.
func (c *Config) Validate() error {
	if c.Client.AppID == "" {
		return kerrors.New(kerrors.CodeInvalidValue, "client.app_id must be set")
	}
	if c.Client.UserID == "" {
		return kerrors.New(kerrors.CodeInvalidValue, "client.user_id must be set")
	}
	if !utils.IsValidOrigin(c.Client.Origin) {
		return kerrors.New(kerrors.CodeInvalidValue, "client.origin %q is not an http(s) origin", c.Client.Origin)
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return kerrors.New(kerrors.CodeInvalidValue, "store.backend %q is not one of file, sqlite, memory", c.Store.Backend)
	}
	if _, err := c.HTTP.TimeoutDuration(); err != nil {
		return err
	}
	if c.Enrollment.URL != "" && !utils.IsValidURL(c.Enrollment.URL) {
		return kerrors.New(kerrors.CodeInvalidValue, "enrollment.url %q is not an absolute URL", c.Enrollment.URL)
	}
	return nil
}

// TimeoutDuration parses the timeout; empty means DefaultTimeout.
func (h HTTPConfig) TimeoutDuration() (time.Duration, error) {
	if h.Timeout == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(h.Timeout)
	if err != nil || d <= 0 {
		return 0, kerrors.New(kerrors.CodeInvalidValue, "http.timeout %q is not a positive duration", h.Timeout)
	}
	return d, nil
}

// Scope is the profile scope this configuration selects.
func (c *Config) Scope() profiles.Scope {
	return profiles.Scope{Origin: c.Client.Origin, AppID: c.Client.AppID, UserID: c.Client.UserID}
}

// StorePath is the configured store path or the backend's default.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return UserKeywardSettings.DefaultStorePath(c.Store.Backend)
}
