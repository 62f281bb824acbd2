package workflows

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/PolarWolf314/keyward/internal/chunk"
	"github.com/PolarWolf314/keyward/internal/configs"
	"github.com/PolarWolf314/keyward/internal/enrollment"
	"github.com/PolarWolf314/keyward/internal/envelope"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/filecipher"
	"github.com/PolarWolf314/keyward/internal/keys"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/profiles"
	"github.com/PolarWolf314/keyward/internal/storage"
)

// Environment holds the long-lived services every workflow draws on. It is
// opened once per command from the loaded configuration.
type Environment struct {
	Config   *configs.Config
	Backend  storage.Backend
	Store    *profiles.Store
	Provider primitives.Provider
	HTTP     *http.Client
	Log      logger.Logger
}

// OpenEnvironment opens the configured storage backend and HTTP client.
//
// Returns ErrInvalidValue if the configuration is invalid.
func OpenEnvironment(config *configs.Config, log logger.Logger) (*Environment, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout, err := config.HTTP.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(config.Store.Backend, config.StorePath())
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeInvalidValue, "opening "+config.Store.Backend+" store", err)
	}
	log.Debugf("Opened %s store at %s", config.Store.Backend, config.StorePath())

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	return NewEnvironment(config, backend, client, log), nil
}

// NewEnvironment assembles an Environment from already opened parts.
func NewEnvironment(config *configs.Config, backend storage.Backend, client *http.Client, log logger.Logger) *Environment {
	provider := primitives.New()
	return &Environment{
		Config:   config,
		Backend:  backend,
		Store:    profiles.NewStore(backend, provider, log),
		Provider: provider,
		HTTP:     client,
		Log:      log,
	}
}

// Close releases the storage backend.
func (e *Environment) Close() error {
	return e.Backend.Close()
}

// Scope is the configured profile scope.
func (e *Environment) Scope() profiles.Scope {
	return e.Config.Scope()
}

func (e *Environment) enroller() *enrollment.Enroller {
	return enrollment.New(e.HTTP, e.Provider, e.Store, e.Backend, e.Log)
}

// session loads the active profile for the configured scope.
func (e *Environment) session(ctx context.Context, userAuth string) (*profiles.Session, error) {
	if userAuth == "" {
		return nil, kerrors.New(kerrors.CodeBadRequest, "user credential is required")
	}
	return e.Store.LoadSession(ctx, e.Scope(), userAuth)
}

// keyService returns a key service bound to the active profile.
func (e *Environment) keyService(ctx context.Context, userAuth string) (*keys.Service, *profiles.DeviceProfile, error) {
	session, err := e.session(ctx, userAuth)
	if err != nil {
		return nil, nil, err
	}
	profile, err := session.ActiveProfile()
	if err != nil {
		return nil, nil, err
	}
	client := envelope.NewClient(session, e.HTTP, e.Provider, e.Log)
	return keys.NewService(client, e.Log), profile, nil
}

func (e *Environment) chunkCipher(ctx context.Context, userAuth string) (*chunk.Cipher, error) {
	svc, _, err := e.keyService(ctx, userAuth)
	if err != nil {
		return nil, err
	}
	return chunk.NewCipher(svc, e.Provider, e.Log), nil
}

func (e *Environment) fileCipher(ctx context.Context, userAuth string) (*filecipher.Cipher, error) {
	svc, _, err := e.keyService(ctx, userAuth)
	if err != nil {
		return nil, err
	}
	return filecipher.NewCipher(svc, e.Provider, e.Log), nil
}
