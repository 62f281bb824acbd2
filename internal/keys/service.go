package keys

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/PolarWolf314/keyward/internal/envelope"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/profiles"
)

const (
	// DefaultRef is the key reference used when none is given.
	DefaultRef = "default"
	// MaxQuantity is the largest number of keys one create call may request.
	MaxQuantity = 1000
)

// Sender sends enveloped requests for the active profile.
// *envelope.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, url string, data any, opts envelope.Options) (*envelope.Response, error)
	NewCID() (string, error)
	Profile() (*profiles.DeviceProfile, error)
	Provider() primitives.Provider
}

// Service talks to the key lifecycle endpoints.
type Service struct {
	sender Sender
	log    logger.Logger
}

// NewService returns a Service sending through sender.
func NewService(sender Sender, log logger.Logger) *Service {
	return &Service{sender: sender, log: log}
}

// Key is a decrypted protection key.
type Key struct {
	KeyID string `json:"keyId"`
	// Key is the key rendered in the requested encoding.
	Key string `json:"key"`
	// Bytes is the raw key.
	Bytes []byte `json:"-"`

	Attributes        map[string]string `json:"attributes,omitempty"`
	MutableAttributes map[string]string `json:"mutableAttributes,omitempty"`
}

func (s *Service) profileKeys() (*profiles.DeviceProfile, []byte, error) {
	profile, err := s.sender.Profile()
	if err != nil {
		return nil, nil, err
	}
	kaKey, err := profile.KAKeyBytes()
	if err != nil {
		return nil, nil, kerrors.Wrap(kerrors.CodeCryptoError, "loading key authentication key", err)
	}
	return profile, kaKey, nil
}

// unwrapKey decodes hex(iv||ct||tag) and opens it under kaKey with aad.
func (s *Service) unwrapKey(kaKey []byte, encoded, aad string) ([]byte, error) {
	packed, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "decoding key", err)
	}
	key, err := primitives.OpenPacked(s.sender.Provider(), kaKey, packed, []byte(aad))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeKeyValidationFailure, "decrypting key", err)
	}
	return key, nil
}

func endpoint(profile *profiles.DeviceProfile, path string) string {
	return strings.TrimRight(profile.Server, "/") + path
}
