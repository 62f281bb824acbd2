package chunk

import (
	"context"
	"strings"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/keys"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
)

// Version selects the chunk layout.
type Version string

const (
	V1 Version = "v1"
	V2 Version = "v2"
)

// ParseVersion accepts v1 or v2 in any case; empty means v2.
func ParseVersion(v string) (Version, error) {
	switch Version(strings.ToLower(v)) {
	case "", V2:
		return V2, nil
	case V1:
		return V1, nil
	default:
		return "", kerrors.New(kerrors.CodeInvalidValue, "invalid cipher version %q", v)
	}
}

// KeySource fetches a key by tag or creates one. *keys.Service satisfies it.
type KeySource interface {
	Key(ctx context.Context, req keys.KeyRequest) (*keys.Material, error)
}

// Cipher encrypts and decrypts chunks.
type Cipher struct {
	keys     KeySource
	provider primitives.Provider
	log      logger.Logger
}

// NewCipher returns a Cipher drawing keys from src.
func NewCipher(src KeySource, provider primitives.Provider, log logger.Logger) *Cipher {
	if provider == nil {
		provider = primitives.New()
	}
	return &Cipher{keys: src, provider: provider, log: log}
}

// EncryptOptions controls chunk encryption. When Tag is set the existing key
// is used; otherwise a new key is created with the given attributes.
type EncryptOptions struct {
	Version           string
	Tag               string
	Attributes        keys.Attributes
	MutableAttributes keys.Attributes
	Metadata          map[string]any
}

// Encrypt protects plaintext and returns the chunk string.
//
// Returns ErrInvalidValue for an unknown version.
// Other failures are ErrChunkError unless a more specific code applies.
func (c *Cipher) Encrypt(ctx context.Context, plaintext []byte, opts EncryptOptions) (string, error) {
	version, err := ParseVersion(opts.Version)
	if err != nil {
		return "", err
	}

	material, err := c.keys.Key(ctx, keys.KeyRequest{
		Tag:               opts.Tag,
		Attributes:        opts.Attributes,
		MutableAttributes: opts.MutableAttributes,
		Metadata:          opts.Metadata,
	})
	if err != nil {
		return "", kerrors.Wrap(kerrors.CodeChunkError, "obtaining chunk key", err)
	}
	if material.Tag == "" || len(material.Key) == 0 {
		return "", kerrors.New(kerrors.CodeChunkError, "key service returned empty key material")
	}

	iv, err := c.provider.RandomBytes(primitives.IVSize)
	if err != nil {
		return "", kerrors.Wrap(kerrors.CodeChunkError, "generating iv", err)
	}
	ct, err := c.provider.CTR(material.Key, iv, plaintext)
	if err != nil {
		return "", kerrors.Wrap(kerrors.CodeChunkError, "encrypting chunk", err)
	}

	c.log.Debugf("Encrypted %d bytes under key %s (%s)", len(plaintext), material.Tag, version)
	if version == V1 {
		return EncodeV1(material.Tag, iv, ct), nil
	}
	return EncodeV2(material.Tag, iv, ct), nil
}

// EncryptString is Encrypt for text payloads.
func (c *Cipher) EncryptString(ctx context.Context, plaintext string, opts EncryptOptions) (string, error) {
	return c.Encrypt(ctx, []byte(plaintext), opts)
}

// Decrypt recovers the plaintext of a chunk.
//
// Returns ErrChunkError if the chunk is malformed or its key is unavailable.
func (c *Cipher) Decrypt(ctx context.Context, chunk string, metadata map[string]any) ([]byte, error) {
	rec, err := Decode(chunk)
	if err != nil {
		return nil, err
	}

	material, err := c.keys.Key(ctx, keys.KeyRequest{Tag: rec.Tag, Metadata: metadata})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeChunkError, "fetching chunk key "+rec.Tag, err)
	}
	pt, err := c.provider.CTR(material.Key, rec.IV, rec.Ciphertext)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeChunkError, "decrypting chunk", err)
	}
	return pt, nil
}

// DecryptString is Decrypt for text payloads.
func (c *Cipher) DecryptString(ctx context.Context, chunk string, metadata map[string]any) (string, error) {
	pt, err := c.Decrypt(ctx, chunk, metadata)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
