package workflows

import (
	"context"

	"github.com/PolarWolf314/keyward/internal/chunk"
	"github.com/PolarWolf314/keyward/internal/keys"
)

// ChunkOptions configures the chunk workflows.
type ChunkOptions struct {
	UserAuth string

	// Version is v1 or v2 (default) when encrypting.
	Version string

	// Tag reuses an existing key when encrypting.
	Tag               string
	Attributes        keys.Attributes
	MutableAttributes keys.Attributes
	Metadata          map[string]any
}

// EncryptChunk encrypts a short string into a chunk.
//
// Returns ErrInvalidValue for an unknown chunk version.
// Returns ErrChunkError if the key cannot be obtained or used.
func EncryptChunk(ctx context.Context, env *Environment, plaintext string, opts ChunkOptions) (string, error) {
	cipher, err := env.chunkCipher(ctx, opts.UserAuth)
	if err != nil {
		return "", err
	}
	return cipher.EncryptString(ctx, plaintext, chunk.EncryptOptions{
		Version:           opts.Version,
		Tag:               opts.Tag,
		Attributes:        opts.Attributes,
		MutableAttributes: opts.MutableAttributes,
		Metadata:          opts.Metadata,
	})
}

// DecryptChunk recovers the plaintext of a chunk.
//
// Returns ErrChunkError if the chunk is malformed or its key unavailable.
func DecryptChunk(ctx context.Context, env *Environment, encoded string, opts ChunkOptions) (string, error) {
	// Reject malformed input before touching the profile store.
	if _, err := chunk.Decode(encoded); err != nil {
		return "", err
	}
	cipher, err := env.chunkCipher(ctx, opts.UserAuth)
	if err != nil {
		return "", err
	}
	return cipher.DecryptString(ctx, encoded, opts.Metadata)
}
