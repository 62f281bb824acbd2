package filecipher

import (
	"context"
	"crypto/hmac"
	"runtime"

	"golang.org/x/sync/errgroup"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/keys"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
)

// KeySource fetches a key by tag or creates one. *keys.Service satisfies it.
type KeySource interface {
	Key(ctx context.Context, req keys.KeyRequest) (*keys.Material, error)
}

// Cipher encrypts and decrypts file containers.
type Cipher struct {
	keys        KeySource
	provider    primitives.Provider
	log         logger.Logger
	segmentSize int
}

// NewCipher returns a Cipher drawing keys from src.
func NewCipher(src KeySource, provider primitives.Provider, log logger.Logger) *Cipher {
	if provider == nil {
		provider = primitives.New()
	}
	return &Cipher{keys: src, provider: provider, log: log, segmentSize: SegmentSize}
}

// EncryptOptions controls the key created for a file.
type EncryptOptions struct {
	Family            string
	Attributes        keys.Attributes
	MutableAttributes keys.Attributes
	Metadata          map[string]any
}

type segment struct {
	iv   []byte
	data []byte
	mac  []byte
}

// Encrypt creates a key and returns plaintext as a version 1.2 container.
func (c *Cipher) Encrypt(ctx context.Context, plaintext []byte, opts EncryptOptions) ([]byte, error) {
	material, err := c.keys.Key(ctx, keys.KeyRequest{
		Attributes:        opts.Attributes,
		MutableAttributes: opts.MutableAttributes,
		Metadata:          opts.Metadata,
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "creating file key", err)
	}

	header, err := Header{
		Family:  FamilyGeneric,
		Version: Version,
		Tag:     material.Tag,
		Server:  material.Server,
	}.marshal()
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "encoding file header", err)
	}
	if opts.Family != "" && opts.Family != FamilyGeneric {
		c.log.Debugf("Unsupported family %q, using %s", opts.Family, FamilyGeneric)
	}

	count := SegmentCount(len(plaintext), c.segmentSize)
	segments := make([]segment, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < count; i++ {
		start := i * c.segmentSize
		end := min(start+c.segmentSize, len(plaintext))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			iv, err := c.provider.RandomBytes(primitives.IVSize)
			if err != nil {
				return err
			}
			ct, err := c.provider.CTR(material.Key, iv, plaintext[start:end])
			if err != nil {
				return err
			}
			segments[i] = segment{iv: iv, data: ct, mac: c.provider.HMAC(material.Key, plaintext[start:end])}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "encrypting file segments", err)
	}

	digestIV, err := c.provider.RandomBytes(primitives.IVSize)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "generating digest iv", err)
	}
	digest, err := c.provider.CTR(material.Key, digestIV, c.digest(material.Key, segments))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "encrypting file digest", err)
	}

	size := len(header) + len(digestIV) + len(digest) + len(plaintext) + count*primitives.IVSize
	out := make([]byte, 0, size)
	out = append(out, header...)
	out = append(out, digestIV...)
	out = append(out, digest...)
	for _, s := range segments {
		out = append(out, s.iv...)
		out = append(out, s.data...)
	}

	c.log.Debugf("Encrypted %d bytes in %d segments under key %s", len(plaintext), count, material.Tag)
	return out, nil
}

// Decrypt returns the plaintext of a container, verifying its digest.
//
// Returns ErrParseFailed if data is not a container.
// Returns ErrCryptoError if the digest does not match the decrypted content.
func (c *Cipher) Decrypt(ctx context.Context, data []byte, metadata map[string]any) ([]byte, error) {
	container, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.log.Debugf("File header: family=%s version=%s tag=%s", container.Header.Family, container.Header.Version, container.Header.Tag)

	material, err := c.keys.Key(ctx, keys.KeyRequest{Tag: container.Header.Tag, Metadata: metadata})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "fetching file key "+container.Header.Tag, err)
	}

	stride := c.segmentSize + primitives.IVSize
	body := container.SegmentBytes
	count := SegmentCount(len(body), stride)
	if count > 0 && len(body)-(count-1)*stride < primitives.IVSize {
		return nil, kerrors.New(kerrors.CodeParseFailed, "last segment is shorter than an iv")
	}
	segments := make([]segment, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < count; i++ {
		raw := body[i*stride : min((i+1)*stride, len(body))]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pt, err := c.provider.CTR(material.Key, raw[:primitives.IVSize], raw[primitives.IVSize:])
			if err != nil {
				return err
			}
			segments[i] = segment{data: pt, mac: c.provider.HMAC(material.Key, pt)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "decrypting file segments", err)
	}

	stored, err := c.provider.CTR(material.Key, container.DigestIV, container.Digest)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "decrypting file digest", err)
	}
	if !hmac.Equal(stored, c.digest(material.Key, segments)) {
		return nil, kerrors.New(kerrors.CodeCryptoError, "file digest mismatch")
	}

	out := make([]byte, 0, len(body)-count*primitives.IVSize)
	for _, s := range segments {
		out = append(out, s.data...)
	}
	return out, nil
}

func (c *Cipher) digest(key []byte, segments []segment) []byte {
	macs := make([]byte, 0, len(segments)*DigestSize)
	for _, s := range segments {
		macs = append(macs, s.mac...)
	}
	return c.provider.HMAC(key, macs)
}
