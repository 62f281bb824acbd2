// Package primitives exposes the cryptographic capabilities the key
// protocols depend on behind a single Provider interface.
package primitives

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// IVSize is the IV length for CTR and the nonce length for GCM.
	IVSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// RSABits is the modulus size of ephemeral enrollment keys.
	RSABits = 3072
	// PSSSaltLength is the salt length of enrollment signatures.
	PSSSaltLength = 32
)

// Provider is the set of primitives used by enrollment, envelopes, key
// handling and the codecs.
type Provider interface {
	RandomBytes(n int) ([]byte, error)
	Digest(data []byte) []byte
	HMAC(key, data []byte) []byte

	GenerateRSAKey() (*rsa.PrivateKey, error)
	SignPSS(priv *rsa.PrivateKey, data []byte) ([]byte, error)
	EncryptOAEP(pub *rsa.PublicKey, plaintext []byte) ([]byte, error)
	DecryptOAEP(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error)

	// CTR encrypts or decrypts data with AES-256-CTR.
	CTR(key, iv, data []byte) ([]byte, error)
	// Seal returns ciphertext||tag under AES-256-GCM with a 16-byte nonce.
	Seal(key, iv, plaintext, aad []byte) ([]byte, error)
	// Open reverses Seal.
	Open(key, iv, sealed, aad []byte) ([]byte, error)
}

// Standard implements Provider with the Go standard crypto packages.
type Standard struct {
	// Rand is the entropy source. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// New returns a Standard provider reading from crypto/rand.
func New() *Standard {
	return &Standard{Rand: rand.Reader}
}

func (s *Standard) rand() io.Reader {
	if s.Rand != nil {
		return s.Rand
	}
	return rand.Reader
}

func (s *Standard) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.rand(), b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

func (s *Standard) Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (s *Standard) HMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func (s *Standard) GenerateRSAKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(s.rand(), RSABits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return key, nil
}

func (s *Standard) SignPSS(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(s.rand(), priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: PSSSaltLength,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

func (s *Standard) EncryptOAEP(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha1.New(), s.rand(), pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt with public key: %w", err)
	}
	return ct, nil
}

func (s *Standard) DecryptOAEP(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha1.New(), nil, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt with private key: %w", err)
	}
	return pt, nil
}

func (s *Standard) CTR(key, iv, data []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("invalid IV length %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

func (s *Standard) gcm(key, iv []byte) (cipher.AEAD, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("invalid nonce length %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

func (s *Standard) Seal(key, iv, plaintext, aad []byte) ([]byte, error) {
	aead, err := s.gcm(key, iv)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, aad), nil
}

func (s *Standard) Open(key, iv, sealed, aad []byte) ([]byte, error) {
	aead, err := s.gcm(key, iv)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate ciphertext: %w", err)
	}
	return pt, nil
}

// SealPacked encrypts plaintext under a fresh IV and returns iv||ciphertext||tag.
func SealPacked(p Provider, key, plaintext, aad []byte) ([]byte, error) {
	iv, err := p.RandomBytes(IVSize)
	if err != nil {
		return nil, err
	}
	sealed, err := p.Seal(key, iv, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return append(iv, sealed...), nil
}

// OpenPacked reverses SealPacked.
func OpenPacked(p Provider, key, packed, aad []byte) ([]byte, error) {
	if len(packed) < IVSize+TagSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(packed))
	}
	return p.Open(key, packed[:IVSize], packed[IVSize:], aad)
}

// ParsePublicKey parses a DER SubjectPublicKeyInfo RSA key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPub, nil
}

// MarshalPublicKey returns the DER SubjectPublicKeyInfo of pub.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return der, nil
}
