// Package chunk encrypts short payloads into self-describing text chunks.
//
// A chunk names the key that protects it (the tag) and carries the IV and
// AES-256-CTR ciphertext in base64:
//
//	v1: ~!<tag>~fEc!<base64(iv||ct)>!cEf
//	v2: ~!2!<tag>!<base64(iv||ct)>!
package chunk

import (
	"encoding/base64"
	"strings"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/primitives"
)

const (
	v1Marker     = "~fEc!"
	v1Terminator = "!cEf"
)

// Record is a decoded chunk.
type Record struct {
	Tag        string
	IV         []byte
	Ciphertext []byte
}

func payload(iv, ct []byte) string {
	return base64.StdEncoding.EncodeToString(append(append([]byte(nil), iv...), ct...))
}

// EncodeV1 renders a v1 chunk.
func EncodeV1(tag string, iv, ct []byte) string {
	return "~!" + tag + "~fEc!" + payload(iv, ct) + v1Terminator
}

// EncodeV2 renders a v2 chunk.
func EncodeV2(tag string, iv, ct []byte) string {
	return "~!2!" + tag + "!" + payload(iv, ct) + "!"
}

// IsV1 reports whether s uses the v1 layout.
func IsV1(s string) bool {
	return strings.Contains(s, v1Marker)
}

// Decode parses a v1 or v2 chunk.
//
// Returns ErrChunkError if s is not a well-formed chunk.
func Decode(s string) (*Record, error) {
	if IsV1(s) {
		return DecodeV1(s)
	}
	return DecodeV2(s)
}

// DecodeV1 parses a v1 chunk.
func DecodeV1(s string) (*Record, error) {
	invalid := kerrors.New(kerrors.CodeChunkError, "invalid v1 format string: %s", s)
	if !strings.HasSuffix(s, v1Terminator) {
		return nil, invalid
	}
	stripped := strings.Replace(strings.TrimSuffix(s, "cEf"), "~fEc", "", 1)
	parts := strings.Split(stripped, "!")
	if len(parts) != 4 || parts[0] != "~" || parts[3] != "" {
		return nil, invalid
	}
	return record(s, parts[1], parts[2])
}

// DecodeV2 parses a v2 chunk.
func DecodeV2(s string) (*Record, error) {
	parts := strings.Split(s, "!")
	if len(parts) != 5 || parts[0] != "~" || parts[1] != "2" || parts[4] != "" {
		return nil, kerrors.New(kerrors.CodeChunkError, "invalid v2 format string: %s", s)
	}
	return record(s, parts[2], parts[3])
}

func record(s, tag, encoded string) (*Record, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeChunkError, "invalid chunk payload in "+s, err)
	}
	if len(data) < primitives.IVSize {
		return nil, kerrors.New(kerrors.CodeChunkError, "chunk payload shorter than an IV: %s", s)
	}
	return &Record{
		Tag:        tag,
		IV:         data[:primitives.IVSize],
		Ciphertext: data[primitives.IVSize:],
	}, nil
}
