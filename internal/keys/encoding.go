package keys

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
)

// Encoding selects how key bytes are rendered in results.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
	EncodingUTF8   Encoding = "utf-8"
	EncodingASCII  Encoding = "ascii"
)

// ParseEncoding validates e, defaulting the empty value to hex.
func ParseEncoding(e string) (Encoding, error) {
	switch Encoding(e) {
	case "":
		return EncodingHex, nil
	case EncodingHex, EncodingBase64, EncodingUTF8, EncodingASCII:
		return Encoding(e), nil
	default:
		return "", kerrors.New(kerrors.CodeBadRequest, "key encoding must be one of hex, base64, utf-8, ascii; got %q", e)
	}
}

// Encode renders key bytes. ascii clears the high bit of every byte and
// utf-8 replaces each maximal invalid subsequence with one U+FFFD, the way
// a WHATWG UTF-8 decoder does.
func (e Encoding) Encode(b []byte) string {
	switch e {
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(b)
	case EncodingUTF8:
		return decodeUTF8(b)
	case EncodingASCII:
		out := make([]byte, len(b))
		for i, c := range b {
			out[i] = c & 0x7f
		}
		return string(out)
	default:
		return hex.EncodeToString(b)
	}
}

func decodeUTF8(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			sb.WriteRune(utf8.RuneError)
			b = b[invalidPrefixLen(b):]
			continue
		}
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// invalidPrefixLen returns how many bytes of an invalid sequence at the start
// of b form the lead byte plus the continuation bytes it still accepts.
func invalidPrefixLen(b []byte) int {
	need := 0
	lo, hi := byte(0x80), byte(0xbf)
	switch lead := b[0]; {
	case lead >= 0xc2 && lead <= 0xdf:
		need = 1
	case lead == 0xe0:
		need, lo = 2, 0xa0
	case lead == 0xed:
		need, hi = 2, 0x9f
	case lead >= 0xe1 && lead <= 0xef:
		need = 2
	case lead == 0xf0:
		need, lo = 3, 0x90
	case lead == 0xf4:
		need, hi = 3, 0x8f
	case lead >= 0xf1 && lead <= 0xf3:
		need = 3
	default:
		return 1
	}
	n := 1
	for n <= need && n < len(b) {
		c := b[n]
		if n > 1 {
			lo, hi = 0x80, 0xbf
		}
		if c < lo || c > hi {
			break
		}
		n++
	}
	return n
}
