package enrollment

import (
	"crypto/rsa"
	"encoding/base64"
	"strings"

	"github.com/PolarWolf314/keyward/internal/primitives"
)

// parseServerKey accepts base64 SPKI DER or base64 of the base64 text.
func parseServerKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, err
	}
	pub, err := primitives.ParsePublicKey(der)
	if err == nil {
		return pub, nil
	}

	inner, innerErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(der)))
	if innerErr != nil {
		return nil, err
	}
	return primitives.ParsePublicKey(inner)
}
