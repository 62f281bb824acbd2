package keys

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"strings"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/primitives"
)

// Attributes map attribute names to their values.
type Attributes map[string][]string

const (
	protectedPrefix = "ionic-protected-"
	integrityHash   = "ionic-integrity-hash"
	mutablePrefix   = "m:"
	forceSuffix     = ":force"
)

// IsProtected reports whether the named attribute holds an encrypted value.
func IsProtected(name string) bool {
	return strings.HasPrefix(name, protectedPrefix) || name == integrityHash
}

// SignAttributes serializes attrs and signs them for the conversation cid.
// The signing key is HMAC-SHA256(kaKey, cid + ":" + context) where context
// is ref, prefixed with "m:" for mutable attributes. Empty attributes yield
// an empty JSON string and an empty signature.
func SignAttributes(p primitives.Provider, kaKey []byte, cid, ref string, attrs Attributes, mutable bool) (string, string, error) {
	if len(attrs) == 0 {
		return "", "", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", "", kerrors.Wrap(kerrors.CodeBadRequest, "encoding attributes", err)
	}

	label := ref
	if mutable {
		label = mutablePrefix + ref
	}
	signingKey := p.HMAC(kaKey, []byte(cid+":"+label))
	sig := p.HMAC(signingKey, data)
	return string(data), base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyAttributes checks sig == base64(HMAC-SHA256(key, attrsJSON)).
//
// Returns ErrMissingValue if attributes are present without a signature.
// Returns ErrKeyValidationFailure if the signature does not match.
func VerifyAttributes(p primitives.Provider, key []byte, attrsJSON, sig string) error {
	if sig == "" {
		if attrsJSON == "" {
			return nil
		}
		return kerrors.New(kerrors.CodeMissingValue, "attributes present without a signature")
	}
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return kerrors.Wrap(kerrors.CodeKeyValidationFailure, "decoding attribute signature", err)
	}
	if !hmac.Equal(got, p.HMAC(key, []byte(attrsJSON))) {
		return kerrors.New(kerrors.CodeKeyValidationFailure, "signatures do not match")
	}
	return nil
}

// DecryptAttributes renders verified attribute JSON as strings. Protected
// values are AES-GCM ciphertexts under key with the key id as additional
// data; all other values are re-serialized as JSON.
func DecryptAttributes(p primitives.Provider, key []byte, keyID, attrsJSON string) (map[string]string, error) {
	out := map[string]string{}
	if attrsJSON == "" {
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(attrsJSON), &raw); err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "parsing attributes", err)
	}

	for name, value := range raw {
		if !IsProtected(name) {
			compact, err := json.Marshal(value)
			if err != nil {
				return nil, kerrors.Wrap(kerrors.CodeParseFailed, "encoding attribute "+name, err)
			}
			out[name] = string(compact)
			continue
		}

		var values []string
		if err := json.Unmarshal(value, &values); err != nil || len(values) == 0 {
			return nil, kerrors.New(kerrors.CodeParseFailed, "protected attribute %s has no value", name)
		}
		packed, err := base64.StdEncoding.DecodeString(values[0])
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeParseFailed, "decoding attribute "+name, err)
		}
		plaintext, err := primitives.OpenPacked(p, key, packed, []byte(keyID))
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeCryptoError, "decrypting attribute "+name, err)
		}
		out[name] = string(plaintext)
	}
	return out, nil
}
