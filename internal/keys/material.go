package keys

import (
	"context"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
)

// KeyRequest asks for key material by tag, or for a new key when Tag is empty.
type KeyRequest struct {
	Tag               string
	Attributes        Attributes
	MutableAttributes Attributes
	Metadata          map[string]any
}

// Material is raw key bytes with the tag that names them.
type Material struct {
	Tag    string
	Key    []byte
	Server string
}

// Key returns the key named by req.Tag, or creates one key when Tag is
// empty.
//
// Returns ErrInvalidKey if the tagged key cannot be fetched.
func (s *Service) Key(ctx context.Context, req KeyRequest) (*Material, error) {
	profile, err := s.sender.Profile()
	if err != nil {
		return nil, err
	}

	if req.Tag != "" {
		res, err := s.GetKeys(ctx, []string{req.Tag}, string(EncodingHex), req.Metadata)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeInvalidKey, "fetching key "+req.Tag, err)
		}
		if len(res.Keys) == 0 {
			if keyErr, ok := res.ErrorMap[req.Tag]; ok {
				return nil, keyErr
			}
			return nil, kerrors.New(kerrors.CodeInvalidKey, "key %s was not returned", req.Tag)
		}
		return &Material{Tag: req.Tag, Key: res.Keys[0].Bytes, Server: profile.Server}, nil
	}

	created, err := s.CreateKeys(ctx, CreateRequest{
		Quantity:          1,
		Attributes:        req.Attributes,
		MutableAttributes: req.MutableAttributes,
		Metadata:          req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return &Material{Tag: created[0].KeyID, Key: created[0].Bytes, Server: profile.Server}, nil
}
