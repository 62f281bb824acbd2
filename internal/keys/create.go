package keys

import (
	"context"
	"strings"

	"github.com/PolarWolf314/keyward/internal/envelope"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
)

// CreateRequest describes a batch of keys to create.
type CreateRequest struct {
	// Quantity is 1..1000. Zero means 1.
	Quantity int
	// Ref defaults to "default".
	Ref string
	// Encoding defaults to hex.
	Encoding          string
	Attributes        Attributes
	MutableAttributes Attributes
	Metadata          map[string]any
}

type createSpec struct {
	Qty    int    `json:"qty"`
	Ref    string `json:"ref"`
	Cattrs string `json:"cattrs"`
	Csig   string `json:"csig"`
	Mattrs string `json:"mattrs"`
	Msig   string `json:"msig"`
}

type createBody struct {
	Keys []createSpec `json:"protection-keys"`
}

type createdKey struct {
	ID  string `json:"id"`
	Ref string `json:"ref"`
	Key string `json:"key"`
}

type createReply struct {
	Keys []createdKey `json:"protection-keys"`
}

// CreateKeys creates new protection keys.
//
// Returns ErrBadRequest if the quantity, ref or encoding is invalid.
// Returns ErrKeyDenied if the service returns no keys.
// Returns ErrKeyValidationFailure if a returned key fails authentication.
func (s *Service) CreateKeys(ctx context.Context, req CreateRequest) ([]Key, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 || req.Quantity > MaxQuantity {
		return nil, kerrors.New(kerrors.CodeBadRequest, "quantity must be between 1 and %d, got %d", MaxQuantity, req.Quantity)
	}
	if req.Ref == "" {
		req.Ref = DefaultRef
	}
	encoding, err := ParseEncoding(req.Encoding)
	if err != nil {
		return nil, err
	}

	profile, kaKey, err := s.profileKeys()
	if err != nil {
		return nil, err
	}
	cid, err := s.sender.NewCID()
	if err != nil {
		return nil, err
	}

	p := s.sender.Provider()
	cattrs, csig, err := SignAttributes(p, kaKey, cid, req.Ref, req.Attributes, false)
	if err != nil {
		return nil, err
	}
	mattrs, msig, err := SignAttributes(p, kaKey, cid, req.Ref, req.MutableAttributes, true)
	if err != nil {
		return nil, err
	}

	body := createBody{Keys: []createSpec{{
		Qty:    req.Quantity,
		Ref:    req.Ref,
		Cattrs: cattrs,
		Csig:   csig,
		Mattrs: mattrs,
		Msig:   msig,
	}}}

	s.log.Debugf("Requesting %d keys with ref %s", req.Quantity, req.Ref)
	resp, err := s.sender.Send(ctx, endpoint(profile, "/v2.4/keys/create"), body, envelope.Options{
		CID:      cid,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeRequestFailed, "creating keys", err)
	}

	var reply createReply
	if err := resp.DecodeData(&reply); err != nil {
		return nil, err
	}
	if len(reply.Keys) == 0 {
		return nil, kerrors.New(kerrors.CodeKeyDenied, "service returned no keys")
	}

	out := make([]Key, 0, len(reply.Keys))
	for _, k := range reply.Keys {
		ref := k.Ref
		if ref == "" {
			ref = req.Ref
		}
		aad := strings.Join([]string{cid, ref, k.ID, csig, msig}, ":")
		raw, err := s.unwrapKey(kaKey, k.Key, aad)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeKeyValidationFailure, "key "+k.ID, err)
		}
		out = append(out, Key{KeyID: k.ID, Key: encoding.Encode(raw), Bytes: raw})
	}

	s.log.Infof("Created %d keys", len(out))
	return out, nil
}
