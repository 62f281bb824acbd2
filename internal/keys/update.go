package keys

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/PolarWolf314/keyward/internal/envelope"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
)

// UpdateRequest replaces the mutable attributes of one key. Either Force
// must be set or both previous signatures must be supplied.
type UpdateRequest struct {
	KeyID             string
	Force             bool
	PrevCsig          string
	PrevMsig          string
	MutableAttributes Attributes
}

type modifySpec struct {
	ID       string `json:"id"`
	PrevCsig string `json:"prevcsig"`
	PrevMsig string `json:"prevmsig"`
	Force    bool   `json:"force"`
	Mattrs   string `json:"mattrs"`
	Msig     string `json:"msig"`
}

type modifyBody struct {
	Keys []modifySpec `json:"protection-keys"`
}

type modifiedKey struct {
	ID   string `json:"id"`
	Sigs string `json:"sigs"`
}

type modifyReply struct {
	Keys     []modifiedKey                   `json:"protection-keys"`
	ErrorMap map[string]envelope.ServerError `json:"errorMap"`
}

// UpdatedKey is a key whose mutable attributes were replaced.
type UpdatedKey struct {
	KeyID  string `json:"keyId"`
	Mattrs string `json:"mattrs"`
	Msig   string `json:"msig"`
}

// UpdateResult holds updated keys and per-key failures.
type UpdateResult struct {
	Keys     []UpdatedKey
	ErrorMap kerrors.ErrorMap
}

// UpdateKeys replaces mutable attributes on existing keys.
//
// Invalid requests, and repeats of a key id already requested, are rejected
// individually into ErrorMap with BAD_REQUEST. Returns ErrBadRequest if no request is valid.
// Returns ErrKeyDenied if the service neither updates nor rejects any key.
//
// Server-side rejections and responses whose signature does not verify are
// reported in ErrorMap. Responses are matched to requests by key id.
func (s *Service) UpdateKeys(ctx context.Context, requests []UpdateRequest, metadata map[string]any) (*UpdateResult, error) {
	if len(requests) == 0 {
		return nil, kerrors.New(kerrors.CodeBadRequest, "at least one key request is required")
	}

	result := &UpdateResult{ErrorMap: kerrors.ErrorMap{}}
	valid := make([]UpdateRequest, 0, len(requests))
	seen := make(map[string]bool, len(requests))
	for i, req := range requests {
		switch {
		case req.KeyID == "":
			result.ErrorMap.Add(fmt.Sprintf("request[%d]", i), kerrors.CodeBadRequest, "key id is not properly formatted")
		case seen[req.KeyID]:
			result.ErrorMap.Add(fmt.Sprintf("request[%d]", i), kerrors.CodeBadRequest, "key %s is already updated by an earlier request", req.KeyID)
		case !req.Force && (req.PrevCsig == "" || req.PrevMsig == ""):
			result.ErrorMap.Add(req.KeyID, kerrors.CodeBadRequest, "force or both previous signatures are required")
		default:
			seen[req.KeyID] = true
			valid = append(valid, req)
		}
	}
	if len(valid) == 0 {
		return result, kerrors.New(kerrors.CodeBadRequest, "no valid key requests")
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
	sent := make(map[string]modifySpec, len(valid))
	body := modifyBody{Keys: make([]modifySpec, 0, len(valid))}
	for _, req := range valid {
		ref := req.KeyID
		if req.Force {
			ref += forceSuffix
		}
		mattrs, msig, err := SignAttributes(p, kaKey, cid, ref, req.MutableAttributes, true)
		if err != nil {
			return nil, err
		}
		spec := modifySpec{
			ID:       req.KeyID,
			PrevCsig: req.PrevCsig,
			PrevMsig: req.PrevMsig,
			Force:    req.Force,
			Mattrs:   mattrs,
			Msig:     msig,
		}
		sent[req.KeyID] = spec
		body.Keys = append(body.Keys, spec)
	}

	resp, err := s.sender.Send(ctx, endpoint(profile, "/v2.4/keys/modify"), body, envelope.Options{
		CID:      cid,
		Metadata: metadata,
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeRequestFailed, "updating keys", err)
	}

	var reply modifyReply
	if err := resp.DecodeData(&reply); err != nil {
		return nil, err
	}
	for id, serverErr := range reply.ErrorMap {
		code := kerrors.FromServer(serverErr.Code, kerrors.CodeKeyDenied)
		result.ErrorMap.Add(id, code, "server error %d: %s", serverErr.Code, serverErr.Message)
	}
	if len(reply.Keys) == 0 && len(reply.ErrorMap) == 0 {
		return nil, kerrors.New(kerrors.CodeKeyDenied, "service returned no keys")
	}

	for _, k := range reply.Keys {
		spec, ok := sent[k.ID]
		if !ok {
			result.ErrorMap.Add(k.ID, kerrors.CodeBadResponse, "service returned unrequested key")
			continue
		}
		expected := k.ID + ":" + strings.Join([]string{spec.PrevCsig, "", spec.PrevMsig, spec.Msig}, ",")
		want := p.HMAC(kaKey, []byte(expected))
		got, err := base64.StdEncoding.DecodeString(k.Sigs)
		if err != nil || !hmac.Equal(got, want) {
			s.log.Warnf("Key %s returned a signature that does not verify", k.ID)
			result.ErrorMap.Add(k.ID, kerrors.CodeKeyValidationFailure, "signature mismatch while verifying server response")
			continue
		}
		result.Keys = append(result.Keys, UpdatedKey{KeyID: k.ID, Mattrs: spec.Mattrs, Msig: spec.Msig})
	}

	s.log.Infof("Updated %d keys, %d failed", len(result.Keys), len(result.ErrorMap))
	return result, nil
}
