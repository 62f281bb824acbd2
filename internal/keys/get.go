package keys

import (
	"context"
	"strings"

	"github.com/PolarWolf314/keyward/internal/envelope"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
)

type fetchBody struct {
	IDs []string `json:"protection-keys"`
}

type fetchedKey struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Cattrs string `json:"cattrs"`
	Csig   string `json:"csig"`
	Mattrs string `json:"mattrs"`
	Msig   string `json:"msig"`
}

type fetchReply struct {
	Keys []fetchedKey `json:"protection-keys"`
}

// GetResult holds fetched keys and per-key failures.
type GetResult struct {
	Keys     []Key
	ErrorMap kerrors.ErrorMap
}

// GetKeys fetches keys by id and verifies their attributes.
//
// Returns ErrBadRequest if ids is empty, contains an empty id, or the
// encoding is unsupported.
// Returns ErrKeyDenied if the service returns no keys.
//
// Keys that fail authentication or signature checks, and requested ids the
// service did not return, are reported in ErrorMap.
func (s *Service) GetKeys(ctx context.Context, ids []string, encodingName string, metadata map[string]any) (*GetResult, error) {
	if len(ids) == 0 {
		return nil, kerrors.New(kerrors.CodeBadRequest, "at least one key id is required")
	}
	for i, id := range ids {
		if id == "" {
			return nil, kerrors.New(kerrors.CodeBadRequest, "key id %d is not properly formatted", i)
		}
	}
	encoding, err := ParseEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	profile, kaKey, err := s.profileKeys()
	if err != nil {
		return nil, err
	}

	resp, err := s.sender.Send(ctx, endpoint(profile, "/v2.4/keys/fetch"), fetchBody{IDs: ids}, envelope.Options{
		Metadata: metadata,
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeRequestFailed, "fetching keys", err)
	}

	var reply fetchReply
	if err := resp.DecodeData(&reply); err != nil {
		return nil, err
	}
	if len(reply.Keys) == 0 {
		return nil, kerrors.New(kerrors.CodeKeyDenied, "service returned no keys")
	}

	result := &GetResult{ErrorMap: kerrors.ErrorMap{}}
	seen := make(map[string]bool, len(reply.Keys))
	for _, k := range reply.Keys {
		seen[k.ID] = true
		key, err := s.openFetched(kaKey, resp.RequestCID, k, encoding)
		if err != nil {
			s.log.Warnf("Key %s failed validation: %v", k.ID, err)
			result.ErrorMap[k.ID] = kerrors.From(err)
			continue
		}
		result.Keys = append(result.Keys, *key)
	}
	for _, id := range ids {
		if !seen[id] {
			result.ErrorMap.Add(id, kerrors.CodeKeyDenied, "key %s was not returned", id)
		}
	}

	s.log.Infof("Fetched %d of %d keys", len(result.Keys), len(ids))
	return result, nil
}

func (s *Service) openFetched(kaKey []byte, requestCID string, k fetchedKey, encoding Encoding) (*Key, error) {
	aad := []string{requestCID, k.ID}
	if k.Csig != "" {
		aad = append(aad, k.Csig)
	}
	if k.Msig != "" {
		aad = append(aad, k.Msig)
	}
	raw, err := s.unwrapKey(kaKey, k.Key, strings.Join(aad, ":"))
	if err != nil {
		return nil, err
	}

	p := s.sender.Provider()
	if err := VerifyAttributes(p, raw, k.Cattrs, k.Csig); err != nil {
		return nil, err
	}
	if err := VerifyAttributes(p, raw, k.Mattrs, k.Msig); err != nil {
		return nil, err
	}
	cattrs, err := DecryptAttributes(p, raw, k.ID, k.Cattrs)
	if err != nil {
		return nil, err
	}
	mattrs, err := DecryptAttributes(p, raw, k.ID, k.Mattrs)
	if err != nil {
		return nil, err
	}

	return &Key{
		KeyID:             k.ID,
		Key:               encoding.Encode(raw),
		Bytes:             raw,
		Attributes:        cattrs,
		MutableAttributes: mattrs,
	}, nil
}
