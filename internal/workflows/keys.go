package workflows

import (
	"context"
	"sort"

	"github.com/PolarWolf314/keyward/internal/audit"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/keys"
)

// CreateKeysOptions configures the keys create workflow.
type CreateKeysOptions struct {
	UserAuth string
	Request  keys.CreateRequest
}

// CreateKeysResult contains the created keys.
type CreateKeysResult struct {
	Keys []keys.Key `json:"keys"`
}

// CreateKeys creates keys under the active profile.
//
// Returns ErrNoDeviceProfile if no profile is stored for the scope.
// Returns ErrBadRequest if the request is invalid.
func CreateKeys(ctx context.Context, env *Environment, opts CreateKeysOptions) (*CreateKeysResult, error) {
	svc, profile, err := env.keyService(ctx, opts.UserAuth)
	if err != nil {
		return nil, err
	}

	created, err := svc.CreateKeys(ctx, opts.Request)
	if err != nil {
		return nil, err
	}

	entry := audit.ForScope("keys.create", env.Scope())
	entry.DeviceID = profile.DeviceID
	for _, k := range created {
		entry.KeyIDs = append(entry.KeyIDs, k.KeyID)
	}
	audit.Log(entry)

	return &CreateKeysResult{Keys: created}, nil
}

// GetKeysOptions configures the keys get workflow.
type GetKeysOptions struct {
	UserAuth string
	KeyIDs   []string
	Encoding string
	Metadata map[string]any
}

// GetKeysResult contains fetched keys and per-key failures.
type GetKeysResult struct {
	Keys   []keys.Key                `json:"keys"`
	Errors map[string]*kerrors.Error `json:"errorMap,omitempty"`
}

// GetKeys fetches keys by id.
//
// Returns ErrBadRequest if no ids are given.
// Returns ErrKeyDenied if the service returns none of them.
func GetKeys(ctx context.Context, env *Environment, opts GetKeysOptions) (*GetKeysResult, error) {
	svc, _, err := env.keyService(ctx, opts.UserAuth)
	if err != nil {
		return nil, err
	}

	res, err := svc.GetKeys(ctx, opts.KeyIDs, opts.Encoding, opts.Metadata)
	if err != nil {
		return nil, err
	}
	return &GetKeysResult{Keys: res.Keys, Errors: res.ErrorMap}, nil
}

// UpdateKeysOptions configures the keys update workflow.
type UpdateKeysOptions struct {
	UserAuth string
	Requests []keys.UpdateRequest
	Metadata map[string]any
}

// UpdateKeysResult contains updated keys and per-key failures.
type UpdateKeysResult struct {
	Keys   []keys.UpdatedKey         `json:"keys"`
	Errors map[string]*kerrors.Error `json:"errorMap,omitempty"`
}

// UpdateKeys replaces mutable attributes on existing keys.
//
// Returns ErrBadRequest if no request is valid. Per-key failures are
// reported in the result's Errors rather than as an error.
func UpdateKeys(ctx context.Context, env *Environment, opts UpdateKeysOptions) (*UpdateKeysResult, error) {
	svc, profile, err := env.keyService(ctx, opts.UserAuth)
	if err != nil {
		return nil, err
	}

	res, err := svc.UpdateKeys(ctx, opts.Requests, opts.Metadata)
	if res == nil {
		return nil, err
	}
	result := &UpdateKeysResult{Keys: res.Keys, Errors: res.ErrorMap}
	if err != nil {
		return result, err
	}

	entry := audit.ForScope("keys.update", env.Scope())
	entry.DeviceID = profile.DeviceID
	for _, k := range res.Keys {
		entry.KeyIDs = append(entry.KeyIDs, k.KeyID)
	}
	entry.Failed = len(res.ErrorMap)
	audit.Log(entry)

	return result, nil
}

// SortedErrorIDs returns the ids of errs in a stable order for display.
func SortedErrorIDs(errs map[string]*kerrors.Error) []string {
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
