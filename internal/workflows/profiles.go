package workflows

import (
	"context"

	"github.com/PolarWolf314/keyward/internal/audit"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/profiles"
)

// ProfilesOptions configures the profile workflows.
type ProfilesOptions struct {
	UserAuth string

	// DeviceID selects the profile to activate (UseProfile only).
	DeviceID string
}

// ProfilesResult lists the profiles of the configured scope.
type ProfilesResult struct {
	Profiles []profiles.Summary `json:"profiles"`
	Active   *profiles.Summary  `json:"active,omitempty"`
}

func newProfilesResult(all []profiles.DeviceProfile) *ProfilesResult {
	result := &ProfilesResult{Profiles: profiles.Summarize(all)}
	for i := range result.Profiles {
		if result.Profiles[i].Active {
			result.Active = &result.Profiles[i]
			break
		}
	}
	return result
}

// ListProfiles returns the stored profiles. Missing or undecryptable data
// yields an empty list rather than an error.
//
// Returns ErrBadRequest if the user credential is empty.
func ListProfiles(ctx context.Context, env *Environment, opts ProfilesOptions) (*ProfilesResult, error) {
	if opts.UserAuth == "" {
		return nil, kerrors.New(kerrors.CodeBadRequest, "user credential is required")
	}
	all := env.Store.QueryProfiles(ctx, env.Scope(), opts.UserAuth)
	return newProfilesResult(all), nil
}

// LoadProfiles opens a session on the stored profiles.
//
// Returns ErrNoDeviceProfile if the scope has no profiles.
func LoadProfiles(ctx context.Context, env *Environment, opts ProfilesOptions) (*ProfilesResult, error) {
	session, err := env.session(ctx, opts.UserAuth)
	if err != nil {
		return nil, err
	}
	return newProfilesResult(session.Profiles()), nil
}

// UseProfile makes the profile for opts.DeviceID the active one.
//
// Returns ErrNoDeviceProfile if no profile has that device id.
// Returns ErrCorruptedProfileSet if several profiles share it.
func UseProfile(ctx context.Context, env *Environment, opts ProfilesOptions) (*ProfilesResult, error) {
	if opts.UserAuth == "" {
		return nil, kerrors.New(kerrors.CodeBadRequest, "user credential is required")
	}
	if opts.DeviceID == "" {
		return nil, kerrors.New(kerrors.CodeMissingValue, "device id is required")
	}
	scope := env.Scope()
	key := profiles.DeriveKey(opts.UserAuth, scope.Origin, scope.AppID)

	all, err := env.Store.SetActive(ctx, scope, key, opts.DeviceID)
	if err != nil {
		return nil, err
	}

	entry := audit.ForScope("profiles.use", scope)
	entry.DeviceID = opts.DeviceID
	audit.Log(entry)

	return newProfilesResult(all), nil
}
