package workflows

import (
	"context"
	"time"

	"github.com/PolarWolf314/keyward/internal/audit"
	"github.com/PolarWolf314/keyward/internal/enrollment"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/profiles"
)

// BeginEnrollmentOptions configures the device begin workflow.
type BeginEnrollmentOptions struct {
	// UserAuth is the user credential protecting the profile store.
	UserAuth string

	// EnrollmentURL overrides the configured enrollment portal.
	EnrollmentURL string
}

// BeginEnrollmentResult contains the portal to visit.
type BeginEnrollmentResult struct {
	URL       string
	ExpiresAt time.Time
}

// BeginEnrollment records a pending enrollment for the configured scope.
//
// Returns ErrBadRequest if the user credential is empty.
// Returns ErrMissingValue if no enrollment URL is configured or given.
func BeginEnrollment(ctx context.Context, env *Environment, opts BeginEnrollmentOptions) (*BeginEnrollmentResult, error) {
	url := opts.EnrollmentURL
	if url == "" {
		url = env.Config.Enrollment.URL
	}

	portal, err := env.enroller().Begin(ctx, enrollment.BeginRequest{
		Scope:         env.Scope(),
		UserAuth:      opts.UserAuth,
		EnrollmentURL: url,
	})
	if err != nil {
		return nil, err
	}
	return &BeginEnrollmentResult{URL: portal, ExpiresAt: time.Now().Add(enrollment.PendingTTL)}, nil
}

// CompleteEnrollmentOptions carries the registration parameters the portal
// returned.
type CompleteEnrollmentOptions struct {
	Registration enrollment.Registration
}

// EnrollResult describes a newly enrolled device.
type EnrollResult struct {
	Profile  profiles.Summary
	Profiles []profiles.Summary
	Redirect string
}

// CompleteEnrollment finishes a pending enrollment started by
// BeginEnrollment.
//
// Returns ErrBadRequest if there is no unexpired pending enrollment.
// Failures from device registration are returned as-is; the result still
// carries the failure redirect.
func CompleteEnrollment(ctx context.Context, env *Environment, opts CompleteEnrollmentOptions) (*EnrollResult, error) {
	res, err := env.enroller().Complete(ctx, opts.Registration)
	result := &EnrollResult{}
	if res != nil {
		result.Redirect = res.Redirect
		result.Profiles = res.Profiles
	}
	if err != nil {
		return result, err
	}

	result.Profile = profiles.Summarize([]profiles.DeviceProfile{*res.Profile})[0]
	logEnroll(env.Scope(), res.Profile)
	return result, nil
}

// CreateDeviceOptions configures direct enrollment without a pending attempt.
type CreateDeviceOptions struct {
	UserAuth string
	Request  enrollment.Request
}

// CreateDevice registers a device, stores its profile in the configured
// scope and makes it active.
//
// Returns ErrBadRequest if the user credential is empty.
// Returns ErrInvalidValue if a registration parameter is empty.
// Returns ErrRequestFailed if the enrollment service refuses.
func CreateDevice(ctx context.Context, env *Environment, opts CreateDeviceOptions) (*EnrollResult, error) {
	if opts.UserAuth == "" {
		return nil, kerrors.New(kerrors.CodeBadRequest, "user credential is required")
	}
	scope := env.Scope()
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	profile, err := env.enroller().CreateDevice(ctx, opts.Request)
	if err != nil {
		return nil, err
	}

	key := profiles.DeriveKey(opts.UserAuth, scope.Origin, scope.AppID)
	if err := env.Store.Save(ctx, scope, key, *profile); err != nil {
		return nil, err
	}
	all, err := env.Store.SetActive(ctx, scope, key, profile.DeviceID)
	if err != nil {
		return nil, err
	}

	logEnroll(scope, profile)
	return &EnrollResult{
		Profile:  profiles.Summarize([]profiles.DeviceProfile{*profile})[0],
		Profiles: profiles.Summarize(all),
	}, nil
}

func logEnroll(scope profiles.Scope, profile *profiles.DeviceProfile) {
	entry := audit.ForScope("device.enroll", scope)
	entry.DeviceID = profile.DeviceID
	entry.Keyspace = profile.Keyspace
	audit.Log(entry)
}
