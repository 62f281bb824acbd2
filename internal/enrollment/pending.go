package enrollment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/profiles"
)

const (
	// PendingKey is the storage key of the in-flight enrollment attempt.
	PendingKey = "IonicEnrollmentAttempt"
	// PendingTTL is how long an attempt stays valid.
	PendingTTL = 10 * time.Minute
)

// Pending is an enrollment attempt awaiting its registration parameters.
type Pending struct {
	Origin     string      `json:"origin"`
	Info       PendingInfo `json:"info"`
	ValidUntil int64       `json:"validUntil"`
}

// PendingInfo identifies the enrolling user. UserAuth holds the base64
// profile key derived from the user's credentials, never the credentials.
type PendingInfo struct {
	AppID    string `json:"appId"`
	UserID   string `json:"userId"`
	UserAuth string `json:"userAuth"`
}

// BeginRequest starts an enrollment.
type BeginRequest struct {
	Scope         profiles.Scope
	UserAuth      string
	EnrollmentURL string
}

// Begin records a pending enrollment for the user and returns the
// enrollment portal URL to visit.
//
// Returns ErrBadRequest if appId, userId or userAuth is empty.
// Returns ErrMissingValue if the enrollment URL is empty.
func (e *Enroller) Begin(ctx context.Context, req BeginRequest) (string, error) {
	if err := req.Scope.Validate(); err != nil {
		return "", err
	}
	if req.UserAuth == "" {
		return "", kerrors.New(kerrors.CodeBadRequest, "appId, userId, and userAuth are required")
	}
	if req.EnrollmentURL == "" {
		return "", kerrors.New(kerrors.CodeMissingValue, "missing enrollment url")
	}

	key := profiles.DeriveKey(req.UserAuth, req.Scope.Origin, req.Scope.AppID)
	record := Pending{
		Origin: req.Scope.Origin,
		Info: PendingInfo{
			AppID:    req.Scope.AppID,
			UserID:   req.Scope.UserID,
			UserAuth: base64.StdEncoding.EncodeToString(key),
		},
		ValidUntil: e.now().Add(PendingTTL).UnixMilli(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", kerrors.Wrap(kerrors.CodeUnknown, "encoding enrollment attempt", err)
	}
	if err := e.pending.Put(ctx, PendingKey, raw); err != nil {
		return "", kerrors.Wrap(kerrors.CodeUnknown, "storing enrollment attempt", err)
	}

	e.log.Infof("Enrollment started for %s", req.Scope.UserID)
	return req.EnrollmentURL, nil
}

// loadPending returns the unexpired attempt, removing an expired one.
func (e *Enroller) loadPending(ctx context.Context) (*Pending, error) {
	raw, ok, err := e.pending.Get(ctx, PendingKey)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeUnknown, "reading enrollment attempt", err)
	}
	if !ok {
		return nil, kerrors.New(kerrors.CodeBadRequest, "no enrollment in progress")
	}

	var record Pending
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, kerrors.Wrap(kerrors.CodeBadRequest, "parsing enrollment attempt", err)
	}
	if e.now().UnixMilli() > record.ValidUntil {
		_ = e.pending.Delete(ctx, PendingKey)
		return nil, kerrors.New(kerrors.CodeBadRequest, "enrollment attempt expired")
	}
	return &record, nil
}

// Registration is what an enrollment portal hands back to finish enrolling.
type Registration struct {
	Request
	SuccessURL string
	FailureURL string
}

// CompleteResult describes a finished enrollment.
type CompleteResult struct {
	Profile  *profiles.DeviceProfile
	Profiles []profiles.Summary
	Redirect string
}

// Complete consumes the pending attempt: it registers the device, stores
// the profile, makes it active and clears the attempt.
//
// On failure the returned result is still non-nil and carries the failure
// redirect, except for ErrBadRequest (no valid attempt) where Redirect is
// empty.
func (e *Enroller) Complete(ctx context.Context, reg Registration) (*CompleteResult, error) {
	result := &CompleteResult{}

	record, err := e.loadPending(ctx)
	if err != nil {
		return e.fail(result, reg, err)
	}
	key, err := base64.StdEncoding.DecodeString(record.Info.UserAuth)
	if err != nil {
		return e.fail(result, reg, kerrors.Wrap(kerrors.CodeBadRequest, "decoding enrollment attempt", err))
	}
	scope := profiles.Scope{Origin: record.Origin, AppID: record.Info.AppID, UserID: record.Info.UserID}

	profile, err := e.CreateDevice(ctx, reg.Request)
	if err != nil {
		return e.fail(result, reg, err)
	}
	if err := e.store.Save(ctx, scope, key, *profile); err != nil {
		return e.fail(result, reg, err)
	}
	all, err := e.store.SetActive(ctx, scope, key, profile.DeviceID)
	if err != nil {
		return e.fail(result, reg, err)
	}
	if err := e.pending.Delete(ctx, PendingKey); err != nil {
		e.log.Warnf("Failed to clear enrollment attempt: %v", err)
	}

	result.Profile = profile
	result.Profiles = profiles.Summarize(all)
	result.Redirect = reg.SuccessURL
	return result, nil
}

func (e *Enroller) fail(result *CompleteResult, reg Registration, err error) (*CompleteResult, error) {
	if !errors.Is(err, kerrors.ErrBadRequest) {
		result.Redirect = reg.FailureURL
	}
	e.log.Errorf("Enrollment failed: %v", err)
	return result, err
}
