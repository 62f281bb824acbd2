package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/PolarWolf314/keyward/internal/configs"
	"github.com/PolarWolf314/keyward/internal/enrollment"
	"github.com/PolarWolf314/keyward/internal/profiles"
)

// CheckStatus is the outcome of one health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarning
	CheckError
)

func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarning:
		return "warning"
	case CheckError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for CheckStatus.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult holds the result of a single health check.
type CheckResult struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// DoctorSummary counts checks by status.
type DoctorSummary struct {
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

// DoctorResult holds every check and the deduplicated suggestions.
type DoctorResult struct {
	Checks      []CheckResult `json:"checks"`
	Summary     DoctorSummary `json:"summary"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// DoctorOptions configures the doctor workflow.
type DoctorOptions struct {
	// UserAuth enables the profile checks when set.
	UserAuth string
}

// Doctor checks the local installation: the config file, the profile
// store, a stale pending enrollment and, given the user credential, the
// stored profiles.
func Doctor(ctx context.Context, env *Environment, opts DoctorOptions) (*DoctorResult, error) {
	checks := []func() CheckResult{
		checkConfigFile,
		func() CheckResult { return checkStorePermissions(env) },
		func() CheckResult { return checkPendingEnrollment(ctx, env) },
		func() CheckResult { return checkProfiles(ctx, env, opts.UserAuth) },
	}

	result := &DoctorResult{}
	seen := make(map[string]bool)
	for _, check := range checks {
		r := check()
		result.Checks = append(result.Checks, r)
		switch r.Status {
		case CheckPass:
			result.Summary.Passed++
		case CheckWarning:
			result.Summary.Warnings++
		case CheckError:
			result.Summary.Errors++
		}
		if r.Status != CheckPass && r.Suggestion != "" && !seen[r.Suggestion] {
			seen[r.Suggestion] = true
			result.Suggestions = append(result.Suggestions, r.Suggestion)
		}
	}
	return result, nil
}

func checkConfigFile() CheckResult {
	name := "Configuration"
	path := configs.UserKeywardSettings.ConfigFile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{
			Name:       name,
			Status:     CheckWarning,
			Message:    "No config.toml, using defaults",
			Suggestion: "Run 'keyward config init' to write a configuration",
		}
	}
	if _, err := configs.LoadConfig(); err != nil {
		return CheckResult{
			Name:       name,
			Status:     CheckError,
			Message:    fmt.Sprintf("Config is invalid: %v", err),
			Suggestion: "Fix " + path + " or rerun 'keyward config init --force'",
		}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: "Config is valid"}
}

func checkStorePermissions(env *Environment) CheckResult {
	name := "Profile store"
	if env.Config.Store.Backend == configs.BackendMemory {
		return CheckResult{
			Name:    name,
			Status:  CheckWarning,
			Message: "Memory backend keeps no profiles between runs",
		}
	}
	path := env.Config.StorePath()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return CheckResult{Name: name, Status: CheckPass, Message: "Store not created yet"}
	}
	if err != nil {
		return CheckResult{Name: name, Status: CheckError, Message: fmt.Sprintf("Cannot read %s: %v", path, err)}
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return CheckResult{
			Name:       name,
			Status:     CheckWarning,
			Message:    fmt.Sprintf("%s is accessible by other users (%o)", path, perm),
			Suggestion: fmt.Sprintf("Run 'chmod 600 %s'", path),
		}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: "Store permissions are restrictive"}
}

func checkPendingEnrollment(ctx context.Context, env *Environment) CheckResult {
	name := "Pending enrollment"
	raw, ok, err := env.Backend.Get(ctx, enrollment.PendingKey)
	if err != nil {
		return CheckResult{Name: name, Status: CheckError, Message: fmt.Sprintf("Cannot read store: %v", err)}
	}
	if !ok {
		return CheckResult{Name: name, Status: CheckPass, Message: "No enrollment in progress"}
	}
	var pending enrollment.Pending
	if err := json.Unmarshal(raw, &pending); err != nil {
		return CheckResult{Name: name, Status: CheckWarning, Message: "Pending enrollment record is unreadable"}
	}
	if time.Now().UnixMilli() > pending.ValidUntil {
		return CheckResult{
			Name:       name,
			Status:     CheckWarning,
			Message:    "A pending enrollment has expired",
			Suggestion: "Run 'keyward device begin' to start enrollment again",
		}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: "Enrollment in progress for " + pending.Info.UserID}
}

func checkProfiles(ctx context.Context, env *Environment, userAuth string) CheckResult {
	name := "Device profiles"
	if userAuth == "" {
		return CheckResult{Name: name, Status: CheckPass, Message: "Skipped, no user credential given"}
	}
	all := env.Store.QueryProfiles(ctx, env.Scope(), userAuth)
	if len(all) == 0 {
		return CheckResult{
			Name:       name,
			Status:     CheckError,
			Message:    "No profiles for this scope (or wrong credential)",
			Suggestion: "Run 'keyward device begin' or 'keyward device create' to enroll",
		}
	}

	var active []profiles.DeviceProfile
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}
	if len(active) != 1 {
		return CheckResult{
			Name:       name,
			Status:     CheckError,
			Message:    fmt.Sprintf("%d profiles are marked active", len(active)),
			Suggestion: "Run 'keyward profiles use <device-id>' to select one",
		}
	}
	if _, err := active[0].IDCKeyBytes(); err != nil {
		return CheckResult{Name: name, Status: CheckError, Message: fmt.Sprintf("Active profile is damaged: %v", err)}
	}
	if _, err := active[0].KAKeyBytes(); err != nil {
		return CheckResult{Name: name, Status: CheckError, Message: fmt.Sprintf("Active profile is damaged: %v", err)}
	}
	return CheckResult{
		Name:    name,
		Status:  CheckPass,
		Message: fmt.Sprintf("%d profiles, active device %s", len(all), active[0].DeviceID),
	}
}
