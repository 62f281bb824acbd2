package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PolarWolf314/keyward/internal/audit"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
)

// LogOptions configures the log workflow.
type LogOptions struct {
	// Limit keeps the most recent N entries. 0 means no limit.
	Limit int

	// Reverse orders entries newest first.
	Reverse bool

	Operation string
	DeviceID  string

	// Since keeps entries on or after this date (YYYY-MM-DD).
	Since string
}

// LogResult contains the filtered audit entries.
type LogResult struct {
	Entries []audit.Entry
	Total   int
}

// Log reads and filters the audit trail. A missing trail yields no entries.
//
// Returns ErrInvalidValue if Since is not a YYYY-MM-DD date.
func Log(ctx context.Context, opts LogOptions) (*LogResult, error) {
	filter := audit.Filter{Operation: opts.Operation, DeviceID: opts.DeviceID, Limit: opts.Limit}
	if opts.Since != "" {
		since, err := time.Parse("2006-01-02", opts.Since)
		if err != nil {
			return nil, kerrors.New(kerrors.CodeInvalidValue, "--since date format invalid, use YYYY-MM-DD")
		}
		filter.Since = since
	}

	entries, err := audit.ReadEntries()
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeUnknown, "reading audit log", err)
	}

	filtered := filter.Apply(entries)
	if opts.Reverse {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}
	return &LogResult{Entries: filtered, Total: len(entries)}, nil
}

// FormatDateTime renders an entry timestamp as YYYY-MM-DD HH:MM:SS.
func FormatDateTime(ts string) string {
	t, err := time.Parse(audit.TimestampFormat, ts)
	if err != nil {
		if len(ts) >= 19 {
			return ts[:19]
		}
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

// FormatDetails summarises the operation-specific fields of an entry.
func FormatDetails(e audit.Entry) string {
	var parts []string
	if e.DeviceID != "" {
		parts = append(parts, e.DeviceID)
	}
	if e.Keyspace != "" {
		parts = append(parts, "keyspace "+e.Keyspace)
	}
	switch n := len(e.KeyIDs); {
	case n > 3:
		parts = append(parts, fmt.Sprintf("%d keys", n))
	case n > 0:
		parts = append(parts, strings.Join(e.KeyIDs, ", "))
	}
	switch n := len(e.Files); {
	case n > 3:
		parts = append(parts, fmt.Sprintf("%d files", n))
	case n > 0:
		parts = append(parts, strings.Join(e.Files, ", "))
	}
	if e.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", e.Failed))
	}
	return strings.Join(parts, "; ")
}
