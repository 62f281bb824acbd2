package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/PolarWolf314/keyward/internal/configs"
	"github.com/PolarWolf314/keyward/internal/profiles"
)

// TimestampFormat is RFC3339 in UTC with microseconds.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// Entry is one line of the audit trail. It never carries key material.
type Entry struct {
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	Origin    string `json:"origin,omitempty"`
	AppID     string `json:"app,omitempty"`
	UserID    string `json:"user,omitempty"`

	DeviceID string   `json:"device_id,omitempty"` // enroll, set-active
	Keyspace string   `json:"keyspace,omitempty"`  // enroll
	KeyIDs   []string `json:"key_ids,omitempty"`   // key create/update, file encrypt
	Files    []string `json:"files,omitempty"`     // file encrypt/decrypt
	Failed   int      `json:"failed,omitempty"`    // per-item failures
}

// ForScope starts an entry for op with the scope's identity filled in.
func ForScope(op string, scope profiles.Scope) Entry {
	return Entry{
		Operation: op,
		Origin:    scope.Origin,
		AppID:     scope.AppID,
		UserID:    scope.UserID,
	}
}

// Log appends entry to the audit trail. Failures are ignored; an operation
// never fails because its audit line could not be written.
func Log(entry Entry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}

	path := LogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
}

// LogPath returns the path to the audit trail.
func LogPath() string {
	return configs.UserKeywardSettings.AuditLogFile()
}

// ReadEntries reads the audit trail. A missing file yields no entries.
func ReadEntries() ([]Entry, error) {
	data, err := os.ReadFile(LogPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEntries(data), nil
}

// ParseEntries parses JSON lines, skipping blank and malformed lines.
func ParseEntries(data []byte) []Entry {
	var entries []Entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// Filter selects entries for display.
type Filter struct {
	Operation string // comma-separated
	DeviceID  string
	Since     time.Time
	Limit     int // most recent N; 0 means all
}

// Apply returns the entries matching f, oldest first.
func (f Filter) Apply(entries []Entry) []Entry {
	var ops []string
	for _, op := range strings.Split(f.Operation, ",") {
		if op = strings.TrimSpace(op); op != "" {
			ops = append(ops, op)
		}
	}

	var out []Entry
	for _, e := range entries {
		if len(ops) > 0 && !slices.Contains(ops, e.Operation) {
			continue
		}
		if f.DeviceID != "" && e.DeviceID != f.DeviceID {
			continue
		}
		if !f.Since.IsZero() {
			ts, err := time.Parse(TimestampFormat, e.Timestamp)
			if err != nil || ts.Before(f.Since) {
				continue
			}
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
