package audit

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PolarWolf314/keyward/internal/configs"
	"github.com/PolarWolf314/keyward/internal/profiles"
)

func withTempDataDir(t *testing.T) {
	t.Helper()
	old := configs.UserKeywardSettings.DataPath
	configs.UserKeywardSettings.DataPath = t.TempDir()
	t.Cleanup(func() { configs.UserKeywardSettings.DataPath = old })
}

func TestLog_AppendsEntries(t *testing.T) {
	withTempDataDir(t)
	scope := profiles.Scope{Origin: "https://app.example.com", AppID: "app", UserID: "alice"}

	enroll := ForScope("device.enroll", scope)
	enroll.DeviceID = "ABCD.1.dev"
	enroll.Keyspace = "ABCD"
	Log(enroll)

	create := ForScope("keys.create", scope)
	create.KeyIDs = []string{"K0000001", "K0000002"}
	Log(create)

	info, err := os.Stat(LogPath())
	if err != nil {
		t.Fatalf("Audit log file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got: %o", info.Mode().Perm())
	}

	entries, err := ReadEntries()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got: %d", len(entries))
	}
	if entries[0].Operation != "device.enroll" || entries[0].DeviceID != "ABCD.1.dev" {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[1].UserID != "alice" || len(entries[1].KeyIDs) != 2 {
		t.Errorf("Unexpected second entry: %+v", entries[1])
	}
	if _, err := time.Parse(TimestampFormat, entries[0].Timestamp); err != nil {
		t.Errorf("Expected timestamp in %s, got: %s", TimestampFormat, entries[0].Timestamp)
	}
}

func TestReadEntries_MissingFile(t *testing.T) {
	withTempDataDir(t)

	entries, err := ReadEntries()
	if err != nil {
		t.Fatalf("Expected no error for missing log, got: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got: %d", len(entries))
	}
}

func TestParseEntries_SkipsMalformed(t *testing.T) {
	data := strings.Join([]string{
		`{"ts":"2026-01-01T00:00:00.000000Z","op":"keys.create"}`,
		``,
		`{not json`,
		`{"ts":"2026-01-02T00:00:00.000000Z","op":"file.encrypt","files":["a.ion"]}`,
	}, "\n")

	entries := ParseEntries([]byte(data))
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got: %d", len(entries))
	}
	if entries[1].Files[0] != "a.ion" {
		t.Errorf("Unexpected files: %v", entries[1].Files)
	}
}

func TestFilter_Apply(t *testing.T) {
	entries := []Entry{
		{Timestamp: "2026-01-01T00:00:00.000000Z", Operation: "keys.create"},
		{Timestamp: "2026-01-02T00:00:00.000000Z", Operation: "device.enroll", DeviceID: "D1"},
		{Timestamp: "2026-01-03T00:00:00.000000Z", Operation: "keys.create"},
		{Timestamp: "2026-01-04T00:00:00.000000Z", Operation: "profiles.use", DeviceID: "D1"},
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"All", Filter{}, 4},
		{"Operation", Filter{Operation: "keys.create"}, 2},
		{"OperationList", Filter{Operation: "keys.create, profiles.use"}, 3},
		{"Device", Filter{DeviceID: "D1"}, 2},
		{"Since", Filter{Since: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)}, 2},
		{"Limit", Filter{Limit: 1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.filter.Apply(entries)
			if len(got) != tc.want {
				t.Errorf("Expected %d entries, got: %d", tc.want, len(got))
			}
		})
	}

	last := Filter{Limit: 1}.Apply(entries)
	if last[0].Operation != "profiles.use" {
		t.Errorf("Expected limit to keep the most recent entry, got: %+v", last[0])
	}
}
