package ui

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestFormatterWithColor(t *testing.T) {
	unsetNoColor(t)
	original := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = original }()

	result := KeyID.Sprint("K0000001")
	if strings.Contains(result, "[") {
		t.Errorf("KeyID.Sprint should not contain brackets when color is enabled, got: %s", result)
	}
	if !strings.Contains(result, "\x1b[") {
		t.Errorf("KeyID.Sprint should contain ANSI escape codes when color is enabled, got: %s", result)
	}
}

func TestFormatterWithNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	tests := []struct {
		name      string
		formatter Formatter
		input     string
		want      string
	}{
		{"Code adds backticks", Code, "keyward keys get", "`keyward keys get`"},
		{"Path has no decoration", Path, "report.pdf.ion", "report.pdf.ion"},
		{"KeyID adds brackets", KeyID, "K0000001", "[K0000001]"},
		{"Device adds quotes", Device, "ABCD.1.dev", "'ABCD.1.dev'"},
		{"Muted adds parentheses", Muted, "inactive", "(inactive)"},
		{"Success has no decoration", Success, "✓", "✓"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.formatter.Sprint(tt.input); got != tt.want {
				t.Errorf("%s.Sprint(%q) = %q, want %q", tt.name, tt.input, got, tt.want)
			}
		})
	}

	if got := Code.Sprintf("keyward %s %s", "chunk", "encrypt"); got != "`keyward chunk encrypt`" {
		t.Errorf("Code.Sprintf() = %q", got)
	}
	if Check() != "✓" || Cross() != "✗" || Arrow() != "→" {
		t.Errorf("Unexpected status markers without color")
	}
}

func TestEnsureNewline(t *testing.T) {
	if EnsureNewline("a") != "a\n" || EnsureNewline("a\n") != "a\n" || EnsureNewline("") != "\n" {
		t.Error("EnsureNewline did not normalise trailing newline")
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	err := Table(&buf, []string{"ACTIVE", "DEVICE"}, [][]string{{"*", "ABCD.1.x"}, {"", "ABCD.2.longer"}})
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got: %d", len(lines))
	}
	col := strings.Index(lines[0], "DEVICE")
	if strings.Index(lines[1], "ABCD.1.x") != col || strings.Index(lines[2], "ABCD.2.longer") != col {
		t.Errorf("Expected aligned columns, got:\n%s", buf.String())
	}
}

// unsetNoColor removes NO_COLOR for the test and restores it afterwards.
func unsetNoColor(t *testing.T) {
	t.Helper()
	t.Setenv("NO_COLOR", "")
	os.Unsetenv("NO_COLOR")
}
