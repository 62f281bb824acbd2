package utils

import (
	"strings"
	"testing"
)

func TestIsValidOrigin(t *testing.T) {
	tests := map[string]bool{
		"https://app.example.com":      true,
		"http://localhost:8080":        true,
		"https://app.example.com/":     true,
		"https://app.example.com/path": false,
		"ftp://app.example.com":        false,
		"app.example.com":              false,
		"":                             false,
	}
	for input, want := range tests {
		if got := IsValidOrigin(input); got != want {
			t.Errorf("IsValidOrigin(%q) = %v, expected %v", input, got, want)
		}
	}
}

func TestIsValidURL(t *testing.T) {
	if !IsValidURL("https://enroll.example.com/keyspace/ABCD/enroll") {
		t.Error("Expected enrollment URL to be valid")
	}
	if IsValidURL("/relative/path") {
		t.Error("Expected relative URL to be invalid")
	}
}

func TestFormatPaths(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	out := FormatPaths([]string{"a.bin", "b.bin"})
	if !strings.Contains(out, "    - a.bin\n") || !strings.Contains(out, "    - b.bin\n") {
		t.Errorf("Unexpected formatted paths: %q", out)
	}
}
