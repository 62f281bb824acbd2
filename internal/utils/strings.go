package utils

import (
	"net/url"
	"strings"

	"github.com/PolarWolf314/keyward/internal/ui"
)

// FormatPaths formats a slice of paths into a readable string.
func FormatPaths(paths []string) string {
	var b strings.Builder
	b.WriteString("\n")
	for _, path := range paths {
		b.WriteString("    - ")
		b.WriteString(ui.Path.Sprint(path))
		b.WriteString("\n")
	}
	return b.String()
}

// IsValidOrigin reports whether origin is an http(s) origin with a host and
// no path, e.g. https://app.example.com.
func IsValidOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	return u.Host != "" && (u.Path == "" || u.Path == "/") && u.RawQuery == ""
}

// IsValidURL reports whether raw is an absolute http(s) URL.
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
