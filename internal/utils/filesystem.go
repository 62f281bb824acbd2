package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandPatterns resolves file arguments relative to root. Plain paths must
// exist; glob patterns (including **) may match nothing. Directories are
// skipped and duplicates removed.
func ExpandPatterns(patterns []string, root string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	add := func(path string) error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() || seen[path] {
			return nil
		}
		seen[path] = true
		files = append(files, path)
		return nil
	}

	for _, pattern := range patterns {
		abs := pattern
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, pattern)
		}
		abs = filepath.Clean(abs)

		if !containsGlob(pattern) {
			if err := add(abs); err != nil {
				return nil, fmt.Errorf("file not found: %s", pattern)
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(abs)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if err := add(m); err != nil {
				return nil, fmt.Errorf("reading %s: %w", m, err)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func containsGlob(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
