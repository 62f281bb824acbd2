package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File stores all keys in one JSON object on disk. Every Put and Delete
// rewrites the file through a temporary file and rename.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file backend requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &File{path: path}, nil
}

func (f *File) load() (map[string][]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string][]byte), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return make(map[string][]byte), nil
	}

	entries := make(map[string][]byte)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return entries, nil
}

func (f *File) save(entries map[string][]byte) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

func (f *File) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	entries[key] = value
	return f.save(entries)
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return f.save(entries)
}

func (f *File) Close() error { return nil }
