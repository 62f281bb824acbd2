package storage

import (
	"context"
	"fmt"
	"sync"
)

// Backend is a minimal key/value store.
type Backend interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the backend named by kind. path is ignored for "memory".
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "", "file":
		return NewFile(path)
	case "sqlite":
		return NewSQLite(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// Memory is an in-process Backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }
