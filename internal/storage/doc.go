// Package storage provides the key/value backends that hold persisted
// client state: the encrypted device profile lists and the pending
// enrollment record.
//
// # Backends
//
//   - Memory: process-local map, used by tests and one-shot commands
//   - File: a single JSON document on disk, rewritten atomically
//   - SQLite: a kv table in a SQLite database (modernc.org/sqlite, no cgo)
//
// Values are opaque bytes. Callers encrypt anything sensitive before it
// reaches a backend.
package storage
