// Package kv defines the durable key-value capability the cache persists its
// structured entries and index through, along with its providers.
//
// Three providers ship with the package:
//
//   - FSStore keeps one file per key on any core.FS implementation.
//   - ValkeyStore keeps keys in a Valkey (or Redis-compatible) server.
//   - GormStore keeps keys in a single SQL table through GORM, with helpers for
//     SQLite and Postgres.
//
// All providers report a missing key with ErrNotFound and treat Delete of a
// missing key as a no-op.
package kv

import (
	"context"

	"github.com/jmgilman/go/errors"
)

// ErrNotFound is returned by Store.Get when no value exists for a key.
var ErrNotFound = errors.New(errors.CodeNotFound, "key not found")

// Store is a durable string-keyed byte store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// IsNotFound reports whether err marks a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
