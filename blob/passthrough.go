package blob

import (
	"context"
	"io"

	"github.com/jmgilman/go/errors"
)

// ErrNotLocal is returned by PassthroughStore operations that need a
// filesystem.
var ErrNotLocal = errors.New(errors.CodeNotImplemented, "blob store has no local filesystem")

var _ Store = PassthroughStore{}

// PassthroughStore keeps nothing. It stands in for FilesystemStore on
// platforms without a writable filesystem.
type PassthroughStore struct{}

// NewPassthroughStore returns a PassthroughStore.
func NewPassthroughStore() PassthroughStore {
	return PassthroughStore{}
}

// Local implements Store.
func (PassthroughStore) Local() bool { return false }

// Path implements Store.
func (PassthroughStore) Path(string) string { return "" }

// Stat implements Store.
func (PassthroughStore) Stat(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

// Write implements Store.
func (PassthroughStore) Write(context.Context, string, io.Reader) (int64, error) {
	return 0, ErrNotLocal
}

// Remove implements Store.
func (PassthroughStore) Remove(context.Context, string) error { return nil }

// List implements Store.
func (PassthroughStore) List(context.Context) ([]string, error) { return nil, nil }
