// Package blob defines where downloaded files for the blob tier live.
//
// FilesystemStore keeps files in a directory on a core.FS. PassthroughStore is
// used where no writable filesystem exists; the cache then hands source URLs
// back unchanged.
package blob

import (
	"context"
	"io"
)

// Store holds blob files addressed by storage key.
type Store interface {
	// Local reports whether the store keeps files. When false the cache
	// bypasses the blob tier.
	Local() bool

	// Path returns the location of the file for storageKey.
	Path(storageKey string) string

	// Stat returns the size of the file for storageKey and whether it exists.
	Stat(ctx context.Context, storageKey string) (int64, bool, error)

	// Write stores the contents of r under storageKey atomically and returns
	// the number of bytes written. A failed write leaves no file behind.
	Write(ctx context.Context, storageKey string, r io.Reader) (int64, error)

	// Remove deletes the file for storageKey. Missing files are ignored.
	Remove(ctx context.Context, storageKey string) error

	// List returns the storage keys of every file present.
	List(ctx context.Context) ([]string, error)
}
