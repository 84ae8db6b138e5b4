package kv

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
)

// ErrCorrupted is returned when a stored value fails its checksum.
var ErrCorrupted = errors.New(errors.CodeDatabase, "stored value failed integrity check")

const tempDirName = ".temp"

// FSStore is a Store that keeps one file per key on a core.FS.
//
// Values are written to a temporary file and renamed into place, so readers
// never observe a partially written value. Each file starts with the hex
// SHA-256 of the value on its own line.
type FSStore struct {
	fs      core.FS
	root    string
	tempDir string
	mu      sync.RWMutex
}

// NewFSStore creates a store rooted at root on the given filesystem.
func NewFSStore(fsys core.FS, root string) (*FSStore, error) {
	if fsys == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "filesystem cannot be nil")
	}
	if root == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "root path cannot be empty")
	}

	tempDir := path.Join(root, tempDirName)
	if err := fsys.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create store directory %q", root)
	}

	return &FSStore{
		fs:      fsys,
		root:    root,
		tempDir: tempDir,
	}, nil
}

// filePath maps a key such as "entry:abc" to "<root>/entry/abc".
func (s *FSStore) filePath(key string) (string, error) {
	if key == "" {
		return "", errors.New(errors.CodeInvalidInput, "key cannot be empty")
	}
	parts := strings.Split(key, ":")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) || p == tempDirName {
			return "", errors.Newf(errors.CodeInvalidInput, "invalid key %q", key)
		}
	}
	return path.Join(append([]string{s.root}, parts...)...), nil
}

// Get implements Store.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.filePath(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	raw, err := s.fs.ReadFile(p)
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, errors.CodeDatabase, "failed to read key %q", key)
	}

	return verify(raw)
}

// Set implements Store.
func (s *FSStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.filePath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "failed to create directory for key %q", key)
	}

	tmp := path.Join(s.tempDir, uuid.NewString())
	if err := s.fs.WriteFile(tmp, seal(value), 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return errors.Wrapf(err, errors.CodeDatabase, "failed to write key %q", key)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return errors.Wrapf(err, errors.CodeDatabase, "failed to commit key %q", key)
	}

	return nil
}

// Delete implements Store.
func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.filePath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, errors.CodeDatabase, "failed to delete key %q", key)
	}
	return nil
}

// CleanupTemp removes temporary files left behind by interrupted writes
// that were last modified before cutoff. A zero cutoff removes every
// temporary file. Writes in progress hold the store lock and are not
// affected.
func (s *FSStore) CleanupTemp(ctx context.Context, cutoff time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.fs.ReadDir(s.tempDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, errors.CodeDatabase, "failed to list temp directory")
	}
	for _, e := range entries {
		p := path.Join(s.tempDir, e.Name())
		if !cutoff.IsZero() {
			info, err := s.fs.Stat(p)
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
		}
		if err := s.fs.RemoveAll(p); err != nil {
			return errors.Wrapf(err, errors.CodeDatabase, "failed to remove temp file %q", e.Name())
		}
	}
	return nil
}

// Close implements Store. FSStore holds no resources.
func (s *FSStore) Close() error {
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func seal(value []byte) []byte {
	out := make([]byte, 0, sha256.Size*2+1+len(value))
	out = append(out, checksum(value)...)
	out = append(out, '\n')
	return append(out, value...)
}

func verify(raw []byte) ([]byte, error) {
	sum, value, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok || string(sum) != checksum(value) {
		return nil, ErrCorrupted
	}
	return value, nil
}
