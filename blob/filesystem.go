package blob

import (
	"context"
	"io"
	"io/fs"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
)

const tempDirName = ".temp"

var _ Store = (*FilesystemStore)(nil)

// FilesystemStore keeps blob files flat in a directory of a core.FS.
type FilesystemStore struct {
	fs      core.FS
	dir     string
	tempDir string

	// inflight holds the temp file names of writes in progress.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewFilesystemStore creates dir (and its temp directory) if needed.
func NewFilesystemStore(fsys core.FS, dir string) (*FilesystemStore, error) {
	if fsys == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "filesystem cannot be nil")
	}
	if dir == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "blob directory cannot be empty")
	}

	tempDir := path.Join(dir, tempDirName)
	if err := fsys.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create blob directory %q", dir)
	}

	return &FilesystemStore{fs: fsys, dir: dir, tempDir: tempDir}, nil
}

// Local implements Store.
func (s *FilesystemStore) Local() bool {
	return true
}

// Path implements Store.
func (s *FilesystemStore) Path(storageKey string) string {
	return path.Join(s.dir, storageKey)
}

// Stat implements Store.
func (s *FilesystemStore) Stat(ctx context.Context, storageKey string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	info, err := s.fs.Stat(s.Path(storageKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, errors.CodeInternal, "failed to stat blob %q", storageKey)
	}
	if info.IsDir() {
		return 0, false, errors.Newf(errors.CodeInternal, "blob path %q is a directory", storageKey)
	}
	return info.Size(), true, nil
}

// Write implements Store. Data is streamed to a temporary file which is
// renamed over the final path once complete.
func (s *FilesystemStore) Write(ctx context.Context, storageKey string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	name := uuid.NewString()
	s.track(name)
	defer s.untrack(name)

	tmp := path.Join(s.tempDir, name)
	f, err := s.fs.Create(tmp)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to create temp file")
	}

	n, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return 0, errors.Wrapf(err, errors.CodeInternal, "failed to write blob %q", storageKey)
	}

	if err := s.fs.Rename(tmp, s.Path(storageKey)); err != nil {
		_ = s.fs.Remove(tmp)
		return 0, errors.Wrapf(err, errors.CodeInternal, "failed to commit blob %q", storageKey)
	}
	return n, nil
}

// Remove implements Store.
func (s *FilesystemStore) Remove(ctx context.Context, storageKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(s.Path(storageKey)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, errors.CodeInternal, "failed to remove blob %q", storageKey)
	}
	return nil
}

// List implements Store. Directories, including the temp directory, are
// skipped.
func (s *FilesystemStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to list blob directory %q", s.dir)
	}

	var keys []string
	for _, e := range entries {
		if !e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// CleanupTemp removes partial downloads left by interrupted writes that were
// last modified before cutoff. A zero cutoff removes every temporary file.
// Files still being written by this store are skipped.
func (s *FilesystemStore) CleanupTemp(ctx context.Context, cutoff time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := s.fs.ReadDir(s.tempDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, errors.CodeInternal, "failed to list temp directory")
	}
	for _, e := range entries {
		if s.writing(e.Name()) {
			continue
		}
		p := path.Join(s.tempDir, e.Name())
		if !cutoff.IsZero() {
			info, err := s.fs.Stat(p)
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
		}
		if err := s.fs.RemoveAll(p); err != nil {
			return errors.Wrapf(err, errors.CodeInternal, "failed to remove temp file %q", e.Name())
		}
	}
	return nil
}

func (s *FilesystemStore) track(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		s.inflight = make(map[string]struct{})
	}
	s.inflight[name] = struct{}{}
}

func (s *FilesystemStore) untrack(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, name)
}

func (s *FilesystemStore) writing(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[name]
	return ok
}
