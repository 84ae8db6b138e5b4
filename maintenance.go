package contentcache

import (
	"context"
	"time"

	"github.com/jmgilman/go/errors"
)

// Stats summarizes the entries tracked by a Cache. Timestamps are zero when
// the cache is empty.
type Stats struct {
	TotalSizeBytes int64
	EntryCount     int
	OldestEntry    time.Time
	NewestEntry    time.Time
}

// Stats returns a consistent summary of the index.
func (c *Cache) Stats(_ context.Context) Stats {
	s := c.index.Stats()
	return Stats{
		TotalSizeBytes: s.TotalSizeBytes,
		EntryCount:     s.EntryCount,
		OldestEntry:    s.OldestEntry,
		NewestEntry:    s.NewestEntry,
	}
}

// evictLocked removes the least recently touched entries until the total
// size is within the eviction target. It does nothing unless the total
// exceeds MaxSizeBytes. c.mu must be held.
func (c *Cache) evictLocked(ctx context.Context) {
	if c.index.TotalSize() <= c.cfg.MaxSizeBytes {
		return
	}

	log := c.logger.WithOperation(OpEvict)
	for _, e := range c.index.EvictionCandidates(c.cfg.evictionTarget()) {
		c.removeLocked(ctx, log, e)
		c.metrics.recordEviction(e.SizeBytes)
		log.eviction(ctx, e.Key, e.SizeBytes, "size_limit")
	}
}

// ClearExpired removes every entry whose TTL has elapsed and returns how many
// were removed.
func (c *Cache) ClearExpired(ctx context.Context) int {
	log := c.logger.WithOperation(OpClearExpired)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}

	start := c.now()
	expired := c.index.Expired(start)
	if len(expired) == 0 {
		return 0
	}

	var freed int64
	for _, e := range expired {
		c.removeLocked(ctx, log, e)
		c.metrics.recordExpiration()
		freed += e.SizeBytes
	}
	c.persistLocked(ctx, log)

	log.cleanup(ctx, OpClearExpired, len(expired), freed, c.now().Sub(start))
	return len(expired)
}

// Clear removes every tracked value and file, along with any untracked files
// and temporary files in the blob store, and persists an empty index. It is safe to call on an
// empty cache.
func (c *Cache) Clear(ctx context.Context) {
	log := c.logger.WithOperation(OpClear)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	start := c.now()
	entries := c.index.Entries()
	freed := c.index.TotalSize()
	for _, e := range entries {
		c.removeLocked(ctx, log, e)
	}
	c.index.Reset()

	orphans, err := c.blobs.List(ctx)
	if err != nil {
		c.fail(ctx, log, "failed to list blob files", err)
	}
	for _, sk := range orphans {
		if err := c.blobs.Remove(ctx, sk); err != nil {
			c.fail(ctx, log, "failed to delete blob file", err)
		}
	}

	c.cleanupTempLocked(ctx, log, time.Time{})
	c.persistLocked(ctx, log)
	log.cleanup(ctx, OpClear, len(entries), freed, c.now().Sub(start))
}

// staleTempAge is how old a temporary file must be before housekeeping
// treats it as abandoned.
const staleTempAge = time.Hour

// tempCleaner is implemented by stores that stage writes in temporary files.
type tempCleaner interface {
	CleanupTemp(ctx context.Context, cutoff time.Time) error
}

// cleanupTempLocked removes temporary files older than cutoff from the kv and
// blob stores. A zero cutoff removes all of them. c.mu must be held.
func (c *Cache) cleanupTempLocked(ctx context.Context, log *Logger, cutoff time.Time) {
	for _, s := range []any{c.store, c.blobs} {
		tc, ok := s.(tempCleaner)
		if !ok {
			continue
		}
		if err := tc.CleanupTemp(ctx, cutoff); err != nil {
			c.fail(ctx, log, "failed to remove temporary files", err)
		}
	}
}

// CleanupTemp removes temporary files abandoned by interrupted writes,
// including writes from other processes sharing the same directories.
func (c *Cache) CleanupTemp(ctx context.Context) {
	log := c.logger.WithOperation(OpCleanupTemp)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.cleanupTempLocked(ctx, log, c.now().Add(-staleTempAge))
}

// RunHousekeeping calls ClearExpired and CleanupTemp every interval until ctx
// is done. The
// cache never runs it on its own; hosts that want periodic cleanup start it
// explicitly, typically in its own goroutine.
func (c *Cache) RunHousekeeping(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Newf(errors.CodeInvalidInput, "housekeeping interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.ClearExpired(ctx)
			c.CleanupTemp(ctx)
		}
	}
}
