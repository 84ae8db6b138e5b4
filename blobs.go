package contentcache

import (
	"context"
	"time"

	"github.com/jmgilman/go/contentcache/internal/index"
	"github.com/jmgilman/go/errors"
)

// ErrEvictedOnArrival is reported when a freshly downloaded file is larger
// than the cache can hold and the eviction sweep removed it.
var ErrEvictedOnArrival = errors.New(errors.CodeInternal, "downloaded file was evicted immediately")

// GetOrFetch returns a local path holding the content of sourceURL,
// downloading it if no live copy is cached. When the blob store has no local
// filesystem it returns sourceURL unchanged, so callers must treat the result
// as either a local path or the original remote reference.
//
// A failed download returns ("", false) and records nothing. Concurrent calls
// for the same URL share a single download.
func (c *Cache) GetOrFetch(ctx context.Context, sourceURL string, opts ...CallOption) (string, bool) {
	o := applyCallOptions(c.cfg.BlobDefaultTTL, opts)
	sk := c.hasher.StorageKey(sourceURL)
	log := c.logger.WithOperation(OpGetOrFetch).WithKey(sourceURL, sk)

	if c.isClosed() {
		c.metrics.recordMiss()
		c.fail(ctx, log, "cache is closed", ErrClosed)
		return "", false
	}
	if !c.blobs.Local() {
		return sourceURL, true
	}

	if !o.forceRefresh {
		if path, ok := c.cachedBlob(ctx, log, sourceURL, sk, o.ttl); ok {
			return path, true
		}
	} else {
		c.metrics.recordMiss()
		log.cacheMiss(ctx, "force_refresh")
	}

	// Waiters give up on their own context; the shared download ignores
	// cancellation.
	dlCtx := context.WithoutCancel(ctx)
	ch := c.downloads.DoChan(sk, func() (any, error) {
		return c.download(dlCtx, log, sourceURL, sk, o.ttl)
	})

	select {
	case <-ctx.Done():
		c.fail(ctx, log, "gave up waiting for download", ctx.Err())
		return "", false
	case res := <-ch:
		if res.Err != nil {
			c.fail(ctx, log, "failed to fetch file", res.Err)
			return "", false
		}
		if res.Shared {
			log.Debug(ctx, "shared in-flight download")
		}
		return res.Val.(string), true
	}
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// cachedBlob returns the path of a live cached file for sourceURL. Expired
// files are deleted, files missing from disk are dropped from the index, and
// files present on disk but absent from the index are adopted.
func (c *Cache) cachedBlob(ctx context.Context, log *Logger, sourceURL, sk string, ttl time.Duration) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.metrics.recordMiss()
		return "", false
	}

	id := index.ID(index.TierBlob, sk)
	entry, tracked := c.index.Get(id)

	size, exists, err := c.blobs.Stat(ctx, sk)
	if err != nil {
		c.metrics.recordMiss()
		c.fail(ctx, log, "failed to stat cached file", err)
		return "", false
	}
	if !exists {
		if tracked {
			c.index.Delete(id)
			c.persistLocked(ctx, log)
			log.Info(ctx, "dropped index entry with missing file")
		}
		c.metrics.recordMiss()
		log.cacheMiss(ctx, "not_cached")
		return "", false
	}

	now := c.now()
	switch {
	case tracked && entry.Expired(now):
		c.removeLocked(ctx, log, entry)
		c.persistLocked(ctx, log)
		c.metrics.recordExpiration()
		c.metrics.recordMiss()
		log.cacheMiss(ctx, "expired")
		return "", false
	case tracked:
		c.index.Touch(id, now)
	default:
		c.index.Put(index.Entry{
			Key:        sourceURL,
			Tier:       index.TierBlob,
			StorageKey: sk,
			StoredAt:   now,
			TTL:        ttl,
			SizeBytes:  size,
		})
		log.Info(ctx, "adopted untracked cached file", "size", size)
		c.evictLocked(ctx)
		if _, ok := c.index.Get(id); !ok {
			c.persistLocked(ctx, log)
			c.metrics.recordMiss()
			log.cacheMiss(ctx, "evicted")
			return "", false
		}
		entry.SizeBytes = size
	}

	c.persistLocked(ctx, log)
	c.metrics.recordHit()
	log.cacheHit(ctx, entry.SizeBytes)
	return c.blobs.Path(sk), true
}

// download streams sourceURL into the blob store and records it. The network
// transfer runs without holding c.mu.
func (c *Cache) download(ctx context.Context, log *Logger, sourceURL, sk string, ttl time.Duration) (string, error) {
	start := c.now()

	body, err := c.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	size, err := c.blobs.Write(ctx, sk, body)
	if err != nil {
		return "", err
	}
	c.metrics.recordDownload(size)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		_ = c.blobs.Remove(ctx, sk)
		return "", ErrClosed
	}

	id := index.ID(index.TierBlob, sk)
	c.index.Put(index.Entry{
		Key:        sourceURL,
		Tier:       index.TierBlob,
		StorageKey: sk,
		StoredAt:   c.now(),
		TTL:        ttl,
		SizeBytes:  size,
	})
	c.metrics.recordPut(c.index.TotalSize())
	c.evictLocked(ctx)
	c.persistLocked(ctx, log)

	if _, ok := c.index.Get(id); !ok {
		return "", ErrEvictedOnArrival
	}

	log.Info(ctx, "file downloaded",
		"size", size,
		"duration_ms", c.now().Sub(start).Milliseconds())
	return c.blobs.Path(sk), nil
}
