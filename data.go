package contentcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmgilman/go/contentcache/internal/index"
	"github.com/jmgilman/go/contentcache/kv"
	"github.com/jmgilman/go/errors"
)

// envelope is the record stored for each structured value.
type envelope struct {
	Key       string        `json:"key"`
	Data      []byte        `json:"data"`
	StoredAt  time.Time     `json:"stored_at"`
	TTL       time.Duration `json:"ttl"`
	SizeBytes int64         `json:"size_bytes"`
}

func (e envelope) expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(e.TTL))
}

func payloadKey(storageKey string) string {
	return "entry:" + storageKey
}

// Put stores value under key. The encoded length of value counts against the
// size limit, and an eviction sweep runs if the limit is exceeded. Failures
// are logged and leave the cache unchanged.
func (c *Cache) Put(ctx context.Context, key string, value any, opts ...CallOption) {
	o := applyCallOptions(c.cfg.DefaultTTL, opts)
	sk := c.hasher.StorageKey(key)
	log := c.logger.WithOperation(OpPut).WithKey(key, sk)

	data, err := c.codec.Marshal(value)
	if err != nil {
		c.fail(ctx, log, "failed to encode value", errors.Wrap(err, errors.CodeInvalidInput, "failed to encode value"))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.fail(ctx, log, "cache is closed", ErrClosed)
		return
	}

	now := c.now()
	env := envelope{
		Key:       key,
		Data:      data,
		StoredAt:  now,
		TTL:       o.ttl,
		SizeBytes: int64(len(data)),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		c.fail(ctx, log, "failed to encode entry", errors.Wrap(err, errors.CodeInvalidInput, "failed to encode entry"))
		return
	}

	// Payload first: a crash before the index write leaves an orphan that
	// Get adopts, never an index entry without a payload.
	if err := c.store.Set(ctx, payloadKey(sk), raw); err != nil {
		c.fail(ctx, log, "failed to write cached value", err)
		return
	}

	c.index.Put(index.Entry{
		Key:        key,
		Tier:       index.TierData,
		StorageKey: sk,
		StoredAt:   now,
		TTL:        o.ttl,
		SizeBytes:  env.SizeBytes,
	})
	c.metrics.recordPut(c.index.TotalSize())
	log.Debug(ctx, "cache entry stored", "size", env.SizeBytes, "ttl", o.ttl)

	c.evictLocked(ctx)
	c.persistLocked(ctx, log)
}

// Get decodes the live value stored under key into out and reports whether
// it was found. A hit refreshes the entry's StoredAt, which extends its
// lifetime and marks it recently used. Expired or undecodable entries are
// deleted. With WithForceRefresh, Get always reports a miss. A nil out checks
// presence without decoding.
func (c *Cache) Get(ctx context.Context, key string, out any, opts ...CallOption) bool {
	o := applyCallOptions(c.cfg.DefaultTTL, opts)
	sk := c.hasher.StorageKey(key)
	log := c.logger.WithOperation(OpGet).WithKey(key, sk)

	if o.forceRefresh {
		c.metrics.recordMiss()
		log.cacheMiss(ctx, "force_refresh")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.metrics.recordMiss()
		c.fail(ctx, log, "cache is closed", ErrClosed)
		return false
	}

	id := index.ID(index.TierData, sk)
	entry, tracked := c.index.Get(id)

	raw, err := c.store.Get(ctx, payloadKey(sk))
	if errors.Is(err, kv.ErrCorrupted) {
		c.dropCorruptLocked(ctx, log, entry, tracked, sk, err)
		return false
	}
	if err != nil {
		c.metrics.recordMiss()
		if !kv.IsNotFound(err) {
			c.fail(ctx, log, "failed to read cached value", err)
			return false
		}
		if tracked {
			c.index.Delete(id)
			c.persistLocked(ctx, log)
			log.Info(ctx, "dropped index entry with missing payload")
		}
		log.cacheMiss(ctx, "not_cached")
		return false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.dropCorruptLocked(ctx, log, entry, tracked, sk, err)
		return false
	}
	if env.Key != key {
		c.metrics.recordMiss()
		log.cacheMiss(ctx, "storage_key_collision")
		return false
	}

	now := c.now()
	if !tracked {
		if env.expired(now) {
			if err := c.store.Delete(ctx, payloadKey(sk)); err != nil {
				c.fail(ctx, log, "failed to delete expired orphan", err)
			}
			c.metrics.recordExpiration()
			c.metrics.recordMiss()
			log.cacheMiss(ctx, "expired")
			return false
		}
		entry = index.Entry{
			Key:        key,
			Tier:       index.TierData,
			StorageKey: sk,
			StoredAt:   env.StoredAt,
			TTL:        env.TTL,
			SizeBytes:  int64(len(env.Data)),
		}
		c.index.Put(entry)
		tracked = true
		log.Info(ctx, "adopted untracked cached value", "size", entry.SizeBytes)
	}

	if entry.Expired(now) {
		c.removeLocked(ctx, log, entry)
		c.persistLocked(ctx, log)
		c.metrics.recordExpiration()
		c.metrics.recordMiss()
		log.cacheMiss(ctx, "expired")
		return false
	}

	if out != nil {
		if err := c.codec.Unmarshal(env.Data, out); err != nil {
			c.dropCorruptLocked(ctx, log, entry, tracked, sk, err)
			return false
		}
	}

	c.index.Touch(id, now)
	c.evictLocked(ctx)
	c.persistLocked(ctx, log)

	c.metrics.recordHit()
	log.cacheHit(ctx, entry.SizeBytes)
	return true
}

// dropCorruptLocked deletes a payload that cannot be decoded. c.mu must be
// held.
func (c *Cache) dropCorruptLocked(ctx context.Context, log *Logger, entry index.Entry, tracked bool, sk string, cause error) {
	c.fail(ctx, log, "dropping undecodable cached value", errors.Wrap(cause, errors.CodeInvalidInput, "failed to decode cached value"))
	c.metrics.recordMiss()
	if tracked {
		c.removeLocked(ctx, log, entry)
		c.persistLocked(ctx, log)
		return
	}
	if err := c.store.Delete(ctx, payloadKey(sk)); err != nil {
		c.fail(ctx, log, "failed to delete undecodable value", err)
	}
}

// GetAs is Get for a value of type T.
func GetAs[T any](ctx context.Context, c *Cache, key string, opts ...CallOption) (T, bool) {
	var v T
	if !c.Get(ctx, key, &v, opts...) {
		var zero T
		return zero, false
	}
	return v, true
}

// Remove deletes the structured value stored under key. Removing a missing
// key is a no-op.
func (c *Cache) Remove(ctx context.Context, key string) {
	sk := c.hasher.StorageKey(key)
	log := c.logger.WithOperation(OpRemove).WithKey(key, sk)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.fail(ctx, log, "cache is closed", ErrClosed)
		return
	}

	entry, tracked := c.index.Get(index.ID(index.TierData, sk))
	if !tracked {
		if err := c.store.Delete(ctx, payloadKey(sk)); err != nil {
			c.fail(ctx, log, "failed to delete cached value", err)
		}
		return
	}

	c.removeLocked(ctx, log, entry)
	c.persistLocked(ctx, log)
	log.Debug(ctx, "cache entry removed", "size", entry.SizeBytes)
}
