package contentcache

import (
	"context"
	"sync"
	"time"

	"github.com/jmgilman/go/contentcache/blob"
	"github.com/jmgilman/go/contentcache/internal/fetch"
	"github.com/jmgilman/go/contentcache/internal/index"
	"github.com/jmgilman/go/contentcache/internal/keys"
	"github.com/jmgilman/go/contentcache/kv"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is logged when an operation is attempted on a closed Cache. Such
// operations report a miss or do nothing.
var ErrClosed = errors.New(errors.CodeInternal, "cache is closed")

// memoryRoot is where the default in-memory store keeps its files.
const memoryRoot = "/contentcache"

// Cache is a size-bounded, TTL-aware cache with a structured-data tier kept
// in a kv.Store and a blob tier of downloaded files kept in a blob.Store.
//
// Every public operation is fail-open: storage and network failures are
// logged and counted, and callers observe a miss or a silent no-op. A Cache
// is safe for concurrent use.
type Cache struct {
	// mu serializes every read-modify-write of the index.
	mu sync.Mutex

	cfg     Config
	store   kv.Store
	blobs   blob.Store
	fetcher Fetcher
	codec   Codec
	now     func() time.Time
	logger  *Logger
	metrics *Metrics
	hasher  keys.Hasher
	index   *index.Index

	downloads singleflight.Group
	closed    bool
}

// New creates a cache and loads its index from the configured store. It
// fails only when the configuration is invalid or the default store cannot
// be created. A missing or unreadable index starts the cache empty.
func New(ctx context.Context, opts ...Option) (*Cache, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	o.config.SetDefaults()
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	if o.logger == nil {
		o.logger = NewNopLogger()
	}
	if o.codec == nil {
		o.codec = JSONCodec{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.fetcher == nil {
		o.fetcher = fetch.NewHTTPFetcher()
	}
	if o.blobs == nil {
		o.blobs = blob.NewPassthroughStore()
	}
	if o.store == nil {
		s, err := kv.NewFSStore(billy.NewMemory(), memoryRoot)
		if err != nil {
			return nil, err
		}
		o.store = s
	}

	c := &Cache{
		cfg:     o.config,
		store:   o.store,
		blobs:   o.blobs,
		fetcher: o.fetcher,
		codec:   o.codec,
		now:     o.now,
		logger:  o.logger,
		metrics: newMetrics(o.now()),
		hasher:  keys.Default(),
		index:   index.New(),
	}

	log := c.logger.WithOperation(OpLoadIndex)
	if err := c.index.Load(ctx, c.store); err != nil {
		c.fail(ctx, log, "failed to load cache index, starting empty", err)
		c.index.Reset()
	} else {
		log.Debug(ctx, "cache index loaded",
			"entries", c.index.Len(),
			"total_size_bytes", c.index.TotalSize())
	}

	return c, nil
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() MetricsSnapshot {
	return c.metrics.snapshot(c.now())
}

// Close persists the index and closes the kv store. Calling Close more than
// once is a no-op. After Close every operation reports a miss or does
// nothing.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	ctx := context.Background()
	persistErr := c.index.Persist(ctx, c.store)
	if persistErr != nil {
		c.fail(ctx, c.logger.WithOperation(OpClose), "failed to persist cache index", persistErr)
	}
	if err := c.store.Close(); err != nil {
		return err
	}
	return persistErr
}

// fail logs err and counts it. Callers then report a miss or do nothing.
func (c *Cache) fail(ctx context.Context, log *Logger, msg string, err error) {
	c.metrics.recordError()
	log.Warn(ctx, msg, "error", err)
}

// persistLocked writes the index to the store. c.mu must be held.
func (c *Cache) persistLocked(ctx context.Context, log *Logger) {
	if err := c.index.Persist(ctx, c.store); err != nil {
		c.fail(ctx, log, "failed to persist cache index", err)
	}
}

// removeLocked deletes the stored payload or file of e and drops it from the
// index. The index entry is dropped even if the payload cannot be deleted.
// c.mu must be held.
func (c *Cache) removeLocked(ctx context.Context, log *Logger, e index.Entry) {
	switch e.Tier {
	case index.TierData:
		if err := c.store.Delete(ctx, payloadKey(e.StorageKey)); err != nil {
			c.fail(ctx, log, "failed to delete cached value", err)
		}
	case index.TierBlob:
		if err := c.blobs.Remove(ctx, e.StorageKey); err != nil {
			c.fail(ctx, log, "failed to delete cached file", err)
		}
	}
	c.index.Delete(e.ID())
}
