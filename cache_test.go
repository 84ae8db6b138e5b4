package contentcache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmgilman/go/contentcache/internal/index"
	"github.com/jmgilman/go/contentcache/kv"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// flakyStore wraps a Store and fails selected operations.
type flakyStore struct {
	kv.Store
	mu      sync.Mutex
	failGet bool
	failSet bool
}

var errBackend = errors.New(errors.CodeDatabase, "backend unavailable")

func (f *flakyStore) setFailures(get, set bool) {
	f.mu.Lock()
	f.failGet, f.failSet = get, set
	f.mu.Unlock()
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, errBackend
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failSet
	f.mu.Unlock()
	if fail {
		return errBackend
	}
	return f.Store.Set(ctx, key, value)
}

func newMemoryStore(t *testing.T) kv.Store {
	t.Helper()
	s, err := kv.NewFSStore(billy.NewMemory(), "/cache")
	require.NoError(t, err)
	return s
}

func newTestCache(t *testing.T, clock *fakeClock, opts ...Option) *Cache {
	t.Helper()
	base := []Option{WithClock(clock.Now)}
	c, err := New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// sized returns a string value whose JSON encoding is exactly n bytes.
func sized(n int) string {
	return strings.Repeat("x", n-2)
}

// assertAccounting checks the reported total against the tracked entries.
func assertAccounting(t *testing.T, c *Cache) {
	t.Helper()
	var sum int64
	for _, e := range c.index.Entries() {
		sum += e.SizeBytes
	}
	stats := c.Stats(context.Background())
	assert.Equal(t, sum, stats.TotalSizeBytes)
	assert.Equal(t, len(c.index.Entries()), stats.EntryCount)
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(context.Background())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DefaultConfig(), c.Config())
	assert.Equal(t, Stats{}, c.Stats(context.Background()))

	path, ok := c.GetOrFetch(context.Background(), "https://example.com/a.png")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/a.png", path)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), WithConfig(Config{MaxSizeBytes: -1}))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestNew_ReloadsIndex(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemoryStore(t)

	first, err := New(ctx, WithStore(store), WithClock(clock.Now))
	require.NoError(t, err)
	first.Put(ctx, "a", sized(10))
	first.Put(ctx, "b", sized(20))

	second, err := New(ctx, WithStore(store), WithClock(clock.Now))
	require.NoError(t, err)

	stats := second.Stats(ctx)
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, int64(30), stats.TotalSizeBytes)

	got, ok := GetAs[string](ctx, second, "b")
	require.True(t, ok)
	assert.Equal(t, sized(20), got)
}

func TestNew_UnreadableIndexStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: newMemoryStore(t)}
	store.setFailures(true, false)

	c, err := New(ctx, WithStore(store))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Stats(ctx).EntryCount)
	assert.Equal(t, int64(1), c.Metrics().Errors)
}

func TestClose_PersistsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	c, err := New(ctx, WithStore(store))
	require.NoError(t, err)
	c.Put(ctx, "a", 1)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	raw, err := store.Get(ctx, index.RecordKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"key":"a"`)
}

func TestClose_LaterOperationsAreNoOps(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	c := newTestCache(t, newFakeClock(), WithStore(store))

	c.Put(ctx, "a", 1)
	require.NoError(t, c.Close())

	c.Put(ctx, "b", 2)
	assert.False(t, c.Get(ctx, "a", nil))
	c.Remove(ctx, "a")
	assert.Equal(t, 0, c.ClearExpired(ctx))
	c.Clear(ctx)

	_, err := store.Get(ctx, payloadKey(c.hasher.StorageKey("b")))
	assert.True(t, kv.IsNotFound(err))
	_, err = store.Get(ctx, payloadKey(c.hasher.StorageKey("a")))
	assert.NoError(t, err)
	assert.Equal(t, 1, c.Stats(ctx).EntryCount)
}
