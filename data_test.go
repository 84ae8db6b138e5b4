package contentcache

import (
	"context"
	"testing"
	"time"

	"github.com/jmgilman/go/contentcache/internal/index"
	"github.com/jmgilman/go/contentcache/kv"
	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listing struct {
	ID    int      `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func TestPutGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	want := listing{ID: 7, Title: "Kayak", Tags: []string{"outdoor", "used"}}
	c.Put(ctx, "listings:7", want)

	var got listing
	require.True(t, c.Get(ctx, "listings:7", &got))
	assert.Equal(t, want, got)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Puts)
}

func TestGet_Missing(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	var got listing
	assert.False(t, c.Get(context.Background(), "nope", &got))
	assert.Equal(t, int64(1), c.Metrics().Misses)
}

func TestGet_NilOutChecksPresence(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "a", map[string]int{"x": 1})
	assert.True(t, c.Get(ctx, "a", nil))
	assert.False(t, c.Get(ctx, "b", nil))
}

func TestGet_TTL(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantHit bool
	}{
		{name: "well before expiry", elapsed: 50 * time.Millisecond, wantHit: true},
		{name: "at expiry instant", elapsed: 100 * time.Millisecond, wantHit: true},
		{name: "just after expiry", elapsed: 100*time.Millisecond + time.Nanosecond, wantHit: false},
		{name: "long after expiry", elapsed: time.Hour, wantHit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			c := newTestCache(t, clock)

			c.Put(ctx, "a", map[string]int{"x": 1}, WithTTL(100*time.Millisecond))
			clock.Advance(tt.elapsed)

			got, ok := GetAs[map[string]int](ctx, c, "a")
			assert.Equal(t, tt.wantHit, ok)
			if tt.wantHit {
				assert.Equal(t, map[string]int{"x": 1}, got)
				assert.Equal(t, 1, c.Stats(ctx).EntryCount)
				return
			}

			// Expired entries are removed on first observation.
			assert.Equal(t, 0, c.Stats(ctx).EntryCount)
			assert.Equal(t, int64(0), c.Stats(ctx).TotalSizeBytes)
			assert.Equal(t, int64(1), c.Metrics().Expirations)
			_, ok = GetAs[map[string]int](ctx, c, "a")
			assert.False(t, ok)
		})
	}
}

func TestGet_ExpiresAfterSleep(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx)
	require.NoError(t, err)
	defer c.Close()

	c.Put(ctx, "a", map[string]int{"x": 1}, WithTTL(100*time.Millisecond))

	got, ok := GetAs[map[string]int](ctx, c, "a")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"x": 1}, got)

	time.Sleep(150 * time.Millisecond)

	_, ok = GetAs[map[string]int](ctx, c, "a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats(ctx).EntryCount)
}

func TestGet_SlidingExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(t, clock)

	c.Put(ctx, "a", 1, WithTTL(time.Minute))
	for i := 0; i < 5; i++ {
		clock.Advance(45 * time.Second)
		require.True(t, c.Get(ctx, "a", nil), "read %d", i)
	}

	clock.Advance(61 * time.Second)
	assert.False(t, c.Get(ctx, "a", nil))
}

func TestGet_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "a", "fresh")

	var got string
	assert.False(t, c.Get(ctx, "a", &got, WithForceRefresh()))
	assert.Empty(t, got)

	// The entry itself is untouched.
	assert.True(t, c.Get(ctx, "a", &got))
	assert.Equal(t, "fresh", got)
}

func TestPut_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(t, clock, WithConfig(Config{DefaultTTL: time.Hour}))

	c.Put(ctx, "a", 1)
	c.Put(ctx, "b", 2, WithTTL(0))

	clock.Advance(time.Hour + time.Second)
	assert.Equal(t, 2, c.ClearExpired(ctx))
}

func TestPut_OverwriteAdjustsSize(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "a", sized(50))
	c.Put(ctx, "b", sized(10))
	c.Put(ctx, "a", sized(20))

	stats := c.Stats(ctx)
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, int64(30), stats.TotalSizeBytes)
	assertAccounting(t, c)
}

func TestPut_EncodeFailure(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "a", make(chan int))

	assert.Equal(t, 0, c.Stats(ctx).EntryCount)
	assert.Equal(t, int64(1), c.Metrics().Errors)
	assert.False(t, c.Get(ctx, "a", nil))
}

func TestGet_DecodeFailureDropsEntry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "a", "not a number")

	_, ok := GetAs[int](ctx, c, "a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats(ctx).EntryCount)
	assert.Equal(t, int64(1), c.Metrics().Errors)

	_, err := c.store.Get(ctx, payloadKey(c.hasher.StorageKey("a")))
	assert.Error(t, err)
}

func TestGet_CorruptEnvelopeDropsEntry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "a", 1)
	require.NoError(t, c.store.Set(ctx, payloadKey(c.hasher.StorageKey("a")), []byte("{broken")))

	assert.False(t, c.Get(ctx, "a", nil))
	assert.Equal(t, 0, c.Stats(ctx).EntryCount)
}

func TestGet_ChecksumMismatchDropsEntry(t *testing.T) {
	ctx := context.Background()
	fsys := billy.NewMemory()
	store, err := kv.NewFSStore(fsys, "/cache")
	require.NoError(t, err)
	c := newTestCache(t, newFakeClock(), WithStore(store))

	c.Put(ctx, "a", sized(50))
	require.Equal(t, int64(50), c.Stats(ctx).TotalSizeBytes)

	file := "/cache/entry/" + c.hasher.StorageKey("a")
	require.NoError(t, fsys.WriteFile(file, []byte("0000\n{\"key\":\"a\"}"), 0o644))

	for i := 0; i < 3; i++ {
		assert.False(t, c.Get(ctx, "a", nil))
	}

	stats := c.Stats(ctx)
	assert.Equal(t, 0, stats.EntryCount)
	assert.Equal(t, int64(0), stats.TotalSizeBytes)
	assert.Equal(t, int64(1), c.Metrics().Errors)

	exists, err := fsys.Exists(file)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStorageFailuresDegradeToMiss(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: newMemoryStore(t)}
	c := newTestCache(t, newFakeClock(), WithStore(store))

	c.Put(ctx, "a", 1)
	require.Equal(t, 1, c.Stats(ctx).EntryCount)

	store.setFailures(true, false)
	assert.False(t, c.Get(ctx, "a", nil))

	store.setFailures(false, true)
	c.Put(ctx, "b", 2)
	assert.Equal(t, 1, c.Stats(ctx).EntryCount)

	store.setFailures(false, false)
	assert.True(t, c.Get(ctx, "a", nil))
	assert.False(t, c.Get(ctx, "b", nil))
	assert.GreaterOrEqual(t, c.Metrics().Errors, int64(2))
}

func TestGet_AdoptsOrphanedPayload(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemoryStore(t)

	first := newTestCache(t, clock, WithStore(store))
	first.Put(ctx, "a", sized(12))

	// Simulate a crash between the payload write and the index write.
	require.NoError(t, store.Delete(ctx, index.RecordKey))

	second := newTestCache(t, clock, WithStore(store))
	require.Equal(t, 0, second.Stats(ctx).EntryCount)

	got, ok := GetAs[string](ctx, second, "a")
	require.True(t, ok)
	assert.Equal(t, sized(12), got)

	stats := second.Stats(ctx)
	assert.Equal(t, 1, stats.EntryCount)
	assert.Equal(t, int64(12), stats.TotalSizeBytes)
}

func TestGet_ExpiredOrphanIsDeleted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemoryStore(t)

	first := newTestCache(t, clock, WithStore(store))
	first.Put(ctx, "a", 1, WithTTL(time.Minute))
	require.NoError(t, store.Delete(ctx, index.RecordKey))

	second := newTestCache(t, clock, WithStore(store))
	clock.Advance(2 * time.Minute)

	assert.False(t, second.Get(ctx, "a", nil))
	assert.Equal(t, 0, second.Stats(ctx).EntryCount)

	_, err := store.Get(ctx, payloadKey(second.hasher.StorageKey("a")))
	assert.Error(t, err)
}

func TestGet_DropsEntryWithMissingPayload(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "a", sized(40))
	require.NoError(t, c.store.Delete(ctx, payloadKey(c.hasher.StorageKey("a"))))

	assert.False(t, c.Get(ctx, "a", nil))
	stats := c.Stats(ctx)
	assert.Equal(t, 0, stats.EntryCount)
	assert.Equal(t, int64(0), stats.TotalSizeBytes)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "a", 1)
	c.Put(ctx, "b", 2)

	c.Remove(ctx, "a")
	c.Remove(ctx, "a")
	c.Remove(ctx, "never")

	assert.False(t, c.Get(ctx, "a", nil))
	assert.True(t, c.Get(ctx, "b", nil))
	assert.Equal(t, 1, c.Stats(ctx).EntryCount)
	assertAccounting(t, c)
}

func TestGetAs(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	c.Put(ctx, "thread:1", []listing{{ID: 1, Title: "first"}})

	got, ok := GetAs[[]listing](ctx, c, "thread:1")
	require.True(t, ok)
	assert.Equal(t, []listing{{ID: 1, Title: "first"}}, got)

	missing, ok := GetAs[[]listing](ctx, c, "thread:2")
	assert.False(t, ok)
	assert.Nil(t, missing)
}

type countingCodec struct {
	JSONCodec
	marshals int
}

func (u *countingCodec) Marshal(v any) ([]byte, error) {
	u.marshals++
	return u.JSONCodec.Marshal(v)
}

func TestWithCodec(t *testing.T) {
	ctx := context.Background()
	codec := &countingCodec{}
	c := newTestCache(t, newFakeClock(), WithCodec(codec))

	c.Put(ctx, "a", "x")
	assert.Equal(t, 1, codec.marshals)
	assert.True(t, c.Get(ctx, "a", nil))
}
