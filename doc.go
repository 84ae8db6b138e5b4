// Package contentcache provides a size-bounded, TTL-aware content cache with
// two tiers:
//   - a structured-data tier storing serializable values under logical keys
//     in a durable key-value store (see package kv)
//   - a blob tier storing downloaded files addressed by a hash of their
//     source URL (see package blob)
//
// Both tiers share one index. It tracks the size and lifetime of every entry,
// and when the total tracked size exceeds the configured limit, an eviction
// sweep removes the least recently touched entries until the total falls to
// the headroom-adjusted limit (80% by default). A successful read refreshes
// an entry's timestamp, which both extends its lifetime and protects it from
// eviction.
//
// Basic usage:
//
//	store, err := kv.OpenSQLite("/var/lib/app/cache.db")
//	if err != nil {
//	    return err
//	}
//	blobs, err := blob.NewFilesystemStore(billy.NewLocal(), "/var/lib/app/blobs")
//	if err != nil {
//	    return err
//	}
//
//	c, err := contentcache.New(ctx,
//	    contentcache.WithStore(store),
//	    contentcache.WithBlobStore(blobs),
//	    contentcache.WithConfig(contentcache.Config{MaxSizeBytes: 50 << 20}),
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	c.Put(ctx, "listings:page:1", listings, contentcache.WithTTL(time.Hour))
//
//	var cached []Listing
//	if c.Get(ctx, "listings:page:1", &cached) {
//	    // use cached
//	}
//
//	path, ok := c.GetOrFetch(ctx, "https://cdn.example.com/photo.jpg")
//
// Cache operations never return storage or network errors. Failures are
// logged and counted in Metrics, and the caller sees a miss.
package contentcache
