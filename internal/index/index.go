// Package index tracks per-entry metadata for both cache tiers: size
// accounting, expiry, eviction ordering and persistence through a kv.Store.
package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jmgilman/go/contentcache/kv"
	"github.com/jmgilman/go/errors"
)

// RecordKey is the kv key the index is persisted under.
const RecordKey = "contentcache:index"

// Tier identifies which cache tier an entry belongs to.
type Tier string

const (
	// TierData holds structured values stored in the kv store.
	TierData Tier = "data"
	// TierBlob holds downloaded files stored by a blob store.
	TierBlob Tier = "blob"
)

// Entry is the metadata tracked for one cached item.
type Entry struct {
	Key        string        `json:"key"`
	Tier       Tier          `json:"tier"`
	StorageKey string        `json:"storage_key"`
	StoredAt   time.Time     `json:"stored_at"`
	TTL        time.Duration `json:"ttl"`
	SizeBytes  int64         `json:"size_bytes"`
}

// ID returns the index key of the entry.
func (e Entry) ID() string {
	return ID(e.Tier, e.StorageKey)
}

// ExpiresAt returns the instant after which the entry is stale.
func (e Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// Expired reports whether the entry is stale at now. An entry is still live
// at exactly StoredAt+TTL.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

func (e Entry) valid() bool {
	return e.StorageKey != "" && (e.Tier == TierData || e.Tier == TierBlob) && e.SizeBytes >= 0
}

// ID builds the index key for a tier and storage key.
func ID(tier Tier, storageKey string) string {
	return string(tier) + "/" + storageKey
}

// Stats summarizes the index.
type Stats struct {
	TotalSizeBytes int64
	EntryCount     int
	OldestEntry    time.Time
	NewestEntry    time.Time
}

// Index is an in-memory entry table with a running size total.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Entry
	total   int64
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Get returns the entry stored under id.
func (idx *Index) Get(id string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[id]
	return e, ok
}

// Put stores e, replacing any entry with the same ID, and returns the
// replaced entry.
func (idx *Index) Put(e Entry) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	id := e.ID()
	prev, replaced := idx.entries[id]
	if replaced {
		idx.total -= prev.SizeBytes
	}
	idx.entries[id] = e
	idx.total += e.SizeBytes
	return prev, replaced
}

// Delete removes the entry stored under id and returns it.
func (idx *Index) Delete(id string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, ok := idx.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(idx.entries, id)
	idx.total -= prev.SizeBytes
	return prev, true
}

// Touch sets the StoredAt of the entry under id to now.
func (idx *Index) Touch(id string, now time.Time) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[id]
	if !ok {
		return false
	}
	e.StoredAt = now
	idx.entries[id] = e
	return true
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// TotalSize returns the sum of SizeBytes over all entries.
func (idx *Index) TotalSize() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.total
}

// Entries returns every entry ordered by ID.
func (idx *Index) Entries() []Entry {
	return idx.filter(nil)
}

// Expired returns the entries that are stale at now, ordered by ID.
func (idx *Index) Expired(now time.Time) []Entry {
	return idx.filter(func(e Entry) bool { return e.Expired(now) })
}

func (idx *Index) filter(keep func(Entry) bool) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// EvictionCandidates returns the shortest run of entries, oldest StoredAt
// first, whose removal brings the total down to target or below. Ties on
// StoredAt are broken by ID. It returns nil when the total is already within
// target.
func (idx *Index) EvictionCandidates(target int64) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.total <= target {
		return nil
	}

	ordered := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].StoredAt.Equal(ordered[j].StoredAt) {
			return ordered[i].StoredAt.Before(ordered[j].StoredAt)
		}
		return ordered[i].ID() < ordered[j].ID()
	})

	remaining := idx.total
	var out []Entry
	for _, e := range ordered {
		if remaining <= target {
			break
		}
		out = append(out, e)
		remaining -= e.SizeBytes
	}
	return out
}

// Stats returns a consistent summary of the index.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := Stats{
		TotalSizeBytes: idx.total,
		EntryCount:     len(idx.entries),
	}
	first := true
	for _, e := range idx.entries {
		if first || e.StoredAt.Before(s.OldestEntry) {
			s.OldestEntry = e.StoredAt
		}
		if first || e.StoredAt.After(s.NewestEntry) {
			s.NewestEntry = e.StoredAt
		}
		first = false
	}
	return s
}

// Reset removes every entry.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]Entry)
	idx.total = 0
}

// Load replaces the index contents with the record persisted in store. A
// missing record yields an empty index. Lines that fail to decode are
// skipped, and the size total is recomputed from the surviving entries.
func (idx *Index) Load(ctx context.Context, store kv.Store) error {
	raw, err := store.Get(ctx, RecordKey)
	if err != nil {
		if kv.IsNotFound(err) {
			idx.Reset()
			return nil
		}
		return errors.Wrap(err, errors.CodeDatabase, "failed to read cache index")
	}

	entries := make(map[string]Entry)
	var total int64

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if !e.valid() {
			continue
		}

		id := e.ID()
		if prev, dup := entries[id]; dup {
			total -= prev.SizeBytes
		}
		entries[id] = e
		total += e.SizeBytes
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to parse cache index")
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.total = total
	idx.mu.Unlock()
	return nil
}

// Persist writes the index to store as one JSON document per line, ordered
// by ID.
func (idx *Index) Persist(ctx context.Context, store kv.Store) error {
	var buf bytes.Buffer
	for _, e := range idx.Entries() {
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, errors.CodeInternal, "failed to marshal index entry")
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := store.Set(ctx, RecordKey, buf.Bytes()); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to write cache index")
	}
	return nil
}
