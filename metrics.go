package contentcache

import (
	"sync"
	"time"
)

// Metrics accumulates counters for cache activity.
type Metrics struct {
	mu sync.Mutex

	hits        int64
	misses      int64
	expirations int64
	evictions   int64
	errors      int64
	puts        int64

	downloads       int64
	bytesDownloaded int64
	bytesEvicted    int64

	peakBytes int64
	startTime time.Time
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Hits            int64
	Misses          int64
	Expirations     int64
	Evictions       int64
	Errors          int64
	Puts            int64
	Downloads       int64
	BytesDownloaded int64
	BytesEvicted    int64
	PeakBytes       int64
	HitRate         float64
	Uptime          time.Duration
}

func newMetrics(now time.Time) *Metrics {
	return &Metrics{startTime: now}
}

func (m *Metrics) recordHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *Metrics) recordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *Metrics) recordExpiration() {
	m.mu.Lock()
	m.expirations++
	m.mu.Unlock()
}

func (m *Metrics) recordEviction(size int64) {
	m.mu.Lock()
	m.evictions++
	m.bytesEvicted += size
	m.mu.Unlock()
}

func (m *Metrics) recordError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// recordPut counts a write and tracks the largest total size seen.
func (m *Metrics) recordPut(total int64) {
	m.mu.Lock()
	m.puts++
	if total > m.peakBytes {
		m.peakBytes = total
	}
	m.mu.Unlock()
}

func (m *Metrics) recordDownload(size int64) {
	m.mu.Lock()
	m.downloads++
	m.bytesDownloaded += size
	m.mu.Unlock()
}

func (m *Metrics) snapshot(now time.Time) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		Hits:            m.hits,
		Misses:          m.misses,
		Expirations:     m.expirations,
		Evictions:       m.evictions,
		Errors:          m.errors,
		Puts:            m.puts,
		Downloads:       m.downloads,
		BytesDownloaded: m.bytesDownloaded,
		BytesEvicted:    m.bytesEvicted,
		PeakBytes:       m.peakBytes,
		Uptime:          now.Sub(m.startTime),
	}
	if total := m.hits + m.misses; total > 0 {
		s.HitRate = float64(m.hits) / float64(total)
	}
	return s
}
