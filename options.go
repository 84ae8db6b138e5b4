package contentcache

import (
	"context"
	"io"
	"time"

	"github.com/jmgilman/go/contentcache/blob"
	"github.com/jmgilman/go/contentcache/kv"
)

// Option configures a Cache at construction.
type Option func(*options)

type options struct {
	config  Config
	store   kv.Store
	blobs   blob.Store
	logger  *Logger
	codec   Codec
	now     func() time.Time
	fetcher Fetcher
}

// WithConfig sets the size and expiry policy. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithStore sets the durable store for structured values and the index.
// Defaults to an in-memory filesystem store.
func WithStore(s kv.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithBlobStore sets where downloaded files are kept. Defaults to a
// PassthroughStore, which makes GetOrFetch return source URLs unchanged.
func WithBlobStore(s blob.Store) Option {
	return func(o *options) {
		o.blobs = s
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCodec sets the codec used for structured values. Defaults to JSONCodec.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Fetcher opens a stream of the resource at a URL for GetOrFetch.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// WithFetcher sets the downloader used by GetOrFetch. Defaults to plain HTTP
// GET requests.
func WithFetcher(f Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// CallOption tunes a single Put, Get or GetOrFetch call.
type CallOption func(*callOptions)

type callOptions struct {
	ttl          time.Duration
	forceRefresh bool
}

// WithTTL overrides the default lifetime of the entry being written.
// Non-positive values are ignored.
func WithTTL(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithForceRefresh bypasses cached content. Get reports a miss and
// GetOrFetch downloads again.
func WithForceRefresh() CallOption {
	return func(o *callOptions) {
		o.forceRefresh = true
	}
}

func applyCallOptions(defaultTTL time.Duration, opts []CallOption) callOptions {
	o := callOptions{ttl: defaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
