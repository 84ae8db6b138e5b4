// Package fetch downloads remote assets for the blob tier.
package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jmgilman/go/errors"
)

// DefaultTimeout bounds a whole download when the caller's context has no
// deadline.
const DefaultTimeout = 60 * time.Second

// HTTPFetcher issues plain GET requests. Any status outside 2xx is a failure.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithClient sets the HTTP client used for downloads.
func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// NewHTTPFetcher returns a fetcher using a client with DefaultTimeout.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: "contentcache",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch opens the body of url. The caller must close the returned body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid download url %q", url)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNetwork, "failed to download %q", url)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, errors.WithContext(
			errors.Newf(errors.CodeNetwork, "download of %q returned status %d", url, resp.StatusCode),
			"status", resp.StatusCode,
		)
	}

	return resp.Body, nil
}
