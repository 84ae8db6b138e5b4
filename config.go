package contentcache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmgilman/go/errors"
)

const (
	// DefaultMaxSizeBytes is the size limit used when none is configured.
	DefaultMaxSizeBytes int64 = 100 * 1024 * 1024
	// DefaultTTL applies to structured values stored without WithTTL.
	DefaultTTL = 24 * time.Hour
	// DefaultBlobTTL applies to downloaded files fetched without WithTTL.
	DefaultBlobTTL = 7 * 24 * time.Hour
	// DefaultEvictionHeadroom is the fraction of MaxSizeBytes an eviction
	// sweep reduces the cache to.
	DefaultEvictionHeadroom = 0.8
)

// Config holds the size and expiry policy of a Cache.
type Config struct {
	// MaxSizeBytes is the total tracked size above which eviction runs.
	MaxSizeBytes int64

	// DefaultTTL is the lifetime of structured values.
	DefaultTTL time.Duration

	// BlobDefaultTTL is the lifetime of downloaded files.
	BlobDefaultTTL time.Duration

	// EvictionHeadroom is the fraction of MaxSizeBytes left in use after an
	// eviction sweep. Must be in (0, 1].
	EvictionHeadroom float64
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{
		MaxSizeBytes:     DefaultMaxSizeBytes,
		DefaultTTL:       DefaultTTL,
		BlobDefaultTTL:   DefaultBlobTTL,
		EvictionHeadroom: DefaultEvictionHeadroom,
	}
}

// SetDefaults fills zero fields with their defaults.
func (c *Config) SetDefaults() {
	if c.MaxSizeBytes == 0 {
		c.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.BlobDefaultTTL == 0 {
		c.BlobDefaultTTL = DefaultBlobTTL
	}
	if c.EvictionHeadroom == 0 {
		c.EvictionHeadroom = DefaultEvictionHeadroom
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxSizeBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.DefaultTTL, validation.Required, validation.Min(time.Nanosecond)),
		validation.Field(&c.BlobDefaultTTL, validation.Required, validation.Min(time.Nanosecond)),
		validation.Field(&c.EvictionHeadroom, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(1.0)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid cache configuration")
	}
	return nil
}

// evictionTarget is the total size an eviction sweep reduces the cache to.
func (c Config) evictionTarget() int64 {
	return int64(float64(c.MaxSizeBytes) * c.EvictionHeadroom)
}
