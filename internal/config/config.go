// Package config loads settings for the contentcache command from a .env
// file, CONTENTCACHE_* environment variables and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmgilman/go/contentcache"
	"github.com/jmgilman/go/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CONTENTCACHE"

// Store backends.
const (
	StoreFS       = "fs"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreValkey   = "valkey"
)

// Blob modes.
const (
	BlobLocal       = "local"
	BlobPassthrough = "passthrough"
)

// Settings configures the cache the command operates on.
type Settings struct {
	Store          string        `mapstructure:"store"`
	Dir            string        `mapstructure:"dir"`
	DSN            string        `mapstructure:"dsn"`
	ValkeyAddr     string        `mapstructure:"valkey_addr"`
	ValkeyPassword string        `mapstructure:"valkey_password"`
	ValkeyDB       int           `mapstructure:"valkey_db"`
	ValkeyPrefix   string        `mapstructure:"valkey_prefix"`
	BlobMode       string        `mapstructure:"blob_mode"`
	MaxSize        string        `mapstructure:"max_size"`
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	BlobTTL        time.Duration `mapstructure:"blob_ttl"`
	Headroom       float64       `mapstructure:"headroom"`
	LogLevel       string        `mapstructure:"log_level"`
	LogJSON        bool          `mapstructure:"log_json"`
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store", StoreFS)
	v.SetDefault("dir", defaultDir())
	v.SetDefault("dsn", "")
	v.SetDefault("valkey_addr", "")
	v.SetDefault("valkey_password", "")
	v.SetDefault("valkey_db", 0)
	v.SetDefault("valkey_prefix", "contentcache")
	v.SetDefault("blob_mode", BlobLocal)
	v.SetDefault("max_size", humanize.IBytes(uint64(contentcache.DefaultMaxSizeBytes)))
	v.SetDefault("default_ttl", contentcache.DefaultTTL)
	v.SetDefault("blob_ttl", contentcache.DefaultBlobTTL)
	v.SetDefault("headroom", contentcache.DefaultEvictionHeadroom)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_json", false)
}

func defaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "contentcache")
	}
	return ".contentcache"
}

// Load reads envFile (if it exists) into the process environment, then
// resolves settings from v, which should already have its flags bound.
func Load(v *viper.Viper, envFile string) (Settings, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Settings{}, errors.Wrapf(err, errors.CodeInvalidConfig, "failed to load %s", envFile)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	SetDefaults(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to decode settings")
	}

	if s.Dir != "" {
		abs, err := filepath.Abs(s.Dir)
		if err != nil {
			return Settings{}, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid directory %q", s.Dir)
		}
		s.Dir = abs
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks that the settings describe a usable cache.
func (s Settings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Store, validation.Required,
			validation.In(StoreFS, StoreSQLite, StorePostgres, StoreValkey)),
		validation.Field(&s.Dir, validation.Required),
		validation.Field(&s.DSN, validation.When(s.Store == StorePostgres, validation.Required)),
		validation.Field(&s.ValkeyAddr, validation.When(s.Store == StoreValkey, validation.Required)),
		validation.Field(&s.BlobMode, validation.Required, validation.In(BlobLocal, BlobPassthrough)),
		validation.Field(&s.MaxSize, validation.Required, validation.By(func(any) error {
			_, err := humanize.ParseBytes(s.MaxSize)
			return err
		})),
		validation.Field(&s.LogLevel, validation.By(func(any) error {
			_, err := contentcache.ParseLogLevel(s.LogLevel)
			return err
		})),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid settings")
	}
	return nil
}

// CacheConfig converts the settings into a cache configuration.
func (s Settings) CacheConfig() (contentcache.Config, error) {
	size, err := humanize.ParseBytes(s.MaxSize)
	if err != nil {
		return contentcache.Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid max size %q", s.MaxSize)
	}
	cfg := contentcache.Config{
		MaxSizeBytes:     int64(size),
		DefaultTTL:       s.DefaultTTL,
		BlobDefaultTTL:   s.BlobTTL,
		EvictionHeadroom: s.Headroom,
	}
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}

// LogConfig converts the settings into a logger configuration.
func (s Settings) LogConfig() contentcache.LogConfig {
	level, _ := contentcache.ParseLogLevel(s.LogLevel)
	return contentcache.LogConfig{Level: level, JSON: s.LogJSON}
}

// StoreDir is where the filesystem store keeps its records.
func (s Settings) StoreDir() string {
	return filepath.Join(s.Dir, "store")
}

// BlobDir is where downloaded files are kept.
func (s Settings) BlobDir() string {
	return filepath.Join(s.Dir, "blobs")
}

// SQLitePath is the database file used by the sqlite store.
func (s Settings) SQLitePath() string {
	return filepath.Join(s.Dir, "cache.db")
}
