// Package cli implements the contentcache command.
package cli

import (
	"context"

	"github.com/jmgilman/go/contentcache"
	"github.com/jmgilman/go/contentcache/blob"
	"github.com/jmgilman/go/contentcache/internal/config"
	"github.com/jmgilman/go/contentcache/kv"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries state shared by every subcommand.
type app struct {
	v       *viper.Viper
	envFile string
}

// NewRootCommand builds the contentcache command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "contentcache",
		Short:         "Inspect and maintain a size-bounded content cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.String("store", config.StoreFS, "record store: fs, sqlite, postgres or valkey")
	flags.String("dir", "", "cache directory (fs store, sqlite file and blobs)")
	flags.String("dsn", "", "postgres connection string")
	flags.String("valkey-addr", "", "valkey server address")
	flags.String("valkey-password", "", "valkey password")
	flags.Int("valkey-db", 0, "valkey database number")
	flags.String("blob-mode", config.BlobLocal, "blob tier: local or passthrough")
	flags.String("max-size", "", "cache size limit, for example 200MB")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("log-json", false, "emit JSON logs")

	for flag, key := range map[string]string{
		"store":           "store",
		"dir":             "dir",
		"dsn":             "dsn",
		"valkey-addr":     "valkey_addr",
		"valkey-password": "valkey_password",
		"valkey-db":       "valkey_db",
		"blob-mode":       "blob_mode",
		"max-size":        "max_size",
		"log-level":       "log_level",
		"log-json":        "log_json",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newPutCommand(a),
		newGetCommand(a),
		newRemoveCommand(a),
		newFetchCommand(a),
		newStatsCommand(a),
		newClearCommand(a),
		newClearExpiredCommand(a),
		newJanitorCommand(a),
	)
	return root
}

// withCache opens the configured cache, runs fn and closes the cache.
func (a *app) withCache(ctx context.Context, fn func(c *contentcache.Cache) error) error {
	s, err := config.Load(a.v, a.envFile)
	if err != nil {
		return err
	}
	c, err := open(ctx, s)
	if err != nil {
		return err
	}

	runErr := fn(c)
	if err := c.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func open(ctx context.Context, s config.Settings) (*contentcache.Cache, error) {
	cfg, err := s.CacheConfig()
	if err != nil {
		return nil, err
	}

	local := billy.NewLocal()

	var store kv.Store
	switch s.Store {
	case config.StoreSQLite:
		if err := local.MkdirAll(s.Dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create %s", s.Dir)
		}
		store, err = kv.OpenSQLite(s.SQLitePath())
	case config.StorePostgres:
		store, err = kv.OpenPostgres(s.DSN)
	case config.StoreValkey:
		store, err = kv.NewValkeyStore(kv.ValkeyConfig{
			Address:        s.ValkeyAddr,
			Password:       s.ValkeyPassword,
			DB:             s.ValkeyDB,
			KeyPrefix:      s.ValkeyPrefix,
			ConnectTimeout: kv.DefaultConnectTimeout,
		})
	default:
		store, err = kv.NewFSStore(local, s.StoreDir())
	}
	if err != nil {
		return nil, err
	}

	var blobs blob.Store = blob.NewPassthroughStore()
	if s.BlobMode == config.BlobLocal {
		fsBlobs, err := blob.NewFilesystemStore(local, s.BlobDir())
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		blobs = fsBlobs
	}

	c, err := contentcache.New(ctx,
		contentcache.WithConfig(cfg),
		contentcache.WithStore(store),
		contentcache.WithBlobStore(blobs),
		contentcache.WithLogger(contentcache.NewLogger(s.LogConfig())),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}
