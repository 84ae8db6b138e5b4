package cli

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmgilman/go/contentcache"
	"github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"
)

// ErrMiss is returned by commands that found nothing in the cache.
var ErrMiss = errors.New(errors.CodeNotFound, "not cached")

func newPutCommand(a *app) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "put KEY VALUE",
		Short: "Store a value; valid JSON is stored as-is, anything else as a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(cmd.Context(), func(c *contentcache.Cache) error {
				var value any = args[1]
				if json.Valid([]byte(args[1])) {
					value = json.RawMessage(args[1])
				}
				c.Put(cmd.Context(), args[0], value, contentcache.WithTTL(ttl))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "entry lifetime (default from configuration)")
	return cmd
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print a cached value as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(cmd.Context(), func(c *contentcache.Cache) error {
				raw, ok := contentcache.GetAs[json.RawMessage](cmd.Context(), c, args[0])
				if !ok {
					return errors.Wrapf(ErrMiss, errors.CodeNotFound, "key %q", args[0])
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return err
			})
		},
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm KEY...",
		Aliases: []string{"remove"},
		Short:   "Remove cached values",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(cmd.Context(), func(c *contentcache.Cache) error {
				for _, key := range args {
					c.Remove(cmd.Context(), key)
				}
				return nil
			})
		},
	}
}

func newFetchCommand(a *app) *cobra.Command {
	var (
		ttl   time.Duration
		force bool
	)
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Download a file into the blob tier and print its local path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(cmd.Context(), func(c *contentcache.Cache) error {
				opts := []contentcache.CallOption{contentcache.WithTTL(ttl)}
				if force {
					opts = append(opts, contentcache.WithForceRefresh())
				}
				path, ok := c.GetOrFetch(cmd.Context(), args[0], opts...)
				if !ok {
					return errors.Wrapf(ErrMiss, errors.CodeNotFound, "url %q", args[0])
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "file lifetime (default from configuration)")
	cmd.Flags().BoolVar(&force, "force", false, "download even if a live copy is cached")
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCache(cmd.Context(), func(c *contentcache.Cache) error {
				stats := c.Stats(cmd.Context())
				cfg := c.Config()
				out := cmd.OutOrStdout()

				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(struct {
						contentcache.Stats
						MaxSizeBytes int64
					}{stats, cfg.MaxSizeBytes})
				}

				fmt.Fprintf(out, "entries:  %d\n", stats.EntryCount)
				fmt.Fprintf(out, "size:     %s of %s\n",
					humanize.IBytes(uint64(stats.TotalSizeBytes)),
					humanize.IBytes(uint64(cfg.MaxSizeBytes)))
				if stats.EntryCount > 0 {
					fmt.Fprintf(out, "oldest:   %s\n", humanize.Time(stats.OldestEntry))
					fmt.Fprintf(out, "newest:   %s\n", humanize.Time(stats.NewestEntry))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print machine-readable JSON")
	return cmd
}

func newClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached value and file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCache(cmd.Context(), func(c *contentcache.Cache) error {
				freed := c.Stats(cmd.Context()).TotalSizeBytes
				c.Clear(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", humanize.IBytes(uint64(freed)))
				return nil
			})
		},
	}
}

func newClearExpiredCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-expired",
		Short: "Remove entries whose lifetime has elapsed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCache(cmd.Context(), func(c *contentcache.Cache) error {
				n := c.ClearExpired(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired %s\n", n, plural(n, "entry", "entries"))
				return nil
			})
		},
	}
}

func newJanitorCommand(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Periodically remove expired entries until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.withCache(ctx, func(c *contentcache.Cache) error {
				c.ClearExpired(ctx)
				c.CleanupTemp(ctx)
				return c.RunHousekeeping(ctx, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Minute, "time between sweeps")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
