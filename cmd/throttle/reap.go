package main

import (
	"context"
	"fmt"
	"throttle/internal/config"
	"throttle/internal/ratelimit"
	"throttle/internal/storage"
	"time"

	"github.com/spf13/cobra"
)

func newReapCmd(configPath *string) *cobra.Command {
	var (
		retention time.Duration
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete expired counters once and exit",
		Long: `reap removes counter records whose window closed more than the
retention period ago. It is meant for cron jobs against a shared SQL store;
the serve command runs the same sweep periodically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retention") {
				cfg.RateLimit.Retention = retention
			}

			store, err := storage.NewFactory(cfg.RateLimit.MaxRetries).Create(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			reaper := ratelimit.NewReaper(store, ratelimit.StaticSettings(cfg.RateLimit.Settings()), 0, cfg.RateLimit.Retention)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			removed, err := reaper.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired counters from %s storage\n", removed, cfg.Storage.Type)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override rate_limit.retention")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}
