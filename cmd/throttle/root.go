package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "throttle",
		Short: "Fixed-window per-client rate limiter",
		Long: `throttle admits or denies requests per client IP using fixed time windows.

Counters live in memory, SQLite, PostgreSQL or Redis so several instances
can share one budget per client. Configuration is read from a YAML file and
THROTTLE_* environment variables; the rate limit section can be reloaded
at runtime with SIGHUP or through the admin API.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newReapCmd(&configPath),
		newConfigCmd(&configPath),
		newVersionCmd(),
	)
	return root
}
