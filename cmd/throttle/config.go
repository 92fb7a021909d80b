package main

import (
	"errors"
	"fmt"
	"throttle/internal/config"

	"github.com/spf13/cobra"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and generate configuration",
	}

	var output string
	example := &cobra.Command{
		Use:   "example",
		Short: "Print an example configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				if err := config.SaveExample(output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\n", output)
				return nil
			}
			data, err := config.ExampleYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	example.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the file given with --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *configPath == "" {
				return errors.New("no configuration file given, pass --config")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (storage: %s, limit: %d per %ds)\n",
				cfg.Storage.Type, cfg.RateLimit.Limit, cfg.RateLimit.WindowSeconds)
			return nil
		},
	}
	cmd.AddCommand(example, validate)
	return cmd
}
