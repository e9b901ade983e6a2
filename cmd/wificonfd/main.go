package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "wificonfd",
		Short:         "Saved Wi-Fi network profile repository",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the YAML config file")

	// load reads and validates the config and installs the configured
	// logger as the default.
	load := func() (*Config, *slog.Logger, error) {
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid config: %w", err)
		}
		logger := newLogger(cfg)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}
	report := func(err error) error {
		if err != nil {
			slog.Error("wificonfd", "err", err)
		}
		return err
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the daemon with the HTTP API, MQTT bridge and periodic flush",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return report(err)
			}
			return report(runServe(cmd.Context(), cfg, logger))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the stored profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return report(err)
			}
			return report(runList(cfg, logger, cmd.OutOrStdout()))
		},
	})

	var importUID int
	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Add the profiles in a YAML file to the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return report(err)
			}
			return report(runImport(cfg, logger, args[0], importUID, cmd.OutOrStdout()))
		},
	}
	importCmd.Flags().IntVar(&importUID, "uid", 1000, "uid the imported profiles are created by")
	root.AddCommand(importCmd)
	return root
}
