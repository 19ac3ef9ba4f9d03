// Package cmd implements the catalog-sync command-line interface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/config"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           "catalog-sync",
		Short:         "Catalog ingestion pipeline",
		Long:          `Discovers titles from the upstream catalog, queues them by priority and materializes them into Postgres.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config.yml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "catalog-sync version %s\n", Version)
		},
	})

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(syncCommands()...)
	rootCmd.AddCommand(gapsCommand())
	rootCmd.AddCommand(peopleCommand())
	rootCmd.AddCommand(queueCommand())
	rootCmd.AddCommand(migrateCommand())
}

func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if Version != "dev" {
		cfg.Service.Version = Version
	}
	log, err := bootstrap.CreateLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

// withApp wires the application for a one-shot command and tears it down
// afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.Warn("Close failed", logger.Error(closeErr))
		}
	}()

	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
