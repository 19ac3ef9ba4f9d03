package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply all migrations, or roll back the latest one",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{database.MigrateUp, database.MigrateDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := bootstrap.SetupDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err = database.Migrate(db.DB, cfg.Database.MigrationsPath, args[0]); err != nil {
				return err
			}
			log.Info("Migrations applied",
				logger.String("direction", args[0]),
				logger.String("source", cfg.Database.MigrationsPath),
			)
			return nil
		},
	}
}
