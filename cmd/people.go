package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/bootstrap"
)

func peopleCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "people",
		Short: "Maintain contributor profiles",
	}

	var limit int
	enrich := &cobra.Command{
		Use:   "enrich",
		Short: "Fetch full profiles for people linked through credits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				result, err := app.Enricher.Enrich(ctx, limit, time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	enrich.Flags().IntVar(&limit, "limit", 0, "maximum people to refresh (0 uses people.batch_size)")

	c.AddCommand(enrich)
	return c
}
