package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/bootstrap"
)

func queueCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "queue",
		Short: "Queue maintenance",
	}

	retry := &cobra.Command{
		Use:   "retry-failed [id...]",
		Short: "Reset failed items to pending; with no ids, every failed item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				n, err := app.Queue.RetryFailed(ctx, args)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"reset": n})
			})
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete finalized items older than sync.sweep_retention",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				n, err := app.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"deleted": n})
			})
		},
	}

	c.AddCommand(retry, sweep)
	return c
}
