package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

func gapsCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "gaps",
		Short: "Detect and fill coverage gaps",
	}

	var types []string
	detect := &cobra.Command{
		Use:   "detect",
		Short: "Run gap detection signals and record findings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gapTypes := make([]domain.GapType, 0, len(types))
			for _, raw := range types {
				gt, err := domain.ParseGapType(raw)
				if err != nil {
					return err
				}
				gapTypes = append(gapTypes, gt)
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				return printJSON(cmd, app.Detector.Detect(ctx, time.Now(), gapTypes...))
			})
		},
	}
	detect.Flags().StringSliceVar(&types, "type", nil, "gap types to run (sequential, popularity, temporal, metadata); default all")

	var limit int
	fill := &cobra.Command{
		Use:   "fill",
		Short: "Materialize the highest-priority unresolved gaps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				result, err := app.Filler.Fill(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	fill.Flags().IntVar(&limit, "limit", 0, "maximum gaps to attempt (0 uses gaps.fill_batch_size)")

	c.AddCommand(detect, fill)
	return c
}
