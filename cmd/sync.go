package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/bootstrap"
)

// syncCommands are the one-shot triggers for external schedulers.
func syncCommands() []*cobra.Command {
	tick := &cobra.Command{
		Use:   "tick",
		Short: "Run one orchestration step: drain a batch or start a job inside the launch window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				result, err := app.Orchestrator.Tick(ctx, time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}

	runNow := &cobra.Command{
		Use:   "run-now",
		Short: "Start a sync job immediately, ignoring the launch window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				result, err := app.Orchestrator.RunNow(ctx, time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}

	var output string
	status := &cobra.Command{
		Use:   "status",
		Short: "Print pause state, job, queue, gap and content summaries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != outputTable && output != outputJSON {
				return fmt.Errorf("invalid --output %q: want %s or %s", output, outputTable, outputJSON)
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				report, err := app.Status.Status(ctx)
				if err != nil {
					return err
				}
				if output == outputJSON {
					return printJSON(cmd, report)
				}
				renderStatus(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	status.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table or json")

	return []*cobra.Command{tick, runNow, pauseCommand(true), pauseCommand(false), status}
}

func pauseCommand(paused bool) *cobra.Command {
	use, short := "resume", "Resume sync processing"
	if paused {
		use, short = "pause", "Pause sync processing; running work finishes its current batch"
	}

	var by string
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				set := app.Gate.Resume
				if paused {
					set = app.Gate.Pause
				}
				state, err := set(ctx, by)
				if err != nil {
					return err
				}
				return printJSON(cmd, state)
			})
		},
	}
	c.Flags().StringVar(&by, "by", defaultActor(), "who is changing the pause state")
	return c
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}
