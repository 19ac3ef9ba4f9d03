package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger API and, when enabled, the built-in scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, serve)
		},
	}
}

func serve(ctx context.Context, app *bootstrap.App) error {
	srv, err := app.SetupHTTPServer()
	if err != nil {
		return err
	}

	profiler, err := observability.StartProfiler(observability.ProfilerConfig{
		Enabled:     app.Config.Profiling.Enabled,
		ServerURL:   app.Config.Profiling.ServerURL,
		Environment: app.Config.Profiling.Environment,
		Service:     app.Config.Service.Name,
		Version:     app.Config.Service.Version,
	}, app.Log)
	if err != nil {
		app.Log.Warn("Continuous profiling unavailable", logger.Error(err))
	}
	defer func() { _ = profiler.Stop() }()

	if app.Config.Schedule.Enabled {
		sched, schedErr := app.SetupScheduler()
		if schedErr != nil {
			return schedErr
		}
		sched.Start()
		defer sched.Stop()
	} else {
		app.Log.Info("Built-in scheduler disabled, waiting for external triggers")
	}

	app.Log.Info("Starting catalog-sync",
		logger.Int("port", app.Config.Service.Port),
		logger.Bool("redis", app.Redis != nil),
	)
	return srv.Run(ctx)
}
