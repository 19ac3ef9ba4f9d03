package observability

import (
	"fmt"
	"os"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

// ProfilerConfig configures continuous profiling.
type ProfilerConfig struct {
	Enabled     bool
	ServerURL   string
	Environment string
	Service     string
	Version     string
}

// Profiler wraps a running Pyroscope profiler. A nil *Profiler is valid.
type Profiler struct {
	profiler *pyroscope.Profiler
}

// StartProfiler starts continuous profiling. It returns nil, nil when
// profiling is disabled.
func StartProfiler(cfg ProfilerConfig, log logger.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "north-cloud." + cfg.Service,
		ServerAddress:   cfg.ServerURL,
		Logger:          pyroscopeLogger{log: log.With(logger.Component("profiler"))},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": cfg.Environment,
			"version":     cfg.Version,
			"hostname":    hostname,
			"go_version":  runtime.Version(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope profiler: %w", err)
	}

	log.Info("Continuous profiling started",
		logger.String("server", cfg.ServerURL),
		logger.String("environment", cfg.Environment),
	)
	return &Profiler{profiler: p}, nil
}

// Stop flushes and stops the profiler.
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}
	return p.profiler.Stop()
}

// pyroscopeLogger adapts logger.Logger to pyroscope.Logger.
type pyroscopeLogger struct {
	log logger.Logger
}

func (l pyroscopeLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l pyroscopeLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l pyroscopeLogger) Errorf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
