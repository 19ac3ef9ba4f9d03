// Package bootstrap builds the catalog-sync object graph from configuration.
// Every CLI command and the serve mode share the same wiring.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/config"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/control"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/coordination"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/discovery"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/events"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/gaps"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/people"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/priority"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/processor"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/syncjob"
)

// App holds the wired services.
type App struct {
	Config   *config.Config
	Log      logger.Logger
	DB       *sqlx.DB
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Catalog   *catalog.Client
	Publisher *events.Publisher
	Locker    *coordination.Locker

	Queue    *database.QueueRepository
	Jobs     *database.JobRepository
	Content  *database.ContentRepository
	Gaps     *database.GapRepository
	People   *database.PeopleRepository
	Settings *database.SettingsRepository

	Gate         *control.Gate
	Status       *control.StatusService
	Processor    *processor.Processor
	Orchestrator *syncjob.Orchestrator
	Detector     *gaps.Detector
	Filler       *gaps.Filler
	Enricher     *people.Enricher
}

// LoadConfig loads configuration from path, or CONFIG_PATH, or config.yml.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath("config.yml")
	}
	return config.Load(path)
}

// CreateLogger builds the service logger tagged with service and version.
func CreateLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Service.Debug,
	})
	if err != nil {
		return nil, err
	}
	return log.With(
		logger.String("service", cfg.Service.Name),
		logger.String("version", cfg.Service.Version),
	), nil
}

// New connects to Postgres (and Redis when configured) and wires every
// component. Redis failures degrade to running without locks and events.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	window, err := syncjob.ParseWindow(cfg.Sync.LaunchWindow, cfg.Sync.Timezone)
	if err != nil {
		return nil, err
	}
	buckets, err := discovery.BucketsFromConfig(cfg.Regions)
	if err != nil {
		return nil, err
	}

	db, err := SetupDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Redis:    SetupRedis(ctx, cfg, log),
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = observability.NewMetrics(app.Registry)

	app.Publisher = events.NewPublisher(app.Redis, cfg.Redis.Stream, log)
	app.Locker = coordination.NewLocker(app.Redis, coordination.DefaultLockTTL)

	app.Catalog = catalog.NewClient(catalog.Config{
		BaseURL:         cfg.Catalog.BaseURL,
		APIKey:          cfg.Catalog.APIKey,
		Language:        cfg.Catalog.Language,
		Timeout:         cfg.Catalog.Timeout,
		MinDelay:        cfg.Catalog.MinDelay,
		MaxDelay:        cfg.Catalog.MaxDelay,
		BreakerFailures: cfg.Catalog.BreakerFailures,
		BreakerOpen:     cfg.Catalog.BreakerOpenDuration,
	}, log, catalog.WithStateObserver(app.Metrics.BreakerTransition))

	app.Queue = database.NewQueueRepository(db)
	app.Jobs = database.NewJobRepository(db)
	app.Content = database.NewContentRepository(db)
	app.Gaps = database.NewGapRepository(db)
	app.People = database.NewPeopleRepository(db)
	app.Settings = database.NewSettingsRepository(db)

	app.Gate = control.NewGate(app.Settings, app.Publisher, log)
	app.Status = control.NewStatusService(app.Gate, app.Jobs, app.Queue, app.Gaps, app.Content,
		cfg.Sync.FailureHistory, app.Metrics)

	app.Processor = processor.New(app.Catalog, app.Content, app.Queue, processor.Config{
		Concurrency:         cfg.Sync.Concurrency,
		RetryBaseDelay:      cfg.Sync.RetryBaseDelay,
		RateLimitMultiplier: cfg.Sync.RateLimitMultiplier,
	}, log, app.Metrics)

	dedup := discovery.NewDedupFilter(app.Queue)
	aggregator := discovery.NewAggregator(app.Catalog, priority.NewScorer(cfg.Priority), buckets,
		cfg.Sync.SortBy, cfg.Sync.OverFetchFactor, log, discovery.WithKnownFilter(dedup))

	app.Orchestrator = syncjob.New(syncjob.Deps{
		Gate:      app.Gate,
		Jobs:      app.Jobs,
		Queue:     app.Queue,
		Discover:  aggregator,
		Dedup:     dedup,
		Processor: app.Processor,
		Publisher: app.Publisher,
		Metrics:   app.Metrics,
	}, syncjob.Config{
		Quota:                  cfg.Sync.DailyQuota,
		BatchSize:              cfg.Sync.BatchSize,
		MaxAttempts:            cfg.Sync.MaxAttempts,
		MaxConsecutiveFailures: cfg.Sync.MaxConsecutiveFailures,
		ClaimTimeout:           cfg.Sync.ClaimTimeout,
		Window:                 window,
	}, log)

	app.Detector = gaps.NewDetector(app.Catalog, app.Content, app.Gaps, gaps.DetectorConfig{
		ContentTypes:      domain.ContentTypes,
		Countries:         regionCountries(buckets),
		SequentialWindow:  cfg.Gaps.SequentialWindow,
		PopularityPages:   cfg.Gaps.PopularityPages,
		TemporalYears:     cfg.Gaps.TemporalYears,
		TemporalThreshold: cfg.Gaps.TemporalThreshold,
		TemporalPages:     cfg.Gaps.TemporalPages,
		MetadataLimit:     cfg.Gaps.MetadataLimit,
		ChangesDays:       cfg.Gaps.ChangesDays,
		ChangesMaxPages:   cfg.Gaps.ChangesMaxPages,
		ReopenAfter:       cfg.Gaps.ReopenAfter,
		SortBy:            cfg.Sync.SortBy,
	}, app.Publisher, log, app.Metrics)

	app.Filler = gaps.NewFiller(app.Gate, app.Gaps, app.Processor, app.Publisher, gaps.FillConfig{
		BatchSize:       cfg.Gaps.FillBatchSize,
		MaxFillAttempts: cfg.Gaps.MaxFillAttempts,
	}, log, app.Metrics)

	app.Enricher = people.NewEnricher(app.Gate, app.Catalog, app.People, people.Config{
		BatchSize:    cfg.People.BatchSize,
		MaxAttempts:  cfg.People.MaxAttempts,
		RefreshAfter: cfg.People.RefreshAfter,
	}, log, app.Metrics)

	return app, nil
}

// regionCountries is the union of bucket countries in first-seen order.
func regionCountries(buckets []discovery.Bucket) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, b := range buckets {
		for _, c := range b.Countries {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Sweep deletes finalized queue items older than the configured retention.
func (a *App) Sweep(ctx context.Context) (int64, error) {
	deleted, err := a.Queue.Sweep(ctx, a.Config.Sync.SweepRetention)
	if err != nil {
		return 0, fmt.Errorf("sweep queue: %w", err)
	}
	a.Log.Info("Queue swept", logger.Int64("deleted", deleted))
	return deleted, nil
}

// Close releases connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
