// Package people refreshes contributor profiles linked through credits.
package people

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/control"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/processor"
)

// Catalog fetches person details.
type Catalog interface {
	Person(ctx context.Context, id int64) (*catalog.PersonDetails, error)
}

// Store is the people table's enrichment side.
type Store interface {
	NeedingEnrichment(ctx context.Context, limit, maxAttempts int, staleBefore time.Time) ([]int64, error)
	SaveProfile(ctx context.Context, p domain.PersonProfile) error
	RecordEnrichFailure(ctx context.Context, id int64, reason string, terminal bool, maxAttempts int) error
}

// PauseChecker reports the global pause flag.
type PauseChecker interface {
	Paused(ctx context.Context) (bool, error)
}

// Config bounds an enrichment run.
type Config struct {
	BatchSize   int
	MaxAttempts int
	// RefreshAfter is how old a profile may get before it is fetched again.
	RefreshAfter time.Duration
}

// Result reports one enrichment run.
type Result struct {
	Attempted int    `json:"attempted"`
	Enriched  int    `json:"enriched"`
	Failed    int    `json:"failed"`
	Abandoned int    `json:"abandoned"`
	Stopped   bool   `json:"stopped"`
	Reason    string `json:"reason,omitempty"`
}

// Enricher fetches full profiles for people that credits linked by id and
// name only.
type Enricher struct {
	gate    PauseChecker
	catalog Catalog
	store   Store
	cfg     Config
	log     logger.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewEnricher creates an enricher. metrics may be nil.
func NewEnricher(
	gate PauseChecker,
	cat Catalog,
	store Store,
	cfg Config,
	log logger.Logger,
	metrics *observability.Metrics,
) *Enricher {
	return &Enricher{
		gate:    gate,
		catalog: cat,
		store:   store,
		cfg:     cfg,
		log:     log.With(logger.Component("people-enricher")),
		metrics: metrics,
		tracer:  observability.NewTracer(),
	}
}

// Enrich refreshes up to limit people, never-enriched first; limit <= 0
// uses the configured batch size. The run stops at the first error that
// means the catalog cannot be used right now.
func (e *Enricher) Enrich(ctx context.Context, limit int, now time.Time) (Result, error) {
	var result Result

	paused, err := e.gate.Paused(ctx)
	if err != nil {
		return result, err
	}
	if paused {
		return result, control.ErrPaused
	}

	if limit <= 0 {
		limit = e.cfg.BatchSize
	}

	ctx, span := e.tracer.PeopleSpan(ctx, limit)
	defer span.End()

	ids, err := e.store.NeedingEnrichment(ctx, limit, e.cfg.MaxAttempts, now.Add(-e.cfg.RefreshAfter))
	if err != nil {
		observability.RecordError(span, err)
		return result, err
	}

	for _, id := range ids {
		stop, enrichErr := e.enrichOne(ctx, id, &result)
		if enrichErr != nil {
			observability.RecordError(span, enrichErr)
			return result, enrichErr
		}
		if stop {
			break
		}
		result.Attempted++
	}

	e.log.Info("People enrichment finished",
		logger.Int("attempted", result.Attempted),
		logger.Int("enriched", result.Enriched),
		logger.Int("failed", result.Failed),
		logger.Int("abandoned", result.Abandoned),
		logger.Bool("stopped", result.Stopped),
	)
	return result, nil
}

func (e *Enricher) enrichOne(ctx context.Context, id int64, result *Result) (bool, error) {
	details, fetchErr := e.catalog.Person(ctx, id)
	if fetchErr == nil {
		if err := e.store.SaveProfile(ctx, processor.MapPerson(details)); err != nil {
			return false, err
		}
		result.Enriched++
		e.metrics.PersonEnriched("enriched")
		return false, nil
	}

	switch processor.Classify(fetchErr) {
	case processor.OutcomeReleased:
		result.Stopped = true
		result.Reason = fetchErr.Error()
		e.log.Warn("Stopping people enrichment", logger.Int64("person_id", id), logger.Error(fetchErr))
		return true, nil

	case processor.OutcomeFailed:
		result.Abandoned++
		e.metrics.PersonEnriched("abandoned")
		return false, e.store.RecordEnrichFailure(ctx, id, fetchErr.Error(), true, e.cfg.MaxAttempts)

	default:
		result.Failed++
		e.metrics.PersonEnriched("failed")
		e.log.Warn("Person enrichment failed", logger.Int64("person_id", id), logger.Error(fetchErr))
		return false, e.store.RecordEnrichFailure(ctx, id, fetchErr.Error(), false, e.cfg.MaxAttempts)
	}
}
