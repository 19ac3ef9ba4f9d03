// Package processor fetches full details for claimed queue items, persists
// them and finalizes each item's queue status.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
)

// finalizeTimeout bounds the status write made after the batch context is gone.
const finalizeTimeout = 10 * time.Second

// DetailsFetcher loads the full catalog payload for one title.
type DetailsFetcher interface {
	Details(ctx context.Context, contentType domain.ContentType, id int64) (*catalog.Details, error)
}

// ContentStore persists canonical records and their credits. Save writes
// both or neither.
type ContentStore interface {
	Save(ctx context.Context, rec *domain.ContentRecord, credits domain.Credits) error
	CreatedSince(ctx context.Context, key domain.ItemKey, since time.Time) (bool, error)
}

// QueueStore finalizes claimed items.
type QueueStore interface {
	MarkCompleted(ctx context.Context, id string) error
	MarkSkipped(ctx context.Context, id, reason string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkRetry(ctx context.Context, id, reason string, delay time.Duration) (database.RetryOutcome, error)
	Release(ctx context.Context, id string) error
}

// Config controls concurrency and retry timing.
type Config struct {
	Concurrency         int
	RetryBaseDelay      time.Duration
	RateLimitMultiplier int
}

// BatchResult summarizes one batch. Succeeded, Failed and Skipped are
// final outcomes; Retried items return later; Released items never ran.
type BatchResult struct {
	Succeeded   int
	Failed      int
	Skipped     int
	Retried     int
	Released    int
	Unreachable bool
	// LastError is the batch-level cause when Unreachable is set.
	LastError error
}

// Processed is the number of items that reached a final status.
func (r BatchResult) Processed() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// Progress converts the result into job counter increments.
func (r BatchResult) Progress() domain.JobProgress {
	return domain.JobProgress{
		Processed: r.Processed(),
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
	}
}

// Processor runs the fetch, map, upsert and link steps.
type Processor struct {
	catalog DetailsFetcher
	content ContentStore
	queue   QueueStore
	cfg     Config
	log     logger.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New creates a processor. metrics may be nil.
func New(
	client DetailsFetcher,
	content ContentStore,
	queue QueueStore,
	cfg Config,
	log logger.Logger,
	metrics *observability.Metrics,
) *Processor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Processor{
		catalog: client,
		content: content,
		queue:   queue,
		cfg:     cfg,
		log:     log.With(logger.Component("processor")),
		metrics: metrics,
		tracer:  observability.NewTracer(),
	}
}

// ProcessBatch processes claimed items concurrently. One item's failure
// never aborts the others; every item leaves processing before return.
func (p *Processor) ProcessBatch(ctx context.Context, jobID string, items []domain.QueueItem) BatchResult {
	ctx, span := p.tracer.BatchSpan(ctx, jobID, len(items))
	defer span.End()

	var (
		mu     sync.Mutex
		result BatchResult
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for i := range items {
		item := items[i]
		g.Go(func() error {
			outcome, err := p.processItem(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeCompleted:
				result.Succeeded++
			case OutcomeFailed:
				result.Failed++
			case OutcomeSkipped:
				result.Skipped++
			case OutcomeRetry:
				result.Retried++
			case OutcomeReleased:
				result.Released++
				if Unreachable(err) {
					result.Unreachable = true
					result.LastError = err
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("batch.succeeded", result.Succeeded),
		attribute.Int("batch.failed", result.Failed),
		attribute.Int("batch.retried", result.Retried),
		attribute.Bool("batch.unreachable", result.Unreachable),
	)
	if result.Unreachable {
		observability.RecordError(span, result.LastError)
	}

	return result
}

// processItem runs one item and writes its final queue status. The returned
// outcome reflects what was written, which for a retry on the last attempt
// is failed.
func (p *Processor) processItem(ctx context.Context, item domain.QueueItem) (Outcome, error) {
	start := time.Now()
	key := item.Key()

	ctx, span := p.tracer.ItemSpan(ctx, key.String())
	defer span.End()

	err := p.checkDuplicate(ctx, item)
	if err == nil {
		err = p.materialize(ctx, key)
	}

	outcome := Classify(err)
	final, finalizeErr := p.finalize(ctx, item, outcome, err)
	if finalizeErr != nil {
		// The item stays processing; stale recovery returns it to pending.
		p.log.Error("Failed to finalize queue item",
			logger.String("item_id", item.ID),
			logger.String("key", key.String()),
			logger.String("outcome", string(outcome)),
			logger.Error(finalizeErr),
		)
		observability.RecordError(span, finalizeErr)
	}

	span.SetAttributes(attribute.String("item.outcome", string(final)))
	if err != nil {
		observability.RecordError(span, err)
	}
	p.metrics.ItemProcessed(string(final), time.Since(start))

	return final, err
}

// checkDuplicate reports ErrDuplicate when a discovery item's record was
// created after the item was queued, i.e. a racing path such as gap fill
// already materialized it. Items on a retry are not checked. A released
// item cannot have written the record itself because Save is atomic.
func (p *Processor) checkDuplicate(ctx context.Context, item domain.QueueItem) error {
	if item.Source != domain.QueueSourceDiscovery || item.Attempts > 0 || item.CreatedAt.IsZero() {
		return nil
	}
	exists, err := p.content.CreatedSince(ctx, item.Key(), item.CreatedAt)
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return ErrDuplicate
	}
	return nil
}

// ProcessOne fetches and persists one title outside the queue. Gap fill
// uses it to route findings straight through the same path.
func (p *Processor) ProcessOne(ctx context.Context, key domain.ItemKey) error {
	ctx, span := p.tracer.ItemSpan(ctx, key.String())
	defer span.End()

	start := time.Now()
	err := p.materialize(ctx, key)
	outcome := Classify(err)
	if err != nil {
		observability.RecordError(span, err)
	}
	p.metrics.ItemProcessed(string(outcome), time.Since(start))
	return err
}

// materialize is the shared fetch, map, upsert and link path.
func (p *Processor) materialize(ctx context.Context, key domain.ItemKey) error {
	details, err := p.catalog.Details(ctx, key.ContentType, key.ExternalID)
	if err != nil {
		return err
	}

	rec, credits := MapDetails(details)
	return p.content.Save(ctx, rec, credits)
}

// finalize writes the queue status for outcome. Writes use a context
// detached from cancellation so a shutdown mid-batch still leaves every
// item in a defined state.
func (p *Processor) finalize(ctx context.Context, item domain.QueueItem, outcome Outcome, cause error) (Outcome, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	log := p.log.With(
		logger.String("item_id", item.ID),
		logger.String("key", item.Key().String()),
	)

	switch outcome {
	case OutcomeCompleted:
		return outcome, p.queue.MarkCompleted(writeCtx, item.ID)

	case OutcomeSkipped:
		log.Info("Skipping item materialized elsewhere")
		return outcome, p.queue.MarkSkipped(writeCtx, item.ID, cause.Error())

	case OutcomeFailed:
		log.Warn("Item failed permanently",
			logger.String("kind", string(catalog.KindOf(cause))),
			logger.Error(cause),
		)
		return outcome, p.queue.MarkFailed(writeCtx, item.ID, cause.Error())

	case OutcomeReleased:
		log.Debug("Releasing item without consuming an attempt", logger.Error(cause))
		return outcome, p.queue.Release(writeCtx, item.ID)

	case OutcomeRetry:
		delay := Backoff(cause, item.Attempts+1, p.cfg.RetryBaseDelay, p.cfg.RateLimitMultiplier)
		res, err := p.queue.MarkRetry(writeCtx, item.ID, cause.Error(), delay)
		if err != nil {
			return outcome, err
		}
		if res.Status == domain.QueueStatusFailed {
			log.Warn("Item exhausted its attempts",
				logger.Int("attempts", res.Attempts),
				logger.Error(cause),
			)
			return OutcomeFailed, nil
		}
		log.Info("Item scheduled for retry",
			logger.Int("attempts", res.Attempts),
			logger.Duration("delay", delay),
			logger.Error(cause),
		)
		return outcome, nil
	}

	return outcome, fmt.Errorf("unknown outcome %q", outcome)
}
