package gaps

import (
	"context"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/control"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/events"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/processor"
)

// PauseChecker reports the global pause flag.
type PauseChecker interface {
	Paused(ctx context.Context) (bool, error)
}

// FillQueue is the gap store's fill side.
type FillQueue interface {
	TopUnresolved(ctx context.Context, limit, maxAttempts int) ([]domain.GapRecord, error)
	MarkResolved(ctx context.Context, id string) error
	RecordFillFailure(ctx context.Context, id, reason string, terminal bool, maxAttempts int) error
}

// ItemProcessor materializes a single title.
type ItemProcessor interface {
	ProcessOne(ctx context.Context, key domain.ItemKey) error
}

// FillConfig bounds a fill run.
type FillConfig struct {
	BatchSize       int
	MaxFillAttempts int
}

// FillResult reports one fill run.
type FillResult struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
	// Abandoned gaps hit a terminal error and will not be selected again.
	Abandoned int `json:"abandoned"`
	// Stopped is set when the run ended early because the catalog could
	// not be used; the remaining gaps keep their attempt counts.
	Stopped bool   `json:"stopped"`
	Reason  string `json:"reason,omitempty"`
}

// Filler backfills the highest-priority unresolved gaps.
type Filler struct {
	gate      PauseChecker
	gaps      FillQueue
	processor ItemProcessor
	publisher *events.Publisher
	cfg       FillConfig
	log       logger.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewFiller creates a filler. publisher and metrics may be nil.
func NewFiller(
	gate PauseChecker,
	gaps FillQueue,
	proc ItemProcessor,
	publisher *events.Publisher,
	cfg FillConfig,
	log logger.Logger,
	metrics *observability.Metrics,
) *Filler {
	return &Filler{
		gate:      gate,
		gaps:      gaps,
		processor: proc,
		publisher: publisher,
		cfg:       cfg,
		log:       log.With(logger.Component("gap-filler")),
		metrics:   metrics,
		tracer:    observability.NewTracer(),
	}
}

// Fill processes up to limit gaps in priority order; limit <= 0 uses the
// configured batch size. Gaps are handled one at a time.
func (f *Filler) Fill(ctx context.Context, limit int) (FillResult, error) {
	var result FillResult

	paused, err := f.gate.Paused(ctx)
	if err != nil {
		return result, err
	}
	if paused {
		return result, control.ErrPaused
	}

	if limit <= 0 {
		limit = f.cfg.BatchSize
	}

	ctx, span := f.tracer.GapSpan(ctx, "fill")
	defer span.End()

	pending, err := f.gaps.TopUnresolved(ctx, limit, f.cfg.MaxFillAttempts)
	if err != nil {
		observability.RecordError(span, err)
		return result, err
	}

	for i := range pending {
		gap := pending[i]
		result.Attempted++

		stop, fillErr := f.fillOne(ctx, gap, &result)
		if fillErr != nil {
			observability.RecordError(span, fillErr)
			return result, fillErr
		}
		if stop {
			result.Attempted--
			break
		}
	}

	f.log.Info("Gap fill finished",
		logger.Int("attempted", result.Attempted),
		logger.Int("resolved", result.Resolved),
		logger.Int("failed", result.Failed),
		logger.Int("abandoned", result.Abandoned),
		logger.Bool("stopped", result.Stopped),
	)
	return result, nil
}

// fillOne reports stop when the run should end without touching gap.
func (f *Filler) fillOne(ctx context.Context, gap domain.GapRecord, result *FillResult) (bool, error) {
	procErr := f.processor.ProcessOne(ctx, gap.Key())

	switch processor.Classify(procErr) {
	case processor.OutcomeCompleted, processor.OutcomeSkipped:
		if err := f.gaps.MarkResolved(ctx, gap.ID); err != nil {
			return false, err
		}
		result.Resolved++
		f.metrics.GapResolved()
		f.publisher.PublishAsync(events.Event{
			EventType: events.GapResolved,
			Payload: map[string]any{
				"gap_id":       gap.ID,
				"external_id":  gap.ExternalID,
				"content_type": gap.ContentType,
				"gap_type":     gap.GapType,
			},
		})
		return false, nil

	case processor.OutcomeReleased:
		result.Stopped = true
		result.Reason = procErr.Error()
		f.log.Warn("Stopping gap fill", logger.String("gap_id", gap.ID), logger.Error(procErr))
		return true, nil

	case processor.OutcomeFailed:
		result.Abandoned++
		f.metrics.GapFillFailed("terminal")
		return false, f.gaps.RecordFillFailure(ctx, gap.ID, procErr.Error(), true, f.cfg.MaxFillAttempts)

	default:
		result.Failed++
		f.metrics.GapFillFailed("transient")
		f.log.Warn("Gap fill failed",
			logger.String("gap_id", gap.ID),
			logger.Int("fill_attempts", gap.FillAttempts+1),
			logger.Error(procErr),
		)
		return false, f.gaps.RecordFillFailure(ctx, gap.ID, procErr.Error(), false, f.cfg.MaxFillAttempts)
	}
}
