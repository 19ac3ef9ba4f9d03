// Package syncjob drives the daily sync job across many short ticks: one
// tick discovers and queues the day's selection, later ticks drain it in
// bounded batches. All state lives in the database between ticks.
package syncjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/control"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/discovery"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/events"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/processor"
)

// TickAction is what one tick did.
type TickAction string

const (
	ActionPaused    TickAction = "paused"
	ActionProcessed TickAction = "processed"
	ActionCompleted TickAction = "completed"
	ActionStarted   TickAction = "started"
	ActionIdle      TickAction = "idle"
	ActionFailed    TickAction = "failed"
)

// Trigger names what launched a job.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// TickResult describes one tick.
type TickResult struct {
	Action  TickAction            `json:"action"`
	JobID   string                `json:"job_id,omitempty"`
	Queued  int                   `json:"queued,omitempty"`
	Claimed int                   `json:"claimed,omitempty"`
	Batch   processor.BatchResult `json:"-"`
	Reason  string                `json:"reason,omitempty"`
}

// PauseChecker reads the pause flag.
type PauseChecker interface {
	Paused(ctx context.Context) (bool, error)
}

// JobStore persists sync jobs.
type JobStore interface {
	Start(ctx context.Context, job *domain.SyncJob, items []domain.QueueItem, maxAttempts int) (int, error)
	CreateFailed(ctx context.Context, job *domain.SyncJob, reason string) error
	GetRunning(ctx context.Context) (*domain.SyncJob, error)
	Latest(ctx context.Context) (*domain.SyncJob, error)
	Transition(ctx context.Context, id string, from, to domain.JobStatus, reason *string) error
	RecordProgress(ctx context.Context, id string, p domain.JobProgress) error
	RecordBatchFailure(ctx context.Context, id, reason string) (int, error)
}

// WorkQueue is the claim side of the queue store.
type WorkQueue interface {
	ResetStale(ctx context.Context, olderThan time.Duration) (int64, error)
	Claim(ctx context.Context, limit int) ([]domain.QueueItem, error)
	CountOutstanding(ctx context.Context, jobID string) (int, error)
}

// Discoverer runs region discovery.
type Discoverer interface {
	Discover(ctx context.Context, quota int, now time.Time) (*discovery.Result, error)
}

// Deduplicator drops already-known candidates.
type Deduplicator interface {
	Filter(ctx context.Context, candidates []discovery.Candidate) ([]discovery.Candidate, error)
}

// BatchProcessor processes one claimed batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, jobID string, items []domain.QueueItem) processor.BatchResult
}

// Config holds orchestration limits.
type Config struct {
	Quota                  int
	BatchSize              int
	MaxAttempts            int
	MaxConsecutiveFailures int
	ClaimTimeout           time.Duration
	Window                 Window
}

// Orchestrator runs the job state machine one tick at a time.
type Orchestrator struct {
	gate      PauseChecker
	jobs      JobStore
	queue     WorkQueue
	discover  Discoverer
	dedup     Deduplicator
	processor BatchProcessor
	publisher *events.Publisher
	cfg       Config
	log       logger.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// Deps groups the orchestrator's collaborators.
type Deps struct {
	Gate      PauseChecker
	Jobs      JobStore
	Queue     WorkQueue
	Discover  Discoverer
	Dedup     Deduplicator
	Processor BatchProcessor
	Publisher *events.Publisher
	Metrics   *observability.Metrics
}

// New creates an orchestrator. Publisher and Metrics may be nil.
func New(deps Deps, cfg Config, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		gate:      deps.Gate,
		jobs:      deps.Jobs,
		queue:     deps.Queue,
		discover:  deps.Discover,
		dedup:     deps.Dedup,
		processor: deps.Processor,
		publisher: deps.Publisher,
		cfg:       cfg,
		log:       log.With(logger.Component("orchestrator")),
		metrics:   deps.Metrics,
		tracer:    observability.NewTracer(),
	}
}

// Tick executes one step: pause check, then drain the running job, else
// start a job if the launch window is open and has not been used yet.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	return o.run(ctx, now, TriggerSchedule)
}

// RunNow starts a job immediately, ignoring the launch window. It refuses
// while paused or while a job is running.
func (o *Orchestrator) RunNow(ctx context.Context, now time.Time) (TickResult, error) {
	return o.run(ctx, now, TriggerManual)
}

func (o *Orchestrator) run(ctx context.Context, now time.Time, trigger string) (TickResult, error) {
	start := time.Now()
	ctx, span := o.tracer.TickSpan(ctx, trigger)
	defer span.End()

	result, err := o.step(ctx, now, trigger)
	if err != nil {
		observability.RecordError(span, err)
	}
	span.SetAttributes(attribute.String("sync.action", string(result.Action)))
	if result.Action != "" {
		o.metrics.ObserveTick(string(result.Action), time.Since(start))
	}
	return result, err
}

func (o *Orchestrator) step(ctx context.Context, now time.Time, trigger string) (TickResult, error) {
	paused, err := o.gate.Paused(ctx)
	if err != nil {
		return TickResult{}, err
	}
	if paused {
		if trigger == TriggerManual {
			return TickResult{Action: ActionPaused}, control.ErrPaused
		}
		return TickResult{Action: ActionPaused}, nil
	}

	job, err := o.jobs.GetRunning(ctx)
	switch {
	case err == nil:
		if trigger == TriggerManual {
			return TickResult{Action: ActionIdle, JobID: job.ID}, database.ErrJobAlreadyRunning
		}
		return o.drain(ctx, job)
	case !errors.Is(err, database.ErrNoRunningJob):
		return TickResult{}, err
	}

	if trigger == TriggerSchedule {
		open, reason, windowErr := o.windowOpen(ctx, now)
		if windowErr != nil {
			return TickResult{}, windowErr
		}
		if !open {
			return TickResult{Action: ActionIdle, Reason: reason}, nil
		}
	}

	return o.startJob(ctx, now, trigger)
}

// windowOpen reports whether a scheduled job may start now: the window must
// contain now and no job may have been created since it opened.
func (o *Orchestrator) windowOpen(ctx context.Context, now time.Time) (bool, string, error) {
	if !o.cfg.Window.Contains(now) {
		return false, "outside launch window " + o.cfg.Window.String(), nil
	}

	latest, err := o.jobs.Latest(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return true, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if !latest.CreatedAt.Before(o.cfg.Window.OpenedAt(now)) {
		return false, "job " + latest.ID + " already ran in this window", nil
	}
	return true, "", nil
}

// drain processes one batch of the running job, or completes it.
func (o *Orchestrator) drain(ctx context.Context, job *domain.SyncJob) (TickResult, error) {
	result := TickResult{JobID: job.ID}

	reset, err := o.queue.ResetStale(ctx, o.cfg.ClaimTimeout)
	if err != nil {
		return result, fmt.Errorf("reset stale items: %w", err)
	}
	if reset > 0 {
		o.log.Warn("Recovered stale processing items", logger.Int64("count", reset))
	}

	items, err := o.queue.Claim(ctx, o.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	if len(items) == 0 {
		return o.completeIfDrained(ctx, job)
	}

	result.Claimed = len(items)
	batch := o.processor.ProcessBatch(ctx, job.ID, items)
	result.Batch = batch

	if batch.Unreachable && batch.Processed() == 0 {
		return o.recordUnreachable(ctx, job, batch, result)
	}

	if progressErr := o.jobs.RecordProgress(ctx, job.ID, batch.Progress()); progressErr != nil {
		return result, progressErr
	}

	o.log.Info("Processed batch",
		logger.String("job_id", job.ID),
		logger.Int("claimed", len(items)),
		logger.Int("succeeded", batch.Succeeded),
		logger.Int("failed", batch.Failed),
		logger.Int("skipped", batch.Skipped),
		logger.Int("retried", batch.Retried),
		logger.Int("released", batch.Released),
	)
	result.Action = ActionProcessed
	return result, nil
}

// completeIfDrained completes the job once no item of it is pending or
// processing. Items waiting out a retry delay keep the job running.
func (o *Orchestrator) completeIfDrained(ctx context.Context, job *domain.SyncJob) (TickResult, error) {
	result := TickResult{JobID: job.ID}

	outstanding, err := o.queue.CountOutstanding(ctx, job.ID)
	if err != nil {
		return result, err
	}
	if outstanding > 0 {
		result.Action = ActionIdle
		result.Reason = fmt.Sprintf("%d items waiting for retry", outstanding)
		return result, nil
	}

	if transErr := o.jobs.Transition(ctx, job.ID, domain.JobStatusRunning, domain.JobStatusCompleted, nil); transErr != nil {
		if errors.Is(transErr, database.ErrNotFound) {
			// Another tick completed it first.
			result.Action = ActionIdle
			return result, nil
		}
		return result, transErr
	}

	o.log.Info("Sync job completed", logger.String("job_id", job.ID))
	o.metrics.JobTransition(string(domain.JobStatusCompleted))
	o.publish(ctx, events.Event{EventType: events.JobCompleted, JobID: job.ID})

	result.Action = ActionCompleted
	return result, nil
}

// recordUnreachable counts a batch that never reached the catalog. The job
// stays running until the streak passes the configured ceiling.
func (o *Orchestrator) recordUnreachable(
	ctx context.Context,
	job *domain.SyncJob,
	batch processor.BatchResult,
	result TickResult,
) (TickResult, error) {
	reason := "catalog unreachable"
	if batch.LastError != nil {
		reason = batch.LastError.Error()
	}
	result.Reason = reason

	streak, err := o.jobs.RecordBatchFailure(ctx, job.ID, reason)
	if err != nil {
		return result, err
	}

	o.log.Warn("Batch could not reach the catalog",
		logger.String("job_id", job.ID),
		logger.Int("consecutive_failures", streak),
		logger.Int("max_consecutive_failures", o.cfg.MaxConsecutiveFailures),
		logger.String("reason", reason),
	)

	if streak <= o.cfg.MaxConsecutiveFailures {
		result.Action = ActionProcessed
		return result, nil
	}

	failReason := fmt.Sprintf("%d consecutive batch failures: %s", streak, reason)
	if transErr := o.jobs.Transition(ctx, job.ID, domain.JobStatusRunning, domain.JobStatusFailed, &failReason); transErr != nil {
		return result, transErr
	}

	o.log.Error("Sync job failed", logger.String("job_id", job.ID), logger.String("reason", failReason))
	o.metrics.JobTransition(string(domain.JobStatusFailed))
	o.publish(ctx, events.Event{
		EventType: events.JobFailed,
		JobID:     job.ID,
		Payload:   map[string]any{"reason": failReason},
	})

	result.Action = ActionFailed
	result.Reason = failReason
	return result, nil
}

// startJob runs discovery, dedup and selection, then persists the job and
// its items in one transaction.
func (o *Orchestrator) startJob(ctx context.Context, now time.Time, trigger string) (TickResult, error) {
	job := &domain.SyncJob{
		ID:           uuid.NewString(),
		Trigger:      trigger,
		Quota:        o.cfg.Quota,
		RegionCounts: domain.RegionCounts{},
	}
	result := TickResult{JobID: job.ID}

	selection, err := o.selectItems(ctx, job, now)
	if err != nil {
		return o.failDiscovery(ctx, job, err)
	}

	items := selection.QueueItems()
	job.RegionCounts = selection.RegionCounts

	queued, err := o.jobs.Start(ctx, job, items, o.cfg.MaxAttempts)
	if errors.Is(err, database.ErrJobAlreadyRunning) {
		result.Action = ActionIdle
		result.Reason = "another invocation started a job"
		if trigger == TriggerManual {
			return result, err
		}
		return result, nil
	}
	if err != nil {
		return result, err
	}

	o.log.Info("Sync job started",
		logger.String("job_id", job.ID),
		logger.String("trigger", trigger),
		logger.Int("discovered", job.Discovered),
		logger.Int("selected", len(items)),
		logger.Int("queued", queued),
		logger.Any("region_counts", job.RegionCounts),
	)
	o.metrics.JobTransition(string(domain.JobStatusRunning))
	o.metrics.Enqueued(string(domain.QueueSourceDiscovery), queued)
	o.publish(ctx, events.Event{
		EventType: events.JobStarted,
		JobID:     job.ID,
		Payload: map[string]any{
			"trigger":       trigger,
			"quota":         job.Quota,
			"queued":        queued,
			"region_counts": job.RegionCounts,
		},
	})

	result.Action = ActionStarted
	result.Queued = queued
	return result, nil
}

func (o *Orchestrator) selectItems(ctx context.Context, job *domain.SyncJob, now time.Time) (discovery.Selection, error) {
	ctx, span := o.tracer.DiscoverySpan(ctx, o.cfg.Quota)
	defer span.End()

	found, err := o.discover.Discover(ctx, o.cfg.Quota, now)
	if err != nil {
		observability.RecordError(span, err)
		return discovery.Selection{}, err
	}
	job.Discovered = len(found.Candidates)

	fresh, err := o.dedup.Filter(ctx, found.Candidates)
	if err != nil {
		observability.RecordError(span, err)
		return discovery.Selection{}, err
	}

	span.SetAttributes(
		attribute.Int("discovery.candidates", len(found.Candidates)),
		attribute.Int("discovery.fresh", len(fresh)),
		attribute.Int("discovery.failed_pages", found.FailedPages),
	)
	return discovery.SelectTop(fresh, o.cfg.Quota), nil
}

// failDiscovery records a job that failed before queueing anything.
func (o *Orchestrator) failDiscovery(ctx context.Context, job *domain.SyncJob, cause error) (TickResult, error) {
	result := TickResult{JobID: job.ID, Action: ActionFailed, Reason: cause.Error()}

	if err := o.jobs.CreateFailed(ctx, job, cause.Error()); err != nil {
		return result, errors.Join(cause, err)
	}

	o.log.Error("Sync job discovery failed", logger.String("job_id", job.ID), logger.Error(cause))
	o.metrics.JobTransition(string(domain.JobStatusFailed))
	o.publish(ctx, events.Event{
		EventType: events.JobFailed,
		JobID:     job.ID,
		Payload:   map[string]any{"reason": cause.Error(), "phase": "discovery"},
	})
	return result, nil
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.log.Warn("Failed to publish sync event",
			logger.String("event_type", string(event.EventType)),
			logger.Error(err),
		)
	}
}
