package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

var (
	// ErrNoRunningJob is returned by GetRunning when no job is running.
	ErrNoRunningJob = errors.New("no running sync job")

	// ErrJobAlreadyRunning is returned by Start when another invocation
	// already holds the single running-job slot.
	ErrJobAlreadyRunning = errors.New("a sync job is already running")
)

const jobColumns = `id, status, trigger, quota, discovered, queued, processed, succeeded,
	failed, skipped, region_counts, consecutive_failures, last_error,
	started_at, completed_at, created_at, updated_at`

// JobRepository persists sync jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Start inserts job as running and enqueues its selected items in one
// transaction, then records how many were actually queued. A crash before
// commit leaves neither the job nor its items behind.
func (r *JobRepository) Start(ctx context.Context, job *domain.SyncJob, items []domain.QueueItem, maxAttempts int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin start job transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	insert := `
		INSERT INTO sync_jobs (id, status, trigger, quota, discovered, region_counts, started_at)
		VALUES ($1, 'running', $2, $3, $4, $5, NOW())
	`
	if _, execErr := tx.ExecContext(ctx, insert,
		job.ID, job.Trigger, job.Quota, job.Discovered, job.RegionCounts,
	); execErr != nil {
		if IsUniqueViolation(execErr) {
			return 0, ErrJobAlreadyRunning
		}
		return 0, fmt.Errorf("insert sync job: %w", execErr)
	}

	queued, enqueueErr := insertQueueItems(ctx, tx, EnqueueParams{
		JobID:       &job.ID,
		Source:      domain.QueueSourceDiscovery,
		MaxAttempts: maxAttempts,
		Items:       items,
	})
	if enqueueErr != nil {
		return 0, enqueueErr
	}

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE sync_jobs SET queued = $1, updated_at = NOW() WHERE id = $2`, queued, job.ID,
	); execErr != nil {
		return 0, fmt.Errorf("record queued count: %w", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return 0, fmt.Errorf("commit start job transaction: %w", commitErr)
	}

	job.Status = domain.JobStatusRunning
	job.Queued = queued
	return queued, nil
}

// CreateFailed records a job whose discovery failed before anything was
// queued, so the failure is visible in status.
func (r *JobRepository) CreateFailed(ctx context.Context, job *domain.SyncJob, reason string) error {
	query := `
		INSERT INTO sync_jobs (id, status, trigger, quota, discovered, region_counts, last_error, started_at, completed_at)
		VALUES ($1, 'failed', $2, $3, $4, $5, $6, NOW(), NOW())
	`

	if _, err := r.db.ExecContext(ctx, query,
		job.ID, job.Trigger, job.Quota, job.Discovered, job.RegionCounts, reason,
	); err != nil {
		return fmt.Errorf("insert failed sync job: %w", err)
	}

	job.Status = domain.JobStatusFailed
	job.LastError = &reason
	return nil
}

// GetRunning returns the running job or ErrNoRunningJob.
func (r *JobRepository) GetRunning(ctx context.Context) (*domain.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE status = 'running' LIMIT 1`

	var job domain.SyncJob
	if err := r.db.GetContext(ctx, &job, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRunningJob
		}
		return nil, fmt.Errorf("get running job: %w", err)
	}

	return &job, nil
}

// Latest returns the most recently created job or ErrNotFound.
func (r *JobRepository) Latest(ctx context.Context) (*domain.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs ORDER BY created_at DESC LIMIT 1`

	var job domain.SyncJob
	if err := r.db.GetContext(ctx, &job, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest job: %w", err)
	}

	return &job, nil
}

// Transition moves a job from one status to another. The update only
// applies while the row is still in from, so racing ticks cannot both
// finalize the same job.
func (r *JobRepository) Transition(ctx context.Context, id string, from, to domain.JobStatus, reason *string) error {
	if err := domain.ValidateJobTransition(from, to); err != nil {
		return err
	}

	query := `
		UPDATE sync_jobs
		SET status = $1,
			last_error = COALESCE($2, last_error),
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, string(to), reason, id, string(from))
	return execRequireRows(result, err, fmt.Errorf("sync job %s in %s: %w", id, from, ErrNotFound))
}

// RecordProgress adds one batch's outcome counters and clears the
// consecutive-failure streak.
func (r *JobRepository) RecordProgress(ctx context.Context, id string, p domain.JobProgress) error {
	query := `
		UPDATE sync_jobs
		SET processed = processed + $1,
			succeeded = succeeded + $2,
			failed = failed + $3,
			skipped = skipped + $4,
			consecutive_failures = 0,
			updated_at = NOW()
		WHERE id = $5
	`

	result, err := r.db.ExecContext(ctx, query, p.Processed, p.Succeeded, p.Failed, p.Skipped, id)
	return execRequireRows(result, err, fmt.Errorf("sync job %s: %w", id, ErrNotFound))
}

// RecordBatchFailure counts a batch-level failure and returns the new
// consecutive-failure streak.
func (r *JobRepository) RecordBatchFailure(ctx context.Context, id, reason string) (int, error) {
	query := `
		UPDATE sync_jobs
		SET consecutive_failures = consecutive_failures + 1,
			last_error = $1,
			updated_at = NOW()
		WHERE id = $2
		RETURNING consecutive_failures
	`

	var streak int
	if err := r.db.GetContext(ctx, &streak, query, reason, id); err != nil {
		return 0, fmt.Errorf("record batch failure: %w", err)
	}

	return streak, nil
}
