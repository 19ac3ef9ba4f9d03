package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// queueColumns is the column list for SELECT/RETURNING on queue_items.
const queueColumns = `id, external_id, content_type, job_id, source, region, title,
	region_score, type_score, popularity_score, recency_bonus, priority,
	status, attempts, max_attempts, last_error, available_at,
	created_at, updated_at, processed_at`

// QueueRepository is the durable work queue.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// EnqueueParams describes a batch of items to add to the queue.
type EnqueueParams struct {
	JobID       *string
	Source      domain.QueueSource
	MaxAttempts int
	Items       []domain.QueueItem
}

// Enqueue inserts items outside of a job transaction and returns how many
// were new. Keys that already have a queue row are left untouched.
func (r *QueueRepository) Enqueue(ctx context.Context, params EnqueueParams) (int, error) {
	return insertQueueItems(ctx, r.db, params)
}

// insertQueueItems writes all items in a single UNNEST statement so a batch
// is either fully considered or not at all.
func insertQueueItems(ctx context.Context, exec sqlx.ExecerContext, params EnqueueParams) (int, error) {
	if len(params.Items) == 0 {
		return 0, nil
	}

	n := len(params.Items)
	ids := make([]string, n)
	externalIDs := make([]int64, n)
	types := make([]string, n)
	regions := make([]string, n)
	titles := make([]string, n)
	regionScores := make([]int64, n)
	typeScores := make([]int64, n)
	popScores := make([]int64, n)
	recency := make([]int64, n)
	priorities := make([]int64, n)

	for i := range params.Items {
		item := &params.Items[i]
		ids[i] = item.ID
		externalIDs[i] = item.ExternalID
		types[i] = string(item.ContentType)
		regions[i] = item.Region
		titles[i] = item.Title
		regionScores[i] = int64(item.RegionScore)
		typeScores[i] = int64(item.TypeScore)
		popScores[i] = int64(item.PopularityScore)
		recency[i] = int64(item.RecencyBonus)
		priorities[i] = int64(item.Total())
	}

	query := `
		INSERT INTO queue_items (
			id, external_id, content_type, job_id, source, region, title,
			region_score, type_score, popularity_score, recency_bonus, priority,
			status, attempts, max_attempts
		)
		SELECT u.id, u.external_id, u.content_type, $1::uuid, $2::text, u.region, u.title,
			u.region_score, u.type_score, u.popularity_score, u.recency_bonus, u.priority,
			'pending', 0, $3::int
		FROM UNNEST(
			$4::uuid[], $5::bigint[], $6::text[], $7::text[], $8::text[],
			$9::int[], $10::int[], $11::int[], $12::int[], $13::int[]
		) AS u(id, external_id, content_type, region, title,
			region_score, type_score, popularity_score, recency_bonus, priority)
		ON CONFLICT (external_id, content_type) DO NOTHING
	`

	result, err := exec.ExecContext(ctx, query,
		params.JobID, string(params.Source), params.MaxAttempts,
		pq.Array(ids), pq.Array(externalIDs), pq.Array(types), pq.Array(regions), pq.Array(titles),
		pq.Array(regionScores), pq.Array(typeScores), pq.Array(popScores), pq.Array(recency), pq.Array(priorities),
	)
	if err != nil {
		return 0, fmt.Errorf("insert queue items: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert queue items rows affected: %w", err)
	}

	return int(inserted), nil
}

// UnknownKeys returns the subset of keys that have neither a content record
// nor a queue row, preserving input order. One round trip for the whole set.
func (r *QueueRepository) UnknownKeys(ctx context.Context, keys []domain.ItemKey) ([]domain.ItemKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ids, types := splitKeys(keys)
	query := `
		SELECT k.external_id, k.content_type
		FROM UNNEST($1::bigint[], $2::text[]) WITH ORDINALITY AS k(external_id, content_type, ord)
		WHERE NOT EXISTS (
			SELECT 1 FROM content_records c
			WHERE c.external_id = k.external_id AND c.content_type = k.content_type
		)
		AND NOT EXISTS (
			SELECT 1 FROM queue_items q
			WHERE q.external_id = k.external_id AND q.content_type = k.content_type
		)
		ORDER BY k.ord
	`

	var unknown []domain.ItemKey
	if err := r.db.SelectContext(ctx, &unknown, query, pq.Array(ids), pq.Array(types)); err != nil {
		return nil, fmt.Errorf("select unknown keys: %w", err)
	}

	return unknown, nil
}

// Claim atomically moves up to limit due pending items to processing and
// returns them ordered by priority, then age. Rows locked by a concurrent
// claimant are skipped, so concurrent claims never overlap.
func (r *QueueRepository) Claim(ctx context.Context, limit int) ([]domain.QueueItem, error) {
	query := `
		UPDATE queue_items
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM queue_items
			WHERE status = 'pending'
			  AND available_at <= NOW()
			ORDER BY priority DESC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	var items []domain.QueueItem
	if err := r.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("claim queue items: %w", err)
	}

	// RETURNING order is unspecified.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	return items, nil
}

// MarkCompleted finalizes a processing item as completed.
func (r *QueueRepository) MarkCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE queue_items
		SET status = 'completed',
			last_error = NULL,
			processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, fmt.Errorf("processing queue item %s: %w", id, ErrNotFound))
}

// MarkSkipped finalizes a processing item whose record was materialized by
// another path.
func (r *QueueRepository) MarkSkipped(ctx context.Context, id, reason string) error {
	query := `
		UPDATE queue_items
		SET status = 'skipped',
			last_error = $1,
			processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $2 AND status = 'processing'
	`

	result, err := r.db.ExecContext(ctx, query, reason, id)
	return execRequireRows(result, err, fmt.Errorf("processing queue item %s: %w", id, ErrNotFound))
}

// MarkFailed records a terminal failure. The attempt is counted but never
// beyond max_attempts.
func (r *QueueRepository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE queue_items
		SET status = 'failed',
			attempts = LEAST(attempts + 1, max_attempts),
			last_error = $1,
			processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $2 AND status = 'processing'
	`

	result, err := r.db.ExecContext(ctx, query, reason, id)
	return execRequireRows(result, err, fmt.Errorf("processing queue item %s: %w", id, ErrNotFound))
}

// RetryOutcome is the state a retryable failure left the item in.
type RetryOutcome struct {
	Status   domain.QueueStatus `db:"status"`
	Attempts int                `db:"attempts"`
}

// MarkRetry counts a retryable failure. While attempts stay below
// max_attempts the item returns to pending and becomes claimable again after
// delay; the attempt that reaches max_attempts fails it terminally.
func (r *QueueRepository) MarkRetry(ctx context.Context, id, reason string, delay time.Duration) (RetryOutcome, error) {
	query := `
		UPDATE queue_items
		SET attempts = attempts + 1,
			last_error = $1,
			status = CASE
				WHEN attempts + 1 >= max_attempts THEN 'failed'
				ELSE 'pending'
			END,
			available_at = CASE
				WHEN attempts + 1 >= max_attempts THEN available_at
				ELSE NOW() + ($2 * INTERVAL '1 millisecond')
			END,
			processed_at = CASE
				WHEN attempts + 1 >= max_attempts THEN NOW()
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE id = $3 AND status = 'processing'
		RETURNING status, attempts
	`

	var outcome RetryOutcome
	if err := r.db.GetContext(ctx, &outcome, query, reason, delay.Milliseconds(), id); err != nil {
		return RetryOutcome{}, fmt.Errorf("mark retry %s: %w", id, err)
	}

	return outcome, nil
}

// Release returns a processing item to pending without consuming an
// attempt. Used when the catalog was unreachable and the item never ran.
func (r *QueueRepository) Release(ctx context.Context, id string) error {
	query := `
		UPDATE queue_items
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, fmt.Errorf("processing queue item %s: %w", id, ErrNotFound))
}

// RetryFailed resets failed items to pending with attempts cleared. With no
// ids every failed item is reset.
func (r *QueueRepository) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	query := `
		UPDATE queue_items
		SET status = 'pending',
			attempts = 0,
			last_error = NULL,
			processed_at = NULL,
			available_at = NOW(),
			updated_at = NOW()
		WHERE status = 'failed'
	`
	args := []any{}
	if len(ids) > 0 {
		query += ` AND id = ANY($1)`
		args = append(args, pq.Array(ids))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed queue items: %w", err)
	}

	return result.RowsAffected()
}

// ResetStale returns items stuck in processing for longer than olderThan to
// pending. An invocation that died mid-batch leaves such rows behind.
func (r *QueueRepository) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE queue_items
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing'
		  AND updated_at < NOW() - ($1 * INTERVAL '1 second')
	`

	result, err := r.db.ExecContext(ctx, query, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reset stale queue items: %w", err)
	}

	return result.RowsAffected()
}

// Sweep deletes finalized items older than retention.
func (r *QueueRepository) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM queue_items
		WHERE status IN ('completed', 'failed', 'skipped')
		  AND updated_at < NOW() - ($1 * INTERVAL '1 second')
	`

	result, err := r.db.ExecContext(ctx, query, int64(retention.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("sweep queue items: %w", err)
	}

	return result.RowsAffected()
}

// CountOutstanding returns pending plus processing items belonging to a job.
func (r *QueueRepository) CountOutstanding(ctx context.Context, jobID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_items
		WHERE job_id = $1 AND status IN ('pending', 'processing')
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, jobID); err != nil {
		return 0, fmt.Errorf("count outstanding queue items: %w", err)
	}

	return count, nil
}

// CountByStatus returns the per-status queue breakdown.
func (r *QueueRepository) CountByStatus(ctx context.Context) (domain.QueueCounts, error) {
	query := `SELECT status, COUNT(*) FROM queue_items GROUP BY status`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return domain.QueueCounts{}, fmt.Errorf("query queue counts: %w", err)
	}
	defer rows.Close()

	var counts domain.QueueCounts
	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return domain.QueueCounts{}, fmt.Errorf("scan queue count: %w", scanErr)
		}
		assignQueueCount(&counts, domain.QueueStatus(status), count)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return domain.QueueCounts{}, fmt.Errorf("iterate queue counts: %w", rowsErr)
	}

	return counts, nil
}

func assignQueueCount(counts *domain.QueueCounts, status domain.QueueStatus, count int) {
	switch status {
	case domain.QueueStatusPending:
		counts.Pending = count
	case domain.QueueStatusProcessing:
		counts.Processing = count
	case domain.QueueStatusCompleted:
		counts.Completed = count
	case domain.QueueStatusFailed:
		counts.Failed = count
	case domain.QueueStatusSkipped:
		counts.Skipped = count
	}
}

// RecentFailures returns the most recently failed items.
func (r *QueueRepository) RecentFailures(ctx context.Context, limit int) ([]domain.QueueFailure, error) {
	query := `
		SELECT external_id, content_type, attempts, COALESCE(last_error, '') AS last_error, updated_at
		FROM queue_items
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1
	`

	failures := []domain.QueueFailure{}
	if err := r.db.SelectContext(ctx, &failures, query, limit); err != nil {
		return nil, fmt.Errorf("select recent failures: %w", err)
	}

	return failures, nil
}
