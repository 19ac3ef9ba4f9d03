package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

const gapColumns = `id, external_id, content_type, gap_type, priority_score, reason,
	resolved, fill_attempts, last_error, detected_at, resolved_at, updated_at`

// GapRepository persists the gap registry.
type GapRepository struct {
	db *sqlx.DB
}

// NewGapRepository creates a new gap repository.
func NewGapRepository(db *sqlx.DB) *GapRepository {
	return &GapRepository{db: db}
}

// Upsert records findings keyed by (external_id, content_type). An
// unresolved gap keeps its type, reason and attempt count and only ever
// raises its priority. A resolved gap is reopened only once it has been
// resolved for longer than reopenAfter. Returns rows inserted or changed.
func (r *GapRepository) Upsert(ctx context.Context, findings []domain.GapFinding, reopenAfter time.Duration) (int, error) {
	findings = dedupeFindings(findings)
	if len(findings) == 0 {
		return 0, nil
	}

	n := len(findings)
	ids := make([]string, n)
	externalIDs := make([]int64, n)
	types := make([]string, n)
	gapTypes := make([]string, n)
	scores := make([]float64, n)
	reasons := make([]string, n)
	for i, f := range findings {
		ids[i] = uuid.NewString()
		externalIDs[i] = f.ExternalID
		types[i] = string(f.ContentType)
		gapTypes[i] = string(f.GapType)
		scores[i] = f.PriorityScore
		reasons[i] = f.Reason
	}

	query := `
		INSERT INTO gap_registry (id, external_id, content_type, gap_type, priority_score, reason)
		SELECT * FROM UNNEST($1::uuid[], $2::bigint[], $3::text[], $4::text[], $5::float8[], $6::text[])
		ON CONFLICT (external_id, content_type) DO UPDATE SET
			gap_type = CASE WHEN gap_registry.resolved THEN EXCLUDED.gap_type ELSE gap_registry.gap_type END,
			reason = CASE WHEN gap_registry.resolved THEN EXCLUDED.reason ELSE gap_registry.reason END,
			priority_score = CASE
				WHEN gap_registry.resolved THEN EXCLUDED.priority_score
				ELSE GREATEST(gap_registry.priority_score, EXCLUDED.priority_score)
			END,
			fill_attempts = CASE WHEN gap_registry.resolved THEN 0 ELSE gap_registry.fill_attempts END,
			last_error = CASE WHEN gap_registry.resolved THEN NULL ELSE gap_registry.last_error END,
			detected_at = CASE WHEN gap_registry.resolved THEN NOW() ELSE gap_registry.detected_at END,
			resolved = FALSE,
			resolved_at = NULL,
			updated_at = NOW()
		WHERE gap_registry.resolved = FALSE
		   OR gap_registry.resolved_at < NOW() - ($7 * INTERVAL '1 second')
	`

	result, err := r.db.ExecContext(ctx, query,
		pq.Array(ids), pq.Array(externalIDs), pq.Array(types), pq.Array(gapTypes),
		pq.Array(scores), pq.Array(reasons), int64(reopenAfter.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert gaps: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("upsert gaps rows affected: %w", err)
	}

	return int(affected), nil
}

// dedupeFindings collapses findings sharing a key, keeping the highest
// score. A single INSERT ... ON CONFLICT cannot touch the same row twice.
func dedupeFindings(findings []domain.GapFinding) []domain.GapFinding {
	best := make(map[domain.ItemKey]int, len(findings))
	out := make([]domain.GapFinding, 0, len(findings))

	for _, f := range findings {
		key := domain.ItemKey{ExternalID: f.ExternalID, ContentType: f.ContentType}
		if idx, ok := best[key]; ok {
			if f.PriorityScore > out[idx].PriorityScore {
				out[idx] = f
			}
			continue
		}
		best[key] = len(out)
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ContentType != out[j].ContentType {
			return out[i].ContentType < out[j].ContentType
		}
		return out[i].ExternalID < out[j].ExternalID
	})

	return out
}

// TopUnresolved returns up to limit unresolved gaps that still have fill
// attempts left, highest priority first.
func (r *GapRepository) TopUnresolved(ctx context.Context, limit, maxAttempts int) ([]domain.GapRecord, error) {
	query := `SELECT ` + gapColumns + `
		FROM gap_registry
		WHERE resolved = FALSE AND fill_attempts < $1
		ORDER BY priority_score DESC, detected_at ASC
		LIMIT $2
	`

	gaps := []domain.GapRecord{}
	if err := r.db.SelectContext(ctx, &gaps, query, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("select unresolved gaps: %w", err)
	}

	return gaps, nil
}

// MarkResolved closes a gap after its record was persisted.
func (r *GapRepository) MarkResolved(ctx context.Context, id string) error {
	query := `
		UPDATE gap_registry
		SET resolved = TRUE,
			resolved_at = NOW(),
			last_error = NULL,
			updated_at = NOW()
		WHERE id = $1 AND resolved = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, fmt.Errorf("unresolved gap %s: %w", id, ErrNotFound))
}

// RecordFillFailure counts a failed fill. A terminal failure exhausts the
// gap's attempts so it is no longer selected.
func (r *GapRepository) RecordFillFailure(ctx context.Context, id, reason string, terminal bool, maxAttempts int) error {
	query := `
		UPDATE gap_registry
		SET fill_attempts = CASE
				WHEN $1 THEN GREATEST(fill_attempts + 1, $2)
				ELSE fill_attempts + 1
			END,
			last_error = $3,
			updated_at = NOW()
		WHERE id = $4 AND resolved = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, terminal, maxAttempts, reason, id)
	return execRequireRows(result, err, fmt.Errorf("unresolved gap %s: %w", id, ErrNotFound))
}

// CountUnresolvedByType returns unresolved gaps per type.
func (r *GapRepository) CountUnresolvedByType(ctx context.Context) (map[domain.GapType]int, error) {
	query := `SELECT gap_type, COUNT(*) FROM gap_registry WHERE resolved = FALSE GROUP BY gap_type`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query unresolved gaps: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.GapType]int)
	for rows.Next() {
		var gapType string
		var count int
		if scanErr := rows.Scan(&gapType, &count); scanErr != nil {
			return nil, fmt.Errorf("scan unresolved gap count: %w", scanErr)
		}
		counts[domain.GapType(gapType)] = count
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate unresolved gaps: %w", rowsErr)
	}

	return counts, nil
}
