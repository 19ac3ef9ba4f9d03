package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// PeopleRepository tracks contributor profile enrichment. Rows are created
// by credits linking; this repository only refreshes them.
type PeopleRepository struct {
	db *sqlx.DB
}

// NewPeopleRepository creates a new people repository.
func NewPeopleRepository(db *sqlx.DB) *PeopleRepository {
	return &PeopleRepository{db: db}
}

// NeedingEnrichment returns up to limit person ids that were never enriched
// or were last enriched before staleBefore. People that used up maxAttempts
// are left out. Never-enriched people come first.
func (r *PeopleRepository) NeedingEnrichment(
	ctx context.Context,
	limit, maxAttempts int,
	staleBefore time.Time,
) ([]int64, error) {
	query := `
		SELECT external_id FROM people
		WHERE enrich_attempts < $1
		  AND (enriched_at IS NULL OR enriched_at < $2)
		ORDER BY enriched_at NULLS FIRST, external_id
		LIMIT $3
	`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, maxAttempts, staleBefore, limit); err != nil {
		return nil, fmt.Errorf("select people needing enrichment: %w", err)
	}
	return ids, nil
}

// SaveProfile writes an enrichment result and clears the failure count.
func (r *PeopleRepository) SaveProfile(ctx context.Context, p domain.PersonProfile) error {
	query := `
		UPDATE people SET
			name = $2,
			biography = COALESCE($3, biography),
			birthday = COALESCE($4, birthday),
			deathday = COALESCE($5, deathday),
			place_of_birth = COALESCE($6, place_of_birth),
			known_for_department = COALESCE($7, known_for_department),
			gender = $8,
			popularity = $9,
			profile_path = COALESCE($10, profile_path),
			also_known_as = $11,
			imdb_id = COALESCE($12, imdb_id),
			wikidata_id = COALESCE($13, wikidata_id),
			enriched_at = NOW(),
			enrich_attempts = 0,
			enrich_error = NULL,
			updated_at = NOW()
		WHERE external_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		p.ExternalID, p.Name, p.Biography, p.Birthday, p.Deathday, p.PlaceOfBirth,
		p.KnownForDepartment, p.Gender, p.Popularity, p.ProfilePath,
		pq.Array(nonNil(p.AlsoKnownAs)), p.IMDbID, p.WikidataID,
	)
	return execRequireRows(result, err, fmt.Errorf("person %d: %w", p.ExternalID, ErrNotFound))
}

// RecordEnrichFailure counts a failed refresh. Terminal failures jump
// straight to maxAttempts so the person is not picked again.
func (r *PeopleRepository) RecordEnrichFailure(
	ctx context.Context,
	id int64,
	reason string,
	terminal bool,
	maxAttempts int,
) error {
	query := `
		UPDATE people
		SET enrich_attempts = CASE
				WHEN $1 THEN GREATEST(enrich_attempts + 1, $2)
				ELSE enrich_attempts + 1
			END,
			enrich_error = $3,
			updated_at = NOW()
		WHERE external_id = $4
	`

	result, err := r.db.ExecContext(ctx, query, terminal, maxAttempts, reason, id)
	return execRequireRows(result, err, fmt.Errorf("person %d: %w", id, ErrNotFound))
}
