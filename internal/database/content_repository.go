package database

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// ContentRepository persists canonical content records and their credits.
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository creates a new content repository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Save writes the record and its credits in one transaction, so an
// interrupted write leaves neither behind. The record is keyed by
// (external_id, content_type); values from the latest write win, and a NULL
// in the new payload keeps the stored value instead of erasing it.
func (r *ContentRepository) Save(ctx context.Context, rec *domain.ContentRecord, credits domain.Credits) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin content transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if upsertErr := upsertRecord(ctx, tx, rec); upsertErr != nil {
		return upsertErr
	}

	key := domain.ItemKey{ExternalID: rec.ExternalID, ContentType: rec.ContentType}
	if creditsErr := saveCredits(ctx, tx, key, credits); creditsErr != nil {
		return creditsErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit content %s: %w", key, commitErr)
	}
	return nil
}

func upsertRecord(ctx context.Context, tx *sqlx.Tx, rec *domain.ContentRecord) error {
	query := `
		INSERT INTO content_records (
			external_id, content_type, title, original_title, overview,
			poster_path, backdrop_path, release_date, origin_country,
			original_language, genres, popularity, vote_average, vote_count,
			runtime, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (external_id, content_type) DO UPDATE SET
			title = EXCLUDED.title,
			original_title = COALESCE(EXCLUDED.original_title, content_records.original_title),
			overview = COALESCE(EXCLUDED.overview, content_records.overview),
			poster_path = COALESCE(EXCLUDED.poster_path, content_records.poster_path),
			backdrop_path = COALESCE(EXCLUDED.backdrop_path, content_records.backdrop_path),
			release_date = COALESCE(EXCLUDED.release_date, content_records.release_date),
			origin_country = EXCLUDED.origin_country,
			original_language = COALESCE(EXCLUDED.original_language, content_records.original_language),
			genres = EXCLUDED.genres,
			popularity = EXCLUDED.popularity,
			vote_average = EXCLUDED.vote_average,
			vote_count = EXCLUDED.vote_count,
			runtime = COALESCE(EXCLUDED.runtime, content_records.runtime),
			status = COALESCE(EXCLUDED.status, content_records.status),
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	row := tx.QueryRowxContext(ctx, query,
		rec.ExternalID, string(rec.ContentType), rec.Title, rec.OriginalTitle, rec.Overview,
		rec.PosterPath, rec.BackdropPath, rec.ReleaseDate, pq.Array(nonNil(rec.OriginCountry)),
		rec.OriginalLanguage, pq.Array(nonNil(rec.Genres)), rec.Popularity, rec.VoteAverage, rec.VoteCount,
		rec.Runtime, rec.Status,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return fmt.Errorf("upsert content %s:%d: %w", rec.ContentType, rec.ExternalID, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// saveCredits upserts the people and replaces the title's cast and crew
// links with the ones in credits. A payload without a credits block leaves
// existing links alone.
func saveCredits(ctx context.Context, tx *sqlx.Tx, key domain.ItemKey, credits domain.Credits) error {
	if !credits.Reported {
		return nil
	}

	if len(credits.People) > 0 {
		if err := upsertPeople(ctx, tx, credits.People); err != nil {
			return err
		}
	}
	if err := pruneCast(ctx, tx, key, credits.Cast); err != nil {
		return err
	}
	if err := linkCast(ctx, tx, key, credits.Cast); err != nil {
		return err
	}
	if err := pruneCrew(ctx, tx, key, credits.Crew); err != nil {
		return err
	}
	return linkCrew(ctx, tx, key, credits.Crew)
}

// upsertPeople writes rows in external id order so concurrent titles that
// share contributors take row locks in the same order.
func upsertPeople(ctx context.Context, tx *sqlx.Tx, people []domain.Person) error {
	sorted := slices.Clone(people)
	slices.SortFunc(sorted, func(a, b domain.Person) int {
		return cmp.Compare(a.ExternalID, b.ExternalID)
	})

	ids := make([]int64, len(sorted))
	names := make([]string, len(sorted))
	profiles := make([]sql.NullString, len(sorted))
	for i, p := range sorted {
		ids[i] = p.ExternalID
		names[i] = p.Name
		if p.ProfilePath != nil {
			profiles[i] = sql.NullString{String: *p.ProfilePath, Valid: true}
		}
	}

	query := `
		INSERT INTO people (external_id, name, profile_path)
		SELECT * FROM UNNEST($1::bigint[], $2::text[], $3::text[])
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			profile_path = COALESCE(EXCLUDED.profile_path, people.profile_path),
			updated_at = NOW()
	`

	if _, err := tx.ExecContext(ctx, query, pq.Array(ids), pq.Array(names), pq.Array(profiles)); err != nil {
		return fmt.Errorf("upsert people: %w", err)
	}
	return nil
}

func pruneCast(ctx context.Context, tx *sqlx.Tx, key domain.ItemKey, cast []domain.CastLink) error {
	people := make([]int64, len(cast))
	characters := make([]string, len(cast))
	for i, c := range cast {
		people[i] = c.PersonID
		characters[i] = c.Character
	}

	query := `
		DELETE FROM content_cast c
		WHERE c.content_external_id = $1 AND c.content_type = $2
		  AND NOT EXISTS (
			SELECT 1 FROM UNNEST($3::bigint[], $4::text[]) AS u(person, character_name)
			WHERE u.person = c.person_external_id AND u.character_name = c.character_name
		  )
	`

	if _, err := tx.ExecContext(ctx, query,
		key.ExternalID, string(key.ContentType), pq.Array(people), pq.Array(characters),
	); err != nil {
		return fmt.Errorf("prune cast: %w", err)
	}
	return nil
}

func linkCast(ctx context.Context, tx *sqlx.Tx, key domain.ItemKey, cast []domain.CastLink) error {
	if len(cast) == 0 {
		return nil
	}

	people := make([]int64, len(cast))
	characters := make([]string, len(cast))
	orders := make([]int64, len(cast))
	for i, c := range cast {
		people[i] = c.PersonID
		characters[i] = c.Character
		orders[i] = int64(c.Order)
	}

	query := `
		INSERT INTO content_cast (content_external_id, content_type, person_external_id, character_name, billing_order)
		SELECT $1, $2, u.person, u.character_name, u.billing_order
		FROM UNNEST($3::bigint[], $4::text[], $5::int[]) AS u(person, character_name, billing_order)
		ON CONFLICT (content_external_id, content_type, person_external_id, character_name)
		DO UPDATE SET billing_order = EXCLUDED.billing_order
	`

	if _, err := tx.ExecContext(ctx, query,
		key.ExternalID, string(key.ContentType), pq.Array(people), pq.Array(characters), pq.Array(orders),
	); err != nil {
		return fmt.Errorf("link cast: %w", err)
	}
	return nil
}

func pruneCrew(ctx context.Context, tx *sqlx.Tx, key domain.ItemKey, crew []domain.CrewLink) error {
	people := make([]int64, len(crew))
	jobs := make([]string, len(crew))
	for i, c := range crew {
		people[i] = c.PersonID
		jobs[i] = c.Job
	}

	query := `
		DELETE FROM content_crew c
		WHERE c.content_external_id = $1 AND c.content_type = $2
		  AND NOT EXISTS (
			SELECT 1 FROM UNNEST($3::bigint[], $4::text[]) AS u(person, job)
			WHERE u.person = c.person_external_id AND u.job = c.job
		  )
	`

	if _, err := tx.ExecContext(ctx, query,
		key.ExternalID, string(key.ContentType), pq.Array(people), pq.Array(jobs),
	); err != nil {
		return fmt.Errorf("prune crew: %w", err)
	}
	return nil
}

func linkCrew(ctx context.Context, tx *sqlx.Tx, key domain.ItemKey, crew []domain.CrewLink) error {
	if len(crew) == 0 {
		return nil
	}

	people := make([]int64, len(crew))
	jobs := make([]string, len(crew))
	departments := make([]string, len(crew))
	for i, c := range crew {
		people[i] = c.PersonID
		jobs[i] = c.Job
		departments[i] = c.Department
	}

	query := `
		INSERT INTO content_crew (content_external_id, content_type, person_external_id, job, department)
		SELECT $1, $2, u.person, u.job, u.department
		FROM UNNEST($3::bigint[], $4::text[], $5::text[]) AS u(person, job, department)
		ON CONFLICT (content_external_id, content_type, person_external_id, job)
		DO UPDATE SET department = EXCLUDED.department
	`

	if _, err := tx.ExecContext(ctx, query,
		key.ExternalID, string(key.ContentType), pq.Array(people), pq.Array(jobs), pq.Array(departments),
	); err != nil {
		return fmt.Errorf("link crew: %w", err)
	}
	return nil
}

// ExistingIDs returns which of ids are already stored for contentType.
func (r *ContentRepository) ExistingIDs(ctx context.Context, contentType domain.ContentType, ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	query := `SELECT external_id FROM content_records WHERE content_type = $1 AND external_id = ANY($2)`

	var found []int64
	if err := r.db.SelectContext(ctx, &found, query, string(contentType), pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("select existing ids: %w", err)
	}

	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// CreatedSince reports whether the record for key was first inserted at or
// after since.
func (r *ContentRepository) CreatedSince(ctx context.Context, key domain.ItemKey, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM content_records
			WHERE external_id = $1 AND content_type = $2 AND created_at >= $3
		)
	`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, key.ExternalID, string(key.ContentType), since); err != nil {
		return false, fmt.Errorf("check content %s created since: %w", key, err)
	}
	return exists, nil
}

// MaxExternalID returns the highest stored external id for contentType, or 0.
func (r *ContentRepository) MaxExternalID(ctx context.Context, contentType domain.ContentType) (int64, error) {
	query := `SELECT COALESCE(MAX(external_id), 0) FROM content_records WHERE content_type = $1`

	var maxID int64
	if err := r.db.GetContext(ctx, &maxID, query, string(contentType)); err != nil {
		return 0, fmt.Errorf("select max external id: %w", err)
	}
	return maxID, nil
}

// CountByReleaseYear returns stored titles per release year in [fromYear, toYear].
func (r *ContentRepository) CountByReleaseYear(
	ctx context.Context,
	contentType domain.ContentType,
	fromYear, toYear int,
) (map[int]int, error) {
	query := `
		SELECT EXTRACT(YEAR FROM release_date)::int AS year, COUNT(*) AS count
		FROM content_records
		WHERE content_type = $1
		  AND release_date IS NOT NULL
		  AND EXTRACT(YEAR FROM release_date) BETWEEN $2 AND $3
		GROUP BY 1
	`

	rows, err := r.db.QueryxContext(ctx, query, string(contentType), fromYear, toYear)
	if err != nil {
		return nil, fmt.Errorf("query release year coverage: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var year, count int
		if scanErr := rows.Scan(&year, &count); scanErr != nil {
			return nil, fmt.Errorf("scan release year coverage: %w", scanErr)
		}
		counts[year] = count
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate release year coverage: %w", rowsErr)
	}
	return counts, nil
}

// MissingMetadata returns stored records lacking a poster, overview or
// backdrop, most popular first.
func (r *ContentRepository) MissingMetadata(ctx context.Context, limit int) ([]domain.ContentRecord, error) {
	query := `
		SELECT external_id, content_type, title, popularity, release_date,
			poster_path, overview, backdrop_path
		FROM content_records
		WHERE poster_path IS NULL OR overview IS NULL OR overview = '' OR backdrop_path IS NULL
		ORDER BY popularity DESC, external_id ASC
		LIMIT $1
	`

	records := []domain.ContentRecord{}
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("select records missing metadata: %w", err)
	}
	return records, nil
}

// Totals summarizes the persisted set.
func (r *ContentRepository) Totals(ctx context.Context) (domain.ContentTotals, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE content_type = 'movie') AS movies,
			COUNT(*) FILTER (WHERE content_type = 'tv') AS tv,
			(SELECT COUNT(*) FROM people) AS people,
			(SELECT COUNT(*) FROM people WHERE enriched_at IS NOT NULL) AS people_enriched
		FROM content_records
	`

	var totals domain.ContentTotals
	row := r.db.QueryRowxContext(ctx, query)
	if err := row.Scan(&totals.Total, &totals.Movies, &totals.TV, &totals.People, &totals.PeopleEnriched); err != nil {
		return domain.ContentTotals{}, fmt.Errorf("select content totals: %w", err)
	}
	return totals, nil
}
