package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// queueColumns lists the columns returned by queue SELECT/RETURNING queries.
var queueColumns = []string{
	"id", "external_id", "content_type", "job_id", "source", "region", "title",
	"region_score", "type_score", "popularity_score", "recency_bonus", "priority",
	"status", "attempts", "max_attempts", "last_error", "available_at",
	"created_at", "updated_at", "processed_at",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return sqlx.NewDb(mockDB, "postgres"), mock, func() { mockDB.Close() }
}

func newQueueRepo(t *testing.T) (*database.QueueRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, cleanup := newMockDB(t)
	return database.NewQueueRepository(db), mock, cleanup
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func queueRow(rows *sqlmock.Rows, id string, externalID int64, priority int, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, externalID, "tv", nil, "discovery", "KR", "Title",
		priority, 0, 0, 0, priority,
		"processing", 0, 3, nil, createdAt,
		createdAt, createdAt, nil,
	)
}

func TestQueueRepository_Enqueue_Empty(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	inserted, err := repo.Enqueue(context.Background(), database.EnqueueParams{})
	require.NoError(t, err)
	assert.Zero(t, inserted)

	expectationsMet(t, mock)
}

func TestQueueRepository_Enqueue_ReportsNewRowsOnly(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	jobID := "6a1c9d0e-0000-4000-8000-000000000001"
	items := []domain.QueueItem{
		{ID: "a", ExternalID: 1, ContentType: domain.ContentTypeTV, Region: "KR"},
		{ID: "b", ExternalID: 2, ContentType: domain.ContentTypeMovie, Region: "JP"},
	}

	mock.ExpectExec("INSERT INTO queue_items").
		WithArgs(
			jobID, "discovery", 3,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Enqueue(context.Background(), database.EnqueueParams{
		JobID:       &jobID,
		Source:      domain.QueueSourceDiscovery,
		MaxAttempts: 3,
		Items:       items,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	expectationsMet(t, mock)
}

func TestQueueRepository_Claim_UsesSkipLocked(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(queueColumns)
	queueRow(rows, "low", 10, 5, now)
	queueRow(rows, "high-new", 11, 30, now)
	queueRow(rows, "high-old", 12, 30, now.Add(-time.Hour))

	mock.ExpectQuery(`UPDATE queue_items\s+SET status = 'processing'.+FOR UPDATE SKIP LOCKED.+RETURNING`).
		WithArgs(3).
		WillReturnRows(rows)

	items, err := repo.Claim(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "high-old", items[0].ID)
	assert.Equal(t, "high-new", items[1].ID)
	assert.Equal(t, "low", items[2].ID)
	assert.Equal(t, domain.QueueStatusProcessing, items[0].Status)

	expectationsMet(t, mock)
}

func TestQueueRepository_Claim_Empty(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE queue_items").
		WithArgs(25).
		WillReturnRows(sqlmock.NewRows(queueColumns))

	items, err := repo.Claim(context.Background(), 25)
	require.NoError(t, err)
	assert.Empty(t, items)

	expectationsMet(t, mock)
}

func TestQueueRepository_MarkRetry(t *testing.T) {
	testCases := []struct {
		name       string
		status     string
		attempts   int
		wantStatus domain.QueueStatus
	}{
		{name: "under max returns to pending", status: "pending", attempts: 1, wantStatus: domain.QueueStatusPending},
		{name: "attempt reaching max fails item", status: "failed", attempts: 3, wantStatus: domain.QueueStatusFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, cleanup := newQueueRepo(t)
			defer cleanup()

			mock.ExpectQuery(`UPDATE queue_items\s+SET attempts = attempts \+ 1`).
				WithArgs("catalog 503", int64(60000), "item-1").
				WillReturnRows(sqlmock.NewRows([]string{"status", "attempts"}).AddRow(tc.status, tc.attempts))

			outcome, err := repo.MarkRetry(context.Background(), "item-1", "catalog 503", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, outcome.Status)
			assert.Equal(t, tc.attempts, outcome.Attempts)

			expectationsMet(t, mock)
		})
	}
}

func TestQueueRepository_MarkCompleted_NotProcessing(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	mock.ExpectExec("UPDATE queue_items").
		WithArgs("item-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkCompleted(context.Background(), "item-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrNotFound))

	expectationsMet(t, mock)
}

func TestQueueRepository_MarkFailed(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	mock.ExpectExec(`attempts = LEAST\(attempts \+ 1, max_attempts\)`).
		WithArgs("not found", "item-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), "item-2", "not found"))

	expectationsMet(t, mock)
}

func TestQueueRepository_RetryFailed(t *testing.T) {
	t.Run("all failed items", func(t *testing.T) {
		repo, mock, cleanup := newQueueRepo(t)
		defer cleanup()

		mock.ExpectExec(`SET status = 'pending',\s+attempts = 0`).
			WithoutArgs().
			WillReturnResult(sqlmock.NewResult(0, 4))

		reset, err := repo.RetryFailed(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(4), reset)

		expectationsMet(t, mock)
	})

	t.Run("selected ids", func(t *testing.T) {
		repo, mock, cleanup := newQueueRepo(t)
		defer cleanup()

		mock.ExpectExec(`AND id = ANY\(\$1\)`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		reset, err := repo.RetryFailed(context.Background(), []string{"item-1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), reset)

		expectationsMet(t, mock)
	})
}

func TestQueueRepository_ResetStale(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	mock.ExpectExec(`WHERE status = 'processing'`).
		WithArgs(int64(900)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	reset, err := repo.ResetStale(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)

	expectationsMet(t, mock)
}

func TestQueueRepository_UnknownKeys(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	mock.ExpectQuery(`FROM UNNEST\(\$1::bigint\[\], \$2::text\[\]\) WITH ORDINALITY`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"external_id", "content_type"}).AddRow(int64(2), "movie"))

	keys := []domain.ItemKey{
		{ExternalID: 1, ContentType: domain.ContentTypeTV},
		{ExternalID: 2, ContentType: domain.ContentTypeMovie},
	}

	unknown, err := repo.UnknownKeys(context.Background(), keys)
	require.NoError(t, err)
	assert.Equal(t, []domain.ItemKey{{ExternalID: 2, ContentType: domain.ContentTypeMovie}}, unknown)

	expectationsMet(t, mock)
}

func TestQueueRepository_CountByStatus(t *testing.T) {
	repo, mock, cleanup := newQueueRepo(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM queue_items GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 7).
			AddRow("failed", 2).
			AddRow("completed", 40))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCounts{Pending: 7, Failed: 2, Completed: 40}, counts)

	expectationsMet(t, mock)
}
