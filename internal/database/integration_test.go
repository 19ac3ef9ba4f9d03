//go:build integration

package database_test

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

const postgresStartupTimeout = 60 * time.Second

// startPostgres runs a throwaway Postgres, applies the migrations and
// returns a pool. Run with: go test -tags integration ./internal/database/
func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "catalog_sync",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(postgresStartupTimeout),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Skipf("Skipping test: could not start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	hostPort := net.JoinHostPort(host, port.Port())
	db, err := database.NewPostgresConnection(ctx, database.Config{
		DSN: fmt.Sprintf("postgres://postgres:postgres@%s/catalog_sync?sslmode=disable", hostPort),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, filename, _, _ := runtime.Caller(0)
	migrations := filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
	require.NoError(t, database.Migrate(db.DB, "file://"+migrations, database.MigrateUp))

	return db
}

func queueItems(n int) []domain.QueueItem {
	items := make([]domain.QueueItem, n)
	for i := range items {
		items[i] = domain.QueueItem{
			ID:          uuid.NewString(),
			ExternalID:  int64(1000 + i),
			ContentType: domain.ContentTypeMovie,
			Region:      "KR",
			Title:       fmt.Sprintf("title %d", i),
			PriorityComponents: domain.PriorityComponents{
				RegionScore: i % 7,
				TypeScore:   6,
			},
		}
	}
	return items
}

func TestIntegration_ConcurrentClaimsNeverOverlap(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	queue := database.NewQueueRepository(db)

	const total = 120
	inserted, err := queue.Enqueue(ctx, database.EnqueueParams{
		Source:      domain.QueueSourceGapFill,
		MaxAttempts: 3,
		Items:       queueItems(total),
	})
	require.NoError(t, err)
	require.Equal(t, total, inserted)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, claimErr := queue.Claim(ctx, 5)
				if !assert.NoError(t, claimErr) || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, item := range claimed {
					seen[item.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s claimed more than once", id)
	}

	counts, err := queue.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, counts.Processing)
	assert.Zero(t, counts.Pending)
}

func TestIntegration_ClaimOrderAndRetry(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	queue := database.NewQueueRepository(db)

	_, err := queue.Enqueue(ctx, database.EnqueueParams{
		Source:      domain.QueueSourceGapFill,
		MaxAttempts: 2,
		Items:       queueItems(7),
	})
	require.NoError(t, err)

	claimed, err := queue.Claim(ctx, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, 12, claimed[0].Priority)
	assert.GreaterOrEqual(t, claimed[0].Priority, claimed[1].Priority)
	assert.GreaterOrEqual(t, claimed[1].Priority, claimed[2].Priority)

	outcome, err := queue.MarkRetry(ctx, claimed[0].ID, "catalog 503", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, database.RetryOutcome{Status: domain.QueueStatusPending, Attempts: 1}, outcome)

	// Delayed items are not claimable until available_at passes.
	rest, err := queue.Claim(ctx, 10)
	require.NoError(t, err)
	for _, item := range rest {
		assert.NotEqual(t, claimed[0].ID, item.ID)
	}

	time.Sleep(10 * time.Millisecond)
	reset, err := queue.ResetStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(rest)+2), reset)
}

func TestIntegration_SingleRunningJob(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	jobs := database.NewJobRepository(db)

	first := &domain.SyncJob{ID: uuid.NewString(), Trigger: "manual", Quota: 5, RegionCounts: domain.RegionCounts{}}
	queued, err := jobs.Start(ctx, first, queueItems(3), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, queued)

	second := &domain.SyncJob{ID: uuid.NewString(), Trigger: "schedule", Quota: 5, RegionCounts: domain.RegionCounts{}}
	_, err = jobs.Start(ctx, second, queueItems(3), 3)
	require.ErrorIs(t, err, database.ErrJobAlreadyRunning)

	running, err := jobs.GetRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, running.ID)
}
