package processor_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/processor"
)

// fakeCatalog returns canned details, or a fixed error per key.
type fakeCatalog struct {
	mu     sync.Mutex
	errs   map[domain.ItemKey]error
	titles map[domain.ItemKey]string
	calls  int
}

func (f *fakeCatalog) Details(_ context.Context, ct domain.ContentType, id int64) (*catalog.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	key := domain.ItemKey{ExternalID: id, ContentType: ct}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	title := f.titles[key]
	if title == "" {
		title = "Title"
	}
	return &catalog.Details{
		ID:          id,
		Title:       title,
		ContentType: ct,
		Credits: &catalog.CreditsBlock{
			Cast: []catalog.CastMember{{ID: 7, Name: "Lee Je-hoon", Character: "Park Hae-young"}},
		},
	}, nil
}

// fakeContent stores records by key, like the ON CONFLICT upsert. Save is
// all or nothing. Any stored record counts as created after the queue item.
type fakeContent struct {
	mu      sync.Mutex
	records map[domain.ItemKey]domain.ContentRecord
	credits map[domain.ItemKey]domain.Credits
	saves   int
	saveFn  func(*domain.ContentRecord) error
	racedIn map[domain.ItemKey]bool
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		records: map[domain.ItemKey]domain.ContentRecord{},
		credits: map[domain.ItemKey]domain.Credits{},
		racedIn: map[domain.ItemKey]bool{},
	}
}

func (f *fakeContent) Save(_ context.Context, rec *domain.ContentRecord, credits domain.Credits) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saves++
	if f.saveFn != nil {
		if err := f.saveFn(rec); err != nil {
			return err
		}
	}
	key := domain.ItemKey{ExternalID: rec.ExternalID, ContentType: rec.ContentType}
	f.records[key] = *rec
	f.credits[key] = credits
	return nil
}

func (f *fakeContent) CreatedSince(_ context.Context, key domain.ItemKey, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, stored := f.records[key]
	return f.racedIn[key] || stored, nil
}

// fakeQueue models the queue status writes, including the attempt ceiling
// enforced by MarkRetry.
type fakeQueue struct {
	mu     sync.Mutex
	items  map[string]*domain.QueueItem
	delays map[string]time.Duration
}

func newFakeQueue(items ...domain.QueueItem) *fakeQueue {
	q := &fakeQueue{items: map[string]*domain.QueueItem{}, delays: map[string]time.Duration{}}
	for i := range items {
		item := items[i]
		item.Status = domain.QueueStatusProcessing
		q.items[item.ID] = &item
	}
	return q
}

func (q *fakeQueue) set(id string, status domain.QueueStatus, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok || item.Status != domain.QueueStatusProcessing {
		return database.ErrNotFound
	}
	item.Status = status
	if reason != "" {
		item.LastError = &reason
	}
	return nil
}

func (q *fakeQueue) MarkCompleted(_ context.Context, id string) error {
	return q.set(id, domain.QueueStatusCompleted, "")
}

func (q *fakeQueue) MarkSkipped(_ context.Context, id, reason string) error {
	return q.set(id, domain.QueueStatusSkipped, reason)
}

func (q *fakeQueue) MarkFailed(_ context.Context, id, reason string) error {
	return q.set(id, domain.QueueStatusFailed, reason)
}

func (q *fakeQueue) Release(_ context.Context, id string) error {
	return q.set(id, domain.QueueStatusPending, "")
}

func (q *fakeQueue) MarkRetry(_ context.Context, id, reason string, delay time.Duration) (database.RetryOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok || item.Status != domain.QueueStatusProcessing {
		return database.RetryOutcome{}, database.ErrNotFound
	}
	item.Attempts++
	item.LastError = &reason
	q.delays[id] = delay
	if item.Attempts >= item.MaxAttempts {
		item.Status = domain.QueueStatusFailed
	} else {
		item.Status = domain.QueueStatusPending
	}
	return database.RetryOutcome{Status: item.Status, Attempts: item.Attempts}, nil
}

// claim returns the item to processing, as the next tick's claim would.
func (q *fakeQueue) claim(id string) domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[id].Status = domain.QueueStatusProcessing
	return *q.items[id]
}

func (q *fakeQueue) get(id string) domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.items[id]
}

func queueItem(id string, externalID int64) domain.QueueItem {
	return domain.QueueItem{
		ID:          id,
		ExternalID:  externalID,
		ContentType: domain.ContentTypeTV,
		Source:      domain.QueueSourceDiscovery,
		MaxAttempts: 3,
		CreatedAt:   time.Date(2026, time.October, 19, 2, 0, 0, 0, time.UTC),
	}
}

func tvKey(id int64) domain.ItemKey {
	return domain.ItemKey{ExternalID: id, ContentType: domain.ContentTypeTV}
}

func testConfig() processor.Config {
	return processor.Config{Concurrency: 3, RetryBaseDelay: time.Minute, RateLimitMultiplier: 5}
}

func TestProcessBatch_MixedOutcomesAreIsolated(t *testing.T) {
	t.Parallel()

	items := []domain.QueueItem{
		queueItem("ok", 1),
		queueItem("gone", 2),
		queueItem("flaky", 3),
		queueItem("raced", 4),
		queueItem("bad", 5),
	}
	client := &fakeCatalog{errs: map[domain.ItemKey]error{
		tvKey(2): &catalog.Error{Kind: catalog.KindNotFound, StatusCode: 404},
		tvKey(3): &catalog.Error{Kind: catalog.KindNetwork, Cause: errors.New("connection reset")},
		tvKey(5): &catalog.Error{Kind: catalog.KindValidation, Field: "name"},
	}}
	content := newFakeContent()
	content.racedIn[tvKey(4)] = true
	queue := newFakeQueue(items...)

	p := processor.New(client, content, queue, testConfig(), logger.NewNop(), nil)
	result := p.ProcessBatch(context.Background(), "job-1", items)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Retried)
	assert.False(t, result.Unreachable)
	assert.Equal(t, domain.JobProgress{Processed: 4, Succeeded: 1, Failed: 2, Skipped: 1}, result.Progress())

	assert.Equal(t, domain.QueueStatusCompleted, queue.get("ok").Status)
	assert.Equal(t, domain.QueueStatusFailed, queue.get("gone").Status)
	assert.Equal(t, domain.QueueStatusPending, queue.get("flaky").Status)
	assert.Equal(t, domain.QueueStatusSkipped, queue.get("raced").Status)
	assert.Equal(t, domain.QueueStatusFailed, queue.get("bad").Status)
	require.NotNil(t, queue.get("bad").LastError)
	assert.Contains(t, *queue.get("bad").LastError, `"name"`)

	_, stored := content.records[tvKey(4)]
	assert.False(t, stored, "raced item is not fetched again")
	assert.Len(t, content.credits[tvKey(1)].Cast, 1)
}

func TestProcessBatch_TransientFailuresReachFailedAtMaxAttempts(t *testing.T) {
	t.Parallel()

	item := queueItem("q-1", 42)
	client := &fakeCatalog{errs: map[domain.ItemKey]error{
		tvKey(42): &catalog.Error{
			Kind:  catalog.KindNetwork,
			Path:  "/tv/42",
			Cause: &url.Error{Op: "Get", URL: "http://catalog/tv/42", Err: context.DeadlineExceeded},
		},
	}}
	queue := newFakeQueue(item)
	p := processor.New(client, newFakeContent(), queue, testConfig(), logger.NewNop(), nil)

	wantDelays := []time.Duration{time.Minute, 2 * time.Minute}
	for attempt := 1; attempt <= 3; attempt++ {
		claimed := queue.claim("q-1")
		result := p.ProcessBatch(context.Background(), "job-1", []domain.QueueItem{claimed})

		got := queue.get("q-1")
		assert.Equal(t, attempt, got.Attempts)
		if attempt < 3 {
			assert.Equal(t, 1, result.Retried)
			assert.Equal(t, domain.QueueStatusPending, got.Status)
			assert.Equal(t, wantDelays[attempt-1], queue.delays["q-1"])
		} else {
			assert.Equal(t, 1, result.Failed)
			assert.Equal(t, domain.QueueStatusFailed, got.Status)
		}
	}

	final := queue.get("q-1")
	assert.Equal(t, 3, final.Attempts)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "deadline exceeded")
}

func TestProcessBatch_RateLimitUsesLongerBackoff(t *testing.T) {
	t.Parallel()

	item := queueItem("q-1", 9)
	item.Attempts = 1
	client := &fakeCatalog{errs: map[domain.ItemKey]error{
		tvKey(9): &catalog.Error{Kind: catalog.KindRateLimited, StatusCode: 429},
	}}
	queue := newFakeQueue(item)
	p := processor.New(client, newFakeContent(), queue, testConfig(), logger.NewNop(), nil)

	result := p.ProcessBatch(context.Background(), "job-1", []domain.QueueItem{item})

	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 2*time.Minute*5, queue.delays["q-1"])
}

func TestProcessBatch_UnavailableReleasesWithoutAttempt(t *testing.T) {
	t.Parallel()

	items := []domain.QueueItem{queueItem("a", 1), queueItem("b", 2)}
	open := &catalog.Error{Kind: catalog.KindUnavailable, Cause: errors.New("circuit breaker is open")}
	client := &fakeCatalog{errs: map[domain.ItemKey]error{tvKey(1): open, tvKey(2): open}}
	queue := newFakeQueue(items...)
	p := processor.New(client, newFakeContent(), queue, testConfig(), logger.NewNop(), nil)

	result := p.ProcessBatch(context.Background(), "job-1", items)

	assert.True(t, result.Unreachable)
	assert.Equal(t, 2, result.Released)
	assert.Equal(t, 0, result.Processed())
	for _, id := range []string{"a", "b"} {
		got := queue.get(id)
		assert.Equal(t, domain.QueueStatusPending, got.Status)
		assert.Zero(t, got.Attempts)
	}
}

func TestProcessBatch_UniqueViolationIsSkipped(t *testing.T) {
	t.Parallel()

	item := queueItem("q-1", 1)
	content := newFakeContent()
	content.saveFn = func(*domain.ContentRecord) error {
		return &pqUniqueViolation
	}
	queue := newFakeQueue(item)
	p := processor.New(&fakeCatalog{}, content, queue, testConfig(), logger.NewNop(), nil)

	result := p.ProcessBatch(context.Background(), "job-1", []domain.QueueItem{item})

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, domain.QueueStatusSkipped, queue.get("q-1").Status)
}

func TestProcessBatch_RetriedItemSkipsDuplicateCheck(t *testing.T) {
	t.Parallel()

	item := queueItem("q-1", 1)
	item.Attempts = 1
	content := newFakeContent()
	content.racedIn[tvKey(1)] = true
	queue := newFakeQueue(item)
	p := processor.New(&fakeCatalog{}, content, queue, testConfig(), logger.NewNop(), nil)

	result := p.ProcessBatch(context.Background(), "job-1", []domain.QueueItem{item})

	assert.Equal(t, 1, result.Succeeded)
}

func TestProcessBatch_InterruptedWriteCompletesOnReclaim(t *testing.T) {
	t.Parallel()

	item := queueItem("q-1", 1)
	content := newFakeContent()
	interrupted := false
	content.saveFn = func(*domain.ContentRecord) error {
		if !interrupted {
			interrupted = true
			return fmt.Errorf("link cast: %w", context.Canceled)
		}
		return nil
	}
	queue := newFakeQueue(item)
	p := processor.New(&fakeCatalog{}, content, queue, testConfig(), logger.NewNop(), nil)

	first := p.ProcessBatch(context.Background(), "job-1", []domain.QueueItem{queue.claim("q-1")})
	assert.Equal(t, 1, first.Released)
	assert.Empty(t, content.records, "nothing persists from the interrupted write")

	second := p.ProcessBatch(context.Background(), "job-1", []domain.QueueItem{queue.claim("q-1")})
	assert.Equal(t, 1, second.Succeeded)

	got := queue.get("q-1")
	assert.Equal(t, domain.QueueStatusCompleted, got.Status)
	assert.Zero(t, got.Attempts)
	assert.Len(t, content.credits[tvKey(1)].Cast, 1)
}

func TestProcessOne_IsIdempotent(t *testing.T) {
	t.Parallel()

	client := &fakeCatalog{titles: map[domain.ItemKey]string{tvKey(5): "Signal"}}
	content := newFakeContent()
	p := processor.New(client, content, newFakeQueue(), testConfig(), logger.NewNop(), nil)

	require.NoError(t, p.ProcessOne(context.Background(), tvKey(5)))
	client.titles[tvKey(5)] = "Signal (2016)"
	require.NoError(t, p.ProcessOne(context.Background(), tvKey(5)))

	assert.Len(t, content.records, 1)
	assert.Equal(t, "Signal (2016)", content.records[tvKey(5)].Title)
}
