package gaps_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/control"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/gaps"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

var now = time.Date(2026, time.October, 19, 3, 0, 0, 0, time.UTC)

func movieKey(id int64) domain.ItemKey {
	return domain.ItemKey{ExternalID: id, ContentType: domain.ContentTypeMovie}
}

func movie(id int64, popularity float64) domain.CatalogItem {
	return domain.CatalogItem{ExternalID: id, ContentType: domain.ContentTypeMovie, Popularity: popularity}
}

type fakeCatalog struct {
	latest    int64
	latestErr error
	trending  map[int][]domain.CatalogItem
	popular   map[int][]domain.CatalogItem
	byYear    map[int]*catalog.Page
	changes   []int64
	listCalls int
}

func (f *fakeCatalog) Latest(context.Context, domain.ContentType) (int64, error) {
	return f.latest, f.latestErr
}

func (f *fakeCatalog) Trending(_ context.Context, _ domain.ContentType, page int) (*catalog.Page, error) {
	f.listCalls++
	return &catalog.Page{Page: page, TotalPages: 1, Items: f.trending[page]}, nil
}

func (f *fakeCatalog) Popular(_ context.Context, _ domain.ContentType, page int) (*catalog.Page, error) {
	f.listCalls++
	return &catalog.Page{Page: page, TotalPages: 1, Items: f.popular[page]}, nil
}

func (f *fakeCatalog) Discover(_ context.Context, params catalog.DiscoverParams) (*catalog.Page, error) {
	if p, ok := f.byYear[params.Year]; ok {
		return p, nil
	}
	return &catalog.Page{Page: params.Page, TotalPages: 1}, nil
}

func (f *fakeCatalog) Changes(_ context.Context, _ domain.ContentType, _, _ time.Time, page int) (*catalog.ChangesPage, error) {
	return &catalog.ChangesPage{Page: page, TotalPages: 1, IDs: f.changes}, nil
}

type fakeContent struct {
	stored     map[domain.ItemKey]bool
	yearCounts map[int]int
	missing    []domain.ContentRecord
}

func (f *fakeContent) ExistingIDs(_ context.Context, ct domain.ContentType, ids []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, id := range ids {
		if f.stored[domain.ItemKey{ExternalID: id, ContentType: ct}] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeContent) MaxExternalID(_ context.Context, ct domain.ContentType) (int64, error) {
	var highest int64
	for key := range f.stored {
		if key.ContentType == ct && key.ExternalID > highest {
			highest = key.ExternalID
		}
	}
	return highest, nil
}

func (f *fakeContent) CountByReleaseYear(context.Context, domain.ContentType, int, int) (map[int]int, error) {
	return f.yearCounts, nil
}

func (f *fakeContent) MissingMetadata(context.Context, int) ([]domain.ContentRecord, error) {
	return f.missing, nil
}

// fakeGapStore keys gaps by (external_id, content_type) like the registry.
type fakeGapStore struct {
	mu      sync.Mutex
	rows    map[domain.ItemKey]*domain.GapRecord
	nextID  int
	upserts int
}

func newGapStore() *fakeGapStore {
	return &fakeGapStore{rows: map[domain.ItemKey]*domain.GapRecord{}}
}

func (s *fakeGapStore) Upsert(_ context.Context, findings []domain.GapFinding, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	touched := 0
	for _, f := range findings {
		key := domain.ItemKey{ExternalID: f.ExternalID, ContentType: f.ContentType}
		if row, ok := s.rows[key]; ok {
			if !row.Resolved {
				row.PriorityScore = max(row.PriorityScore, f.PriorityScore)
				touched++
			}
			continue
		}
		s.nextID++
		s.rows[key] = &domain.GapRecord{
			ID:            fmt.Sprintf("gap-%d", s.nextID),
			ExternalID:    f.ExternalID,
			ContentType:   f.ContentType,
			GapType:       f.GapType,
			PriorityScore: f.PriorityScore,
			Reason:        f.Reason,
		}
		touched++
	}
	return touched, nil
}

func (s *fakeGapStore) add(id string, key domain.ItemKey, score float64) {
	s.rows[key] = &domain.GapRecord{
		ID: id, ExternalID: key.ExternalID, ContentType: key.ContentType,
		GapType: domain.GapTypeSequential, PriorityScore: score,
	}
}

func (s *fakeGapStore) byID(id string) *domain.GapRecord {
	for _, row := range s.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (s *fakeGapStore) TopUnresolved(_ context.Context, limit, maxAttempts int) ([]domain.GapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.GapRecord
	for _, row := range s.rows {
		if !row.Resolved && row.FillAttempts < maxAttempts {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriorityScore > out[j].PriorityScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeGapStore) MarkResolved(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.byID(id)
	if row == nil || row.Resolved {
		return errors.New("not found")
	}
	row.Resolved = true
	return nil
}

func (s *fakeGapStore) RecordFillFailure(_ context.Context, id, reason string, terminal bool, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.byID(id)
	if row == nil {
		return errors.New("not found")
	}
	row.FillAttempts++
	if terminal {
		row.FillAttempts = max(row.FillAttempts, maxAttempts)
	}
	row.LastError = &reason
	return nil
}

func findingIDs(s *fakeGapStore, gapType domain.GapType) []int64 {
	var ids []int64
	for key, row := range s.rows {
		if row.GapType == gapType {
			ids = append(ids, key.ExternalID)
		}
	}
	slices.Sort(ids)
	return ids
}

func detectorConfig() gaps.DetectorConfig {
	return gaps.DetectorConfig{
		ContentTypes:      []domain.ContentType{domain.ContentTypeMovie},
		Countries:         []string{"KR"},
		SequentialWindow:  10,
		PopularityPages:   1,
		TemporalYears:     2,
		TemporalThreshold: 0.8,
		TemporalPages:     1,
		MetadataLimit:     100,
		ChangesDays:       1,
		ChangesMaxPages:   10,
		ReopenAfter:       7 * 24 * time.Hour,
	}
}

func storedSet(ids ...int64) map[domain.ItemKey]bool {
	out := map[domain.ItemKey]bool{}
	for _, id := range ids {
		out[movieKey(id)] = true
	}
	return out
}

func TestDetect_Sequential(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{latest: 12}
	content := &fakeContent{stored: storedSet(1, 2, 3, 5, 6, 8, 9, 10)}
	store := newGapStore()
	d := gaps.NewDetector(cat, content, store, detectorConfig(), nil, logger.NewNop(), nil)

	results := d.Detect(context.Background(), now, domain.GapTypeSequential)

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, 4, results[0].Findings)
	assert.Equal(t, []int64{4, 7, 11, 12}, findingIDs(store, domain.GapTypeSequential))
}

func TestDetect_SequentialSkipsEmptyStore(t *testing.T) {
	t.Parallel()

	store := newGapStore()
	d := gaps.NewDetector(&fakeCatalog{latest: 500}, &fakeContent{}, store, detectorConfig(), nil, logger.NewNop(), nil)

	results := d.Detect(context.Background(), now, domain.GapTypeSequential)

	assert.Zero(t, results[0].Findings)
	assert.Empty(t, store.rows)
}

func TestDetect_Popularity(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{
		trending: map[int][]domain.CatalogItem{1: {movie(1, 90), movie(2, 50)}},
		popular:  map[int][]domain.CatalogItem{1: {movie(2, 50), movie(3, 200)}},
	}
	content := &fakeContent{stored: storedSet(1)}
	store := newGapStore()
	d := gaps.NewDetector(cat, content, store, detectorConfig(), nil, logger.NewNop(), nil)

	results := d.Detect(context.Background(), now, domain.GapTypePopularity)

	assert.Equal(t, 2, results[0].Findings)
	assert.Equal(t, []int64{2, 3}, findingIDs(store, domain.GapTypePopularity))
	// popularity 200 caps the weight at 11; no release date keeps recency at 1.
	assert.InDelta(t, 11.0, store.rows[movieKey(3)].PriorityScore, 0.0001)
	assert.InDelta(t, 6.0, store.rows[movieKey(2)].PriorityScore, 0.0001)
	assert.Equal(t, 2, cat.listCalls)
}

func TestDetect_TemporalOnlyUnderCoveredYears(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{
		byYear: map[int]*catalog.Page{
			2026: {Page: 1, TotalPages: 1, TotalResults: 100, Items: []domain.CatalogItem{movie(40, 10), movie(41, 10)}},
			2025: {Page: 1, TotalPages: 1, TotalResults: 100, Items: []domain.CatalogItem{movie(50, 10)}},
		},
	}
	content := &fakeContent{
		stored:     storedSet(41),
		yearCounts: map[int]int{2026: 10, 2025: 90},
	}
	store := newGapStore()
	d := gaps.NewDetector(cat, content, store, detectorConfig(), nil, logger.NewNop(), nil)

	results := d.Detect(context.Background(), now, domain.GapTypeTemporal)

	assert.Empty(t, results[0].Error)
	assert.Equal(t, []int64{40}, findingIDs(store, domain.GapTypeTemporal))
	assert.Contains(t, store.rows[movieKey(40)].Reason, "2026 coverage 10%")
}

func TestDetect_MetadataIncludesChangedStoredTitles(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{changes: []int64{5, 6, 5}}
	content := &fakeContent{
		stored: storedSet(5, 9),
		missing: []domain.ContentRecord{
			{ExternalID: 9, ContentType: domain.ContentTypeMovie, Popularity: 20},
		},
	}
	store := newGapStore()
	d := gaps.NewDetector(cat, content, store, detectorConfig(), nil, logger.NewNop(), nil)

	results := d.Detect(context.Background(), now, domain.GapTypeMetadata)

	assert.Equal(t, 2, results[0].Findings)
	assert.Equal(t, []int64{5, 9}, findingIDs(store, domain.GapTypeMetadata))
	assert.Equal(t, "missing poster, overview, backdrop", store.rows[movieKey(9)].Reason)
}

func TestDetect_FailingSignalDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{
		latestErr: &catalog.Error{Kind: catalog.KindUnavailable, Path: "/movie/latest"},
		trending:  map[int][]domain.CatalogItem{1: {movie(2, 10)}},
	}
	content := &fakeContent{stored: storedSet(1)}
	store := newGapStore()
	d := gaps.NewDetector(cat, content, store, detectorConfig(), nil, logger.NewNop(), nil)

	results := d.Detect(context.Background(), now, domain.GapTypeSequential, domain.GapTypePopularity)

	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].Error)
	assert.Empty(t, results[1].Error)
	assert.Equal(t, []int64{2}, findingIDs(store, domain.GapTypePopularity))
}

func TestDetect_Idempotent(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{
		latest:   8,
		trending: map[int][]domain.CatalogItem{1: {movie(20, 10)}},
		changes:  []int64{1},
	}
	content := &fakeContent{stored: storedSet(1, 2, 4, 6)}
	store := newGapStore()
	d := gaps.NewDetector(cat, content, store, detectorConfig(), nil, logger.NewNop(), nil)

	d.Detect(context.Background(), now)
	first := len(store.rows)
	require.NotZero(t, first)

	d.Detect(context.Background(), now)
	assert.Len(t, store.rows, first)
}

type fakeGate struct{ paused bool }

func (g *fakeGate) Paused(context.Context) (bool, error) { return g.paused, nil }

type fakeProcessor struct {
	mu    sync.Mutex
	errs  map[domain.ItemKey]error
	calls []domain.ItemKey
}

func (p *fakeProcessor) ProcessOne(_ context.Context, key domain.ItemKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, key)
	return p.errs[key]
}

func newFiller(gate *fakeGate, store *fakeGapStore, proc *fakeProcessor) *gaps.Filler {
	return gaps.NewFiller(gate, store, proc, nil,
		gaps.FillConfig{BatchSize: 10, MaxFillAttempts: 3}, logger.NewNop(), nil)
}

func TestFill_PausedMakesNoCalls(t *testing.T) {
	t.Parallel()

	store := newGapStore()
	store.add("g1", movieKey(1), 5)
	proc := &fakeProcessor{}

	_, err := newFiller(&fakeGate{paused: true}, store, proc).Fill(context.Background(), 0)

	require.ErrorIs(t, err, control.ErrPaused)
	assert.Empty(t, proc.calls)
	assert.False(t, store.rows[movieKey(1)].Resolved)
}

func TestFill_Outcomes(t *testing.T) {
	t.Parallel()

	store := newGapStore()
	store.add("ok", movieKey(1), 9)
	store.add("gone", movieKey(2), 8)
	store.add("flaky", movieKey(3), 7)

	proc := &fakeProcessor{errs: map[domain.ItemKey]error{
		movieKey(2): &catalog.Error{Kind: catalog.KindNotFound, StatusCode: 404, Path: "/movie/2"},
		movieKey(3): &catalog.Error{Kind: catalog.KindUpstream, StatusCode: 502, Path: "/movie/3"},
	}}

	result, err := newFiller(&fakeGate{}, store, proc).Fill(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, gaps.FillResult{Attempted: 3, Resolved: 1, Failed: 1, Abandoned: 1}, result)
	assert.True(t, store.rows[movieKey(1)].Resolved)
	assert.Equal(t, 3, store.rows[movieKey(2)].FillAttempts)
	assert.Equal(t, 1, store.rows[movieKey(3)].FillAttempts)
	require.NotNil(t, store.rows[movieKey(3)].LastError)
}

func TestFill_StopsWhenCatalogUnavailable(t *testing.T) {
	t.Parallel()

	store := newGapStore()
	store.add("first", movieKey(1), 9)
	store.add("second", movieKey(2), 8)

	proc := &fakeProcessor{errs: map[domain.ItemKey]error{
		movieKey(1): &catalog.Error{Kind: catalog.KindUnavailable, Path: "/movie/1"},
	}}

	result, err := newFiller(&fakeGate{}, store, proc).Fill(context.Background(), 0)
	require.NoError(t, err)

	assert.True(t, result.Stopped)
	assert.Zero(t, result.Attempted)
	assert.Len(t, proc.calls, 1)
	assert.Zero(t, store.rows[movieKey(1)].FillAttempts)
}

func TestFill_TimedOutGapCountsAttemptAndContinues(t *testing.T) {
	t.Parallel()

	store := newGapStore()
	store.add("slow", movieKey(1), 9)
	store.add("next", movieKey(2), 8)

	proc := &fakeProcessor{errs: map[domain.ItemKey]error{
		movieKey(1): &catalog.Error{
			Kind:  catalog.KindNetwork,
			Path:  "/movie/1",
			Cause: &url.Error{Op: "Get", URL: "http://catalog/movie/1", Err: context.DeadlineExceeded},
		},
	}}

	result, err := newFiller(&fakeGate{}, store, proc).Fill(context.Background(), 0)
	require.NoError(t, err)

	assert.False(t, result.Stopped)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, store.rows[movieKey(1)].FillAttempts)
	assert.True(t, store.rows[movieKey(2)].Resolved)
}

func TestFill_ResolvedGapsAreNotRefilled(t *testing.T) {
	t.Parallel()

	store := newGapStore()
	store.add("g1", movieKey(1), 5)
	proc := &fakeProcessor{}
	filler := newFiller(&fakeGate{}, store, proc)

	_, err := filler.Fill(context.Background(), 5)
	require.NoError(t, err)
	second, err := filler.Fill(context.Background(), 5)
	require.NoError(t, err)

	assert.Zero(t, second.Attempted)
	assert.Len(t, proc.calls, 1)
}

func TestFill_RespectsLimitAndPriority(t *testing.T) {
	t.Parallel()

	store := newGapStore()
	store.add("low", movieKey(1), 1)
	store.add("high", movieKey(2), 10)
	store.add("mid", movieKey(3), 5)
	proc := &fakeProcessor{}

	result, err := newFiller(&fakeGate{}, store, proc).Fill(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Resolved)
	assert.Equal(t, []domain.ItemKey{movieKey(2), movieKey(3)}, proc.calls)
}
