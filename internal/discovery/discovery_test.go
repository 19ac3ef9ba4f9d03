package discovery_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/discovery"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

var now = time.Date(2026, time.October, 19, 3, 0, 0, 0, time.UTC)

// fakeDiscoverer serves canned pages keyed by "countries/type/page".
type fakeDiscoverer struct {
	mu     sync.Mutex
	pages  map[string][]domain.CatalogItem
	failOn map[string]bool
	calls  []string
}

func pageKey(countries []string, ct domain.ContentType, page int) string {
	return fmt.Sprintf("%v/%s/%d", countries, ct, page)
}

func (f *fakeDiscoverer) Discover(_ context.Context, p catalog.DiscoverParams) (*catalog.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := pageKey(p.OriginCountries, p.ContentType, p.Page)
	f.calls = append(f.calls, key)
	if f.failOn[key] {
		return nil, &catalog.Error{Kind: catalog.KindUpstream, StatusCode: 503, Path: "/discover"}
	}
	return &catalog.Page{Page: p.Page, Items: f.pages[key]}, nil
}

// idScorer scores an item by a fixed table keyed on external id.
type idScorer map[int64]int

func (s idScorer) Score(item domain.CatalogItem, _ time.Time) domain.PriorityComponents {
	return domain.PriorityComponents{RegionScore: s[item.ExternalID]}
}

func tvItems(ids ...int64) []domain.CatalogItem {
	out := make([]domain.CatalogItem, len(ids))
	for i, id := range ids {
		out[i] = domain.CatalogItem{ExternalID: id, ContentType: domain.ContentTypeTV, Title: fmt.Sprintf("t%d", id)}
	}
	return out
}

func twoBuckets() []discovery.Bucket {
	return []discovery.Bucket{
		{Name: "KR", Countries: []string{"KR"}, ContentTypes: []domain.ContentType{domain.ContentTypeTV}, Pages: 1},
		{Name: "JP", Countries: []string{"JP"}, ContentTypes: []domain.ContentType{domain.ContentTypeTV}, Pages: 1},
	}
}

// fakeKeyChecker treats a fixed set of keys as known.
type fakeKeyChecker struct {
	known map[domain.ItemKey]bool
	calls int
}

func (f *fakeKeyChecker) UnknownKeys(_ context.Context, keys []domain.ItemKey) ([]domain.ItemKey, error) {
	f.calls++
	var out []domain.ItemKey
	for _, k := range keys {
		if !f.known[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

func TestPipeline_QuotaOfFiveFromEightAcrossTwoRegions(t *testing.T) {
	t.Parallel()

	client := &fakeDiscoverer{pages: map[string][]domain.CatalogItem{
		pageKey([]string{"KR"}, domain.ContentTypeTV, 1): tvItems(1, 3, 5, 7),
		pageKey([]string{"JP"}, domain.ContentTypeTV, 1): tvItems(2, 4, 6, 8),
	}}
	scores := idScorer{1: 9, 2: 8, 3: 7, 4: 6, 5: 5, 6: 4, 7: 3, 8: 2}

	agg := discovery.NewAggregator(client, scores, twoBuckets(), "popularity.desc", 3, logger.NewNop())
	result, err := agg.Discover(context.Background(), 5, now)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 8)

	fresh, err := discovery.NewDedupFilter(&fakeKeyChecker{}).Filter(context.Background(), result.Candidates)
	require.NoError(t, err)

	selection := discovery.SelectTop(fresh, 5)
	items := selection.QueueItems()
	require.Len(t, items, 5)

	gotIDs := make([]int64, len(items))
	for i, item := range items {
		gotIDs[i] = item.ExternalID
		assert.Equal(t, domain.QueueStatusPending, item.Status)
		assert.NotEmpty(t, item.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, gotIDs)
	assert.Equal(t, domain.RegionCounts{"KR": 3, "JP": 2}, selection.RegionCounts)
}

func TestSelectTop_NeverExceedsQuota(t *testing.T) {
	t.Parallel()

	candidates := make([]discovery.Candidate, 100)
	for i := range candidates {
		candidates[i] = discovery.Candidate{Order: i, Region: "KR"}
	}

	for _, quota := range []int{0, 1, 5, 99, 100, 250} {
		got := discovery.SelectTop(candidates, quota)
		assert.Len(t, got.Candidates, min(quota, len(candidates)), "quota %d", quota)
	}
}

func TestSelectTop_TiesKeepDiscoveryOrder(t *testing.T) {
	t.Parallel()

	candidates := []discovery.Candidate{
		{Item: domain.CatalogItem{ExternalID: 30}, Order: 0, Components: domain.PriorityComponents{TypeScore: 5}},
		{Item: domain.CatalogItem{ExternalID: 10}, Order: 1, Components: domain.PriorityComponents{TypeScore: 5}},
		{Item: domain.CatalogItem{ExternalID: 20}, Order: 2, Components: domain.PriorityComponents{TypeScore: 7}},
	}

	got := discovery.SelectTop(candidates, 3)
	ids := []int64{got.Candidates[0].Item.ExternalID, got.Candidates[1].Item.ExternalID, got.Candidates[2].Item.ExternalID}
	assert.Equal(t, []int64{20, 30, 10}, ids)
}

func TestAggregator_PageFailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	client := &fakeDiscoverer{
		pages: map[string][]domain.CatalogItem{
			pageKey([]string{"JP"}, domain.ContentTypeTV, 1): tvItems(2, 4),
		},
		failOn: map[string]bool{pageKey([]string{"KR"}, domain.ContentTypeTV, 1): true},
	}

	agg := discovery.NewAggregator(client, idScorer{}, twoBuckets(), "", 3, logger.NewNop())
	result, err := agg.Discover(context.Background(), 10, now)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 1, result.FailedPages)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "JP", result.Candidates[0].Region)
	assert.Equal(t, []string{"JP"}, result.Candidates[0].Item.OriginCountry)
}

func TestAggregator_AllPagesFail(t *testing.T) {
	t.Parallel()

	client := &fakeDiscoverer{failOn: map[string]bool{
		pageKey([]string{"KR"}, domain.ContentTypeTV, 1): true,
		pageKey([]string{"JP"}, domain.ContentTypeTV, 1): true,
	}}

	agg := discovery.NewAggregator(client, idScorer{}, twoBuckets(), "", 3, logger.NewNop())
	_, err := agg.Discover(context.Background(), 10, now)
	assert.True(t, errors.Is(err, discovery.ErrNothingDiscovered))
}

func TestAggregator_BreadthFirstAndStopsAtOverFetchTarget(t *testing.T) {
	t.Parallel()

	buckets := twoBuckets()
	buckets[0].Pages = 3
	buckets[1].Pages = 3

	client := &fakeDiscoverer{pages: map[string][]domain.CatalogItem{
		pageKey([]string{"KR"}, domain.ContentTypeTV, 1): tvItems(1, 2),
		pageKey([]string{"JP"}, domain.ContentTypeTV, 1): tvItems(3, 4),
		pageKey([]string{"KR"}, domain.ContentTypeTV, 2): tvItems(5, 6),
		pageKey([]string{"JP"}, domain.ContentTypeTV, 2): tvItems(7, 8),
	}}

	// quota 2 × over-fetch 3 = 6 unique items needed.
	agg := discovery.NewAggregator(client, idScorer{}, buckets, "", 3, logger.NewNop())
	result, err := agg.Discover(context.Background(), 2, now)
	require.NoError(t, err)

	assert.Len(t, result.Candidates, 6)
	assert.Equal(t, []string{
		pageKey([]string{"KR"}, domain.ContentTypeTV, 1),
		pageKey([]string{"JP"}, domain.ContentTypeTV, 1),
		pageKey([]string{"KR"}, domain.ContentTypeTV, 2),
	}, client.calls)
}

func TestAggregator_KnownItemsDoNotCountTowardTarget(t *testing.T) {
	t.Parallel()

	client := &fakeDiscoverer{pages: map[string][]domain.CatalogItem{
		pageKey([]string{"KR"}, domain.ContentTypeTV, 1): tvItems(1, 2, 3),
		pageKey([]string{"JP"}, domain.ContentTypeTV, 1): tvItems(11, 12, 13),
	}}
	checker := &fakeKeyChecker{known: map[domain.ItemKey]bool{
		{ExternalID: 1, ContentType: domain.ContentTypeTV}: true,
		{ExternalID: 2, ContentType: domain.ContentTypeTV}: true,
		{ExternalID: 3, ContentType: domain.ContentTypeTV}: true,
	}}
	dedup := discovery.NewDedupFilter(checker)

	agg := discovery.NewAggregator(client, idScorer{}, twoBuckets(), "", 1, logger.NewNop(),
		discovery.WithKnownFilter(dedup))
	result, err := agg.Discover(context.Background(), 3, now)
	require.NoError(t, err)

	assert.Len(t, client.calls, 2, "the sibling region is still queried")
	assert.Equal(t, 3, result.Fresh)

	fresh, err := dedup.Filter(context.Background(), result.Candidates)
	require.NoError(t, err)
	selection := discovery.SelectTop(fresh, 3)
	require.Len(t, selection.Candidates, 3)
	assert.Equal(t, domain.RegionCounts{"JP": 3}, selection.RegionCounts)
}

func TestAggregator_FirstSeenDeduplication(t *testing.T) {
	t.Parallel()

	client := &fakeDiscoverer{pages: map[string][]domain.CatalogItem{
		pageKey([]string{"KR"}, domain.ContentTypeTV, 1): tvItems(1, 2),
		pageKey([]string{"JP"}, domain.ContentTypeTV, 1): tvItems(2, 3),
	}}

	agg := discovery.NewAggregator(client, idScorer{}, twoBuckets(), "", 3, logger.NewNop())
	result, err := agg.Discover(context.Background(), 10, now)
	require.NoError(t, err)

	require.Len(t, result.Candidates, 3)
	assert.Equal(t, "KR", result.Candidates[1].Region, "duplicate keeps the region that saw it first")
}

func TestDedupFilter_SingleBulkLookup(t *testing.T) {
	t.Parallel()

	checker := &fakeKeyChecker{known: map[domain.ItemKey]bool{
		{ExternalID: 2, ContentType: domain.ContentTypeTV}: true,
	}}

	candidates := []discovery.Candidate{
		{Item: tvItems(1)[0]}, {Item: tvItems(2)[0]}, {Item: tvItems(3)[0]},
	}

	got, err := discovery.NewDedupFilter(checker).Filter(context.Background(), candidates)
	require.NoError(t, err)

	assert.Equal(t, 1, checker.calls)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Item.ExternalID)
	assert.Equal(t, int64(3), got[1].Item.ExternalID)
}
