package priority_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/config"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/priority"
)

func testPriorityConfig() config.PriorityConfig {
	cfg := &config.Config{}
	config.SetDefaults(cfg)
	return cfg.Priority
}

func date(year int) *time.Time {
	d := time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC)
	return &d
}

var now = time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

func TestScorer_Score(t *testing.T) {
	t.Parallel()

	scorer := priority.NewScorer(testPriorityConfig())

	testCases := []struct {
		name string
		item domain.CatalogItem
		want domain.PriorityComponents
	}{
		{
			name: "korean drama released this year",
			item: domain.CatalogItem{
				ContentType: domain.ContentTypeTV, OriginCountry: []string{"KR"},
				GenreIDs: []int{18}, Popularity: 57.3, ReleaseDate: date(2026),
			},
			want: domain.PriorityComponents{RegionScore: 20, TypeScore: 10, PopularityScore: 5, RecencyBonus: 5},
		},
		{
			name: "japanese animation last year",
			item: domain.CatalogItem{
				ContentType: domain.ContentTypeTV, OriginCountry: []string{"JP"},
				GenreIDs: []int{16, 18}, Popularity: 12, ReleaseDate: date(2025),
			},
			want: domain.PriorityComponents{RegionScore: 12, TypeScore: 5, PopularityScore: 1, RecencyBonus: 3},
		},
		{
			name: "western movie popularity capped",
			item: domain.CatalogItem{
				ContentType: domain.ContentTypeMovie, OriginCountry: []string{"US"},
				Popularity: 950, ReleaseDate: date(2010),
			},
			want: domain.PriorityComponents{RegionScore: 4, TypeScore: 6, PopularityScore: 10},
		},
		{
			name: "western tv drama stays tv",
			item: domain.CatalogItem{
				ContentType: domain.ContentTypeTV, OriginCountry: []string{"GB"}, GenreIDs: []int{18},
			},
			want: domain.PriorityComponents{RegionScore: 4, TypeScore: 8},
		},
		{
			name: "co-production takes highest country",
			item: domain.CatalogItem{
				ContentType: domain.ContentTypeMovie, OriginCountry: []string{"US", "KR"},
			},
			want: domain.PriorityComponents{RegionScore: 20, TypeScore: 6},
		},
		{
			name: "unknown country and no date",
			item: domain.CatalogItem{ContentType: domain.ContentTypeMovie, OriginCountry: []string{"ZZ"}},
			want: domain.PriorityComponents{TypeScore: 6},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, scorer.Score(tc.item, now))
		})
	}
}

func TestScorer_Deterministic(t *testing.T) {
	t.Parallel()

	scorer := priority.NewScorer(testPriorityConfig())
	item := domain.CatalogItem{
		ExternalID: 1, ContentType: domain.ContentTypeTV, OriginCountry: []string{"TH"},
		GenreIDs: []int{18}, Popularity: 33.3, ReleaseDate: date(2026),
	}
	twin := item
	twin.ExternalID = 2
	twin.Title = "different title"

	first := scorer.Score(item, now)
	for range 50 {
		assert.Equal(t, first, scorer.Score(item, now))
	}
	assert.Equal(t, first.Total(), scorer.Score(twin, now).Total())
}

func TestGapScore(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.0, priority.GapScore(0, date(2026), now), 1e-9)
	assert.InDelta(t, 1.5*6, priority.GapScore(50, date(2025), now), 1e-9)
	assert.InDelta(t, 11.0, priority.GapScore(5000, nil, now), 1e-9)
	assert.InDelta(t, 1.0, priority.GapScore(-3, date(2000), now), 1e-9)
}
