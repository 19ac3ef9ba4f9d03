// Package priority scores catalog items for queue ordering and gap fill.
// Every function here is pure: identical inputs always give identical output.
package priority

import (
	"math"
	"slices"
	"time"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/config"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// Catalog genre ids that change an item's scoring category.
const (
	genreAnimation = 16
	genreDrama     = 18
)

// Scoring categories used as type weight keys.
const (
	CategoryDrama = "drama"
	CategoryAnime = "anime"
)

// Gap priority weights.
const (
	gapPopularityStep     = 10.0
	gapPopularityCap      = 10.0
	gapRecencyCurrentYear = 2.0
	gapRecencyLastYear    = 1.5
	gapRecencyOlder       = 1.0
)

// Scorer computes queue priority components from configured weights.
type Scorer struct {
	cfg config.PriorityConfig
}

// NewScorer creates a scorer over cfg. The config is copied.
func NewScorer(cfg config.PriorityConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score returns the priority components for item at time now:
// region weight × multiplier, type weight, capped popularity and a recency
// bonus for current or previous year releases.
func (s *Scorer) Score(item domain.CatalogItem, now time.Time) domain.PriorityComponents {
	return domain.PriorityComponents{
		RegionScore:     s.regionWeight(item.OriginCountry) * s.cfg.RegionMultiplier,
		TypeScore:       s.cfg.TypeWeights[Category(item, s.cfg)],
		PopularityScore: s.popularityScore(item.Popularity),
		RecencyBonus:    s.recencyBonus(item.ReleaseDate, now),
	}
}

// regionWeight is the highest weight among the item's origin countries.
func (s *Scorer) regionWeight(countries []string) int {
	best := 0
	for _, code := range countries {
		if w := s.cfg.CountryWeights[code]; w > best {
			best = w
		}
	}
	return best
}

func (s *Scorer) popularityScore(popularity float64) int {
	if popularity <= 0 || s.cfg.PopularityDivisor <= 0 {
		return 0
	}
	score := int(math.Floor(popularity / float64(s.cfg.PopularityDivisor)))
	return min(score, s.cfg.PopularityCap)
}

func (s *Scorer) recencyBonus(released *time.Time, now time.Time) int {
	if released == nil {
		return 0
	}
	switch released.Year() {
	case now.Year():
		return s.cfg.CurrentYearBonus
	case now.Year() - 1:
		return s.cfg.PreviousYearBonus
	default:
		return 0
	}
}

// Category maps an item to its scoring category. Animation from an anime
// origin is "anime"; TV drama from a drama origin is "drama"; everything
// else scores as its content type.
func Category(item domain.CatalogItem, cfg config.PriorityConfig) string {
	if slices.Contains(item.GenreIDs, genreAnimation) && anyIn(item.OriginCountry, cfg.AnimeCountries) {
		return CategoryAnime
	}
	if item.ContentType == domain.ContentTypeTV &&
		slices.Contains(item.GenreIDs, genreDrama) &&
		anyIn(item.OriginCountry, cfg.DramaCountries) {
		return CategoryDrama
	}
	return string(item.ContentType)
}

func anyIn(values, set []string) bool {
	for _, v := range values {
		if slices.Contains(set, v) {
			return true
		}
	}
	return false
}

// GapScore is popularity_weight × recency_weight for a gap finding.
// popularity_weight is 1 + min(popularity/10, 10); recency_weight is 2.0 for
// current-year releases, 1.5 for the previous year and 1.0 otherwise.
func GapScore(popularity float64, released *time.Time, now time.Time) float64 {
	popularityWeight := 1 + math.Min(math.Max(popularity, 0)/gapPopularityStep, gapPopularityCap)

	recencyWeight := gapRecencyOlder
	if released != nil {
		switch released.Year() {
		case now.Year():
			recencyWeight = gapRecencyCurrentYear
		case now.Year() - 1:
			recencyWeight = gapRecencyLastYear
		}
	}

	return popularityWeight * recencyWeight
}
