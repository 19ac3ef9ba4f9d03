// Package discovery turns region buckets into a scored, deduplicated and
// quota-bounded set of new catalog items.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/config"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

// ErrNothingDiscovered is returned when every discovery page failed.
var ErrNothingDiscovered = errors.New("discovery failed for every region page")

// Discoverer is the catalog capability the aggregator needs.
type Discoverer interface {
	Discover(ctx context.Context, params catalog.DiscoverParams) (*catalog.Page, error)
}

// Scorer computes priority components for an item.
type Scorer interface {
	Score(item domain.CatalogItem, now time.Time) domain.PriorityComponents
}

// KnownFilter drops candidates the store already holds. DedupFilter
// implements it.
type KnownFilter interface {
	Filter(ctx context.Context, candidates []Candidate) ([]Candidate, error)
}

// Bucket is one region of the discovery fan-out.
type Bucket struct {
	Name         string
	Countries    []string
	ContentTypes []domain.ContentType
	Pages        int
}

// BucketsFromConfig validates and converts region config.
func BucketsFromConfig(regions []config.RegionConfig) ([]Bucket, error) {
	buckets := make([]Bucket, 0, len(regions))
	for _, r := range regions {
		types := make([]domain.ContentType, 0, len(r.ContentTypes))
		for _, raw := range r.ContentTypes {
			ct, err := domain.ParseContentType(raw)
			if err != nil {
				return nil, fmt.Errorf("region %s: %w", r.Name, err)
			}
			types = append(types, ct)
		}
		buckets = append(buckets, Bucket{
			Name:         r.Name,
			Countries:    r.Countries,
			ContentTypes: types,
			Pages:        r.Pages,
		})
	}
	return buckets, nil
}

// Candidate is a discovered item with its region tag and score.
type Candidate struct {
	Item       domain.CatalogItem
	Region     string
	Components domain.PriorityComponents
	// Order is the first-seen position, used to break score ties.
	Order int
}

// Key returns the candidate's natural key.
func (c Candidate) Key() domain.ItemKey {
	return c.Item.Key()
}

// Result is the outcome of one discovery fan-out. Candidates holds every
// unique item seen; Fresh counts the ones not already stored or queued.
type Result struct {
	Candidates  []Candidate
	Fresh       int
	Pages       int
	FailedPages int
}

// Aggregator fans discovery out over region buckets.
type Aggregator struct {
	client    Discoverer
	scorer    Scorer
	buckets   []Bucket
	sortBy    string
	overFetch int
	known     KnownFilter
	log       logger.Logger
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithKnownFilter makes only unknown items count toward the over-fetch
// target. Without it every unique item counts.
func WithKnownFilter(f KnownFilter) AggregatorOption {
	return func(a *Aggregator) { a.known = f }
}

// NewAggregator creates an aggregator. overFetch multiplies the quota to get
// the number of fresh items to collect before stopping early.
func NewAggregator(
	client Discoverer,
	scorer Scorer,
	buckets []Bucket,
	sortBy string,
	overFetch int,
	log logger.Logger,
	opts ...AggregatorOption,
) *Aggregator {
	a := &Aggregator{
		client:    client,
		scorer:    scorer,
		buckets:   buckets,
		sortBy:    sortBy,
		overFetch: max(overFetch, 1),
		log:       log.With(logger.Component("discovery")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Discover walks the bucket pages until quota × over-fetch fresh items are
// collected or the pages run out. Pages are taken breadth-first (page 1 of
// every bucket and type, then page 2, ...) so a region full of known titles
// never starves the others. A failing page is logged and skipped; only a
// fan-out where every page failed is an error.
func (a *Aggregator) Discover(ctx context.Context, quota int, now time.Time) (*Result, error) {
	target := quota * a.overFetch
	result := &Result{}
	seen := make(map[domain.ItemKey]struct{})

	maxPages := 0
	for _, b := range a.buckets {
		maxPages = max(maxPages, b.Pages)
	}

	for page := 1; page <= maxPages; page++ {
		for _, bucket := range a.buckets {
			if page > bucket.Pages {
				continue
			}
			for _, contentType := range bucket.ContentTypes {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if result.Fresh >= target {
					return result, nil
				}

				a.fetchPage(ctx, bucket, contentType, page, now, seen, result)
			}
		}
	}

	if result.Pages > 0 && result.FailedPages == result.Pages {
		return nil, ErrNothingDiscovered
	}
	return result, nil
}

func (a *Aggregator) fetchPage(
	ctx context.Context,
	bucket Bucket,
	contentType domain.ContentType,
	page int,
	now time.Time,
	seen map[domain.ItemKey]struct{},
	result *Result,
) {
	result.Pages++

	resp, err := a.client.Discover(ctx, catalog.DiscoverParams{
		ContentType:     contentType,
		Page:            page,
		OriginCountries: bucket.Countries,
		SortBy:          a.sortBy,
	})
	if err != nil {
		result.FailedPages++
		a.log.Warn("Discovery page failed",
			logger.String("region", bucket.Name),
			logger.String("content_type", string(contentType)),
			logger.Int("page", page),
			logger.String("error_kind", string(catalog.KindOf(err))),
			logger.Error(err),
		)
		return
	}

	first := len(result.Candidates)
	for _, item := range resp.Items {
		key := item.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		// Movie list results carry no origin country; the discover filter
		// guarantees the item is from one of the bucket's countries.
		if len(item.OriginCountry) == 0 {
			item.OriginCountry = bucket.Countries
		}
		item.DiscoveredFrom = bucket.Name

		result.Candidates = append(result.Candidates, Candidate{
			Item:       item,
			Region:     bucket.Name,
			Components: a.scorer.Score(item, now),
			Order:      len(result.Candidates),
		})
	}

	result.Fresh += a.countFresh(ctx, bucket, result.Candidates[first:])
}

// countFresh returns how many of the page's candidates are unknown. A failed
// lookup counts them all; the orchestrator's own dedup pass still runs.
func (a *Aggregator) countFresh(ctx context.Context, bucket Bucket, page []Candidate) int {
	if a.known == nil || len(page) == 0 {
		return len(page)
	}
	fresh, err := a.known.Filter(ctx, page)
	if err != nil {
		a.log.Warn("Discovery dedup lookup failed",
			logger.String("region", bucket.Name),
			logger.Error(err),
		)
		return len(page)
	}
	return len(fresh)
}
