// Package gaps finds titles missing from, or incomplete in, the local store
// and backfills them through the processor.
package gaps

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/events"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/priority"
)

// Catalog is the read side of the external catalog used by detection.
type Catalog interface {
	Latest(ctx context.Context, contentType domain.ContentType) (int64, error)
	Trending(ctx context.Context, contentType domain.ContentType, page int) (*catalog.Page, error)
	Popular(ctx context.Context, contentType domain.ContentType, page int) (*catalog.Page, error)
	Discover(ctx context.Context, params catalog.DiscoverParams) (*catalog.Page, error)
	Changes(ctx context.Context, contentType domain.ContentType, start, end time.Time, page int) (*catalog.ChangesPage, error)
}

// ContentIndex answers membership and coverage questions about the store.
type ContentIndex interface {
	ExistingIDs(ctx context.Context, contentType domain.ContentType, ids []int64) (map[int64]bool, error)
	MaxExternalID(ctx context.Context, contentType domain.ContentType) (int64, error)
	CountByReleaseYear(ctx context.Context, contentType domain.ContentType, fromYear, toYear int) (map[int]int, error)
	MissingMetadata(ctx context.Context, limit int) ([]domain.ContentRecord, error)
}

// GapStore persists findings.
type GapStore interface {
	Upsert(ctx context.Context, findings []domain.GapFinding, reopenAfter time.Duration) (int, error)
}

// DetectorConfig bounds each signal.
type DetectorConfig struct {
	ContentTypes      []domain.ContentType
	Countries         []string
	SequentialWindow  int
	PopularityPages   int
	TemporalYears     int
	TemporalThreshold float64
	TemporalPages     int
	MetadataLimit     int
	ChangesDays       int
	ChangesMaxPages   int
	ReopenAfter       time.Duration
	SortBy            string
}

// DetectionResult reports one signal's run.
type DetectionResult struct {
	GapType  domain.GapType `json:"gap_type"`
	Findings int            `json:"findings"`
	Upserted int            `json:"upserted"`
	Error    string         `json:"error,omitempty"`
}

// Detector computes gap signals against the persisted set.
type Detector struct {
	catalog   Catalog
	content   ContentIndex
	gaps      GapStore
	cfg       DetectorConfig
	publisher *events.Publisher
	log       logger.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewDetector creates a detector. publisher and metrics may be nil.
func NewDetector(
	client Catalog,
	content ContentIndex,
	gaps GapStore,
	cfg DetectorConfig,
	publisher *events.Publisher,
	log logger.Logger,
	metrics *observability.Metrics,
) *Detector {
	if len(cfg.ContentTypes) == 0 {
		cfg.ContentTypes = domain.ContentTypes
	}
	return &Detector{
		catalog:   client,
		content:   content,
		gaps:      gaps,
		cfg:       cfg,
		publisher: publisher,
		log:       log.With(logger.Component("gap-detector")),
		metrics:   metrics,
		tracer:    observability.NewTracer(),
	}
}

// Detect runs the requested signals, or all of them when types is empty.
// A failing signal is reported in its result and does not stop the others.
// Re-running against an unchanged store upserts the same rows again and
// creates nothing new.
func (d *Detector) Detect(ctx context.Context, now time.Time, types ...domain.GapType) []DetectionResult {
	if len(types) == 0 {
		types = domain.GapTypes
	}

	ctx, span := d.tracer.GapSpan(ctx, "detect")
	defer span.End()

	results := make([]DetectionResult, 0, len(types))
	for _, gapType := range types {
		result := DetectionResult{GapType: gapType}

		findings, err := d.detect(ctx, gapType, now)
		if err == nil {
			result.Findings = len(findings)
			result.Upserted, err = d.gaps.Upsert(ctx, findings, d.cfg.ReopenAfter)
		}
		if err != nil {
			result.Error = err.Error()
			observability.RecordError(span, err)
			d.log.Error("Gap detection failed", logger.String("gap_type", string(gapType)), logger.Error(err))
		} else {
			d.metrics.GapsDetected(string(gapType), result.Findings)
			d.log.Info("Gap detection finished",
				logger.String("gap_type", string(gapType)),
				logger.Int("findings", result.Findings),
				logger.Int("upserted", result.Upserted),
			)
		}

		results = append(results, result)
	}

	d.publisher.PublishAsync(events.Event{
		EventType: events.GapsDetected,
		Payload:   map[string]any{"results": results},
	})
	return results
}

func (d *Detector) detect(ctx context.Context, gapType domain.GapType, now time.Time) ([]domain.GapFinding, error) {
	switch gapType {
	case domain.GapTypeSequential:
		return d.sequential(ctx)
	case domain.GapTypePopularity:
		return d.popularity(ctx, now)
	case domain.GapTypeTemporal:
		return d.temporal(ctx, now)
	case domain.GapTypeMetadata:
		return d.metadata(ctx, now)
	default:
		return nil, fmt.Errorf("unknown gap type %q", gapType)
	}
}

// sequential looks for ids missing around the highest stored id: holes in
// (max-window, max] and unseen ids in (max, min(latest, max+window)].
func (d *Detector) sequential(ctx context.Context) ([]domain.GapFinding, error) {
	if d.cfg.SequentialWindow <= 0 {
		return nil, nil
	}

	var findings []domain.GapFinding
	for _, ct := range d.cfg.ContentTypes {
		maxLocal, err := d.content.MaxExternalID(ctx, ct)
		if err != nil {
			return nil, err
		}
		if maxLocal == 0 {
			continue
		}

		latest, err := d.catalog.Latest(ctx, ct)
		if err != nil {
			return nil, fmt.Errorf("latest %s id: %w", ct, err)
		}

		window := int64(d.cfg.SequentialWindow)
		lo := max(maxLocal-window+1, 1)
		hi := min(max(latest, maxLocal), maxLocal+window)

		ids := make([]int64, 0, hi-lo+1)
		for id := lo; id <= hi; id++ {
			ids = append(ids, id)
		}

		missing, err := d.missing(ctx, ct, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range missing {
			reason := fmt.Sprintf("id hole below stored max %d", maxLocal)
			if id > maxLocal {
				reason = fmt.Sprintf("id above stored max %d, catalog latest %d", maxLocal, latest)
			}
			findings = append(findings, domain.GapFinding{
				ExternalID:    id,
				ContentType:   ct,
				GapType:       domain.GapTypeSequential,
				PriorityScore: priority.GapScore(0, nil, time.Time{}),
				Reason:        reason,
			})
		}
	}

	return findings, nil
}

// popularity cross-references trending and popular lists with the store.
func (d *Detector) popularity(ctx context.Context, now time.Time) ([]domain.GapFinding, error) {
	var findings []domain.GapFinding

	for _, ct := range d.cfg.ContentTypes {
		var items []domain.CatalogItem
		for page := 1; page <= d.cfg.PopularityPages; page++ {
			for _, list := range []struct {
				name  string
				fetch func(context.Context, domain.ContentType, int) (*catalog.Page, error)
			}{
				{"trending", d.catalog.Trending},
				{"popular", d.catalog.Popular},
			} {
				p, err := list.fetch(ctx, ct, page)
				if err != nil {
					if fatal(err) {
						return nil, err
					}
					d.log.Warn("Skipping list page",
						logger.String("list", list.name),
						logger.String("content_type", string(ct)),
						logger.Int("page", page),
						logger.Error(err),
					)
					continue
				}
				items = append(items, tagged(p.Items, list.name)...)
			}
		}

		found, err := d.unstoredItems(ctx, ct, items)
		if err != nil {
			return nil, err
		}
		for _, item := range found {
			findings = append(findings, itemFinding(item, domain.GapTypePopularity,
				"on "+item.DiscoveredFrom+" list but not stored", now))
		}
	}

	return findings, nil
}

// temporal compares stored counts per release year with the catalog's
// totals for the configured countries. Years below the coverage threshold
// contribute their top discover results that are not stored.
func (d *Detector) temporal(ctx context.Context, now time.Time) ([]domain.GapFinding, error) {
	var findings []domain.GapFinding
	toYear := now.Year()
	fromYear := toYear - d.cfg.TemporalYears + 1

	for _, ct := range d.cfg.ContentTypes {
		local, err := d.content.CountByReleaseYear(ctx, ct, fromYear, toYear)
		if err != nil {
			return nil, err
		}

		for year := fromYear; year <= toYear; year++ {
			yearFindings, err := d.temporalYear(ctx, ct, year, local[year], now)
			if err != nil {
				return nil, err
			}
			findings = append(findings, yearFindings...)
		}
	}

	return findings, nil
}

func (d *Detector) temporalYear(
	ctx context.Context,
	ct domain.ContentType,
	year, localCount int,
	now time.Time,
) ([]domain.GapFinding, error) {
	var items []domain.CatalogItem
	catalogTotal := 0

	for page := 1; page <= max(d.cfg.TemporalPages, 1); page++ {
		p, err := d.catalog.Discover(ctx, catalog.DiscoverParams{
			ContentType:     ct,
			Page:            page,
			OriginCountries: d.cfg.Countries,
			SortBy:          d.cfg.SortBy,
			Year:            year,
		})
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			d.log.Warn("Skipping temporal page",
				logger.String("content_type", string(ct)),
				logger.Int("year", year),
				logger.Int("page", page),
				logger.Error(err),
			)
			break
		}

		if page == 1 {
			catalogTotal = p.TotalResults
			if catalogTotal == 0 || coverage(localCount, catalogTotal) >= d.cfg.TemporalThreshold {
				return nil, nil
			}
		}
		items = append(items, p.Items...)
		if page >= p.TotalPages {
			break
		}
	}

	found, err := d.unstoredItems(ctx, ct, items)
	if err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("%d coverage %.0f%% (%d of %d)", year,
		coverage(localCount, catalogTotal)*100, localCount, catalogTotal)
	findings := make([]domain.GapFinding, 0, len(found))
	for _, item := range found {
		findings = append(findings, itemFinding(item, domain.GapTypeTemporal, reason, now))
	}
	return findings, nil
}

func coverage(local, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(local) / float64(total)
}

// metadata finds stored records missing display fields, plus stored titles
// the catalog reports as changed, so both get refreshed.
func (d *Detector) metadata(ctx context.Context, now time.Time) ([]domain.GapFinding, error) {
	records, err := d.content.MissingMetadata(ctx, d.cfg.MetadataLimit)
	if err != nil {
		return nil, err
	}

	findings := make([]domain.GapFinding, 0, len(records))
	for _, rec := range records {
		findings = append(findings, domain.GapFinding{
			ExternalID:    rec.ExternalID,
			ContentType:   rec.ContentType,
			GapType:       domain.GapTypeMetadata,
			PriorityScore: priority.GapScore(rec.Popularity, rec.ReleaseDate, now),
			Reason:        "missing " + strings.Join(missingFields(rec), ", "),
		})
	}

	changed, err := d.changed(ctx, now)
	if err != nil {
		return nil, err
	}
	return append(findings, changed...), nil
}

func missingFields(rec domain.ContentRecord) []string {
	var fields []string
	if rec.PosterPath == nil {
		fields = append(fields, "poster")
	}
	if rec.Overview == nil || strings.TrimSpace(*rec.Overview) == "" {
		fields = append(fields, "overview")
	}
	if rec.BackdropPath == nil {
		fields = append(fields, "backdrop")
	}
	return fields
}

// changed walks the catalog change feed and returns stored ids as gaps.
func (d *Detector) changed(ctx context.Context, now time.Time) ([]domain.GapFinding, error) {
	if d.cfg.ChangesDays <= 0 {
		return nil, nil
	}

	start := now.AddDate(0, 0, -d.cfg.ChangesDays)
	var findings []domain.GapFinding

	for _, ct := range d.cfg.ContentTypes {
		var ids []int64
		for page := 1; page <= d.cfg.ChangesMaxPages; page++ {
			p, err := d.catalog.Changes(ctx, ct, start, now, page)
			if err != nil {
				if fatal(err) {
					return nil, err
				}
				d.log.Warn("Stopping change feed walk",
					logger.String("content_type", string(ct)),
					logger.Int("page", page),
					logger.Error(err),
				)
				break
			}
			ids = append(ids, p.IDs...)
			if page >= p.TotalPages {
				break
			}
		}

		if len(ids) == 0 {
			continue
		}
		existing, err := d.content.ExistingIDs(ctx, ct, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range uniqueSorted(ids) {
			if !existing[id] {
				continue
			}
			findings = append(findings, domain.GapFinding{
				ExternalID:    id,
				ContentType:   ct,
				GapType:       domain.GapTypeMetadata,
				PriorityScore: priority.GapScore(0, nil, time.Time{}),
				Reason:        "changed upstream since " + start.Format(time.DateOnly),
			})
		}
	}

	return findings, nil
}

// missing returns the ids in ids that are not stored, ascending.
func (d *Detector) missing(ctx context.Context, ct domain.ContentType, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	existing, err := d.content.ExistingIDs(ctx, ct, ids)
	if err != nil {
		return nil, err
	}

	var out []int64
	for _, id := range uniqueSorted(ids) {
		if !existing[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// unstoredItems returns the first occurrence of each item that is not stored.
func (d *Detector) unstoredItems(ctx context.Context, ct domain.ContentType, items []domain.CatalogItem) ([]domain.CatalogItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ExternalID
	}
	existing, err := d.content.ExistingIDs(ctx, ct, ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(items))
	var out []domain.CatalogItem
	for _, item := range items {
		if existing[item.ExternalID] {
			continue
		}
		if _, dup := seen[item.ExternalID]; dup {
			continue
		}
		seen[item.ExternalID] = struct{}{}
		out = append(out, item)
	}
	return out, nil
}

func itemFinding(item domain.CatalogItem, gapType domain.GapType, reason string, now time.Time) domain.GapFinding {
	return domain.GapFinding{
		ExternalID:    item.ExternalID,
		ContentType:   item.ContentType,
		GapType:       gapType,
		PriorityScore: priority.GapScore(item.Popularity, item.ReleaseDate, now),
		Reason:        reason,
	}
}

func tagged(items []domain.CatalogItem, source string) []domain.CatalogItem {
	out := make([]domain.CatalogItem, len(items))
	for i, item := range items {
		item.DiscoveredFrom = source
		out[i] = item
	}
	return out
}

func uniqueSorted(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// fatal reports errors that make the rest of a signal pointless.
func fatal(err error) bool {
	switch catalog.KindOf(err) {
	case catalog.KindUnavailable, catalog.KindUnauthorized, "":
		return true
	default:
		return false
	}
}
