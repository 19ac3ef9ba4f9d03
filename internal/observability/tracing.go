package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for catalog-sync spans.
const TracerName = "github.com/jonesrussell/north-cloud/catalog-sync"

// Tracer provides catalog-sync spans over the global tracer provider.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new tracer.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// TickSpan starts a span for one orchestrator tick.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) TickSpan(ctx context.Context, trigger string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sync.tick",
		trace.WithAttributes(attribute.String("sync.trigger", trigger)),
	)
}

// DiscoverySpan starts a span for the discovery phase.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) DiscoverySpan(ctx context.Context, quota int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sync.discover",
		trace.WithAttributes(attribute.Int("sync.quota", quota)),
	)
}

// BatchSpan starts a span for processing one claimed batch.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) BatchSpan(ctx context.Context, jobID string, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sync.process_batch",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.Int("batch.size", size),
		),
	)
}

// ItemSpan starts a span for fetching and persisting one item.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) ItemSpan(ctx context.Context, key string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sync.process_item",
		trace.WithAttributes(attribute.String("item.key", key)),
	)
}

// GapSpan starts a span for a gap detection or fill run.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) GapSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "gaps."+operation,
		trace.WithAttributes(attribute.String("gaps.operation", operation)),
	)
}

// PeopleSpan starts a span for a people enrichment run.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) PeopleSpan(ctx context.Context, limit int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "people.enrich",
		trace.WithAttributes(attribute.Int("people.limit", limit)),
	)
}

// RecordError marks span as failed with err.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
