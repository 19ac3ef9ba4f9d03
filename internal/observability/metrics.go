// Package observability provides metrics and tracing for catalog-sync.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all catalog-sync metrics.
	MetricsNamespace = "catalog_sync"

	subsystemSync    = "sync"
	subsystemQueue   = "queue"
	subsystemCatalog = "catalog"
	subsystemGaps    = "gaps"
	subsystemPeople  = "people"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, which keeps component tests free of registries.
type Metrics struct {
	// Orchestrator metrics
	TicksTotal          *prometheus.CounterVec
	TickDurationSeconds *prometheus.HistogramVec
	JobsTotal           *prometheus.CounterVec
	LockAttemptsTotal   *prometheus.CounterVec

	// Queue metrics
	ItemsEnqueuedTotal  *prometheus.CounterVec
	ItemsProcessedTotal *prometheus.CounterVec
	ItemDurationSeconds prometheus.Histogram
	QueueDepth          *prometheus.GaugeVec

	// Catalog metrics
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Gap metrics
	GapsDetectedTotal    *prometheus.CounterVec
	GapsResolvedTotal    prometheus.Counter
	GapFillFailuresTotal *prometheus.CounterVec
	UnresolvedGaps       *prometheus.GaugeVec

	// People metrics
	PeopleEnrichedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initSyncMetrics(factory)
	m.initQueueMetrics(factory)
	m.initCatalogMetrics(factory)
	m.initGapMetrics(factory)
	m.initPeopleMetrics(factory)

	return m
}

func (m *Metrics) initSyncMetrics(factory promauto.Factory) {
	m.TicksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemSync,
			Name:      "ticks_total",
			Help:      "Total orchestrator ticks by resulting action",
		},
		[]string{"action"},
	)

	m.TickDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemSync,
			Name:      "tick_duration_seconds",
			Help:      "Duration of orchestrator ticks",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"action"},
	)

	m.JobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemSync,
			Name:      "jobs_total",
			Help:      "Sync jobs by final or starting status",
		},
		[]string{"status"},
	)

	m.LockAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemSync,
			Name:      "lock_attempts_total",
			Help:      "Distributed lock attempts by task and result",
		},
		[]string{"task", "result"},
	)
}

func (m *Metrics) initQueueMetrics(factory promauto.Factory) {
	m.ItemsEnqueuedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemQueue,
			Name:      "items_enqueued_total",
			Help:      "Queue items inserted",
		},
		[]string{"source"},
	)

	m.ItemsProcessedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemQueue,
			Name:      "items_processed_total",
			Help:      "Processed items by outcome",
		},
		[]string{"outcome"},
	)

	m.ItemDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemQueue,
			Name:      "item_duration_seconds",
			Help:      "Time to fetch and persist one item",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)

	m.QueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemQueue,
			Name:      "depth",
			Help:      "Queue items per status at the last status read",
		},
		[]string{"status"},
	)
}

func (m *Metrics) initCatalogMetrics(factory promauto.Factory) {
	m.CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemCatalog,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	m.CircuitBreakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemCatalog,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
}

func (m *Metrics) initGapMetrics(factory promauto.Factory) {
	m.GapsDetectedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemGaps,
			Name:      "detected_total",
			Help:      "Gap findings by type",
		},
		[]string{"gap_type"},
	)

	m.GapsResolvedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemGaps,
			Name:      "resolved_total",
			Help:      "Gaps resolved by backfill",
		},
	)

	m.GapFillFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemGaps,
			Name:      "fill_failures_total",
			Help:      "Failed gap fills by error kind",
		},
		[]string{"kind"},
	)

	m.UnresolvedGaps = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemGaps,
			Name:      "unresolved",
			Help:      "Unresolved gaps per type at the last status read",
		},
		[]string{"gap_type"},
	)
}

func (m *Metrics) initPeopleMetrics(factory promauto.Factory) {
	m.PeopleEnrichedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemPeople,
			Name:      "enrichments_total",
			Help:      "Person profile refreshes by outcome",
		},
		[]string{"outcome"},
	)
}

// ObserveTick records one orchestrator tick.
func (m *Metrics) ObserveTick(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(action).Inc()
	m.TickDurationSeconds.WithLabelValues(action).Observe(d.Seconds())
}

// JobTransition counts a job reaching status.
func (m *Metrics) JobTransition(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

// LockAttempt counts a distributed lock attempt.
func (m *Metrics) LockAttempt(task string, acquired bool) {
	if m == nil {
		return
	}
	result := "acquired"
	if !acquired {
		result = "held"
	}
	m.LockAttemptsTotal.WithLabelValues(task, result).Inc()
}

// Enqueued counts inserted queue items.
func (m *Metrics) Enqueued(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsEnqueuedTotal.WithLabelValues(source).Add(float64(n))
}

// ItemProcessed records one item outcome and its duration.
func (m *Metrics) ItemProcessed(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ItemsProcessedTotal.WithLabelValues(outcome).Inc()
	m.ItemDurationSeconds.Observe(d.Seconds())
}

// SetQueueDepth publishes a per-status queue count.
func (m *Metrics) SetQueueDepth(status string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(status).Set(float64(n))
}

// BreakerTransition records a circuit breaker state change.
func (m *Metrics) BreakerTransition(name, from, to string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
	m.CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// GapsDetected counts findings of one type.
func (m *Metrics) GapsDetected(gapType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.GapsDetectedTotal.WithLabelValues(gapType).Add(float64(n))
}

// GapResolved counts a resolved gap.
func (m *Metrics) GapResolved() {
	if m == nil {
		return
	}
	m.GapsResolvedTotal.Inc()
}

// GapFillFailed counts a failed gap fill.
func (m *Metrics) GapFillFailed(kind string) {
	if m == nil {
		return
	}
	m.GapFillFailuresTotal.WithLabelValues(kind).Inc()
}

// SetUnresolvedGaps publishes an unresolved gap count for one type.
func (m *Metrics) SetUnresolvedGaps(gapType string, n int) {
	if m == nil {
		return
	}
	m.UnresolvedGaps.WithLabelValues(gapType).Set(float64(n))
}

// PersonEnriched counts one profile refresh outcome.
func (m *Metrics) PersonEnriched(outcome string) {
	if m == nil {
		return
	}
	m.PeopleEnrichedTotal.WithLabelValues(outcome).Inc()
}
