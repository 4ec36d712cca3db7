// Package observe provides application-wide observability primitives for
// the Inkra orchestrator: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Inkra metrics.
const meterName = "github.com/md0nahue/inkra-sub002"

// Metrics holds all OpenTelemetry metric instruments for the orchestrator.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// PollWaitDuration tracks how long sessions waited on content readiness
	// before the poller's predicate was satisfied.
	PollWaitDuration metric.Float64Histogram

	// PlaybackDuration tracks narration playback time per question.
	PlaybackDuration metric.Float64Histogram

	// ListeningDuration tracks capture time per recorded answer.
	ListeningDuration metric.Float64Histogram

	// BackendRequestDuration tracks backend HTTP round-trip latency.
	BackendRequestDuration metric.Float64Histogram

	// --- Counters ---

	// StateTransitions counts session state transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// PollAttempts counts readiness poll queries, satisfied or not.
	PollAttempts metric.Int64Counter

	// SilenceDetections counts silence-triggered auto-advances.
	SilenceDetections metric.Int64Counter

	// DuplicateSuppressions counts user actions swallowed by the
	// duplicate-action guard. Use with attribute.String("action", ...).
	DuplicateSuppressions metric.Int64Counter

	// BackendRequests counts backend API calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts backend call failures by operation.
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Content
// readiness waits routinely run into tens of seconds, so the upper buckets
// reach further than typical HTTP-latency boundaries.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PollWaitDuration, err = m.Float64Histogram("inkra.poll.wait.duration",
		metric.WithDescription("Time spent waiting for content readiness per poll cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("inkra.playback.duration",
		metric.WithDescription("Narration playback time per question."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ListeningDuration, err = m.Float64Histogram("inkra.listening.duration",
		metric.WithDescription("Capture time per recorded answer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendRequestDuration, err = m.Float64Histogram("inkra.backend.request.duration",
		metric.WithDescription("Backend HTTP round-trip latency by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StateTransitions, err = m.Int64Counter("inkra.session.transitions",
		metric.WithDescription("Total session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.PollAttempts, err = m.Int64Counter("inkra.poll.attempts",
		metric.WithDescription("Total readiness poll queries."),
	); err != nil {
		return nil, err
	}
	if met.SilenceDetections, err = m.Int64Counter("inkra.silence.detections",
		metric.WithDescription("Total silence-triggered auto-advances."),
	); err != nil {
		return nil, err
	}
	if met.DuplicateSuppressions, err = m.Int64Counter("inkra.action.suppressions",
		metric.WithDescription("Total duplicate user actions suppressed by the guard."),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("inkra.backend.requests",
		metric.WithDescription("Total backend API requests by operation and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("inkra.backend.errors",
		metric.WithDescription("Total backend call failures by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("inkra.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("inkra.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition records one session state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordSuppression records one duplicate action swallowed by the guard.
func (m *Metrics) RecordSuppression(ctx context.Context, action string) {
	m.DuplicateSuppressions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// BackendRequest records one backend call's outcome and latency. It satisfies
// the backend client's Recorder interface.
func (m *Metrics) BackendRequest(op string, elapsed time.Duration, err error) {
	ctx := context.Background()
	status := "ok"
	if err != nil {
		status = "error"
		m.BackendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
	m.BackendRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
}
