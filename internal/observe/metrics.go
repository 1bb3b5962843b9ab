// Package observe provides application-wide observability primitives for
// Sibilant: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sibilant metrics.
const meterName = "github.com/voxhollow/sibilant"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// FrontendDuration tracks feature extraction latency per fed segment.
	FrontendDuration metric.Float64Histogram

	// EncodeDuration tracks windowed-encoder latency per chunk.
	EncodeDuration metric.Float64Histogram

	// DecodeDuration tracks head inference plus CTC decode latency per
	// finalized chunk. Use with attribute:
	//   attribute.String("head", "picker"|"decoder")
	DecodeDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksProcessed counts encoder chunks processed across all sessions.
	ChunksProcessed metric.Int64Counter

	// SymbolsFinalized counts finalized transcript symbols. Use with
	// attribute: attribute.String("head", "picker"|"decoder").
	SymbolsFinalized metric.Int64Counter

	// SessionsEnded counts completed sessions. Use with attribute:
	//   attribute.String("status", "finished"|"aborted")
	SessionsEnded metric.Int64Counter

	// --- Error counters ---

	// DecodeFailures counts per-chunk decode failures (for example
	// non-finite posteriors). Use with attribute:
	//   attribute.String("head", "picker"|"decoder")
	DecodeFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live recognition sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-chunk streaming latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrontendDuration, err = m.Float64Histogram("sibilant.frontend.duration",
		metric.WithDescription("Latency of feature extraction per fed segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("sibilant.encode.duration",
		metric.WithDescription("Latency of the windowed chunk encoder per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("sibilant.decode.duration",
		metric.WithDescription("Latency of head inference and CTC decode per finalized chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksProcessed, err = m.Int64Counter("sibilant.chunks.processed",
		metric.WithDescription("Total encoder chunks processed across all sessions."),
	); err != nil {
		return nil, err
	}
	if met.SymbolsFinalized, err = m.Int64Counter("sibilant.symbols.finalized",
		metric.WithDescription("Total finalized transcript symbols by head."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("sibilant.sessions.ended",
		metric.WithDescription("Total ended sessions by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DecodeFailures, err = m.Int64Counter("sibilant.decode.failures",
		metric.WithDescription("Total per-chunk decode failures by head."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("sibilant.active_sessions",
		metric.WithDescription("Number of live recognition sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sibilant.http.request.duration",
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

// RecordDecodeDuration records head inference plus CTC decode latency for
// one head.
func (m *Metrics) RecordDecodeDuration(ctx context.Context, head string, seconds float64) {
	m.DecodeDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("head", head)),
	)
}

// RecordSymbols records n finalized symbols for one head. A zero count is a
// no-op so hot paths can call it unconditionally.
func (m *Metrics) RecordSymbols(ctx context.Context, head string, n int) {
	if n == 0 {
		return
	}
	m.SymbolsFinalized.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("head", head)),
	)
}

// RecordDecodeFailure records a per-chunk decode failure for one head.
func (m *Metrics) RecordDecodeFailure(ctx context.Context, head string) {
	m.DecodeFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("head", head)),
	)
}

// RecordSessionEnd records a session ending with the given status.
func (m *Metrics) RecordSessionEnd(ctx context.Context, status string) {
	m.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
