// Package observe provides application-wide observability primitives for
// Echoline: OpenTelemetry metrics and a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Echoline metrics.
const meterName = "github.com/arthurnavah/echoline"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// InteractionsRegistered counts user interaction samples fed into the
	// estimator.
	InteractionsRegistered metric.Int64Counter

	// CorrectionMagnitude tracks the absolute per-word correction applied,
	// in milliseconds. Use with attribute.String("path", "basic"|"advanced").
	CorrectionMagnitude metric.Float64Histogram

	// SyncConfidence tracks the estimator's confidence after each analysis
	// pass.
	SyncConfidence metric.Float64Gauge

	// AudioLatency tracks the current audio latency estimate in milliseconds.
	AudioLatency metric.Float64Gauge

	// AnomalyResets counts partial resets triggered by the real-time monitor.
	AnomalyResets metric.Int64Counter

	// StoreRequests counts pattern store calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreRequests metric.Int64Counter

	// StoreErrors counts terminal (post-retry) pattern store failures by op.
	StoreErrors metric.Int64Counter

	// StoreDuration tracks pattern store call latency by op.
	StoreDuration metric.Float64Histogram

	// QueueDepth tracks pending tasks in the write-back queue.
	QueueDepth metric.Int64UpDownCounter

	// PatternsTracked tracks the number of word patterns in the active set.
	PatternsTracked metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for store
// call latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// correctionBuckets defines histogram bucket boundaries (in milliseconds)
// for per-word correction magnitudes.
var correctionBuckets = []float64{
	1, 5, 10, 25, 50, 100, 200, 300, 500, 1000,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InteractionsRegistered, err = m.Int64Counter("echoline.interactions.registered",
		metric.WithDescription("Total user interaction samples registered with the estimator."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionMagnitude, err = m.Float64Histogram("echoline.correction.magnitude",
		metric.WithDescription("Absolute per-word timestamp correction by path."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(correctionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SyncConfidence, err = m.Float64Gauge("echoline.sync.confidence",
		metric.WithDescription("Estimator confidence after the latest analysis pass."),
	); err != nil {
		return nil, err
	}
	if met.AudioLatency, err = m.Float64Gauge("echoline.sync.audio_latency",
		metric.WithDescription("Current audio latency estimate."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if met.AnomalyResets, err = m.Int64Counter("echoline.sync.anomaly_resets",
		metric.WithDescription("Partial resets triggered by outlier-burst anomaly detection."),
	); err != nil {
		return nil, err
	}
	if met.StoreRequests, err = m.Int64Counter("echoline.store.requests",
		metric.WithDescription("Total pattern store requests by op and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("echoline.store.errors",
		metric.WithDescription("Pattern store failures after retries were exhausted, by op."),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("echoline.store.duration",
		metric.WithDescription("Pattern store call latency by op."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("echoline.queue.depth",
		metric.WithDescription("Pending tasks in the write-back queue."),
	); err != nil {
		return nil, err
	}
	if met.PatternsTracked, err = m.Int64UpDownCounter("echoline.patterns.tracked",
		metric.WithDescription("Word patterns currently in the active set."),
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

// RecordStoreRequest records one pattern store call with its status and
// latency.
func (m *Metrics) RecordStoreRequest(ctx context.Context, op, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.StoreRequests.Add(ctx, 1, attrs)
	m.StoreDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
}

// RecordStoreError records one terminal pattern store failure.
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordCorrection records one applied per-word correction.
func (m *Metrics) RecordCorrection(ctx context.Context, path string, magnitudeMs float64) {
	if magnitudeMs < 0 {
		magnitudeMs = -magnitudeMs
	}
	m.CorrectionMagnitude.Record(ctx, magnitudeMs,
		metric.WithAttributes(attribute.String("path", path)))
}
