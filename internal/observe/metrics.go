// Package observe provides observability primitives for the fernspielapparat
// runtime: OpenTelemetry metrics bridged to a Prometheus /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the remote-control listener. A package-level default
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

// meterName is the instrumentation scope name used for all runtime metrics.
const meterName = "github.com/fernspielapparat/fernspielapparat"

// Metrics holds all OpenTelemetry metric instruments for the runtime.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TickDuration tracks how long one evaluator tick takes.
	TickDuration metric.Float64Histogram

	// Transitions counts state transitions. Use with attribute:
	//   attribute.String("reason", "dial"|"end"|"timeout")
	Transitions metric.Int64Counter

	// Rings counts bell ring requests.
	Rings metric.Int64Counter

	// PlaybackStarts counts started sounds. Use with attribute:
	//   attribute.String("kind", "file"|"speech")
	PlaybackStarts metric.Int64Counter

	// PlaybackFailures counts sounds that failed and were treated as
	// completed.
	PlaybackFailures metric.Int64Counter

	// SynthesisDuration tracks speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// RemoteConnections tracks currently connected fernspielctl clients.
	RemoteConnections metric.Int64UpDownCounter
}

// tickBuckets defines histogram bucket boundaries (in seconds) around the
// recommended 10-20 ms tick period.
var tickBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 1,
}

// synthBuckets defines histogram bucket boundaries (in seconds) for speech
// synthesis subprocess runs.
var synthBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TickDuration, err = m.Float64Histogram("fernspielapparat.tick.duration",
		metric.WithDescription("Duration of one evaluator tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("fernspielapparat.transitions",
		metric.WithDescription("Total state transitions by reason."),
	); err != nil {
		return nil, err
	}
	if met.Rings, err = m.Int64Counter("fernspielapparat.bell.rings",
		metric.WithDescription("Total bell ring requests."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStarts, err = m.Int64Counter("fernspielapparat.playback.starts",
		metric.WithDescription("Total started sounds by kind."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("fernspielapparat.playback.failures",
		metric.WithDescription("Total sounds that failed and were treated as completed."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("fernspielapparat.speech.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis subprocess runs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(synthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RemoteConnections, err = m.Int64UpDownCounter("fernspielapparat.remote.connections",
		metric.WithDescription("Number of connected fernspielctl clients."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordTransition records one state transition with its reason.
func (m *Metrics) RecordTransition(ctx context.Context, reason string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTick records the duration of one evaluator tick in seconds.
func (m *Metrics) RecordTick(ctx context.Context, seconds float64) {
	m.TickDuration.Record(ctx, seconds)
}

// RecordRing records one bell ring request.
func (m *Metrics) RecordRing(ctx context.Context) {
	m.Rings.Add(ctx, 1)
}

// RecordConnection moves the connected-client gauge by delta (+1 on
// connect, -1 on disconnect).
func (m *Metrics) RecordConnection(ctx context.Context, delta int64) {
	m.RemoteConnections.Add(ctx, delta)
}

// RecordPlaybackStart records one started sound of the given kind.
func (m *Metrics) RecordPlaybackStart(ctx context.Context, kind string) {
	m.PlaybackStarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordPlaybackFailure records one sound that failed mid-playback.
func (m *Metrics) RecordPlaybackFailure(ctx context.Context) {
	m.PlaybackFailures.Add(ctx, 1)
}
