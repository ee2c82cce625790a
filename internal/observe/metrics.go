// Package observe provides OpenTelemetry metrics for the capture pipeline
// and HTTP middleware that records request latency.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider];
// production code registers a Prometheus-backed provider via [InitProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "voicescope"

// Metrics holds the metric instruments for the pipeline. All fields are safe
// for concurrent use.
type Metrics struct {
	meter metric.Meter

	// EngineRoundTrip tracks the time from sending an AudioFrame to
	// receiving its FeatureFrame.
	EngineRoundTrip metric.Float64Histogram

	// FramesProcessed counts feature frames published to the result slot.
	FramesProcessed metric.Int64Counter

	// StreamFaults counts capture overruns and underruns that lost a frame.
	StreamFaults metric.Int64Counter

	// SessionErrors counts session-fatal errors. Use with attribute:
	//   attribute.String("reason", ...)
	SessionErrors metric.Int64Counter

	// ActiveSessions is 1 while a capture session runs.
	ActiveSessions metric.Int64UpDownCounter

	// DisplaysRendered counts presentation updates handed to renderers.
	DisplaysRendered metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds and centred on the 100ms frame period.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2,
}

// NewMetrics creates all instruments using the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.EngineRoundTrip, err = m.Float64Histogram("voicescope.engine.roundtrip.duration",
		metric.WithDescription("Latency of one processing engine request/response round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("voicescope.frames.processed",
		metric.WithDescription("Feature frames published to the presentation loop."),
	); err != nil {
		return nil, err
	}
	if met.StreamFaults, err = m.Int64Counter("voicescope.stream.faults",
		metric.WithDescription("Capture overruns and underruns that lost a frame."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voicescope.session.errors",
		metric.WithDescription("Session-fatal errors by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicescope.sessions.active",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.DisplaysRendered, err = m.Int64Counter("voicescope.displays.rendered",
		metric.WithDescription("Display updates handed to renderers."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicescope.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance created from the global
// meter provider on first use.
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

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// ResultStats reports lifetime result slot counters.
type ResultStats func() (published, drained, overwritten, stale uint64)

// RegisterResultStats exports the result slot counters as observable
// counters read at collection time.
func (m *Metrics) RegisterResultStats(fn ResultStats) error {
	published, err := m.meter.Int64ObservableCounter("voicescope.results.published",
		metric.WithDescription("Feature frames accepted by the result slot."))
	if err != nil {
		return err
	}
	drained, err := m.meter.Int64ObservableCounter("voicescope.results.drained",
		metric.WithDescription("Feature frames taken by the presentation loop."))
	if err != nil {
		return err
	}
	overwritten, err := m.meter.Int64ObservableCounter("voicescope.results.overwritten",
		metric.WithDescription("Feature frames replaced before they were drained."))
	if err != nil {
		return err
	}
	stale, err := m.meter.Int64ObservableCounter("voicescope.results.stale",
		metric.WithDescription("Feature frames rejected because their session had ended."))
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		p, d, ow, st := fn()
		o.ObserveInt64(published, int64(p))
		o.ObserveInt64(drained, int64(d))
		o.ObserveInt64(overwritten, int64(ow))
		o.ObserveInt64(stale, int64(st))
		return nil
	}, published, drained, overwritten, stale)
	return err
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionError increments the session error counter for reason.
func (m *Metrics) RecordSessionError(ctx context.Context, reason string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStreamFault increments the stream fault counter.
func (m *Metrics) RecordStreamFault(ctx context.Context) {
	m.StreamFaults.Add(ctx, 1)
}
