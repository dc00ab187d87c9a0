// Package observe provides application-wide observability primitives for
// voxgate: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxgate metrics.
const meterName = "github.com/MrWong99/voxgate"

// Segment drop reasons used with [Metrics.RecordSegmentDropped].
const (
	DropPaused       = "paused"
	DropBusy         = "busy"
	DropNoSession    = "no_session"
	DropDisconnected = "disconnected"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the OTel types synchronise internally.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// InferenceDuration tracks inference backend latency. Use with attribute:
	//   attribute.String("status", ...)
	InferenceDuration metric.Float64Histogram

	// DecodeDuration tracks audio container decoding latency.
	DecodeDuration metric.Float64Histogram

	// SegmentAudio tracks the audio length of flushed segments.
	SegmentAudio metric.Float64Histogram

	// --- Counters ---

	// FramesReceived counts inbound binary audio chunks.
	FramesReceived metric.Int64Counter

	// SegmentsFlushed counts utterance segments emitted by segmenters.
	SegmentsFlushed metric.Int64Counter

	// SegmentsDropped counts flushed segments that were not processed. Use
	// with attribute:
	//   attribute.String("reason", ...)
	SegmentsDropped metric.Int64Counter

	// InferenceRequests counts inference calls. Use with attributes:
	//   attribute.String("path", ...), attribute.String("status", ...)
	InferenceRequests metric.Int64Counter

	// SessionsExpired counts sessions removed by the idle sweep.
	SessionsExpired metric.Int64Counter

	// ArchiveWrites counts transcript archive writes. Use with attribute:
	//   attribute.String("status", ...)
	ArchiveWrites metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of live audio WebSockets.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.InferenceDuration, err = m.Float64Histogram("voxgate.inference.duration",
		metric.WithDescription("Latency of inference backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("voxgate.decode.duration",
		metric.WithDescription("Latency of audio container decoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentAudio, err = m.Float64Histogram("voxgate.segment.audio",
		metric.WithDescription("Audio length of flushed utterance segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("voxgate.frames.received",
		metric.WithDescription("Total inbound binary audio chunks."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsFlushed, err = m.Int64Counter("voxgate.segments.flushed",
		metric.WithDescription("Total utterance segments emitted by segmenters."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("voxgate.segments.dropped",
		metric.WithDescription("Total flushed segments dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.InferenceRequests, err = m.Int64Counter("voxgate.inference.requests",
		metric.WithDescription("Total inference calls by path and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionsExpired, err = m.Int64Counter("voxgate.sessions.expired",
		metric.WithDescription("Total sessions removed by the idle sweep."),
	); err != nil {
		return nil, err
	}
	if met.ArchiveWrites, err = m.Int64Counter("voxgate.archive.writes",
		metric.WithDescription("Total transcript archive writes by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("voxgate.active_connections",
		metric.WithDescription("Number of live audio WebSocket connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveSessions registers an asynchronous gauge reporting the number of
// live sessions returned by count at every collection.
func (m *Metrics) ObserveSessions(count func() int) error {
	_, err := m.meter.Int64ObservableGauge("voxgate.active_sessions",
		metric.WithDescription("Number of live client sessions."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(count()))
			return nil
		}),
	)
	return err
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

// RecordSegmentDropped records a dropped segment with its reason.
func (m *Metrics) RecordSegmentDropped(ctx context.Context, reason string) {
	m.SegmentsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordInference records one inference call: a request counter increment
// and a latency observation, both labelled with path ("stream" or "chat") and
// status ("ok" or "error").
func (m *Metrics) RecordInference(ctx context.Context, path, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("status", status),
	)
	m.InferenceRequests.Add(ctx, 1, attrs)
	m.InferenceDuration.Record(ctx, seconds, attrs)
}

// RecordArchiveWrite records a transcript archive write outcome.
func (m *Metrics) RecordArchiveWrite(ctx context.Context, status string) {
	m.ArchiveWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
