// Package observe provides application-wide observability primitives for
// valet: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all valet metrics.
const meterName = "github.com/MrWong99/valet"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// HandlerDuration tracks command handler latency.
	HandlerDuration metric.Float64Histogram

	// UtteranceDuration tracks the length of captured utterances.
	UtteranceDuration metric.Float64Histogram

	// PlaybackDuration tracks how long playback sessions hold the speaker.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// WakeEvents counts wake-word detections. Use with attribute:
	//   attribute.String("keyword", ...)
	WakeEvents metric.Int64Counter

	// Utterances counts capture sessions by outcome. Use with attribute:
	//   attribute.String("outcome", "complete"|"reset"|"aborted"|"timeout")
	Utterances metric.Int64Counter

	// BargeIns counts interrupts requested by the barge-in monitor.
	BargeIns metric.Int64Counter

	// PlaybackResults counts finished playback sessions. Use with attribute:
	//   attribute.String("status", "completed"|"interrupted"|"failed")
	PlaybackResults metric.Int64Counter

	// Notifications counts notifications by priority and what happened to
	// them. Use with attributes:
	//   attribute.String("priority", ...), attribute.String("outcome", ...)
	Notifications metric.Int64Counter

	// FrameErrors counts per-frame read or classification failures. Use with
	// attribute:
	//   attribute.String("loop", ...)
	FrameErrors metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of queued notifications.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// speechBuckets covers utterance and playback lengths (in seconds).
var speechBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("valet.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("valet.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandlerDuration, err = m.Float64Histogram("valet.handler.duration",
		metric.WithDescription("Latency of the command handler."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("valet.utterance.duration",
		metric.WithDescription("Length of captured utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("valet.playback.duration",
		metric.WithDescription("Time playback sessions held the speaker."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WakeEvents, err = m.Int64Counter("valet.wake.events",
		metric.WithDescription("Total wake-word detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("valet.utterances",
		metric.WithDescription("Total capture sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("valet.barge_ins",
		metric.WithDescription("Total interrupts requested by the barge-in monitor."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackResults, err = m.Int64Counter("valet.playback.results",
		metric.WithDescription("Total playback sessions by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("valet.notifications",
		metric.WithDescription("Total notifications by priority and outcome."),
	); err != nil {
		return nil, err
	}
	if met.FrameErrors, err = m.Int64Counter("valet.frame.errors",
		metric.WithDescription("Total per-frame failures by loop."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("valet.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("valet.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("valet.notification.queue_depth",
		metric.WithDescription("Number of queued notifications."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("valet.http.request.duration",
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

// RecordWake records one wake-word detection.
func (m *Metrics) RecordWake(ctx context.Context, keyword string) {
	m.WakeEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordUtterance records a capture outcome. d is the captured length and is
// only observed for completed utterances.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, d time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "complete" {
		m.UtteranceDuration.Record(ctx, d.Seconds())
	}
}

// RecordBargeIn records one barge-in interrupt.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}

// RecordPlayback records a finished playback session.
func (m *Metrics) RecordPlayback(ctx context.Context, status string, d time.Duration) {
	m.PlaybackResults.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.PlaybackDuration.Record(ctx, d.Seconds())
}

// RecordNotification records what happened to a notification.
func (m *Metrics) RecordNotification(ctx context.Context, priority, outcome string) {
	m.Notifications.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("priority", priority),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordFrameError records a per-frame failure in the named loop.
func (m *Metrics) RecordFrameError(ctx context.Context, loop string) {
	m.FrameErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("loop", loop)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
