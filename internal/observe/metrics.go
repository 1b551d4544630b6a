// Package observe provides application-wide observability primitives for
// voicelink: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the diagnostics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so the diagnostics listener
// can serve /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicelink metrics.
const meterName = "github.com/MrWong99/voicelink"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Outbound ---

	// Frames counts microphone frames by outcome. Use with attribute:
	//   attribute.String("status", "sent"|"dropped"|"error")
	Frames metric.Int64Counter

	// --- Inbound ---

	// InboundEvents counts demultiplexed socket messages. Use with attribute:
	//   attribute.String("kind", ...)
	InboundEvents metric.Int64Counter

	// Turns counts completed utterances.
	Turns metric.Int64Counter

	// --- TTS assembly and playback ---

	// TTSFragments counts appended fragments. Use with attribute:
	//   attribute.Bool("header_stripped", ...)
	TTSFragments metric.Int64Counter

	// TTSAssembledBytes records the size of each finalised buffer.
	TTSAssembledBytes metric.Int64Histogram

	// Playbacks counts playback outcomes. Use with attributes:
	//   attribute.String("path", "stream"|"single"), attribute.String("status", ...)
	Playbacks metric.Int64Counter

	// PlaybackRetries counts retry attempts on the single-shot path.
	PlaybackRetries metric.Int64Counter

	// PlaybackStartLatency tracks the time from request to successful start.
	PlaybackStartLatency metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks diagnostics request processing time.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// playback start latency.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("voicelink.frames",
		metric.WithDescription("Microphone frames by transmission outcome."),
	); err != nil {
		return nil, err
	}
	if met.InboundEvents, err = m.Int64Counter("voicelink.inbound.events",
		metric.WithDescription("Inbound socket messages by event kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voicelink.turns",
		metric.WithDescription("Completed utterances."),
	); err != nil {
		return nil, err
	}
	if met.TTSFragments, err = m.Int64Counter("voicelink.tts.fragments",
		metric.WithDescription("TTS fragments appended to the assembler."),
	); err != nil {
		return nil, err
	}
	if met.TTSAssembledBytes, err = m.Int64Histogram("voicelink.tts.assembled_bytes",
		metric.WithDescription("Size of each finalised TTS buffer."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Playbacks, err = m.Int64Counter("voicelink.playbacks",
		metric.WithDescription("Playback outcomes by path and status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackRetries, err = m.Int64Counter("voicelink.playback.retries",
		metric.WithDescription("Retry attempts on the single-shot playback path."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStartLatency, err = m.Float64Histogram("voicelink.playback.start_latency",
		metric.WithDescription("Time from playback request to successful start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicelink.active_sessions",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicelink.http.request.duration",
		metric.WithDescription("Diagnostics HTTP request latency by method and path."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordFrame counts one outbound frame with the given status.
func (m *Metrics) RecordFrame(ctx context.Context, status string) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordInbound counts one inbound event of the given kind.
func (m *Metrics) RecordInbound(ctx context.Context, kind string) {
	m.InboundEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFragment counts one appended TTS fragment.
func (m *Metrics) RecordFragment(ctx context.Context, headerStripped bool) {
	m.TTSFragments.Add(ctx, 1, metric.WithAttributes(attribute.Bool("header_stripped", headerStripped)))
}

// RecordPlayback counts one playback outcome.
func (m *Metrics) RecordPlayback(ctx context.Context, path, status string) {
	m.Playbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("path", path),
			attribute.String("status", status),
		),
	)
}
