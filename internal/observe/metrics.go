// Package observe provides application-wide observability primitives for the
// voice engine: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all engine metrics.
const meterName = "github.com/Hakan2211/memdia-sub000"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks time from utterance end to the finalized
	// transcript.
	TranscriptionDuration metric.Float64Histogram

	// GenerationDuration tracks full LLM stream duration per response.
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration tracks per-sentence text-to-speech latency.
	SynthesisDuration metric.Float64Histogram

	// FirstAudioLatency tracks time from turn finalization to the first
	// audio chunk of the response.
	FirstAudioLatency metric.Float64Histogram

	// --- Counters ---

	// Turns counts finalized conversation turns. Use with attribute:
	//   attribute.String("speaker", "user"|"ai")
	Turns metric.Int64Counter

	// BargeIns counts user interruptions of AI playback.
	BargeIns metric.Int64Counter

	// StaleChunksDiscarded counts audio chunks dropped because their
	// generation token was no longer current.
	StaleChunksDiscarded metric.Int64Counter

	// StuckResets counts forced resets of a wedged user-speaking state.
	StuckResets metric.Int64Counter

	// Reconnects counts transcription stream reconnect attempts.
	Reconnects metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("voiced.transcription.duration",
		metric.WithDescription("Latency from utterance end to finalized transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("voiced.generation.duration",
		metric.WithDescription("Full LLM stream duration per response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("voiced.synthesis.duration",
		metric.WithDescription("Per-sentence speech synthesis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstAudioLatency, err = m.Float64Histogram("voiced.first_audio.latency",
		metric.WithDescription("Time from turn finalization to the first response audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("voiced.turns",
		metric.WithDescription("Finalized conversation turns by speaker."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voiced.barge_ins",
		metric.WithDescription("User interruptions of AI playback."),
	); err != nil {
		return nil, err
	}
	if met.StaleChunksDiscarded, err = m.Int64Counter("voiced.stale_chunks.discarded",
		metric.WithDescription("Audio chunks dropped because their generation token was superseded."),
	); err != nil {
		return nil, err
	}
	if met.StuckResets, err = m.Int64Counter("voiced.stuck_resets",
		metric.WithDescription("Forced resets of a wedged user-speaking state."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("voiced.transcription.reconnects",
		metric.WithDescription("Transcription stream reconnect attempts."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voiced.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voiced.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiced.http.request.duration",
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

// RecordTurn records a finalized conversation turn for the given speaker.
func (m *Metrics) RecordTurn(ctx context.Context, speaker string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordBargeIn records a user interruption of AI playback.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}

// RecordStaleChunk records an audio chunk discarded for carrying a superseded
// generation token.
func (m *Metrics) RecordStaleChunk(ctx context.Context) {
	m.StaleChunksDiscarded.Add(ctx, 1)
}

// RecordStuckReset records a forced reset of a wedged user-speaking state.
func (m *Metrics) RecordStuckReset(ctx context.Context) {
	m.StuckResets.Add(ctx, 1)
}

// RecordReconnect records one transcription stream reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context) {
	m.Reconnects.Add(ctx, 1)
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
