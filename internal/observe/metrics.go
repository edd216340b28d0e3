// Package observe provides the observability primitives for the voice
// server: OpenTelemetry metric instruments bridged to a Prometheus /metrics
// endpoint, plus the admin HTTP mux serving scrapes and health checks.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/telvox/telvox"

// Metrics holds all OpenTelemetry metric instruments for the voice server.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Call lifecycle counters ---

	// CallsStarted counts accepted calls. Use with attribute
	// attribute.String("mode", ...).
	CallsStarted metric.Int64Counter

	// CallsEnded counts terminated calls by attribute "status".
	CallsEnded metric.Int64Counter

	// Turns counts completed dialog turns.
	Turns metric.Int64Counter

	// BargeIns counts caller interruptions of bot speech.
	BargeIns metric.Int64Counter

	// ProviderErrors counts provider failures. Use with attributes
	// attribute.String("provider", ...), attribute.String("kind", ...).
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- Latency histograms per pipeline stage ---

	// ASRLatency tracks speech recognition latency.
	ASRLatency metric.Float64Histogram

	// LLMLatency tracks chat completion latency (first sentence for
	// streamed replies).
	LLMLatency metric.Float64Histogram

	// TTSLatency tracks speech synthesis latency.
	TTSLatency metric.Float64Histogram

	// FirstAudioLatency tracks end-of-caller-speech to first synthesized
	// audio, the metric callers actually feel.
	FirstAudioLatency metric.Float64Histogram
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

	// Counters.
	if met.CallsStarted, err = m.Int64Counter("telvox.calls.started",
		metric.WithDescription("Total accepted calls by mode."),
	); err != nil {
		return nil, err
	}
	if met.CallsEnded, err = m.Int64Counter("telvox.calls.ended",
		metric.WithDescription("Total terminated calls by status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("telvox.turns",
		metric.WithDescription("Total completed dialog turns."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("telvox.barge_ins",
		metric.WithDescription("Total caller interruptions of bot speech."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("telvox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("telvox.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ASRLatency, err = m.Float64Histogram("telvox.asr.duration",
		metric.WithDescription("Latency of speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMLatency, err = m.Float64Histogram("telvox.llm.duration",
		metric.WithDescription("Latency of chat completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSLatency, err = m.Float64Histogram("telvox.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstAudioLatency, err = m.Float64Histogram("telvox.first_audio.duration",
		metric.WithDescription("End of caller speech to first synthesized audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// RecordProviderError records a provider error counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
