// Package observe provides application-wide observability primitives for
// babelclass: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all babelclass metrics.
const meterName = "github.com/babelclass/babelclass"

// Metrics holds all OpenTelemetry metric instruments for the relay.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranslationDuration tracks machine-translation latency per target language.
	TranslationDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// DeliveryDuration tracks end-to-end transcription→student latency.
	DeliveryDuration metric.Float64Histogram

	// --- Counters ---

	// FramesReceived counts inbound WebSocket frames. Use with attribute:
	//   attribute.String("type", ...)
	FramesReceived metric.Int64Counter

	// TranslationsDelivered counts translation frames sent to students. Use with:
	//   attribute.String("target_language", ...), attribute.String("status", ...)
	TranslationsDelivered metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// SessionsEnded counts ended sessions. Use with attribute:
	//   attribute.String("quality", ...)
	SessionsEnded metric.Int64Counter

	// AudioCacheHits counts TTS audio cache hits and misses. Use with:
	//   attribute.String("result", "hit"|"miss")
	AudioCacheHits metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live classroom sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks connected sockets by role. Use with attribute:
	//   attribute.String("role", ...)
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for translation-pipeline latencies.
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
	if met.TranslationDuration, err = m.Float64Histogram("babelclass.translation.duration",
		metric.WithDescription("Latency of machine translation per target language."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("babelclass.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DeliveryDuration, err = m.Float64Histogram("babelclass.delivery.duration",
		metric.WithDescription("End-to-end transcription to student delivery latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("babelclass.frames.received",
		metric.WithDescription("Total inbound WebSocket frames by type."),
	); err != nil {
		return nil, err
	}
	if met.TranslationsDelivered, err = m.Int64Counter("babelclass.translations.delivered",
		metric.WithDescription("Total translation frames sent to students by target language and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("babelclass.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("babelclass.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("babelclass.sessions.ended",
		metric.WithDescription("Total ended sessions by quality classification."),
	); err != nil {
		return nil, err
	}
	if met.AudioCacheHits, err = m.Int64Counter("babelclass.audio_cache.lookups",
		metric.WithDescription("TTS audio cache lookups by result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("babelclass.active_sessions",
		metric.WithDescription("Number of live classroom sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("babelclass.active_connections",
		metric.WithDescription("Number of connected sockets by role."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("babelclass.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordDelivery records one translation frame delivery attempt outcome.
func (m *Metrics) RecordDelivery(ctx context.Context, targetLanguage, status string) {
	m.TranslationsDelivered.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("target_language", targetLanguage),
			attribute.String("status", status),
		),
	)
}

// RecordSessionEnded records one ended session by quality classification.
func (m *Metrics) RecordSessionEnded(ctx context.Context, quality string) {
	m.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("quality", quality)),
	)
}

// RecordFrame records one inbound frame by message type.
func (m *Metrics) RecordFrame(ctx context.Context, msgType string) {
	m.FramesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}
