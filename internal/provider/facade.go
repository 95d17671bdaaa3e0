// Package provider is the facade in front of the external translation and
// speech services. It owns every resilience concern so the orchestrator and
// handlers never see a raw provider error: per-call timeouts, bounded retries
// with exponential backoff, circuit-breaker-guarded fallback chains, and an
// in-memory audio cache keyed by utterance fingerprint.
//
// Degradation is deliberate and total: when every translation backend fails
// the facade returns the source text unchanged, and when every speech backend
// fails it returns empty audio. A provider outage lowers delivery quality; it
// never halts the relay.
package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/babelclass/babelclass/internal/observe"
	"github.com/babelclass/babelclass/internal/resilience"
	"github.com/babelclass/babelclass/pkg/provider/translate"
	"github.com/babelclass/babelclass/pkg/provider/tts"
)

const defaultCallTimeout = 30 * time.Second

// Option is a functional option for configuring a Facade.
type Option func(*Facade)

// WithTranslateTimeout bounds a single translation call. Defaults to 30s.
func WithTranslateTimeout(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.translateTimeout = d
		}
	}
}

// WithTTSTimeout bounds a single synthesis call. Defaults to 30s.
func WithTTSTimeout(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.ttsTimeout = d
		}
	}
}

// WithAudioCache sets the audio cache capacity in entries. Zero disables
// caching.
func WithAudioCache(size int) Option {
	return func(f *Facade) {
		f.cache = newAudioCache(size)
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Facade) {
		f.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) {
		f.logger = l
	}
}

// Facade wraps the configured translation and speech providers behind
// retrying, fallback-chained, cache-fronted calls. Safe for concurrent use.
type Facade struct {
	translators  *resilience.FallbackGroup[translate.Provider]
	synthesizers *resilience.FallbackGroup[tts.Provider]

	translateTimeout time.Duration
	ttsTimeout       time.Duration

	cache   *audioCache
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New creates a Facade around the primary translation and speech providers.
// A source-text passthrough translator and a silent synthesiser are always
// registered as the final fallbacks, so neither Translate nor Synthesize can
// fail outright once the call itself is admitted.
func New(translator translate.Provider, translatorName string, synth tts.Provider, synthName string, opts ...Option) (*Facade, error) {
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
	}

	translators := resilience.NewFallbackGroup[translate.Provider](translator, translatorName, fbCfg)
	translators.AddFallback("passthrough", translate.Passthrough{})

	synthesizers := resilience.NewFallbackGroup[tts.Provider](synth, synthName, fbCfg)
	synthesizers.AddFallback("silent", tts.Silent{})

	f := &Facade{
		translators:      translators,
		synthesizers:     synthesizers,
		translateTimeout: defaultCallTimeout,
		ttsTimeout:       defaultCallTimeout,
		metrics:          observe.DefaultMetrics(),
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Translate renders text from sourceLang into targetLang. On total backend
// failure it returns the source text unchanged rather than an error; the only
// error paths are context cancellation and deadline expiry of the caller's
// own ctx.
func (f *Facade) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if text == "" || sourceLang == targetLang {
		return text, nil
	}

	start := time.Now()
	out, err := resilience.ExecuteWithResult(f.translators, func(p translate.Provider) (string, error) {
		var result string
		retryErr := resilience.Retry(ctx, resilience.RetryConfig{Attempts: 3}, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, f.translateTimeout)
			defer cancel()
			var callErr error
			result, callErr = p.Translate(callCtx, text, sourceLang, targetLang)
			return callErr
		})
		return result, retryErr
	})

	elapsed := time.Since(start).Seconds()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		f.metrics.RecordProviderError(ctx, "translate", "translate")
		f.logger.Error("translation failed on all backends, passing source text through",
			"source_language", sourceLang,
			"target_language", targetLang,
			"error", err)
		return text, nil
	}
	f.metrics.TranslationDuration.Record(ctx, elapsed)
	f.metrics.RecordProviderRequest(ctx, "translate", "translate", "ok")
	return out, nil
}

// Synthesize renders the request text as speech, consulting the audio cache
// first. On total backend failure it returns empty audio rather than an
// error, so the translated text still reaches the student.
func (f *Facade) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	if req.Text == "" {
		return tts.Result{Audio: []byte{}}, nil
	}

	key := fingerprint(req)
	if f.cache != nil {
		if res, ok := f.cache.get(key); ok {
			f.metrics.AudioCacheHits.Add(ctx, 1, cacheAttr("hit"))
			return res, nil
		}
		f.metrics.AudioCacheHits.Add(ctx, 1, cacheAttr("miss"))
	}

	start := time.Now()
	res, err := resilience.ExecuteWithResult(f.synthesizers, func(p tts.Provider) (tts.Result, error) {
		var result tts.Result
		retryErr := resilience.Retry(ctx, resilience.RetryConfig{Attempts: 3}, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, f.ttsTimeout)
			defer cancel()
			var callErr error
			result, callErr = p.Synthesize(callCtx, req)
			return callErr
		})
		return result, retryErr
	})

	elapsed := time.Since(start).Seconds()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return tts.Result{}, ctxErr
		}
		f.metrics.RecordProviderError(ctx, "tts", "synthesize")
		f.logger.Error("synthesis failed on all backends, delivering without audio",
			"language_code", req.LanguageCode,
			"error", err)
		return tts.Result{Audio: []byte{}}, nil
	}
	f.metrics.TTSDuration.Record(ctx, elapsed)
	f.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")

	// Only real audio is worth caching; browser-speech markers and silent
	// fallbacks are free to recompute.
	if f.cache != nil && len(res.Audio) > 0 {
		f.cache.put(key, res)
	}
	return res, nil
}
