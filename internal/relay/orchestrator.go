// Package relay implements the translation fan-out pipeline: one teacher
// transcription in, one translated (and optionally voiced) frame out to every
// student in the session, with per-stage latency accounting.
//
// The orchestrator is deliberately decoupled from the WebSocket gateway: it
// receives a snapshot of student targets and a send capability per student,
// and it reaches the providers and the store through narrow constructor
// dependencies.
package relay

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/babelclass/babelclass/internal/observe"
	"github.com/babelclass/babelclass/internal/store"
	"github.com/babelclass/babelclass/pkg/provider/tts"
)

// sendAttempts is the per-student delivery retry budget.
const sendAttempts = 3

// ttsServiceBrowser routes synthesis to the student's browser instead of a
// server backend.
const ttsServiceBrowser = "browser"

// Provider is the slice of the provider facade the orchestrator uses.
type Provider interface {
	// Translate renders text into the target language, degrading to the
	// source text on backend failure.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// Synthesize renders text as speech, degrading to empty audio.
	Synthesize(ctx context.Context, req tts.Request) (tts.Result, error)
}

// Recorder is the slice of the durable store the orchestrator writes to.
type Recorder interface {
	AddTranslation(ctx context.Context, t store.Translation) error
	AddTranslationsCount(ctx context.Context, sessionID string, n int) error
}

// Sender delivers one outbound frame to a client.
type Sender interface {
	Send(ctx context.Context, v any) error
}

// Student is a snapshot of one delivery target, captured by the gateway at
// transcription time.
type Student struct {
	ID              string
	Name            string
	Language        string
	UseClientSpeech bool
	TTSServiceType  string
	Voice           string
	Conn            Sender
}

// Job is one transcription to fan out.
type Job struct {
	SessionID      string
	Text           string
	SourceLanguage string

	// StartTime is when the gateway received the transcription frame; the
	// preparation latency component is measured from it.
	StartTime time.Time

	Students []Student
}

// LatencyComponents is the per-stage latency breakdown, in milliseconds.
// Stages that did not run stay zero.
type LatencyComponents struct {
	Preparation int64 `json:"preparation"`
	Translation int64 `json:"translation"`
	TTS         int64 `json:"tts"`
	Processing  int64 `json:"processing"`
}

// Latency is the end-to-end latency record attached to a translation frame.
type Latency struct {
	Total              int64             `json:"total"`
	ServerCompleteTime string            `json:"serverCompleteTime"`
	Components         LatencyComponents `json:"components"`
}

// TranslationFrame is the outbound per-student translation message.
type TranslationFrame struct {
	Type            string            `json:"type"` // always "translation"
	Text            string            `json:"text"`
	OriginalText    string            `json:"originalText"`
	SourceLanguage  string            `json:"sourceLanguage"`
	TargetLanguage  string            `json:"targetLanguage"`
	TTSServiceType  string            `json:"ttsServiceType,omitempty"`
	UseClientSpeech bool              `json:"useClientSpeech"`
	SpeechParams    *tts.SpeechParams `json:"speechParams,omitempty"`
	AudioData       string            `json:"audioData"`
	Latency         Latency           `json:"latency"`
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithDetailedLogging enables persistence of one translation row per
// delivered student frame.
func WithDetailedLogging(on bool) Option {
	return func(o *Orchestrator) { o.detailedLogging = on }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator fans one transcription out to every student in a session.
// Safe for concurrent use; one Relay call per teacher utterance.
type Orchestrator struct {
	provider Provider
	recorder Recorder

	detailedLogging bool
	logger          *slog.Logger
	metrics         *observe.Metrics
	now             func() time.Time
}

// New creates an Orchestrator.
func New(p Provider, r Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: p,
		recorder: r,
		logger:   slog.Default(),
		metrics:  observe.DefaultMetrics(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Relay runs the full fan-out pipeline for one transcription and blocks
// until every per-student delivery has resolved. Session cleanup relies on
// that blocking: a session is never ended under an in-flight delivery.
func (o *Orchestrator) Relay(ctx context.Context, job Job) {
	if job.Text == "" || len(job.Students) == 0 {
		return
	}

	ctx, span := observe.StartSpan(ctx, "relay.fanout",
		trace.WithAttributes(
			attribute.String("session_id", job.SessionID),
			attribute.Int("students", len(job.Students)),
		))
	defer span.End()

	preparation := o.now().Sub(job.StartTime).Milliseconds()

	translations := o.translateAll(ctx, job)
	translationMS := o.now().Sub(job.StartTime).Milliseconds() - preparation

	// The first student to finish synthesis claims the tts component.
	var (
		ttsOnce sync.Once
		ttsMS   int64
	)

	var g errgroup.Group
	delivered := 0
	var deliveredMu sync.Mutex
	for _, s := range job.Students {
		if strings.TrimSpace(s.Language) == "" {
			continue
		}
		g.Go(func() error {
			text, ok := translations[s.Language]
			if !ok || text == "" {
				text = job.Text
			}

			useClientSpeech := s.UseClientSpeech || s.TTSServiceType == ttsServiceBrowser

			frame := TranslationFrame{
				Type:            "translation",
				Text:            text,
				OriginalText:    job.Text,
				SourceLanguage:  job.SourceLanguage,
				TargetLanguage:  s.Language,
				TTSServiceType:  s.TTSServiceType,
				UseClientSpeech: useClientSpeech,
				AudioData:       "",
			}

			if useClientSpeech {
				frame.SpeechParams = &tts.SpeechParams{
					Type:         "browser-speech",
					Text:         text,
					LanguageCode: s.Language,
					AutoPlay:     true,
				}
			} else {
				synthStart := o.now()
				res, err := o.provider.Synthesize(ctx, tts.Request{
					Text:         text,
					LanguageCode: s.Language,
					Voice:        s.Voice,
				})
				if err != nil {
					o.logger.Warn("synthesis skipped", "session_id", job.SessionID,
						"target_language", s.Language, "error", err)
				} else {
					ttsOnce.Do(func() { ttsMS = o.now().Sub(synthStart).Milliseconds() })
					if res.SpeechParams != nil {
						frame.UseClientSpeech = true
						frame.SpeechParams = res.SpeechParams
					} else {
						frame.AudioData = base64.StdEncoding.EncodeToString(res.Audio)
					}
				}
			}

			complete := o.now()
			frame.Latency = Latency{
				Total:              complete.Sub(job.StartTime).Milliseconds(),
				ServerCompleteTime: complete.UTC().Format(time.RFC3339Nano),
				Components: LatencyComponents{
					Preparation: preparation,
					Translation: translationMS,
					TTS:         ttsMS,
					Processing:  complete.Sub(job.StartTime).Milliseconds() - preparation - translationMS,
				},
			}

			if !o.deliver(ctx, job, s, frame) {
				return nil
			}
			deliveredMu.Lock()
			delivered++
			deliveredMu.Unlock()
			o.persist(job, s.Language, text, translationMS)
			return nil
		})
	}
	_ = g.Wait()

	if delivered > 0 {
		if err := o.recorder.AddTranslationsCount(context.WithoutCancel(ctx), job.SessionID, delivered); err != nil {
			o.logger.Error("failed to update session translation count",
				"session_id", job.SessionID, "error", err)
		}
	}
}

// translateAll runs machine translation for every distinct target language
// in parallel and returns the language → text map. A failed or identical
// language maps to the source text.
func (o *Orchestrator) translateAll(ctx context.Context, job Job) map[string]string {
	distinct := make(map[string]struct{})
	for _, s := range job.Students {
		if lang := strings.TrimSpace(s.Language); lang != "" {
			distinct[lang] = struct{}{}
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(distinct))
		g       errgroup.Group
	)
	for lang := range distinct {
		g.Go(func() error {
			text, err := o.provider.Translate(ctx, job.Text, job.SourceLanguage, lang)
			if err != nil || text == "" {
				text = job.Text
			}
			mu.Lock()
			results[lang] = text
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// deliver sends the frame with up to three attempts. Returns whether the
// frame reached the student.
func (o *Orchestrator) deliver(ctx context.Context, job Job, s Student, frame TranslationFrame) bool {
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err := s.Conn.Send(ctx, frame); err == nil {
			o.metrics.RecordDelivery(ctx, s.Language, "ok")
			o.metrics.DeliveryDuration.Record(ctx, float64(frame.Latency.Total)/1000)
			return true
		} else {
			lastErr = err
		}
	}
	o.metrics.RecordDelivery(ctx, s.Language, "failed")
	o.logger.Error("CRITICAL: translation delivery failed after retries",
		"session_id", job.SessionID,
		"student_id", s.ID,
		"target_language", s.Language,
		"attempts", sendAttempts,
		"error", lastErr)
	return false
}

// persist writes the detailed translation row off the send path.
func (o *Orchestrator) persist(job Job, targetLanguage, translated string, latencyMS int64) {
	if !o.detailedLogging {
		return
	}
	if strings.TrimSpace(job.SourceLanguage) == "" || strings.TrimSpace(targetLanguage) == "" {
		return
	}
	row := store.Translation{
		SessionID:      job.SessionID,
		SourceLanguage: job.SourceLanguage,
		TargetLanguage: targetLanguage,
		OriginalText:   job.Text,
		TranslatedText: translated,
		LatencyMs:      latencyMS,
		Timestamp:      o.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.recorder.AddTranslation(ctx, row); err != nil {
		o.logger.Error("failed to persist translation row",
			"session_id", job.SessionID, "target_language", targetLanguage, "error", err)
	}
}
