// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, a local
// Coqui server, or the student's own browser) and presents a single-call
// interface: one utterance in, one synthesised clip out. Classroom delivery
// is per-student, so implementations must be safe for concurrent use.
package tts

import "context"

// SpeechParams is the marker payload for client-side synthesis. When a
// provider returns it instead of audio bytes, the student's browser speaks
// the text locally via the Web Speech API.
type SpeechParams struct {
	Type         string `json:"type"` // always "browser-speech"
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
	AutoPlay     bool   `json:"autoPlay"`
}

// Result is the outcome of one synthesis call. Exactly one of Audio and
// SpeechParams is populated: Audio for server-side synthesis, SpeechParams
// for the browser-speech path.
type Result struct {
	// Audio holds the raw synthesised audio bytes (MP3 or WAV depending on
	// the backend). Empty when SpeechParams is set.
	Audio []byte

	// SpeechParams, when non-nil, instructs the client to synthesise
	// locally.
	SpeechParams *SpeechParams
}

// Request describes one utterance to synthesise.
type Request struct {
	// Text is the utterance, already in the student's target language.
	Text string

	// LanguageCode is the BCP-47-ish target language ("es", "fr-FR").
	LanguageCode string

	// Voice optionally selects a backend-specific voice. Empty uses the
	// backend default.
	Voice string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; one transcription may
// trigger parallel Synthesize calls for several students at once.
type Provider interface {
	// Synthesize renders req.Text as speech. Implementations must honour
	// ctx cancellation and deadlines.
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// Silent is a Provider that returns empty audio. It is the fallback of last
// resort: students still receive the translated text when every real speech
// backend is down.
type Silent struct{}

// Compile-time interface assertion.
var _ Provider = Silent{}

// Synthesize returns an empty audio result.
func (Silent) Synthesize(_ context.Context, _ Request) (Result, error) {
	return Result{Audio: []byte{}}, nil
}
