// Package translate defines the Provider interface for machine-translation
// backends.
//
// A translation provider wraps an external MT service (e.g., Gemini) and
// presents a single-call interface: one source text in, one target-language
// rendering out. The relay fans a teacher utterance out to every student
// language through this interface, so implementations must be safe for
// concurrent use.
package translate

import "context"

// Provider is the abstraction over any machine-translation backend.
//
// Implementations must be safe for concurrent use. One transcription may
// trigger parallel Translate calls for several target languages at once.
type Provider interface {
	// Translate renders text from sourceLang into targetLang. Both language
	// arguments are BCP-47-ish codes ("en-US", "es"). Implementations may
	// return the source text unchanged when the two languages are
	// equivalent.
	//
	// An empty result with a nil error means the provider could not produce
	// a usable rendering; callers should fall back to the source text.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Passthrough is a Provider that returns the source text unchanged. It is the
// fallback of last resort: students receive the untranslated utterance rather
// than nothing when every real backend is down.
type Passthrough struct{}

// Compile-time interface assertion.
var _ Provider = Passthrough{}

// Translate returns text unchanged.
func (Passthrough) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
