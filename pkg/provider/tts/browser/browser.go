// Package browser provides a TTS provider that never synthesises anything on
// the server. It returns a browser-speech marker payload so the student's
// client performs synthesis locally via the Web Speech API. This keeps the
// relay's latency and egress near zero for students who opt in.
package browser

import (
	"context"

	"github.com/babelclass/babelclass/pkg/provider/tts"
)

// markerType is the payload type recognised by the web client.
const markerType = "browser-speech"

// Compile-time interface assertion.
var _ tts.Provider = Provider{}

// Provider implements tts.Provider by delegating synthesis to the client.
type Provider struct{}

// New creates a browser-speech Provider.
func New() Provider { return Provider{} }

// Synthesize returns a marker payload instructing the client to speak the
// text itself. No audio bytes are produced.
func (Provider) Synthesize(_ context.Context, req tts.Request) (tts.Result, error) {
	return tts.Result{
		Audio: []byte{},
		SpeechParams: &tts.SpeechParams{
			Type:         markerType,
			Text:         req.Text,
			LanguageCode: req.LanguageCode,
			AutoPlay:     true,
		},
	}, nil
}
