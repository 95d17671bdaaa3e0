// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return canned audio and to verify the text, language, and
// voice passed by the orchestrator:
//
//	p := &mock.Provider{
//	    Result: tts.Result{Audio: []byte("wav")},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/babelclass/babelclass/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text         string
	LanguageCode string
	Voice        string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFunc computes the response for each call. When nil, Result
	// and Err are returned as-is.
	SynthesizeFunc func(req tts.Request) (tts.Result, error)

	// Result is returned from every call when SynthesizeFunc is nil.
	Result tts.Result

	// Err, if non-nil, is returned from every call.
	Err error

	calls []SynthesizeCall
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) (tts.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Text: req.Text, LanguageCode: req.LanguageCode, Voice: req.Voice})
	p.mu.Unlock()

	if p.Err != nil {
		return tts.Result{}, p.Err
	}
	if p.SynthesizeFunc != nil {
		return p.SynthesizeFunc(req)
	}
	return p.Result, nil
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}
