// Package mock provides a test double for the translate.Provider interface.
//
// Use Provider to return canned translations and to verify the source and
// target languages passed by the orchestrator:
//
//	p := &mock.Provider{
//	    TranslateFunc: func(text, src, dst string) (string, error) {
//	        return "[" + dst + "] " + text, nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/babelclass/babelclass/pkg/provider/translate"
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// TranslateFunc computes the response for each call. When nil, the
	// source text is echoed back.
	TranslateFunc func(text, sourceLang, targetLang string) (string, error)

	// Err, if non-nil, is returned from every call (TranslateFunc is not
	// consulted).
	Err error

	calls []TranslateCall
}

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

// Translate implements translate.Provider.
func (p *Provider) Translate(_ context.Context, text, sourceLang, targetLang string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, TranslateCall{Text: text, SourceLang: sourceLang, TargetLang: targetLang})
	p.mu.Unlock()

	if p.Err != nil {
		return "", p.Err
	}
	if p.TranslateFunc != nil {
		return p.TranslateFunc(text, sourceLang, targetLang)
	}
	return text, nil
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []TranslateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranslateCall, len(p.calls))
	copy(out, p.calls)
	return out
}
