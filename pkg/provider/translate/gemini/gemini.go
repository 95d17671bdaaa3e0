// Package gemini provides a Gemini-backed machine-translation provider using
// the google.golang.org/genai SDK. It implements the translate.Provider
// interface.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/babelclass/babelclass/pkg/provider/translate"
)

const defaultModel = "gemini-2.0-flash"

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Gemini Provider.
type Option func(*Provider)

// WithModel sets the Gemini model ID (e.g., "gemini-2.0-flash").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// Provider implements translate.Provider backed by the Gemini API.
// It is safe for concurrent use.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a new Gemini Provider. apiKey must be non-empty.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	p := &Provider{
		client: client,
		model:  defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Translate renders text from sourceLang into targetLang using a constrained
// prompt. The model is instructed to output only the translation so the
// response can be forwarded to students verbatim.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if sameLanguage(sourceLang, targetLang) {
		return text, nil
	}

	prompt := fmt.Sprintf(
		"Translate the following %s text to %s. "+
			"Output ONLY the translation, nothing else. "+
			"Keep it natural and concise (this is live classroom speech). "+
			"Keep person names and proper nouns as spoken.\n\n%s",
		sourceLang, targetLang, text,
	)

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini translate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// sameLanguage reports whether two BCP-47-ish codes share a primary subtag
// ("en-US" and "en-GB" are the same language for translation purposes).
func sameLanguage(a, b string) bool {
	pa := strings.SplitN(strings.ToLower(a), "-", 2)[0]
	pb := strings.SplitN(strings.ToLower(b), "-", 2)[0]
	return pa != "" && pa == pb
}
