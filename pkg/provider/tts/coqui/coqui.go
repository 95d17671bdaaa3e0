// Package coqui provides a TTS provider backed by a locally-running Coqui
// server, targeting either the XTTS v2 API server or the standard Coqui TTS
// server. It implements the tts.Provider interface.
//
//   - APIModeXTTS (default): synthesis via POST /tts_to_audio/ with a JSON
//     body.
//   - APIModeStandard: synthesis via GET /api/tts with URL query parameters
//     (the ghcr.io/coqui-ai/tts-cpu image).
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/babelclass/babelclass/pkg/provider/tts"
)

const (
	defaultTimeout   = 30 * time.Second
	xttsEndpoint     = "/tts_to_audio/"
	standardEndpoint = "/api/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithAPIMode sets the server API mode. The default is APIModeXTTS.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:8002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		apiMode:    APIModeXTTS,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// xttsRequest is the JSON body for the XTTS /tts_to_audio/ endpoint.
type xttsRequest struct {
	Text        string `json:"text"`
	Language    string `json:"language"`
	SpeakerWav  string `json:"speaker_wav,omitempty"`
	SpeakerName string `json:"speaker_name,omitempty"`
}

// Synthesize performs one HTTP synthesis call and returns the audio bytes
// (WAV for both server flavours).
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	if req.Text == "" {
		return tts.Result{Audio: []byte{}}, nil
	}

	var httpReq *http.Request
	var err error
	switch p.apiMode {
	case APIModeStandard:
		q := url.Values{}
		q.Set("text", req.Text)
		if req.Voice != "" {
			q.Set("speaker_id", req.Voice)
		}
		if req.LanguageCode != "" {
			q.Set("language_id", primarySubtag(req.LanguageCode))
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet,
			p.serverURL+standardEndpoint+"?"+q.Encode(), nil)
	default:
		var body []byte
		body, err = json.Marshal(xttsRequest{
			Text:        req.Text,
			Language:    primarySubtag(req.LanguageCode),
			SpeakerName: req.Voice,
		})
		if err != nil {
			return tts.Result{}, fmt.Errorf("coqui: marshal request: %w", err)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost,
			p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return tts.Result{}, fmt.Errorf("coqui: build request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tts.Result{}, fmt.Errorf("coqui: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Result{}, fmt.Errorf("coqui: synthesis failed: status %d: %s", resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Result{}, fmt.Errorf("coqui: read audio: %w", err)
	}
	return tts.Result{Audio: audio}, nil
}

// primarySubtag reduces a BCP-47-ish code to its primary subtag: Coqui models
// are keyed by bare language ("es"), not regional variants ("es-MX").
func primarySubtag(code string) string {
	return strings.SplitN(strings.ToLower(code), "-", 2)[0]
}
