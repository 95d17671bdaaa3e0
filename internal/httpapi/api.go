// Package httpapi is the thin REST surface next to the WebSocket endpoint:
// language management, translation and transcript queries, and manual record
// inserts used by the dashboard.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/babelclass/babelclass/internal/store"
)

// defaultLimit bounds list queries without an explicit ?limit=.
const defaultLimit = 100

// API serves the REST endpoints. Safe for concurrent use.
type API struct {
	store  Store
	logger *slog.Logger
}

// Store is the slice of the durable store the REST surface uses.
type Store interface {
	store.LanguageStore
	store.TranslationStore
	store.TranscriptStore
}

// New creates an API.
func New(st Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: st, logger: logger}
}

// Register adds the REST routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/languages", a.listLanguages)
	mux.HandleFunc("GET /api/languages/active", a.listActiveLanguages)
	mux.HandleFunc("PUT /api/languages/{code}/status", a.setLanguageStatus)
	mux.HandleFunc("POST /api/translations", a.addTranslation)
	mux.HandleFunc("GET /api/translations/{language}", a.listTranslations)
	mux.HandleFunc("POST /api/transcripts", a.addTranscript)
	mux.HandleFunc("GET /api/transcripts/{sessionId}/{language}", a.listTranscripts)
}

// languageJSON is the wire form of a language row.
type languageJSON struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

func toLanguageJSON(ls []store.Language) []languageJSON {
	out := make([]languageJSON, len(ls))
	for i, l := range ls {
		out[i] = languageJSON{ID: l.ID, Code: l.Code, Name: l.Name, IsActive: l.IsActive}
	}
	return out
}

func (a *API) listLanguages(w http.ResponseWriter, r *http.Request) {
	ls, err := a.store.ListLanguages(r.Context())
	if err != nil {
		a.serverError(w, "list languages", err)
		return
	}
	writeJSON(w, http.StatusOK, toLanguageJSON(ls))
}

func (a *API) listActiveLanguages(w http.ResponseWriter, r *http.Request) {
	ls, err := a.store.ListActiveLanguages(r.Context())
	if err != nil {
		a.serverError(w, "list active languages", err)
		return
	}
	writeJSON(w, http.StatusOK, toLanguageJSON(ls))
}

func (a *API) setLanguageStatus(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var body struct {
		IsActive *bool `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IsActive == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"isActive\": bool}")
		return
	}
	err := a.store.SetLanguageActive(r.Context(), code, *body.IsActive)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown language code")
		return
	}
	if err != nil {
		a.serverError(w, "set language status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "isActive": *body.IsActive})
}

// translationJSON is the wire form of a translation row.
type translationJSON struct {
	ID             int64     `json:"id,omitempty"`
	SessionID      string    `json:"sessionId"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	OriginalText   string    `json:"originalText"`
	TranslatedText string    `json:"translatedText"`
	LatencyMs      int64     `json:"latencyMs,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

func (a *API) addTranslation(w http.ResponseWriter, r *http.Request) {
	var body translationJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.SessionID == "" || body.SourceLanguage == "" || body.TargetLanguage == "" {
		writeError(w, http.StatusBadRequest, "sessionId, sourceLanguage, and targetLanguage are required")
		return
	}
	if body.Timestamp.IsZero() {
		body.Timestamp = time.Now()
	}
	err := a.store.AddTranslation(r.Context(), store.Translation{
		SessionID:      body.SessionID,
		SourceLanguage: body.SourceLanguage,
		TargetLanguage: body.TargetLanguage,
		OriginalText:   body.OriginalText,
		TranslatedText: body.TranslatedText,
		LatencyMs:      body.LatencyMs,
		Timestamp:      body.Timestamp,
	})
	if err != nil {
		a.serverError(w, "add translation", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (a *API) listTranslations(w http.ResponseWriter, r *http.Request) {
	language := r.PathValue("language")
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	ts, err := a.store.ListTranslationsByLanguage(r.Context(), language, limit)
	if err != nil {
		a.serverError(w, "list translations", err)
		return
	}
	out := make([]translationJSON, len(ts))
	for i, t := range ts {
		out[i] = translationJSON{
			ID:             t.ID,
			SessionID:      t.SessionID,
			SourceLanguage: t.SourceLanguage,
			TargetLanguage: t.TargetLanguage,
			OriginalText:   t.OriginalText,
			TranslatedText: t.TranslatedText,
			LatencyMs:      t.LatencyMs,
			Timestamp:      t.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// transcriptJSON is the wire form of a transcript row.
type transcriptJSON struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"sessionId"`
	Language  string    `json:"language"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (a *API) addTranscript(w http.ResponseWriter, r *http.Request) {
	var body transcriptJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.SessionID == "" || body.Text == "" {
		writeError(w, http.StatusBadRequest, "sessionId and text are required")
		return
	}
	if body.Timestamp.IsZero() {
		body.Timestamp = time.Now()
	}
	err := a.store.AddTranscript(r.Context(), store.Transcript{
		SessionID: body.SessionID,
		Language:  body.Language,
		Text:      body.Text,
		Timestamp: body.Timestamp,
	})
	if err != nil {
		a.serverError(w, "add transcript", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (a *API) listTranscripts(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	language := r.PathValue("language")
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	ts, err := a.store.ListTranscripts(r.Context(), sessionID, limit)
	if err != nil {
		a.serverError(w, "list transcripts", err)
		return
	}
	out := []transcriptJSON{}
	for _, t := range ts {
		if language != "" && t.Language != language {
			continue
		}
		out = append(out, transcriptJSON{
			ID:        t.ID,
			SessionID: t.SessionID,
			Language:  t.Language,
			Text:      t.Text,
			Timestamp: t.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// parseLimit reads ?limit= with the package default when absent.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (a *API) serverError(w http.ResponseWriter, op string, err error) {
	a.logger.Error("api request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
