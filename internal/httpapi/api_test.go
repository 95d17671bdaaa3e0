package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/babelclass/babelclass/internal/store"
	"github.com/babelclass/babelclass/internal/store/memory"
)

func newTestMux(t *testing.T) (*http.ServeMux, *memory.Store) {
	t.Helper()
	st := memory.New()
	mux := http.NewServeMux()
	New(st, nil).Register(mux)
	return mux, st
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListLanguages(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(t, mux, "GET", "/api/languages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var langs []languageJSON
	if err := json.NewDecoder(rec.Body).Decode(&langs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(langs) != len(store.BootstrapLanguages) {
		t.Errorf("len = %d, want %d", len(langs), len(store.BootstrapLanguages))
	}
}

func TestSetLanguageStatus(t *testing.T) {
	mux, st := newTestMux(t)

	rec := do(t, mux, "PUT", "/api/languages/es/status", `{"isActive":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	active, _ := st.ListActiveLanguages(context.Background())
	for _, l := range active {
		if l.Code == "es" {
			t.Error("es still active")
		}
	}

	rec = do(t, mux, "GET", "/api/languages/active", "")
	var langs []languageJSON
	if err := json.NewDecoder(rec.Body).Decode(&langs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(langs) != len(store.BootstrapLanguages)-1 {
		t.Errorf("active = %d, want %d", len(langs), len(store.BootstrapLanguages)-1)
	}
}

func TestSetLanguageStatusValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	if rec := do(t, mux, "PUT", "/api/languages/es/status", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing isActive: status = %d, want 400", rec.Code)
	}
	if rec := do(t, mux, "PUT", "/api/languages/xx/status", `{"isActive":true}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown code: status = %d, want 404", rec.Code)
	}
}

func TestTranslationsRoundTrip(t *testing.T) {
	mux, _ := newTestMux(t)

	body := `{"sessionId":"s1","sourceLanguage":"en-US","targetLanguage":"es","originalText":"Hello","translatedText":"Hola","latencyMs":42}`
	if rec := do(t, mux, "POST", "/api/translations", body); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	rec := do(t, mux, "GET", "/api/translations/es", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var rows []translationJSON
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].TranslatedText != "Hola" || rows[0].LatencyMs != 42 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestAddTranslationValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	if rec := do(t, mux, "POST", "/api/translations", `{"sessionId":"s1"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec := do(t, mux, "POST", "/api/translations", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTranscriptsFilteredByLanguage(t *testing.T) {
	mux, st := newTestMux(t)
	ctx := context.Background()

	now := time.Now()
	st.AddTranscript(ctx, store.Transcript{SessionID: "s1", Language: "en-US", Text: "one", Timestamp: now})
	st.AddTranscript(ctx, store.Transcript{SessionID: "s1", Language: "fr", Text: "deux", Timestamp: now})
	st.AddTranscript(ctx, store.Transcript{SessionID: "s2", Language: "en-US", Text: "other", Timestamp: now})

	rec := do(t, mux, "GET", "/api/transcripts/s1/en-US", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rows []transcriptJSON
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].Text != "one" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestAddTranscript(t *testing.T) {
	mux, st := newTestMux(t)

	body := `{"sessionId":"s1","language":"en-US","text":"Hello class"}`
	if rec := do(t, mux, "POST", "/api/transcripts", body); rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	rows, _ := st.ListTranscripts(context.Background(), "s1", 10)
	if len(rows) != 1 || rows[0].Text != "Hello class" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestLimitValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	if rec := do(t, mux, "GET", "/api/translations/es?limit=nope", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec := do(t, mux, "GET", "/api/translations/es?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
