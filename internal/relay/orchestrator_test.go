package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/babelclass/babelclass/internal/store"
	"github.com/babelclass/babelclass/pkg/provider/tts"
)

// fakeProvider is a deterministic Provider for pipeline tests.
type fakeProvider struct {
	mu             sync.Mutex
	translateCalls []string
	translateErr   error
	synthCalls     int
	synthResult    tts.Result
	synthErr       error
}

func (p *fakeProvider) Translate(_ context.Context, text, _, targetLang string) (string, error) {
	p.mu.Lock()
	p.translateCalls = append(p.translateCalls, targetLang)
	p.mu.Unlock()
	if p.translateErr != nil {
		return "", p.translateErr
	}
	return "[" + targetLang + "] " + text, nil
}

func (p *fakeProvider) Synthesize(_ context.Context, _ tts.Request) (tts.Result, error) {
	p.mu.Lock()
	p.synthCalls++
	p.mu.Unlock()
	if p.synthErr != nil {
		return tts.Result{}, p.synthErr
	}
	return p.synthResult, nil
}

// fakeRecorder captures persisted rows and counters.
type fakeRecorder struct {
	mu     sync.Mutex
	rows   []store.Translation
	counts map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{counts: make(map[string]int)}
}

func (r *fakeRecorder) AddTranslation(_ context.Context, t store.Translation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, t)
	return nil
}

func (r *fakeRecorder) AddTranslationsCount(_ context.Context, sessionID string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[sessionID] += n
	return nil
}

// fakeConn records delivered frames; failFirst makes the first n sends fail.
type fakeConn struct {
	mu        sync.Mutex
	frames    []TranslationFrame
	failFirst int
	attempts  int
}

func (c *fakeConn) Send(_ context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.attempts <= c.failFirst {
		return errors.New("send failed")
	}
	c.frames = append(c.frames, v.(TranslationFrame))
	return nil
}

func (c *fakeConn) delivered() []TranslationFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranslationFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestRelayFansOutPerLanguage(t *testing.T) {
	p := &fakeProvider{synthResult: tts.Result{Audio: []byte("wav")}}
	r := newFakeRecorder()
	o := New(p, r)

	es := &fakeConn{}
	fr := &fakeConn{}
	o.Relay(context.Background(), Job{
		SessionID:      "s1",
		Text:           "Hello class",
		SourceLanguage: "en-US",
		StartTime:      time.Now(),
		Students: []Student{
			{ID: "a", Language: "es", Conn: es},
			{ID: "b", Language: "fr", Conn: fr},
		},
	})

	for name, conn := range map[string]*fakeConn{"es": es, "fr": fr} {
		frames := conn.delivered()
		if len(frames) != 1 {
			t.Fatalf("%s frames = %d, want 1", name, len(frames))
		}
		f := frames[0]
		if f.Type != "translation" || f.OriginalText != "Hello class" {
			t.Errorf("%s frame = %+v", name, f)
		}
		if f.TargetLanguage != name {
			t.Errorf("targetLanguage = %q, want %q", f.TargetLanguage, name)
		}
		if f.Text != "["+name+"] Hello class" {
			t.Errorf("text = %q", f.Text)
		}
		if f.AudioData != base64.StdEncoding.EncodeToString([]byte("wav")) {
			t.Errorf("audioData = %q", f.AudioData)
		}
		if f.Latency.Total < 0 || f.Latency.Components.Translation < 0 {
			t.Errorf("latency = %+v", f.Latency)
		}
	}
	if got := r.counts["s1"]; got != 2 {
		t.Errorf("translations count = %d, want 2", got)
	}
}

func TestRelaySharedLanguageTranslatesOnce(t *testing.T) {
	p := &fakeProvider{synthResult: tts.Result{Audio: []byte("wav")}}
	o := New(p, newFakeRecorder())

	a, b := &fakeConn{}, &fakeConn{}
	o.Relay(context.Background(), Job{
		SessionID:      "s1",
		Text:           "hi",
		SourceLanguage: "en-US",
		StartTime:      time.Now(),
		Students: []Student{
			{ID: "a", Language: "es", Conn: a},
			{ID: "b", Language: "es", Conn: b},
		},
	})

	if len(p.translateCalls) != 1 {
		t.Errorf("translate calls = %v, want one per distinct language", p.translateCalls)
	}
	if len(a.delivered()) != 1 || len(b.delivered()) != 1 {
		t.Error("both students must receive a frame")
	}
}

func TestRelayClientSpeechPath(t *testing.T) {
	p := &fakeProvider{}
	o := New(p, newFakeRecorder())

	c := &fakeConn{}
	o.Relay(context.Background(), Job{
		SessionID:      "s1",
		Text:           "hi",
		SourceLanguage: "en-US",
		StartTime:      time.Now(),
		Students: []Student{
			{ID: "a", Language: "de", UseClientSpeech: true, Conn: c},
		},
	})

	frames := c.delivered()
	if len(frames) != 1 {
		t.Fatalf("frames = %d", len(frames))
	}
	f := frames[0]
	if !f.UseClientSpeech {
		t.Error("useClientSpeech = false")
	}
	if f.SpeechParams == nil || f.SpeechParams.Type != "browser-speech" || !f.SpeechParams.AutoPlay {
		t.Errorf("speechParams = %+v", f.SpeechParams)
	}
	if f.AudioData != "" {
		t.Errorf("audioData = %q, want empty", f.AudioData)
	}
	if p.synthCalls != 0 {
		t.Errorf("synth calls = %d, want 0 on client-speech path", p.synthCalls)
	}
}

func TestRelayBrowserServiceTypeUsesClientSpeech(t *testing.T) {
	p := &fakeProvider{synthResult: tts.Result{Audio: []byte("wav")}}
	o := New(p, newFakeRecorder())

	c := &fakeConn{}
	o.Relay(context.Background(), Job{
		SessionID:      "s1",
		Text:           "hi",
		SourceLanguage: "en-US",
		StartTime:      time.Now(),
		Students: []Student{
			{ID: "a", Language: "de", TTSServiceType: "browser", Conn: c},
		},
	})

	frames := c.delivered()
	if len(frames) != 1 {
		t.Fatalf("frames = %d", len(frames))
	}
	f := frames[0]
	if !f.UseClientSpeech || f.SpeechParams == nil {
		t.Errorf("frame = %+v, want client-speech payload", f)
	}
	if f.AudioData != "" {
		t.Errorf("audioData = %q, want empty", f.AudioData)
	}
	if p.synthCalls != 0 {
		t.Errorf("synth calls = %d, want 0 for browser service type", p.synthCalls)
	}
}

func TestRelayTranslationFailureFallsBackToSource(t *testing.T) {
	p := &fakeProvider{translateErr: errors.New("mt down")}
	o := New(p, newFakeRecorder())

	c := &fakeConn{}
	o.Relay(context.Background(), Job{
		SessionID:      "s1",
		Text:           "hello",
		SourceLanguage: "en-US",
		StartTime:      time.Now(),
		Students:       []Student{{ID: "a", Language: "es", UseClientSpeech: true, Conn: c}},
	})

	frames := c.delivered()
	if len(frames) != 1 || frames[0].Text != "hello" {
		t.Fatalf("frames = %+v, want source-text fallback", frames)
	}
}

func TestRelaySkipsBlankLanguage(t *testing.T) {
	p := &fakeProvider{}
	o := New(p, newFakeRecorder())

	c := &fakeConn{}
	o.Relay(context.Background(), Job{
		SessionID:      "s1",
		Text:           "hello",
		SourceLanguage: "en-US",
		StartTime:      time.Now(),
		Students:       []Student{{ID: "a", Language: "  ", Conn: c}},
	})
	if len(c.delivered()) != 0 {
		t.Error("blank-language student received a frame")
	}
}

func TestRelaySendRetry(t *testing.T) {
	p := &fakeProvider{}
	r := newFakeRecorder()
	o := New(p, r)

	flaky := &fakeConn{failFirst: 2}
	dead := &fakeConn{failFirst: 99}
	o.Relay(context.Background(), Job{
		SessionID:      "s1",
		Text:           "hello",
		SourceLanguage: "en-US",
		StartTime:      time.Now(),
		Students: []Student{
			{ID: "flaky", Language: "es", UseClientSpeech: true, Conn: flaky},
			{ID: "dead", Language: "fr", UseClientSpeech: true, Conn: dead},
		},
	})

	if len(flaky.delivered()) != 1 {
		t.Error("flaky student should receive frame on third attempt")
	}
	if flaky.attempts != 3 {
		t.Errorf("flaky attempts = %d, want 3", flaky.attempts)
	}
	if dead.attempts != 3 {
		t.Errorf("dead attempts = %d, want 3 then give up", dead.attempts)
	}
	if got := r.counts["s1"]; got != 1 {
		t.Errorf("count = %d, want only the delivered frame", got)
	}
}

func TestRelayDetailedLoggingPersistsRows(t *testing.T) {
	p := &fakeProvider{}
	r := newFakeRecorder()
	o := New(p, r, WithDetailedLogging(true))

	c := &fakeConn{}
	o.Relay(context.Background(), Job{
		SessionID:      "s1",
		Text:           "hello",
		SourceLanguage: "en-US",
		StartTime:      time.Now(),
		Students:       []Student{{ID: "a", Language: "es", UseClientSpeech: true, Conn: c}},
	})

	if len(r.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(r.rows))
	}
	row := r.rows[0]
	if row.TargetLanguage != "es" || row.OriginalText != "hello" {
		t.Errorf("row = %+v", row)
	}
	if !strings.HasPrefix(row.TranslatedText, "[es]") {
		t.Errorf("translatedText = %q", row.TranslatedText)
	}
}

func TestRelayNoStudentsIsNoOp(t *testing.T) {
	p := &fakeProvider{}
	r := newFakeRecorder()
	o := New(p, r)

	o.Relay(context.Background(), Job{SessionID: "s1", Text: "hello", SourceLanguage: "en"})
	if len(p.translateCalls) != 0 || len(r.counts) != 0 {
		t.Error("expected no work without students")
	}
}
