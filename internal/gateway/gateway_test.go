package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/babelclass/babelclass/internal/classroom"
	"github.com/babelclass/babelclass/internal/config"
	"github.com/babelclass/babelclass/internal/lifecycle"
	"github.com/babelclass/babelclass/internal/relay"
	"github.com/babelclass/babelclass/internal/store/memory"
	"github.com/babelclass/babelclass/pkg/provider/tts"
)

type fakeSocket struct {
	mu        sync.Mutex
	frames    []map[string]any
	pings     int
	closed    bool
	closeCode websocket.StatusCode
}

func (s *fakeSocket) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	var frame map[string]any
	if err := json.Unmarshal(p, &frame); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSocket) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *fakeSocket) Close(code websocket.StatusCode, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
	return nil
}

func (s *fakeSocket) CloseNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) frameOfType(t string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		if f["type"] == t {
			return f, true
		}
	}
	return nil, false
}

func (s *fakeSocket) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubProvider struct {
	mu         sync.Mutex
	synthCalls int
	synthErr   error
}

func (p *stubProvider) Translate(_ context.Context, text, sourceLang, targetLang string) (string, error) {
	if sourceLang == targetLang {
		return text, nil
	}
	return "[" + targetLang + "] " + text, nil
}

func (p *stubProvider) Synthesize(context.Context, tts.Request) (tts.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synthCalls++
	if p.synthErr != nil {
		return tts.Result{}, p.synthErr
	}
	return tts.Result{Audio: []byte("audio-bytes")}, nil
}

type gatewayFixture struct {
	g        *Gateway
	store    *memory.Store
	dir      *classroom.Directory
	provider *stubProvider

	// anchor is the gateway's frozen clock.
	anchor time.Time
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	st := memory.New()
	dir := classroom.New(2 * time.Hour)
	cfg := config.Default()
	cfg.Gateway.SessionExpiredMessageDelay = time.Millisecond
	cfg.Gateway.InvalidClassroomMessageDelay = time.Millisecond

	lc := lifecycle.NewManager(st, dir, cfg)
	p := &stubProvider{}
	orch := relay.New(p, st)
	anchor := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	return &gatewayFixture{
		g:        New(st, lc, dir, orch, p, cfg, withNow(func() time.Time { return anchor })),
		store:    st,
		dir:      dir,
		provider: p,
		anchor:   anchor,
	}
}

func (f *gatewayFixture) connect(t *testing.T) (*Client, *fakeSocket) {
	t.Helper()
	sock := &fakeSocket{}
	c := newClient(sock)
	f.g.registry.Add(c)
	return c, sock
}

func (f *gatewayFixture) handle(t *testing.T, c *Client, frame string) {
	t.Helper()
	f.g.handleFrame(context.Background(), c, []byte(frame))
}

// registerTeacher runs a teacher registration and returns the classroom code.
func (f *gatewayFixture) registerTeacher(t *testing.T, c *Client, sock *fakeSocket) string {
	t.Helper()
	f.handle(t, c, `{"type":"register","role":"teacher","languageCode":"en-US"}`)
	frame, ok := sock.frameOfType(typeClassroomCode)
	if !ok {
		t.Fatalf("no classroom_code frame, got %v", sock.frames)
	}
	code, _ := frame["code"].(string)
	return code
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegisterTeacherAcksAndIssuesCode(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)

	code := f.registerTeacher(t, c, sock)
	if !classroom.ValidFormat(code) {
		t.Errorf("code %q malformed", code)
	}

	ack, ok := sock.frameOfType(typeRegister)
	if !ok {
		t.Fatal("no register ack")
	}
	if ack["status"] != "success" {
		t.Errorf("status = %v", ack["status"])
	}
	if c.Role() != RoleTeacher || c.SessionID() == "" {
		t.Errorf("client state: role=%q session=%q", c.Role(), c.SessionID())
	}

	frame, _ := sock.frameOfType(typeClassroomCode)
	if frame["sessionId"] != c.SessionID() {
		t.Errorf("sessionId = %v, want %q", frame["sessionId"], c.SessionID())
	}
	if frame["expiresAt"] == "" {
		t.Error("expiresAt empty")
	}
}

func TestRegisterStudentInvalidCodeRejected(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)

	f.handle(t, c, `{"type":"register","role":"student","classroomCode":"ZZZZ99"}`)

	frame, ok := sock.frameOfType(typeError)
	if !ok {
		t.Fatal("no error frame")
	}
	if frame["code"] != "INVALID_CLASSROOM" {
		t.Errorf("code = %v", frame["code"])
	}
	waitFor(t, "socket close", sock.isClosed)
	if sock.closeCode != websocket.StatusPolicyViolation {
		t.Errorf("close code = %v, want 1008", sock.closeCode)
	}
}

func TestRegisterStudentJoinsSession(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	teacher, teacherSock := f.connect(t)
	code := f.registerTeacher(t, teacher, teacherSock)

	student, studentSock := f.connect(t)
	f.handle(t, student, `{"type":"register","role":"student","name":"Ana","languageCode":"es","classroomCode":"`+code+`"}`)

	if student.SessionID() != teacher.SessionID() {
		t.Fatalf("student session %q, want teacher's %q", student.SessionID(), teacher.SessionID())
	}
	if !student.StudentCounted() {
		t.Error("student not counted")
	}
	if _, ok := studentSock.frameOfType(typeRegister); !ok {
		t.Error("no register ack for student")
	}

	sess, err := f.store.GetSession(ctx, teacher.SessionID())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.StudentsCount != 1 {
		t.Errorf("studentsCount = %d, want 1", sess.StudentsCount)
	}
	if sess.StudentLanguage != "es" {
		t.Errorf("studentLanguage = %q, want es", sess.StudentLanguage)
	}
	if !sess.StartTime.Equal(f.anchor) {
		t.Errorf("startTime = %v, want re-anchored %v", sess.StartTime, f.anchor)
	}

	joined, ok := teacherSock.frameOfType(typeStudentJoined)
	if !ok {
		t.Fatal("teacher did not receive student_joined")
	}
	payload, _ := joined["payload"].(map[string]any)
	if payload["name"] != "Ana" || payload["languageCode"] != "es" {
		t.Errorf("payload = %v", payload)
	}
}

func TestRegisterStudentTwiceCountedOnce(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	teacher, teacherSock := f.connect(t)
	code := f.registerTeacher(t, teacher, teacherSock)

	student, _ := f.connect(t)
	reg := `{"type":"register","role":"student","languageCode":"es","classroomCode":"` + code + `"}`
	f.handle(t, student, reg)
	f.handle(t, student, reg)

	sess, _ := f.store.GetSession(ctx, teacher.SessionID())
	if sess.StudentsCount != 1 {
		t.Errorf("studentsCount = %d, want 1", sess.StudentsCount)
	}
}

func TestSessionExpiredForUnseatedConnection(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)

	f.handle(t, c, `{"type":"transcription","text":"hello"}`)

	frame, ok := sock.frameOfType(typeSessionExpired)
	if !ok {
		t.Fatal("no session_expired frame")
	}
	if frame["code"] != "SESSION_EXPIRED" {
		t.Errorf("code = %v", frame["code"])
	}
	waitFor(t, "socket close", sock.isClosed)
}

func TestPingAnswersWithOriginalTimestamp(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)

	f.handle(t, c, `{"type":"ping","timestamp":12345}`)

	frame, ok := sock.frameOfType(typePong)
	if !ok {
		t.Fatal("no pong frame")
	}
	if frame["originalTimestamp"] != float64(12345) {
		t.Errorf("originalTimestamp = %v", frame["originalTimestamp"])
	}
	if frame["timestamp"] != float64(f.anchor.UnixMilli()) {
		t.Errorf("timestamp = %v", frame["timestamp"])
	}
}

func TestSettingsMergeAndEcho(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)
	f.registerTeacher(t, c, sock)

	f.handle(t, c, `{"type":"settings","ttsServiceType":"elevenlabs","settings":{"useClientSpeech":true}}`)

	frame, ok := sock.frameOfType(typeSettings)
	if !ok {
		t.Fatal("no settings ack")
	}
	settings, _ := frame["settings"].(map[string]any)
	if settings["useClientSpeech"] != true || settings["ttsServiceType"] != "elevenlabs" {
		t.Errorf("settings = %v", settings)
	}
	if !c.UseClientSpeech() || c.TTSServiceType() != "elevenlabs" {
		t.Errorf("client state: useClientSpeech=%v ttsServiceType=%q",
			c.UseClientSpeech(), c.TTSServiceType())
	}
}

func TestTranscriptionFansOutToStudents(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	teacher, teacherSock := f.connect(t)
	code := f.registerTeacher(t, teacher, teacherSock)

	s1, sock1 := f.connect(t)
	f.handle(t, s1, `{"type":"register","role":"student","languageCode":"es","classroomCode":"`+code+`"}`)
	s2, sock2 := f.connect(t)
	f.handle(t, s2, `{"type":"register","role":"student","languageCode":"fr","classroomCode":"`+code+`"}`)

	f.handle(t, teacher, `{"type":"transcription","text":"Good morning"}`)

	t1, ok := sock1.frameOfType("translation")
	if !ok {
		t.Fatal("student 1 received no translation")
	}
	if t1["text"] != "[es] Good morning" || t1["originalText"] != "Good morning" {
		t.Errorf("student 1 frame = %v", t1)
	}
	t2, ok := sock2.frameOfType("translation")
	if !ok {
		t.Fatal("student 2 received no translation")
	}
	if t2["targetLanguage"] != "fr" {
		t.Errorf("student 2 targetLanguage = %v", t2["targetLanguage"])
	}

	transcripts, err := f.store.ListTranscripts(ctx, teacher.SessionID(), 10)
	if err != nil || len(transcripts) != 1 {
		t.Fatalf("transcripts = %v, err %v", transcripts, err)
	}
	if transcripts[0].Text != "Good morning" || transcripts[0].Language != "en-US" {
		t.Errorf("transcript = %+v", transcripts[0])
	}

	sess, _ := f.store.GetSession(ctx, teacher.SessionID())
	if sess.TotalTranslations != 2 {
		t.Errorf("totalTranslations = %d, want 2", sess.TotalTranslations)
	}
}

func TestTranscriptionFromStudentIgnored(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	teacher, teacherSock := f.connect(t)
	code := f.registerTeacher(t, teacher, teacherSock)

	student, _ := f.connect(t)
	f.handle(t, student, `{"type":"register","role":"student","languageCode":"es","classroomCode":"`+code+`"}`)

	f.handle(t, student, `{"type":"transcription","text":"should be dropped"}`)

	transcripts, _ := f.store.ListTranscripts(ctx, teacher.SessionID(), 10)
	if len(transcripts) != 0 {
		t.Errorf("transcripts = %v, want none", transcripts)
	}
}

func TestTTSRequestReturnsAudio(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)
	f.registerTeacher(t, c, sock)

	f.handle(t, c, `{"type":"tts_request","text":"Hola","languageCode":"es"}`)

	frame, ok := sock.frameOfType(typeTTSResponse)
	if !ok {
		t.Fatal("no tts_response frame")
	}
	if frame["status"] != "success" {
		t.Errorf("status = %v (%v)", frame["status"], frame["error"])
	}
	if frame["audioData"] == nil || frame["audioData"] == "" {
		t.Error("audioData empty")
	}
	if f.provider.synthCalls != 1 {
		t.Errorf("synthCalls = %d, want 1", f.provider.synthCalls)
	}
}

func TestTTSRequestBrowserServiceSkipsBackend(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)
	f.registerTeacher(t, c, sock)

	f.handle(t, c, `{"type":"tts_request","text":"Hola","languageCode":"es","ttsServiceType":"browser"}`)

	frame, ok := sock.frameOfType(typeTTSResponse)
	if !ok {
		t.Fatal("no tts_response frame")
	}
	if frame["status"] != "success" {
		t.Errorf("status = %v (%v)", frame["status"], frame["error"])
	}
	if frame["useClientSpeech"] != true {
		t.Error("useClientSpeech = false, want true for browser service")
	}
	params, _ := frame["speechParams"].(map[string]any)
	if params == nil || params["type"] != "browser-speech" || params["text"] != "Hola" {
		t.Errorf("speechParams = %v", frame["speechParams"])
	}
	if frame["audioData"] != nil && frame["audioData"] != "" {
		t.Errorf("audioData = %v, want empty", frame["audioData"])
	}
	if f.provider.synthCalls != 0 {
		t.Errorf("synthCalls = %d, want 0 for browser service", f.provider.synthCalls)
	}
}

func TestTTSRequestValidation(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)
	f.registerTeacher(t, c, sock)

	f.handle(t, c, `{"type":"tts_request","text":"","languageCode":"es"}`)

	frame, ok := sock.frameOfType(typeTTSResponse)
	if !ok {
		t.Fatal("no tts_response frame")
	}
	if frame["status"] != "error" {
		t.Errorf("status = %v", frame["status"])
	}
	if f.provider.synthCalls != 0 {
		t.Errorf("synthCalls = %d, want 0", f.provider.synthCalls)
	}
}

func TestUnknownTypeDropped(t *testing.T) {
	f := newGatewayFixture(t)
	c, sock := f.connect(t)
	f.registerTeacher(t, c, sock)

	before := sock.frameCount()
	f.handle(t, c, `{"type":"mystery"}`)
	if sock.frameCount() != before {
		t.Error("unknown type produced a response")
	}
}

func TestHealthSweepTerminatesDeadConnections(t *testing.T) {
	f := newGatewayFixture(t)
	alive, aliveSock := f.connect(t)
	dead, deadSock := f.connect(t)
	dead.SetAlive(false)

	f.g.sweepConnections(context.Background())

	if !deadSock.isClosed() {
		t.Error("dead connection survived the sweep")
	}
	if aliveSock.isClosed() {
		t.Error("alive connection was terminated")
	}
	if alive.Alive() {
		t.Error("alive flag not reset pending next frame")
	}
	if aliveSock.pings != 1 {
		t.Errorf("pings = %d, want 1", aliveSock.pings)
	}
	if _, ok := aliveSock.frameOfType(typePing); !ok {
		t.Error("no application-level ping frame")
	}
}

func TestTeardownDecrementsStudentAndStartsGrace(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	teacher, teacherSock := f.connect(t)
	code := f.registerTeacher(t, teacher, teacherSock)

	student, _ := f.connect(t)
	f.handle(t, student, `{"type":"register","role":"student","languageCode":"es","classroomCode":"`+code+`"}`)

	f.g.teardown(ctx, student)

	sess, _ := f.store.GetSession(ctx, teacher.SessionID())
	if sess.StudentsCount != 0 {
		t.Errorf("studentsCount = %d, want 0", sess.StudentsCount)
	}
	if f.g.registry.Len() != 1 {
		t.Errorf("registry len = %d, want 1", f.g.registry.Len())
	}
}

func TestRegistryEnumeration(t *testing.T) {
	f := newGatewayFixture(t)

	teacher, teacherSock := f.connect(t)
	code := f.registerTeacher(t, teacher, teacherSock)

	s1, _ := f.connect(t)
	f.handle(t, s1, `{"type":"register","role":"student","languageCode":"es","classroomCode":"`+code+`"}`)
	s2, _ := f.connect(t)
	f.handle(t, s2, `{"type":"register","role":"student","languageCode":"es","classroomCode":"`+code+`"}`)

	sid := teacher.SessionID()
	if got := len(f.g.registry.StudentsBySession(sid)); got != 2 {
		t.Errorf("students = %d, want 2", got)
	}
	if got := len(f.g.registry.TeachersBySession(sid)); got != 1 {
		t.Errorf("teachers = %d, want 1", got)
	}
	if langs := f.g.registry.StudentLanguages(sid); len(langs) != 1 || langs[0] != "es" {
		t.Errorf("languages = %v, want [es]", langs)
	}
	if got := f.g.registry.CountByRole(RoleStudent); got != 2 {
		t.Errorf("CountByRole(student) = %d, want 2", got)
	}
}
