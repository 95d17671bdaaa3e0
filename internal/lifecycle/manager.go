// Package lifecycle owns the session state machine: teacher registration
// resolution (create / reuse / reactivate), disconnect policies, the
// all-students-left grace window, quality classification, and the periodic
// cleanup sweep.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/babelclass/babelclass/internal/classroom"
	"github.com/babelclass/babelclass/internal/config"
	"github.com/babelclass/babelclass/internal/observe"
	"github.com/babelclass/babelclass/internal/store"
)

// Storage is the slice of the durable store the lifecycle manager uses.
type Storage interface {
	store.SessionStore
	store.TranscriptStore
}

// Resolution is the outcome of registering a teacher.
type Resolution struct {
	Session store.Session
	Code    string
	Action  Action
}

// Manager drives session state transitions. Safe for concurrent use.
type Manager struct {
	storage   Storage
	directory *classroom.Directory
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time

	mu sync.Mutex
	// allLeftAt marks when a session's last counted student disconnected.
	allLeftAt map[string]time.Time
	// inflight counts translation deliveries per session; the sweep never
	// ends a session with deliveries still resolving.
	inflight map[string]int
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(mx *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// withNow overrides the clock. Tests only.
func withNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(storage Storage, directory *classroom.Directory, cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		storage:   storage,
		directory: directory,
		cfg:       cfg,
		logger:    slog.Default(),
		metrics:   observe.DefaultMetrics(),
		now:       time.Now,
		allLeftAt: make(map[string]time.Time),
		inflight:  make(map[string]int),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RegisterTeacher resolves a teacher registration into a session per the
// decision table: active session by teacherId, recently-ended session by
// teacherId (reactivated), active session by language inside the grace
// window, else a fresh session. currentSessionID is the connection's
// provisional session; when the teacher is re-seated elsewhere and the
// provisional session is empty, it is ended.
func (m *Manager) RegisterTeacher(ctx context.Context, teacherID, languageCode, currentSessionID string) (Resolution, error) {
	now := m.now()
	grace := m.cfg.Scaled(m.cfg.Session.TeacherReconnectionGrace)

	candidates, err := m.collectCandidates(ctx, teacherID, languageCode, now, grace)
	if err != nil {
		return Resolution{}, err
	}

	d := resolveSession(resolveInput{
		TeacherID:         teacherID,
		Language:          languageCode,
		Now:               now,
		ReconnectionGrace: grace,
		Candidates:        candidates,
	})

	for _, id := range d.EndSessions {
		if id == currentSessionID || id == d.SessionID {
			continue
		}
		m.endSession(ctx, id, "Teacher created new session")
	}

	switch d.Action {
	case ActionReuse, ActionReactivate:
		if d.Action == ActionReactivate {
			if err := m.storage.ReactivateSession(ctx, d.SessionID, now); err != nil {
				return Resolution{}, fmt.Errorf("lifecycle: reactivate session: %w", err)
			}
		} else if err := m.storage.TouchSession(ctx, d.SessionID, now); err != nil {
			m.logger.Warn("failed to touch reused session", "session_id", d.SessionID, "error", err)
		}

		sess, err := m.storage.GetSession(ctx, d.SessionID)
		if err != nil {
			return Resolution{}, fmt.Errorf("lifecycle: load resolved session: %w", err)
		}

		// A reconnecting teacher abandons the provisional session the
		// connection opened with, if it never attracted students.
		if currentSessionID != "" && currentSessionID != d.SessionID {
			if cur, err := m.storage.GetSession(ctx, currentSessionID); err == nil && cur.IsActive && cur.StudentsCount == 0 {
				m.endSession(ctx, currentSessionID, "Teacher reconnected to previous session")
			}
		}

		code := sess.ClassCode
		if code != "" && classroom.ValidFormat(code) {
			if err := m.directory.Restore(code, sess.SessionID); err != nil {
				m.logger.Warn("failed to restore classroom code", "code", code, "error", err)
				code = ""
			}
		}
		if code == "" {
			if code, err = m.directory.CreateOrReuse(sess.SessionID); err != nil {
				return Resolution{}, fmt.Errorf("lifecycle: classroom code: %w", err)
			}
		}
		m.directory.SetTeacherConnected(sess.SessionID, true)
		m.logger.Info("teacher re-attached to session",
			"session_id", sess.SessionID, "action", string(d.Action), "code", code)
		return Resolution{Session: sess, Code: code, Action: d.Action}, nil

	default:
		return m.createSession(ctx, teacherID, languageCode, now)
	}
}

func (m *Manager) collectCandidates(ctx context.Context, teacherID, languageCode string, now time.Time, grace time.Duration) ([]store.Session, error) {
	var candidates []store.Session
	if teacherID != "" {
		window := m.cfg.Scaled(reactivationWindow)
		sess, err := m.storage.FindActiveSessionByTeacher(ctx, teacherID, now.Add(-window))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lifecycle: find session by teacher: %w", err)
		}
		if err == nil {
			candidates = append(candidates, sess)
		}
	} else if languageCode != "" {
		// All active sessions for this language, not just in-grace ones:
		// stale matches are superseded and must be ended.
		active, err := m.storage.ListActiveSessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: list active sessions: %w", err)
		}
		for _, sess := range active {
			if sess.TeacherLanguage == languageCode {
				candidates = append(candidates, sess)
			}
		}
	}
	return candidates, nil
}

func (m *Manager) createSession(ctx context.Context, teacherID, languageCode string, now time.Time) (Resolution, error) {
	sessionID := uuid.NewString()
	if teacherID == "" {
		teacherID = "teacher-" + sessionID[:8]
	}

	code, err := m.directory.CreateOrReuse(sessionID)
	if err != nil {
		return Resolution{}, fmt.Errorf("lifecycle: classroom code: %w", err)
	}

	sess := store.Session{
		SessionID:       sessionID,
		TeacherID:       teacherID,
		ClassCode:       code,
		TeacherLanguage: languageCode,
		StartTime:       now,
		LastActivityAt:  now,
		IsActive:        true,
		Quality:         store.QualityUnknown,
	}
	if err := m.storage.CreateSession(ctx, sess); err != nil {
		m.directory.Remove(sessionID)
		return Resolution{}, fmt.Errorf("lifecycle: create session: %w", err)
	}

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.logger.Info("session created",
		"session_id", sessionID, "teacher_id", teacherID, "code", code, "language", languageCode)
	return Resolution{Session: sess, Code: code, Action: ActionCreate}, nil
}

// StudentJoined clears the all-students-left grace marker for the session.
func (m *Manager) StudentJoined(sessionID string) {
	m.mu.Lock()
	delete(m.allLeftAt, sessionID)
	m.mu.Unlock()
}

// StudentLeft records the moment the session's last counted student
// disconnected, starting the grace window. remaining is the student count
// after the disconnect.
func (m *Manager) StudentLeft(sessionID string, remaining int) {
	if remaining > 0 {
		return
	}
	m.mu.Lock()
	if _, marked := m.allLeftAt[sessionID]; !marked {
		m.allLeftAt[sessionID] = m.now()
	}
	m.mu.Unlock()
	m.logger.Info("all students left, grace window started", "session_id", sessionID)
}

// TeacherDisconnected applies the disconnect policy: an empty, very young
// session with no explicit teacher ID ends on the spot; anything else stays
// active for the reconnection window.
func (m *Manager) TeacherDisconnected(ctx context.Context, sessionID string, hadTeacherID bool) {
	m.directory.SetTeacherConnected(sessionID, false)

	sess, err := m.storage.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Error("failed to load session on teacher disconnect",
				"session_id", sessionID, "error", err)
		}
		return
	}
	if !sess.IsActive {
		return
	}

	age := m.now().Sub(sess.StartTime)
	if sess.StudentsCount == 0 && age < m.cfg.Scaled(m.cfg.Session.VeryShortThreshold) && !hadTeacherID {
		m.endSession(ctx, sessionID, "Teacher disconnected, session too short")
		return
	}
	m.logger.Info("teacher disconnected, session held for reconnection",
		"session_id", sessionID, "age", age)
}

// TrackDelivery registers an in-flight translation fan-out for the session
// and returns a func to call once every delivery has resolved. The sweep
// never ends a session while a fan-out is in flight.
func (m *Manager) TrackDelivery(sessionID string) func() {
	m.mu.Lock()
	m.inflight[sessionID]++
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.inflight[sessionID]--; m.inflight[sessionID] <= 0 {
				delete(m.inflight, sessionID)
			}
			m.mu.Unlock()
		})
	}
}

func (m *Manager) hasInflight(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[sessionID] > 0
}

// EndSession ends the session with a classified quality and the given
// reason, and retires its classroom code.
func (m *Manager) EndSession(ctx context.Context, sessionID, reason string) {
	m.endSession(ctx, sessionID, reason)
}

// endSession classifies and ends one session. Ending an already-ended
// session is a no-op at the store level.
func (m *Manager) endSession(ctx context.Context, sessionID, reason string) {
	m.endSessionAs(ctx, sessionID, "", reason)
}

// endSessionAs ends one session with a forced quality; an empty quality
// falls back to classification. The sweep forces qualities because its
// conditions already name them; every other end path classifies.
func (m *Manager) endSessionAs(ctx context.Context, sessionID string, quality store.SessionQuality, reason string) {
	sess, err := m.storage.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Error("failed to load session for ending", "session_id", sessionID, "error", err)
		}
		return
	}
	if !sess.IsActive {
		return
	}

	now := m.now()
	if quality == "" {
		transcripts := 0
		if sess.TotalTranslations == 0 {
			if rows, err := m.storage.ListTranscripts(ctx, sessionID, 1); err == nil {
				transcripts = len(rows)
			}
		}
		quality = classify(sess, transcripts, now)
	}
	if err := m.storage.EndSession(ctx, sessionID, now, quality, reason); err != nil {
		m.logger.Error("failed to end session", "session_id", sessionID, "error", err)
		return
	}

	m.directory.Remove(sessionID)
	m.mu.Lock()
	delete(m.allLeftAt, sessionID)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, -1)
	m.metrics.RecordSessionEnded(ctx, string(quality))
	m.logger.Info("session ended",
		"session_id", sessionID,
		"quality", string(quality),
		"reason", reason,
		"students", sess.StudentsCount,
		"translations", sess.TotalTranslations)
}

// Sweep performs one cleanup pass: empty-teacher sessions past their
// timeout, sessions whose all-students-left grace expired, and long-inactive
// sessions. Returns the number of sessions ended.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()
	sessions, err := m.storage.ListActiveSessions(ctx)
	if err != nil {
		m.logger.Error("sweep: failed to list active sessions", "error", err)
		return 0
	}

	emptyTimeout := m.cfg.Scaled(m.cfg.Session.EmptyTeacherTimeout)
	graceTimeout := m.cfg.Scaled(m.cfg.Session.AllStudentsLeftTimeout)
	staleTimeout := m.cfg.Scaled(m.cfg.Session.StaleTimeout)

	m.mu.Lock()
	allLeft := make(map[string]time.Time, len(m.allLeftAt))
	for k, v := range m.allLeftAt {
		allLeft[k] = v
	}
	m.mu.Unlock()

	ended := 0
	for _, sess := range sessions {
		if m.hasInflight(sess.SessionID) {
			continue
		}
		switch {
		// The grace case outranks the empty-teacher case: a session whose
		// students all left is not a never-joined session.
		case !allLeft[sess.SessionID].IsZero() && now.Sub(allLeft[sess.SessionID]) > graceTimeout:
			m.endSessionAs(ctx, sess.SessionID, store.QualityNoActivity, "All students left")
			ended++
		case sess.StudentsCount == 0 && allLeft[sess.SessionID].IsZero() && now.Sub(sess.StartTime) > emptyTimeout:
			m.endSessionAs(ctx, sess.SessionID, store.QualityNoStudents, "No students joined")
			ended++
		case now.Sub(sess.LastActivityAt) > staleTimeout:
			m.endSessionAs(ctx, sess.SessionID, store.QualityNoActivity, "Session inactive")
			ended++
		}
	}
	return ended
}

// Run sweeps on the configured cadence until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Scaled(m.cfg.Session.CleanupInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
