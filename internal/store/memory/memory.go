// Package memory provides an in-memory implementation of [store.Store].
//
// It backs the relay when no database is configured (records are lost on
// restart) and serves as the storage double in tests that exercise the
// session lifecycle, so the state transitions run against real storage
// semantics instead of canned results.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/babelclass/babelclass/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the map-backed store. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	nextID       int64
	users        map[string]store.User    // by username
	languages    map[string]store.Language // by code
	sessions     map[string]*store.Session // by session ID
	transcripts  []store.Transcript
	translations []store.Translation
}

// New creates an empty Store seeded with the bootstrap language list.
func New() *Store {
	s := &Store{
		users:     make(map[string]store.User),
		languages: make(map[string]store.Language),
		sessions:  make(map[string]*store.Session),
	}
	for _, l := range store.BootstrapLanguages {
		l.ID = s.nextIDLocked()
		s.languages[l.Code] = l
	}
	return s
}

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// Ping implements [store.Store]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store]. It is a no-op.
func (s *Store) Close() {}

// CreateUser implements [store.UserStore].
func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return store.User{}, fmt.Errorf("user store: create: username %q already exists", username)
	}
	u := store.User{ID: s.nextIDLocked(), Username: username, PasswordHash: passwordHash}
	s.users[username] = u
	return u, nil
}

// GetUserByUsername implements [store.UserStore].
func (s *Store) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

// ListLanguages implements [store.LanguageStore].
func (s *Store) ListLanguages(context.Context) ([]store.Language, error) {
	return s.listLanguages(func(store.Language) bool { return true }), nil
}

// ListActiveLanguages implements [store.LanguageStore].
func (s *Store) ListActiveLanguages(context.Context) ([]store.Language, error) {
	return s.listLanguages(func(l store.Language) bool { return l.IsActive }), nil
}

func (s *Store) listLanguages(keep func(store.Language) bool) []store.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []store.Language{}
	for _, l := range s.languages {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// SetLanguageActive implements [store.LanguageStore].
func (s *Store) SetLanguageActive(_ context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.languages[code]
	if !ok {
		return store.ErrNotFound
	}
	l.IsActive = active
	s.languages[code] = l
	return nil
}

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(_ context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.SessionID]; exists {
		return fmt.Errorf("session store: create: session %q already exists", sess.SessionID)
	}
	sess.IsActive = true
	sess.EndTime = nil
	sess.Quality = store.QualityUnknown
	s.sessions[sess.SessionID] = &sess
	return nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(_ context.Context, sessionID string) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return *sess, nil
}

// FindActiveSessionByTeacher implements [store.SessionStore].
func (s *Store) FindActiveSessionByTeacher(_ context.Context, teacherID string, endedAfter time.Time) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *store.Session
	for _, sess := range s.sessions {
		if sess.TeacherID != teacherID {
			continue
		}
		if !sess.IsActive && (sess.EndTime == nil || sess.EndTime.Before(endedAfter)) {
			continue
		}
		if best == nil || sess.StartTime.After(best.StartTime) {
			best = sess
		}
	}
	if best == nil {
		return store.Session{}, store.ErrNotFound
	}
	return *best, nil
}

// ListActiveSessions implements [store.SessionStore].
func (s *Store) ListActiveSessions(context.Context) ([]store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []store.Session{}
	for _, sess := range s.sessions {
		if sess.IsActive {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// CountActiveSessions implements [store.SessionStore].
func (s *Store) CountActiveSessions(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.IsActive {
			n++
		}
	}
	return n, nil
}

// TouchSession implements [store.SessionStore].
func (s *Store) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok && sess.LastActivityAt.Before(at) {
		sess.LastActivityAt = at
	}
	return nil
}

// ReanchorSessionStart implements [store.SessionStore].
func (s *Store) ReanchorSessionStart(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok && sess.IsActive && sess.StudentsCount == 0 {
		sess.StartTime = at
	}
	return nil
}

// AdjustStudentsCount implements [store.SessionStore].
func (s *Store) AdjustStudentsCount(_ context.Context, sessionID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, store.ErrNotFound
	}
	sess.StudentsCount += delta
	if sess.StudentsCount < 0 {
		sess.StudentsCount = 0
	}
	return sess.StudentsCount, nil
}

// AddTranslationsCount implements [store.SessionStore].
func (s *Store) AddTranslationsCount(_ context.Context, sessionID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.TotalTranslations += n
	}
	return nil
}

// SetStudentLanguage implements [store.SessionStore].
func (s *Store) SetStudentLanguage(_ context.Context, sessionID, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.StudentLanguage = language
	}
	return nil
}

// EndSession implements [store.SessionStore].
func (s *Store) EndSession(_ context.Context, sessionID string, endTime time.Time, quality store.SessionQuality, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.IsActive {
		return nil
	}
	t := endTime
	sess.IsActive = false
	sess.EndTime = &t
	sess.Quality = quality
	sess.QualityReason = reason
	return nil
}

// ReactivateSession implements [store.SessionStore].
func (s *Store) ReactivateSession(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.IsActive = true
	sess.EndTime = nil
	sess.Quality = store.QualityUnknown
	sess.QualityReason = ""
	sess.LastActivityAt = at
	return nil
}

// AddTranscript implements [store.TranscriptStore].
func (s *Store) AddTranscript(_ context.Context, t store.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextIDLocked()
	s.transcripts = append(s.transcripts, t)
	return nil
}

// ListTranscripts implements [store.TranscriptStore].
func (s *Store) ListTranscripts(_ context.Context, sessionID string, limit int) ([]store.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []store.Transcript{}
	for i := len(s.transcripts) - 1; i >= 0; i-- {
		if s.transcripts[i].SessionID != sessionID {
			continue
		}
		out = append(out, s.transcripts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AddTranslation implements [store.TranslationStore].
func (s *Store) AddTranslation(_ context.Context, t store.Translation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextIDLocked()
	s.translations = append(s.translations, t)
	return nil
}

// ListTranslationsByLanguage implements [store.TranslationStore].
func (s *Store) ListTranslationsByLanguage(_ context.Context, targetLanguage string, limit int) ([]store.Translation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []store.Translation{}
	for i := len(s.translations) - 1; i >= 0; i-- {
		if s.translations[i].TargetLanguage != targetLanguage {
			continue
		}
		out = append(out, s.translations[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
