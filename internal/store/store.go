// Package store defines the durable persistence layer of the relay: typed
// records for users, languages, sessions, transcripts, and translations,
// plus the interfaces a storage backend must implement.
//
// The interfaces are split per entity so that components depend only on the
// operations they use; [Store] combines them for wiring. Every implementation
// must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: not found")

// SessionQuality classifies an ended session for analytics. Active sessions
// always carry QualityUnknown.
type SessionQuality string

const (
	// QualityUnknown is the only quality an active session may have.
	QualityUnknown SessionQuality = "unknown"

	// QualityReal marks a session with students and actual translation
	// activity.
	QualityReal SessionQuality = "real"

	// QualityNoStudents marks a session no student ever joined.
	QualityNoStudents SessionQuality = "no_students"

	// QualityNoActivity marks a session with students but zero translations.
	QualityNoActivity SessionQuality = "no_activity"

	// QualityTooShort marks a session that ended within the very-short
	// threshold.
	QualityTooShort SessionQuality = "too_short"
)

// IsValid reports whether q is a recognised quality value.
func (q SessionQuality) IsValid() bool {
	switch q {
	case QualityUnknown, QualityReal, QualityNoStudents, QualityNoActivity, QualityTooShort:
		return true
	}
	return false
}

// User is a registered account. Immutable after creation.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// Language is one supported translation target. Only IsActive is mutable.
type Language struct {
	ID       int64
	Code     string // BCP-47-ish, e.g. "en-US", "es"
	Name     string
	IsActive bool
}

// Session is one classroom session. The invariants are:
// EndTime == nil iff IsActive; Quality != QualityUnknown implies !IsActive;
// StudentsCount only decreases on a confirmed counted-student disconnect.
type Session struct {
	SessionID         string
	TeacherID         string
	ClassCode         string
	TeacherLanguage   string
	StudentLanguage   string
	StartTime         time.Time
	EndTime           *time.Time
	LastActivityAt    time.Time
	StudentsCount     int
	TotalTranslations int
	IsActive          bool
	Quality           SessionQuality
	QualityReason     string
}

// Transcript is one utterance received from the teacher. Append-only.
type Transcript struct {
	ID        int64
	SessionID string
	Language  string
	Text      string
	Timestamp time.Time
}

// Translation is one delivered translation. Append-only; LatencyMs is the
// server-measured end-to-end component sum.
type Translation struct {
	ID             int64
	SessionID      string
	SourceLanguage string
	TargetLanguage string
	OriginalText   string
	TranslatedText string
	LatencyMs      int64
	Timestamp      time.Time
}

// UserStore persists registered accounts.
type UserStore interface {
	// CreateUser inserts a new user. The username must be unique.
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)

	// GetUserByUsername returns the user with the given username, or
	// [ErrNotFound].
	GetUserByUsername(ctx context.Context, username string) (User, error)
}

// LanguageStore persists the supported-language list.
type LanguageStore interface {
	// ListLanguages returns every language, active or not, ordered by code.
	ListLanguages(ctx context.Context) ([]Language, error)

	// ListActiveLanguages returns only languages with IsActive=true,
	// ordered by code.
	ListActiveLanguages(ctx context.Context) ([]Language, error)

	// SetLanguageActive flips the IsActive flag of the language with the
	// given code. Returns [ErrNotFound] for unknown codes.
	SetLanguageActive(ctx context.Context, code string, active bool) error
}

// SessionStore persists classroom sessions and their lifecycle transitions.
type SessionStore interface {
	// CreateSession inserts a new active session row.
	CreateSession(ctx context.Context, s Session) error

	// GetSession returns the session with the given ID, or [ErrNotFound].
	GetSession(ctx context.Context, sessionID string) (Session, error)

	// FindActiveSessionByTeacher returns the most recently started session
	// for teacherID that is active or ended within the reconnection grace
	// window (EndTime >= endedAfter), or [ErrNotFound]. A zero endedAfter
	// matches active sessions only.
	FindActiveSessionByTeacher(ctx context.Context, teacherID string, endedAfter time.Time) (Session, error)

	// ListActiveSessions returns every session with IsActive=true.
	ListActiveSessions(ctx context.Context) ([]Session, error)

	// CountActiveSessions returns the number of active sessions.
	CountActiveSessions(ctx context.Context) (int, error)

	// TouchSession refreshes LastActivityAt to at.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// ReanchorSessionStart resets StartTime to at, but only while the
	// session is active with no students counted. Called when the first
	// student joins, so session duration measures teaching time rather than
	// the teacher's setup time; the guard lives in the store so concurrent
	// first joins cannot anchor twice.
	ReanchorSessionStart(ctx context.Context, sessionID string, at time.Time) error

	// AdjustStudentsCount changes StudentsCount by delta, clamping at zero.
	// It returns the new count.
	AdjustStudentsCount(ctx context.Context, sessionID string, delta int) (int, error)

	// AddTranslationsCount increments TotalTranslations by n.
	AddTranslationsCount(ctx context.Context, sessionID string, n int) error

	// SetStudentLanguage records the first student language seen on the
	// session. Later calls overwrite.
	SetStudentLanguage(ctx context.Context, sessionID, language string) error

	// EndSession marks the session ended: IsActive=false, EndTime=endTime,
	// and the given quality classification. Ending an already-ended session
	// is a no-op.
	EndSession(ctx context.Context, sessionID string, endTime time.Time, quality SessionQuality, reason string) error

	// ReactivateSession flips an ended session back to active: IsActive=true,
	// EndTime=nil, Quality=unknown, LastActivityAt=at. StudentsCount and
	// TotalTranslations are preserved.
	ReactivateSession(ctx context.Context, sessionID string, at time.Time) error
}

// TranscriptStore persists teacher utterances.
type TranscriptStore interface {
	// AddTranscript appends one transcript row.
	AddTranscript(ctx context.Context, t Transcript) error

	// ListTranscripts returns up to limit transcripts for the session,
	// newest first. limit <= 0 applies a backend default.
	ListTranscripts(ctx context.Context, sessionID string, limit int) ([]Transcript, error)
}

// TranslationStore persists delivered translations.
type TranslationStore interface {
	// AddTranslation appends one translation row.
	AddTranslation(ctx context.Context, t Translation) error

	// ListTranslationsByLanguage returns up to limit translations with the
	// given target language, newest first. limit <= 0 applies a backend
	// default.
	ListTranslationsByLanguage(ctx context.Context, targetLanguage string, limit int) ([]Translation, error)
}

// Store combines every persistence interface of the relay.
type Store interface {
	UserStore
	LanguageStore
	SessionStore
	TranscriptStore
	TranslationStore

	// Ping verifies the backend is reachable. Used by the health endpoint.
	Ping(ctx context.Context) error

	// Close releases all backend resources.
	Close()
}

// BootstrapLanguages is the default language list seeded into an empty
// database on first migration.
var BootstrapLanguages = []Language{
	{Code: "en-US", Name: "English (US)", IsActive: true},
	{Code: "es", Name: "Spanish", IsActive: true},
	{Code: "fr", Name: "French", IsActive: true},
	{Code: "de", Name: "German", IsActive: true},
	{Code: "ja", Name: "Japanese", IsActive: true},
	{Code: "zh-CN", Name: "Chinese (Simplified)", IsActive: true},
	{Code: "pt-BR", Name: "Portuguese (Brazil)", IsActive: true},
	{Code: "it", Name: "Italian", IsActive: true},
	{Code: "ko", Name: "Korean", IsActive: true},
	{Code: "ar", Name: "Arabic", IsActive: true},
}
