package lifecycle

import (
	"time"

	"github.com/babelclass/babelclass/internal/store"
)

// reactivationWindow is how long after its end a teacher-owned session can
// still be revived by a reconnect carrying the same teacherId.
const reactivationWindow = 10 * time.Minute

// minSessionDuration is the threshold below which an ended session counts as
// too short to matter.
const minSessionDuration = 30 * time.Second

// Action is the outcome of resolving a teacher registration against the
// existing session population.
type Action string

const (
	// ActionCreate starts a fresh session.
	ActionCreate Action = "create"

	// ActionReuse attaches the teacher to an already-active session.
	ActionReuse Action = "reuse"

	// ActionReactivate revives a recently-ended session.
	ActionReactivate Action = "reactivate"
)

// Decision describes how a teacher registration maps onto a session.
type Decision struct {
	Action    Action
	SessionID string

	// EndSessions are stale candidate sessions superseded by this
	// registration; they are ended with reason "Teacher created new session".
	EndSessions []string
}

// resolveInput carries everything the decision needs, so the function stays
// pure and unit-testable without persistence.
type resolveInput struct {
	TeacherID string
	Language  string
	Now       time.Time

	// ReconnectionGrace bounds the age of a language-matched session for
	// anonymous teacher reconnection.
	ReconnectionGrace time.Duration

	// Candidates are sessions that could belong to this teacher: active
	// sessions matching teacherID or teacherLanguage, and recently-ended
	// sessions matching teacherID. Order is irrelevant.
	Candidates []store.Session
}

// resolveSession implements the registration decision table: an active
// session owned by teacherID wins, then a session of that teacher ended
// within the reactivation window, then an active language match inside the
// reconnection grace. Anything else creates a fresh session. When several
// active sessions match, the newest wins and the rest are ended.
func resolveSession(in resolveInput) Decision {
	if in.TeacherID != "" {
		return resolveByTeacher(in)
	}
	if in.Language != "" {
		return resolveByLanguage(in)
	}
	return Decision{Action: ActionCreate}
}

func resolveByTeacher(in resolveInput) Decision {
	var (
		best   *store.Session
		others []string
	)
	for _, s := range in.Candidates {
		if s.TeacherID != in.TeacherID || !s.IsActive {
			continue
		}
		if best == nil || s.LastActivityAt.After(best.LastActivityAt) {
			if best != nil {
				others = append(others, best.SessionID)
			}
			c := s
			best = &c
		} else {
			others = append(others, s.SessionID)
		}
	}
	if best != nil {
		return Decision{Action: ActionReuse, SessionID: best.SessionID, EndSessions: others}
	}

	var ended *store.Session
	for _, s := range in.Candidates {
		if s.TeacherID != in.TeacherID || s.IsActive || s.EndTime == nil {
			continue
		}
		if in.Now.Sub(*s.EndTime) > reactivationWindow {
			continue
		}
		if ended == nil || s.EndTime.After(*ended.EndTime) {
			c := s
			ended = &c
		}
	}
	if ended != nil {
		return Decision{Action: ActionReactivate, SessionID: ended.SessionID}
	}
	return Decision{Action: ActionCreate}
}

func resolveByLanguage(in resolveInput) Decision {
	var (
		best   *store.Session
		others []string
	)
	for _, s := range in.Candidates {
		if !s.IsActive || s.TeacherLanguage != in.Language {
			continue
		}
		if in.Now.Sub(s.LastActivityAt) > in.ReconnectionGrace {
			// Too old to reconnect: superseded by the new session.
			others = append(others, s.SessionID)
			continue
		}
		if best == nil || s.LastActivityAt.After(best.LastActivityAt) {
			if best != nil {
				others = append(others, best.SessionID)
			}
			c := s
			best = &c
		} else {
			others = append(others, s.SessionID)
		}
	}
	if best == nil {
		return Decision{Action: ActionCreate, EndSessions: others}
	}
	return Decision{Action: ActionReuse, SessionID: best.SessionID, EndSessions: others}
}

// classify derives the quality of a session being ended. transcriptCount
// covers sessions where transcripts were stored but no translation was ever
// delivered.
func classify(s store.Session, transcriptCount int, endTime time.Time) store.SessionQuality {
	if endTime.Sub(s.StartTime) < minSessionDuration {
		return store.QualityTooShort
	}
	if s.StudentsCount == 0 {
		return store.QualityNoStudents
	}
	if s.TotalTranslations == 0 && transcriptCount == 0 {
		return store.QualityNoActivity
	}
	return store.QualityReal
}
