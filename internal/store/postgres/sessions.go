package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/babelclass/babelclass/internal/store"
)

const sessionColumns = `
	session_id, teacher_id, class_code, teacher_language, student_language,
	start_time, end_time, last_activity_at, students_count,
	total_translations, is_active, quality, quality_reason`

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess store.Session) error {
	const q = `
		INSERT INTO sessions
		    (session_id, teacher_id, class_code, teacher_language,
		     student_language, start_time, last_activity_at, is_active, quality)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, 'unknown')`

	err := exec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, q,
			sess.SessionID,
			sess.TeacherID,
			sess.ClassCode,
			sess.TeacherLanguage,
			sess.StudentLanguage,
			sess.StartTime,
			sess.LastActivityAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("session store: create: %w", err)
	}
	return nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1`
	sess, err := s.querySession(ctx, q, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("session store: get: %w", err)
	}
	return sess, nil
}

// FindActiveSessionByTeacher implements [store.SessionStore].
func (s *Store) FindActiveSessionByTeacher(ctx context.Context, teacherID string, endedAfter time.Time) (store.Session, error) {
	q := `
		SELECT ` + sessionColumns + `
		FROM   sessions
		WHERE  teacher_id = $1
		  AND  (is_active OR end_time >= $2)
		ORDER  BY start_time DESC
		LIMIT  1`

	sess, err := s.querySession(ctx, q, teacherID, endedAfter)
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("session store: find by teacher: %w", err)
	}
	return sess, nil
}

// ListActiveSessions implements [store.SessionStore].
func (s *Store) ListActiveSessions(ctx context.Context) ([]store.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE is_active ORDER BY start_time`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("session store: list active: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return sessions, nil
}

// CountActiveSessions implements [store.SessionStore].
func (s *Store) CountActiveSessions(ctx context.Context) (int, error) {
	const q = `SELECT count(*) FROM sessions WHERE is_active`

	var n int
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("session store: count active: %w", err)
	}
	return n, nil
}

// TouchSession implements [store.SessionStore].
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	const q = `
		UPDATE sessions
		SET    last_activity_at = $2
		WHERE  session_id = $1
		  AND  last_activity_at < $2`

	err := exec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, q, sessionID, at)
		return err
	})
	if err != nil {
		return fmt.Errorf("session store: touch: %w", err)
	}
	return nil
}

// ReanchorSessionStart implements [store.SessionStore].
func (s *Store) ReanchorSessionStart(ctx context.Context, sessionID string, at time.Time) error {
	const q = `
		UPDATE sessions
		SET    start_time = $2
		WHERE  session_id = $1
		  AND  is_active
		  AND  students_count = 0`

	err := exec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, q, sessionID, at)
		return err
	})
	if err != nil {
		return fmt.Errorf("session store: reanchor start: %w", err)
	}
	return nil
}

// AdjustStudentsCount implements [store.SessionStore].
func (s *Store) AdjustStudentsCount(ctx context.Context, sessionID string, delta int) (int, error) {
	const q = `
		UPDATE sessions
		SET    students_count = GREATEST(students_count + $2, 0)
		WHERE  session_id = $1
		RETURNING students_count`

	var count int
	err := exec(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, q, sessionID, delta).Scan(&count)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("session store: adjust students: %w", err)
	}
	return count, nil
}

// AddTranslationsCount implements [store.SessionStore].
func (s *Store) AddTranslationsCount(ctx context.Context, sessionID string, n int) error {
	const q = `
		UPDATE sessions
		SET    total_translations = total_translations + $2
		WHERE  session_id = $1`

	err := exec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, q, sessionID, n)
		return err
	})
	if err != nil {
		return fmt.Errorf("session store: add translations count: %w", err)
	}
	return nil
}

// SetStudentLanguage implements [store.SessionStore].
func (s *Store) SetStudentLanguage(ctx context.Context, sessionID, language string) error {
	const q = `
		UPDATE sessions
		SET    student_language = $2
		WHERE  session_id = $1`

	err := exec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, q, sessionID, language)
		return err
	})
	if err != nil {
		return fmt.Errorf("session store: set student language: %w", err)
	}
	return nil
}

// EndSession implements [store.SessionStore].
func (s *Store) EndSession(ctx context.Context, sessionID string, endTime time.Time, quality store.SessionQuality, reason string) error {
	const q = `
		UPDATE sessions
		SET    is_active = false,
		       end_time = $2,
		       quality = $3,
		       quality_reason = $4
		WHERE  session_id = $1
		  AND  is_active`

	err := exec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, q, sessionID, endTime, string(quality), reason)
		return err
	})
	if err != nil {
		return fmt.Errorf("session store: end: %w", err)
	}
	return nil
}

// ReactivateSession implements [store.SessionStore].
func (s *Store) ReactivateSession(ctx context.Context, sessionID string, at time.Time) error {
	const q = `
		UPDATE sessions
		SET    is_active = true,
		       end_time = NULL,
		       quality = 'unknown',
		       quality_reason = '',
		       last_activity_at = $2
		WHERE  session_id = $1`

	err := exec(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, q, sessionID, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("session store: reactivate: %w", err)
	}
	return nil
}

// querySession runs a single-row session query, translating pgx.ErrNoRows
// into store.ErrNotFound.
func (s *Store) querySession(ctx context.Context, q string, args ...any) (store.Session, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return store.Session{}, err
	}
	sess, err := pgx.CollectOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	return sess, err
}

// scanSession scans one sessions row in sessionColumns order.
func scanSession(row pgx.CollectableRow) (store.Session, error) {
	var (
		sess    store.Session
		quality string
	)
	err := row.Scan(
		&sess.SessionID,
		&sess.TeacherID,
		&sess.ClassCode,
		&sess.TeacherLanguage,
		&sess.StudentLanguage,
		&sess.StartTime,
		&sess.EndTime,
		&sess.LastActivityAt,
		&sess.StudentsCount,
		&sess.TotalTranslations,
		&sess.IsActive,
		&quality,
		&sess.QualityReason,
	)
	sess.Quality = store.SessionQuality(quality)
	return sess, err
}
