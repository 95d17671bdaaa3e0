package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/babelclass/babelclass/internal/store"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id            BIGSERIAL    PRIMARY KEY,
    username      TEXT         NOT NULL UNIQUE,
    password_hash TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlLanguages = `
CREATE TABLE IF NOT EXISTS languages (
    id        BIGSERIAL  PRIMARY KEY,
    code      TEXT       NOT NULL UNIQUE,
    name      TEXT       NOT NULL,
    is_active BOOLEAN    NOT NULL DEFAULT true
);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id         TEXT         PRIMARY KEY,
    teacher_id         TEXT         NOT NULL DEFAULT '',
    class_code         TEXT         NOT NULL DEFAULT '',
    teacher_language   TEXT         NOT NULL DEFAULT '',
    student_language   TEXT         NOT NULL DEFAULT '',
    start_time         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    end_time           TIMESTAMPTZ,
    last_activity_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    students_count     INT          NOT NULL DEFAULT 0 CHECK (students_count >= 0),
    total_translations INT          NOT NULL DEFAULT 0 CHECK (total_translations >= 0),
    is_active          BOOLEAN      NOT NULL DEFAULT true,
    quality            TEXT         NOT NULL DEFAULT 'unknown',
    quality_reason     TEXT         NOT NULL DEFAULT '',
    CHECK ((end_time IS NULL) = is_active),
    CHECK (quality = 'unknown' OR NOT is_active)
);

CREATE INDEX IF NOT EXISTS idx_sessions_teacher_id
    ON sessions (teacher_id);

CREATE INDEX IF NOT EXISTS idx_sessions_is_active
    ON sessions (is_active);

CREATE INDEX IF NOT EXISTS idx_sessions_last_activity
    ON sessions (last_activity_at);
`

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL REFERENCES sessions (session_id) ON DELETE CASCADE,
    language   TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_id
    ON transcripts (session_id, timestamp);
`

const ddlTranslations = `
CREATE TABLE IF NOT EXISTS translations (
    id              BIGSERIAL    PRIMARY KEY,
    session_id      TEXT         NOT NULL REFERENCES sessions (session_id) ON DELETE CASCADE,
    source_language TEXT         NOT NULL,
    target_language TEXT         NOT NULL,
    original_text   TEXT         NOT NULL,
    translated_text TEXT         NOT NULL,
    latency_ms      BIGINT       NOT NULL DEFAULT 0,
    timestamp       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_translations_session_id
    ON translations (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_translations_target_language
    ON translations (target_language, timestamp);
`

// Migrate creates or ensures all required tables and indexes exist, then
// seeds the default language list. It is idempotent and safe to call on
// every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlUsers,
		ddlLanguages,
		ddlSessions,
		ddlTranscripts,
		ddlTranslations,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return seedLanguages(ctx, pool)
}

// seedLanguages inserts the bootstrap language list, skipping codes that
// already exist so operator edits (including deactivations) survive restarts.
func seedLanguages(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
		INSERT INTO languages (code, name, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO NOTHING`

	for _, l := range store.BootstrapLanguages {
		if _, err := pool.Exec(ctx, q, l.Code, l.Name, l.IsActive); err != nil {
			return fmt.Errorf("postgres migrate: seed language %s: %w", l.Code, err)
		}
	}
	return nil
}
