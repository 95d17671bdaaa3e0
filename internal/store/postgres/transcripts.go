package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/babelclass/babelclass/internal/store"
)

const defaultListLimit = 100

// AddTranscript implements [store.TranscriptStore].
func (s *Store) AddTranscript(ctx context.Context, t store.Transcript) error {
	const q = `
		INSERT INTO transcripts (session_id, language, text, timestamp)
		VALUES ($1, $2, $3, $4)`

	err := exec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, q, t.SessionID, t.Language, t.Text, t.Timestamp)
		return err
	})
	if err != nil {
		return fmt.Errorf("transcript store: add: %w", err)
	}
	return nil
}

// ListTranscripts implements [store.TranscriptStore].
func (s *Store) ListTranscripts(ctx context.Context, sessionID string, limit int) ([]store.Transcript, error) {
	const q = `
		SELECT id, session_id, language, text, timestamp
		FROM   transcripts
		WHERE  session_id = $1
		ORDER  BY timestamp DESC
		LIMIT  $2`

	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Transcript, error) {
		var t store.Transcript
		err := row.Scan(&t.ID, &t.SessionID, &t.Language, &t.Text, &t.Timestamp)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if out == nil {
		out = []store.Transcript{}
	}
	return out, nil
}
