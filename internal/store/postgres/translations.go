package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/babelclass/babelclass/internal/store"
)

// AddTranslation implements [store.TranslationStore].
func (s *Store) AddTranslation(ctx context.Context, t store.Translation) error {
	const q = `
		INSERT INTO translations
		    (session_id, source_language, target_language,
		     original_text, translated_text, latency_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	err := exec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, q,
			t.SessionID,
			t.SourceLanguage,
			t.TargetLanguage,
			t.OriginalText,
			t.TranslatedText,
			t.LatencyMs,
			t.Timestamp,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("translation store: add: %w", err)
	}
	return nil
}

// ListTranslationsByLanguage implements [store.TranslationStore].
func (s *Store) ListTranslationsByLanguage(ctx context.Context, targetLanguage string, limit int) ([]store.Translation, error) {
	const q = `
		SELECT id, session_id, source_language, target_language,
		       original_text, translated_text, latency_ms, timestamp
		FROM   translations
		WHERE  target_language = $1
		ORDER  BY timestamp DESC
		LIMIT  $2`

	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, q, targetLanguage, limit)
	if err != nil {
		return nil, fmt.Errorf("translation store: list by language: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Translation, error) {
		var t store.Translation
		err := row.Scan(
			&t.ID,
			&t.SessionID,
			&t.SourceLanguage,
			&t.TargetLanguage,
			&t.OriginalText,
			&t.TranslatedText,
			&t.LatencyMs,
			&t.Timestamp,
		)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("translation store: scan rows: %w", err)
	}
	if out == nil {
		out = []store.Translation{}
	}
	return out, nil
}
