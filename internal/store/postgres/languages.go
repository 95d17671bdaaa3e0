package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/babelclass/babelclass/internal/store"
)

// ListLanguages implements [store.LanguageStore].
func (s *Store) ListLanguages(ctx context.Context) ([]store.Language, error) {
	return s.listLanguages(ctx, `
		SELECT id, code, name, is_active
		FROM   languages
		ORDER  BY code`)
}

// ListActiveLanguages implements [store.LanguageStore].
func (s *Store) ListActiveLanguages(ctx context.Context) ([]store.Language, error) {
	return s.listLanguages(ctx, `
		SELECT id, code, name, is_active
		FROM   languages
		WHERE  is_active
		ORDER  BY code`)
}

func (s *Store) listLanguages(ctx context.Context, q string) ([]store.Language, error) {
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("language store: list: %w", err)
	}
	langs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Language, error) {
		var l store.Language
		err := row.Scan(&l.ID, &l.Code, &l.Name, &l.IsActive)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("language store: scan rows: %w", err)
	}
	if langs == nil {
		langs = []store.Language{}
	}
	return langs, nil
}

// SetLanguageActive implements [store.LanguageStore].
func (s *Store) SetLanguageActive(ctx context.Context, code string, active bool) error {
	const q = `
		UPDATE languages
		SET    is_active = $2
		WHERE  code = $1`

	tag, err := s.pool.Exec(ctx, q, code, active)
	if err != nil {
		return fmt.Errorf("language store: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
