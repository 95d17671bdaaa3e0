package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/babelclass/babelclass/internal/store"
)

// CreateUser implements [store.UserStore].
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (store.User, error) {
	const q = `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id`

	u := store.User{Username: username, PasswordHash: passwordHash}
	if err := s.pool.QueryRow(ctx, q, username, passwordHash).Scan(&u.ID); err != nil {
		return store.User{}, fmt.Errorf("user store: create: %w", err)
	}
	return u, nil
}

// GetUserByUsername implements [store.UserStore].
func (s *Store) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	const q = `
		SELECT id, username, password_hash
		FROM   users
		WHERE  username = $1`

	var u store.User
	err := s.pool.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("user store: get by username: %w", err)
	}
	return u, nil
}
