package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

const userColumns = `id, name, email, password_hash, account_status, created_at, updated_at`

// CreateUser registers an account. Email uniqueness maps to
// store.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (*store.User, error) {
	now := s.utcNow()
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO users (name, email, password_hash, account_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		name, email, passwordHash, store.AccountActive, now, now,
	).Scan(&id)
	if err != nil {
		if isConflict(err) {
			return nil, fmt.Errorf("%w: email already registered", store.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.AccountStatus, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
