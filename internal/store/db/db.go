// Package db implements store.JobStore on Postgres (pgx) or SQLite
// (modernc), selected by DSN. Queries use "?" placeholders and are
// rebound per dialect by sqlx; schema migrations are embedded and
// applied with golang-migrate.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// DefaultBodyLimit caps captured response bodies when no limit is
// configured.
const DefaultBodyLimit = 10 * 1024

// Store is the sqlx-backed repository. It implements store.JobStore and
// store.UserStore.
type Store struct {
	db        *sqlx.DB
	dialect   string // "postgres" or "sqlite"
	bodyLimit int
	now       func() time.Time // overridable in tests
}

// Option tweaks Store construction.
type Option func(*Store)

// WithBodyLimit overrides the response body truncation size.
func WithBodyLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

// Open connects to the database named by dsn and applies pending
// migrations. postgres:// and postgresql:// DSNs use pgx; anything else
// is treated as a SQLite path (":memory:" included).
func Open(dsn string, opts ...Option) (*Store, error) {
	dialect, driver := "sqlite", "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialect, driver = "postgres", "pgx"
	}

	conn, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if dialect == "sqlite" {
		// modernc serializes writes per connection; a single connection
		// avoids SQLITE_BUSY between the dispatcher and maintenance.
		conn.SetMaxOpenConns(1)
	}

	s := &Store{db: conn, dialect: dialect, bodyLimit: DefaultBodyLimit, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+s.dialect)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var drv database.Driver
	switch s.dialect {
	case "postgres":
		drv, err = migratepgx.WithInstance(s.db.DB, &migratepgx.Config{})
	default:
		drv, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.dialect, drv)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	slog.Info("database ready", "dialect", s.dialect)
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies database reachability; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// rebind converts "?" placeholders to the dialect's form.
func (s *Store) rebind(query string) string { return s.db.Rebind(query) }

// isConflict reports a uniqueness violation in either dialect.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isConcurrency reports a retryable serialization or lock conflict.
func isConcurrency(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// inTx runs fn inside a transaction, translating conflicts to
// store.ErrConcurrency so the caller can retry.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if isConcurrency(err) {
			return fmt.Errorf("%w: %v", store.ErrConcurrency, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if isConcurrency(err) {
			return fmt.Errorf("%w: %v", store.ErrConcurrency, err)
		}
		return err
	}
	return nil
}
