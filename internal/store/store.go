// Package store is the embedded transactional storage layer: a thin
// wrapper over database/sql backed by modernc.org/sqlite (pure Go, no
// cgo), opened in WAL mode with foreign keys enforced.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store wraps the database connection and exposes transaction helpers.
type Store struct {
	conn *sql.DB
	path string
	log  zerolog.Logger
}

// Open creates (or attaches to) the SQLite file at dbPath and applies any
// pending migrations.
func Open(dbPath string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// A single writer at a time is the SQLite reality anyway; keep the
	// pool small so WAL readers don't starve the one writer.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)

	s := &Store{conn: conn, path: dbPath, log: log.With().Str("component", "store").Logger()}

	if err := s.Migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the on-disk location of the database file.
func (s *Store) Path() string { return s.path }

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// Conn returns the underlying *sql.DB, for callers (repositories) that need
// direct Query/Exec access outside of a transaction.
func (s *Store) Conn() *sql.DB { return s.conn }

// Exec runs a statement outside of any transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

// Query runs a query outside of any transaction.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query outside of any transaction.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

// WithTx begins a transaction, invokes fn, and commits on a nil error or
// rolls back otherwise. Multi-entity writes (order placement, trade
// recording, position/lot updates) must always go through this so that a
// failing write is never partially observable.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("rollback failed after tx error")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
