// Package store persists attempt history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"modelrelay/internal/domain"
	"modelrelay/internal/usecase/orchestrator"
)

// DefaultRecentLimit caps Recent when the caller passes no limit.
const DefaultRecentLimit = 50

// AttemptStore implements orchestrator.AttemptRecorder using SQLite.
type AttemptStore struct {
	db *sql.DB
}

// NewAttemptStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration. ":memory:" opens a private in-memory database.
func NewAttemptStore(dbPath string) (*AttemptStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open attempt db: %w", err)
	}
	// One writer; attempts are recorded from many request goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate attempt db: %w", err)
	}
	return &AttemptStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id  TEXT NOT NULL,
			adapter     TEXT NOT NULL,
			model       TEXT NOT NULL DEFAULT '',
			committed   INTEGER NOT NULL DEFAULT 0,
			outcome     TEXT NOT NULL,
			kind        TEXT NOT NULL DEFAULT '',
			message     TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			duration_ns INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_request ON attempts(request_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *AttemptStore) Close() error {
	return s.db.Close()
}

// RecordAttempt implements orchestrator.AttemptRecorder.
func (s *AttemptStore) RecordAttempt(ctx context.Context, a orchestrator.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (request_id, adapter, model, committed, outcome, kind, message, started_at, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RequestID, a.Adapter, a.Model, a.Committed, string(a.Outcome), string(a.Kind), a.Message,
		a.StartedAt.UTC().Format(time.RFC3339Nano), int64(a.Duration),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Recent returns the latest attempts, newest first.
func (s *AttemptStore) Recent(ctx context.Context, limit int) ([]orchestrator.Attempt, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return s.query(ctx, `SELECT request_id, adapter, model, committed, outcome, kind, message, started_at, duration_ns
		FROM attempts ORDER BY seq DESC LIMIT ?`, limit)
}

// ByRequest returns the attempts of one request in the order they were made.
func (s *AttemptStore) ByRequest(ctx context.Context, requestID string) ([]orchestrator.Attempt, error) {
	return s.query(ctx, `SELECT request_id, adapter, model, committed, outcome, kind, message, started_at, duration_ns
		FROM attempts WHERE request_id = ? ORDER BY seq`, requestID)
}

func (s *AttemptStore) query(ctx context.Context, q string, args ...any) ([]orchestrator.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []orchestrator.Attempt{}
	for rows.Next() {
		var (
			a                      orchestrator.Attempt
			outcome, kind, started string
			duration               int64
		)
		if err := rows.Scan(&a.RequestID, &a.Adapter, &a.Model, &a.Committed, &outcome, &kind, &a.Message, &started, &duration); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Outcome = orchestrator.Outcome(outcome)
		a.Kind = domain.ErrorKind(kind)
		a.Duration = time.Duration(duration)
		a.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

var _ orchestrator.AttemptRecorder = (*AttemptStore)(nil)
