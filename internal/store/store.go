// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store provides SQLite persistence for channels, episodes and the
// download queue. All sortable instants are stored as UTC integer
// microseconds so ordering happens server-side on indexed columns.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/ManuGH/podmirror/internal/errkind"
	"github.com/ManuGH/podmirror/internal/ident"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errkind.New(errkind.NotFound, "store", errors.New("row not found"))
	// ErrConflict is returned when a uniqueness constraint or a
	// compare-and-set precondition fails.
	ErrConflict = errkind.New(errkind.Conflict, "store", errors.New("constraint violation"))
)

// Store provides SQLite persistence for the ingestion engine.
type Store struct {
	db    *sql.DB
	clock ident.Clock
}

// Open initializes the store at dbPath and runs migrations.
// WAL mode + busy_timeout avoid "database locked" errors under the
// concurrent worker load.
func Open(dbPath string) (*Store, error) {
	return OpenWithClock(dbPath, ident.System())
}

// OpenWithClock is Open with an injectable clock for tests.
func OpenWithClock(dbPath string, clock ident.Clock) (*Store, error) {
	// modernc.org/sqlite takes pragmas as _pragma=name(value) pairs;
	// mattn-style _busy_timeout params are silently ignored.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The queue claim CAS relies on serialized writers; a single
	// connection sidesteps SQLITE_BUSY on overlapping transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, clock: clock}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the store's notion of current time, truncated to the
// microsecond resolution the schema can represent.
func (s *Store) Now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		keep_count INTEGER NOT NULL CHECK(keep_count >= 1 AND keep_count <= 1000),
		format TEXT NOT NULL CHECK(format IN ('audio', 'video', 'both')),
		enabled INTEGER NOT NULL DEFAULT 1,
		last_refresh_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER,
		published_at INTEGER,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK(status IN ('pending', 'downloading', 'processing', 'completed', 'failed', 'deleted')),
		downloaded_at INTEGER,
		audio_path TEXT NOT NULL DEFAULT '',
		video_path TEXT NOT NULL DEFAULT '',
		audio_size INTEGER,
		video_size INTEGER,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS queue_items (
		id TEXT PRIMARY KEY,
		episode_id TEXT NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
		priority INTEGER NOT NULL DEFAULT 5 CHECK(priority >= 1 AND priority <= 10),
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK(status IN ('pending', 'in_progress', 'completed', 'retrying', 'failed', 'cancelled')),
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT NOT NULL DEFAULT '',
		next_retry_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_channel_published
		ON episodes(channel_id, published_at DESC);
	CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status);
	CREATE INDEX IF NOT EXISTS idx_queue_due
		ON queue_items(status, priority, next_retry_at, created_at);

	-- At most one open queue item per episode at any time.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_open_episode
		ON queue_items(episode_id)
		WHERE status IN ('pending', 'in_progress', 'retrying');
	`

	_, err := s.db.Exec(schema)
	return err
}

// classify maps driver errors onto the store's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "constraint") {
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	}
	return err
}

// usec converts an instant to the stored representation.
func usec(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

// fromUsec converts a stored instant back to time.Time.
func fromUsec(n int64) time.Time {
	return time.UnixMicro(n).UTC()
}

func nullUsec(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: usec(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUsec(n.Int64)
	return &t
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
