// Package store persists sources, articles, jobs and job logs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

// Schema is the SQLite schema for newsdesk.
const Schema = `
CREATE TABLE IF NOT EXISTS sources (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE COLLATE NOCASE,
    domain      TEXT NOT NULL,
    feed_url    TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id                      TEXT PRIMARY KEY,
    sources                 TEXT NOT NULL,
    articles_per_source     INTEGER NOT NULL,
    status                  TEXT NOT NULL,
    triggered_at            TEXT NOT NULL,
    completed_at            TEXT,
    total_articles_scraped  INTEGER NOT NULL DEFAULT 0,
    total_errors            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS articles (
    id                 TEXT PRIMARY KEY,
    source_id          TEXT NOT NULL REFERENCES sources(id),
    job_id             TEXT REFERENCES jobs(id),
    source_url         TEXT NOT NULL UNIQUE,
    title              TEXT NOT NULL,
    content            TEXT NOT NULL,
    content_html       TEXT,
    author             TEXT,
    publication_date   TEXT,
    language           TEXT,
    content_hash       TEXT NOT NULL,
    processing_status  TEXT NOT NULL,
    created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_logs (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id           TEXT NOT NULL REFERENCES jobs(id),
    source_name      TEXT,
    timestamp        TEXT NOT NULL,
    level            TEXT NOT NULL,
    message          TEXT NOT NULL,
    additional_data  TEXT
);

CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source_id);
CREATE INDEX IF NOT EXISTS idx_articles_job ON articles(job_id);
CREATE INDEX IF NOT EXISTS idx_jobs_triggered ON jobs(triggered_at);
CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, id);
`

// ErrDuplicate is returned when an article URL is already stored.
var ErrDuplicate = errors.New("article already stored")

// PersistenceError wraps a failed write or read against the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Store provides newsdesk data persistence.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
}

// New wraps an open database. Call Migrate before first use.
func New(db *storage.DB) *Store {
	return &Store{db: db, logger: slog.Default()}
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("store opened", "driver", db.DriverType())
	return s, nil
}

// Migrate creates tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, Schema)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Timestamps are stored as RFC 3339 text in UTC so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
