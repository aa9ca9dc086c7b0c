// Package sqlite provides a WAL-mode SQLite-backed job ledger: one row per
// submitted decode job, plus a fallback records table used when no
// PostgreSQL DSN is configured.
//
// The database is opened with PRAGMA journal_mode = WAL. The pool is limited
// to one open connection, so reads from HTTP handlers and writes from job
// runners are serialized over that connection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// JobStatus is the lifecycle state of a submitted decode job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one row of the job ledger.
type Job struct {
	ID        string
	Path      string
	OptionsJS json.RawMessage
	Status    JobStatus
	StatsJS   json.RawMessage
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a WAL-mode SQLite-backed job ledger and fallback record store.
// It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT    PRIMARY KEY,
    path        TEXT    NOT NULL,
    options     TEXT    NOT NULL DEFAULT '{}',
    status      TEXT    NOT NULL,
    stats       TEXT    NOT NULL DEFAULT '{}',
    error       TEXT    NOT NULL DEFAULT '',
    created_at  TEXT    NOT NULL,
    updated_at  TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
    job_id      TEXT    NOT NULL,
    seq         INTEGER NOT NULL,
    record      TEXT    NOT NULL,
    PRIMARY KEY (job_id, seq)
);
`

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink/sqlite: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink/sqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink/sqlite: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink/sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateJob inserts a new queued job row.
func (s *Store) CreateJob(ctx context.Context, id, path string, options json.RawMessage) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, path, options, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, path, string(options), JobQueued, now, now)
	if err != nil {
		return fmt.Errorf("sink/sqlite: create job %q: %w", id, err)
	}
	return nil
}

// UpdateStatus transitions a job's status, and optionally its stats/error.
func (s *Store) UpdateStatus(ctx context.Context, id string, status JobStatus, stats json.RawMessage, jobErr string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stats = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, string(stats), jobErr, now, id)
	if err != nil {
		return fmt.Errorf("sink/sqlite: update job %q: %w", id, err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	var j Job
	var created, updated string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, options, status, stats, error, created_at, updated_at FROM jobs WHERE id = ?`, id)
	if err := row.Scan(&j.ID, &j.Path, &j.OptionsJS, &j.Status, &j.StatsJS, &j.Error, &created, &updated); err != nil {
		return Job{}, fmt.Errorf("sink/sqlite: get job %q: %w", id, err)
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return j, nil
}

// AppendRecords persists a batch of already-JSON-encoded decoded records
// under jobID, used as the fallback sink when no PostgreSQL DSN is
// configured. startSeq is the sequence number of records[0].
func (s *Store) AppendRecords(ctx context.Context, jobID string, startSeq int, records []json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sink/sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (job_id, seq, record) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sink/sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, jobID, startSeq+i, string(rec)); err != nil {
			return fmt.Errorf("sink/sqlite: insert record %d: %w", startSeq+i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sink/sqlite: commit: %w", err)
	}
	return nil
}

// ListRecords returns up to limit records for jobID starting at seq offset.
func (s *Store) ListRecords(ctx context.Context, jobID string, offset, limit int) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM records WHERE job_id = ? ORDER BY seq LIMIT ? OFFSET ?`, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sink/sqlite: list records for job %q: %w", jobID, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("sink/sqlite: scan record: %w", err)
		}
		out = append(out, json.RawMessage(rec))
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
