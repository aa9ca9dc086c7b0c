package rest

import (
	"context"
	"encoding/json"

	"github.com/tripwire/binlog/internal/sink/sqlite"
)

// Store is the subset of sqlite.Store used by the REST handlers. Defining an
// interface lets handlers be tested against a fake ledger without a real
// database file.
type Store interface {
	CreateJob(ctx context.Context, id, path string, options json.RawMessage) error
	GetJob(ctx context.Context, id string) (sqlite.Job, error)
	UpdateStatus(ctx context.Context, id string, status sqlite.JobStatus, stats json.RawMessage, jobErr string) error
	AppendRecords(ctx context.Context, jobID string, startSeq int, records []json.RawMessage) error
	ListRecords(ctx context.Context, jobID string, offset, limit int) ([]json.RawMessage, error)
}

// RecordSink is the subset of postgres.Sink used to persist and retrieve
// decoded records in bulk. When configured, it replaces the SQLite fallback
// records table as the source of truth for a job's decoded output.
type RecordSink interface {
	WriteRecords(ctx context.Context, jobID string, startSeq int, records []json.RawMessage) error
	ReadRecords(ctx context.Context, jobID string, offset, limit int) ([]json.RawMessage, error)
}
