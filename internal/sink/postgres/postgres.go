// Package postgres bulk-loads decoded records into a PostgreSQL
// decoded_records table, buffering inserts in memory and flushing either
// when the buffer reaches a size threshold or on a ticker, whichever comes
// first.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of buffered records before an
	// automatic flush is triggered.
	DefaultBatchSize = 500

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending records even when the batch has not reached DefaultBatchSize.
	DefaultFlushInterval = 2 * time.Second
)

// Record is one decoded record destined for the decoded_records table.
type Record struct {
	JobID         string
	Seq           int64
	MavPacketType string
	FieldsJSON    []byte // the record's decoder.Record.MarshalJSON() output
	DecodedAt     time.Time
}

// Sink is a pgxpool-backed batch writer for decoded records. It is safe for
// concurrent use.
type Sink struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []Record
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New opens a pgxpool connection to dsn, pings the database, applies the
// schema, and starts the background flush goroutine.
//
// batchSize <= 0 is replaced with DefaultBatchSize.
// flushInterval <= 0 is replaced with DefaultFlushInterval.
func New(ctx context.Context, dsn string, batchSize int, flushInterval time.Duration) (*Sink, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sink/postgres: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink/postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink/postgres: apply schema: %w", err)
	}

	s := &Sink{
		pool:          pool,
		batch:         make([]Record, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS decoded_records (
    job_id          TEXT        NOT NULL,
    seq             BIGINT      NOT NULL,
    mavpackettype   TEXT        NOT NULL,
    fields          JSONB       NOT NULL,
    decoded_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (job_id, seq)
)`

// Close stops the background flush goroutine, flushes any remaining
// buffered records, and closes the connection pool. Safe to call more than
// once.
func (s *Sink) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
		<-s.doneCh
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

func (s *Sink) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// BatchInsertRecords enqueues rec for deferred batch insertion, flushing
// synchronously if the buffer has reached batchSize.
func (s *Sink) BatchInsertRecords(ctx context.Context, rec Record) error {
	s.mu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// WriteRecords stores a batch of already-JSON-encoded decoded records (as
// produced by decoder.Record's MarshalJSON, which embeds "mavpackettype")
// under jobID, starting at sequence number startSeq, via BatchInsertRecords,
// then flushes synchronously so a subsequent ReadRecords observes them
// immediately.
func (s *Sink) WriteRecords(ctx context.Context, jobID string, startSeq int, records []json.RawMessage) error {
	now := time.Now().UTC()
	for i, rec := range records {
		var head struct {
			MavPacketType string `json:"mavpackettype"`
		}
		if err := json.Unmarshal(rec, &head); err != nil {
			return fmt.Errorf("sink/postgres: unmarshal record %d: %w", startSeq+i, err)
		}
		if err := s.BatchInsertRecords(ctx, Record{
			JobID:         jobID,
			Seq:           int64(startSeq + i),
			MavPacketType: head.MavPacketType,
			FieldsJSON:    []byte(rec),
			DecodedAt:     now,
		}); err != nil {
			return fmt.Errorf("sink/postgres: write record %d: %w", startSeq+i, err)
		}
	}
	return s.Flush(ctx)
}

// ReadRecords returns up to limit decoded records for jobID starting at seq
// offset, ordered by sequence number.
func (s *Sink) ReadRecords(ctx context.Context, jobID string, offset, limit int) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fields FROM decoded_records WHERE job_id = $1 ORDER BY seq OFFSET $2 LIMIT $3`,
		jobID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("sink/postgres: read records for job %q: %w", jobID, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sink/postgres: scan record: %w", err)
		}
		out = append(out, json.RawMessage(raw))
	}
	return out, rows.Err()
}

// Flush drains the current buffer and sends all rows to PostgreSQL in a
// single pgx.Batch round-trip. Conflicting primary keys are ignored so a
// retried chunk does not duplicate rows.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]Record, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO decoded_records (job_id, seq, mavpackettype, fields, decoded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range toInsert {
		r := &toInsert[i]
		b.Queue(query, r.JobID, r.Seq, r.MavPacketType, r.FieldsJSON, r.DecodedAt)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for i := 0; i < len(toInsert); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("sink/postgres: batch insert row %d: %w", i, err)
		}
	}
	return nil
}
