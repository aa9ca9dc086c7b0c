package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tripwire/binlog/internal/audit"
	"github.com/tripwire/binlog/internal/executor"
	"github.com/tripwire/binlog/internal/extractor"
	"github.com/tripwire/binlog/internal/sink/sqlite"
)

// Notifier receives per-job progress events as the decode runs. The REST
// package depends only on this narrow interface so it can be wired to the
// WebSocket broadcaster, or to a no-op in tests.
type Notifier interface {
	Publish(jobID string, recordsDecoded int, stats any, jobErr string, done bool)
}

// noopNotifier discards every event; used when no WebSocket broadcaster is
// configured.
type noopNotifier struct{}

func (noopNotifier) Publish(string, int, any, string, bool) {}

// recordBatchSize is the number of decoded records buffered before a batch
// is flushed to the job's record store and a progress event is published.
const recordBatchSize = 200

// Defaults carries server-wide job defaults loaded from config, decoupling
// Runner from the concrete config package the same way Store and Notifier
// decouple it from sqlite and websocket.
type Defaults struct {
	Mode         string
	Workers      int
	WorkerBinary string
}

// Runner executes submitted decode jobs in background goroutines, persisting
// progress to the job ledger, appending decoded records, recording a final
// audit entry, and notifying any connected WebSocket clients.
type Runner struct {
	store      Store
	recordSink RecordSink
	auditLog   *audit.Logger
	notifier   Notifier
	defaults   Defaults
	logger     *slog.Logger
}

// NewRunner creates a Runner. auditLog, recordSink, and notifier may be nil;
// a nil notifier is replaced with a no-op. When recordSink is non-nil it
// replaces store as the destination (and source) for decoded records.
func NewRunner(store Store, recordSink RecordSink, auditLog *audit.Logger, notifier Notifier, defaults Defaults, logger *slog.Logger) *Runner {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Runner{store: store, recordSink: recordSink, auditLog: auditLog, notifier: notifier, defaults: defaults, logger: logger}
}

// jobSpec is the decode configuration submitted with a job.
type jobSpec struct {
	Path        string   `json:"path"`
	Round       bool     `json:"round"`
	Mode        string   `json:"mode"`
	Workers     int      `json:"workers"`
	NameFilter  []string `json:"name_filter,omitempty"`
	IncludeFMT  bool     `json:"include_fmt"`
	IncludeData *bool    `json:"include_data,omitempty"` // nil means "include data" (the default)
}

// toExtractorOptions resolves spec's fields against rn.defaults, falling
// back to the server's configured default mode, worker count, and worker
// binary whenever the submitted spec leaves them unset.
func (rn *Runner) toExtractorOptions(spec jobSpec, logger *slog.Logger) []extractor.Option {
	modeStr := spec.Mode
	if modeStr == "" {
		modeStr = rn.defaults.Mode
	}
	mode := executor.ModeSequential
	switch modeStr {
	case "threaded":
		mode = executor.ModeThreaded
	case "parallel":
		mode = executor.ModeProcess
	}

	workers := spec.Workers
	if workers <= 0 {
		workers = rn.defaults.Workers
	}

	includeData := true
	if spec.IncludeData != nil {
		includeData = *spec.IncludeData
	}

	opts := []extractor.Option{
		extractor.WithRound(spec.Round),
		extractor.WithMode(mode),
		extractor.WithIncludeFMT(spec.IncludeFMT),
		extractor.WithIncludeData(includeData),
		extractor.WithLogger(logger),
	}
	if workers > 0 {
		opts = append(opts, extractor.WithWorkers(workers))
	}
	if len(spec.NameFilter) > 0 {
		opts = append(opts, extractor.WithNameFilter(spec.NameFilter...))
	}
	if mode == executor.ModeProcess && rn.defaults.WorkerBinary != "" {
		opts = append(opts, extractor.WithWorkerBinary(rn.defaults.WorkerBinary))
	}
	return opts
}

// Run decodes the log at spec.Path and drives it to completion, persisting
// records and status as it goes. It is meant to be called in its own
// goroutine; handleSubmitJob starts it that way and returns immediately.
func (rn *Runner) Run(ctx context.Context, jobID string, spec jobSpec) {
	if err := rn.store.UpdateStatus(ctx, jobID, sqlite.JobRunning, nil, ""); err != nil {
		rn.logger.Error("job runner: mark running failed", slog.String("job_id", jobID), slog.Any("error", err))
	}

	result, err := extractor.Decode(ctx, spec.Path, rn.toExtractorOptions(spec, rn.logger)...)
	if err != nil {
		rn.fail(ctx, jobID, spec, fmt.Errorf("decode: %w", err))
		return
	}

	seq := 0
	batch := make([]json.RawMessage, 0, recordBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		var err error
		if rn.recordSink != nil {
			err = rn.recordSink.WriteRecords(ctx, jobID, seq, batch)
		} else {
			err = rn.store.AppendRecords(ctx, jobID, seq, batch)
		}
		if err != nil {
			rn.logger.Error("job runner: append records failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
		seq += len(batch)
		rn.notifier.Publish(jobID, seq, nil, "", false)
		batch = batch[:0]
	}

	for {
		rec, ok := result.Next()
		if !ok {
			break
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			rn.logger.Error("job runner: marshal record failed", slog.String("job_id", jobID), slog.Any("error", err))
			continue
		}
		batch = append(batch, json.RawMessage(raw))
		if len(batch) >= recordBatchSize {
			flush()
		}
	}
	flush()

	stats := result.Stats()
	statsJS, _ := json.Marshal(stats)
	if err := rn.store.UpdateStatus(ctx, jobID, sqlite.JobCompleted, statsJS, ""); err != nil {
		rn.logger.Error("job runner: mark completed failed", slog.String("job_id", jobID), slog.Any("error", err))
	}

	if rn.auditLog != nil {
		if _, err := rn.auditLog.RecordJob(audit.JobOutcome{JobID: jobID, Path: spec.Path, Stats: stats}); err != nil {
			rn.logger.Error("job runner: audit record failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
	}

	rn.notifier.Publish(jobID, stats.RecordsDecoded, stats, "", true)
}

func (rn *Runner) fail(ctx context.Context, jobID string, spec jobSpec, err error) {
	rn.logger.Error("job runner: decode failed", slog.String("job_id", jobID), slog.Any("error", err))
	if uerr := rn.store.UpdateStatus(ctx, jobID, sqlite.JobFailed, nil, err.Error()); uerr != nil {
		rn.logger.Error("job runner: mark failed failed", slog.String("job_id", jobID), slog.Any("error", uerr))
	}
	if rn.auditLog != nil {
		if _, aerr := rn.auditLog.RecordJob(audit.JobOutcome{JobID: jobID, Path: spec.Path, Error: err.Error()}); aerr != nil {
			rn.logger.Error("job runner: audit record failed", slog.String("job_id", jobID), slog.Any("error", aerr))
		}
	}
	rn.notifier.Publish(jobID, 0, nil, err.Error(), true)
}
