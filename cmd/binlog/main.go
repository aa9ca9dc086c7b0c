// Command binlog decodes a single ArduPilot BIN flight log and writes the
// decoded records to one of three destinations: newline-delimited JSON on
// stdout, a local SQLite database, or a PostgreSQL database. It loads the
// log with a memory-mapped file view, splits it into worker-sized chunks,
// and runs the configured execution mode.
//
// When invoked with -binlog-worker it instead acts as a process-pool worker
// subprocess: it reads one job description from stdin and writes decoded
// records to stdout, then exits. cmd/binlog re-execs itself this way when
// -mode=parallel is selected.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/tripwire/binlog/internal/executor"
	"github.com/tripwire/binlog/internal/extractor"
	"github.com/tripwire/binlog/internal/sink/postgres"
	"github.com/tripwire/binlog/internal/sink/sqlite"
)

// outputBatchSize is the number of decoded records buffered before a batch
// is flushed to a sqlite or postgres output target.
const outputBatchSize = 200

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-binlog-worker" {
		if err := executor.RunWorkerMode(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "binlog-worker: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var (
		input       = flag.String("input", "", "path to the BIN log file (required)")
		round       = flag.Bool("round", false, "round ROUND_SET fields to 7 decimal places")
		mode        = flag.String("mode", "sequential", "execution mode: sequential | threaded | parallel")
		workers     = flag.Int("workers", 4, "worker count for threaded and parallel modes")
		filterName  = flag.String("filter-name", "", "comma-separated list of message type names to include; empty means all")
		includeFMT  = flag.Bool("include-fmt", false, "include synthetic FMT records in the output")
		includeData = flag.Bool("include-data", true, "include decoded data records in the output")
		out         = flag.String("out", "ndjson", `output target: "ndjson" (stdout), "sqlite:<path>", or "postgres" (requires -dsn)`)
		dsn         = flag.String("dsn", "", "PostgreSQL DSN, required when -out=postgres")
		logLevel    = flag.String("log-level", "info", "log level: debug | info | warn | error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "binlog: -input is required")
		os.Exit(2)
	}

	execMode, err := parseMode(*mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "binlog: %v\n", err)
		os.Exit(2)
	}

	if !*includeFMT && !*includeData {
		fmt.Fprintln(os.Stderr, "binlog: at least one of -include-fmt or -include-data must be set")
		os.Exit(2)
	}

	target, sqlitePath, err := parseOutTarget(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "binlog: %v\n", err)
		os.Exit(2)
	}
	if target == outTargetPostgres && *dsn == "" {
		fmt.Fprintln(os.Stderr, "binlog: -dsn is required when -out=postgres")
		os.Exit(2)
	}

	opts := []extractor.Option{
		extractor.WithRound(*round),
		extractor.WithMode(execMode),
		extractor.WithWorkers(*workers),
		extractor.WithIncludeFMT(*includeFMT),
		extractor.WithIncludeData(*includeData),
		extractor.WithLogger(logger),
	}
	if execMode == executor.ModeProcess {
		self, err := os.Executable()
		if err != nil {
			logger.Error("failed to resolve own executable path for parallel mode", slog.Any("error", err))
			os.Exit(1)
		}
		opts = append(opts, extractor.WithWorkerBinary(self))
	}
	if *filterName != "" {
		names := strings.Split(*filterName, ",")
		opts = append(opts, extractor.WithNameFilter(names...))
	}

	logger.Info("decoding log", slog.String("input", *input), slog.String("mode", *mode), slog.Int("workers", *workers))

	ctx := context.Background()

	result, err := extractor.Decode(ctx, *input, opts...)
	if err != nil {
		logger.Error("decode failed", slog.Any("error", err))
		os.Exit(1)
	}

	switch target {
	case outTargetNDJSON:
		err = writeNDJSON(result, os.Stdout)
	case outTargetSQLite:
		err = writeSQLite(ctx, sqlitePath, *input, result)
	case outTargetPostgres:
		err = writePostgres(ctx, *dsn, result)
	}
	if err != nil {
		logger.Error("failed to write output", slog.Any("error", err))
		os.Exit(1)
	}

	stats := result.Stats()
	logger.Info("decode complete",
		slog.Int("records_decoded", stats.RecordsDecoded),
		slog.Int("fmts_registered", stats.FMTsRegistered),
		slog.Int("noise_bytes_skipped", stats.NoiseBytesSkipped),
		slog.Int("truncated_tail_bytes", stats.TruncatedTailBytes),
	)
}

type outTarget int

const (
	outTargetNDJSON outTarget = iota
	outTargetSQLite
	outTargetPostgres
)

// parseOutTarget parses the -out flag into a target kind plus, for
// "sqlite:<path>", the path that follows the colon.
func parseOutTarget(s string) (outTarget, string, error) {
	switch {
	case s == "ndjson":
		return outTargetNDJSON, "", nil
	case s == "postgres":
		return outTargetPostgres, "", nil
	case strings.HasPrefix(s, "sqlite:"):
		path := strings.TrimPrefix(s, "sqlite:")
		if path == "" {
			return 0, "", fmt.Errorf("-out=sqlite: requires a path, e.g. sqlite:/tmp/binlog.db")
		}
		return outTargetSQLite, path, nil
	default:
		return 0, "", fmt.Errorf(`-out must be "ndjson", "sqlite:<path>", or "postgres" (got %q)`, s)
	}
}

// writeNDJSON streams the decoded records to w as newline-delimited JSON.
func writeNDJSON(result *extractor.Result, w *os.File) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	enc := json.NewEncoder(bw)
	for {
		rec, ok := result.Next()
		if !ok {
			return bw.Flush()
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
}

// writeSQLite opens (or creates) a SQLite database at path, records a
// synthetic job row for this run, and appends every decoded record to its
// fallback records table in batches.
func writeSQLite(ctx context.Context, path, inputPath string, result *extractor.Result) error {
	store, err := sqlite.Open(path)
	if err != nil {
		return fmt.Errorf("open sqlite output %q: %w", path, err)
	}
	defer store.Close()

	jobID := uuid.NewString()
	if err := store.CreateJob(ctx, jobID, inputPath, nil); err != nil {
		return fmt.Errorf("create job row: %w", err)
	}

	seq := 0
	batch := make([]json.RawMessage, 0, outputBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.AppendRecords(ctx, jobID, seq, batch); err != nil {
			return fmt.Errorf("append records: %w", err)
		}
		seq += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		rec, ok := result.Next()
		if !ok {
			break
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		batch = append(batch, raw)
		if len(batch) >= outputBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	stats := result.Stats()
	statsJS, _ := json.Marshal(stats)
	return store.UpdateStatus(ctx, jobID, sqlite.JobCompleted, statsJS, "")
}

// writePostgres opens a PostgreSQL sink at dsn and bulk-loads every decoded
// record under a synthetic job id for this run.
func writePostgres(ctx context.Context, dsn string, result *extractor.Result) error {
	sink, err := postgres.New(ctx, dsn, postgres.DefaultBatchSize, postgres.DefaultFlushInterval)
	if err != nil {
		return fmt.Errorf("open postgres output: %w", err)
	}
	defer sink.Close(ctx)

	jobID := uuid.NewString()

	seq := 0
	batch := make([]json.RawMessage, 0, outputBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.WriteRecords(ctx, jobID, seq, batch); err != nil {
			return fmt.Errorf("write records: %w", err)
		}
		seq += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		rec, ok := result.Next()
		if !ok {
			break
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		batch = append(batch, raw)
		if len(batch) >= outputBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func parseMode(s string) (executor.Mode, error) {
	switch s {
	case "sequential":
		return executor.ModeSequential, nil
	case "threaded":
		return executor.ModeThreaded, nil
	case "parallel":
		return executor.ModeProcess, nil
	default:
		return 0, fmt.Errorf("-mode must be one of sequential, threaded, parallel (got %q)", s)
	}
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
