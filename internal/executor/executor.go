// Package executor distributes chunked decode work across sequential,
// thread-pool, and process-pool execution modes, all exposing the same
// ordered-output contract: the concatenation of worker outputs by chunk
// index.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/tripwire/binlog/internal/chunk"
	"github.com/tripwire/binlog/internal/decoder"
	"github.com/tripwire/binlog/internal/registry"
	"github.com/tripwire/binlog/internal/scanner"
)

// Mode selects how chunk work is distributed.
type Mode int

const (
	ModeSequential Mode = iota
	ModeThreaded
	ModeProcess
)

// Options configures a decode run shared by all three modes.
type Options struct {
	Round        bool
	NameFilter   map[string]struct{} // nil means no filtering
	IncludeFMT   bool
	IncludeData  bool
	Workers      int
	Mode         Mode
	WorkerBinary string // argv[0] to re-exec in ModeProcess; required for that mode
}

// ChunkResult is one worker's ordered output plus the noise/truncation
// counters it accumulated.
type ChunkResult struct {
	Index   int
	Records []decoder.Record
	Stats   scanner.Stats
}

// Run executes opts.Mode over buf using reg (already populated by the
// chunk splitter's first pass) and ranges (the chunk boundaries), and
// returns results ordered by chunk index.
func Run(ctx context.Context, buf []byte, reg *registry.Registry, ranges []chunk.Range, opts Options, logger *slog.Logger) ([]ChunkResult, error) {
	switch opts.Mode {
	case ModeSequential:
		return runSequential(buf, reg, ranges, opts), nil
	case ModeThreaded:
		return runThreaded(ctx, buf, reg, ranges, opts)
	case ModeProcess:
		results, err := runProcessPool(ctx, buf, reg, ranges, opts, logger)
		if err != nil {
			logger.Warn("executor: process pool failed, falling back to sequential mode", slog.Any("error", err))
			return runSequential(buf, reg, ranges, opts), nil
		}
		return results, nil
	default:
		return nil, fmt.Errorf("executor: unknown mode %d", opts.Mode)
	}
}

// runSequential runs a single scanner+decoder pass per chunk range,
// in index order, on the calling goroutine.
func runSequential(buf []byte, reg *registry.Registry, ranges []chunk.Range, opts Options) []ChunkResult {
	out := make([]ChunkResult, len(ranges))
	for i, r := range ranges {
		out[i] = decodeRange(buf, reg, r, i, opts)
	}
	return out
}

// runThreaded fans the chunk list out across an errgroup of goroutines,
// all reading the same buffer and sharing the read-only registry.
func runThreaded(ctx context.Context, buf []byte, reg *registry.Registry, ranges []chunk.Range, opts Options) ([]ChunkResult, error) {
	out := make([]ChunkResult, len(ranges))

	g, _ := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers <= 0 || workers > len(ranges) {
		workers = len(ranges)
	}
	g.SetLimit(workers)

	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			out[i] = decodeRange(buf, reg, r, i, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("executor: thread pool: %w", err)
	}
	return out, nil
}

// decodeRange runs the scanner and decoder over buf[r.Start:r.End],
// honoring the FMT-inclusion and name-filter options.
func decodeRange(buf []byte, reg *registry.Registry, r chunk.Range, index int, opts Options) ChunkResult {
	slice := buf[r.Start:r.End]
	s := scanner.New(slice, reg)

	var records []decoder.Record
	for {
		item, ok := s.Next()
		if !ok {
			break
		}

		if item.TypeID == scanner.FMTTypeID {
			if !opts.IncludeFMT {
				continue
			}
			rec, err := decoder.DecodeFMT(slice, item.Offset)
			if err != nil {
				continue
			}
			records = append(records, rec)
			continue
		}

		if !opts.IncludeData {
			continue
		}

		desc, ok := reg.Get(item.TypeID)
		if !ok {
			continue
		}
		if opts.NameFilter != nil {
			if _, want := opts.NameFilter[desc.Name]; !want {
				continue
			}
		}
		rec, err := decoder.Decode(slice, desc, item.Offset, opts.Round)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	return ChunkResult{Index: index, Records: records, Stats: s.Stats()}
}

// workerJob is the JSON payload sent to a re-exec'd child process in
// ModeProcess.
type workerJob struct {
	Range   chunk.Range                   `json:"range"`
	Types   map[uint8]registry.Descriptor `json:"types"`
	Round   bool                          `json:"round"`
	Include []string                      `json:"include,omitempty"`
	FMT     bool                          `json:"include_fmt"`
	Data    bool                          `json:"include_data"`
}

// runProcessPool re-execs the current binary once per chunk with a hidden
// worker flag, piping a JSON job description on stdin and reading back a
// JSON array of decoded records on stdout. A failing chunk gets one bounded
// retry via backoff before the whole run is reported as failed, at which
// point the caller falls back to sequential mode rather than emitting a
// partial result mixed across modes.
func runProcessPool(ctx context.Context, buf []byte, reg *registry.Registry, ranges []chunk.Range, opts Options, logger *slog.Logger) ([]ChunkResult, error) {
	if opts.WorkerBinary == "" {
		return nil, fmt.Errorf("executor: process pool: no worker binary configured")
	}

	snapshot := reg.Snapshot()
	types := make(map[uint8]registry.Descriptor, len(snapshot))
	for k, v := range snapshot {
		types[k] = *v
	}

	out := make([]ChunkResult, len(ranges))
	for i, r := range ranges {
		job := workerJob{Range: r, Types: types, Round: opts.Round, FMT: opts.IncludeFMT, Data: opts.IncludeData}
		for name := range opts.NameFilter {
			job.Include = append(job.Include, name)
		}

		records, err := runWorkerWithRetry(ctx, opts.WorkerBinary, buf[r.Start:r.End], job, logger)
		if err != nil {
			return nil, fmt.Errorf("executor: process pool: chunk %d: %w", i, err)
		}
		out[i] = ChunkResult{Index: i, Records: records}
	}
	return out, nil
}

// runWorkerWithRetry invokes the worker subprocess once, and if it fails,
// retries a single time after a bounded exponential backoff delay.
func runWorkerWithRetry(ctx context.Context, binary string, payload []byte, job workerJob, logger *slog.Logger) ([]decoder.Record, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 5 * time.Second

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			logger.Warn("executor: retrying worker chunk", slog.Int("attempt", attempt))
		}

		records, err := runWorkerOnce(ctx, binary, payload, job)
		if err == nil {
			return records, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func runWorkerOnce(ctx context.Context, binary string, payload []byte, job workerJob) ([]decoder.Record, error) {
	cmd := exec.CommandContext(ctx, binary, "-binlog-worker")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker start: %w", err)
	}

	enc := json.NewEncoder(stdin)
	go func() {
		defer stdin.Close()
		_ = enc.Encode(wireRequest{Job: job, Payload: payload})
	}()

	var wire []wireRecord
	dec := json.NewDecoder(stdout)
	decodeErr := dec.Decode(&wire)

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("worker exited: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("worker stdout decode: %w", decodeErr)
	}
	return fromWireRecords(wire), nil
}
