// Package extractor is the top-level facade over the decoder pipeline: it
// opens a BIN log, splits it into chunks, runs the configured execution
// mode, and exposes the merged, ordered record stream plus run statistics.
package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tripwire/binlog/internal/chunk"
	"github.com/tripwire/binlog/internal/decoder"
	"github.com/tripwire/binlog/internal/executor"
	"github.com/tripwire/binlog/internal/mmapfile"
)

// Options configures a Decode call. Provide Option values to Decode via
// functional options, mirroring the orchestrator's construction pattern.
type Options struct {
	Round       bool
	Mode        executor.Mode
	Workers     int
	NameFilter  map[string]struct{}
	IncludeFMT  bool
	IncludeData bool

	WorkerBinary string
	Logger       *slog.Logger
}

// Option customises Options.
type Option func(*Options)

// WithRound enables 7-decimal-place rounding for ROUND_SET fields.
func WithRound(round bool) Option {
	return func(o *Options) { o.Round = round }
}

// WithMode selects the execution mode.
func WithMode(m executor.Mode) Option {
	return func(o *Options) { o.Mode = m }
}

// WithWorkers sets the worker count for threaded and process-pool modes.
// Values <= 0 select a sensible default at run time.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithNameFilter restricts decoded output to the given set of type names.
// A nil or empty set disables filtering.
func WithNameFilter(names ...string) Option {
	return func(o *Options) {
		if len(names) == 0 {
			return
		}
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		o.NameFilter = set
	}
}

// WithIncludeFMT includes synthetic FMT records in the output stream.
func WithIncludeFMT(include bool) Option {
	return func(o *Options) { o.IncludeFMT = include }
}

// WithIncludeData selects whether decoded data records (as opposed to
// synthetic FMT records) are included in the output stream. Combined with
// WithIncludeFMT this realizes the three-valued FMT/data selector: data only
// (the default), FMT only (IncludeFMT=true, IncludeData=false), or both.
func WithIncludeData(include bool) Option {
	return func(o *Options) { o.IncludeData = include }
}

// WithWorkerBinary sets the executable re-exec'd by ModeProcess workers.
func WithWorkerBinary(path string) Option {
	return func(o *Options) { o.WorkerBinary = path }
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Stats summarizes a completed decode run.
type Stats struct {
	RecordsDecoded     int
	FMTsRegistered     int
	NoiseBytesSkipped  int
	TruncatedTailBytes int
}

// Result is the output of a Decode call: an iterator over the decoded
// records plus post-hoc Stats. Decode decodes every record into memory
// before it returns; Next does not decode records lazily.
type Result struct {
	records []decoder.Record
	pos     int
	stats   Stats
}

// Next returns the next decoded record in byte order, or ok=false once the
// stream is exhausted.
func (r *Result) Next() (decoder.Record, bool) {
	if r.pos >= len(r.records) {
		return decoder.Record{}, false
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, true
}

// Stats returns the run's accumulated statistics.
func (r *Result) Stats() Stats { return r.stats }

// Decode opens path, splits it for opts.Workers (when Workers > 1 and Mode
// is not sequential), runs the decode pipeline, and returns the merged,
// ordered Result.
func Decode(ctx context.Context, path string, opts ...Option) (*Result, error) {
	o := Options{Mode: executor.ModeSequential, Workers: 1, IncludeData: true, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	mf, err := mmapfile.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extractor: open %q: %w", path, err)
	}
	defer mf.Close()

	buf := mf.Bytes()

	n := o.Workers
	if o.Mode == executor.ModeSequential {
		n = 1
	}
	ranges, reg := chunk.Split(buf, n)

	execOpts := executor.Options{
		Round:        o.Round,
		NameFilter:   o.NameFilter,
		IncludeFMT:   o.IncludeFMT,
		IncludeData:  o.IncludeData,
		Workers:      o.Workers,
		Mode:         o.Mode,
		WorkerBinary: o.WorkerBinary,
	}

	chunkResults, err := executor.Run(ctx, buf, reg, ranges, execOpts, o.Logger)
	if err != nil {
		return nil, fmt.Errorf("extractor: decode %q: %w", path, err)
	}

	result := &Result{stats: Stats{FMTsRegistered: reg.Len()}}
	for _, cr := range chunkResults {
		result.records = append(result.records, cr.Records...)
		result.stats.NoiseBytesSkipped += cr.Stats.NoiseBytes
		result.stats.TruncatedTailBytes += cr.Stats.TruncatedTailBytes
	}
	result.stats.RecordsDecoded = len(result.records)

	return result, nil
}
