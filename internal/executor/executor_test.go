package executor_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tripwire/binlog/internal/chunk"
	"github.com/tripwire/binlog/internal/executor"
)

func buildFMT(typeID, length byte, name, fieldTypes, columns string) []byte {
	buf := make([]byte, 89)
	buf[0], buf[1], buf[2] = 0xA3, 0x95, 0x80
	buf[3] = typeID
	buf[4] = length
	copy(buf[5:9], name)
	copy(buf[9:25], fieldTypes)
	copy(buf[25:89], columns)
	return buf
}

func buildRecord(typeID byte, payload ...byte) []byte {
	return append([]byte{0xA3, 0x95, typeID}, payload...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleBuffer() []byte {
	var buf []byte
	buf = append(buf, buildFMT(1, 4, "GPS", "B", "Stat")...)
	for i := 0; i < 50; i++ {
		buf = append(buf, buildRecord(1, byte(i))...)
	}
	return buf
}

func TestSequentialAndThreadedModesAgree(t *testing.T) {
	buf := sampleBuffer()
	ranges, reg := chunk.Split(buf, 4)

	seqOpts := executor.Options{Mode: executor.ModeSequential, IncludeFMT: false, IncludeData: true}
	seq, err := executor.Run(context.Background(), buf, reg, ranges, seqOpts, testLogger())
	if err != nil {
		t.Fatalf("sequential Run: %v", err)
	}

	threadedOpts := executor.Options{Mode: executor.ModeThreaded, Workers: 4, IncludeFMT: false, IncludeData: true}
	threaded, err := executor.Run(context.Background(), buf, reg, ranges, threadedOpts, testLogger())
	if err != nil {
		t.Fatalf("threaded Run: %v", err)
	}

	seqCount, threadedCount := 0, 0
	for _, r := range seq {
		seqCount += len(r.Records)
	}
	for _, r := range threaded {
		threadedCount += len(r.Records)
	}
	if seqCount != threadedCount {
		t.Fatalf("sequential decoded %d records, threaded decoded %d", seqCount, threadedCount)
	}
	if seqCount != 50 {
		t.Fatalf("decoded %d records, want 50", seqCount)
	}
}

func TestResultsOrderedByChunkIndex(t *testing.T) {
	buf := sampleBuffer()
	ranges, reg := chunk.Split(buf, 3)

	results, err := executor.Run(context.Background(), buf, reg, ranges,
		executor.Options{Mode: executor.ModeSequential, IncludeData: true}, testLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("result %d has Index %d", i, r.Index)
		}
	}
}

func TestNameFilterExcludesOtherTypes(t *testing.T) {
	var buf []byte
	buf = append(buf, buildFMT(1, 4, "GPS", "B", "Stat")...)
	buf = append(buf, buildFMT(2, 4, "IMU", "B", "Gx")...)
	buf = append(buf, buildRecord(1, 9)...)
	buf = append(buf, buildRecord(2, 9)...)

	ranges, reg := chunk.Split(buf, 1)
	opts := executor.Options{
		Mode:        executor.ModeSequential,
		NameFilter:  map[string]struct{}{"IMU": {}},
		IncludeData: true,
	}
	results, err := executor.Run(context.Background(), buf, reg, ranges, opts, testLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var names []string
	for _, r := range results {
		for _, rec := range r.Records {
			names = append(names, rec.MavPacketType())
		}
	}
	if len(names) != 1 || names[0] != "IMU" {
		t.Fatalf("decoded types = %v, want [IMU]", names)
	}
}

func TestProcessPoolWithoutBinaryFallsBackToSequential(t *testing.T) {
	buf := sampleBuffer()
	ranges, reg := chunk.Split(buf, 2)

	opts := executor.Options{Mode: executor.ModeProcess, IncludeData: true} // WorkerBinary left empty
	results, err := executor.Run(context.Background(), buf, reg, ranges, opts, testLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	total := 0
	for _, r := range results {
		total += len(r.Records)
	}
	if total != 50 {
		t.Fatalf("fallback decoded %d records, want 50", total)
	}
}
