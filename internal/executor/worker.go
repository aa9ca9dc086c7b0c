package executor

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tripwire/binlog/internal/chunk"
	"github.com/tripwire/binlog/internal/decoder"
	"github.com/tripwire/binlog/internal/registry"
)

// wireRequest mirrors the payload runWorkerOnce writes to a worker
// subprocess's stdin.
type wireRequest struct {
	Job     workerJob `json:"job"`
	Payload []byte    `json:"payload"`
}

// wireRecord and wireField mirror decoder.Record/decoder.Field field-for-field
// but, unlike decoder.Record, carry no custom MarshalJSON: decoder.Record's
// MarshalJSON flattens fields into the user-facing record shape and is not
// its own inverse, so it cannot be used for the process-pool's round trip.
type wireRecord struct {
	TypeName string      `json:"type_name"`
	Fields   []wireField `json:"fields"`
}

type wireField struct {
	Name  string        `json:"name"`
	Value decoder.Value `json:"value"`
}

func toWireRecords(records []decoder.Record) []wireRecord {
	out := make([]wireRecord, len(records))
	for i, r := range records {
		fields := make([]wireField, len(r.Fields))
		for j, f := range r.Fields {
			fields[j] = wireField{Name: f.Name, Value: f.Value}
		}
		out[i] = wireRecord{TypeName: r.TypeName, Fields: fields}
	}
	return out
}

func fromWireRecords(records []wireRecord) []decoder.Record {
	out := make([]decoder.Record, len(records))
	for i, r := range records {
		fields := make([]decoder.Field, len(r.Fields))
		for j, f := range r.Fields {
			fields[j] = decoder.Field{Name: f.Name, Value: f.Value}
		}
		out[i] = decoder.Record{TypeName: r.TypeName, Fields: fields}
	}
	return out
}

// RunWorkerMode is the entrypoint a re-exec'd binary calls when started with
// the hidden process-pool worker flag (e.g. "-binlog-worker"). It reads a
// single wireRequest from in, decodes that chunk using the transmitted
// type table, and writes the resulting records as a JSON array to out.
//
// cmd/binlog wires this to os.Stdin/os.Stdout; it is exported here so the
// wire format stays colocated with the code that produces it.
func RunWorkerMode(in io.Reader, out io.Writer) error {
	var req wireRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("executor: worker: decode request: %w", err)
	}

	reg := registry.New()
	reg.LoadSnapshot(req.Job.Types)

	opts := Options{
		Round:       req.Job.Round,
		IncludeFMT:  req.Job.FMT,
		IncludeData: req.Job.Data,
	}
	if len(req.Job.Include) > 0 {
		opts.NameFilter = make(map[string]struct{}, len(req.Job.Include))
		for _, name := range req.Job.Include {
			opts.NameFilter[name] = struct{}{}
		}
	}

	result := decodeRange(req.Payload, reg, chunk.Range{Start: 0, End: len(req.Payload)}, 0, opts)

	wire := toWireRecords(result.Records)
	if wire == nil {
		wire = []wireRecord{}
	}
	if err := json.NewEncoder(out).Encode(wire); err != nil {
		return fmt.Errorf("executor: worker: encode response: %w", err)
	}
	return nil
}
