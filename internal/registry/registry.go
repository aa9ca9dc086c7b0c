// Package registry maintains the mutable, keyed table of compiled message
// type descriptors that the framing scanner and record decoder consult while
// walking a BIN log. A Registry is created once per decode run and, once a
// type-id has been compiled, its descriptor never changes for the lifetime
// of that run (the registry-monotonicity invariant).
package registry

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/tripwire/binlog/internal/typemap"
)

// FMTTypeID is the reserved type-id that always identifies an FMT
// (format-descriptor) record.
const FMTTypeID = 0x80

// FMTRecordLength is the fixed total size, in bytes, of every FMT record
// (3-byte header + 86-byte declaration body).
const FMTRecordLength = 89

// Descriptor is the compiled, immutable description of one message type,
// built from a single FMT record.
type Descriptor struct {
	TypeID         uint8
	Name           string
	RecordLength   uint8 // total bytes including the 3-byte header
	FieldTypeChars string
	FieldNames     []string
	Layout         typemap.Layout
}

// Registry is the keyed type-id → Descriptor table. It is safe for
// concurrent reads once construction (the sequential first pass) has
// completed; RegisterFMT itself is also safe for concurrent use, though in
// practice only the first pass calls it.
type Registry struct {
	mu    sync.RWMutex
	types map[uint8]*Descriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{types: make(map[uint8]*Descriptor)}
}

// Get returns the descriptor for typeID, or (nil, false) if it has not been
// compiled yet.
func (r *Registry) Get(typeID uint8) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[typeID]
	return d, ok
}

// Has reports whether typeID has a compiled descriptor.
func (r *Registry) Has(typeID uint8) bool {
	_, ok := r.Get(typeID)
	return ok
}

// RecordLength implements scanner.LengthLookup: it resolves a known type-id
// to its total record length (header included), returning ok=false for a
// type-id that has not been compiled yet.
func (r *Registry) RecordLength(typeID uint8) (uint8, bool) {
	d, ok := r.Get(typeID)
	if !ok {
		return 0, false
	}
	return d.RecordLength, true
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Snapshot returns a shallow copy of the registry's type map, suitable for
// handing to a worker that must not observe subsequent mutation (process-pool
// workers serialize this; thread-pool workers simply share the *Registry
// read-only after the first pass, per spec.md §4.5).
func (r *Registry) Snapshot() map[uint8]*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint8]*Descriptor, len(r.types))
	for k, v := range r.types {
		out[k] = v
	}
	return out
}

// LoadSnapshot replaces the registry's contents with descriptors, bypassing
// FMT parsing entirely. It is used by process-pool workers to reconstruct
// the parent's registry from the JSON-transmitted type map for a single
// chunk, since re-deriving it from the chunk's own bytes would miss types
// whose FMT record lives in an earlier chunk.
func (r *Registry) LoadSnapshot(descriptors map[uint8]Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = make(map[uint8]*Descriptor, len(descriptors))
	for k, v := range descriptors {
		d := v
		r.types[k] = &d
	}
}

// RegisterFMT parses the 89-byte FMT record found at buf[offset:offset+89]
// and, if it compiles successfully, registers the declared type. If the
// declared type-id is already registered, RegisterFMT is a no-op — per the
// registry-monotonicity invariant, a descriptor never changes once compiled.
//
// Returns the newly (or previously) registered descriptor. A compile failure
// (unsupported field-type character, or a record_length that does not match
// the sum of declared field widths) is returned as an error; the caller
// should treat the declared type-id as permanently unknown for this run.
func (r *Registry) RegisterFMT(buf []byte, offset int) (*Descriptor, error) {
	if offset+FMTRecordLength > len(buf) {
		return nil, fmt.Errorf("registry: FMT record at offset %d: buffer too short", offset)
	}
	body := buf[offset : offset+FMTRecordLength]

	declaredTypeID := body[3]
	declaredLength := body[4]
	name := trimASCII(body[5:9])
	fieldTypeChars := trimASCII(body[9:25])
	columns := trimASCII(body[25:89])

	if d, ok := r.Get(declaredTypeID); ok {
		return d, nil
	}

	var fieldNames []string
	if columns != "" {
		for _, n := range strings.Split(columns, ",") {
			if n != "" {
				fieldNames = append(fieldNames, n)
			}
		}
	}

	layout, err := typemap.Compile(name, fieldTypeChars, fieldNames)
	if err != nil {
		return nil, fmt.Errorf("registry: compile FMT for type-id %d (%q): %w", declaredTypeID, name, err)
	}

	wantLength := 3 + layout.PayloadSize
	if int(declaredLength) != wantLength {
		return nil, fmt.Errorf("registry: FMT for type-id %d (%q): declared length %d does not match computed length %d",
			declaredTypeID, name, declaredLength, wantLength)
	}

	d := &Descriptor{
		TypeID:         declaredTypeID,
		Name:           name,
		RecordLength:   declaredLength,
		FieldTypeChars: fieldTypeChars,
		FieldNames:     fieldNames,
		Layout:         layout,
	}

	r.mu.Lock()
	if existing, ok := r.types[declaredTypeID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.types[declaredTypeID] = d
	r.mu.Unlock()

	return d, nil
}

// trimASCII trims trailing NUL bytes (and anything after the first one) and
// returns the remaining bytes as a string.
func trimASCII(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
