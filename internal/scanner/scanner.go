// Package scanner walks a byte buffer and resynchronizes on the BIN log's
// two-byte sync marker, emitting a strictly forward-moving sequence of
// (type-id, record-start-offset) pairs. It is the framing layer every other
// subsystem in this module sits on top of.
package scanner

import "bytes"

// SyncByte0 and SyncByte1 are the two bytes that open every frame header.
const (
	SyncByte0 = 0xA3
	SyncByte1 = 0x95

	// HeaderLen is the fixed size, in bytes, of every frame header
	// (sync marker + type-id).
	HeaderLen = 3

	// FMTTypeID is the reserved type-id identifying an FMT record.
	FMTTypeID = 0x80

	// FMTRecordLength is the fixed total size of an FMT record.
	FMTRecordLength = 89
)

var syncMarker = []byte{SyncByte0, SyncByte1}

// LengthLookup resolves a known type-id to its total record length
// (header included). It returns false for a type-id the caller's registry
// has not compiled yet. Implemented by *registry.Registry.
type LengthLookup interface {
	RecordLength(typeID uint8) (length uint8, ok bool)
}

// Item is one emitted frame: its type-id and the byte offset of its header.
type Item struct {
	TypeID uint8
	Offset int
}

// Stats accumulates bookkeeping the caller needs to report after a scan:
// how many bytes were skipped as noise during resync, and whether the scan
// stopped early because of a truncated trailing record.
type Stats struct {
	NoiseBytes         int
	TruncatedTailBytes int
}

// Scanner is a lazy, stateful cursor over buf. It never backs up: Offset()
// only increases across calls to Next.
type Scanner struct {
	buf     []byte
	lengths LengthLookup
	cursor  int
	stats   Stats
	done    bool
}

// New returns a Scanner over buf starting at the beginning of the buffer,
// consulting lengths to resolve known type-ids to record lengths.
func New(buf []byte, lengths LengthLookup) *Scanner {
	return &Scanner{buf: buf, lengths: lengths}
}

// Offset returns the scanner's current cursor position.
func (s *Scanner) Offset() int { return s.cursor }

// Stats returns the accumulated noise/truncation counters so far.
func (s *Scanner) Stats() Stats { return s.stats }

// Next advances the scanner and returns the next frame, or ok=false once the
// buffer is exhausted. It implements the five-step algorithm: validate the
// candidate header, emit-and-advance for FMT and known types (stopping on a
// truncated tail), and resync forward one byte at a time for anything else.
func (s *Scanner) Next() (Item, bool) {
	if s.done {
		return Item{}, false
	}

	for {
		p := s.cursor

		if p+HeaderLen > len(s.buf) {
			s.done = true
			return Item{}, false
		}

		if s.buf[p] != SyncByte0 || s.buf[p+1] != SyncByte1 {
			if !s.resync() {
				s.done = true
				return Item{}, false
			}
			continue
		}

		typeID := s.buf[p+2]

		if typeID == FMTTypeID {
			if p+FMTRecordLength > len(s.buf) {
				s.stats.TruncatedTailBytes += len(s.buf) - p
				s.done = true
				return Item{}, false
			}
			s.cursor = p + FMTRecordLength
			return Item{TypeID: typeID, Offset: p}, true
		}

		length, known := s.lengths.RecordLength(typeID)
		if !known {
			// Looks like a header but the type-id has never been declared:
			// treat as noise, not a frame, and resync one byte forward.
			if !s.resync() {
				s.done = true
				return Item{}, false
			}
			continue
		}

		if p+int(length) > len(s.buf) {
			s.stats.TruncatedTailBytes += len(s.buf) - p
			s.done = true
			return Item{}, false
		}

		s.cursor = p + int(length)
		return Item{TypeID: typeID, Offset: p}, true
	}
}

// resync advances the cursor to the next occurrence of the sync marker
// strictly after the current position, counting the skipped bytes as noise.
// It reports false if no further sync marker exists in the buffer.
func (s *Scanner) resync() bool {
	searchFrom := s.cursor + 1
	if searchFrom >= len(s.buf) {
		return false
	}
	idx := bytes.Index(s.buf[searchFrom:], syncMarker)
	if idx < 0 {
		s.stats.NoiseBytes += len(s.buf) - s.cursor
		return false
	}
	next := searchFrom + idx
	s.stats.NoiseBytes += next - s.cursor
	s.cursor = next
	return true
}
