// Package chunk splits a BIN log into non-overlapping byte ranges, each
// beginning exactly on a valid frame start, so that the parallel executor
// can hand independent slices to its workers.
package chunk

import (
	"bytes"

	"github.com/tripwire/binlog/internal/registry"
	"github.com/tripwire/binlog/internal/scanner"
)

// Range is a half-open byte range [Start, End) aligned to a real frame
// start at Start.
type Range struct {
	Start int
	End   int
}

// maxRecordLen bounds the double-sync confirmation window; a record's
// declared length is a single byte, so no record exceeds 255 bytes.
const maxRecordLen = 255

// Split builds the registry from buf's FMT records (a strictly sequential
// first pass) and then computes n non-overlapping, frame-aligned ranges
// covering the whole buffer. It returns the ranges and the registry that
// resulted from the first pass, which the caller hands to each worker.
//
// If n <= 1 or buf is empty, Split returns a single range covering the
// whole buffer.
func Split(buf []byte, n int) ([]Range, *registry.Registry) {
	reg := buildRegistryFirstPass(buf)

	if n <= 1 || len(buf) == 0 {
		return []Range{{Start: 0, End: len(buf)}}, reg
	}

	points := make([]int, 0, n-1)
	for i := 1; i < n; i++ {
		tentative := len(buf) * i / n
		points = append(points, confirmBoundary(buf, reg, tentative))
	}

	ranges := make([]Range, 0, n)
	start := 0
	for _, p := range points {
		if p <= start {
			// A confirmed (or fallback) boundary collapsed onto the
			// previous one; skip the degenerate empty range.
			continue
		}
		ranges = append(ranges, Range{Start: start, End: p})
		start = p
	}
	ranges = append(ranges, Range{Start: start, End: len(buf)})

	return ranges, reg
}

// buildRegistryFirstPass sequentially scans buf for FMT records only,
// compiling every declared type. Data records are skipped using their
// declared length once known; an FMT for a type-id seen again is a no-op
// per the registry-monotonicity invariant.
func buildRegistryFirstPass(buf []byte) *registry.Registry {
	reg := registry.New()

	p := 0
	for p+scanner.HeaderLen <= len(buf) {
		if buf[p] != scanner.SyncByte0 || buf[p+1] != scanner.SyncByte1 {
			next := bytes.Index(buf[p+1:], []byte{scanner.SyncByte0, scanner.SyncByte1})
			if next < 0 {
				return reg
			}
			p = p + 1 + next
			continue
		}

		typeID := buf[p+2]
		if typeID == scanner.FMTTypeID {
			if p+scanner.FMTRecordLength > len(buf) {
				return reg
			}
			if _, err := reg.RegisterFMT(buf, p); err != nil {
				// An unparsable FMT is noise for the purposes of building
				// the split table; treat its header as a single stray byte
				// and keep scanning forward.
				p++
				continue
			}
			p += scanner.FMTRecordLength
			continue
		}

		length, known := reg.RecordLength(typeID)
		if !known {
			p++
			continue
		}
		if p+int(length) > len(buf) {
			return reg
		}
		p += int(length)
	}

	return reg
}

// confirmBoundary looks for a "double-sync" confirmed frame start at or
// after tentative, within a window of maxRecordLen bytes: the first
// candidate header whose declared length lands on another sync marker. It
// returns tentative unchanged if no confirmed boundary is found, trusting
// the scanner's resync to recover the next real boundary downstream.
func confirmBoundary(buf []byte, reg *registry.Registry, tentative int) int {
	end := tentative + maxRecordLen
	if end > len(buf) {
		end = len(buf)
	}

	for hdr := tentative; hdr+scanner.HeaderLen <= end; hdr++ {
		if buf[hdr] != scanner.SyncByte0 || buf[hdr+1] != scanner.SyncByte1 {
			continue
		}
		typeID := buf[hdr+2]

		var length int
		switch {
		case typeID == scanner.FMTTypeID:
			length = scanner.FMTRecordLength
		default:
			l, known := reg.RecordLength(typeID)
			if !known {
				continue
			}
			length = int(l)
		}

		next := hdr + length
		if next+scanner.HeaderLen > len(buf) {
			continue
		}
		if buf[next] == scanner.SyncByte0 && buf[next+1] == scanner.SyncByte1 {
			return hdr
		}
	}

	return tentative
}
