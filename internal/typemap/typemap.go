// Package typemap compiles ArduPilot FMT field-type strings into a reusable
// binary-unpack plan and a per-field post-processing plan.
//
// A field-type string is up to 16 ASCII characters, each one a code for one
// field's wire representation (see the alphabet table in Compile). Compiling
// is a pure function: the same input always produces a byte-identical
// Layout, which lets the registry cache one Layout per observed type-id.
package typemap

import "fmt"

// Kind tags the post-processing operation applied to one decoded field after
// its raw bytes have been unpacked.
type Kind int

const (
	// KindNone passes the raw unpacked value through unchanged.
	KindNone Kind = iota
	// KindScale100 divides the raw signed/unsigned integer by 100, producing
	// a float64. Optionally rounds to 7 decimal places.
	KindScale100
	// KindLatLon multiplies the raw int32 by 1e-7, producing a float64
	// degrees value. Optionally rounds to 7 decimal places.
	KindLatLon
	// KindStringTrim decodes a fixed-width ASCII window, truncating at the
	// first NUL byte.
	KindStringTrim
	// KindRawBytes passes the fixed-width byte window through unchanged.
	// Used only for the field literally named "Data" within a Z-type slot.
	KindRawBytes
	// KindInt16Array32 decodes 32 little-endian signed 16-bit integers.
	KindInt16Array32
)

// RawKind identifies the wire representation read from the payload before
// any post-processing is applied.
type RawKind int

const (
	RawInt8 RawKind = iota
	RawUint8
	RawInt16
	RawUint16
	RawInt32
	RawUint32
	RawInt64
	RawUint64
	RawFloat32
	RawFloat64
	RawBytes
)

// FieldPlan is the compiled plan for a single field: where to read it from
// the payload, how to interpret the raw bytes, and what post-processing (if
// any) to apply before handing the value to the caller.
type FieldPlan struct {
	Name    string
	Offset  int // byte offset from the start of the payload (after the 3-byte header)
	Width   int // raw width in bytes
	Raw     RawKind
	Post    Kind
	// RoundEligible reports whether this field is a member of the canonical
	// ROUND_SET. It is consulted only when the caller enables rounding at
	// decode time; it does not itself trigger rounding.
	RoundEligible bool
	RawByte       byte // the original field-type character, kept for diagnostics
}

// Layout is the compiled binary-unpack plan for one message type: an ordered
// list of FieldPlan entries whose combined Width sums to the payload length
// (record_length - 3).
type Layout struct {
	Fields      []FieldPlan
	PayloadSize int
}

// charSpec describes one entry of the field-type alphabet.
type charSpec struct {
	width int
	raw   RawKind
	post  Kind
}

// alphabet is the canonical field-type table from the FMT specification.
// Never reorder or remove entries: type-ids compiled against an older table
// must decode identically.
var alphabet = map[byte]charSpec{
	'b': {1, RawInt8, KindNone},
	'B': {1, RawUint8, KindNone},
	'h': {2, RawInt16, KindNone},
	'H': {2, RawUint16, KindNone},
	'i': {4, RawInt32, KindNone},
	'I': {4, RawUint32, KindNone},
	'q': {8, RawInt64, KindNone},
	'Q': {8, RawUint64, KindNone},
	'f': {4, RawFloat32, KindNone},
	'd': {8, RawFloat64, KindNone},
	'M': {1, RawUint8, KindNone},
	'a': {64, RawBytes, KindInt16Array32},
	'n': {4, RawBytes, KindStringTrim},
	'N': {16, RawBytes, KindStringTrim},
	'Z': {64, RawBytes, KindStringTrim},
	'c': {2, RawInt16, KindScale100},
	'C': {2, RawUint16, KindScale100},
	'e': {4, RawInt32, KindScale100},
	'E': {4, RawUint32, KindScale100},
	'L': {4, RawInt32, KindLatLon},
}

// UnsupportedTypeCharError reports a field-type character absent from the
// alphabet table. The offending FMT is rejected; the caller is expected to
// continue treating records of that type-id as noise.
type UnsupportedTypeCharError struct {
	Char     byte
	TypeName string
}

func (e *UnsupportedTypeCharError) Error() string {
	return fmt.Sprintf("typemap: unsupported field-type char %q in type %q", e.Char, e.TypeName)
}

// roundSet is the canonical set of field names rounded to 7 decimal places
// when the caller requests rounding and the field's post-op is KindScale100
// or KindLatLon. Frozen per spec; never mutated at runtime.
var roundSet = map[string]struct{}{
	"Lat": {}, "Lng": {}, "TLat": {}, "TLng": {}, "Pitch": {}, "IPE": {}, "Yaw": {},
	"IPN": {}, "IYAW": {}, "DesPitch": {}, "NavPitch": {}, "Temp": {}, "AltE": {},
	"VDop": {}, "VAcc": {}, "Roll": {}, "HAGL": {}, "SM": {}, "VWN": {}, "VWE": {},
	"IVT": {}, "SAcc": {}, "TAW": {}, "IPD": {}, "ErrRP": {}, "SVT": {}, "SP": {},
	"TAT": {}, "GZ": {}, "HDop": {}, "NavRoll": {}, "NavBrg": {}, "TAsp": {},
	"HAcc": {}, "DesRoll": {}, "SH": {}, "TBrg": {}, "AX": {},
}

// InRoundSet reports whether name is rounded to 7 decimal places when
// rounding is enabled.
func InRoundSet(name string) bool {
	_, ok := roundSet[name]
	return ok
}

// Compile builds a Layout from a 16-character (NUL-padded, already-trimmed)
// field-type string and its parallel list of field names. len(fieldTypes)
// must equal len(fieldNames); both are the already-split, already-trimmed
// values taken from a parsed FMT record.
//
// Compile is a pure function: calling it twice with identical inputs yields
// byte-identical Layouts (fulfils the registry's re-parse idempotence
// invariant).
func Compile(typeName string, fieldTypes string, fieldNames []string) (Layout, error) {
	if len(fieldTypes) != len(fieldNames) {
		return Layout{}, fmt.Errorf("typemap: field-type/name count mismatch in %q: %d types, %d names",
			typeName, len(fieldTypes), len(fieldNames))
	}

	fields := make([]FieldPlan, 0, len(fieldTypes))
	offset := 0
	for i := 0; i < len(fieldTypes); i++ {
		ch := fieldTypes[i]
		spec, ok := alphabet[ch]
		if !ok {
			return Layout{}, &UnsupportedTypeCharError{Char: ch, TypeName: typeName}
		}

		name := fieldNames[i]
		post := spec.post
		// The sole exception: a field literally named "Data" within a Z slot
		// carries a firmware-specific binary blob and is left as raw bytes.
		if ch == 'Z' && name == "Data" {
			post = KindRawBytes
		}

		fields = append(fields, FieldPlan{
			Name:          name,
			Offset:        offset,
			Width:         spec.width,
			Raw:           spec.raw,
			Post:          post,
			RoundEligible: (post == KindScale100 || post == KindLatLon) && InRoundSet(name),
			RawByte:       ch,
		})
		offset += spec.width
	}

	return Layout{Fields: fields, PayloadSize: offset}, nil
}
