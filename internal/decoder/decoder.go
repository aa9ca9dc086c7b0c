package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/tripwire/binlog/internal/registry"
	"github.com/tripwire/binlog/internal/typemap"
)

// roundPlaces7 rounds f to 7 decimal places, matching the spec's canonical
// rounding policy for ROUND_SET fields.
func roundPlaces7(f float64) float64 {
	const scale = 1e7
	return math.Round(f*scale) / scale
}

// Decode unpacks the record whose 3-byte header begins at buf[recordStart]
// using desc's compiled layout, applies each field's post-processing plan in
// declared order, and returns the resulting Record. round enables 7-decimal
// rounding for fields in the canonical ROUND_SET.
//
// buf must hold the 3-byte header at recordStart. Each field's window is
// checked against the bytes that follow the header, and Decode returns an
// error when the payload is too short for a field.
func Decode(buf []byte, desc *registry.Descriptor, recordStart int, round bool) (Record, error) {
	payload := buf[recordStart+3:]

	fields := make([]Field, 0, len(desc.Layout.Fields)+1)
	for _, fp := range desc.Layout.Fields {
		if fp.Offset+fp.Width > len(payload) {
			return Record{}, fmt.Errorf("decoder: field %q of type %q: payload too short", fp.Name, desc.Name)
		}
		window := payload[fp.Offset : fp.Offset+fp.Width]

		v, err := decodeField(fp, window, round)
		if err != nil {
			return Record{}, fmt.Errorf("decoder: type %q: %w", desc.Name, err)
		}
		fields = append(fields, Field{Name: fp.Name, Value: v})
	}

	return Record{TypeName: desc.Name, Fields: fields}, nil
}

func decodeField(fp typemap.FieldPlan, window []byte, round bool) (Value, error) {
	switch fp.Post {
	case typemap.KindRawBytes:
		cp := make([]byte, len(window))
		copy(cp, window)
		return Value{Tag: TagBytes, Bytes: cp}, nil

	case typemap.KindStringTrim:
		s := window
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return Value{Tag: TagString, Str: string(s)}, nil

	case typemap.KindInt16Array32:
		var arr [32]int16
		for i := 0; i < 32; i++ {
			arr[i] = int16(binary.LittleEndian.Uint16(window[i*2 : i*2+2]))
		}
		return Value{Tag: TagInt16Array32, Int16x32: arr}, nil

	case typemap.KindScale100:
		raw, err := readRawSigned(fp.Raw, window)
		if err != nil {
			return Value{}, err
		}
		f := float64(raw) / 100.0
		if round && fp.RoundEligible {
			f = roundPlaces7(f)
		}
		return Value{Tag: TagFloat64, Float: f}, nil

	case typemap.KindLatLon:
		raw, err := readRawSigned(fp.Raw, window)
		if err != nil {
			return Value{}, err
		}
		f := float64(raw) * 1e-7
		if round && fp.RoundEligible {
			f = roundPlaces7(f)
		}
		return Value{Tag: TagFloat64, Float: f}, nil

	case typemap.KindNone:
		return readRawValue(fp.Raw, window)

	default:
		return Value{}, fmt.Errorf("decoder: unhandled post-op %d for field %q", fp.Post, fp.Name)
	}
}

// readRawSigned reads the raw window as a signed 64-bit integer regardless of
// its declared signedness, preserving sign for the scaled types (c, e) that
// are always declared signed in the alphabet table.
func readRawSigned(kind typemap.RawKind, window []byte) (int64, error) {
	switch kind {
	case typemap.RawInt16:
		return int64(int16(binary.LittleEndian.Uint16(window))), nil
	case typemap.RawUint16:
		return int64(binary.LittleEndian.Uint16(window)), nil
	case typemap.RawInt32:
		return int64(int32(binary.LittleEndian.Uint32(window))), nil
	case typemap.RawUint32:
		return int64(binary.LittleEndian.Uint32(window)), nil
	default:
		return 0, fmt.Errorf("decoder: unsupported raw kind %d for scaled field", kind)
	}
}

// readRawValue reads the window per its raw wire kind with no post-processing.
func readRawValue(kind typemap.RawKind, window []byte) (Value, error) {
	switch kind {
	case typemap.RawInt8:
		return Value{Tag: TagInt64, Int: int64(int8(window[0]))}, nil
	case typemap.RawUint8:
		return Value{Tag: TagUint64, Uint: uint64(window[0])}, nil
	case typemap.RawInt16:
		return Value{Tag: TagInt64, Int: int64(int16(binary.LittleEndian.Uint16(window)))}, nil
	case typemap.RawUint16:
		return Value{Tag: TagUint64, Uint: uint64(binary.LittleEndian.Uint16(window))}, nil
	case typemap.RawInt32:
		return Value{Tag: TagInt64, Int: int64(int32(binary.LittleEndian.Uint32(window)))}, nil
	case typemap.RawUint32:
		return Value{Tag: TagUint64, Uint: uint64(binary.LittleEndian.Uint32(window))}, nil
	case typemap.RawInt64:
		return Value{Tag: TagInt64, Int: int64(binary.LittleEndian.Uint64(window))}, nil
	case typemap.RawUint64:
		return Value{Tag: TagUint64, Uint: binary.LittleEndian.Uint64(window)}, nil
	case typemap.RawFloat32:
		bits := binary.LittleEndian.Uint32(window)
		return Value{Tag: TagFloat64, Float: float64(math.Float32frombits(bits))}, nil
	case typemap.RawFloat64:
		bits := binary.LittleEndian.Uint64(window)
		return Value{Tag: TagFloat64, Float: math.Float64frombits(bits)}, nil
	default:
		return Value{}, fmt.Errorf("decoder: unsupported raw kind %d", kind)
	}
}

// DecodeFMT produces the synthetic FMT record emitted when the scanner
// yields a 0x80 header and the caller subscribes to FMT records. Its shape
// mirrors the upstream reference tool's output: mavpackettype "FMT" plus
// Type, Length, Name, Format, and Columns (the raw comma-joined field names).
func DecodeFMT(buf []byte, recordStart int) (Record, error) {
	if recordStart+registry.FMTRecordLength > len(buf) {
		return Record{}, fmt.Errorf("decoder: FMT record at offset %d: buffer too short", recordStart)
	}
	body := buf[recordStart : recordStart+registry.FMTRecordLength]

	declaredTypeID := body[3]
	declaredLength := body[4]
	name := trimASCII(body[5:9])
	format := trimASCII(body[9:25])
	columns := trimASCII(body[25:89])

	return Record{
		TypeName: "FMT",
		Fields: []Field{
			{Name: "Type", Value: Value{Tag: TagUint64, Uint: uint64(declaredTypeID)}},
			{Name: "Length", Value: Value{Tag: TagUint64, Uint: uint64(declaredLength)}},
			{Name: "Name", Value: Value{Tag: TagString, Str: name}},
			{Name: "Format", Value: Value{Tag: TagString, Str: format}},
			{Name: "Columns", Value: Value{Tag: TagString, Str: columns}},
		},
	}, nil
}

func trimASCII(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// FormatInt16Array renders a KindInt16Array32 value as a comma-separated
// list, used by sinks that need a flat textual representation.
func FormatInt16Array(v Value) string {
	if v.Tag != TagInt16Array32 {
		return ""
	}
	out := make([]byte, 0, 32*4)
	for i, x := range v.Int16x32 {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendInt(out, int64(x), 10)
	}
	return string(out)
}
