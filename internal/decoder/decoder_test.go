package decoder_test

import (
	"encoding/binary"
	"testing"

	"github.com/tripwire/binlog/internal/decoder"
	"github.com/tripwire/binlog/internal/registry"
)

func buildFMT(t *testing.T, declaredTypeID, declaredLength byte, name, fieldTypes, columns string) []byte {
	t.Helper()
	buf := make([]byte, registry.FMTRecordLength)
	buf[0], buf[1] = 0xA3, 0x95
	buf[2] = registry.FMTTypeID
	buf[3] = declaredTypeID
	buf[4] = declaredLength
	copy(buf[5:9], name)
	copy(buf[9:25], fieldTypes)
	copy(buf[25:89], columns)
	return buf
}

func mustRegister(t *testing.T, reg *registry.Registry, fmtRecord []byte) *registry.Descriptor {
	t.Helper()
	d, err := reg.RegisterFMT(fmtRecord, 0)
	if err != nil {
		t.Fatalf("RegisterFMT: %v", err)
	}
	return d
}

// TestScenarioS1 mirrors spec.md §8 S1: a GPS type with a single uint8
// "Stat" field, decoded from two records.
func TestScenarioS1(t *testing.T) {
	reg := registry.New()
	fmtRec := buildFMT(t, 1, 4, "GPS", "B", "Stat")
	desc := mustRegister(t, reg, fmtRec)

	if desc.Name != "GPS" || desc.RecordLength != 4 {
		t.Fatalf("descriptor = %+v, want GPS/4", desc)
	}
	if len(desc.FieldNames) != 1 || desc.FieldNames[0] != "Stat" {
		t.Fatalf("field names = %v, want [Stat]", desc.FieldNames)
	}

	rec1 := []byte{0xA3, 0x95, 1, 42}
	rec2 := []byte{0xA3, 0x95, 1, 255}

	r1, err := decoder.Decode(rec1, desc, 0, false)
	if err != nil {
		t.Fatalf("Decode rec1: %v", err)
	}
	v, ok := r1.Get("Stat")
	if !ok || v.Uint64() != 42 {
		t.Errorf("rec1 Stat = %+v, want 42", v)
	}
	if r1.MavPacketType() != "GPS" {
		t.Errorf("mavpackettype = %q, want GPS", r1.MavPacketType())
	}

	r2, err := decoder.Decode(rec2, desc, 0, false)
	if err != nil {
		t.Fatalf("Decode rec2: %v", err)
	}
	v2, _ := r2.Get("Stat")
	if v2.Uint64() != 255 {
		t.Errorf("rec2 Stat = %+v, want 255", v2)
	}
}

// TestScenarioS4 mirrors spec.md §8 S4: L-scaling with and without rounding.
func TestScenarioS4(t *testing.T) {
	reg := registry.New()
	fmtRec := buildFMT(t, 2, 7, "NAV", "L", "Lat")
	desc := mustRegister(t, reg, fmtRec)

	encode := func(raw int32) []byte {
		buf := make([]byte, 7)
		buf[0], buf[1], buf[2] = 0xA3, 0x95, 2
		binary.LittleEndian.PutUint32(buf[3:], uint32(raw))
		return buf
	}

	rec := encode(324820000)
	r, err := decoder.Decode(rec, desc, 0, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	v, _ := r.Get("Lat")
	if v.Float64() != 32.482 {
		t.Errorf("Lat (round off) = %v, want 32.482", v.Float64())
	}

	rRound, err := decoder.Decode(rec, desc, 0, true)
	if err != nil {
		t.Fatalf("Decode (round): %v", err)
	}
	vr, _ := rRound.Get("Lat")
	if vr.Float64() != 32.482 {
		t.Errorf("Lat (round on, 7dp already exact) = %v, want 32.482", vr.Float64())
	}

	rec2 := encode(324820001)
	r2, err := decoder.Decode(rec2, desc, 0, true)
	if err != nil {
		t.Fatalf("Decode rec2: %v", err)
	}
	v2, _ := r2.Get("Lat")
	if v2.Float64() != 32.4820001 {
		t.Errorf("Lat rec2 (round on) = %v, want 32.4820001", v2.Float64())
	}
}

// TestScenarioS5 mirrors spec.md §8 S5: c/C/e/E scaling, unaffected by
// rounding since Spd/Alt are not in ROUND_SET.
func TestScenarioS5(t *testing.T) {
	reg := registry.New()
	fmtRec := buildFMT(t, 3, 9, "VFR", "Ce", "Spd,Alt")
	desc := mustRegister(t, reg, fmtRec)

	buf := make([]byte, 9)
	buf[0], buf[1], buf[2] = 0xA3, 0x95, 3
	binary.LittleEndian.PutUint16(buf[3:], 12345)
	alt := int32(-678)
	binary.LittleEndian.PutUint32(buf[5:], uint32(alt))

	for _, round := range []bool{false, true} {
		r, err := decoder.Decode(buf, desc, 0, round)
		if err != nil {
			t.Fatalf("Decode(round=%v): %v", round, err)
		}
		spd, _ := r.Get("Spd")
		if spd.Float64() != 123.45 {
			t.Errorf("round=%v: Spd = %v, want 123.45", round, spd.Float64())
		}
		alt, _ := r.Get("Alt")
		if alt.Float64() != -6.78 {
			t.Errorf("round=%v: Alt = %v, want -6.78", round, alt.Float64())
		}
	}
}

func TestStringTrimExcludesDataField(t *testing.T) {
	reg := registry.New()
	fmtRec := buildFMT(t, 4, 3+64+64, "FILE", "ZZ", "Name,Data")
	desc := mustRegister(t, reg, fmtRec)

	buf := make([]byte, 3+64+64)
	buf[0], buf[1], buf[2] = 0xA3, 0x95, 4
	copy(buf[3:], "hello.txt\x00garbage-after-nul")
	copy(buf[67:], []byte{1, 2, 3, 0, 99})

	r, err := decoder.Decode(buf, desc, 0, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	name, _ := r.Get("Name")
	if name.Tag != decoder.TagString || name.Str != "hello.txt" {
		t.Errorf("Name = %+v, want string 'hello.txt'", name)
	}

	data, _ := r.Get("Data")
	if data.Tag != decoder.TagBytes {
		t.Fatalf("Data tag = %v, want TagBytes", data.Tag)
	}
	if len(data.Bytes) != 64 || data.Bytes[0] != 1 || data.Bytes[3] != 0 || data.Bytes[4] != 99 {
		t.Errorf("Data bytes not preserved verbatim: %v", data.Bytes[:8])
	}
}

func TestDecodeFMTSyntheticRecord(t *testing.T) {
	fmtRec := buildFMT(t, 1, 4, "GPS", "B", "Stat")
	r, err := decoder.DecodeFMT(fmtRec, 0)
	if err != nil {
		t.Fatalf("DecodeFMT: %v", err)
	}
	if r.MavPacketType() != "FMT" {
		t.Fatalf("mavpackettype = %q, want FMT", r.MavPacketType())
	}
	typ, _ := r.Get("Type")
	if typ.Uint64() != 1 {
		t.Errorf("Type = %v, want 1", typ.Uint64())
	}
	name, _ := r.Get("Name")
	if name.Str != "GPS" {
		t.Errorf("Name = %q, want GPS", name.Str)
	}
	cols, _ := r.Get("Columns")
	if cols.Str != "Stat" {
		t.Errorf("Columns = %q, want Stat", cols.Str)
	}
}
