package typemap_test

import (
	"errors"
	"testing"

	"github.com/tripwire/binlog/internal/typemap"
)

func TestCompileBasicWidths(t *testing.T) {
	layout, err := typemap.Compile("GPS", "BHif", []string{"Stat", "Spd", "Alt", "Lat"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if layout.PayloadSize != 1+2+4+4 {
		t.Fatalf("PayloadSize = %d, want 11", layout.PayloadSize)
	}

	wantOffsets := []int{0, 1, 3, 7}
	for i, f := range layout.Fields {
		if f.Offset != wantOffsets[i] {
			t.Errorf("field %d (%s): offset = %d, want %d", i, f.Name, f.Offset, wantOffsets[i])
		}
	}
}

func TestCompileScalingAndRounding(t *testing.T) {
	layout, err := typemap.Compile("NAV", "LcC", []string{"Lat", "Spd", "Hdg"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	lat := layout.Fields[0]
	if lat.Post != typemap.KindLatLon {
		t.Errorf("Lat post = %v, want KindLatLon", lat.Post)
	}
	if !lat.RoundEligible {
		t.Errorf("Lat should be round-eligible (canonical ROUND_SET)")
	}

	spd := layout.Fields[1]
	if spd.Post != typemap.KindScale100 {
		t.Errorf("Spd post = %v, want KindScale100", spd.Post)
	}
	if spd.RoundEligible {
		t.Errorf("Spd is not in ROUND_SET and must not be round-eligible")
	}

	hdg := layout.Fields[2]
	if hdg.RoundEligible {
		t.Errorf("Hdg is not in ROUND_SET and must not be round-eligible")
	}
}

func TestCompileDataFieldRawBytes(t *testing.T) {
	layout, err := typemap.Compile("FILE", "Z", []string{"Data"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if layout.Fields[0].Post != typemap.KindRawBytes {
		t.Errorf("Data field post = %v, want KindRawBytes", layout.Fields[0].Post)
	}
}

func TestCompileStringTrimForNonDataZField(t *testing.T) {
	layout, err := typemap.Compile("MSG", "Z", []string{"Message"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if layout.Fields[0].Post != typemap.KindStringTrim {
		t.Errorf("Message field post = %v, want KindStringTrim", layout.Fields[0].Post)
	}
}

func TestCompileUnsupportedChar(t *testing.T) {
	_, err := typemap.Compile("BAD", "x", []string{"Foo"})
	var unsupported *typemap.UnsupportedTypeCharError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedTypeCharError, got %v", err)
	}
	if unsupported.Char != 'x' {
		t.Errorf("Char = %q, want 'x'", unsupported.Char)
	}
}

func TestCompileCountMismatch(t *testing.T) {
	_, err := typemap.Compile("BAD", "BB", []string{"Only1"})
	if err == nil {
		t.Fatal("expected error on field count mismatch")
	}
}

func TestCompileIdempotent(t *testing.T) {
	a, err := typemap.Compile("GPS", "BHif", []string{"Stat", "Spd", "Alt", "Lat"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, err := typemap.Compile("GPS", "BHif", []string{"Stat", "Spd", "Alt", "Lat"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(a.Fields) != len(b.Fields) {
		t.Fatalf("recompiled layouts differ in field count")
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			t.Fatalf("recompiled layout field %d differs: %+v != %+v", i, a.Fields[i], b.Fields[i])
		}
	}
}

func TestAllAlphabetCharsCompile(t *testing.T) {
	for _, ch := range "bBhHiIqQfdMacNnZcCeEL" {
		_, err := typemap.Compile("T", string(ch), []string{"F"})
		if err != nil {
			t.Errorf("char %q: unexpected error: %v", ch, err)
		}
	}
}
