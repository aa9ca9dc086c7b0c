package decoder

import "fmt"

// Tag identifies which field of Value holds the decoded payload.
type Tag int

const (
	TagInt64 Tag = iota
	TagUint64
	TagFloat64
	TagString
	TagBytes
	TagInt16Array32
)

// Value is a tagged union over every value domain a decoded field can take:
// signed/unsigned integers, floats, ASCII strings, raw byte windows, and the
// fixed-size 32-element int16 array produced by the 'a' field type.
type Value struct {
	Tag      Tag
	Int      int64
	Uint     uint64
	Float    float64
	Str      string
	Bytes    []byte
	Int16x32 [32]int16
}

// Int64 returns the Int field for convenience when Tag == TagInt64.
func (v Value) Int64() int64 { return v.Int }

// Uint64 returns the Uint field for convenience when Tag == TagUint64.
func (v Value) Uint64() uint64 { return v.Uint }

// Float64 returns the Float field for convenience when Tag == TagFloat64.
func (v Value) Float64() float64 { return v.Float }

// String renders the value for display/debugging. It does not attempt a
// lossless round trip of numeric values; callers that need the typed value
// should switch on Tag instead.
func (v Value) String() string {
	switch v.Tag {
	case TagInt64:
		return fmt.Sprintf("%d", v.Int)
	case TagUint64:
		return fmt.Sprintf("%d", v.Uint)
	case TagFloat64:
		return fmt.Sprintf("%g", v.Float)
	case TagString:
		return v.Str
	case TagBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case TagInt16Array32:
		return fmt.Sprintf("%v", v.Int16x32)
	default:
		return "<invalid>"
	}
}
