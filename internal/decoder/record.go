// Package decoder turns a (descriptor, payload-offset) pair produced by the
// framing scanner into a decoded field map, applying each field's compiled
// post-processing plan (scaling, ASCII trimming, coordinate conversion,
// optional rounding).
package decoder

// Field is one named value within a decoded Record, in FMT-declared order.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered mapping from field name to value, exactly mirroring
// the FMT's declared field order, followed by the synthetic mavpackettype
// field. Iteration order is deterministic and callers may rely on it.
type Record struct {
	TypeName string
	Fields   []Field
}

// Get returns the value of the named field and whether it was present.
// Record sizes are small (well under a few dozen fields) so a linear scan is
// simpler and just as fast as a map in practice.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// MavPacketType returns the synthetic mavpackettype field, i.e. the record's
// type name.
func (r Record) MavPacketType() string { return r.TypeName }
