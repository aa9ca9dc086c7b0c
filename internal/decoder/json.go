package decoder

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON renders the record as a JSON object with all FMT-declared
// fields in their declared order, followed by mavpackettype — matching the
// deterministic field order required by spec.md §6.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONField(&buf, f.Name, f.Value)
	}
	if len(r.Fields) > 0 {
		buf.WriteByte(',')
	}
	writeJSONField(&buf, "mavpackettype", Value{Tag: TagString, Str: r.TypeName})
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONField(buf *bytes.Buffer, name string, v Value) {
	key, _ := json.Marshal(name)
	buf.Write(key)
	buf.WriteByte(':')

	switch v.Tag {
	case TagInt64:
		b, _ := json.Marshal(v.Int)
		buf.Write(b)
	case TagUint64:
		b, _ := json.Marshal(v.Uint)
		buf.Write(b)
	case TagFloat64:
		b, _ := json.Marshal(v.Float)
		buf.Write(b)
	case TagString:
		b, _ := json.Marshal(v.Str)
		buf.Write(b)
	case TagBytes:
		b, _ := json.Marshal(v.Bytes) // base64, matching encoding/json's []byte default
		buf.Write(b)
	case TagInt16Array32:
		b, _ := json.Marshal(v.Int16x32)
		buf.Write(b)
	default:
		buf.WriteString("null")
	}
}
