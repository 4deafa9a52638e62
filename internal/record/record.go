// Package record provides an order-preserving, schema-less JSON record.
//
// Records decode from JSON objects keeping the original field order, so a
// collection read from a file and written back unchanged is byte-equivalent
// modulo whitespace. Field values stay as raw JSON, which keeps untouched
// fields byte-identical through a merge.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field is one name/value pair of a Record. Value holds the raw JSON
// encoding of the field value.
type Field struct {
	Name  string
	Value json.RawMessage
}

// Record is an ordered mapping from field name to raw JSON value.
// The zero value is an empty record ready for use.
type Record struct {
	fields []Field
	index  map[string]int
}

// New returns an empty Record.
func New() *Record {
	return &Record{index: make(map[string]int)}
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.fields)
}

// Fields returns the fields in insertion order. The returned slice is the
// record's backing storage; callers must not modify it.
func (r *Record) Fields() []Field {
	return r.fields
}

// Get returns the raw value of the named field and whether it exists.
func (r *Record) Get(name string) (json.RawMessage, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Set stores value under name. An existing field keeps its position and has
// its value replaced; a new field is appended.
func (r *Record) Set(name string, value json.RawMessage) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = value
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: value})
}

// GetString returns the field decoded as a JSON string. ok is false when the
// field is missing or not a string.
func (r *Record) GetString(name string) (string, bool) {
	raw, ok := r.Get(name)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Clone returns a deep copy. Mutating the copy never affects the original.
func (r *Record) Clone() *Record {
	cp := &Record{
		fields: make([]Field, len(r.fields)),
		index:  make(map[string]int, len(r.index)),
	}
	for i, f := range r.fields {
		v := make(json.RawMessage, len(f.Value))
		copy(v, f.Value)
		cp.fields[i] = Field{Name: f.Name, Value: v}
		cp.index[f.Name] = i
	}
	return cp
}

// Equal reports structural equality: same fields, same order, same raw
// values after whitespace normalization.
func (r *Record) Equal(other *Record) bool {
	if len(r.fields) != len(other.fields) {
		return false
	}
	for i, f := range r.fields {
		o := other.fields[i]
		if f.Name != o.Name {
			return false
		}
		if !bytes.Equal(compactJSON(f.Value), compactJSON(o.Value)) {
			return false
		}
	}
	return true
}

// compactJSON strips insignificant whitespace. Returns the input unchanged
// if it is not valid JSON.
func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// UnmarshalJSON decodes a JSON object, preserving field order. A key
// repeated within the object keeps its first position and takes the last
// value seen.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("record: decode: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record: expected JSON object, got %v", tok)
	}

	r.fields = nil
	r.index = make(map[string]int)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("record: decode key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("record: non-string key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("record: decode value for %q: %w", key, err)
		}
		r.Set(key, raw)
	}

	// Consume closing brace.
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("record: decode: %w", err)
	}
	return nil
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, fmt.Errorf("record: marshal field name %q: %w", f.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(compactJSON(f.Value))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Identifier returns the canonical token for the record's key field: the
// compacted raw JSON text, so the string "1" and the number 1 stay distinct.
// ok is false when the field is absent.
func (r *Record) Identifier(keyField string) (string, bool) {
	raw, ok := r.Get(keyField)
	if !ok {
		return "", false
	}
	return string(compactJSON(raw)), true
}

// DisplayIdentifier is Identifier without surrounding quotes on string
// values, for diagnostics and log output.
func (r *Record) DisplayIdentifier(keyField string) string {
	id, ok := r.Identifier(keyField)
	if !ok {
		return "<missing>"
	}
	return strings.Trim(id, `"`)
}
