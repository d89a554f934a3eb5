package core

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"
)

// Fields is an insertion-ordered mapping of attribute name to value.
// The values are opaque to this module. A nil *Fields behaves as empty.
type Fields struct {
	keys   []string
	values map[string]interface{}
}

// NewFields returns an empty Fields.
func NewFields() *Fields {
	return &Fields{values: make(map[string]interface{})}
}

// FieldsFromMap builds Fields from a plain map. Keys are ordered
// lexicographically since a Go map carries no order.
func FieldsFromMap(m map[string]interface{}) *Fields {
	f := NewFields()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.Set(k, m[k])
	}
	return f
}

// Set assigns value to key, appending key if it is new. It returns f for chaining.
func (f *Fields) Set(key string, value interface{}) *Fields {
	if f.values == nil {
		f.values = make(map[string]interface{})
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
	return f
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (interface{}, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.values[key]
	return v, ok
}

// Delete removes key, keeping the order of the remaining keys.
func (f *Fields) Delete(key string) {
	if f == nil {
		return
	}
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of keys.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Clone returns a shallow copy of f.
func (f *Fields) Clone() *Fields {
	out := NewFields()
	if f == nil {
		return out
	}
	for _, k := range f.keys {
		out.Set(k, f.values[k])
	}
	return out
}

// Merge writes every key of patch into f, overwriting existing values in
// place and appending new keys in patch order. It returns f.
func (f *Fields) Merge(patch *Fields) *Fields {
	if patch == nil {
		return f
	}
	for _, k := range patch.keys {
		f.Set(k, patch.values[k])
	}
	return f
}

// Map returns the fields as a plain map.
func (f *Fields) Map() map[string]interface{} {
	out := make(map[string]interface{}, f.Len())
	if f == nil {
		return out
	}
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes f as a JSON object preserving key order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into f, recording keys in document order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := stdjson.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(stdjson.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}
	f.keys = nil
	f.values = make(map[string]interface{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: expected key, got %v", tok)
		}
		var raw stdjson.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		f.Set(key, value)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
