package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned by DecodeRecord when the input is valid JSON but not an object.
var ErrNotObject = errors.New("json value is not an object")

// Field is one key/value pair of a Record.
type Field struct {
	Key   string
	Value interface{}
}

// Record is a JSON object that remembers key insertion order.
// Result rows are written to CSV in this order, so the header of a results
// file follows the keys of the first successful row.
type Record []Field

// Set replaces the value of key in place, or appends it.
func (r *Record) Set(key string, value interface{}) {
	for i := range *r {
		if (*r)[i].Key == key {
			(*r)[i].Value = value
			return
		}
	}
	*r = append(*r, Field{Key: key, Value: value})
}

// Get returns the value of key.
func (r Record) Get(key string) (interface{}, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in insertion order.
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// Merge sets every field of other onto r, keeping the position of existing keys.
func (r *Record) Merge(other Record) {
	for _, f := range other {
		r.Set(f.Key, f.Value)
	}
}

// MarshalJSON writes the fields in insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object preserving key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	rec, err := DecodeRecord(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// DecodeRecord parses a JSON object keeping its top-level key order.
// Numbers are kept as json.Number so they print the way they were written.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNotObject
	}

	rec := Record{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		rec.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after json object")
	}
	return rec, nil
}
