package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OrderedData is the execution-scoped key/value map exposed to workflow
// bodies. Keys are unique and iteration order is insertion order, preserved
// through JSON round-trips so replayed bodies observe identical data.
type OrderedData struct {
	keys   []string
	values map[string]any
}

func NewOrderedData() *OrderedData {
	return &OrderedData{values: make(map[string]any)}
}

func (d *OrderedData) Get(key string) (any, bool) {
	v, ok := d.values[key]

	return v, ok
}

func (d *OrderedData) Set(key string, value any) {
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}

	d.values[key] = value
}

func (d *OrderedData) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *OrderedData) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)

	return out
}

// Map returns a plain map copy, losing ordering.
func (d *OrderedData) Map() map[string]any {
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}

	return out
}

func (d *OrderedData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}

		v, err := json.Marshal(d.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal data key %q: %w", key, err)
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func (d *OrderedData) UnmarshalJSON(data []byte) error {
	d.keys = nil
	d.values = make(map[string]any)

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object for execution data, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}

		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string key in execution data, got %v", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode data key %q: %w", key, err)
		}

		d.Set(key, value)
	}

	return nil
}
