package fn

import (
	"bytes"
	"encoding/json"
)

// OrderedMap is a string-keyed map that remembers first insertion order.
// Overwriting a key keeps its original position. The zero value is ready to use.
type OrderedMap[V any] struct {
	keys []string
	vals map[string]V
}

// Set stores v under k.
func (m *OrderedMap[V]) Set(k string, v V) {
	if m.vals == nil {
		m.vals = make(map[string]V)
	}
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
}

// Get returns the value stored under k.
func (m *OrderedMap[V]) Get(k string) (V, bool) {
	v, ok := m.vals[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *OrderedMap[V]) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int { return len(m.keys) }

// Each calls f for every entry in insertion order.
func (m *OrderedMap[V]) Each(f func(k string, v V)) {
	for _, k := range m.keys {
		f(k, m.vals[k])
	}
}

// MarshalJSON encodes the map as a JSON object preserving key order.
func (m OrderedMap[V]) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.vals[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
