package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// ErrDimensionMismatch is returned when a vector's length differs from the store's.
var ErrDimensionMismatch = errors.New("semantic: embedding dimension mismatch")

// MemoryStore is an in-process cosine index with the same query contract as
// VectorStore. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	dims    int
	order   []string
	records map[string]VectorRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]VectorRecord)}
}

// Upsert inserts or replaces records by ID.
func (m *MemoryStore) Upsert(_ context.Context, records []VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if m.dims == 0 {
			m.dims = len(r.Embedding)
		}
		if len(r.Embedding) != m.dims {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(r.Embedding), m.dims)
		}
		if _, ok := m.records[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		m.records[r.ID] = r
	}
	return nil
}

// Len returns the number of stored points.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Query ranks stored points by cosine distance to embedding. Filter values
// compare case-insensitively.
func (m *MemoryStore) Query(_ context.Context, embedding []float32, k int, filter map[string]string) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.records) > 0 && len(embedding) != m.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), m.dims)
	}

	hits := make([]Hit, 0, len(m.records))
	for _, id := range m.order {
		r := m.records[id]
		if !matches(r.Payload, filter) {
			continue
		}
		meta := make(map[string]string, len(r.Payload))
		var doc string
		for key, val := range r.Payload {
			if key == KeyDocument {
				doc = fmt.Sprint(val)
				continue
			}
			meta[key] = fmt.Sprint(val)
		}
		hits = append(hits, Hit{
			ID:       id,
			Document: doc,
			Meta:     meta,
			Distance: 1 - cosine(embedding, r.Embedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func matches(payload map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		got, ok := payload[key]
		if !ok || !strings.EqualFold(fmt.Sprint(got), want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
