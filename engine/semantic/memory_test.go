package semantic

import (
	"context"
	"errors"
	"math"
	"testing"
)

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	err := m.Upsert(context.Background(), []VectorRecord{
		{ID: "a", Embedding: []float32{1, 0}, Payload: map[string]any{KeyDocument: "rce", KeyVulnerabilityID: "CVE-1", KeySeverity: "HIGH", KeySection: "description"}},
		{ID: "b", Embedding: []float32{0.6, 0.8}, Payload: map[string]any{KeyDocument: "products", KeyVulnerabilityID: "CVE-1", KeySeverity: "HIGH", KeySection: "affected_products"}},
		{ID: "c", Embedding: []float32{0, 1}, Payload: map[string]any{KeyDocument: "xss", KeyVulnerabilityID: "CVE-2", KeySeverity: "low", KeySection: "description"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMemoryStoreRanksByDistance(t *testing.T) {
	m := seedMemory(t)
	hits, err := m.Query(context.Background(), []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[1].ID != "b" {
		t.Fatalf("unexpected ranking %+v", hits)
	}
	if hits[0].Distance != 0 || math.Abs(hits[1].Distance-0.4) > 1e-6 {
		t.Fatalf("unexpected distances %v %v", hits[0].Distance, hits[1].Distance)
	}
	if hits[0].Document != "rce" || hits[0].Meta[KeySection] != "description" {
		t.Fatalf("payload not mapped: %+v", hits[0])
	}
}

func TestMemoryStoreFilterIsCaseInsensitive(t *testing.T) {
	m := seedMemory(t)
	hits, err := m.Query(context.Background(), []float32{1, 0}, 10, map[string]string{KeySeverity: "LOW"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Meta[KeyVulnerabilityID] != "CVE-2" {
		t.Fatalf("expected only CVE-2, got %+v", hits)
	}
}

func TestMemoryStoreUpsertReplaces(t *testing.T) {
	m := seedMemory(t)
	err := m.Upsert(context.Background(), []VectorRecord{{ID: "a", Embedding: []float32{0, 1}, Payload: map[string]any{KeyDocument: "new"}}})
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 points, got %d", m.Len())
	}
}

func TestMemoryStoreDimensionMismatch(t *testing.T) {
	m := seedMemory(t)
	if _, err := m.Query(context.Background(), []float32{1, 0, 0}, 1, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	err := m.Upsert(context.Background(), []VectorRecord{{ID: "z", Embedding: []float32{1}}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMemoryStoreEmpty(t *testing.T) {
	hits, err := NewMemoryStore().Query(context.Background(), []float32{1}, 5, nil)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected no hits, got %v %v", hits, err)
	}
}
