package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/engine/semantic"
)

// --- mocks ---

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	return s.vec, s.err
}

type stubStore struct {
	hits       []semantic.Hit
	err        error
	lastK      int
	lastFilter map[string]string
}

func (s *stubStore) Query(_ context.Context, _ []float32, k int, filter map[string]string) ([]semantic.Hit, error) {
	s.lastK = k
	s.lastFilter = filter
	return s.hits, s.err
}

func hit(id, sev, section, doc string, dist float64) semantic.Hit {
	return semantic.Hit{
		Document: doc,
		Distance: dist,
		Meta: map[string]string{
			semantic.KeyVulnerabilityID: id,
			semantic.KeySeverity:        sev,
			semantic.KeySection:         section,
		},
	}
}

// --- tests ---

func TestAggregate_GroupsByVulnerability(t *testing.T) {
	store := &stubStore{hits: []semantic.Hit{
		hit("CVE-2024-0002", "LOW", "description", "xss", 0.1),
		hit("CVE-2024-0001", "HIGH", "description", "rce", 0.2),
		hit("CVE-2024-0002", "LOW", "references", "https://x", 0.3),
		hit("CVE-2024-0001", "HIGH", "affected_products", "cpe:2.3:a:acme", 0.4),
	}}
	agg := New(&stubEmbedder{vec: []float32{1}}, store, nil)

	set, err := agg.Aggregate(context.Background(), "remote code execution", 4, "")
	if err != nil {
		t.Fatal(err)
	}
	ids := set.IDs()
	if len(ids) != 2 || ids[0] != "CVE-2024-0002" || ids[1] != "CVE-2024-0001" {
		t.Fatalf("expected first-seen order, got %v", ids)
	}
	rec, _ := set.Get("CVE-2024-0001")
	if rec.Severity != domain.SeverityHigh || rec.Sections.Len() != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}
	desc, _ := rec.Sections.Get("description")
	if desc.Content != "rce" || desc.Similarity != 0.8 {
		t.Fatalf("unexpected description %+v", desc)
	}
	if store.lastK != 4 || store.lastFilter != nil {
		t.Fatalf("unexpected query k=%d filter=%v", store.lastK, store.lastFilter)
	}
}

func TestAggregate_PartitionHasNoDuplicates(t *testing.T) {
	var hits []semantic.Hit
	for i := 0; i < 9; i++ {
		id := []string{"CVE-A", "CVE-B", "CVE-C"}[i%3]
		hits = append(hits, hit(id, "MEDIUM", []string{"description", "references", "affected_products"}[i/3], "doc", 0.5))
	}
	set, err := New(&stubEmbedder{vec: []float32{1}}, &stubStore{hits: hits}, nil).Aggregate(context.Background(), "q", 9, "")
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", set.Len())
	}
	for _, rec := range set.Records() {
		if rec.Sections.Len() != 3 {
			t.Fatalf("%s: expected 3 sections, got %d", rec.ID, rec.Sections.Len())
		}
	}
}

func TestAggregate_LastWriterWins(t *testing.T) {
	store := &stubStore{hits: []semantic.Hit{
		hit("CVE-1", "HIGH", "description", "first", 0.1),
		hit("CVE-1", "CRITICAL", "description", "second", 0.3),
	}}
	set, _ := New(&stubEmbedder{vec: []float32{1}}, store, nil).Aggregate(context.Background(), "q", 2, "")
	rec, _ := set.Get("CVE-1")
	sec, _ := rec.Sections.Get("description")
	if rec.Severity != domain.SeverityCritical || sec.Content != "second" || rec.Sections.Len() != 1 {
		t.Fatalf("expected last hit to win, got %+v", rec)
	}
}

func TestAggregate_SkipsHitsWithoutID(t *testing.T) {
	store := &stubStore{hits: []semantic.Hit{
		hit("", "HIGH", "description", "orphan", 0.1),
		hit("CVE-1", "LOW", "description", "kept", 0.2),
		{Document: "no meta", Distance: 0.3},
	}}
	set, err := New(&stubEmbedder{vec: []float32{1}}, store, nil).Aggregate(context.Background(), "q", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set.Get(""); ok {
		t.Fatal("record with empty id must not be created")
	}
	if ids := set.IDs(); len(ids) != 1 || ids[0] != "CVE-1" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestAggregate_EmptyHits(t *testing.T) {
	set, err := New(&stubEmbedder{vec: []float32{1}}, &stubStore{}, nil).Aggregate(context.Background(), "q", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(set)
	if set.Len() != 0 || string(b) != "{}" {
		t.Fatalf("expected empty set, got %s", b)
	}
}

func TestAggregate_SeverityFilterUppercased(t *testing.T) {
	store := &stubStore{}
	New(&stubEmbedder{vec: []float32{1}}, store, nil).Aggregate(context.Background(), "q", 3, " high ")
	if store.lastFilter[semantic.KeySeverity] != "HIGH" {
		t.Fatalf("expected HIGH filter, got %v", store.lastFilter)
	}
}

func TestAggregate_CaseInsensitiveFilterAgainstStore(t *testing.T) {
	mem := semantic.NewMemoryStore()
	mem.Upsert(context.Background(), []semantic.VectorRecord{
		{ID: "1", Embedding: []float32{1, 0}, Payload: map[string]any{semantic.KeyDocument: "a", semantic.KeyVulnerabilityID: "CVE-1", semantic.KeySeverity: "high", semantic.KeySection: "description"}},
		{ID: "2", Embedding: []float32{1, 0}, Payload: map[string]any{semantic.KeyDocument: "b", semantic.KeyVulnerabilityID: "CVE-2", semantic.KeySeverity: "LOW", semantic.KeySection: "description"}},
	})
	set, err := New(&stubEmbedder{vec: []float32{1, 0}}, mem, nil).Aggregate(context.Background(), "q", 5, "HIGH")
	if err != nil {
		t.Fatal(err)
	}
	if ids := set.IDs(); len(ids) != 1 || ids[0] != "CVE-1" {
		t.Fatalf("expected only CVE-1, got %v", ids)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	store := &stubStore{hits: []semantic.Hit{
		hit("CVE-1", "HIGH", "description", "a", 0.1),
		hit("CVE-2", "LOW", "description", "b", 0.2),
	}}
	agg := New(&stubEmbedder{vec: []float32{1}}, store, nil)
	first, _ := agg.Aggregate(context.Background(), "q", 2, "")
	second, _ := agg.Aggregate(context.Background(), "q", 2, "")
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("aggregate not idempotent:\n%s\n%s", a, b)
	}
}

func TestAggregate_Errors(t *testing.T) {
	boom := errors.New("boom")

	_, err := New(&stubEmbedder{err: boom}, &stubStore{}, nil).Aggregate(context.Background(), "q", 1, "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped embed error, got %v", err)
	}

	_, err = New(&stubEmbedder{vec: []float32{1}}, &stubStore{err: boom}, nil).Aggregate(context.Background(), "q", 1, "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestAggregate_Validation(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1}}
	agg := New(emb, &stubStore{}, nil)

	if _, err := agg.Aggregate(context.Background(), "  ", 1, ""); !errors.Is(err, domain.ErrQueryEmpty) {
		t.Fatalf("expected ErrQueryEmpty, got %v", err)
	}
	if _, err := agg.Aggregate(context.Background(), "q", 0, ""); !errors.Is(err, domain.ErrTopKOutOfRange) {
		t.Fatalf("expected ErrTopKOutOfRange, got %v", err)
	}
	if emb.calls != 0 {
		t.Fatal("embedder should not be called for invalid input")
	}
}
