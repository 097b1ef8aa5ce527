package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/engine/enrich"
	"github.com/vulnsight/cverag/engine/evidence"
	"github.com/vulnsight/cverag/engine/semantic"
	"github.com/vulnsight/cverag/pkg/metrics"
	"github.com/vulnsight/cverag/pkg/ollama"
)

// --- mocks ---

type mockAggregator struct {
	set  *domain.RecordSet
	err  error
	last domain.Query
}

func (m *mockAggregator) Aggregate(_ context.Context, q string, topK int, severity string) (*domain.RecordSet, error) {
	m.last = domain.Query{Text: q, TopK: topK, Severity: severity}
	return m.set, m.err
}

type mockEnricher struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failOn   string
	err      error
}

func (m *mockEnricher) Enrich(_ context.Context, id string, _ *domain.VulnerabilityRecord) (domain.EnrichmentResult, error) {
	m.calls.Add(1)
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(m.delay)
	if id == m.failOn {
		return domain.EnrichmentResult{}, m.err
	}
	return domain.EnrichmentResult{AttackScenario: "attack on " + id, Mitigation: "patch " + id}, nil
}

type stubEmbedder struct{ vec []float32 }

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) { return s.vec, nil }

type scriptedGenerator struct {
	mu    sync.Mutex
	calls int
	out   string
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, _ ollama.GenerateOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.out, nil
}

// blockingEnricher holds every record except failID until its context ends.
type blockingEnricher struct {
	failID string
	err    error
	seen   chan string
}

func (b *blockingEnricher) Enrich(ctx context.Context, id string, _ *domain.VulnerabilityRecord) (domain.EnrichmentResult, error) {
	if id == b.failID {
		// fail only once the other record is in flight
		<-b.seen
		return domain.EnrichmentResult{}, b.err
	}
	b.seen <- id
	<-ctx.Done()
	return domain.EnrichmentResult{}, ctx.Err()
}

func setOf(ids ...string) *domain.RecordSet {
	set := domain.NewRecordSet()
	for _, id := range ids {
		set.GetOrCreate(id).Add(domain.SearchHit{VulnerabilityID: id, Severity: domain.SeverityMedium, Section: "description", Document: "doc " + id, Similarity: 0.5})
	}
	return set
}

// --- tests ---

func TestInvoke_EmptyEvidenceSkipsEnrichment(t *testing.T) {
	enr := &mockEnricher{}
	svc := New(&mockAggregator{set: domain.NewRecordSet()}, enr, DefaultOptions(), nil, nil)

	set, err := svc.Invoke(context.Background(), "nothing matches", 5)
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 0 || enr.calls.Load() != 0 {
		t.Fatalf("expected empty set and zero enrich calls, got %d records, %d calls", set.Len(), enr.calls.Load())
	}
}

func TestInvoke_MergesInAggregatorOrder(t *testing.T) {
	ids := []string{"CVE-3", "CVE-1", "CVE-2", "CVE-5", "CVE-4"}
	enr := &mockEnricher{delay: 5 * time.Millisecond}
	svc := New(&mockAggregator{set: setOf(ids...)}, enr, Options{EnrichWorkers: 3}, nil, nil)

	set, err := svc.Invoke(context.Background(), "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	got := set.IDs()
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("order changed: %v", got)
		}
	}
	for _, rec := range set.Records() {
		s, ok := rec.Sections.Get(domain.SectionAttackScenario)
		if !ok || s.Kind != domain.SectionGenerated || s.Content != "attack on "+rec.ID {
			t.Fatalf("%s: enrichment not merged: %+v", rec.ID, s)
		}
	}
	if p := enr.peak.Load(); p > 3 {
		t.Fatalf("worker bound exceeded: peak %d", p)
	}
}

func TestInvoke_SequentialWorkers(t *testing.T) {
	enr := &mockEnricher{delay: time.Millisecond}
	svc := New(&mockAggregator{set: setOf("a", "b", "c")}, enr, Options{EnrichWorkers: 1}, nil, nil)
	if _, err := svc.Invoke(context.Background(), "q", 3); err != nil {
		t.Fatal(err)
	}
	if enr.peak.Load() != 1 {
		t.Fatalf("expected sequential enrichment, peak %d", enr.peak.Load())
	}
}

func TestInvoke_EnrichmentOverwritesRetrievedSection(t *testing.T) {
	set := setOf("CVE-1")
	rec, _ := set.Get("CVE-1")
	rec.Add(domain.SearchHit{VulnerabilityID: "CVE-1", Severity: domain.SeverityMedium, Section: domain.SectionMitigation, Document: "retrieved", Similarity: 0.9})

	svc := New(&mockAggregator{set: set}, &mockEnricher{}, DefaultOptions(), nil, nil)
	out, err := svc.Invoke(context.Background(), "q", 1)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ = out.Get("CVE-1")
	m, _ := rec.Sections.Get(domain.SectionMitigation)
	if m.Kind != domain.SectionGenerated || m.Content != "patch CVE-1" {
		t.Fatalf("enrichment should win, got %+v", m)
	}
}

func TestInvoke_EnrichFailureFailsQuery(t *testing.T) {
	boom := errors.New("model down")
	enr := &mockEnricher{failOn: "CVE-1", err: boom}
	svc := New(&mockAggregator{set: setOf("CVE-1", "CVE-2")}, enr, Options{EnrichWorkers: 1}, nil, nil)
	if _, err := svc.Invoke(context.Background(), "q", 2); !errors.Is(err, boom) {
		t.Fatalf("expected enrich failure, got %v", err)
	}
}

func TestInvoke_ParallelFailureReportsCause(t *testing.T) {
	boom := errors.New("ollama: connection refused")
	enr := &blockingEnricher{failID: "CVE-B", err: boom, seen: make(chan string, 1)}
	svc := New(&mockAggregator{set: setOf("CVE-A", "CVE-B")}, enr, Options{EnrichWorkers: 2}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Invoke(context.Background(), "q", 2)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected upstream failure, got %v", err)
		}
		if errors.Is(err, context.Canceled) {
			t.Fatalf("cancellation of sibling leaked into error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight enrichment was not cancelled")
	}
}

func TestInvoke_AggregateFailure(t *testing.T) {
	boom := errors.New("qdrant unavailable")
	svc := New(&mockAggregator{err: boom}, &mockEnricher{}, DefaultOptions(), nil, nil)
	_, err := svc.Invoke(context.Background(), "q", 2)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "rag: aggregate") {
		t.Fatalf("expected wrapped aggregate error, got %v", err)
	}
}

func TestSearch_Validation(t *testing.T) {
	agg := &mockAggregator{set: domain.NewRecordSet()}
	svc := New(agg, &mockEnricher{}, DefaultOptions(), nil, nil)

	cases := []struct {
		q    domain.Query
		want error
	}{
		{domain.Query{Text: "", TopK: 5}, domain.ErrQueryEmpty},
		{domain.Query{Text: "q", TopK: 0}, domain.ErrTopKOutOfRange},
		{domain.Query{Text: "q", TopK: 11}, domain.ErrTopKOutOfRange},
		{domain.Query{Text: "q", TopK: 5, Severity: "severe"}, domain.ErrUnknownSeverity},
	}
	for _, c := range cases {
		if _, err := svc.Search(context.Background(), c.q); !errors.Is(err, c.want) {
			t.Fatalf("%+v: expected %v, got %v", c.q, c.want, err)
		}
	}
}

func TestSearch_PassesSeverity(t *testing.T) {
	agg := &mockAggregator{set: domain.NewRecordSet()}
	svc := New(agg, &mockEnricher{}, DefaultOptions(), nil, nil)
	if _, err := svc.Search(context.Background(), domain.Query{Text: "q", TopK: 3, Severity: "critical"}); err != nil {
		t.Fatal(err)
	}
	if agg.last.Severity != "critical" || agg.last.TopK != 3 {
		t.Fatalf("unexpected aggregate call %+v", agg.last)
	}
}

func TestSearch_Metrics(t *testing.T) {
	m := metrics.NewPipeline(metrics.New())
	svc := New(&mockAggregator{err: errors.New("x")}, &mockEnricher{}, DefaultOptions(), m, nil)
	svc.Invoke(context.Background(), "q", 1)
	if m.SearchRequests.Value() != 1 || m.SearchErrors.Value() != 1 {
		t.Fatalf("requests=%d errors=%d", m.SearchRequests.Value(), m.SearchErrors.Value())
	}
}

// A store holding two sections of one HIGH vulnerability, queried with
// top_k=2, yields one record with both sections plus the generated pair.
func TestInvoke_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := semantic.NewMemoryStore()
	err := store.Upsert(ctx, []semantic.VectorRecord{
		{ID: "1", Embedding: []float32{1, 0, 0}, Payload: map[string]any{
			semantic.KeyDocument: "Remote code execution in Acme parser", semantic.KeyVulnerabilityID: "CVE-2024-0001",
			semantic.KeySeverity: "HIGH", semantic.KeySection: "description"}},
		{ID: "2", Embedding: []float32{0.8, 0.6, 0}, Payload: map[string]any{
			semantic.KeyDocument: "cpe:2.3:a:acme:parser:1.0", semantic.KeyVulnerabilityID: "CVE-2024-0001",
			semantic.KeySeverity: "HIGH", semantic.KeySection: "affected_products"}},
		{ID: "3", Embedding: []float32{0, 0, 1}, Payload: map[string]any{
			semantic.KeyDocument: "XSS in widget", semantic.KeyVulnerabilityID: "CVE-2024-0002",
			semantic.KeySeverity: "LOW", semantic.KeySection: "description"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	gen := &scriptedGenerator{out: `{"attack_scenario":"attacker sends crafted file","mitigation":"upgrade to 1.1"}`}
	svc := New(
		evidence.New(stubEmbedder{vec: []float32{1, 0, 0}}, store, nil),
		enrich.New(gen, enrich.DefaultOptions()),
		DefaultOptions(), nil, nil,
	)

	set, err := svc.Invoke(ctx, "remote code execution", 2)
	if err != nil {
		t.Fatal(err)
	}
	if ids := set.IDs(); len(ids) != 1 || ids[0] != "CVE-2024-0001" {
		t.Fatalf("expected only CVE-2024-0001, got %v", ids)
	}
	if gen.calls != 1 {
		t.Fatalf("expected one model call, got %d", gen.calls)
	}

	b, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"CVE-2024-0001":{"severity":"HIGH","sections":{` +
		`"description":{"content":"Remote code execution in Acme parser","similarity":1},` +
		`"affected_products":{"content":"cpe:2.3:a:acme:parser:1.0","similarity":0.8},` +
		`"attack_scenario":"attacker sends crafted file",` +
		`"mitigation":"upgrade to 1.1"}}}`
	if string(b) != want {
		t.Fatalf("unexpected JSON:\n got %s\nwant %s", b, want)
	}
}
