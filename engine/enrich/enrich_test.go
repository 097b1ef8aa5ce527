package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/pkg/metrics"
	"github.com/vulnsight/cverag/pkg/ollama"
	"github.com/vulnsight/cverag/pkg/resilience"
)

// --- mocks ---

type mockGenerator struct {
	mu      sync.Mutex
	out     string
	err     error
	delay   time.Duration
	prompts []string
	opts    []ollama.GenerateOptions
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, opts ollama.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.opts = append(m.opts, opts)
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.out, m.err
}

func sampleRecord() *domain.VulnerabilityRecord {
	rec := &domain.VulnerabilityRecord{ID: "CVE-2024-0001"}
	rec.Add(domain.SearchHit{VulnerabilityID: "CVE-2024-0001", Severity: domain.SeverityHigh, Section: "description", Document: "RCE in parser", Similarity: 0.8})
	rec.Add(domain.SearchHit{VulnerabilityID: "CVE-2024-0001", Severity: domain.SeverityHigh, Section: "affected_products", Document: "acme 1.0", Similarity: 0.7})
	return rec
}

// --- tests ---

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("CVE-2024-0001", sampleRecord())
	want := []string{
		framingLine + "\n",
		"CVE ID: CVE-2024-0001\n",
		"Severity: HIGH\n",
		"description: RCE in parser\naffected_products: acme 1.0\n",
		outputInstruction,
	}
	last := -1
	for _, w := range want {
		i := strings.Index(p, w)
		if i < 0 || i < last {
			t.Fatalf("prompt missing or out of order %q:\n%s", w, p)
		}
		last = i
	}
	if BuildPrompt("CVE-2024-0001", sampleRecord()) != p {
		t.Fatal("prompt must be deterministic")
	}
}

func TestEnrich_Success(t *testing.T) {
	gen := &mockGenerator{out: `Sure! {"attack_scenario":"send crafted input","mitigation":"upgrade"}`}
	reg := metrics.New()
	m := metrics.NewPipeline(reg)
	e := New(gen, Options{}, WithMetrics(m))

	res, err := e.Enrich(context.Background(), "CVE-2024-0001", sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if res.AttackScenario != "send crafted input" || res.Mitigation != "upgrade" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gen.opts[0].MaxTokens != 128 || !gen.opts[0].Deterministic {
		t.Fatalf("unexpected options %+v", gen.opts[0])
	}
	if m.EnrichOutcome("brace_scan").Value() != 1 {
		t.Fatal("expected brace_scan outcome recorded")
	}
	if m.EnrichInflight.Value() != 0 {
		t.Fatal("inflight gauge should return to zero")
	}
}

func TestEnrich_MalformedNeverErrors(t *testing.T) {
	e := New(&mockGenerator{out: "I cannot determine this."}, Options{})
	res, err := e.Enrich(context.Background(), "CVE-1", sampleRecord())
	if err != nil {
		t.Fatalf("malformed output must not error: %v", err)
	}
	if res.AttackScenario != "I cannot determine this." || res.Mitigation != GenericMitigation {
		t.Fatalf("unexpected degraded result %+v", res)
	}
}

func TestEnrich_InvocationFailurePropagates(t *testing.T) {
	boom := errors.New("oom")
	_, err := New(&mockGenerator{err: boom}, Options{}).Enrich(context.Background(), "CVE-1", sampleRecord())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped invocation error, got %v", err)
	}
}

func TestEnrich_CancelledNotCountedAsError(t *testing.T) {
	m := metrics.NewPipeline(metrics.New())
	e := New(&mockGenerator{out: "{}", delay: time.Second}, Options{}, WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Enrich(ctx, "CVE-1", sampleRecord()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := m.EnrichOutcome("canceled").Value(); got != 1 {
		t.Fatalf("canceled outcome = %v, want 1", got)
	}
	if got := m.EnrichOutcome("error").Value(); got != 0 {
		t.Fatalf("error outcome = %v, want 0", got)
	}
}

func TestEnrich_Timeout(t *testing.T) {
	gen := &mockGenerator{out: "{}", delay: time.Second}
	_, err := New(gen, Options{Timeout: 20 * time.Millisecond}).Enrich(context.Background(), "CVE-1", sampleRecord())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestEnrich_BreakerOpens(t *testing.T) {
	gen := &mockGenerator{err: errors.New("down")}
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	e := New(gen, Options{}, WithBreaker(b))

	for i := 0; i < 2; i++ {
		e.Enrich(context.Background(), "CVE-1", sampleRecord())
	}
	_, err := e.Enrich(context.Background(), "CVE-1", sampleRecord())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("breaker should block the third call, got %d calls", len(gen.prompts))
	}
}

func TestStage(t *testing.T) {
	e := New(&mockGenerator{out: `{"attack_scenario":"a","mitigation":"b"}`}, Options{})
	res, err := e.Stage()(context.Background(), sampleRecord()).Unwrap()
	if err != nil || res.AttackScenario != "a" {
		t.Fatalf("unexpected stage result %+v %v", res, err)
	}
}
