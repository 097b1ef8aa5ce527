// Package enrich asks a generative model for an attack scenario and a
// mitigation for one aggregated vulnerability record, and repairs whatever
// text comes back into a structured result.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/pkg/fn"
	"github.com/vulnsight/cverag/pkg/metrics"
	"github.com/vulnsight/cverag/pkg/ollama"
	"github.com/vulnsight/cverag/pkg/resilience"
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ollama.GenerateOptions) (string, error)
}

// Options configures model invocation.
type Options struct {
	MaxTokens int
	Timeout   time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxTokens: 128,
		Timeout:   60 * time.Second,
	}
}

// Engine runs the enrichment model for one record at a time. It is safe for
// concurrent use when its Generator is.
type Engine struct {
	gen     Generator
	opts    Options
	breaker *resilience.Breaker
	metrics *metrics.Pipeline
	logger  *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithBreaker guards model calls with a circuit breaker. An open breaker is
// reported as a model invocation failure.
func WithBreaker(b *resilience.Breaker) Option {
	return func(e *Engine) { e.breaker = b }
}

// WithMetrics records parse outcomes and in-flight calls.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. Zero-valued options fall back to DefaultOptions.
func New(gen Generator, opts Options, options ...Option) *Engine {
	def := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	e := &Engine{gen: gen, opts: opts, logger: slog.Default()}
	for _, o := range options {
		o(e)
	}
	return e
}

// Enrich builds the prompt for rec, invokes the model and parses its output.
// Only a failed model invocation, including a timeout, returns an error;
// malformed output is always resolved by Parse.
func (e *Engine) Enrich(ctx context.Context, id string, rec *domain.VulnerabilityRecord) (domain.EnrichmentResult, error) {
	prompt := BuildPrompt(id, rec)

	raw, err := e.generate(ctx, prompt).Unwrap()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.observe("canceled")
		} else {
			e.observe("error")
		}
		return domain.EnrichmentResult{}, fmt.Errorf("enrich %s: %w", id, err)
	}

	res, outcome := Parse(raw)
	e.observe(string(outcome))
	if outcome == OutcomeDegraded {
		e.logger.Warn("enrich: model output not parseable, degraded", "cve_id", id, "raw_len", len(raw))
	} else {
		e.logger.Debug("enrich: parsed", "cve_id", id, "outcome", outcome)
	}
	return res, nil
}

// Stage exposes Enrich as a pipeline stage over a record.
func (e *Engine) Stage() fn.Stage[*domain.VulnerabilityRecord, domain.EnrichmentResult] {
	return func(ctx context.Context, rec *domain.VulnerabilityRecord) fn.Result[domain.EnrichmentResult] {
		return fn.FromPair(e.Enrich(ctx, rec.ID, rec))
	}
}

func (e *Engine) generate(ctx context.Context, prompt string) fn.Result[string] {
	call := func(ctx context.Context) fn.Result[string] {
		ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		if e.metrics != nil {
			e.metrics.EnrichInflight.Inc()
			defer e.metrics.EnrichInflight.Dec()
		}
		return fn.FromPair(e.gen.Generate(ctx, prompt, ollama.GenerateOptions{
			MaxTokens:     e.opts.MaxTokens,
			Deterministic: true,
		}))
	}
	if e.breaker == nil {
		return call(ctx)
	}
	return resilience.CallResult(e.breaker, ctx, call)
}

func (e *Engine) observe(outcome string) {
	if e.metrics != nil {
		e.metrics.EnrichOutcome(outcome).Inc()
	}
}
