// Package rag orchestrates the CVE retrieval-augmented pipeline: it
// aggregates vector-store evidence per vulnerability, enriches every record
// with a generated attack scenario and mitigation, and merges the two.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/pkg/fn"
	"github.com/vulnsight/cverag/pkg/metrics"
)

// Aggregator groups nearest-neighbour evidence into vulnerability records.
type Aggregator interface {
	Aggregate(ctx context.Context, query string, topK int, severity string) (*domain.RecordSet, error)
}

// Enricher produces the generated sections for one record.
type Enricher interface {
	Enrich(ctx context.Context, id string, rec *domain.VulnerabilityRecord) (domain.EnrichmentResult, error)
}

// Options configures the pipeline.
type Options struct {
	// EnrichWorkers bounds concurrent model calls per query. 1 is sequential.
	EnrichWorkers int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{EnrichWorkers: 4}
}

// Service is the query orchestrator.
type Service struct {
	agg     Aggregator
	enr     Enricher
	opts    Options
	metrics *metrics.Pipeline
	logger  *slog.Logger

	pipeline fn.Stage[domain.Query, *domain.RecordSet]
}

// New creates a Service. A nil logger uses slog.Default.
func New(agg Aggregator, enr Enricher, opts Options, m *metrics.Pipeline, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EnrichWorkers == 0 {
		opts.EnrichWorkers = DefaultOptions().EnrichWorkers
	}
	s := &Service{agg: agg, enr: enr, opts: opts, metrics: m, logger: logger}
	s.pipeline = fn.Then(
		fn.TracedStage("rag.aggregate", s.aggregateStage()),
		fn.TracedStage("rag.enrich", s.enrichStage()),
	)
	return s
}

// Invoke answers query with up to topK raw hits and no severity filter.
func (s *Service) Invoke(ctx context.Context, query string, topK int) (*domain.RecordSet, error) {
	return s.Search(ctx, domain.Query{Text: query, TopK: topK})
}

// Search validates q and runs the full pipeline. The result's key order is
// the order in which the store first returned each vulnerability. Any failed
// model invocation fails the whole query.
func (s *Service) Search(ctx context.Context, q domain.Query) (*domain.RecordSet, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.SearchRequests.Inc()
		defer s.metrics.SearchDuration.Since(start)
	}
	if err := domain.ValidateQuery(q); err != nil {
		return nil, err
	}

	s.logger.Info("rag search start", "query_len", len(q.Text), "top_k", q.TopK, "severity", q.Severity)
	set, err := s.pipeline(ctx, q).Unwrap()
	if err != nil {
		if s.metrics != nil {
			s.metrics.SearchErrors.Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SearchRecords.Observe(float64(set.Len()))
	}
	s.logger.Info("rag search done", "records", set.Len(), "took", time.Since(start))
	return set, nil
}

func (s *Service) aggregateStage() fn.Stage[domain.Query, *domain.RecordSet] {
	return func(ctx context.Context, q domain.Query) fn.Result[*domain.RecordSet] {
		set, err := s.agg.Aggregate(ctx, q.Text, q.TopK, q.Severity)
		if err != nil {
			return fn.Err[*domain.RecordSet](fmt.Errorf("rag: aggregate: %w", err))
		}
		return fn.Ok(set)
	}
}

func (s *Service) enrichStage() fn.Stage[*domain.RecordSet, *domain.RecordSet] {
	return func(ctx context.Context, set *domain.RecordSet) fn.Result[*domain.RecordSet] {
		if set.Len() == 0 {
			return fn.Ok(set)
		}

		// the first failure cancels the calls still in flight and becomes
		// the cause reported for the query
		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		var enrichOne fn.Stage[*domain.VulnerabilityRecord, domain.EnrichmentResult] = func(ctx context.Context, rec *domain.VulnerabilityRecord) fn.Result[domain.EnrichmentResult] {
			res, err := s.enr.Enrich(ctx, rec.ID, rec)
			if err != nil {
				cancel(err)
			}
			return fn.FromPair(res, err)
		}

		recs := set.Records()
		results, err := fn.BatchStage(s.opts.EnrichWorkers, enrichOne)(ctx, recs).Unwrap()
		if err != nil {
			if cause := context.Cause(ctx); cause != nil && errors.Is(err, context.Canceled) {
				err = cause
			}
			return fn.Err[*domain.RecordSet](fmt.Errorf("rag: enrich: %w", err))
		}
		for i, rec := range recs {
			rec.Merge(results[i])
		}
		return fn.Ok(set)
	}
}
