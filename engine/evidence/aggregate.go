// Package evidence turns a free-text query into per-vulnerability records by
// embedding the query, running one nearest-neighbour search and grouping the
// section hits by vulnerability id.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/engine/semantic"
)

// Embedder converts query text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the read side of the vector store.
type Store interface {
	Query(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]semantic.Hit, error)
}

// Aggregator groups nearest-neighbour hits into vulnerability records.
type Aggregator struct {
	embed  Embedder
	store  Store
	logger *slog.Logger
}

// New creates an Aggregator.
func New(embed Embedder, store Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{embed: embed, store: store, logger: logger}
}

// Aggregate embeds query, asks the store for topK hits (optionally restricted
// to one severity) and folds them, in store order, into a RecordSet. topK
// bounds raw hits, not distinct vulnerabilities. No hits is an empty set.
// Hits whose payload lacks a vulnerability id are dropped.
func (a *Aggregator) Aggregate(ctx context.Context, query string, topK int, severity string) (*domain.RecordSet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("q", query, domain.ErrQueryEmpty)
	}
	if topK < 1 {
		return nil, domain.NewValidationError("top_k", fmt.Sprint(topK), domain.ErrTopKOutOfRange)
	}

	vec, err := a.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("evidence: embed query: %w", err)
	}

	hits, err := a.store.Query(ctx, vec, topK, severityFilter(severity))
	if err != nil {
		return nil, fmt.Errorf("evidence: vector search: %w", err)
	}

	set := domain.NewRecordSet()
	skipped := 0
	for _, h := range hits {
		sh := toSearchHit(h)
		if strings.TrimSpace(sh.VulnerabilityID) == "" {
			skipped++
			a.logger.Warn("evidence: hit without vulnerability id skipped", "section", sh.Section, "similarity", sh.Similarity)
			continue
		}
		set.GetOrCreate(sh.VulnerabilityID).Add(sh)
	}
	a.logger.Debug("evidence aggregated", "hits", len(hits), "skipped", skipped, "records", set.Len(), "severity", severity)
	return set, nil
}

func severityFilter(severity string) map[string]string {
	severity = strings.TrimSpace(severity)
	if severity == "" {
		return nil
	}
	return map[string]string{semantic.KeySeverity: strings.ToUpper(severity)}
}

func toSearchHit(h semantic.Hit) domain.SearchHit {
	return domain.SearchHit{
		Document:        h.Document,
		VulnerabilityID: h.Meta[semantic.KeyVulnerabilityID],
		Severity:        domain.ParseSeverity(h.Meta[semantic.KeySeverity]),
		Section:         h.Meta[semantic.KeySection],
		Similarity:      domain.SimilarityFromDistance(h.Distance),
	}
}
