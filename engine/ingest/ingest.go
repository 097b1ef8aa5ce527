// Package ingest loads collected vulnerabilities into the vector store (one
// point per non-empty section) and, optionally, into the knowledge graph.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/engine/graph"
	"github.com/vulnsight/cverag/engine/nvd"
	"github.com/vulnsight/cverag/engine/semantic"
	"github.com/vulnsight/cverag/pkg/fn"
	"github.com/vulnsight/cverag/pkg/metrics"
)

// EmbedBatchSize is the max sections per embedding request.
const EmbedBatchSize = 100

// Embedder turns section text into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter is the write side of the vector store.
type VectorWriter interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// GraphSink receives each vulnerability and the products it affects.
type GraphSink interface {
	SaveVulnerability(ctx context.Context, v graph.Vulnerability, products []graph.Product) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder    Embedder
	VectorStore VectorWriter
	Graph       GraphSink // optional
	Metrics     *metrics.Pipeline
	Logger      *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// PointID derives the vector-store id for one section, so re-ingesting a
// vulnerability overwrites its points instead of duplicating them.
func PointID(vulnID, section string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(vulnID+"_"+section)).String()
}

// --- Pipeline Stages ---

// Validate rejects entries without a well-formed CVE id and normalises severity.
var Validate fn.Stage[nvd.Entry, nvd.Entry] = func(_ context.Context, e nvd.Entry) fn.Result[nvd.Entry] {
	if err := domain.ValidateCVEID(e.ID); err != nil {
		return fn.Err[nvd.Entry](err)
	}
	e.Severity = domain.ParseSeverity(string(e.Severity))
	return fn.Ok(e)
}

// Split emits one SectionDoc per non-empty section, lists joined by newlines.
var Split fn.Stage[nvd.Entry, SplitDoc] = func(_ context.Context, e nvd.Entry) fn.Result[SplitDoc] {
	doc := SplitDoc{Entry: e}
	add := func(section, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		doc.Sections = append(doc.Sections, SectionDoc{
			PointID:         PointID(e.ID, section),
			VulnerabilityID: e.ID,
			Severity:        e.Severity,
			Section:         section,
			Text:            text,
		})
	}
	add(domain.SectionDescription, e.Sections.Description)
	add(domain.SectionAffectedProducts, strings.Join(e.Sections.AffectedProducts, "\n"))
	add(domain.SectionReferences, strings.Join(e.Sections.References, "\n"))
	return fn.Ok(doc)
}

// NewEmbed creates an Embed stage that embeds sections in batches.
func NewEmbed(client Embedder) fn.Stage[SplitDoc, EmbeddedDoc] {
	return func(ctx context.Context, doc SplitDoc) fn.Result[EmbeddedDoc] {
		embeddings := make([][]float32, 0, len(doc.Sections))

		for i := 0; i < len(doc.Sections); i += EmbedBatchSize {
			end := min(i+EmbedBatchSize, len(doc.Sections))
			texts := make([]string, end-i)
			for j, s := range doc.Sections[i:end] {
				texts[j] = s.Text
			}

			vecs, err := client.EmbedBatch(ctx, texts)
			if err != nil {
				return fn.Err[EmbeddedDoc](fmt.Errorf("embed batch: %w", err))
			}
			if len(vecs) != len(texts) {
				return fn.Errf[EmbeddedDoc]("embed batch: got %d vectors for %d texts", len(vecs), len(texts))
			}
			embeddings = append(embeddings, vecs...)
		}

		return fn.Ok(EmbeddedDoc{SplitDoc: doc, Embeddings: embeddings})
	}
}

// NewStore creates a Store stage that writes points to the vector store and,
// when a graph sink is configured, the vulnerability to the graph.
func NewStore(vs VectorWriter, gs GraphSink, m *metrics.Pipeline) fn.Stage[EmbeddedDoc, Stored] {
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[Stored] {
		records := make([]semantic.VectorRecord, len(doc.Sections))
		for i, s := range doc.Sections {
			records[i] = semantic.VectorRecord{
				ID:        s.PointID,
				Embedding: doc.Embeddings[i],
				Payload: map[string]any{
					semantic.KeyDocument:        s.Text,
					semantic.KeyVulnerabilityID: s.VulnerabilityID,
					semantic.KeySeverity:        s.Severity.String(),
					semantic.KeySection:         s.Section,
				},
			}
		}
		if err := vs.Upsert(ctx, records); err != nil {
			return fn.Err[Stored](fmt.Errorf("vector upsert: %w", err))
		}
		if m != nil {
			m.IngestPoints.Add(int64(len(records)))
		}

		if gs != nil {
			v, products := toGraph(doc.Entry)
			if err := gs.SaveVulnerability(ctx, v, products); err != nil {
				return fn.Err[Stored](fmt.Errorf("graph save: %w", err))
			}
		}
		return fn.Ok(Stored{ID: doc.Entry.ID, Points: len(records)})
	}
}

func toGraph(e nvd.Entry) (graph.Vulnerability, []graph.Product) {
	v := graph.Vulnerability{ID: e.ID, Severity: e.Severity.String(), Description: e.Sections.Description}
	var products []graph.Product
	for _, cpe := range e.Sections.AffectedProducts {
		if cpe == "" || cpe == nvd.NotSpecified {
			continue
		}
		products = append(products, graph.ParseCPE(cpe))
	}
	return v, products
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[nvd.Entry, Stored] {
	log := deps.logger()

	// Validate → Split → Embed → Store, with logging taps between stages.
	validated := fn.Then(LoggedTap[nvd.Entry]("validate", log), Validate)
	split := fn.Then(validated, fn.Then(LoggedTap[nvd.Entry]("split", log), Split))
	embedded := fn.Then(split, fn.Then(LoggedTap[SplitDoc]("embed", log), NewEmbed(deps.Embedder)))
	stored := fn.Then(embedded, fn.Then(LoggedTap[EmbeddedDoc]("store", log), NewStore(deps.VectorStore, deps.Graph, deps.Metrics)))

	return fn.TracedStage("ingest.entry", stored)
}

// IngestAll runs every entry through the pipeline with up to workers in
// parallel. Failed entries are logged and counted; they do not stop the run.
func IngestAll(ctx context.Context, deps Deps, entries []nvd.Entry, workers int) Report {
	pipeline := NewPipeline(deps)
	log := deps.logger()

	results := fn.ParMapResult(entries, workers, func(e nvd.Entry) fn.Result[Stored] {
		return pipeline(ctx, e)
	})

	rep := Report{Entries: len(entries)}
	for i, r := range results {
		st, err := r.Unwrap()
		if err != nil {
			rep.Failed++
			log.Error("ingest: entry failed", "id", entries[i].ID, "err", err)
			continue
		}
		rep.Points += st.Points
	}
	log.Info("ingest: done", "entries", rep.Entries, "points", rep.Points, "failed", rep.Failed)
	return rep
}
