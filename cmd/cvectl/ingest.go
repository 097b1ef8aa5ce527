package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/vulnsight/cverag/engine/graph"
	"github.com/vulnsight/cverag/engine/ingest"
	"github.com/vulnsight/cverag/engine/nvd"
	"github.com/vulnsight/cverag/engine/semantic"
	"github.com/vulnsight/cverag/pkg/ollama"
)

const defaultDataset = "data/cve_dataset.json"

func newIngestCmd(a *app) *cobra.Command {
	var (
		dataset   string
		workers   int
		withGraph bool
		watch     bool
		consume   bool
		debounce  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index the dataset into the vector store",
		Long: `Embed every section of every dataset entry and upsert it into Qdrant.
Point ids are derived from the CVE id and section name, so re-running
overwrites instead of duplicating.

--graph also writes each vulnerability and its affected products to Neo4j.
--watch keeps running and re-ingests whenever the dataset file changes.
--consume ignores the dataset and indexes entries arriving on NATS instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch && consume {
				return errors.New("ingest: --watch and --consume are exclusive")
			}
			ctx := cmd.Context()

			deps, cleanup, err := a.ingestDeps(ctx, withGraph)
			if err != nil {
				return err
			}
			defer cleanup()

			if consume {
				return a.consume(ctx, deps)
			}

			runOnce := func() error {
				entries, err := nvd.ReadDataset(dataset)
				if err != nil {
					return err
				}
				rep := ingest.IngestAll(ctx, deps, entries, workers)
				fmt.Fprintf(cmd.OutOrStdout(), "ingested %d entries (%d points, %d failed)\n", rep.Entries, rep.Points, rep.Failed)
				return nil
			}
			if err := runOnce(); err != nil && !watch {
				return fmt.Errorf("ingest: %w", err)
			} else if err != nil {
				a.log.Warn("initial ingest failed, waiting for changes", "err", err)
			}
			if !watch {
				return nil
			}

			w, err := newFileWatcher(dataset, a.log)
			if err != nil {
				return fmt.Errorf("ingest: watch: %w", err)
			}
			defer w.Close()
			a.log.Info("watching dataset", "path", dataset)
			return w.Run(ctx, debounce, func() {
				if err := runOnce(); err != nil {
					a.log.Error("re-ingest failed", "err", err)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&dataset, "dataset", "d", defaultDataset, "dataset path")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "entries processed in parallel")
	cmd.Flags().BoolVar(&withGraph, "graph", false, "also project entries into Neo4j")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-ingest when the dataset changes")
	cmd.Flags().BoolVar(&consume, "consume", false, "consume entries from NATS instead of the dataset")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a watched change is ingested")
	return cmd
}

// ingestDeps connects to Ollama, Qdrant and optionally Neo4j. The collection
// is created on first use with the embedding model's dimension.
func (a *app) ingestDeps(ctx context.Context, withGraph bool) (ingest.Deps, func(), error) {
	embedder := ollama.NewEmbedClient(a.cfg.OllamaURL, a.cfg.EmbedModel)
	probe, err := embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return ingest.Deps{}, nil, fmt.Errorf("ingest: probe embedding model: %w", err)
	}

	vs, err := semantic.New(a.cfg.QdrantURL, a.cfg.Collection)
	if err != nil {
		return ingest.Deps{}, nil, err
	}
	if err := vs.EnsureCollection(ctx, len(probe)); err != nil {
		vs.Close()
		return ingest.Deps{}, nil, err
	}

	deps := ingest.Deps{Embedder: embedder, VectorStore: vs, Logger: a.log}
	cleanup := func() { vs.Close() }
	if !withGraph {
		return deps, cleanup, nil
	}

	driver, err := a.neo4jDriver(ctx)
	if err != nil {
		vs.Close()
		return ingest.Deps{}, nil, err
	}
	deps.Graph = graph.New(driver)
	return deps, func() {
		driver.Close(context.Background())
		vs.Close()
	}, nil
}

func (a *app) neo4jDriver(ctx context.Context) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(a.cfg.Neo4jURL, neo4j.BasicAuth(a.cfg.Neo4jUser, a.cfg.Neo4jPass, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connect: %w", err)
	}
	return driver, nil
}

// consume runs the NATS consumer until ctx is done, then drains.
func (a *app) consume(ctx context.Context, deps ingest.Deps) error {
	nc, err := nats.Connect(a.cfg.NATSURL, nats.Name("cvectl-ingest"))
	if err != nil {
		return fmt.Errorf("ingest: connect nats: %w", err)
	}
	defer nc.Close()

	sub, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		return fmt.Errorf("ingest: subscribe: %w", err)
	}
	a.log.Info("consuming", "subject", ingest.IngestSubject, "nats", a.cfg.NATSURL)
	<-ctx.Done()
	a.log.Info("shutting down consumer")
	return sub.Drain()
}
