// Package main implements the cverag HTTP API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vulnsight/cverag/engine/enrich"
	"github.com/vulnsight/cverag/engine/evidence"
	"github.com/vulnsight/cverag/engine/rag"
	"github.com/vulnsight/cverag/engine/semantic"
	"github.com/vulnsight/cverag/pkg/config"
	"github.com/vulnsight/cverag/pkg/metrics"
	"github.com/vulnsight/cverag/pkg/ollama"
	"github.com/vulnsight/cverag/pkg/resilience"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CVERAG_CONFIG"), ".env")
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	pm := metrics.NewPipeline(reg)
	reg.ServeAsync(ctx, ":"+cfg.MetricsPort, logger)

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Build pipeline ---
	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: 5,
		Timeout:       30 * time.Second,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("model breaker state change", "from", from.String(), "to", to.String())
		},
	})
	engine := enrich.New(
		ollama.NewGenerateClient(cfg.OllamaURL, cfg.ChatModel),
		enrich.Options{MaxTokens: cfg.MaxTokens, Timeout: cfg.GenerateTimeout},
		enrich.WithBreaker(breaker),
		enrich.WithMetrics(pm),
		enrich.WithLogger(logger),
	)
	aggregator := evidence.New(ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel), vectorStore, logger)
	svc := rag.New(aggregator, engine, rag.Options{EnrichWorkers: cfg.EnrichWorkers}, pm, logger)

	// --- Build HTTP server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(svc, pm, cfg.CORSOrigin, logger),
		ReadHeaderTimeout: 10 * time.Second,
		// Worst case is one model call per record, serialized by the worker bound.
		WriteTimeout: time.Duration(enrichRounds(cfg))*cfg.GenerateTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "metrics_port", cfg.MetricsPort)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// enrichRounds is the number of sequential model-call rounds a search with
// the largest top_k can need.
func enrichRounds(cfg config.Config) int {
	const maxRecords = 10
	return (maxRecords + cfg.EnrichWorkers - 1) / cfg.EnrichWorkers
}
