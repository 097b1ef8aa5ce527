package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/engine/enrich"
	"github.com/vulnsight/cverag/engine/evidence"
	"github.com/vulnsight/cverag/engine/rag"
	"github.com/vulnsight/cverag/engine/semantic"
	"github.com/vulnsight/cverag/pkg/ollama"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		topK     int
		severity string
	)
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Run a query through retrieval and enrichment",
		Long: `Embed the query, retrieve the nearest vulnerability sections from Qdrant,
enrich each matched CVE with the chat model and print the result as JSON.

Examples:
  cvectl search "remote code execution in image parsers"
  cvectl search --top-k 10 --severity critical "sql injection"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vs, err := semantic.New(a.cfg.QdrantURL, a.cfg.Collection)
			if err != nil {
				return err
			}
			defer vs.Close()

			svc := rag.New(
				evidence.New(ollama.NewEmbedClient(a.cfg.OllamaURL, a.cfg.EmbedModel), vs, a.log),
				enrich.New(
					ollama.NewGenerateClient(a.cfg.OllamaURL, a.cfg.ChatModel),
					enrich.Options{MaxTokens: a.cfg.MaxTokens, Timeout: a.cfg.GenerateTimeout},
					enrich.WithLogger(a.log),
				),
				rag.Options{EnrichWorkers: a.cfg.EnrichWorkers},
				nil,
				a.log,
			)

			set, err := svc.Search(ctx, domain.Query{
				Text:     strings.Join(args, " "),
				TopK:     topK,
				Severity: severity,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, set)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", domain.DefaultTopK, "raw hits to retrieve (1-10)")
	cmd.Flags().StringVarP(&severity, "severity", "s", "", "only match this severity")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
