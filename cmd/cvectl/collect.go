package main

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/vulnsight/cverag/engine/ingest"
	"github.com/vulnsight/cverag/engine/nvd"
)

func newCollectCmd(a *app) *cobra.Command {
	var (
		days    int
		top     int
		out     string
		nvdURL  string
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch recent CVEs from NVD and write the dataset",
		Long: `Fetch every CVE published in the last --days days, keep the --top most
severe, and write them to --out. With --publish each kept entry is also sent
to the cve.ingest NATS subject for a running consumer to index.

Examples:
  cvectl collect --days 7 --top 100
  cvectl collect --out data/cves.json --publish`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts := []nvd.Option{nvd.WithLogger(a.log)}
			if nvdURL != "" {
				opts = append(opts, nvd.WithBaseURL(nvdURL))
			}

			entries, err := nvd.NewClient(a.cfg.NVDAPIKey, opts...).FetchRecent(ctx, days)
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}
			kept := nvd.TopBySeverity(entries, top)
			if err := nvd.WriteDataset(out, kept); err != nil {
				return fmt.Errorf("collect: %w", err)
			}
			a.log.Info("dataset written", "path", out, "fetched", len(entries), "kept", len(kept))

			if publish {
				nc, err := nats.Connect(a.cfg.NATSURL, nats.Name("cvectl-collect"))
				if err != nil {
					return fmt.Errorf("collect: connect nats: %w", err)
				}
				defer nc.Close()
				if err := ingest.PublishEntries(ctx, nc, kept); err != nil {
					return fmt.Errorf("collect: publish: %w", err)
				}
				a.log.Info("entries published", "subject", ingest.IngestSubject, "count", len(kept))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d of %d entries to %s\n", len(kept), len(entries), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "how many days back to fetch")
	cmd.Flags().IntVar(&top, "top", nvd.DefaultTopN, "how many entries to keep, most severe first")
	cmd.Flags().StringVarP(&out, "out", "o", defaultDataset, "dataset path")
	cmd.Flags().StringVar(&nvdURL, "nvd-url", "", "override the NVD API endpoint")
	cmd.Flags().BoolVar(&publish, "publish", false, "also publish entries to NATS")
	return cmd
}
