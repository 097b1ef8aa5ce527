package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/engine/graph"
)

// graphReader is the read side of the knowledge graph the subcommands use.
type graphReader interface {
	GetVulnerability(ctx context.Context, id string) (graph.Vulnerability, error)
	ListVulnerabilities(ctx context.Context, severity string, limit int) ([]graph.Vulnerability, error)
	AffectedProducts(ctx context.Context, id string) ([]graph.Product, error)
	VulnerabilitiesByVendor(ctx context.Context, vendor string) ([]graph.Vulnerability, error)
	Stats(ctx context.Context) (graph.Stats, error)
}

// graphOpener connects to the graph and returns a release func.
type graphOpener func(ctx context.Context) (graphReader, func(), error)

// neo4jOpener opens the Neo4j-backed graph named by the app config.
func (a *app) neo4jOpener(ctx context.Context) (graphReader, func(), error) {
	driver, err := a.neo4jDriver(ctx)
	if err != nil {
		return nil, nil, err
	}
	return graph.New(driver), func() { driver.Close(context.Background()) }, nil
}

func newGraphCmd(open graphOpener) *cobra.Command {
	var asJSON bool
	withGraph := func(run func(cmd *cobra.Command, g graphReader, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			g, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return run(cmd, g, args)
		}
	}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Query the vulnerability knowledge graph",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	affected := &cobra.Command{
		Use:   "affected CVE-ID",
		Short: "List products a vulnerability affects",
		Args:  cobra.ExactArgs(1),
		RunE: withGraph(func(cmd *cobra.Command, g graphReader, args []string) error {
			if err := domain.ValidateCVEID(args[0]); err != nil {
				return err
			}
			v, err := g.GetVulnerability(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			products, err := g.AffectedProducts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, map[string]any{"vulnerability": v, "products": products})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", v.ID, v.Severity)
			writeProducts(cmd.OutOrStdout(), products)
			return nil
		}),
	}

	vendor := &cobra.Command{
		Use:   "vendor NAME",
		Short: "List vulnerabilities affecting any product of a vendor",
		Args:  cobra.ExactArgs(1),
		RunE: withGraph(func(cmd *cobra.Command, g graphReader, args []string) error {
			vulns, err := g.VulnerabilitiesByVendor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, vulns)
			}
			writeVulnerabilities(cmd.OutOrStdout(), vulns)
			return nil
		}),
	}

	var (
		severity string
		limit    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored vulnerabilities",
		Args:  cobra.NoArgs,
		RunE: withGraph(func(cmd *cobra.Command, g graphReader, _ []string) error {
			if severity != "" && !domain.ValidSeverity(severity) {
				return domain.NewValidationError("severity", severity, domain.ErrUnknownSeverity)
			}
			vulns, err := g.ListVulnerabilities(cmd.Context(), severity, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, vulns)
			}
			writeVulnerabilities(cmd.OutOrStdout(), vulns)
			return nil
		}),
	}
	list.Flags().StringVarP(&severity, "severity", "s", "", "only this severity")
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show node and edge counts",
		Args:  cobra.NoArgs,
		RunE: withGraph(func(cmd *cobra.Command, g graphReader, _ []string) error {
			s, err := g.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, s)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "vulnerabilities\t%d\n", s.Vulnerabilities)
			fmt.Fprintf(tw, "products\t%d\n", s.Products)
			fmt.Fprintf(tw, "affects\t%d\n", s.Affects)
			return tw.Flush()
		}),
	}

	cmd.AddCommand(affected, vendor, list, stats)
	return cmd
}

func writeProducts(w io.Writer, products []graph.Product) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VENDOR\tPRODUCT\tVERSION\tCPE")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", orDash(p.Vendor), orDash(p.Name), orDash(p.Version), p.CPE)
	}
	tw.Flush()
}

func writeVulnerabilities(w io.Writer, vulns []graph.Vulnerability) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEVERITY\tDESCRIPTION")
	for _, v := range vulns {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.ID, v.Severity, truncate(v.Description, 80))
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
