// Command cvectl collects NVD vulnerabilities, loads them into the vector
// store and knowledge graph, and runs searches from the terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vulnsight/cverag/pkg/config"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		configPath string
		envFile    string
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "cvectl",
		Short: "Collect, index and search CVE data",
		Long: `cvectl drives the cverag pipeline from the command line.

Settings come from built-in defaults, an optional YAML file (--config),
a dotenv file (--env-file) and finally environment variables such as
OLLAMA_URL, QDRANT_URL, NATS_URL and NEO4J_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(a.log)

			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CVERAG_CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newCollectCmd(a),
		newIngestCmd(a),
		newSearchCmd(a),
		newGraphCmd(a.neo4jOpener),
	)
	return root
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
