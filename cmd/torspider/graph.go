package main

import (
	"fmt"
	"io"

	"github.com/nao1215/torspider/internal/config"
	"github.com/nao1215/torspider/internal/database"
	"github.com/nao1215/torspider/internal/model"
	"github.com/nao1215/torspider/internal/report"
	"github.com/spf13/cobra"
)

// Output formats of the graph command.
const (
	graphFormatJSON     = "json"
	graphFormatMarkdown = "markdown"
)

// NewGraphCmd creates the graph command.
func NewGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the graph of online domains",
		Long: `Graph prints the domains that were online at their last scan and the
links between them, read from the database.

Offline and never scanned domains are left out, as are links that touch
them. A domain never links to itself.

Examples:
  # JSON with "domains" and "links"
  torspider graph

  # Markdown with a mermaid flowchart
  torspider graph --format markdown > graph.md`,
		Args: cobra.NoArgs,
		RunE: runGraphCmd,
	}

	cmd.Flags().StringP("format", "f", graphFormatJSON,
		"Output format: json or markdown")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the graph database")

	return cmd
}

func runGraphCmd(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}

	write, err := graphWriter(format)
	if err != nil {
		return err
	}

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	db, err := database.Open(dbDir, opts)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	graph, err := db.OnlineGraph(cmd.Context())
	if err != nil {
		return err
	}
	return write(cmd.OutOrStdout(), graph)
}

func graphWriter(format string) (func(io.Writer, *model.Graph) error, error) {
	switch format {
	case graphFormatJSON:
		return report.WriteGraphJSON, nil
	case graphFormatMarkdown:
		return report.WriteGraphMarkdown, nil
	default:
		return nil, fmt.Errorf("unknown graph format %q (want %s or %s)", format, graphFormatJSON, graphFormatMarkdown)
	}
}
