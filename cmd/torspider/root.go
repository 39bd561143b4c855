package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for torspider.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torspider",
		Short: "Crawler that maps links between Tor hidden services",
		Long: `torspider crawls Tor hidden services (.onion sites) through a SOCKS5 proxy.

Every crawl records the visited pages and the domains they link to in a
SQLite database, and writes the discovered links to flat files. Without a
seed URL, the crawl resumes from the domains already in the database.

By default torspider uses a Tor daemon listening on 127.0.0.1:9050.
Use --embedded-tor to start a private Tor daemon instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json-log", false, "Write logs as JSON")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewGraphCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
