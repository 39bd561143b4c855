// Package main provides the entry point for the torspider CLI.
//
// torspider crawls Tor hidden services through a SOCKS5 proxy and records
// which domains link to which in a SQLite graph database.
//
// Usage:
//
//	torspider crawl <seed-url>
//	torspider crawl             (resume from the database)
//	torspider graph --format markdown
//
// See --help for all available options.
package main

func main() {
	Execute()
}
