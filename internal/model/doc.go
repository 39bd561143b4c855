// Package model defines the data structures shared by the crawler, the graph
// store and the report writers.
//
// This package contains the following main types:
//   - Domain: a row of the onions table (one onion or clearnet authority)
//   - Page: a row of the pages table, plus the fetched body while in memory
//   - Link: a domain-to-domain edge of the links table
//   - CrawlResult: everything one top-level crawl discovered
//
// Models live in their own package so that crawler, database and report can
// all depend on them without import cycles.
package model
