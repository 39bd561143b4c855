// Package database stores the crawl graph in SQLite (modernc.org/sqlite, no
// cgo).
//
// Three tables make up the graph:
//   - onions: one row per canonical domain, with online flag, last scan time
//     and an info string. Rows are never deleted.
//   - pages: one row per (domain, path). The title stays NULL until the page
//     is fetched.
//   - links: one row per distinct (origin domain, target domain) pair.
//     Self-loops are rejected by a CHECK constraint.
//
// A domain that has been seen but never fetched carries the last_scan value
// 1986-02-02 00:00:01; graph readers use it to skip unverified domains.
package database
