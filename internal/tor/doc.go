// Package tor provides the network side of the crawler.
//
// Client dials through a Tor SOCKS5 proxy and builds HTTP clients that route
// all traffic through it. Transport turns such a client into a page fetcher
// with charset decoding and a body size limit. VerifyAnonymity compares the
// egress address seen with and without the proxy before a crawl starts.
// EmbeddedTor starts a private tor process via tornago when no system daemon
// is available. DescribeDomain classifies hidden service addresses.
package tor
