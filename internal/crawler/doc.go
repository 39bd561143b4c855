// Package crawler is the crawl engine of torspider.
//
// # Components
//
//   - Extractor: tokenizer-based scan of raw HTML for link targets and the title
//   - Classify / GetDomain: sorting links into internal and external sets
//   - Spider: depth-bounded, depth-first traversal of one site
//
// The Spider never talks to the network itself. It receives a Fetcher at
// construction (tor.Transport in production, canned HTML in tests), so no
// transport state is shared between crawls.
//
// # Failure handling
//
// Only the seed fetch is fatal: Crawl returns ErrSeedUnreachable. Any other
// fetch failure removes that branch from the result and the walk continues.
// Malformed HTML never produces an error; the extractor returns what it
// could read.
//
// # Usage
//
//	spider := crawler.NewSpider(transport, crawler.WithMaxDepth(2))
//	result, err := spider.Crawl(ctx, "http://example.onion/")
package crawler
