package model

import "time"

// CrawlResult holds everything discovered by one top-level crawl.
// Link and domain collections are deduplicated and sorted so that reports
// are stable between runs.
type CrawlResult struct {
	// SeedURL is the URL the crawl started from.
	SeedURL string `json:"seed_url"`

	// Domain is the canonical authority of the seed.
	Domain string `json:"domain"`

	// Title is the title of the seed page (UntitledPage if missing).
	Title string `json:"title"`

	// Depth is the depth budget the crawl ran with.
	Depth int `json:"depth"`

	// InternalLinks are absolute links that stay on Domain.
	InternalLinks []string `json:"internal_links"`

	// ExternalLinks are links to other domains.
	ExternalLinks []string `json:"external_links"`

	// Domains are the distinct domains of ExternalLinks.
	Domains []string `json:"domains"`

	// OnionDomains is the subset of Domains in the onion namespace.
	OnionDomains []string `json:"onion_domains"`

	// Pages are the same-domain pages fetched or discovered by the crawl.
	// The first entry is always the seed page.
	Pages []Page `json:"pages"`

	// Fetches counts HTTP fetches attempted, including failures.
	Fetches int `json:"fetches"`

	// FailedFetches counts nested fetches that failed and were skipped.
	FailedFetches int `json:"failed_fetches"`

	// StartedAt and FinishedAt bound the crawl.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Summary is the counts line printed after a crawl.
type Summary struct {
	SeedURL       string
	Title         string
	InternalLinks int
	ExternalLinks int
	Domains       int
	OnionDomains  int
}

// Summary returns the counts of the result.
func (r *CrawlResult) Summary() Summary {
	return Summary{
		SeedURL:       r.SeedURL,
		Title:         r.Title,
		InternalLinks: len(r.InternalLinks),
		ExternalLinks: len(r.ExternalLinks),
		Domains:       len(r.Domains),
		OnionDomains:  len(r.OnionDomains),
	}
}

// Elapsed returns how long the crawl took.
func (r *CrawlResult) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
