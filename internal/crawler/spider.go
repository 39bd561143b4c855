package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/torspider/internal/model"
)

var (
	// ErrSeedUnreachable is returned when the top-level fetch of a crawl fails.
	// It is the only fetch failure the engine treats as fatal.
	ErrSeedUnreachable = errors.New("seed URL unreachable")

	// ErrInvalidSeed is returned when no domain can be derived from the seed.
	ErrInvalidSeed = errors.New("invalid seed URL")
)

// Fetcher retrieves the body of a URL.
// Implementations must bound every call in time and report failures as
// errors, never by panicking. tor.Transport is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Spider is the crawl engine. It walks a site depth-first from a seed URL,
// following same-domain links until the depth budget runs out, and gathers
// the internal and external link sets along the way.
//
// Design decision: Spider fetches through the Fetcher interface rather than
// an *http.Client. Proxy setup, user agent, body limits and charset decoding
// belong to tor.Transport, and tests substitute canned HTML.
//
// A Spider holds no per-crawl state, so one instance may run several crawls
// concurrently. Every call to Crawl gets its own crawlRun.
type Spider struct {
	// fetcher retrieves page bodies, normally through the Tor proxy.
	fetcher Fetcher

	// extractor pulls links and the title out of each body.
	extractor *Extractor

	// maxDepth is the depth budget of the seed.
	// 0 means only the seed page, 1 means the seed plus the pages it links to.
	maxDepth int

	// logger receives skipped branches (Warn) and crawled pages (Debug).
	logger *slog.Logger

	// now stamps pages and results; tests replace it.
	now func() time.Time
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithMaxDepth sets the depth budget.
// 0 = only the seed page, 1 = the seed page plus the pages it links to, etc.
func WithMaxDepth(depth int) SpiderOption {
	return func(s *Spider) {
		if depth >= 0 {
			s.maxDepth = depth
		}
	}
}

// WithExtractor replaces the default anchor-only extractor.
func WithExtractor(e *Extractor) SpiderOption {
	return func(s *Spider) {
		if e != nil {
			s.extractor = e
		}
	}
}

// WithSpiderLogger sets the logger used for skipped branches.
func WithSpiderLogger(logger *slog.Logger) SpiderOption {
	return func(s *Spider) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) SpiderOption {
	return func(s *Spider) {
		s.now = now
	}
}

// NewSpider creates a Spider that fetches through fetcher.
func NewSpider(fetcher Fetcher, opts ...SpiderOption) *Spider {
	s := &Spider{
		fetcher:   fetcher,
		extractor: NewExtractor(),
		maxDepth:  1,
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// MaxDepth returns the configured depth budget.
func (s *Spider) MaxDepth() int {
	return s.maxDepth
}

// crawlRun is the state of a single top-level crawl.
//
// Instead of a plain visited set it remembers, per normalized URL, the
// largest depth budget the URL has been expanded with. Depth-first order can
// reach a page through a long path first and through a shorter one later;
// the second arrival has more budget left and must still follow the page's
// links that far. Expanding again is cheap because the classified links of
// every fetched URL are cached, so no URL is ever fetched twice.
type crawlRun struct {
	// domain is the canonical domain of the seed. Every fetched page is
	// classified against it.
	domain string

	// budget maps a normalized URL to the largest remaining depth it was
	// expanded with.
	budget map[string]int

	// links caches the classification of each fetched URL. A URL whose
	// fetch failed maps to nil and is not retried.
	links map[string]*Classification

	// pages is keyed by path; order preserves first-visit order.
	pages map[string]*model.Page
	order []string

	// fetches counts fetch attempts; failed counts the ones that errored.
	fetches int
	failed  int
}

// claim records that rawURL is about to be expanded with depth left. It
// returns the normalized key and false when an earlier expansion already had
// at least that much budget, in which case there is nothing new to find.
func (r *crawlRun) claim(rawURL string, depth int) (string, bool) {
	key := normalizeURL(rawURL)
	if best, ok := r.budget[key]; ok && best >= depth {
		return key, false
	}
	r.budget[key] = depth
	return key, true
}

// addPage records a page, replacing an unfetched placeholder for the same path.
func (r *crawlRun) addPage(p *model.Page) {
	existing, ok := r.pages[p.Path]
	if !ok {
		r.pages[p.Path] = p
		r.order = append(r.order, p.Path)
		return
	}
	if !existing.Fetched && p.Fetched {
		r.pages[p.Path] = p
	}
}

// Crawl fetches seedURL and recursively follows its internal links up to the
// depth budget.
//
// A failure to fetch the seed returns an error wrapping ErrSeedUnreachable.
// Failures below the seed are logged and contribute nothing, and the walk
// continues with the sibling links. Each URL is fetched at most once per
// crawl, yet every page within the depth budget of the seed is reached, as
// if the links had been followed without memory. Cycles terminate because
// the budget shrinks on every hop.
func (s *Spider) Crawl(ctx context.Context, seedURL string) (*model.CrawlResult, error) {
	seedURL = strings.TrimSpace(seedURL)
	if !strings.Contains(seedURL, "://") {
		seedURL = "http://" + seedURL
	}

	domain := GetDomain(seedURL)
	if domain == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeed, seedURL)
	}

	run := &crawlRun{
		domain: domain,
		budget: make(map[string]int),
		links:  make(map[string]*Classification),
		pages:  make(map[string]*model.Page),
	}
	seedKey, _ := run.claim(seedURL, s.maxDepth)

	started := s.now()

	run.fetches++
	body, err := s.fetcher.Fetch(ctx, seedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSeedUnreachable, seedURL, err)
	}

	seedPage, classes := s.process(run, seedURL, body)
	run.links[seedKey] = &classes

	internal := toSet(classes.Internal)
	external := toSet(classes.External)

	if s.maxDepth > 0 {
		for _, link := range classes.Internal {
			i, e := s.descend(ctx, run, link, s.maxDepth-1)
			union(internal, i)
			union(external, e)
		}
	}

	// Internal links nobody fetched are still pages of this domain.
	for _, link := range sortedKeys(internal) {
		run.addPage(&model.Page{Domain: domain, Path: pathOf(link)})
	}

	extLinks := sortedKeys(external)
	domains := GetUniqueDomains(extLinks)

	result := &model.CrawlResult{
		SeedURL:       seedURL,
		Domain:        domain,
		Title:         seedPage.TitleOrDefault(),
		Depth:         s.maxDepth,
		InternalLinks: sortedKeys(internal),
		ExternalLinks: extLinks,
		Domains:       domains,
		OnionDomains:  GetOnionDomains(domains),
		Pages:         make([]model.Page, 0, len(run.order)),
		Fetches:       run.fetches,
		FailedFetches: run.failed,
		StartedAt:     started,
		FinishedAt:    s.now(),
	}
	for _, path := range run.order {
		result.Pages = append(result.Pages, *run.pages[path])
	}

	return result, nil
}

// descend crawls a non-seed URL with depth hops left. It never fails: an
// unreachable page, a URL already expanded with as much budget or a
// cancelled context all return empty sets.
func (s *Spider) descend(ctx context.Context, run *crawlRun, link string, depth int) (map[string]struct{}, map[string]struct{}) {
	if ctx.Err() != nil {
		return nil, nil
	}
	key, ok := run.claim(link, depth)
	if !ok {
		return nil, nil
	}

	classes, seen := run.links[key]
	if !seen {
		classes = s.fetchNested(ctx, run, link, depth)
		run.links[key] = classes
	}
	if classes == nil {
		return nil, nil
	}

	internal := toSet(classes.Internal)
	external := toSet(classes.External)

	if depth > 0 {
		for _, next := range classes.Internal {
			i, e := s.descend(ctx, run, next, depth-1)
			union(internal, i)
			union(external, e)
		}
	}

	return internal, external
}

// fetchNested fetches and processes a page below the seed. A failure is
// logged and returns nil.
func (s *Spider) fetchNested(ctx context.Context, run *crawlRun, link string, depth int) *Classification {
	run.fetches++
	body, err := s.fetcher.Fetch(ctx, link)
	if err != nil {
		run.failed++
		s.logger.Warn("skipping unreachable page",
			"url", link,
			"depth", depth,
			"error", err,
		)
		return nil
	}

	_, classes := s.process(run, link, body)
	return &classes
}

// process extracts and classifies a fetched body and records it as a page.
func (s *Spider) process(run *crawlRun, pageURL string, body []byte) (*model.Page, Classification) {
	extraction := s.extractor.Extract(bytes.NewReader(body))
	classes := Classify(extraction.Links, run.domain, pageURL)

	page := &model.Page{
		Domain:   run.domain,
		Path:     pathOf(pageURL),
		Title:    extraction.Title,
		LastScan: s.now(),
		Fetched:  true,
		Body:     body,
	}
	page.ComputeHash()
	page.Body = nil
	run.addPage(page)

	s.logger.Debug("page crawled",
		"url", pageURL,
		"internal", len(classes.Internal),
		"external", len(classes.External),
	)

	return page, classes
}

// normalizeURL normalizes a URL for the per-crawl budget map: scheme and host are
// lower-cased, the fragment is dropped and an empty path becomes "/".
func normalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// pathOf returns the domain-relative part of a URL: path plus query,
// without fragment. The root is "/".
func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func union(dst, src map[string]struct{}) {
	for k := range src {
		dst[k] = struct{}{}
	}
}
