package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/torspider/internal/tor"
)

// fakeFetcher serves canned HTML and counts fetches per URL.
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	counts map[string]int
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, counts: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[rawURL]++
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("fetch %s: connection refused", rawURL)
	}
	return []byte(body), nil
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.counts {
		n += c
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpiderCrawl(t *testing.T) {
	t.Parallel()

	t.Run("seed scenario", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{
			"http://example.onion/index": `<html><head><title>Example</title></head><body>
				<a href="/about">about</a>
				<a href="http://example.onion/contact">contact</a>
				<a href="http://other.onion/">other</a>
				<a href="http://example.onion/about">about again</a>
			</body></html>`,
		})

		spider := NewSpider(fetcher, WithMaxDepth(0), WithSpiderLogger(quietLogger()))
		result, err := spider.Crawl(context.Background(), "http://example.onion/index")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		wantInternal := []string{"http://example.onion/about", "http://example.onion/contact"}
		if !reflect.DeepEqual(result.InternalLinks, wantInternal) {
			t.Errorf("InternalLinks = %v, want %v", result.InternalLinks, wantInternal)
		}
		if !reflect.DeepEqual(result.ExternalLinks, []string{"http://other.onion/"}) {
			t.Errorf("ExternalLinks = %v", result.ExternalLinks)
		}
		if !reflect.DeepEqual(result.Domains, []string{"other.onion"}) {
			t.Errorf("Domains = %v", result.Domains)
		}
		if !reflect.DeepEqual(result.OnionDomains, []string{"other.onion"}) {
			t.Errorf("OnionDomains = %v", result.OnionDomains)
		}
		if result.Title != "Example" {
			t.Errorf("Title = %q, want Example", result.Title)
		}
		if result.Domain != "example.onion" {
			t.Errorf("Domain = %q", result.Domain)
		}
	})

	t.Run("depth zero fetches exactly once", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{
			"http://a.onion/":  `<a href="/b">b</a><a href="/c">c</a>`,
			"http://a.onion/b": `<a href="/d">d</a>`,
			"http://a.onion/c": ``,
		})

		result, err := NewSpider(fetcher, WithMaxDepth(0)).Crawl(context.Background(), "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fetcher.total() != 1 {
			t.Errorf("expected 1 fetch, got %d", fetcher.total())
		}
		if result.Fetches != 1 {
			t.Errorf("Fetches = %d, want 1", result.Fetches)
		}

		// Seed is fetched, its links are recorded as unfetched pages.
		if len(result.Pages) != 3 {
			t.Fatalf("expected 3 pages, got %+v", result.Pages)
		}
		if !result.Pages[0].Fetched || result.Pages[0].Path != "/" {
			t.Errorf("first page should be the fetched seed, got %+v", result.Pages[0])
		}
		for _, p := range result.Pages[1:] {
			if p.Fetched {
				t.Errorf("page %s should not be fetched", p.Path)
			}
			if p.Domain != "a.onion" {
				t.Errorf("page %s has domain %q", p.Path, p.Domain)
			}
		}
	})

	t.Run("aggregates links from nested pages", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{
			"http://a.onion/":  `<a href="/b">b</a>`,
			"http://a.onion/b": `<a href="/c">c</a><a href="http://x.onion/">x</a>`,
			"http://a.onion/c": `<a href="http://y.onion/">y</a>`,
		})

		result, err := NewSpider(fetcher, WithMaxDepth(2)).Crawl(context.Background(), "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{"http://x.onion/", "http://y.onion/"}
		if !reflect.DeepEqual(result.ExternalLinks, want) {
			t.Errorf("ExternalLinks = %v, want %v", result.ExternalLinks, want)
		}
		wantInternal := []string{"http://a.onion/b", "http://a.onion/c"}
		if !reflect.DeepEqual(result.InternalLinks, wantInternal) {
			t.Errorf("InternalLinks = %v, want %v", result.InternalLinks, wantInternal)
		}
	})

	t.Run("depth budget is enforced", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{
			"http://a.onion/":  `<a href="/1">1</a>`,
			"http://a.onion/1": `<a href="/2">2</a>`,
			"http://a.onion/2": `<a href="/3">3</a>`,
			"http://a.onion/3": `<a href="http://deep.onion/">deep</a>`,
		})

		result, err := NewSpider(fetcher, WithMaxDepth(1)).Crawl(context.Background(), "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fetcher.total() != 2 {
			t.Errorf("expected 2 fetches, got %d", fetcher.total())
		}
		if len(result.ExternalLinks) != 0 {
			t.Errorf("deep link should be out of budget, got %v", result.ExternalLinks)
		}
	})

	t.Run("cycles terminate and each URL is fetched once", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{
			"http://a.onion/":  `<a href="/b">b</a><a href="/c">c</a>`,
			"http://a.onion/b": `<a href="/">home</a><a href="/c">c</a>`,
			"http://a.onion/c": `<a href="/b">b</a><a href="/#top">home</a>`,
		})

		_, err := NewSpider(fetcher, WithMaxDepth(10)).Crawl(context.Background(), "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for u, c := range fetcher.counts {
			if c != 1 {
				t.Errorf("%s fetched %d times", u, c)
			}
		}
		if fetcher.total() != 3 {
			t.Errorf("expected 3 fetches, got %d", fetcher.total())
		}
	})

	t.Run("page reached by a longer path first keeps its full budget", func(t *testing.T) {
		t.Parallel()

		// /b is first reached through /a with no budget left, then directly
		// from the seed with one hop left, which must still reach /c.
		fetcher := newFakeFetcher(map[string]string{
			"http://s.onion/":  `<a href="/a">a</a><a href="/b">b</a>`,
			"http://s.onion/a": `<a href="/b">b</a>`,
			"http://s.onion/b": `<a href="/c">c</a>`,
			"http://s.onion/c": `<a href="/d">d</a><a href="http://far.onion/">far</a>`,
			"http://s.onion/d": `<a href="http://too-far.onion/">too far</a>`,
		})

		result, err := NewSpider(fetcher, WithMaxDepth(2), WithSpiderLogger(quietLogger())).
			Crawl(context.Background(), "http://s.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		wantCounts := map[string]int{
			"http://s.onion/":  1,
			"http://s.onion/a": 1,
			"http://s.onion/b": 1,
			"http://s.onion/c": 1,
		}
		if !reflect.DeepEqual(fetcher.counts, wantCounts) {
			t.Errorf("fetch counts = %v, want %v", fetcher.counts, wantCounts)
		}
		wantInternal := []string{"http://s.onion/a", "http://s.onion/b", "http://s.onion/c", "http://s.onion/d"}
		if !reflect.DeepEqual(result.InternalLinks, wantInternal) {
			t.Errorf("InternalLinks = %v, want %v", result.InternalLinks, wantInternal)
		}
		if !reflect.DeepEqual(result.ExternalLinks, []string{"http://far.onion/"}) {
			t.Errorf("ExternalLinks = %v, want only far.onion", result.ExternalLinks)
		}
	})

	t.Run("link order does not change coverage", func(t *testing.T) {
		t.Parallel()

		forward := map[string]string{
			"http://s.onion/":  `<a href="/a">a</a><a href="/b">b</a>`,
			"http://s.onion/a": `<a href="/b">b</a>`,
			"http://s.onion/b": `<a href="/c">c</a>`,
			"http://s.onion/c": `<a href="http://x.onion/">x</a>`,
		}
		reversed := map[string]string{
			"http://s.onion/":  `<a href="/b">b</a><a href="/a">a</a>`,
			"http://s.onion/a": `<a href="/b">b</a>`,
			"http://s.onion/b": `<a href="/c">c</a>`,
			"http://s.onion/c": `<a href="http://x.onion/">x</a>`,
		}

		var got [][]string
		for _, pages := range []map[string]string{forward, reversed} {
			result, err := NewSpider(newFakeFetcher(pages), WithMaxDepth(2)).
				Crawl(context.Background(), "http://s.onion/")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got = append(got, result.ExternalLinks)
		}
		if !reflect.DeepEqual(got[0], got[1]) || len(got[0]) != 1 {
			t.Errorf("external links differ by link order: %v vs %v", got[0], got[1])
		}
	})

	t.Run("nested failure is skipped", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{
			"http://a.onion/":   `<a href="/broken">broken</a><a href="/ok">ok</a>`,
			"http://a.onion/ok": `<a href="http://z.onion/">z</a>`,
		})

		result, err := NewSpider(fetcher, WithMaxDepth(1), WithSpiderLogger(quietLogger())).
			Crawl(context.Background(), "http://a.onion/")
		if err != nil {
			t.Fatalf("nested failure must not abort the crawl: %v", err)
		}
		if !reflect.DeepEqual(result.ExternalLinks, []string{"http://z.onion/"}) {
			t.Errorf("sibling links should still be aggregated, got %v", result.ExternalLinks)
		}
		if result.FailedFetches != 1 {
			t.Errorf("FailedFetches = %d, want 1", result.FailedFetches)
		}
	})

	t.Run("seed failure is fatal", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{})

		_, err := NewSpider(fetcher).Crawl(context.Background(), "http://gone.onion/")
		if !errors.Is(err, ErrSeedUnreachable) {
			t.Fatalf("expected ErrSeedUnreachable, got %v", err)
		}
	})

	t.Run("missing title uses sentinel", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{"http://a.onion/": `<p>no title</p>`})

		result, err := NewSpider(fetcher, WithMaxDepth(0)).Crawl(context.Background(), "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Title != "none" {
			t.Errorf("Title = %q, want sentinel", result.Title)
		}
	})

	t.Run("seed without scheme defaults to http", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{"http://a.onion/": `<title>A</title>`})

		result, err := NewSpider(fetcher, WithMaxDepth(0)).Crawl(context.Background(), "a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.SeedURL != "http://a.onion/" {
			t.Errorf("SeedURL = %q", result.SeedURL)
		}
	})

	t.Run("invalid seed", func(t *testing.T) {
		t.Parallel()

		_, err := NewSpider(newFakeFetcher(nil)).Crawl(context.Background(), "http:///")
		if !errors.Is(err, ErrInvalidSeed) {
			t.Fatalf("expected ErrInvalidSeed, got %v", err)
		}
	})

	t.Run("cancelled context stops descending", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{
			"http://a.onion/":  `<a href="/b">b</a>`,
			"http://a.onion/b": ``,
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewSpider(fetcher, WithMaxDepth(3)).Crawl(ctx, "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fetcher.total() != 1 {
			t.Errorf("expected only the seed fetch, got %d", fetcher.total())
		}
	})

	t.Run("pages carry hash and title", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(map[string]string{
			"http://a.onion/":  `<title>Home</title><a href="/b">b</a>`,
			"http://a.onion/b": `<title>B</title>`,
		})

		result, err := NewSpider(fetcher, WithMaxDepth(1)).Crawl(context.Background(), "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Pages) != 2 {
			t.Fatalf("expected 2 pages, got %d", len(result.Pages))
		}
		for _, p := range result.Pages {
			if !p.Fetched || p.Hash == "" || p.Title == "" {
				t.Errorf("page %s incomplete: %+v", p.Path, p)
			}
			if p.Body != nil {
				t.Errorf("page %s should not retain its body", p.Path)
			}
		}
	})
}

func TestSpiderNestedTimeout(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `<a href="/slow">slow</a><a href="/ok">ok</a>`)
	})
	mux.HandleFunc("/slow", func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<a href="http://z.onion/">z</a>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	transport := tor.NewTransport(&http.Client{Timeout: 200 * time.Millisecond})
	result, err := NewSpider(transport, WithMaxDepth(1), WithSpiderLogger(quietLogger())).
		Crawl(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("a timed out nested fetch must not abort the crawl: %v", err)
	}
	if !reflect.DeepEqual(result.ExternalLinks, []string{"http://z.onion/"}) {
		t.Errorf("sibling links should still be aggregated, got %v", result.ExternalLinks)
	}
	if result.FailedFetches != 1 {
		t.Errorf("FailedFetches = %d, want 1", result.FailedFetches)
	}
	if result.Fetches != 3 {
		t.Errorf("Fetches = %d, want 3", result.Fetches)
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "http://A.onion", want: "http://a.onion/"},
		{in: "http://a.onion/x#frag", want: "http://a.onion/x"},
		{in: "HTTP://a.onion/x?y=1", want: "http://a.onion/x?y=1"},
	}

	for _, tt := range tests {
		if got := normalizeURL(tt.in); got != tt.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPathOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "http://a.onion", want: "/"},
		{in: "http://a.onion/wiki/Main_Page", want: "/wiki/Main_Page"},
		{in: "http://a.onion/search?q=x#r", want: "/search?q=x"},
	}

	for _, tt := range tests {
		if got := pathOf(tt.in); got != tt.want {
			t.Errorf("pathOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
