package crawler

import (
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// titleState tracks where the tokenizer is relative to the first <title>.
type titleState int

const (
	seekingTitle titleState = iota
	capturingTitle
	titleDone
)

// Extractor pulls hyperlink targets and the page title out of raw HTML.
//
// It drives the golang.org/x/net/html tokenizer directly instead of building
// a DOM: only start tags and the text right after <title> matter, and the
// tokenizer keeps going on broken markup where a tree builder would have to
// guess. Extraction never fails; on a tokenizer error it returns whatever was
// collected up to that point.
type Extractor struct {
	// includeImages adds <img src> targets to the link set.
	includeImages bool
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithImageSources makes the extractor also report <img src> targets.
func WithImageSources(include bool) ExtractorOption {
	return func(e *Extractor) {
		e.includeImages = include
	}
}

// NewExtractor creates an Extractor. By default only anchor href targets are
// collected.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extraction is the outcome of a single pass over a document.
type Extraction struct {
	// Links is the deduplicated, sorted set of link targets.
	Links []string

	// Title is the normalized text of the first <title> element, or "".
	Title string
}

// Extract scans the document once and returns its links and title.
func (e *Extractor) Extract(r io.Reader) Extraction {
	z := html.NewTokenizer(r)
	links := make(map[string]struct{})
	state := seekingTitle
	var title strings.Builder

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a read error: either way we keep what we have.
			return Extraction{
				Links: sortedKeys(links),
				Title: normalizeTitle(title.String()),
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if state == capturingTitle {
				state = titleDone
			}
			switch tok.DataAtom {
			case atom.A:
				addLink(links, attr(tok, "href"))
			case atom.Img:
				if e.includeImages {
					addLink(links, attr(tok, "src"))
				}
			case atom.Title:
				if state == seekingTitle && tt == html.StartTagToken {
					state = capturingTitle
				}
			}

		case html.TextToken:
			if state == capturingTitle {
				title.Write(z.Text())
			}

		case html.EndTagToken:
			if state == capturingTitle {
				state = titleDone
			}
		}
	}
}

// ExtractLinks returns the set of link targets found in htmlText.
func (e *Extractor) ExtractLinks(htmlText string) []string {
	return e.Extract(strings.NewReader(htmlText)).Links
}

// ExtractTitle returns the text of the first <title> element, or "" if the
// document has none.
func (e *Extractor) ExtractTitle(htmlText string) string {
	return e.Extract(strings.NewReader(htmlText)).Title
}

// ExtractLinks returns the anchor targets of htmlText using the default
// extractor.
func ExtractLinks(htmlText string) []string {
	return NewExtractor().ExtractLinks(htmlText)
}

// ExtractTitle returns the title of htmlText using the default extractor.
func ExtractTitle(htmlText string) string {
	return NewExtractor().ExtractTitle(htmlText)
}

// addLink records a non-empty link target.
func addLink(links map[string]struct{}, target string) {
	target = strings.TrimSpace(target)
	if target == "" {
		return
	}
	links[target] = struct{}{}
}

// attr retrieves an attribute value from a token.
func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// normalizeTitle collapses whitespace and applies NFC so the same title
// written with different Unicode forms is stored identically.
func normalizeTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return norm.NFC.String(s)
}

// sortedKeys returns the keys of a set in sorted order.
func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
