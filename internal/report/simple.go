package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nao1215/torspider/internal/model"
)

// SimpleWriter prints a short plain-text summary of each crawl.
type SimpleWriter struct {
	output io.Writer
	mu     sync.Mutex
}

// NewSimpleWriter creates a SimpleWriter that prints to output.
func NewSimpleWriter(output io.Writer) *SimpleWriter {
	return &SimpleWriter{output: output}
}

// Report prints the summary of result. Concurrent reports never interleave.
func (w *SimpleWriter) Report(result *model.CrawlResult) error {
	s := result.Summary()

	var sb strings.Builder
	sb.WriteString(strings.Repeat("-", 60) + "\n")
	fmt.Fprintf(&sb, "Seed URL:         %s\n", s.SeedURL)
	fmt.Fprintf(&sb, "Title:            %s\n", s.Title)
	fmt.Fprintf(&sb, "Internal links:   %d\n", s.InternalLinks)
	fmt.Fprintf(&sb, "External links:   %d\n", s.ExternalLinks)
	fmt.Fprintf(&sb, "Domains found:    %d\n", s.Domains)
	fmt.Fprintf(&sb, "Onions found:     %d\n", s.OnionDomains)
	fmt.Fprintf(&sb, "Pages fetched:    %d (%d failed)\n", result.Fetches, result.FailedFetches)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := io.WriteString(w.output, sb.String())
	return err
}
