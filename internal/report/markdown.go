package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/flowchart"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/torspider/internal/model"
)

// MarkdownSummaryFile is the name of the Markdown summary.
const MarkdownSummaryFile = "summary.md"

// maxChartDomains caps the nodes of the summary flowchart; mermaid becomes
// unreadable long before the domain lists do.
const maxChartDomains = 30

// WriteMarkdownSummary writes a GitHub-flavoured Markdown summary of a crawl:
// a property table, a pie chart of internal vs external links, a flowchart
// from the seed domain to the domains it links to and the onion list.
func WriteMarkdownSummary(w io.Writer, result *model.CrawlResult) error {
	s := result.Summary()
	md := markdown.NewMarkdown(w)

	md.H1("Crawl Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed URL", "`" + s.SeedURL + "`"},
			{"Title", s.Title},
			{"Depth", strconv.Itoa(result.Depth)},
			{"Crawled", result.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST")},
			{"Pages fetched", fmt.Sprintf("%d (%d failed)", result.Fetches, result.FailedFetches)},
			{"Internal links", strconv.Itoa(s.InternalLinks)},
			{"External links", strconv.Itoa(s.ExternalLinks)},
			{"Domains", strconv.Itoa(s.Domains)},
			{"Onion domains", strconv.Itoa(s.OnionDomains)},
		},
	})
	md.PlainText("")

	if s.InternalLinks+s.ExternalLinks > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Links"),
			piechart.WithShowData(true),
		)
		chart.LabelAndIntValue("Internal", uint64(s.InternalLinks)) //nolint:gosec // counts are non-negative
		chart.LabelAndIntValue("External", uint64(s.ExternalLinks)) //nolint:gosec // counts are non-negative
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	md.H2("Linked Domains")
	md.PlainText("")
	if len(result.Domains) == 0 {
		md.Note("The crawl found no links to other domains.")
		md.PlainText("")
	} else {
		fc := flowchart.NewFlowchart(io.Discard, flowchart.WithOrientalLeftToRight())
		fc.NodeWithText("seed", result.Domain)
		for i, d := range result.Domains {
			if i == maxChartDomains {
				fc.NodeWithText("more", fmt.Sprintf("%d more", len(result.Domains)-maxChartDomains))
				fc.DottedLink("seed", "more")
				break
			}
			id := "d" + strconv.Itoa(i)
			fc.NodeWithText(id, d)
			fc.LinkWithArrowHead("seed", id)
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, fc.String())
		md.PlainText("")
	}

	md.H2("Onion Domains")
	md.PlainText("")
	if len(result.OnionDomains) == 0 {
		md.PlainText("None.")
	} else {
		md.BulletList(result.OnionDomains...)
	}

	return md.Build()
}

// MarkdownWriter writes summary.md into a directory after each crawl,
// replacing the previous one.
type MarkdownWriter struct {
	dir string
	mu  sync.Mutex
}

// NewMarkdownWriter creates a MarkdownWriter for dir.
func NewMarkdownWriter(dir string) *MarkdownWriter {
	return &MarkdownWriter{dir: dir}
}

// Report writes summary.md.
func (w *MarkdownWriter) Report(result *model.CrawlResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}
	path := filepath.Join(w.dir, MarkdownSummaryFile)
	f, err := os.Create(path) //nolint:gosec // path is built from the configured summary directory
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteMarkdownSummary(f, result); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
