package report

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/flowchart"
	"github.com/nao1215/torspider/internal/model"
)

// WriteGraphJSON writes the online graph as indented JSON:
// {"domains": [...], "links": [{"from": id, "to": id}, ...]}.
func WriteGraphJSON(w io.Writer, graph *model.Graph) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(graph)
}

// WriteGraphMarkdown writes the online graph as a domain table followed by a
// mermaid flowchart with one node per domain and one edge per link.
func WriteGraphMarkdown(w io.Writer, graph *model.Graph) error {
	md := markdown.NewMarkdown(w)

	md.H1("Domain Graph")
	md.PlainText("")
	md.PlainTextf("%d online domains, %d links.", len(graph.Domains), len(graph.Links))
	md.PlainText("")

	if len(graph.Domains) == 0 {
		md.Note("No domain has been scanned successfully yet.")
		return md.Build()
	}

	rows := make([][]string, len(graph.Domains))
	for i, d := range graph.Domains {
		rows[i] = []string{
			strconv.FormatInt(d.ID, 10),
			"`" + d.Name + "`",
			d.LastScan.UTC().Format("2006-01-02 15:04:05"),
			d.Info,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Domain", "Last Scan", "Info"},
		Rows:   rows,
	})
	md.PlainText("")

	fc := flowchart.NewFlowchart(io.Discard, flowchart.WithOrientalLeftToRight())
	for _, d := range graph.Domains {
		fc.NodeWithText(nodeID(d.ID), d.Name)
	}
	for _, l := range graph.Links {
		fc.LinkWithArrowHead(nodeID(l.FromID), nodeID(l.ToID))
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, fc.String())

	return md.Build()
}

func nodeID(id int64) string {
	return "d" + strconv.FormatInt(id, 10)
}
