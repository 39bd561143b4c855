// Package report publishes crawl results.
//
// FileWriter keeps intlinks.txt, extlinks.txt, domains.txt and onions.txt
// in sync with the latest top-level crawl. SimpleWriter prints the console
// summary and MarkdownWriter writes summary.md with mermaid charts. All three
// satisfy pipeline.Reporter. WriteGraphJSON and WriteGraphMarkdown render
// the online domain graph read from the database.
package report
