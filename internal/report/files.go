package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nao1215/torspider/internal/model"
)

// Names of the flat summary files.
const (
	InternalLinksFile = "intlinks.txt"
	ExternalLinksFile = "extlinks.txt"
	DomainsFile       = "domains.txt"
	OnionsFile        = "onions.txt"
)

// FileWriter writes the link and domain lists of the latest crawl to plain
// text files, one entry per line. Each report replaces the previous files.
type FileWriter struct {
	dir string
	mu  sync.Mutex
}

// NewFileWriter creates a FileWriter for dir. The directory is created on
// first use.
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{dir: dir}
}

// Dir returns the output directory.
func (w *FileWriter) Dir() string {
	return w.dir
}

// Report writes the four summary files.
func (w *FileWriter) Report(result *model.CrawlResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}

	files := []struct {
		name  string
		lines []string
	}{
		{InternalLinksFile, result.InternalLinks},
		{ExternalLinksFile, result.ExternalLinks},
		{DomainsFile, result.Domains},
		{OnionsFile, result.OnionDomains},
	}
	for _, f := range files {
		if err := writeLines(filepath.Join(w.dir, f.name), f.lines); err != nil {
			return err
		}
	}
	return nil
}

// writeLines replaces path atomically so a reader never sees half a list.
func writeLines(path string, lines []string) error {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
