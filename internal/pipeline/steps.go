package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nao1215/torspider/internal/crawler"
	"github.com/nao1215/torspider/internal/database"
	"github.com/nao1215/torspider/internal/model"
)

// Crawler runs one top-level crawl. *crawler.Spider implements it.
type Crawler interface {
	Crawl(ctx context.Context, seedURL string) (*model.CrawlResult, error)
}

// CrawlerFunc picks the crawler for a domain, so per-site settings (depth,
// cookies, headers) can differ between seeds.
type CrawlerFunc func(domain string) Crawler

// Store is the part of the graph database the steps need.
type Store interface {
	RecordCrawl(ctx context.Context, result *model.CrawlResult) (database.RecordStats, error)
	MarkOffline(ctx context.Context, domain string) error
}

// Reporter publishes the result of a crawl (flat files, console, ...).
type Reporter interface {
	Report(result *model.CrawlResult) error
}

// CrawlStep crawls the job's seed. If the seed is unreachable and a store is
// set, the domain is marked offline before the error is returned.
type CrawlStep struct {
	crawlerFor CrawlerFunc
	store      Store
	logger     *slog.Logger
}

// NewCrawlStep creates the crawl step. store may be nil.
func NewCrawlStep(crawlerFor CrawlerFunc, store Store, logger *slog.Logger) *CrawlStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrawlStep{crawlerFor: crawlerFor, store: store, logger: logger}
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do executes the crawl.
func (s *CrawlStep) Do(ctx context.Context, job *Job) error {
	domain := crawler.GetDomain(job.SeedURL)

	result, err := s.crawlerFor(domain).Crawl(ctx, job.SeedURL)
	if err != nil {
		if errors.Is(err, crawler.ErrSeedUnreachable) && ctx.Err() == nil {
			job.Offline = true
			if s.store != nil && domain != "" {
				if merr := s.store.MarkOffline(ctx, domain); merr != nil {
					s.logger.Warn("could not record offline domain", "domain", domain, "error", merr)
				}
			}
		}
		return err
	}

	job.Result = result
	s.logger.Info("crawl finished",
		"seed", result.SeedURL,
		"fetches", result.Fetches,
		"failed", result.FailedFetches,
		"elapsed", result.Elapsed(),
	)
	return nil
}

// PersistStep writes the crawl result into the graph database. It runs
// after cancellation too, so the pages a cut short crawl did reach are kept.
type PersistStep struct {
	store  Store
	logger *slog.Logger
}

// NewPersistStep creates the persist step.
func NewPersistStep(store Store, logger *slog.Logger) *PersistStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistStep{store: store, logger: logger}
}

// Name returns the step name.
func (s *PersistStep) Name() string {
	return "persist"
}

// RunsAfterCancel reports true.
func (s *PersistStep) RunsAfterCancel() bool {
	return true
}

// Do executes the persist step. It is a no-op when the crawl produced nothing.
func (s *PersistStep) Do(ctx context.Context, job *Job) error {
	if job.Result == nil {
		return nil
	}

	stats, err := s.store.RecordCrawl(ctx, job.Result)
	if err != nil {
		return err
	}
	job.Stats = stats

	s.logger.Debug("crawl recorded",
		"domain", job.Result.Domain,
		"pages", stats.Pages,
		"new_domains", stats.NewDomains,
		"new_links", stats.NewLinks,
		"failures", stats.Failures,
	)
	return nil
}

// ReportStep hands the result to every reporter. All reporters run even
// if one fails; the first error is returned.
type ReportStep struct {
	reporters []Reporter
}

// NewReportStep creates the report step.
func NewReportStep(reporters ...Reporter) *ReportStep {
	return &ReportStep{reporters: reporters}
}

// Name returns the step name.
func (s *ReportStep) Name() string {
	return "report"
}

// Do executes the report step.
func (s *ReportStep) Do(_ context.Context, job *Job) error {
	if job.Result == nil {
		return nil
	}
	var errs []error
	for _, r := range s.reporters {
		if err := r.Report(job.Result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
