package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/nao1215/torspider/internal/crawler"
	"github.com/nao1215/torspider/internal/database"
	"github.com/nao1215/torspider/internal/model"
)

// fakeCrawler returns a canned result, or ErrSeedUnreachable for seeds in down.
type fakeCrawler struct {
	down map[string]bool
}

func (f *fakeCrawler) Crawl(_ context.Context, seed string) (*model.CrawlResult, error) {
	if f.down[seed] {
		return nil, fmt.Errorf("%w: %s: refused", crawler.ErrSeedUnreachable, seed)
	}
	return &model.CrawlResult{
		SeedURL: seed,
		Domain:  crawler.GetDomain(seed),
		Domains: []string{"other.onion"},
	}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	recorded []string
	offline  []string
	err      error
}

func (s *fakeStore) RecordCrawl(_ context.Context, r *model.CrawlResult) (database.RecordStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return database.RecordStats{}, s.err
	}
	s.recorded = append(s.recorded, r.Domain)
	return database.RecordStats{NewDomains: len(r.Domains)}, nil
}

func (s *fakeStore) MarkOffline(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = append(s.offline, domain)
	return nil
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []string
	err     error
}

func (r *fakeReporter) Report(result *model.CrawlResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, result.SeedURL)
	return r.err
}

func crawlPipeline(c Crawler, store Store, reporters ...Reporter) *Pipeline {
	p := New()
	p.AddSteps(
		NewCrawlStep(func(string) Crawler { return c }, store, nil),
		NewPersistStep(store, nil),
		NewReportStep(reporters...),
	)
	return p
}

func TestCrawlPersistReport(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	rep := &fakeReporter{}
	job := NewJob("http://example.onion/")

	if err := crawlPipeline(&fakeCrawler{}, store, rep).Execute(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Result == nil || job.Result.Domain != "example.onion" {
		t.Fatalf("Result = %+v", job.Result)
	}
	if job.Stats.NewDomains != 1 {
		t.Errorf("Stats = %+v", job.Stats)
	}
	if len(store.recorded) != 1 || len(rep.reports) != 1 {
		t.Errorf("recorded = %v, reports = %v", store.recorded, rep.reports)
	}
}

func TestCrawlStepMarksOffline(t *testing.T) {
	t.Parallel()

	seed := "http://down.onion/"
	store := &fakeStore{}
	rep := &fakeReporter{}
	job := NewJob(seed)

	err := crawlPipeline(&fakeCrawler{down: map[string]bool{seed: true}}, store, rep).Execute(context.Background(), job)
	if !errors.Is(err, crawler.ErrSeedUnreachable) {
		t.Fatalf("err = %v, expected ErrSeedUnreachable", err)
	}
	if !job.Offline {
		t.Error("job not marked offline")
	}
	if len(store.offline) != 1 || store.offline[0] != "down.onion" {
		t.Errorf("offline = %v", store.offline)
	}
	if len(store.recorded) != 0 || len(rep.reports) != 0 {
		t.Error("later steps ran after an unreachable seed")
	}
}

// cancellingCrawler cancels the run mid-crawl and returns what it reached.
type cancellingCrawler struct {
	cancel context.CancelFunc
	err    error
}

func (c *cancellingCrawler) Crawl(_ context.Context, seed string) (*model.CrawlResult, error) {
	c.cancel()
	if c.err != nil {
		return nil, c.err
	}
	return &model.CrawlResult{SeedURL: seed, Domain: crawler.GetDomain(seed)}, nil
}

// liveStore fails RecordCrawl when handed a done context, like database/sql.
type liveStore struct {
	*fakeStore
}

func (s liveStore) RecordCrawl(ctx context.Context, r *model.CrawlResult) (database.RecordStats, error) {
	if err := ctx.Err(); err != nil {
		return database.RecordStats{}, err
	}
	return s.fakeStore.RecordCrawl(ctx, r)
}

func TestCancelledCrawlIsPersisted(t *testing.T) {
	t.Parallel()

	t.Run("partial result is recorded but not reported", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store := liveStore{&fakeStore{}}
		rep := &fakeReporter{}
		job := NewJob("http://example.onion/")

		err := crawlPipeline(&cancellingCrawler{cancel: cancel}, store, rep).Execute(ctx, job)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, expected context.Canceled", err)
		}
		if !reflect.DeepEqual(store.recorded, []string{"example.onion"}) {
			t.Errorf("recorded = %v, want the partial result", store.recorded)
		}
		if len(rep.reports) != 0 {
			t.Errorf("reports = %v, want none after cancellation", rep.reports)
		}
	})

	t.Run("seed cut short is not marked offline", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store := &fakeStore{}
		job := NewJob("http://example.onion/")
		c := &cancellingCrawler{
			cancel: cancel,
			err:    fmt.Errorf("%w: http://example.onion/: %w", crawler.ErrSeedUnreachable, context.Canceled),
		}

		err := crawlPipeline(c, store).Execute(ctx, job)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, expected context.Canceled", err)
		}
		if job.Offline || len(store.offline) != 0 {
			t.Errorf("cancelled seed marked offline: %v", store.offline)
		}
	})
}

func TestPersistStepError(t *testing.T) {
	t.Parallel()

	errDB := errors.New("disk full")
	job := NewJob("http://example.onion/")
	err := crawlPipeline(&fakeCrawler{}, &fakeStore{err: errDB}).Execute(context.Background(), job)
	if !errors.Is(err, errDB) {
		t.Errorf("err = %v, expected %v", err, errDB)
	}
}

func TestReportStepRunsAllReporters(t *testing.T) {
	t.Parallel()

	errA := errors.New("a failed")
	a := &fakeReporter{err: errA}
	b := &fakeReporter{}
	job := &Job{Result: &model.CrawlResult{SeedURL: "s"}}

	err := NewReportStep(a, b).Do(context.Background(), job)
	if !errors.Is(err, errA) {
		t.Errorf("err = %v", err)
	}
	if len(b.reports) != 1 {
		t.Error("second reporter skipped after first failed")
	}
	if err := NewReportStep(a).Do(context.Background(), &Job{}); err != nil {
		t.Errorf("report without result = %v", err)
	}
}
