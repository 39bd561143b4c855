package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/torspider/internal/crawler"
	"github.com/nao1215/torspider/internal/model"
)

func TestProcessBatch(t *testing.T) {
	t.Parallel()

	seeds := []string{"http://a.onion/", "http://down.onion/", "http://c.onion/"}
	store := &fakeStore{}
	c := &fakeCrawler{down: map[string]bool{"http://down.onion/": true}}

	bp := NewBatchProcessor(func() *Pipeline { return crawlPipeline(c, store) }, WithConcurrency(2))
	jobs, err := bp.ProcessBatch(context.Background(), seeds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != len(seeds) {
		t.Fatalf("len(jobs) = %d", len(jobs))
	}
	for i, job := range jobs {
		if job.SeedURL != seeds[i] {
			t.Errorf("jobs[%d].SeedURL = %q, order not preserved", i, job.SeedURL)
		}
	}
	if jobs[0].Err != nil || jobs[2].Err != nil {
		t.Errorf("healthy jobs failed: %v, %v", jobs[0].Err, jobs[2].Err)
	}
	if !errors.Is(jobs[1].Err, crawler.ErrSeedUnreachable) || !jobs[1].Offline {
		t.Errorf("down job = %+v", jobs[1])
	}
	if len(store.recorded) != 2 {
		t.Errorf("recorded = %v", store.recorded)
	}
}

// slowCrawler tracks how many crawls run at once.
type slowCrawler struct {
	running atomic.Int32
	peak    atomic.Int32
}

func (s *slowCrawler) Crawl(_ context.Context, seed string) (*model.CrawlResult, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return &model.CrawlResult{SeedURL: seed, Domain: crawler.GetDomain(seed)}, nil
}

func TestProcessBatchRespectsConcurrency(t *testing.T) {
	t.Parallel()

	c := &slowCrawler{}
	seeds := make([]string, 8)
	for i := range seeds {
		seeds[i] = "http://" + string(rune('a'+i)) + ".onion/"
	}

	bp := NewBatchProcessor(func() *Pipeline {
		p := New()
		p.AddSteps(NewCrawlStep(func(string) Crawler { return c }, nil, nil))
		return p
	}, WithConcurrency(3))

	if _, err := bp.ProcessBatch(context.Background(), seeds); err != nil {
		t.Fatal(err)
	}
	if peak := c.peak.Load(); peak > 3 || peak < 1 {
		t.Errorf("peak concurrency = %d, expected 1..3", peak)
	}
}

func TestProcessBatchCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bp := NewBatchProcessor(func() *Pipeline { return crawlPipeline(&fakeCrawler{}, &fakeStore{}) })
	jobs, err := bp.ProcessBatch(ctx, []string{"http://a.onion/"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if !errors.Is(jobs[0].Err, context.Canceled) {
		t.Errorf("job err = %v", jobs[0].Err)
	}
}
