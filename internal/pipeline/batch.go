package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchProcessor runs independent top-level crawls concurrently, at most
// concurrency at a time. A failed job does not stop the others.
type BatchProcessor struct {
	pipelineFactory func() *Pipeline
	concurrency     int
	logger          *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the worker limit. Values <= 0 are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a processor. pipelineFactory is called once per
// job so that no step state is shared between jobs.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     1,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch crawls every seed and returns one job per seed, in input
// order. Jobs not started because ctx was cancelled carry ctx's error.
// The returned error is non-nil only on cancellation.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, seeds []string) ([]*Job, error) {
	bp.logger.Info("starting batch", "seeds", len(seeds), "workers", bp.concurrency)
	start := time.Now()

	jobs := make([]*Job, len(seeds))
	for i, seed := range seeds {
		jobs[i] = NewJob(seed)
	}

	var g errgroup.Group
	g.SetLimit(bp.concurrency)

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			job.Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				job.Err = err
				return nil
			}

			bp.logger.Debug("crawling seed", "seed", job.SeedURL, "index", i+1, "total", len(jobs))
			if err := bp.pipelineFactory().Execute(ctx, job); err != nil {
				bp.logger.Warn("seed failed", "seed", job.SeedURL, "offline", job.Offline, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	bp.logger.Info("batch complete", "seeds", len(seeds), "elapsed", time.Since(start))
	return jobs, ctx.Err()
}
