package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/torspider/internal/database"
	"github.com/nao1215/torspider/internal/model"
)

// Job is one top-level crawl travelling through a pipeline.
// Steps fill in the fields as they run.
type Job struct {
	// SeedURL is the URL the crawl starts from.
	SeedURL string

	// Result is set by the crawl step.
	Result *model.CrawlResult

	// Stats is set by the persist step.
	Stats database.RecordStats

	// Offline is set when the seed could not be fetched.
	Offline bool

	// Err is the error of the first failed step.
	Err error

	// Steps lists the steps that ran, in order.
	Steps []string
}

// NewJob creates a job for seedURL.
func NewJob(seedURL string) *Job {
	return &Job{SeedURL: seedURL}
}

// Step is one stage of a crawl.
type Step interface {
	// Do runs the step. An error stops the pipeline unless it was built
	// WithContinueOnError.
	Do(ctx context.Context, job *Job) error

	// Name returns the step's name for logging.
	Name() string
}

// FinalStep is a Step that still runs once the context is cancelled. It gets
// a context that keeps the parent's values but is never cancelled.
type FinalStep interface {
	Step

	// RunsAfterCancel reports whether the step must run after cancellation.
	RunsAfterCancel() bool
}

func runsAfterCancel(step Step) bool {
	final, ok := step.(FinalStep)
	return ok && final.RunsAfterCancel()
}

// Pipeline runs steps in order for one job.
type Pipeline struct {
	steps           []Step
	logger          *slog.Logger
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError keeps running later steps after one fails.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddSteps appends steps. They run in the order added.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs the steps for job. Cancellation is checked between steps:
// once the context is done only FinalSteps run, and the context error is
// returned. Otherwise it returns the first step error (also stored in
// job.Err), or nil.
func (p *Pipeline) Execute(ctx context.Context, job *Job) error {
	for _, step := range p.steps {
		stepCtx := ctx
		if err := ctx.Err(); err != nil {
			if job.Err == nil {
				job.Err = err
				p.logger.Warn("pipeline cancelled", "step", step.Name(), "seed", job.SeedURL, "reason", err)
			}
			if !runsAfterCancel(step) {
				continue
			}
			stepCtx = context.WithoutCancel(ctx)
		}

		p.logger.Debug("executing step", "step", step.Name(), "seed", job.SeedURL)

		err := step.Do(stepCtx, job)
		job.Steps = append(job.Steps, step.Name())
		if err == nil {
			continue
		}

		p.logger.Debug("step failed", "step", step.Name(), "seed", job.SeedURL, "error", err)
		if job.Err == nil {
			job.Err = err
		}
		if !p.continueOnError {
			return job.Err
		}
	}
	return job.Err
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
