// Package pipeline runs top-level crawls as a sequence of steps: crawl,
// persist, report.
//
// A single seed runs through one Pipeline, and the first failing step ends
// the run. In resume mode every known domain becomes a Job and the
// BatchProcessor runs them on a bounded errgroup; each job fails on its own.
package pipeline
