// Package runner executes independent search runs concurrently.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Job is one independent unit of work. Jobs must not share mutable state;
// each run owns its network and random source.
type Job[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

type Result[T any] struct {
	Name    string
	Value   T
	Err     error
	Elapsed time.Duration
}

type Options struct {
	Workers int
	// FailFast cancels the remaining jobs after the first failure.
	FailFast bool
	Logger   *slog.Logger
}

// Run executes jobs with at most opts.Workers in flight. Results keep the
// order of jobs regardless of completion order. A job that never started
// because the context was canceled reports the context error.
func Run[T any](ctx context.Context, jobs []Job[T], opts Options) []Result[T] {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make([]Result[T], len(jobs))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers)
	if opts.FailFast {
		p = p.WithCancelOnError()
	}
	for i, job := range jobs {
		results[i].Name = job.Name
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return err
			}
			if job.Run == nil {
				results[i].Err = fmt.Errorf("job %s has no run function", job.Name)
				return results[i].Err
			}
			began := time.Now()
			value, err := job.Run(ctx)
			results[i] = Result[T]{Name: job.Name, Value: value, Err: err, Elapsed: time.Since(began)}
			if err != nil {
				logger.Warn("job failed", "job", job.Name, "error", err)
				return err
			}
			logger.Debug("job finished", "job", job.Name, "elapsed", results[i].Elapsed)
			return nil
		})
	}
	_ = p.Wait()
	return results
}

// Errors returns the failures of results keyed by job name.
func Errors[T any](results []Result[T]) map[string]error {
	out := make(map[string]error)
	for _, r := range results {
		if r.Err != nil {
			out[r.Name] = r.Err
		}
	}
	return out
}
