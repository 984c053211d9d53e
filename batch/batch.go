// Package batch executes many scripts concurrently on one engine.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/deepnoodle-ai/scriptenv/guest"
	"github.com/deepnoodle-ai/scriptenv/scope"
	"github.com/deepnoodle-ai/scriptenv/script"
)

// Executor runs scripts. *scriptenv.Engine implements it.
type Executor interface {
	ExecuteScript(ctx context.Context, path string, model map[string]any) (any, error)
	FindScript(ctx context.Context, path string) (*script.Reference, error)
	InitializeScope(ref *script.Reference) (*scope.Scope, error)
	ExecuteReferenceInScope(ctx context.Context, ref *script.Reference, s *scope.Scope) (any, error)
	Fork(ctx context.Context) (context.Context, func(), error)
	CurrentChain(ctx context.Context) ([]*script.Reference, bool)
}

// Job is one script execution. Model entries are written back after the
// script finished, except for jobs continuing a caller's call chain.
type Job struct {
	Path  string
	Model map[string]any
}

// Result is the outcome of one Job. Results are returned in job order.
type Result struct {
	Path     string
	Value    any
	Err      error
	Duration time.Duration
}

// Runner executes jobs on a bounded number of goroutines.
type Runner struct {
	exec     Executor
	workers  int
	failFast bool
	logger   zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers bounds the number of concurrent executions.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		r.workers = n
	}
}

// WithFailFast cancels the remaining jobs after the first failure.
func WithFailFast(enabled bool) Option {
	return func(r *Runner) {
		r.failFast = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New returns a runner. The default is four workers.
func New(exec Executor, opts ...Option) *Runner {
	r := &Runner{exec: exec, workers: 4, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

// Run executes jobs and returns one result per job. If ctx belongs to a
// script execution, every job inherits its call chain. The returned error
// collects the failures of every job.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	_, inherit := r.exec.CurrentChain(ctx)
	for i, job := range jobs {
		results[i].Path = job.Path
		g.Go(func() error {
			jctx := gctx
			if !r.failFast {
				jctx = ctx
			}
			start := time.Now()
			var value any
			var err error
			if inherit {
				value, err = r.continueChain(jctx, job)
			} else {
				value, err = r.exec.ExecuteScript(jctx, job.Path, job.Model)
			}
			results[i].Value = value
			results[i].Err = err
			results[i].Duration = time.Since(start)
			if err != nil {
				r.logger.Warn().Str("script", job.Path).Err(err).Msg("batch job failed")
				return r.failure(err)
			}
			r.logger.Debug().Str("script", job.Path).Dur("duration", results[i].Duration).Msg("batch job done")
			return nil
		})
	}
	_ = g.Wait()

	var errs *multierror.Error
	for _, res := range results {
		if res.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", res.Path, res.Err))
		}
	}
	return results, errs.ErrorOrNil()
}

// continueChain runs job on a forked context, so the script reports the
// scripts of ctx as its callers.
func (r *Runner) continueChain(ctx context.Context, job Job) (any, error) {
	forked, release, err := r.exec.Fork(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	ref, err := r.exec.FindScript(forked, job.Path)
	if err != nil {
		return nil, err
	}
	s, err := r.exec.InitializeScope(ref)
	if err != nil {
		return nil, err
	}
	for name, value := range job.Model {
		if err := s.Set(name, value); err != nil {
			return nil, err
		}
	}
	return r.exec.ExecuteReferenceInScope(forked, ref, s)
}

func (r *Runner) failure(err error) error {
	if r.failFast {
		return err
	}
	return nil
}

// Contributor binds "batch" with a run(paths) function that executes the
// given scripts concurrently and returns their results in order. The
// scripts continue the call chain of the calling script. It is only
// contributed to trusted scopes.
func (r *Runner) Contributor() scope.Contributor {
	return scope.ContributorFunc(func(s *scope.Scope, trusted, _ bool) error {
		if !trusted {
			return nil
		}
		run := guest.Func(func(ctx context.Context, args ...any) (any, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("batch.run: expected a list of paths")
			}
			list, ok := args[0].([]any)
			if !ok {
				return nil, fmt.Errorf("batch.run: expected a list of paths (got %T)", args[0])
			}
			jobs := make([]Job, len(list))
			for i, p := range list {
				path, ok := p.(string)
				if !ok {
					return nil, fmt.Errorf("batch.run: path %d must be a string", i)
				}
				jobs[i] = Job{Path: path}
			}
			results, err := r.Run(ctx, jobs)
			if err != nil {
				return nil, err
			}
			values := make([]any, len(results))
			for i, res := range results {
				values[i] = res.Value
			}
			return values, nil
		})
		return s.Set("batch", map[string]any{"run": run})
	})
}
