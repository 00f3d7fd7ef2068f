package service

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome pairs a request with its run or error
type Outcome struct {
	Request Request
	Run     *Run
	Err     error
}

// Pool runs independent requests on a bounded number of goroutines
type Pool struct {
	runner  *Runner
	workers int
}

// NewPool creates a pool with at least one worker
func NewPool(runner *Runner, workers int) *Pool {
	return &Pool{runner: runner, workers: max(1, workers)}
}

// RunAll executes every request. One failure does not stop the others.
// Outcomes are indexed like reqs; requests not started before ctx was
// canceled carry ctx's error.
func (p *Pool) RunAll(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, req := range reqs {
		i, req := i, req
		outcomes[i].Request = req
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}

		g.Go(func() error {
			outcomes[i].Run, outcomes[i].Err = p.runner.Run(ctx, req)
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}
