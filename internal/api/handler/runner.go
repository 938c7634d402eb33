package handler

import (
	"context"
	"sync"
)

// Runner starts work that outlives the request that asked for it. Every task gets
// the runner's context, which the server cancels on shutdown.
type Runner struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func NewRunner(ctx context.Context) *Runner {
	return &Runner{ctx: ctx}
}

// Go runs fn in a new goroutine.
func (r *Runner) Go(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}

// Wait blocks until every started task has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
