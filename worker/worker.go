// Package worker runs a fixed-size pool of connection drain loops so
// a process hosting many connections doesn't spawn one goroutine per
// connection per direction the way the teacher's two-goroutine-per-
// connection model did (spec §2 "a connection's operations execute on
// a single logical worker, but a process may multiplex many
// connections across a bounded pool of OS threads").
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one connection's run loop, handed to the pool once and
// expected to block until the connection is done.
type Job func(ctx context.Context) error

// Pool bounds how many connection drain loops run concurrently,
// grounded on golang.org/x/sync/errgroup's cancel-on-first-error
// semantics.
type Pool struct {
	sem chan struct{}
	eg  *errgroup.Group
	ctx context.Context
}

// NewPool creates a pool with the given concurrency limit. size <= 0
// means unbounded.
func NewPool(ctx context.Context, size int) *Pool {
	eg, egCtx := errgroup.WithContext(ctx)
	p := &Pool{eg: eg, ctx: egCtx}
	if size > 0 {
		p.sem = make(chan struct{}, size)
	}
	return p
}

// Go schedules job onto the pool, blocking if the pool is at capacity
// until a slot frees up.
func (p *Pool) Go(job Job) {
	if p.sem != nil {
		p.sem <- struct{}{}
	}
	p.eg.Go(func() error {
		if p.sem != nil {
			defer func() { <-p.sem }()
		}
		return job(p.ctx)
	})
}

// Wait blocks until every scheduled job has returned, returning the
// first non-nil error any of them produced.
func (p *Pool) Wait() error {
	return p.eg.Wait()
}
