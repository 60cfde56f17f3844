// Package workgroup runs cooperating workers that share a context. The first
// worker to fail cancels the context seen by the others.
package workgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type Group struct {
	ctx   context.Context
	group *errgroup.Group
}

func WithContext(ctx context.Context) *Group {
	group, gctx := errgroup.WithContext(ctx)
	return &Group{
		ctx:   gctx,
		group: group,
	}
}

// Work runs fn in its own goroutine.
func (g *Group) Work(fn func(context.Context) error) {
	g.group.Go(func() error {
		return fn(g.ctx)
	})
}

// Wait blocks until all workers return and reports the first error.
func (g *Group) Wait() error {
	return g.group.Wait()
}
