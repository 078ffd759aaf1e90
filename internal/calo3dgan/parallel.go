package calo3dgan

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Workers is the default parallelism for per-event reference features; <= 0 means NumCPU.
var Workers = 0

func numWorkers(w, tasks int) int {
	if w <= 0 {
		w = Workers
	}
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > tasks {
		w = tasks
	}
	return imax(w, 1)
}

// parallelFor runs fn(0..n-1) on at most workers goroutines and stops at the first error
// or when ctx is cancelled.
func parallelFor(ctx context.Context, n, workers int, fn func(i int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers(workers, n))
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
