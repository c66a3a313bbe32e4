// Package limiter runs an ordered list through a mapper with bounded
// concurrency, preserving input order in the output.
package limiter

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies fn to every item with at most maxConcurrency workers in flight.
// Results land in a pre-sized slice at each item's original index, so output
// order matches input order regardless of completion order. The first error
// from any worker cancels the rest and fails the whole map; callers wanting
// per-item isolation translate errors inside fn.
func Map[T, R any](ctx context.Context, items []T, maxConcurrency int, fn func(ctx context.Context, item T, index int) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, item, i)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
