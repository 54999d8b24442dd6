// Package pool runs bounded fan-out work: a fixed set of workers drains a
// shared queue and publishes results on a completion channel.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the worker count used when a caller passes limit <= 0.
const DefaultLimit = 10

// Run calls fn for every item with at most limit calls in flight. Results
// are returned in completion order; each item contributes exactly one
// result. The first error cancels the context handed to the remaining
// calls and is returned.
func Run[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, len(items))

	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan T)
	done := make(chan R, limit)

	g.Go(func() error {
		defer close(queue)
		for _, it := range items {
			select {
			case queue <- it:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < limit; i++ {
		g.Go(func() error {
			for it := range queue {
				r, err := fn(ctx, it)
				if err != nil {
					return err
				}
				select {
				case done <- r:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	var err error
	go func() {
		err = g.Wait()
		close(done)
	}()

	results := make([]R, 0, len(items))
	for r := range done {
		results = append(results, r)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Each is Run for work without results.
func Each[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	_, err := Run(ctx, limit, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}
