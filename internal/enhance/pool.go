package enhance

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// runPool applies fn to every item on at most limit goroutines and returns the
// results of the calls that reported ok, in input order. A failing or
// panicking task contributes nothing; it never aborts the other tasks.
func runPool[T, R any](ctx context.Context, logger *slog.Logger, stage string, limit int, items []T, fn func(context.Context, T) (R, bool)) []R {
	if len(items) == 0 {
		return nil
	}

	results := make([]R, len(items))
	ok := make([]bool, len(items))

	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, item := range items {
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Task panicked; dropping its result.", "stage", stage, "task", i, "panic", r)
				}
			}()
			results[i], ok[i] = fn(ctx, item)
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]R, 0, len(items))
	for i := range results {
		if ok[i] {
			out = append(out, results[i])
		}
	}
	return out
}
