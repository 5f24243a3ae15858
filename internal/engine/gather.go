// ABOUTME: Fan-out helper that runs one task per input and gathers results by index.
// ABOUTME: Failures are merged afterwards in input order under a partial-failure policy.

package engine

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// gather runs fn for every item concurrently, at most limit at a time when
// limit > 0, and waits for all of them. results[i] and errs[i] belong to items[i].
func gather[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			results[i], errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}

// merge applies the partial-failure policy to gathered results. With excOK
// failures are logged and skipped; otherwise the first failure in input
// order is returned and every result is discarded.
func merge[R any](logger *logrus.Entry, results []R, errs []error, excOK bool) ([]R, error) {
	kept := make([]R, 0, len(results))
	for i, err := range errs {
		if err == nil {
			kept = append(kept, results[i])
			continue
		}
		if !excOK {
			return nil, err
		}
		logger.WithError(err).Warn("Skipping failed fetch")
	}
	return kept, nil
}
