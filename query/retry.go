package query

import (
	"context"

	"github.com/cenkalti/backoff/v5"

	"github.com/goliatone/go-query-cache/cache"
)

// storeLoader adapts a typed loader to the store, retrying failed reads
// up to opts.Retry extra times with a constant delay.
func storeLoader[T any](opts Options[T], key cache.Key) cache.Loader {
	load := opts.Loader
	if opts.Retry <= 0 {
		return func(ctx context.Context) (any, error) {
			return load(ctx, key)
		}
	}

	return func(ctx context.Context) (any, error) {
		return backoff.Retry(ctx, func() (T, error) {
			return load(ctx, key)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(opts.RetryDelay)),
			backoff.WithMaxTries(uint(opts.Retry+1)),
			backoff.WithMaxElapsedTime(0),
		)
	}
}
