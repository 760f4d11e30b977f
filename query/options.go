package query

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// LoaderFunc fetches the value for key.
type LoaderFunc[T any] func(ctx context.Context, key cache.Key) (T, error)

// Options declares a read: which key to observe, how to load it and how
// long a loaded value stays fresh. Observers treat Options as a value; a
// new render passes a new Options to SetOptions.
type Options[T any] struct {
	Tag    string
	Params []any

	// Enabled gates fetching and subscribing. Nil means enabled.
	Enabled *bool

	// StaleTime is how long a loaded value is served without refetching.
	// Zero falls back to the store default.
	StaleTime time.Duration

	// Retry is the number of extra attempts after a failed load.
	Retry      int
	RetryDelay time.Duration

	// KeepPreviousData exposes the previous key's data while a new key
	// loads. Nil means enabled.
	KeepPreviousData *bool

	Loader LoaderFunc[T]

	// Placeholder is shown while a key without data loads and no previous
	// data is available.
	Placeholder *T
}

// Bool returns a pointer to v, for the optional flags of Options.
func Bool(v bool) *bool {
	return &v
}

var (
	// ErrMissingTag is returned for options without a resource tag.
	ErrMissingTag = errors.New("query: tag is required")

	// ErrMissingLoader is returned for enabled options without a loader.
	ErrMissingLoader = errors.New("query: loader is required")

	// ErrDisabled is returned by Refetch on a disabled observer.
	ErrDisabled = errors.New("query: observer is disabled")

	// ErrObserverClosed is returned by operations on a closed observer.
	ErrObserverClosed = errors.New("query: observer closed")
)

func (o Options[T]) enabled() bool {
	return o.Enabled == nil || *o.Enabled
}

func (o Options[T]) keepPreviousData() bool {
	return o.KeepPreviousData == nil || *o.KeepPreviousData
}

func (o Options[T]) key() cache.Key {
	return DeriveKey(o.Tag, o.Params...)
}

func (o Options[T]) validate() error {
	if o.Tag == "" {
		return ErrMissingTag
	}
	if o.enabled() && o.Loader == nil {
		return ErrMissingLoader
	}
	if o.Retry < 0 {
		return errors.New("query: retry must not be negative")
	}
	return nil
}
