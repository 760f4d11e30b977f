package cache

import (
	"context"
	"fmt"
	"time"
)

// FetchFn is the typed loader signature used by Fetch.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Fetch is a type-safe wrapper around Store.Fetch.
func Fetch[T any](ctx context.Context, store Store, key Key, fetchFn FetchFn[T], staleAfter time.Duration) (T, error) {
	var zero T
	if fetchFn == nil {
		return zero, ErrNoLoader
	}

	result, err := store.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	}, staleAfter)
	if err != nil {
		return zero, err
	}
	return cast[T](key, result)
}

// Refetch is a type-safe wrapper around Store.Refetch.
func Refetch[T any](ctx context.Context, store Store, key Key) (T, error) {
	result, err := store.Refetch(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](key, result)
}

// SetValue is a type-safe wrapper around Store.SetValue. Previous values of
// another type are handed to update as the zero value with ok=false.
func SetValue[T any](store Store, key Key, update func(prev T, ok bool) T) error {
	return store.SetValue(key, func(prev any, ok bool) any {
		typed, isT := prev.(T)
		return update(typed, ok && isT)
	})
}

func cast[T any](key Key, result any) (T, error) {
	var zero T
	// a nil interface carries no type information; hand back the zero value
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, &TypeError{Key: key.String(), Want: fmt.Sprintf("%T", zero), Got: result}
	}
	return typed, nil
}
