package query

import (
	"fmt"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// Result is what a read exposes to its consumer.
type Result[T any] struct {
	Key     string
	Data    T
	HasData bool
	Status  cache.Status
	Error   error

	// IsLoading is set while the first value for the key loads.
	IsLoading bool
	// IsFetching is set whenever a fetch for the key is in flight.
	IsFetching bool
	IsSuccess  bool
	IsError    bool

	// IsPreviousData marks Data as belonging to the previous key.
	IsPreviousData    bool
	IsPlaceholderData bool

	UpdatedAt time.Time
}

// resolve turns an entry snapshot into a Result. previous holds the data
// shown for the prior key, if any.
func resolve[T any](entry cache.Entry, previous *Result[T], placeholder *T) Result[T] {
	r := Result[T]{
		Key:        entry.Key,
		Status:     entry.Status,
		Error:      entry.Err,
		IsFetching: entry.Fetching(),
		IsSuccess:  entry.Status == cache.StatusSuccess,
		IsError:    entry.Status == cache.StatusError,
		UpdatedAt:  entry.FetchedAt,
	}

	if entry.HasValue && entry.Value != nil {
		v, ok := entry.Value.(T)
		if !ok {
			var zero T
			r.IsError, r.IsSuccess = true, false
			r.Error = &cache.TypeError{Key: entry.Key, Want: fmt.Sprintf("%T", zero), Got: entry.Value}
			return r
		}
		r.Data, r.HasData = v, true
		return r
	}
	if entry.HasValue {
		// a nil value is still a loaded value
		r.HasData = true
		return r
	}

	switch {
	case previous != nil:
		// an error left over from before the switch is not this key's answer
		if r.IsError {
			r.Status, r.Error = cache.StatusFetching, nil
			r.IsError, r.IsFetching = false, true
		}
		r.Data, r.HasData = previous.Data, true
		r.IsPreviousData = true
		r.UpdatedAt = previous.UpdatedAt
	case r.IsError:
	case placeholder != nil:
		r.Data, r.HasData = *placeholder, true
		r.IsPlaceholderData = true
		r.IsLoading = true
	default:
		r.IsLoading = true
	}
	return r
}

// settled reports whether the key has produced its own data, or a fetch
// newer than generation after has finished, at which point the previous
// key's data is no longer shown.
func settled(entry cache.Entry, after uint64) bool {
	if entry.HasValue {
		return true
	}
	done := entry.Status == cache.StatusSuccess || entry.Status == cache.StatusError
	return done && entry.Generation > after
}

// settleAfter returns the generation a fetch must exceed to settle entry
// for a reader switching to it now. A fetch already in flight counts.
func settleAfter(entry cache.Entry) uint64 {
	if entry.Fetching() && entry.Generation > 0 {
		return entry.Generation - 1
	}
	return entry.Generation
}
