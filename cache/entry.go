package cache

import "time"

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is a read-only snapshot of one cached query. The store owns the
// live entry; callers only ever see copies.
type Entry struct {
	Key        string
	Value      any
	HasValue   bool
	FetchedAt  time.Time
	StaleAfter time.Duration
	Status     Status
	Err        error

	// Invalidated is set by Invalidate and cleared by the next fetch that
	// started after the invalidation.
	Invalidated bool

	// LastStatus is the settled status before the current fetch started,
	// so consumers can tell a first load from a background refetch.
	LastStatus  Status
	Subscribers int
	Generation  uint64
}

// Fresh reports whether the entry can be served without hitting the network.
func (e Entry) Fresh(now time.Time) bool {
	if e.Status != StatusSuccess || e.Invalidated || e.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(e.FetchedAt) < e.StaleAfter
}

// Fetching reports whether a loader is currently running for the entry.
func (e Entry) Fetching() bool {
	return e.Status == StatusFetching
}

// ValueOf returns the entry value as T.
func ValueOf[T any](e Entry) (T, bool) {
	var zero T
	if !e.HasValue || e.Value == nil {
		return zero, false
	}
	v, ok := e.Value.(T)
	return v, ok
}
