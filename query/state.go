package query

import (
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// DeriveKey builds the cache key for a read. Pagination and search
// parameters belong in params so every combination is cached on its own.
func DeriveKey(tag string, params ...any) cache.Key {
	return cache.NewKey(tag, params...)
}

// State is the input of ShouldFetch.
type State struct {
	Enabled bool
	Entry   cache.Entry

	// StaleTime overrides the entry's stale window when positive.
	StaleTime time.Duration
	Now       time.Time
}

// ShouldFetch reports whether a read must hit the network: it is enabled,
// nothing is in flight for the key and the cached entry is not fresh.
func ShouldFetch(s State) bool {
	if !s.Enabled || s.Entry.Fetching() {
		return false
	}

	entry := s.Entry
	if s.StaleTime > 0 {
		entry.StaleAfter = s.StaleTime
	}
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}
	return !entry.Fresh(now)
}
