// Package cache provides the in-memory store of server state shared by read
// and write hooks.
//
// # Overview
//
// A QueryCache maps serialized query keys to entries holding the last known
// value, its fetch time and a lifecycle status. Reads go through Fetch, which
// serves fresh entries from memory, joins a request that is already in flight
// for the same key, or starts the loader.
//
//	store, err := cache.New(cache.DefaultConfig(), cache.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	key := cache.NewKey("bookings", 1, "", filters)
//	page, err := cache.Fetch(ctx, store, key, loadBookings, 5*time.Minute)
//
// # Keys
//
// Keys are a resource tag followed by ordered parameters. They are serialized
// into "::" separated strings; two keys are the same query iff their
// serialized forms are equal. Invalidation matches prefixes segment by
// segment, so invalidating "bookings" reaches "bookings::1" and
// "bookings::detail::b-1" but never "bookings_archive".
//
// # Staleness and Invalidation
//
// An entry is fresh while it is successful, has not been invalidated and was
// fetched less than its stale time ago. Invalidate marks every matching entry
// stale. Entries with subscribers refetch right away in the background; the
// rest refetch on their next Fetch.
//
// # Generations
//
// Every fetch bumps the entry generation. A loader that settles after a newer
// fetch started is discarded, so a slow response can never overwrite data
// fetched after it. Fetches started before an invalidation are never joined
// by later callers.
//
// # Optimistic Updates
//
// SetValue replaces the cached value without touching fetch bookkeeping.
// Optimistic values are not fresh, so the next invalidation or fetch
// reconciles them with the server.
//
// # Garbage Collection
//
// Entries with no subscribers and no fetch in flight are parked in a
// sturdyc pool whose TTL is Config.GCTime. Touching a parked entry revives
// it; otherwise the pool drops it once the grace period elapses.
package cache
