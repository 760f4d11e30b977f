// Package query binds consumers to cache entries.
//
// An Observer is the Go form of a read hook: it is given Options on every
// render, derives the cache key from the resource tag and parameters,
// subscribes while enabled and exposes a Result that follows the entry.
//
//	obs, err := query.NewObserver(store, query.Options[Page]{
//		Tag:       "bookings",
//		Params:    []any{page, pageSize, search},
//		StaleTime: 5 * time.Minute,
//		Loader:    loadBookings,
//	})
//	defer obs.Close()
//
// Changing the page changes the key. Until the new page settles the
// observer keeps exposing the old page with IsPreviousData set.
package query
