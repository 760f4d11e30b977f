// Package fleet binds the rental dashboard's REST resources to the query
// cache.
//
// Each resource (bookings, hosts, vehicles, customers, invoices, posts) is
// a Resource[T] whose name is both the cache tag and the API path segment.
// List pages are cached under (name, "list", params) and records under
// (name, "detail", id), so invalidating the bare name refreshes everything
// a write could have changed:
//
//	client := fleet.NewClient(store, api, fleet.WithPolicies(cfg.Policies))
//
//	page, _ := client.Bookings.List(fleet.ListParams{Page: 1})
//	defer page.Close()
//
//	create, _ := client.Bookings.Create()
//	_, err := create.Mutate(ctx, fleet.Booking{CustomerID: "c-1"})
//
// After the create succeeds every subscribed bookings page refetches. When
// it fails the cache is untouched and the notifier shows the server message.
package fleet
