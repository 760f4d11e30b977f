package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/config"
	"github.com/goliatone/go-query-cache/notify"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/transport"
)

type request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// fakeAPI answers every request with respond and records it.
type fakeAPI struct {
	mu       sync.Mutex
	requests []request
	respond  func(r request) (any, error)
}

func (f *fakeAPI) Do(_ context.Context, method, path string, query url.Values, body, out any) error {
	r := request{Method: method, Path: path, Query: query, Body: body}
	f.mu.Lock()
	f.requests = append(f.requests, r)
	respond := f.respond
	f.mu.Unlock()

	resp, err := respond(r)
	if err != nil || out == nil || resp == nil {
		return err
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeAPI) Requests() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

func newStore(t *testing.T) *cache.QueryCache {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.Capacity, cfg.NumShards = 100, 4
	store, err := cache.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestListParams(t *testing.T) {
	p := ListParams{Search: "tesla", Filters: map[string]string{"status": "available"}}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)

	v := p.Values()
	assert.Equal(t, "1", v.Get("page"))
	assert.Equal(t, "10", v.Get("pageSize"))
	assert.Equal(t, "tesla", v.Get("search"))
	assert.Equal(t, "available", v.Get("status"))

	assert.Nil(t, ListParams{Filters: map[string]string{}}.Normalize().Filters)
}

func TestKeys(t *testing.T) {
	c := NewClient(newStore(t), &fakeAPI{})
	r := c.Bookings

	assert.Equal(t, r.ListKey(ListParams{}).String(), r.ListKey(ListParams{Page: 1, PageSize: 10}).String())
	assert.NotEqual(t, r.ListKey(ListParams{Page: 1}).String(), r.ListKey(ListParams{Page: 2}).String())
	assert.NotEqual(t, r.ListKey(ListParams{Search: "a"}).String(), r.ListKey(ListParams{Search: "b"}).String())
	assert.Equal(t, "bookings::detail::b-1", r.DetailKey("b-1").String())

	for _, k := range []cache.Key{r.ListKey(ListParams{Page: 3}), r.DetailKey("b-9")} {
		assert.True(t, cache.MatchesPrefix(k.String(), r.Prefix().String()))
		assert.False(t, cache.MatchesPrefix(k.String(), c.Hosts.Prefix().String()))
	}
}

func TestPolicies(t *testing.T) {
	c := NewClient(newStore(t), &fakeAPI{}, WithPolicies(config.Policies{
		Default:   config.Policy{StaleTime: time.Minute},
		Resources: map[string]config.Policy{"invoices": {StaleTime: time.Hour, Retry: 2}},
	}))

	assert.Equal(t, time.Hour, c.Invoices.Policy().StaleTime)
	assert.Equal(t, 2, c.Invoices.ListOptions(ListParams{}).Retry)
	assert.Equal(t, time.Minute, c.Hosts.DetailOptions("h-1").StaleTime)

	assert.Equal(t, DefaultStaleTime, NewClient(newStore(t), &fakeAPI{}).Posts.Policy().StaleTime)
}

func TestDetail_DisabledWithoutID(t *testing.T) {
	api := &fakeAPI{respond: func(request) (any, error) { return Vehicle{ID: "v-1"}, nil }}
	c := NewClient(newStore(t), api)

	obs, err := c.Vehicles.Detail("")
	require.NoError(t, err)
	defer obs.Close()

	time.Sleep(20 * time.Millisecond)
	res := obs.Result()
	assert.False(t, res.IsLoading)
	assert.False(t, res.HasData)
	assert.Empty(t, api.Requests())

	require.NoError(t, obs.SetOptions(c.Vehicles.DetailOptions("v-1")))
	testsupport.Eventually(t, func() bool { return obs.Result().IsSuccess }, "detail loads once the id is known")
	assert.Equal(t, "v-1", obs.Result().Data.ID)
	assert.Equal(t, "/api/vehicles/v-1", api.Requests()[0].Path)
}

func TestFetchList_EmptyData(t *testing.T) {
	api := &fakeAPI{respond: func(request) (any, error) { return map[string]any{"total": 0}, nil }}
	c := NewClient(newStore(t), api)

	page, err := c.Customers.FetchList(context.Background(), ListParams{Search: "ada"})
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Equal(t, "ada", api.Requests()[0].Query.Get("search"))
}

func TestSetStatus_PatchesCachedCopies(t *testing.T) {
	store := newStore(t)
	api := &fakeAPI{respond: func(r request) (any, error) {
		return Booking{ID: "b-2", CustomerID: "c-2", Status: BookingCancelled}, nil
	}}
	recorder := notify.NewRecorder()
	c := NewClient(store, api, WithNotifier(recorder))
	r := c.Bookings

	listKey := r.ListKey(ListParams{})
	require.NoError(t, cache.SetValue(store, listKey, func(Page[Booking], bool) Page[Booking] {
		return Page[Booking]{Data: []Booking{
			{ID: "b-1", Status: BookingConfirmed},
			{ID: "b-2", Status: BookingConfirmed},
		}, Total: 2, Page: 1, PageSize: 10}
	}))
	require.NoError(t, cache.SetValue(store, r.DetailKey("b-2"), func(Booking, bool) Booking {
		return Booking{ID: "b-2", CustomerID: "c-2", Status: BookingConfirmed}
	}))

	setStatus, err := r.SetStatus()
	require.NoError(t, err)
	_, err = setStatus.Mutate(context.Background(), StatusChange{ID: "b-2", Status: BookingCancelled})
	require.NoError(t, err)

	reqs := api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPatch, reqs[0].Method)
	assert.Equal(t, "/api/bookings/b-2/status", reqs[0].Path)

	page, ok := cache.ValueOf[Page[Booking]](store.Get(listKey))
	require.True(t, ok)
	assert.Equal(t, BookingConfirmed, page.Data[0].Status)
	assert.Equal(t, BookingCancelled, page.Data[1].Status)
	assert.True(t, store.Get(listKey).Invalidated, "the patch is followed by an invalidation")

	detail, ok := cache.ValueOf[Booking](store.Get(r.DetailKey("b-2")))
	require.True(t, ok)
	assert.Equal(t, BookingCancelled, detail.Status)

	assert.False(t, store.Get(r.DetailKey("b-3")).HasValue, "uncached records are not created")
	assert.Equal(t, []string{"Booking status updated"}, recorder.Successes())
}

func TestSetStatus_Unsupported(t *testing.T) {
	c := NewClient(newStore(t), &fakeAPI{})
	assert.False(t, c.Invoices.HasStatus())
	_, err := c.Invoices.SetStatus()
	assert.ErrorIs(t, err, ErrNoStatus)
	assert.True(t, c.Posts.HasStatus())
}

func TestUpdate_RequiresID(t *testing.T) {
	api := &fakeAPI{respond: func(request) (any, error) { return nil, nil }}
	recorder := notify.NewRecorder()
	c := NewClient(newStore(t), api, WithNotifier(recorder))

	update, err := c.Hosts.Update()
	require.NoError(t, err)
	_, err = update.Mutate(context.Background(), Host{Name: "Depot"})
	require.Error(t, err)
	assert.Empty(t, api.Requests())
	assert.Equal(t, []string{notify.DefaultFallback}, recorder.Errors())
}

func TestDelete_InvalidatesResource(t *testing.T) {
	store := newStore(t)
	api := &fakeAPI{respond: func(request) (any, error) { return nil, nil }}
	c := NewClient(store, api)

	key := c.Posts.DetailKey("p-1")
	require.NoError(t, cache.SetValue(store, key, func(Post, bool) Post { return Post{ID: "p-1"} }))

	del, err := c.Posts.Delete()
	require.NoError(t, err)
	_, err = del.Mutate(context.Background(), "p-1")
	require.NoError(t, err)

	assert.Equal(t, http.MethodDelete, api.Requests()[0].Method)
	assert.True(t, store.Get(key).Invalidated)
}

func TestPrefetch(t *testing.T) {
	store := newStore(t)
	api := &fakeAPI{respond: func(r request) (any, error) {
		return map[string]any{"data": []any{}, "total": 0, "page": 1, "pageSize": 10}, nil
	}}
	c := NewClient(store, api)

	require.NoError(t, c.Prefetch(context.Background(), ResourceBookings, ResourceHosts))
	assert.Len(t, api.Requests(), 2)
	assert.True(t, store.Get(c.Bookings.ListKey(ListParams{})).HasValue)
	assert.True(t, store.Get(c.Hosts.ListKey(ListParams{})).HasValue)

	// fresh pages are served from the cache
	require.NoError(t, c.Prefetch(context.Background()))
	assert.Len(t, api.Requests(), 6)

	err := c.Prefetch(context.Background(), "drivers")
	assert.ErrorContains(t, err, "unknown resource")
}

func TestPrefetch_Failure(t *testing.T) {
	api := &fakeAPI{respond: func(r request) (any, error) {
		return nil, &transport.TransportError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	}}
	c := NewClient(newStore(t), api)

	err := c.Prefetch(context.Background(), ResourceInvoices)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, transport.StatusCode(err))
	assert.Equal(t, []string{"bookings", "customers", "hosts", "invoices", "posts", "vehicles"}, c.Resources())
}

func TestInvalidateAll(t *testing.T) {
	store := newStore(t)
	c := NewClient(store, &fakeAPI{})
	require.NoError(t, cache.SetValue(store, c.Hosts.DetailKey("h-1"), func(Host, bool) Host { return Host{ID: "h-1"} }))
	require.NoError(t, cache.SetValue(store, c.Invoices.DetailKey("i-1"), func(Invoice, bool) Invoice { return Invoice{ID: "i-1"} }))

	assert.Equal(t, 2, c.InvalidateAll())
}

func TestPageAndGet_ServedFromCache(t *testing.T) {
	api := &fakeAPI{respond: func(r request) (any, error) {
		if r.Path == "/api/hosts" {
			return Page[Host]{Data: []Host{{ID: "h-1"}}, Total: 1, Page: 1, PageSize: 10}, nil
		}
		return Host{ID: "h-1", Name: "Depot"}, nil
	}}
	c := NewClient(newStore(t), api)

	for i := 0; i < 3; i++ {
		page, err := c.Hosts.Page(context.Background(), ListParams{Page: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)

		host, err := c.Hosts.Get(context.Background(), "h-1")
		require.NoError(t, err)
		assert.Equal(t, "Depot", host.Name)
	}
	assert.Len(t, api.Requests(), 2)
}
