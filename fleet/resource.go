package fleet

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/config"
	"github.com/goliatone/go-query-cache/mutation"
	"github.com/goliatone/go-query-cache/notify"
	"github.com/goliatone/go-query-cache/query"
	"github.com/goliatone/go-query-cache/transport"
)

// DefaultPageSize is used by list params without a page size.
const DefaultPageSize = 10

// ErrNoStatus is returned by SetStatus on resources without a status.
var ErrNoStatus = errors.New("fleet: resource has no status")

// Page is one page of a list endpoint.
type Page[T any] struct {
	Data     []T `json:"data"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// ListParams selects a list page. Every distinct combination is cached
// under its own key.
type ListParams struct {
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Search   string            `json:"search,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Normalize fills defaults so equivalent params share a key.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if len(p.Filters) == 0 {
		p.Filters = nil
	}
	return p
}

// Values encodes p as query parameters.
func (p ListParams) Values() url.Values {
	p = p.Normalize()
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("pageSize", strconv.Itoa(p.PageSize))
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	for name, value := range p.Filters {
		v.Set(name, value)
	}
	return v
}

// StatusChange is the input of SetStatus.
type StatusChange struct {
	ID     string `json:"-"`
	Status string `json:"status"`
}

// Resource binds one REST resource to the cache: its keys, reads and
// writes. The resource name doubles as the cache tag.
type Resource[T any] struct {
	name  string
	label string
	store cache.Store
	api   transport.Doer

	policy   config.Policy
	notifier notify.Notifier
	logger   logrus.FieldLogger
	hooks    []mutation.Hook

	idOf       func(T) string
	withStatus func(T, string) T
}

type resourceDef[T any] struct {
	name       string
	label      string
	idOf       func(T) string
	withStatus func(T, string) T
}

func newResource[T any](c *Client, def resourceDef[T]) *Resource[T] {
	return &Resource[T]{
		name:       def.name,
		label:      def.label,
		store:      c.store,
		api:        c.api,
		policy:     c.settings.policies.For(def.name),
		notifier:   c.settings.notifier,
		logger:     c.settings.logger.WithField("resource", def.name),
		hooks:      c.settings.hooks,
		idOf:       def.idOf,
		withStatus: def.withStatus,
	}
}

// Name returns the resource name, which is also its cache tag.
func (r *Resource[T]) Name() string {
	return r.name
}

// Policy returns the read policy in effect.
func (r *Resource[T]) Policy() config.Policy {
	return r.policy
}

// HasStatus reports whether SetStatus is supported.
func (r *Resource[T]) HasStatus() bool {
	return r.withStatus != nil
}

// Prefix covers every key of the resource.
func (r *Resource[T]) Prefix() cache.Key {
	return cache.Prefix(r.name)
}

// ListKey is the key of one list page.
func (r *Resource[T]) ListKey(p ListParams) cache.Key {
	return query.DeriveKey(r.name, "list", p.Normalize())
}

// DetailKey is the key of one record.
func (r *Resource[T]) DetailKey(id string) cache.Key {
	return query.DeriveKey(r.name, "detail", id)
}

func (r *Resource[T]) path(id ...string) string {
	p := "/api/" + url.PathEscape(r.name)
	for _, seg := range id {
		p += "/" + url.PathEscape(seg)
	}
	return p
}

// FetchList loads a list page from the API, bypassing the cache.
func (r *Resource[T]) FetchList(ctx context.Context, p ListParams) (Page[T], error) {
	page, err := transport.GetJSON[Page[T]](ctx, r.api, r.path(), p.Values())
	if err != nil {
		return Page[T]{}, err
	}
	if page.Data == nil {
		page.Data = []T{}
	}
	return page, nil
}

// FetchDetail loads one record from the API, bypassing the cache.
func (r *Resource[T]) FetchDetail(ctx context.Context, id string) (T, error) {
	return transport.GetJSON[T](ctx, r.api, r.path(id), nil)
}

// ListOptions declares the read of a list page.
func (r *Resource[T]) ListOptions(p ListParams) query.Options[Page[T]] {
	p = p.Normalize()
	return query.Options[Page[T]]{
		Tag:        r.name,
		Params:     []any{"list", p},
		StaleTime:  r.policy.StaleTime,
		Retry:      r.policy.Retry,
		RetryDelay: r.policy.RetryDelay,
		Loader: func(ctx context.Context, _ cache.Key) (Page[T], error) {
			return r.FetchList(ctx, p)
		},
	}
}

// DetailOptions declares the read of one record. It is disabled while id
// is empty, which is how reads wait for prerequisite data.
func (r *Resource[T]) DetailOptions(id string) query.Options[T] {
	return query.Options[T]{
		Tag:        r.name,
		Params:     []any{"detail", id},
		Enabled:    query.Bool(id != ""),
		StaleTime:  r.policy.StaleTime,
		Retry:      r.policy.Retry,
		RetryDelay: r.policy.RetryDelay,
		Loader: func(ctx context.Context, _ cache.Key) (T, error) {
			return r.FetchDetail(ctx, id)
		},
	}
}

// List observes a list page. Move between pages with
// observer.SetOptions(r.ListOptions(next)); the previous page stays
// visible until the next one loads.
func (r *Resource[T]) List(p ListParams, opts ...query.ObserverOption) (*query.Observer[Page[T]], error) {
	return query.NewObserver(r.store, r.ListOptions(p), r.observerOptions(opts)...)
}

// Detail observes one record.
func (r *Resource[T]) Detail(id string, opts ...query.ObserverOption) (*query.Observer[T], error) {
	return query.NewObserver(r.store, r.DetailOptions(id), r.observerOptions(opts)...)
}

// Page reads a list page through the cache: fresh pages are served from
// memory and concurrent callers share one request.
func (r *Resource[T]) Page(ctx context.Context, p ListParams) (Page[T], error) {
	p = p.Normalize()
	return cache.Fetch(ctx, r.store, r.ListKey(p), func(ctx context.Context) (Page[T], error) {
		return r.FetchList(ctx, p)
	}, r.policy.StaleTime)
}

// Get reads one record through the cache.
func (r *Resource[T]) Get(ctx context.Context, id string) (T, error) {
	return cache.Fetch(ctx, r.store, r.DetailKey(id), func(ctx context.Context) (T, error) {
		return r.FetchDetail(ctx, id)
	}, r.policy.StaleTime)
}

// Prefetch warms the first list page.
func (r *Resource[T]) Prefetch(ctx context.Context) error {
	_, err := r.Page(ctx, ListParams{})
	return err
}

func (r *Resource[T]) observerOptions(opts []query.ObserverOption) []query.ObserverOption {
	return append([]query.ObserverOption{query.WithLogger(r.logger)}, opts...)
}

func (r *Resource[T]) mutationConfig(action string) (string, notify.Notifier, logrus.FieldLogger, []mutation.Hook) {
	return r.name + "." + action, r.notifier, r.logger, r.hooks
}

// Create posts a new record and invalidates the resource.
func (r *Resource[T]) Create() (*mutation.Mutation[T, T], error) {
	name, notifier, logger, hooks := r.mutationConfig("create")
	return mutation.New(r.store, mutation.Config[T, T]{
		Name: name,
		Fn: func(ctx context.Context, in T) (T, error) {
			return transport.SendJSON[T](ctx, r.api, http.MethodPost, r.path(), in)
		},
		OnSuccess:      []mutation.Strategy[T, T]{mutation.Invalidate[T, T](r.Prefix())},
		Notifier:       notifier,
		SuccessMessage: r.label + " created",
		Logger:         logger,
		Hooks:          hooks,
	})
}

// Update replaces a record and invalidates the resource.
func (r *Resource[T]) Update() (*mutation.Mutation[T, T], error) {
	name, notifier, logger, hooks := r.mutationConfig("update")
	return mutation.New(r.store, mutation.Config[T, T]{
		Name: name,
		Fn: func(ctx context.Context, in T) (T, error) {
			id := r.idOf(in)
			if id == "" {
				var zero T
				return zero, errors.New("fleet: update requires an id")
			}
			return transport.SendJSON[T](ctx, r.api, http.MethodPut, r.path(id), in)
		},
		OnSuccess:      []mutation.Strategy[T, T]{mutation.Invalidate[T, T](r.Prefix())},
		Notifier:       notifier,
		SuccessMessage: r.label + " updated",
		Logger:         logger,
		Hooks:          hooks,
	})
}

// Delete removes a record by id and invalidates the resource.
func (r *Resource[T]) Delete() (*mutation.Mutation[string, struct{}], error) {
	name, notifier, logger, hooks := r.mutationConfig("delete")
	return mutation.New(r.store, mutation.Config[string, struct{}]{
		Name: name,
		Fn: func(ctx context.Context, id string) (struct{}, error) {
			return struct{}{}, r.api.Do(ctx, http.MethodDelete, r.path(id), nil, nil, nil)
		},
		OnSuccess:      []mutation.Strategy[string, struct{}]{mutation.Invalidate[string, struct{}](r.Prefix())},
		Notifier:       notifier,
		SuccessMessage: r.label + " deleted",
		Logger:         logger,
		Hooks:          hooks,
	})
}

// SetStatus changes a record's status. On success the cached detail entry
// and every cached list page holding the record show the new status right
// away, then the resource is invalidated so the server copy replaces them.
func (r *Resource[T]) SetStatus() (*mutation.Mutation[StatusChange, T], error) {
	if r.withStatus == nil {
		return nil, ErrNoStatus
	}

	name, notifier, logger, hooks := r.mutationConfig("status")
	return mutation.New(r.store, mutation.Config[StatusChange, T]{
		Name: name,
		Fn: func(ctx context.Context, in StatusChange) (T, error) {
			return transport.SendJSON[T](ctx, r.api, http.MethodPatch, r.path(in.ID, "status"), in)
		},
		OnSuccess: []mutation.Strategy[StatusChange, T]{
			mutation.Patch(r.patchStatus),
			mutation.Invalidate[StatusChange, T](r.Prefix()),
		},
		Notifier:       notifier,
		SuccessMessage: r.label + " status updated",
		Logger:         logger,
		Hooks:          hooks,
	})
}

func (r *Resource[T]) patchStatus(store cache.Store, in StatusChange, out T) error {
	// only records already in the cache are patched
	store.SetValues(r.DetailKey(in.ID), func(prev any, _ bool) any {
		if _, ok := prev.(T); ok {
			return out
		}
		return prev
	})

	store.SetValues(cache.Prefix(r.name, "list"), func(prev any, _ bool) any {
		page, ok := prev.(Page[T])
		if !ok {
			return prev
		}
		data := make([]T, len(page.Data))
		for i, item := range page.Data {
			if r.idOf(item) == in.ID {
				item = r.withStatus(item, in.Status)
			}
			data[i] = item
		}
		page.Data = data
		return page
	})
	return nil
}
