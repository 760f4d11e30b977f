package fleet

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/config"
	"github.com/goliatone/go-query-cache/mutation"
	"github.com/goliatone/go-query-cache/notify"
	"github.com/goliatone/go-query-cache/transport"
)

// Resource names, which are also the cache tags and the API path segments.
const (
	ResourceBookings  = "bookings"
	ResourceHosts     = "hosts"
	ResourceVehicles  = "vehicles"
	ResourceCustomers = "customers"
	ResourceInvoices  = "invoices"
	ResourcePosts     = "posts"
)

// DefaultStaleTime applies to resources without a configured policy.
const DefaultStaleTime = config.DefaultResourceStaleTime

// ClientOption configures a Client.
type ClientOption func(*clientSettings)

type clientSettings struct {
	policies config.Policies
	notifier notify.Notifier
	logger   logrus.FieldLogger
	hooks    []mutation.Hook
}

// WithPolicies sets the per-resource read policies.
func WithPolicies(p config.Policies) ClientOption {
	return func(s *clientSettings) {
		s.policies = p
	}
}

// WithNotifier sets where write outcomes are shown.
func WithNotifier(n notify.Notifier) ClientOption {
	return func(s *clientSettings) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger handed to every resource and write. A nil
// logger keeps the default.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(s *clientSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMutationHooks adds hooks to every write, such as metrics.
func WithMutationHooks(hooks ...mutation.Hook) ClientOption {
	return func(s *clientSettings) {
		s.hooks = append(s.hooks, hooks...)
	}
}

// prefetcher is the untyped view of a Resource used by Prefetch.
type prefetcher interface {
	Name() string
	Prefetch(ctx context.Context) error
}

// Client groups the fleet resources over one store and one API.
type Client struct {
	Bookings  *Resource[Booking]
	Hosts     *Resource[Host]
	Vehicles  *Resource[Vehicle]
	Customers *Resource[Customer]
	Invoices  *Resource[Invoice]
	Posts     *Resource[Post]

	store    cache.Store
	api      transport.Doer
	settings clientSettings
	all      map[string]prefetcher
}

// NewClient builds the resources.
func NewClient(store cache.Store, api transport.Doer, opts ...ClientOption) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := &Client{
		store: store,
		api:   api,
		settings: clientSettings{
			policies: config.Policies{Default: config.Policy{StaleTime: DefaultStaleTime}},
			notifier: notify.Nop{},
			logger:   logger,
		},
	}
	for _, opt := range opts {
		opt(&c.settings)
	}

	c.Bookings = newResource(c, resourceDef[Booking]{name: ResourceBookings, label: "Booking", idOf: bookingID, withStatus: bookingWithStatus})
	c.Hosts = newResource(c, resourceDef[Host]{name: ResourceHosts, label: "Host", idOf: hostID, withStatus: hostWithStatus})
	c.Vehicles = newResource(c, resourceDef[Vehicle]{name: ResourceVehicles, label: "Vehicle", idOf: vehicleID, withStatus: vehicleWithStatus})
	c.Customers = newResource(c, resourceDef[Customer]{name: ResourceCustomers, label: "Customer", idOf: customerID})
	c.Invoices = newResource(c, resourceDef[Invoice]{name: ResourceInvoices, label: "Invoice", idOf: invoiceID})
	c.Posts = newResource(c, resourceDef[Post]{name: ResourcePosts, label: "Post", idOf: postID, withStatus: postWithStatus})

	c.all = map[string]prefetcher{}
	for _, r := range []prefetcher{c.Bookings, c.Hosts, c.Vehicles, c.Customers, c.Invoices, c.Posts} {
		c.all[r.Name()] = r
	}
	return c
}

// Store returns the underlying cache.
func (c *Client) Store() cache.Store {
	return c.store
}

// Resources lists the resource names in sorted order.
func (c *Client) Resources() []string {
	names := make([]string, 0, len(c.all))
	for name := range c.all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prefetch warms the first list page of each named resource, or of every
// resource when none are named. It stops at the first failure.
func (c *Client) Prefetch(ctx context.Context, resources ...string) error {
	if len(resources) == 0 {
		resources = c.Resources()
	}

	targets := make([]prefetcher, 0, len(resources))
	for _, name := range resources {
		r, ok := c.all[name]
		if !ok {
			return fmt.Errorf("fleet: unknown resource %q", name)
		}
		targets = append(targets, r)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range targets {
		g.Go(func() error {
			if err := r.Prefetch(ctx); err != nil {
				return fmt.Errorf("prefetch %s: %w", r.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// InvalidateAll marks every resource stale.
func (c *Client) InvalidateAll() int {
	matched := 0
	for _, name := range c.Resources() {
		matched += c.store.Invalidate(cache.Prefix(name))
	}
	return matched
}
