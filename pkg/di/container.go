package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/config"
	"github.com/goliatone/go-query-cache/fleet"
	"github.com/goliatone/go-query-cache/internal/broadcast"
	"github.com/goliatone/go-query-cache/internal/logging"
	"github.com/goliatone/go-query-cache/internal/metrics"
	"github.com/goliatone/go-query-cache/notify"
	"github.com/goliatone/go-query-cache/session"
	"github.com/goliatone/go-query-cache/transport"
)

// Container wires the data layer of the dashboard from one Config: the
// query cache (optionally broadcasting invalidations), the session, the
// REST transport, notifications, metrics and the fleet resources.
type Container struct {
	config    *config.Config
	logger    *logrus.Logger
	metrics   *metrics.Collector
	queries   *cache.QueryCache
	store     cache.Store
	session   *session.Manager
	transport *transport.Client
	notifier  notify.Notifier
	fleet     *fleet.Client
	redis     *redis.Client

	closeOnce sync.Once
	closeErr  error
}

// Option overrides a dependency the container would otherwise build.
type Option func(*options)

type options struct {
	logger     *logrus.Logger
	notifier   notify.Notifier
	bus        broadcast.Bus
	httpClient *http.Client
	tokens     session.TokenStore
	onLogout   session.LogoutFunc
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithNotifier sets where write outcomes are shown. The default logs them.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithBus broadcasts invalidations over bus instead of the configured Redis.
func WithBus(bus broadcast.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithHTTPClient sends API requests through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTokenStore keeps the bearer token in s instead of the store built from
// the session config.
func WithTokenStore(s session.TokenStore) Option {
	return func(o *options) { o.tokens = s }
}

// WithLogoutHandler is called with the login path when the API rejects the
// session.
func WithLogoutHandler(fn session.LogoutFunc) Option {
	return func(o *options) { o.onLogout = fn }
}

// NewContainer builds every component from cfg.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("di: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("di: invalid config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{config: cfg, logger: o.logger}
	if c.logger == nil {
		c.logger = logging.New(cfg.Log)
	}

	if err := c.buildStore(ctx, o); err != nil {
		return nil, err
	}

	if err := c.buildSession(ctx, o); err != nil {
		_ = c.Close()
		return nil, err
	}

	if err := c.buildTransport(o); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.notifier = o.notifier
	if c.notifier == nil {
		c.notifier = notify.NewLogNotifier(logging.Component(c.logger, "notify"))
	}

	fleetOpts := []fleet.ClientOption{
		fleet.WithPolicies(cfg.Policies),
		fleet.WithNotifier(c.notifier),
		fleet.WithLogger(logging.Component(c.logger, "fleet")),
	}
	if c.metrics != nil {
		fleetOpts = append(fleetOpts, fleet.WithMutationHooks(c.metrics.MutationHook()))
	}
	c.fleet = fleet.NewClient(c.store, c.transport, fleetOpts...)

	c.logger.WithFields(logrus.Fields{
		"base_url":  cfg.API.BaseURL,
		"broadcast": c.store != cache.Store(c.queries),
		"metrics":   c.metrics != nil,
	}).Debug("container ready")
	return c, nil
}

// NewContainerFromEnv loads the configuration from the environment and an
// optional .env file.
func NewContainerFromEnv(ctx context.Context, opts ...Option) (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewContainer(ctx, cfg, opts...)
}

func (c *Container) buildStore(ctx context.Context, o options) error {
	cfg := c.config.Cache
	storeOpts := []cache.Option{cache.WithLogger(logging.Component(c.logger, "cache"))}
	if c.config.Metrics.Enabled {
		c.metrics = metrics.New()
		storeOpts = append(storeOpts, cache.WithEventHook(c.metrics.CacheHook()))
	}

	queries, err := cache.New(cache.Config{
		// fleet reads carry their own stale time; this covers ad hoc fetches
		DefaultStaleTime:   cfg.StaleTime,
		GCTime:             cfg.GCTime,
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		EvictionPercentage: cfg.EvictionPercentage,
		NotifyOnChangeOnly: cfg.NotifyOnChangeOnly,
	}, storeOpts...)
	if err != nil {
		return fmt.Errorf("di: build cache: %w", err)
	}
	c.queries, c.store = queries, queries

	bus := o.bus
	if bus == nil && c.config.Redis.Enabled {
		client, err := broadcast.DialRedis(ctx, c.config.Redis.Addr, c.config.Redis.Password, c.config.Redis.DB)
		if err != nil {
			_ = queries.Close()
			return fmt.Errorf("di: %w", err)
		}
		c.redis = client
		bus = broadcast.NewRedisBus(client)
	}
	if bus == nil {
		return nil
	}

	shared, err := broadcast.New(ctx, queries, bus,
		broadcast.WithChannel(c.config.Redis.Channel),
		broadcast.WithLogger(logging.Component(c.logger, "broadcast")),
	)
	if err != nil {
		_ = queries.Close()
		if c.redis != nil {
			_ = c.redis.Close()
		}
		return fmt.Errorf("di: subscribe invalidations: %w", err)
	}
	c.store = shared
	return nil
}

func (c *Container) buildSession(ctx context.Context, o options) error {
	tokens := o.tokens
	if tokens == nil {
		if c.config.Session.TokenFile != "" {
			tokens = session.NewFileStore(c.config.Session.TokenFile)
		} else {
			tokens = session.NewMemoryStore("")
		}
	}

	sessionOpts := []session.Option{
		session.WithLoginPath(c.config.Session.LoginPath),
		session.WithCache(c.store),
		session.WithLogger(logging.Component(c.logger, "session")),
	}
	if o.onLogout != nil {
		sessionOpts = append(sessionOpts, session.WithLogoutHandler(o.onLogout))
	}
	c.session = session.NewManager(tokens, sessionOpts...)

	if c.config.Session.Token != "" {
		if err := c.session.Login(ctx, c.config.Session.Token); err != nil {
			return fmt.Errorf("di: store session token: %w", err)
		}
	}
	return nil
}

func (c *Container) buildTransport(o options) error {
	transportOpts := []transport.Option{
		transport.WithTokenSource(c.session),
		transport.WithUnauthorizedHandler(c.session.HandleUnauthorized),
		transport.WithLogger(logging.Component(c.logger, "transport")),
	}
	if o.httpClient != nil {
		transportOpts = append(transportOpts, transport.WithHTTPClient(o.httpClient))
	}

	client, err := transport.New(transport.Config{
		BaseURL:   c.config.API.BaseURL,
		Timeout:   c.config.API.Timeout,
		UserAgent: c.config.API.UserAgent,
	}, transportOpts...)
	if err != nil {
		return fmt.Errorf("di: build transport: %w", err)
	}
	c.transport = client
	return nil
}

// Config returns the configuration the container was built from.
func (c *Container) Config() *config.Config {
	return c.config
}

func (c *Container) Logger() *logrus.Logger {
	return c.logger
}

// Store returns the cache every component shares. It broadcasts
// invalidations when Redis is enabled.
func (c *Container) Store() cache.Store {
	return c.store
}

func (c *Container) Session() *session.Manager {
	return c.session
}

func (c *Container) Transport() *transport.Client {
	return c.transport
}

func (c *Container) Notifier() notify.Notifier {
	return c.notifier
}

func (c *Container) Fleet() *fleet.Client {
	return c.fleet
}

// Metrics returns the collector, or nil when metrics are disabled.
func (c *Container) Metrics() *metrics.Collector {
	return c.metrics
}

// Close stops the cache and the broadcast subscription.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.store != nil {
			errs = append(errs, c.store.Close())
		}
		if c.redis != nil {
			errs = append(errs, c.redis.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
