package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// Loader fetches the server state for one key.
type Loader func(ctx context.Context) (any, error)

// Updater computes an optimistic value from the previous one. It runs
// while the store is locked and must not call back into the store.
type Updater func(prev any, ok bool) any

// Listener is invoked with the current snapshot after every change to a
// subscribed entry.
type Listener func(Entry)

// Store is the contract read and write hooks depend on.
type Store interface {
	Get(key Key) Entry
	Fetch(ctx context.Context, key Key, loader Loader, staleAfter time.Duration) (any, error)
	Refetch(ctx context.Context, key Key) (any, error)
	Invalidate(prefix Key) int
	InvalidateSerialized(prefix string) int
	SetValue(key Key, updater Updater) error
	SetValues(prefix Key, updater Updater) int
	Subscribe(key Key, listener Listener) (func(), error)
	Remove(key Key)
	Clear()
	Keys() []string
	SerializeKey(key Key) string
	Close() error
}

var _ Store = (*QueryCache)(nil)

// QueryCache is the in-memory store of server state. Every mutation of an
// entry happens under one lock; loaders run on their own goroutines and
// only touch the entry again when they settle.
type QueryCache struct {
	mu         sync.Mutex
	cfg        Config
	entries    map[string]*entry
	dormant    *cacheinfra.Pool[*entry]
	listeners  *xsync.MapOf[string, listener]
	serializer KeySerializer
	logger     logrus.FieldLogger
	hooks      []EventHook
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	closed     bool
}

type listener struct {
	key string
	fn  Listener
}

type entry struct {
	key         string
	value       any
	hasValue    bool
	fetchedAt   time.Time
	staleAfter  time.Duration
	status      Status
	lastStatus  Status
	err         error
	invalidated bool
	announced   bool
	// calls with gen <= staleGen started before the latest invalidation
	staleGen uint64
	gen      uint64
	call     *call
	loader   Loader
	subs     []string
	sum      uint64
	hasSum   bool
}

type call struct {
	gen     uint64
	started time.Time
	done    chan struct{}
	value   any
	err     error
}

type notification struct {
	snapshot Entry
	ids      []string
}

// New builds a QueryCache. Close must be called to release it.
func New(cfg Config, opts ...Option) (*QueryCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dormant, err := cacheinfra.NewPool[*entry](cfg.poolConfig())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &QueryCache{
		cfg:        cfg,
		entries:    make(map[string]*entry),
		dormant:    dormant,
		listeners:  xsync.NewMapOf[string, listener](),
		serializer: defaultSerializer,
		logger:     discardLogger(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Config returns the configuration the store was built with.
func (c *QueryCache) Config() Config {
	return c.cfg
}

// Get returns the current snapshot for key. It never blocks on a fetch.
func (c *QueryCache) Get(key Key) Entry {
	k := c.serialize(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lookup(k); ok {
		return e.snapshot()
	}
	return Entry{Key: k, Status: StatusIdle}
}

// Fetch serves key from the cache when fresh, joins the in-flight request
// when one is running and otherwise starts loader. Canceling ctx only
// stops this caller from waiting.
func (c *QueryCache) Fetch(ctx context.Context, key Key, loader Loader, staleAfter time.Duration) (any, error) {
	if loader == nil {
		return nil, ErrNoLoader
	}
	k := c.serialize(key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	e := c.acquire(k)
	if staleAfter <= 0 {
		staleAfter = c.cfg.DefaultStaleTime
	}
	e.staleAfter = staleAfter
	e.loader = loader

	if e.call != nil && e.call.gen > e.staleGen {
		cl := e.call
		c.mu.Unlock()
		c.emit(Event{Kind: EventDedup, Key: k})
		return c.wait(ctx, cl)
	}

	if e.snapshot().Fresh(c.now()) {
		value := e.value
		c.release(e)
		c.mu.Unlock()
		c.emit(Event{Kind: EventHit, Key: k})
		return value, nil
	}

	quiet := e.hasValue && c.cfg.NotifyOnChangeOnly
	cl := c.start(e)
	var n notification
	if !quiet {
		n = c.collect(e)
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventMiss, Key: k})
	c.deliver(n)
	return c.wait(ctx, cl)
}

// Refetch starts a new fetch for key with its last loader, superseding any
// request already in flight.
func (c *QueryCache) Refetch(ctx context.Context, key Key) (any, error) {
	k := c.serialize(key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	e := c.acquire(k)
	if e.loader == nil {
		c.release(e)
		c.mu.Unlock()
		return nil, ErrNoLoader
	}

	cl := c.start(e)
	n := c.collect(e)
	c.mu.Unlock()

	c.emit(Event{Kind: EventMiss, Key: k})
	c.deliver(n)
	return c.wait(ctx, cl)
}

// Invalidate marks every entry under prefix as stale. Subscribed entries
// refetch right away in the background, the rest on their next fetch.
// It returns the number of matched entries.
func (c *QueryCache) Invalidate(prefix Key) int {
	return c.InvalidateSerialized(c.serialize(prefix))
}

// InvalidateSerialized is Invalidate for a prefix already serialized with
// SerializeKey, such as one received from another instance.
func (c *QueryCache) InvalidateSerialized(p string) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}

	matched := 0
	var batch []notification
	for k, e := range c.entries {
		if !MatchesPrefix(k, p) {
			continue
		}
		matched++
		e.invalidated = true
		e.staleGen = e.gen
		if len(e.subs) > 0 && e.loader != nil {
			c.start(e)
		}
		batch = append(batch, c.collect(e))
	}

	for _, k := range c.dormant.KeysWithPrefix(p) {
		if !MatchesPrefix(k, p) {
			continue
		}
		if e, ok := c.dormant.Peek(k); ok {
			matched++
			e.invalidated = true
			e.staleGen = e.gen
		}
	}
	c.mu.Unlock()

	for _, n := range batch {
		c.deliver(n)
	}
	c.emit(Event{Kind: EventInvalidate, Key: p})
	c.logger.WithFields(logrus.Fields{"prefix": p, "matched": matched}).Debug("cache invalidated")

	return matched
}

// SetValue patches the cached value for key without touching fetch
// bookkeeping. The next invalidation or fetch reconciles it with the server.
func (c *QueryCache) SetValue(key Key, updater Updater) error {
	if updater == nil {
		return errors.New("cache: nil updater")
	}
	k := c.serialize(key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	e := c.acquire(k)
	prev, ok := e.value, e.hasValue
	next := updater(prev, ok)
	e.value, e.hasValue = next, true
	if e.status == StatusIdle {
		e.status = StatusSuccess
		e.lastStatus = StatusSuccess
	}
	if c.cfg.NotifyOnChangeOnly {
		e.sum, e.hasSum = fingerprint(next)
	}

	n := c.collect(e)
	c.release(e)
	c.mu.Unlock()

	c.deliver(n)
	c.emit(Event{Kind: EventPatch, Key: k})
	return nil
}

// SetValues patches every entry under prefix that already holds a value,
// such as all cached pages of a list. It returns the number of entries
// patched.
func (c *QueryCache) SetValues(prefix Key, updater Updater) int {
	if updater == nil {
		return 0
	}
	p := c.serialize(prefix)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}

	var (
		batch   []notification
		patched []string
	)
	patch := func(e *entry) {
		e.value = updater(e.value, true)
		if c.cfg.NotifyOnChangeOnly {
			e.sum, e.hasSum = fingerprint(e.value)
		}
		patched = append(patched, e.key)
		batch = append(batch, c.collect(e))
	}

	for k, e := range c.entries {
		if e.hasValue && MatchesPrefix(k, p) {
			patch(e)
		}
	}
	for _, k := range c.dormant.KeysWithPrefix(p) {
		if !MatchesPrefix(k, p) {
			continue
		}
		if e, ok := c.dormant.Peek(k); ok && e.hasValue {
			patch(e)
		}
	}
	c.mu.Unlock()

	for _, n := range batch {
		c.deliver(n)
	}
	for _, k := range patched {
		c.emit(Event{Kind: EventPatch, Key: k})
	}
	return len(patched)
}

// Subscribe binds listener to key. The returned function unsubscribes and
// is safe to call more than once. Unsubscribing never cancels a fetch.
func (c *QueryCache) Subscribe(key Key, fn Listener) (func(), error) {
	if fn == nil {
		return nil, errors.New("cache: nil listener")
	}
	k := c.serialize(key)
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.acquire(k)
	e.subs = append(e.subs, id)
	c.listeners.Store(id, listener{key: k, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(k, id) })
	}, nil
}

func (c *QueryCache) unsubscribe(k, id string) {
	c.listeners.Delete(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	e, ok := c.entries[k]
	if !ok {
		return
	}
	for i, sub := range e.subs {
		if sub == id {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			break
		}
	}
	c.release(e)
}

// Remove drops the entry for key. Subscribed entries are reset to idle
// instead so their listeners keep working; in-flight results are discarded.
func (c *QueryCache) Remove(key Key) {
	k := c.serialize(key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.dormant.Drop(k)
	var n notification
	if e, ok := c.entries[k]; ok {
		n = c.drop(e)
	}
	c.mu.Unlock()

	c.deliver(n)
	c.emit(Event{Kind: EventEvict, Key: k})
}

// Clear removes every entry, as on logout.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var batch []notification
	for _, e := range c.entries {
		batch = append(batch, c.drop(e))
	}
	c.dormant.Clear()
	c.mu.Unlock()

	for _, n := range batch {
		c.deliver(n)
	}
	c.emit(Event{Kind: EventEvict})
}

// Keys lists the serialized keys currently held, sorted.
func (c *QueryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	for _, k := range c.dormant.KeysWithPrefix("") {
		if _, ok := c.dormant.Peek(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Close tears the store down: background fetches are canceled and every
// entry and listener is dropped.
func (c *QueryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	c.entries = make(map[string]*entry)
	c.dormant.Clear()
	c.listeners.Range(func(id string, _ listener) bool {
		c.listeners.Delete(id)
		return true
	})
	return nil
}

// SerializeKey returns the serialized form of key used by this store.
func (c *QueryCache) SerializeKey(key Key) string {
	return c.serialize(key)
}

func (c *QueryCache) serialize(key Key) string {
	return c.serializer.SerializeKey(key.Tag, key.Params...)
}

func (c *QueryCache) lookup(k string) (*entry, bool) {
	if e, ok := c.entries[k]; ok {
		return e, true
	}
	return c.dormant.Peek(k)
}

// acquire returns the live entry for k, reviving or creating it.
func (c *QueryCache) acquire(k string) *entry {
	if e, ok := c.entries[k]; ok {
		return e
	}
	if e, ok := c.dormant.Revive(k); ok {
		c.entries[k] = e
		return e
	}
	e := &entry{key: k}
	c.entries[k] = e
	return e
}

// release parks e once nothing references it.
func (c *QueryCache) release(e *entry) {
	if len(e.subs) > 0 || e.call != nil {
		return
	}
	delete(c.entries, e.key)
	if e.hasValue || e.loader != nil {
		c.dormant.Park(e.key, e)
	}
}

// drop removes e, or resets it when it still has subscribers.
func (c *QueryCache) drop(e *entry) notification {
	if len(e.subs) == 0 {
		delete(c.entries, e.key)
		return notification{}
	}
	loader := e.loader
	subs := e.subs
	gen := e.gen + 1
	*e = entry{key: e.key, loader: loader, subs: subs, gen: gen, staleGen: gen}
	return c.collect(e)
}

func (c *QueryCache) start(e *entry) *call {
	e.gen++
	cl := &call{gen: e.gen, started: time.Now(), done: make(chan struct{})}
	if e.call == nil {
		e.lastStatus = e.status
	}
	e.call = cl
	e.status = StatusFetching

	go c.run(e.key, cl, e.loader)
	return cl
}

func (c *QueryCache) run(key string, cl *call, loader Loader) {
	value, err := invoke(c.ctx, loader)
	c.settle(key, cl, value, err)
}

func invoke(ctx context.Context, loader Loader) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return loader(ctx)
}

func (c *QueryCache) settle(key string, cl *call, value any, err error) {
	elapsed := time.Since(cl.started)
	if err != nil {
		err = &FetchError{Key: key, Err: err}
	}
	cl.value, cl.err = value, err

	c.mu.Lock()
	e, ok := c.entries[key]
	if c.closed || !ok || e.call == nil || e.gen != cl.gen {
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{"key": key, "generation": cl.gen}).Debug("discarding superseded fetch")
		c.emit(Event{Kind: EventDiscard, Key: key, Duration: elapsed, Err: err})
		close(cl.done)
		return
	}

	e.call = nil
	changed := true
	if err == nil {
		if c.cfg.NotifyOnChangeOnly {
			sum, encoded := fingerprint(value)
			changed = !(encoded && e.hasSum && e.lastStatus == StatusSuccess && sum == e.sum)
			e.sum, e.hasSum = sum, encoded
		}
		e.value, e.hasValue = value, true
		e.fetchedAt = c.now()
		e.status = StatusSuccess
		e.err = nil
	} else {
		e.status = StatusError
		e.err = err
	}
	e.invalidated = cl.gen <= e.staleGen
	e.lastStatus = e.status

	// a subscriber that saw the fetch start must also see it settle
	notify := changed || e.announced || !c.cfg.NotifyOnChangeOnly
	e.announced = false

	var n notification
	if notify {
		n = c.collect(e)
	}
	c.release(e)
	c.mu.Unlock()

	// subscribers and hooks observe the commit before waiters are woken
	c.deliver(n)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"key": key, "error": err}).Warn("query fetch failed")
		c.emit(Event{Kind: EventError, Key: key, Duration: elapsed, Err: err})
	} else {
		c.emit(Event{Kind: EventCommit, Key: key, Duration: elapsed})
	}
	close(cl.done)
}

func (c *QueryCache) wait(ctx context.Context, cl *call) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-cl.done:
		return cl.value, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *QueryCache) collect(e *entry) notification {
	if len(e.subs) == 0 {
		return notification{}
	}
	if e.status == StatusFetching {
		e.announced = true
	}
	return notification{
		snapshot: e.snapshot(),
		ids:      append([]string(nil), e.subs...),
	}
}

func (c *QueryCache) deliver(n notification) {
	for _, id := range n.ids {
		if l, ok := c.listeners.Load(id); ok {
			l.fn(n.snapshot)
		}
	}
}

func (c *QueryCache) emit(ev Event) {
	for _, hook := range c.hooks {
		hook(ev)
	}
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:         e.key,
		Value:       e.value,
		HasValue:    e.hasValue,
		FetchedAt:   e.fetchedAt,
		StaleAfter:  e.staleAfter,
		Status:      e.status,
		Err:         e.err,
		Invalidated: e.invalidated,
		LastStatus:  e.lastStatus,
		Subscribers: len(e.subs),
		Generation:  e.gen,
	}
}
