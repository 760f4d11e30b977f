package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-query-cache/cache"
)

// Observer binds one consumer to the cache entry of its current options.
// It subscribes while enabled, fetches when the entry is not fresh and
// recomputes its Result after every change to the entry.
type Observer[T any] struct {
	store  cache.Store
	now    func() time.Time
	logger logrus.FieldLogger

	mu          sync.Mutex
	opts        Options[T]
	key         cache.Key
	enabled     bool
	unsubscribe func()
	previous    *Result[T]
	// previous is kept until a fetch newer than this generation settles
	previousGen uint64
	result      Result[T]
	seq         uint64
	listeners   map[uint64]func(Result[T])
	nextID      uint64
	closed      bool

	delivered atomic.Uint64
	ctx       context.Context
	cancel    context.CancelFunc
}

// ObserverOption configures an Observer.
type ObserverOption func(*observerSettings)

type observerSettings struct {
	now    func() time.Time
	logger logrus.FieldLogger
}

// WithClock sets the time source used to decide staleness. It should match
// the store clock.
func WithClock(now func() time.Time) ObserverOption {
	return func(s *observerSettings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the observer logger.
func WithLogger(logger logrus.FieldLogger) ObserverOption {
	return func(s *observerSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewObserver mounts a read against store. An enabled observer subscribes
// right away and starts a background fetch when the entry is not fresh.
func NewObserver[T any](store cache.Store, opts Options[T], options ...ObserverOption) (*Observer[T], error) {
	if store == nil {
		return nil, errors.New("query: store is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	settings := observerSettings{now: time.Now}
	for _, opt := range options {
		opt(&settings)
	}
	if settings.logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		settings.logger = logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Observer[T]{
		store:     store,
		now:       settings.now,
		logger:    settings.logger,
		listeners: make(map[uint64]func(Result[T])),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := o.SetOptions(opts); err != nil {
		cancel()
		return nil, err
	}
	return o, nil
}

// Result returns the latest computed result.
func (o *Observer[T]) Result() Result[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Key returns the key the observer currently reads.
func (o *Observer[T]) Key() cache.Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key
}

// SetOptions applies a new render. A changed key or enabled flag moves the
// subscription; a stale entry is fetched in the background either way.
func (o *Observer[T]) SetOptions(opts Options[T]) error {
	if err := opts.validate(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrObserverClosed
	}

	key := opts.key()
	enabled := opts.enabled()
	keyChanged := key.String() != o.key.String()
	mounted := o.unsubscribe != nil

	if mounted && (keyChanged || !enabled) {
		if keyChanged && enabled && opts.keepPreviousData() && o.result.HasData && !o.result.IsPlaceholderData {
			prev := o.result
			o.previous = &prev
			o.previousGen = settleAfter(o.store.Get(key))
		}
		// leaving the key never cancels its fetch
		o.unsubscribe()
		o.unsubscribe = nil
	}
	if !enabled || !opts.keepPreviousData() {
		o.previous = nil
	}

	o.opts, o.key, o.enabled = opts, key, enabled

	if enabled && o.unsubscribe == nil {
		unsubscribe, err := o.store.Subscribe(key, o.onEntry)
		if err != nil {
			o.mu.Unlock()
			return err
		}
		o.unsubscribe = unsubscribe
	}

	fetch := o.refreshLocked(true)
	o.mu.Unlock()

	o.publish()
	if fetch {
		o.fetchAsync()
	}
	return nil
}

// Subscribe registers fn to receive every new Result. The returned
// function removes it.
func (o *Observer[T]) Subscribe(fn func(Result[T])) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	o.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

// Refetch forces a new fetch of the current key and waits for it.
func (o *Observer[T]) Refetch(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrObserverClosed
	}
	if !o.enabled {
		o.mu.Unlock()
		return ErrDisabled
	}
	key, opts := o.key, o.opts
	o.mu.Unlock()

	_, err := o.store.Refetch(ctx, key)
	if errors.Is(err, cache.ErrNoLoader) {
		_, err = o.store.Fetch(ctx, key, storeLoader(opts, key), opts.StaleTime)
	}
	return err
}

// Close unmounts the observer. In-flight fetches keep running for other
// subscribers of the key.
func (o *Observer[T]) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.listeners = make(map[uint64]func(Result[T]))
	o.mu.Unlock()

	o.cancel()
}

func (o *Observer[T]) onEntry(cache.Entry) {
	o.mu.Lock()
	if o.closed || !o.enabled {
		o.mu.Unlock()
		return
	}
	fetch := o.refreshLocked(false)
	o.mu.Unlock()

	o.publish()
	if fetch {
		o.fetchAsync()
	}
}

// refreshLocked recomputes the result from the store and reports whether a
// fetch should be started. The snapshot is re-read so that notifications
// delivered out of order never leave an outdated result behind. Outside of
// a render only invalidated entries are fetched, so a failing loader is not
// retried in a loop.
func (o *Observer[T]) refreshLocked(render bool) bool {
	o.seq++
	if !o.enabled {
		o.result = Result[T]{Key: o.key.String(), Status: cache.StatusIdle}
		return false
	}

	entry := o.store.Get(o.key)
	if o.previous != nil && settled(entry, o.previousGen) {
		o.previous = nil
	}
	o.result = resolve(entry, o.previous, o.opts.Placeholder)

	if !render && !entry.Invalidated {
		return false
	}
	return ShouldFetch(State{
		Enabled:   true,
		Entry:     entry,
		StaleTime: o.opts.StaleTime,
		Now:       o.now(),
	})
}

func (o *Observer[T]) publish() {
	o.mu.Lock()
	result, seq := o.result, o.seq
	listeners := make([]func(Result[T]), 0, len(o.listeners))
	for _, fn := range o.listeners {
		listeners = append(listeners, fn)
	}
	o.mu.Unlock()

	for {
		last := o.delivered.Load()
		if seq <= last {
			return
		}
		if o.delivered.CompareAndSwap(last, seq) {
			break
		}
	}
	for _, fn := range listeners {
		fn(result)
	}
}

func (o *Observer[T]) fetchAsync() {
	o.mu.Lock()
	key, opts := o.key, o.opts
	o.mu.Unlock()

	go func() {
		if _, err := o.store.Fetch(o.ctx, key, storeLoader(opts, key), opts.StaleTime); err != nil {
			o.logger.WithFields(logrus.Fields{"key": key.String(), "error": err}).Debug("observer fetch failed")
		}
	}()
}
