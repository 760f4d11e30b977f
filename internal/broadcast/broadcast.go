// Package broadcast fans cache invalidations out to other dashboard
// instances. A Store wraps a cache.Store: local invalidations are applied
// and then published on a channel; invalidations received from peers are
// applied locally without being published again.
package broadcast

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-query-cache/cache"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "fleetdesk:cache:invalidate"

const publishTimeout = 2 * time.Second

// Message is the wire form of one invalidation.
type Message struct {
	Origin string    `msgpack:"origin"`
	Prefix string    `msgpack:"prefix"`
	SentAt time.Time `msgpack:"sent_at"`
}

// Option configures a Store.
type Option func(*Store)

func WithChannel(channel string) Option {
	return func(s *Store) {
		if channel != "" {
			s.channel = channel
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOrigin sets the instance id carried by published messages.
func WithOrigin(origin string) Option {
	return func(s *Store) {
		if origin != "" {
			s.origin = origin
		}
	}
}

// Store is a cache.Store whose invalidations reach every peer on the bus.
type Store struct {
	cache.Store

	bus     Bus
	channel string
	origin  string
	logger  logrus.FieldLogger

	cancel    context.CancelFunc
	closeSub  func() error
	done      chan struct{}
	closeOnce sync.Once
}

var _ cache.Store = (*Store)(nil)

// New subscribes to the bus and starts applying remote invalidations to
// inner. Close stops the subscription and closes inner.
func New(ctx context.Context, inner cache.Store, bus Bus, opts ...Option) (*Store, error) {
	if inner == nil {
		return nil, errors.New("broadcast: store is required")
	}
	if bus == nil {
		return nil, errors.New("broadcast: bus is required")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := &Store{
		Store:   inner,
		bus:     bus,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(ctx)
	msgs, closeSub, err := bus.Subscribe(ctx, s.channel)
	if err != nil {
		cancel()
		return nil, err
	}
	s.cancel = cancel
	s.closeSub = closeSub

	go s.listen(ctx, msgs)
	return s, nil
}

// Origin returns the instance id of this store.
func (s *Store) Origin() string {
	return s.origin
}

// Invalidate applies the invalidation locally and publishes it. A failed
// publish is logged; the local invalidation stands.
func (s *Store) Invalidate(prefix cache.Key) int {
	return s.InvalidateSerialized(s.Store.SerializeKey(prefix))
}

// InvalidateSerialized is Invalidate for a prefix serialized by the
// wrapped store.
func (s *Store) InvalidateSerialized(prefix string) int {
	matched := s.Store.InvalidateSerialized(prefix)

	payload, err := msgpack.Marshal(Message{
		Origin: s.origin,
		Prefix: prefix,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).Warn("encode invalidation")
		return matched
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		s.logger.WithFields(logrus.Fields{"prefix": prefix, "error": err}).Warn("publish invalidation")
	}
	return matched
}

func (s *Store) listen(ctx context.Context, msgs <-chan []byte) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			s.apply(payload)
		}
	}
}

func (s *Store) apply(payload []byte) {
	var msg Message
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		s.logger.WithError(err).Warn("decode invalidation")
		return
	}
	if msg.Origin == s.origin {
		return
	}

	matched := s.Store.InvalidateSerialized(msg.Prefix)
	s.logger.WithFields(logrus.Fields{
		"prefix":  msg.Prefix,
		"origin":  msg.Origin,
		"matched": matched,
	}).Debug("remote invalidation applied")
}

// Close stops listening and closes the wrapped store.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		subErr := s.closeSub()
		<-s.done
		err = errors.Join(subErr, s.Store.Close())
	})
	return err
}
