package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Bus is a pub/sub transport for invalidation messages.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers every payload published on channel until the
	// returned close function is called.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// RedisBus carries messages over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an existing client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	sub := b.client.Subscribe(ctx, channel)
	// Receive blocks until the subscription is confirmed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close, nil
}

// MemoryBus is an in-process Bus. Subscribers on the same channel each
// receive every message. Subscription channels are never closed; readers
// stop on their own context.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[int]*memorySub
	next int
}

type memorySub struct {
	ch   chan []byte
	done chan struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]*memorySub)}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	targets := make([]*memorySub, 0, len(b.subs[channel]))
	for _, s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- append([]byte(nil), payload...):
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (<-chan []byte, func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	s := &memorySub{ch: make(chan []byte, 64), done: make(chan struct{})}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]*memorySub)
	}
	b.subs[channel][id] = s

	var once sync.Once
	closeFn := func() error {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], id)
			b.mu.Unlock()
			close(s.done)
		})
		return nil
	}
	return s.ch, closeFn, nil
}
