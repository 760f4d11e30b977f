package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"
)

// DefaultWait bounds every blocking helper in this package.
const DefaultWait = 2 * time.Second

type gateResult[T any] struct {
	value T
	err   error
}

// Gate is a loader whose calls block until the test releases them one by
// one. It lets tests control the order in which fetches settle.
type Gate[T any] struct {
	mu      sync.Mutex
	pending []chan gateResult[T]
	started chan int
}

// NewGate creates an empty gate.
func NewGate[T any]() *Gate[T] {
	return &Gate[T]{started: make(chan int, 64)}
}

// Load blocks until Release is called for this call's index or ctx is done.
func (g *Gate[T]) Load(ctx context.Context) (T, error) {
	ch := make(chan gateResult[T], 1)

	g.mu.Lock()
	index := len(g.pending)
	g.pending = append(g.pending, ch)
	g.mu.Unlock()

	g.started <- index

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Calls reports how many times Load has been invoked.
func (g *Gate[T]) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// WaitCalls blocks until at least n calls have started.
func (g *Gate[T]) WaitCalls(t testing.TB, n int) {
	t.Helper()

	deadline := time.After(DefaultWait)
	for g.Calls() < n {
		select {
		case <-g.started:
		case <-deadline:
			t.Fatalf("timed out waiting for %d loader calls, got %d", n, g.Calls())
		}
	}
}

// Release settles call i with value and err.
func (g *Gate[T]) Release(t testing.TB, i int, value T, err error) {
	t.Helper()

	g.mu.Lock()
	defer g.mu.Unlock()
	if i >= len(g.pending) {
		t.Fatalf("release of call %d but only %d calls started", i, len(g.pending))
	}
	g.pending[i] <- gateResult[T]{value: value, err: err}
}

// Counter is a loader returning a fixed value and counting invocations.
type Counter[T any] struct {
	mu    sync.Mutex
	calls int
	value T
	err   error
}

// NewCounter returns a loader that always yields value and err.
func NewCounter[T any](value T, err error) *Counter[T] {
	return &Counter[T]{value: value, err: err}
}

// Load records the call and returns the configured result.
func (c *Counter[T]) Load(context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.value, c.err
}

// Set changes the result of subsequent calls.
func (c *Counter[T]) Set(value T, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value, c.err = value, err
}

// Calls reports how many times Load ran.
func (c *Counter[T]) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Eventually polls cond until it holds or DefaultWait elapses.
func Eventually(t testing.TB, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(DefaultWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", DefaultWait, msg)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
