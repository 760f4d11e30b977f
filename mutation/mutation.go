// Package mutation performs writes and reconciles the cache afterwards.
//
// A Mutation issues exactly one write per Mutate call. On success its
// strategies run in order (optimistic patches, invalidations) and a success
// message is shown. On failure the cache is left untouched, the user sees
// the server message or a generic fallback, and the error is returned.
package mutation

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/notify"
)

// Status is the state of the latest invocation.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is what a write exposes to its consumer.
type State[Out any] struct {
	Status    Status
	IsIdle    bool
	IsLoading bool
	IsSuccess bool
	IsError   bool
	Error     error
	Data      Out
}

func newState[Out any](status Status, data Out, err error) State[Out] {
	return State[Out]{
		Status:    status,
		IsIdle:    status == StatusIdle,
		IsLoading: status == StatusPending,
		IsSuccess: status == StatusSuccess,
		IsError:   status == StatusError,
		Error:     err,
		Data:      data,
	}
}

// Outcome describes one settled invocation, for metrics.
type Outcome struct {
	Name     string
	Status   Status
	Duration time.Duration
	Err      error
}

// Hook receives every settled invocation.
type Hook func(Outcome)

// Config declares a write.
type Config[In, Out any] struct {
	Name      string
	Fn        func(ctx context.Context, in In) (Out, error)
	OnSuccess []Strategy[In, Out]

	Notifier        notify.Notifier
	SuccessMessage  string
	FallbackMessage string

	Logger logrus.FieldLogger
	Hooks  []Hook
}

// ErrNoFn is returned by New for configs without a write function.
var ErrNoFn = errors.New("mutation: Fn is required")

// Mutation is a reusable write. Concurrent Mutate calls are independent
// writes; State follows the most recent one.
type Mutation[In, Out any] struct {
	store cache.Store
	cfg   Config[In, Out]

	mu     sync.Mutex
	state  State[Out]
	latest uint64
}

// New builds a mutation reconciling store.
func New[In, Out any](store cache.Store, cfg Config[In, Out]) (*Mutation[In, Out], error) {
	if cfg.Fn == nil {
		return nil, ErrNoFn
	}
	if store == nil {
		return nil, errors.New("mutation: store is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = notify.DefaultFallback
	}
	if cfg.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		cfg.Logger = logger
	}

	var zero Out
	return &Mutation[In, Out]{
		store: store,
		cfg:   cfg,
		state: newState(StatusIdle, zero, nil),
	}, nil
}

// Name returns the configured name.
func (m *Mutation[In, Out]) Name() string {
	return m.cfg.Name
}

// Strategies returns the reconciliation steps run on success.
func (m *Mutation[In, Out]) Strategies() []Strategy[In, Out] {
	return append([]Strategy[In, Out](nil), m.cfg.OnSuccess...)
}

// State returns the state of the latest invocation.
func (m *Mutation[In, Out]) State() State[Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset returns the state to idle. Writes in flight still run but no
// longer update the state.
func (m *Mutation[In, Out]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero Out
	m.latest++
	m.state = newState(StatusIdle, zero, nil)
}

// Mutate issues the write and reconciles the cache. It never retries.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) (Out, error) {
	var zero Out

	m.mu.Lock()
	m.latest++
	run := m.latest
	m.state = newState(StatusPending, zero, nil)
	m.mu.Unlock()

	start := time.Now()
	out, err := m.cfg.Fn(ctx, in)
	elapsed := time.Since(start)

	logger := m.cfg.Logger.WithFields(logrus.Fields{
		"mutation":    m.cfg.Name,
		"duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		m.settle(run, newState(StatusError, zero, err))
		logger.WithField("error", err).Warn("mutation failed")
		m.cfg.Notifier.Error(notify.MessageFrom(err, m.cfg.FallbackMessage))
		m.emit(Outcome{Name: m.cfg.Name, Status: StatusError, Duration: elapsed, Err: err})
		return zero, err
	}

	for _, s := range m.cfg.OnSuccess {
		matched, applyErr := s.apply(m.store, in, out)
		if applyErr != nil {
			// the write went through; a failed patch only loses the optimistic view
			logger.WithFields(logrus.Fields{"strategy": s.Kind().String(), "error": applyErr}).Warn("cache reconciliation failed")
			continue
		}
		logger.WithFields(logrus.Fields{"strategy": s.Kind().String(), "matched": matched}).Debug("cache reconciled")
	}

	m.settle(run, newState(StatusSuccess, out, nil))
	if m.cfg.SuccessMessage != "" {
		m.cfg.Notifier.Success(m.cfg.SuccessMessage)
	}
	m.emit(Outcome{Name: m.cfg.Name, Status: StatusSuccess, Duration: elapsed})
	return out, nil
}

func (m *Mutation[In, Out]) settle(run uint64, state State[Out]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run == m.latest {
		m.state = state
	}
}

func (m *Mutation[In, Out]) emit(o Outcome) {
	for _, hook := range m.cfg.Hooks {
		hook(o)
	}
}
