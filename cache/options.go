package cache

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a QueryCache.
type Option func(*QueryCache)

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(c *QueryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for discards, loader errors and evictions.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *QueryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeySerializer replaces the default reflection based serializer.
func WithKeySerializer(serializer KeySerializer) Option {
	return func(c *QueryCache) {
		if serializer != nil {
			c.serializer = serializer
		}
	}
}

// WithEventHook registers a hook receiving every cache event.
func WithEventHook(hook EventHook) Option {
	return func(c *QueryCache) {
		if hook != nil {
			c.hooks = append(c.hooks, hook)
		}
	}
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
