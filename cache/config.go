package cache

import (
	"time"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// Config exposes query cache configuration options.
type Config struct {
	// DefaultStaleTime applies to Fetch calls that pass a non-positive
	// staleAfter. Zero means results are stale as soon as they land.
	DefaultStaleTime time.Duration

	// GCTime is how long an entry nobody subscribes to is kept around
	// before it is garbage collected.
	GCTime time.Duration

	// Capacity bounds the number of unreferenced entries kept for GCTime.
	Capacity int

	// NumShards, EvictionPercentage and EvictionInterval tune the pool
	// holding unreferenced entries.
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration

	// NotifyOnChangeOnly skips subscriber notifications when a refetch
	// returns a value identical to the cached one.
	NotifyOnChangeOnly bool
}

// ConfigError reports an invalid configuration field.
type ConfigError = cacheinfra.ConfigError

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	pool := cacheinfra.DefaultConfig()
	return Config{
		DefaultStaleTime:   0,
		GCTime:             pool.TTL,
		Capacity:           pool.Capacity,
		NumShards:          pool.NumShards,
		EvictionPercentage: pool.EvictionPercentage,
		EvictionInterval:   pool.EvictionInterval,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.DefaultStaleTime < 0 {
		return &ConfigError{Field: "DefaultStaleTime", Message: "must be non-negative"}
	}
	if c.GCTime <= 0 {
		return &ConfigError{Field: "GCTime", Message: "must be greater than 0"}
	}
	return c.poolConfig().Validate()
}

func (c Config) poolConfig() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.GCTime,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}
