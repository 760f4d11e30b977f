package cacheinfra

import (
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the dormant entry pool.
// Entries land in the pool once nothing subscribes to them and they stay
// there until TTL elapses or capacity pressure evicts them.
type Config struct {
	// Capacity defines the maximum number of parked entries.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of pool shards for concurrent access.
	// Must be greater than 0 and not larger than Capacity. Default: 256
	NumShards int

	// TTL is the garbage collection grace period for an unreferenced entry.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when a shard reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the pool sweeps expired entries.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for a dashboard session.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EvictionInterval:   0,
	}
}

// ToSturdycOptions converts the Config to a sturdyc.Option slice.
// Capacity, NumShards, TTL and EvictionPercentage go straight to sturdyc.New.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Pool parks values that nobody references anymore. A parked value is
// either revived before TTL elapses or silently dropped.
type Pool[V any] struct {
	client *sturdyc.Client[V]
}

// NewPool validates cfg and builds a sturdyc backed pool.
func NewPool[V any](cfg Config) (*Pool[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[V](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &Pool[V]{client: client}, nil
}

// Park stores value under key, restarting its grace period.
func (p *Pool[V]) Park(key string, value V) {
	p.client.Set(key, value)
}

// Peek returns the parked value without reviving it.
func (p *Pool[V]) Peek(key string) (V, bool) {
	return p.client.Get(key)
}

// Revive removes key from the pool and hands its value back.
// Expired entries are reported as missing.
func (p *Pool[V]) Revive(key string) (V, bool) {
	value, ok := p.client.Get(key)
	if !ok {
		return value, false
	}
	p.client.Delete(key)
	return value, true
}

// Drop removes key from the pool.
func (p *Pool[V]) Drop(key string) {
	p.client.Delete(key)
}

// KeysWithPrefix lists parked keys starting with prefix.
// An empty prefix lists every key.
func (p *Pool[V]) KeysWithPrefix(prefix string) []string {
	keys := p.client.ScanKeys()
	if prefix == "" {
		return keys
	}

	matched := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	return matched
}

// Len reports the number of parked entries, including expired ones that
// have not been swept yet.
func (p *Pool[V]) Len() int {
	return p.client.Size()
}

// Clear drops every parked entry.
func (p *Pool[V]) Clear() {
	for _, key := range p.client.ScanKeys() {
		p.client.Delete(key)
	}
}
