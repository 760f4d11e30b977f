package cacheinfra

import (
	"sort"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}

	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}

	if cfg.TTL != 5*time.Minute {
		t.Errorf("expected TTL to be 5 minutes, got %v", cfg.TTL)
	}

	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			cfg:       DefaultConfig(),
			wantError: false,
		},
		{
			name: "invalid capacity - zero",
			cfg: Config{
				Capacity:           0,
				NumShards:          256,
				TTL:                5 * time.Minute,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "config error in field Capacity: must be greater than 0",
		},
		{
			name: "invalid num shards - zero",
			cfg: Config{
				Capacity:           1000,
				NumShards:          0,
				TTL:                5 * time.Minute,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "config error in field NumShards: must be greater than 0",
		},
		{
			name: "more shards than capacity",
			cfg: Config{
				Capacity:           4,
				NumShards:          8,
				TTL:                5 * time.Minute,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "config error in field NumShards: must not exceed Capacity",
		},
		{
			name: "invalid TTL - zero",
			cfg: Config{
				Capacity:           1000,
				NumShards:          256,
				TTL:                0,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "config error in field TTL: must be greater than 0",
		},
		{
			name: "invalid eviction percentage - too high",
			cfg: Config{
				Capacity:           1000,
				NumShards:          256,
				TTL:                5 * time.Minute,
				EvictionPercentage: 101,
			},
			wantError: true,
			errorMsg:  "config error in field EvictionPercentage: must be between 1 and 100",
		},
		{
			name: "negative eviction interval",
			cfg: Config{
				Capacity:           1000,
				NumShards:          256,
				TTL:                5 * time.Minute,
				EvictionPercentage: 10,
				EvictionInterval:   -time.Second,
			},
			wantError: true,
			errorMsg:  "config error in field EvictionInterval: must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantError {
				if err != nil {
					t.Errorf("expected no validation error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error but got none")
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("expected error message %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	if got := len(DefaultConfig().ToSturdycOptions()); got != 0 {
		t.Errorf("expected no sturdyc options for default config, got %d", got)
	}

	cfg := DefaultConfig()
	cfg.EvictionInterval = time.Second
	if got := len(cfg.ToSturdycOptions()); got != 1 {
		t.Errorf("expected 1 sturdyc option with eviction interval, got %d", got)
	}
}

func TestNewPool_InvalidConfig(t *testing.T) {
	pool, err := NewPool[string](Config{})
	if err == nil {
		t.Fatal("expected error for zero config")
	}
	if pool != nil {
		t.Error("expected pool to be nil when error occurs")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Errorf("expected *ConfigError, got %T", err)
	}
}

func newTestPool(t *testing.T, ttl time.Duration) *Pool[string] {
	t.Helper()
	pool, err := NewPool[string](Config{
		Capacity:           100,
		NumShards:          2,
		TTL:                ttl,
		EvictionPercentage: 10,
	})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	return pool
}

func TestPool_ParkAndRevive(t *testing.T) {
	pool := newTestPool(t, time.Minute)

	pool.Park("bookings::1", "page-one")

	if v, ok := pool.Peek("bookings::1"); !ok || v != "page-one" {
		t.Fatalf("Peek() = %q, %v; want page-one, true", v, ok)
	}

	v, ok := pool.Revive("bookings::1")
	if !ok || v != "page-one" {
		t.Fatalf("Revive() = %q, %v; want page-one, true", v, ok)
	}

	if _, ok := pool.Peek("bookings::1"); ok {
		t.Error("expected revived entry to leave the pool")
	}
}

func TestPool_ExpiredEntriesAreGone(t *testing.T) {
	pool := newTestPool(t, 20*time.Millisecond)

	pool.Park("hosts", "value")
	time.Sleep(60 * time.Millisecond)

	if _, ok := pool.Revive("hosts"); ok {
		t.Error("expected entry past its grace period to be gone")
	}
}

func TestPool_KeysWithPrefix(t *testing.T) {
	pool := newTestPool(t, time.Minute)

	pool.Park("bookings::1", "a")
	pool.Park("bookings::2", "b")
	pool.Park("hosts::1", "c")

	keys := pool.KeysWithPrefix("bookings")
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "bookings::1" || keys[1] != "bookings::2" {
		t.Errorf("KeysWithPrefix(bookings) = %v", keys)
	}

	if all := pool.KeysWithPrefix(""); len(all) != 3 {
		t.Errorf("expected 3 keys for empty prefix, got %d", len(all))
	}
}

func TestPool_Clear(t *testing.T) {
	pool := newTestPool(t, time.Minute)

	pool.Park("a", "1")
	pool.Park("b", "2")
	pool.Drop("a")
	pool.Clear()

	if pool.Len() != 0 {
		t.Errorf("expected empty pool after Clear, got %d entries", pool.Len())
	}
}
