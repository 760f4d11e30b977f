package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Cache.StaleTime)
	assert.Equal(t, 5*time.Minute, cfg.Cache.GCTime)
	assert.Equal(t, 10000, cfg.Cache.Capacity)
	assert.Equal(t, "/login", cfg.Session.LoginPath)
	assert.Equal(t, "fleetdesk:cache:invalidate", cfg.Redis.Channel)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Policies.For("bookings").StaleTime)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"FLEETDESK_API_BASE_URL":                "https://api.fleetdesk.test",
		"FLEETDESK_CACHE_STALE_TIME":            "90s",
		"FLEETDESK_CACHE_GC_TIME":               "10m",
		"FLEETDESK_LOG_FORMAT":                  "json",
		"FLEETDESK_REDIS_ENABLED":               "true",
		"FLEETDESK_REDIS_ADDR":                  "redis:6379",
		"FLEETDESK_SESSION_TOKEN_FILE":          "/tmp/fleetdesk/session",
		"FLEETDESK_CACHE_NUM_SHARDS":            "16",
		"FLEETDESK_CACHE_CAPACITY":              "500",
		"FLEETDESK_METRICS_ENABLED":             "true",
		"FLEETDESK_CACHE_NOTIFY_ON_CHANGE_ONLY": "true",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.fleetdesk.test", cfg.API.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.Cache.StaleTime)
	assert.Equal(t, 10*time.Minute, cfg.Cache.GCTime)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 16, cfg.Cache.NumShards)
	assert.True(t, cfg.Cache.NotifyOnChangeOnly)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
	}{
		{"base url", map[string]string{"FLEETDESK_API_BASE_URL": "not a url"}},
		{"log format", map[string]string{"FLEETDESK_LOG_FORMAT": "xml"}},
		{"log level", map[string]string{"FLEETDESK_LOG_LEVEL": "loud"}},
		{"shards above capacity", map[string]string{"FLEETDESK_CACHE_CAPACITY": "10", "FLEETDESK_CACHE_NUM_SHARDS": "20"}},
		{"eviction percentage", map[string]string{"FLEETDESK_CACHE_EVICTION_PERCENTAGE": "150"}},
		{"bad duration", map[string]string{"FLEETDESK_CACHE_GC_TIME": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.environ)
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	path := testsupport.WriteFixture(t, t.TempDir(), "resources.yaml", []byte(`
defaults:
  retry: 1
resources:
  bookings:
    staleTime: 1m
    retry: 2
    retryDelay: 250ms
  invoices:
    staleTime: 30m
`))

	cfg, err := LoadFrom(map[string]string{"FLEETDESK_POLICIES_FILE": path})
	require.NoError(t, err)

	bookings := cfg.Policies.For("bookings")
	assert.Equal(t, time.Minute, bookings.StaleTime)
	assert.Equal(t, 2, bookings.Retry)
	assert.Equal(t, 250*time.Millisecond, bookings.RetryDelay)

	assert.Equal(t, 30*time.Minute, cfg.Policies.For("invoices").StaleTime)
	assert.Equal(t, 1, cfg.Policies.For("invoices").Retry)

	hosts := cfg.Policies.For("hosts")
	assert.Equal(t, 5*time.Minute, hosts.StaleTime, "unknown resources use the defaults")
	assert.Equal(t, 1, hosts.Retry)
}

func TestLoadPolicies_Errors(t *testing.T) {
	_, err := LoadPolicies("does-not-exist.yaml", time.Minute)
	assert.Error(t, err)

	path := testsupport.WriteFixture(t, t.TempDir(), "resources.yaml", []byte("resources:\n  bookings:\n    retry: 99\n"))
	_, err = LoadFrom(map[string]string{"FLEETDESK_POLICIES_FILE": path})
	assert.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	path := testsupport.WriteFixture(t, t.TempDir(), ".env", []byte("FLEETDESK_API_BASE_URL=https://dotenv.fleetdesk.test\n"))
	t.Setenv("FLEETDESK_API_BASE_URL", "")
	require.NoError(t, os.Unsetenv("FLEETDESK_API_BASE_URL"))

	cfg, err := Load(path, "missing.env")
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.fleetdesk.test", cfg.API.BaseURL)
}
