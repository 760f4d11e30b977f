package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
)

func TestResource(t *testing.T) {
	assert.Equal(t, "bookings", Resource("bookings::list::page=1"))
	assert.Equal(t, "hosts", Resource("hosts"))
	assert.Equal(t, "unknown", Resource(""))
}

func TestCacheHook(t *testing.T) {
	c := New()
	cfg := cache.DefaultConfig()
	cfg.Capacity, cfg.NumShards = 100, 4
	store, err := cache.New(cfg, cache.WithEventHook(c.CacheHook()))
	require.NoError(t, err)
	defer store.Close()

	key := cache.NewKey("bookings", "list", 1)
	load := func(context.Context) (any, error) { return 42, nil }

	_, err = store.Fetch(context.Background(), key, load, time.Hour)
	require.NoError(t, err)
	_, err = store.Fetch(context.Background(), key, load, time.Hour)
	require.NoError(t, err)
	store.Invalidate(cache.Prefix("bookings"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheEvents.WithLabelValues("miss", "bookings")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheEvents.WithLabelValues("commit", "bookings")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheEvents.WithLabelValues("hit", "bookings")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheEvents.WithLabelValues("invalidate", "bookings")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.fetchDuration))
}

func TestMutationHook(t *testing.T) {
	c := New()
	hook := c.MutationHook()

	hook(mutation.Outcome{Name: "bookings.create", Status: mutation.StatusSuccess, Duration: 20 * time.Millisecond})
	hook(mutation.Outcome{Name: "bookings.create", Status: mutation.StatusError, Err: errors.New("conflict")})
	hook(mutation.Outcome{Status: mutation.StatusSuccess})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.mutationsTotal.WithLabelValues("bookings.create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.mutationsTotal.WithLabelValues("bookings.create", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.mutationsTotal.WithLabelValues("unnamed", "success")))
}

func TestHandler(t *testing.T) {
	c := New()
	c.MutationHook()(mutation.Outcome{Name: "hosts.delete", Status: mutation.StatusSuccess})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `fleetdesk_mutation_total{mutation="hosts.delete",status="success"} 1`)
}
