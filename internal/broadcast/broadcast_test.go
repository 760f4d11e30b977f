package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

func newCache(t *testing.T, opts ...cache.Option) *cache.QueryCache {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.Capacity, cfg.NumShards = 100, 4
	store, err := cache.New(cfg, opts...)
	require.NoError(t, err)
	return store
}

func newPeer(t *testing.T, bus Bus) *Store {
	t.Helper()
	s, err := New(context.Background(), newCache(t), bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s cache.Store, key cache.Key) {
	t.Helper()
	_, err := s.Fetch(context.Background(), key, func(context.Context) (any, error) { return "v", nil }, time.Hour)
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), nil, NewMemoryBus())
	assert.Error(t, err)
	_, err = New(context.Background(), newCache(t), nil)
	assert.Error(t, err)
}

func TestInvalidate_ReachesPeers(t *testing.T) {
	bus := NewMemoryBus()
	a, b := newPeer(t, bus), newPeer(t, bus)
	assert.NotEqual(t, a.Origin(), b.Origin())

	key := cache.NewKey("bookings", "list", 1)
	other := cache.NewKey("hosts", "list", 1)
	seed(t, a, key)
	seed(t, b, key)
	seed(t, b, other)

	assert.Equal(t, 1, a.Invalidate(cache.Prefix("bookings")))
	assert.True(t, a.Get(key).Invalidated)

	testsupport.Eventually(t, func() bool { return b.Get(key).Invalidated }, "peer invalidated")
	assert.False(t, b.Get(other).Invalidated)
}

// tenantSerializer namespaces every key, so a serialized key is not a
// valid tag of itself.
type tenantSerializer struct{ inner cache.KeySerializer }

func (s tenantSerializer) SerializeKey(tag string, params ...any) string {
	return "tenant-a/" + s.inner.SerializeKey(tag, params...)
}

func TestInvalidate_CustomSerializer(t *testing.T) {
	bus := NewMemoryBus()
	peer := func() *Store {
		s, err := New(context.Background(), newCache(t, cache.WithKeySerializer(tenantSerializer{cache.NewDefaultKeySerializer()})), bus)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	a, b := peer(), peer()

	list := cache.NewKey("bookings", "list", 1)
	detail := cache.NewKey("bookings", "detail", "b-1")
	seed(t, b, list)
	seed(t, b, detail)

	a.Invalidate(cache.Prefix("bookings", "list"))

	testsupport.Eventually(t, func() bool { return b.Get(list).Invalidated }, "peer invalidated the list")
	assert.False(t, b.Get(detail).Invalidated)
}

func TestInvalidate_IgnoresOwnMessages(t *testing.T) {
	bus := NewMemoryBus()
	raw, closeRaw, err := bus.Subscribe(context.Background(), DefaultChannel)
	require.NoError(t, err)
	defer closeRaw()

	a := newPeer(t, bus)
	key := cache.NewKey("vehicles", "detail", "v-1")
	seed(t, a, key)

	a.Invalidate(cache.Prefix("vehicles"))

	var msg Message
	select {
	case payload := <-raw:
		require.NoError(t, msgpack.Unmarshal(payload, &msg))
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
	assert.Equal(t, a.Origin(), msg.Origin)
	assert.Equal(t, "vehicles", msg.Prefix)

	// refetch clears the flag; an echo of our own message must not set it again
	_, err = a.Fetch(context.Background(), key, func(context.Context) (any, error) { return "v2", nil }, time.Hour)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, a.Get(key).Invalidated)
}

func TestApply_IgnoresGarbage(t *testing.T) {
	bus := NewMemoryBus()
	a := newPeer(t, bus)
	key := cache.NewKey("invoices", 7)
	seed(t, a, key)

	require.NoError(t, bus.Publish(context.Background(), DefaultChannel, []byte("not msgpack")))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, a.Get(key).Invalidated)
}

type failingBus struct{ *MemoryBus }

func (failingBus) Publish(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func TestInvalidate_PublishFailureKeepsLocal(t *testing.T) {
	s, err := New(context.Background(), newCache(t), failingBus{NewMemoryBus()}, WithChannel("custom"), WithOrigin("node-a"))
	require.NoError(t, err)
	defer s.Close()

	key := cache.NewKey("customers", "c-1")
	seed(t, s, key)
	assert.Equal(t, 1, s.Invalidate(cache.Prefix("customers")))
	assert.True(t, s.Get(key).Invalidated)
	assert.Equal(t, "node-a", s.Origin())
}

func TestClose_Idempotent(t *testing.T) {
	s, err := New(context.Background(), newCache(t), NewMemoryBus())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
