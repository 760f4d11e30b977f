package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/transport"
)

type clearCounter struct{ n int }

func (c *clearCounter) Clear() { c.n++ }

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("abc")

	tok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	require.NoError(t, s.Save(ctx, "def"))
	tok, _ = s.Load(ctx)
	assert.Equal(t, "def", tok)

	require.NoError(t, s.Clear(ctx))
	tok, _ = s.Load(ctx)
	assert.Empty(t, tok)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.msgpack")
	s := NewFileStore(path)

	tok, err := s.Load(ctx)
	require.NoError(t, err, "missing file means no token")
	assert.Empty(t, tok)

	require.NoError(t, s.Save(ctx, "token-1"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened := NewFileStore(path)
	tok, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	savedAt, err := reopened.SavedAt()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), savedAt, time.Minute)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := testsupport.WriteFixture(t, t.TempDir(), "session.msgpack", []byte{0xc1})
	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestManager_Token(t *testing.T) {
	ctx := context.Background()
	clock := testsupport.NewClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	valid := signedToken(t, clock.Now().Add(time.Hour))
	store := NewMemoryStore(valid)
	m := NewManager(store, WithClock(clock.Now))

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, valid, tok)

	clock.Advance(2 * time.Hour)
	tok, err = m.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok, "expired tokens are not sent")

	stored, _ := store.Load(ctx)
	assert.Empty(t, stored, "expired tokens are cleared")
}

func TestManager_OpaqueToken(t *testing.T) {
	m := NewManager(NewMemoryStore("not-a-jwt"))
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "not-a-jwt", tok)
}

func TestManager_Leeway(t *testing.T) {
	now := time.Now()
	m := NewManager(NewMemoryStore(signedToken(t, now.Add(30*time.Second))), WithLeeway(time.Minute))
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestManager_HandleUnauthorized(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("opaque")
	cleared := &clearCounter{}

	var redirects []string
	m := NewManager(store,
		WithLoginPath("/auth/login"),
		WithCache(cleared),
		WithLogoutHandler(func(path string) { redirects = append(redirects, path) }),
	)

	rejected := &transport.TransportError{StatusCode: http.StatusUnauthorized, Path: "/api/bookings"}
	m.HandleUnauthorized(ctx, rejected)
	m.HandleUnauthorized(ctx, rejected)

	assert.Equal(t, []string{"/auth/login"}, redirects)
	assert.Equal(t, 1, cleared.n)
	assert.True(t, m.LoggedOut())
	tok, _ := store.Load(ctx)
	assert.Empty(t, tok)

	require.NoError(t, m.Login(ctx, "fresh"))
	assert.False(t, m.LoggedOut())
	m.HandleUnauthorized(ctx, rejected)
	assert.Len(t, redirects, 2, "a new session can be ended again")
}

func TestManager_WiredIntoTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Forbidden"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	store := NewMemoryStore("good")
	loggedOut := false
	m := NewManager(store, WithLogoutHandler(func(string) { loggedOut = true }))

	client, err := transport.New(transport.Config{BaseURL: srv.URL},
		transport.WithTokenSource(m),
		transport.WithUnauthorizedHandler(m.HandleUnauthorized),
	)
	require.NoError(t, err)

	require.NoError(t, client.Get(ctx, "/api/hosts", nil, nil))
	assert.False(t, loggedOut)

	require.NoError(t, store.Save(ctx, "bad"))
	err = client.Get(ctx, "/api/hosts", nil, nil)
	assert.Equal(t, http.StatusForbidden, transport.StatusCode(err))
	assert.True(t, loggedOut)

	tok, _ := store.Load(ctx)
	assert.Empty(t, tok)
}
