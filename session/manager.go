// Package session owns the bearer token and the reaction to rejected
// credentials.
//
// A Manager is both the token source of the transport and its
// unauthorized handler. A 401 or 403 clears the stored token, optionally
// clears the query cache and redirects the user to the login path once.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-query-cache/transport"
)

// DefaultLoginPath is where users are sent after their session ends.
const DefaultLoginPath = "/login"

// Clearer drops cached server state on logout.
type Clearer interface {
	Clear()
}

// LogoutFunc is invoked with the login path when the session ends.
type LogoutFunc func(loginPath string)

var _ transport.TokenSource = (*Manager)(nil)

// Manager hands tokens to the transport and ends the session when the API
// rejects them.
type Manager struct {
	store     TokenStore
	loginPath string
	onLogout  LogoutFunc
	cache     Clearer
	logger    logrus.FieldLogger
	now       func() time.Time
	leeway    time.Duration

	mu        sync.Mutex
	loggedOut bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.loginPath = path
		}
	}
}

// WithLogoutHandler sets the redirect callback.
func WithLogoutHandler(fn LogoutFunc) Option {
	return func(m *Manager) {
		m.onLogout = fn
	}
}

// WithCache clears c whenever the session ends.
func WithCache(c Clearer) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLeeway treats tokens expiring within d as already expired.
func WithLeeway(d time.Duration) Option {
	return func(m *Manager) {
		m.leeway = d
	}
}

// NewManager creates a Manager over store.
func NewManager(store TokenStore, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore("")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m := &Manager{
		store:     store,
		loginPath: DefaultLoginPath,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login stores token and starts a new session.
func (m *Manager) Login(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("session: empty token")
	}
	if err := m.store.Save(ctx, token); err != nil {
		return err
	}

	m.mu.Lock()
	m.loggedOut = false
	m.mu.Unlock()
	return nil
}

// Token returns the stored token. Expired JWTs are cleared and reported as
// no token; opaque tokens are returned as is.
func (m *Manager) Token(ctx context.Context) (string, error) {
	token, err := m.store.Load(ctx)
	if err != nil || token == "" {
		return "", err
	}

	exp, ok := expiry(token)
	if ok && !m.now().Add(m.leeway).Before(exp) {
		m.logger.WithField("expired_at", exp).Info("session token expired")
		if err := m.store.Clear(ctx); err != nil {
			return "", err
		}
		return "", nil
	}
	return token, nil
}

// HandleUnauthorized ends the session after a 401 or 403. Repeated
// rejections of the same session trigger the logout only once.
func (m *Manager) HandleUnauthorized(ctx context.Context, err *transport.TransportError) {
	m.mu.Lock()
	if m.loggedOut {
		m.mu.Unlock()
		return
	}
	m.loggedOut = true
	m.mu.Unlock()

	fields := logrus.Fields{"login_path": m.loginPath}
	if err != nil {
		fields["status"] = err.StatusCode
		fields["path"] = err.Path
	}
	m.logger.WithFields(fields).Warn("session rejected by API, logging out")

	if clearErr := m.store.Clear(ctx); clearErr != nil {
		m.logger.WithField("error", clearErr).Error("failed to clear session token")
	}
	if m.cache != nil {
		m.cache.Clear()
	}
	if m.onLogout != nil {
		m.onLogout(m.loginPath)
	}
}

// Logout ends the session on the user's request.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.loggedOut = true
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	if m.cache != nil {
		m.cache.Clear()
	}
	return nil
}

// LoggedOut reports whether the session has ended.
func (m *Manager) LoggedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedOut
}

// expiry reads the exp claim without verifying the signature; the client
// never holds the signing key.
func expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
