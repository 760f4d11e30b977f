package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RequestIDHeader carries the id generated for every request.
	RequestIDHeader = "X-Request-ID"

	// DefaultTimeout applies when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent applies when Config.UserAgent is empty.
	DefaultUserAgent = "fleetdesk-client/1.0"

	tracerName   = "github.com/goliatone/go-query-cache/transport"
	maxErrorBody = 64 << 10
)

// Config holds the connection settings of a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// TokenSource provides the bearer token for a request. An empty token
// sends the request without an Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// UnauthorizedHandler is called for 401 and 403 responses before the error
// is returned to the caller.
type UnauthorizedHandler func(ctx context.Context, err *TransportError)

// Client is a JSON REST client for the fleet API.
type Client struct {
	cfg            Config
	base           *url.URL
	http           *http.Client
	tokens         TokenSource
	onUnauthorized UnauthorizedHandler
	logger         logrus.FieldLogger
	tracer         trace.Tracer
	propagator     propagation.TextMapPropagator
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithUnauthorizedHandler sets the 401/403 side effect.
func WithUnauthorizedHandler(h UnauthorizedHandler) Option {
	return func(c *Client) {
		c.onUnauthorized = h
	}
}

// WithLogger sets the request logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// New builds a Client for cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: base URL %q must be absolute", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := &Client{
		cfg:        cfg,
		base:       base,
		http:       &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends a request and decodes a JSON response into out. body, when not
// nil, is encoded as JSON. out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	requestID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
			attribute.String("http.request_id", requestID),
		),
	)
	defer span.End()

	fail := func(terr *TransportError) error {
		span.RecordError(terr)
		span.SetStatus(codes.Error, terr.Error())
		return terr
	}

	req, err := c.newRequest(ctx, method, path, query, body, requestID)
	if err != nil {
		return fail(&TransportError{Method: method, Path: path, RequestID: requestID, Err: err})
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"method":     method,
			"path":       path,
			"request_id": requestID,
			"error":      err,
		}).Warn("request failed")
		return fail(&TransportError{Method: method, Path: path, RequestID: requestID, Err: err})
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"request_id":  requestID,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		terr := &TransportError{
			StatusCode: resp.StatusCode,
			Message:    messageFromBody(raw),
			Method:     method,
			Path:       path,
			RequestID:  requestID,
		}
		if terr.IsUnauthorized() && c.onUnauthorized != nil {
			c.onUnauthorized(ctx, terr)
		}
		return fail(terr)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fail(&TransportError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			RequestID:  requestID,
			Err:        fmt.Errorf("decode response: %w", err),
		})
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any, requestID string) (*http.Request, error) {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// Doer is the subset of Client used by generic helpers.
type Doer interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) error
}

// GetJSON issues a GET request and decodes the response as T.
func GetJSON[T any](ctx context.Context, d Doer, path string, query url.Values) (T, error) {
	var out T
	err := d.Do(ctx, http.MethodGet, path, query, nil, &out)
	return out, err
}

// SendJSON issues a request with body and decodes the response as T.
func SendJSON[T any](ctx context.Context, d Doer, method, path string, body any) (T, error) {
	var out T
	err := d.Do(ctx, method, path, nil, body, &out)
	return out, err
}
