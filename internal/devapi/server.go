// Package devapi is a small REST API with the shape of the fleet backend,
// backed by SQLite through bun. The CLI serves it for demos and the
// end-to-end tests run the client stack against it.
//
// Every resource lives under /api/:resource:
//
//	GET    /api/:resource?page=1&pageSize=10&search=&status=
//	POST   /api/:resource
//	GET    /api/:resource/:id
//	PUT    /api/:resource/:id
//	DELETE /api/:resource/:id
//	PATCH  /api/:resource/:id/status
//
// Lists answer {data, total, page, pageSize}; errors answer {message}.
package devapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ListBody is the response of list endpoints.
type ListBody struct {
	Data     []map[string]any `json:"data"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// bodyBinder binds only the request body; the default binder would also
// copy path params into map destinations.
var bodyBinder = &echo.DefaultBinder{}

// Option configures the API.
type Option func(*API)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(a *API) {
		a.token = token
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.repo.now = now
		}
	}
}

// WithLatency delays every request, which makes loading states visible
// in demos.
func WithLatency(d time.Duration) Option {
	return func(a *API) {
		a.latency = d
	}
}

// API serves the resources stored in db.
type API struct {
	echo    *echo.Echo
	repo    *repo
	token   string
	latency time.Duration
	logger  logrus.FieldLogger
}

// New builds the API over the records stored in db. It implements
// http.Handler.
func New(db *bun.DB, opts ...Option) *API {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	a := &API{
		echo:   echo.New(),
		repo:   &repo{records: NewRecordRepository(db), now: time.Now},
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.echo.HideBanner = true
	a.echo.HidePort = true
	a.echo.Use(a.logRequests, a.delay, a.requireToken)

	api := a.echo.Group("/api")
	api.GET("/:resource", a.list)
	api.POST("/:resource", a.create)
	api.GET("/:resource/:id", a.get)
	api.PUT("/:resource/:id", a.update)
	api.DELETE("/:resource/:id", a.remove)
	api.PATCH("/:resource/:id/status", a.setStatus)

	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.echo.ServeHTTP(w, r)
}

// Seed inserts items under resource. Items without an id get one.
func (a *API) Seed(ctx context.Context, resource string, items ...map[string]any) error {
	for _, item := range items {
		id, _ := item["id"].(string)
		if id == "" {
			id = uuid.NewString()
			item["id"] = id
		}
		if _, err := a.repo.insert(ctx, resource, id, item); err != nil {
			return err
		}
	}
	return nil
}

func (a *API) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		a.logger.WithFields(logrus.Fields{
			"method":      c.Request().Method,
			"path":        c.Request().URL.Path,
			"status":      c.Response().Status,
			"request_id":  c.Request().Header.Get("X-Request-ID"),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("devapi request")
		return nil
	}
}

func (a *API) delay(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.latency > 0 {
			select {
			case <-time.After(a.latency):
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		return next(c)
	}
}

func (a *API) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.token == "" {
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header != "Bearer "+a.token {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}
		return next(c)
	}
}

func (a *API) list(c echo.Context) error {
	page, err := intParam(c, "page", 1)
	if err != nil {
		return err
	}
	size, err := intParam(c, "pageSize", DefaultPageSize)
	if err != nil {
		return err
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	records, total, err := a.repo.list(c.Request().Context(), ListQuery{
		Resource: c.Param("resource"),
		Search:   c.QueryParam("search"),
		Status:   c.QueryParam("status"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		return a.internal(err)
	}

	body := ListBody{Data: make([]map[string]any, 0, len(records)), Total: total, Page: page, PageSize: size}
	for i := range records {
		obj, err := records[i].Object()
		if err != nil {
			return a.internal(err)
		}
		body.Data = append(body.Data, obj)
	}
	return c.JSON(http.StatusOK, body)
}

func (a *API) get(c echo.Context) error {
	rec, err := a.repo.get(c.Request().Context(), c.Param("resource"), c.Param("id"))
	if err != nil {
		return a.storeError(c, err)
	}
	return a.respond(c, http.StatusOK, rec)
}

func (a *API) create(c echo.Context) error {
	obj, err := bindObject(c)
	if err != nil {
		return err
	}

	resource := c.Param("resource")
	id, _ := obj["id"].(string)
	if id == "" {
		id = uuid.NewString()
		obj["id"] = id
	}

	rec, err := a.repo.insert(c.Request().Context(), resource, id, obj)
	if err != nil {
		return a.storeError(c, err)
	}
	return a.respond(c, http.StatusCreated, rec)
}

func (a *API) update(c echo.Context) error {
	obj, err := bindObject(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	rec, err := a.repo.get(ctx, c.Param("resource"), c.Param("id"))
	if err != nil {
		return a.storeError(c, err)
	}
	obj["id"] = rec.ID
	if err := a.repo.update(ctx, rec, obj); err != nil {
		return a.storeError(c, err)
	}
	return a.respond(c, http.StatusOK, rec)
}

func (a *API) setStatus(c echo.Context) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := bodyBinder.BindBody(c, &req); err != nil || strings.TrimSpace(req.Status) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	ctx := c.Request().Context()
	rec, err := a.repo.get(ctx, c.Param("resource"), c.Param("id"))
	if err != nil {
		return a.storeError(c, err)
	}
	obj, err := rec.Object()
	if err != nil {
		return a.internal(err)
	}
	obj["status"] = req.Status
	if err := a.repo.update(ctx, rec, obj); err != nil {
		return a.storeError(c, err)
	}
	return a.respond(c, http.StatusOK, rec)
}

func (a *API) remove(c echo.Context) error {
	if err := a.repo.delete(c.Request().Context(), c.Param("resource"), c.Param("id")); err != nil {
		return a.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) respond(c echo.Context, code int, rec *Record) error {
	obj, err := rec.Object()
	if err != nil {
		return a.internal(err)
	}
	return c.JSON(code, obj)
}

func (a *API) storeError(c echo.Context, err error) error {
	noun := Singular(c.Param("resource"))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, capitalize(noun)+" not found")
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, "Duplicate "+noun)
	default:
		return a.internal(err)
	}
}

func (a *API) internal(err error) error {
	a.logger.WithError(err).Error("devapi storage failure")
	return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
}

// Singular returns the singular noun of a resource name.
func Singular(resource string) string {
	return inflection.Singular(resource)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func bindObject(c echo.Context) (map[string]any, error) {
	obj := map[string]any{}
	if err := bodyBinder.BindBody(c, &obj); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return obj, nil
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be a positive integer", name))
	}
	return n, nil
}
