package devapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var (
	ErrNotFound  = errors.New("devapi: record not found")
	ErrDuplicate = errors.New("devapi: duplicate record")
)

// Record is one stored resource item. Data holds the JSON object served
// to clients; Status and Search are denormalized from it for filtering.
type Record struct {
	bun.BaseModel `bun:"table:records"`

	Resource  string    `bun:"resource,pk"`
	ID        string    `bun:"id,pk"`
	Status    string    `bun:"status,notnull"`
	Search    string    `bun:"search,notnull"`
	Data      string    `bun:"data,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Object decodes Data.
func (r *Record) Object() (map[string]any, error) {
	obj := map[string]any{}
	if err := json.Unmarshal([]byte(r.Data), &obj); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", r.Resource, r.ID, err)
	}
	return obj, nil
}

func (r *Record) setObject(obj map[string]any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	r.Data = string(raw)
	r.Status, _ = obj["status"].(string)
	r.Search = searchText(obj)
	return nil
}

// searchText lowercases every string field, in key order.
func searchText(obj map[string]any) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			parts = append(parts, strings.ToLower(s))
		}
	}
	return strings.Join(parts, " ")
}

// OpenSQLite opens dsn with the sqlite3 driver and creates the schema.
// ":memory:" gives a private database per call.
func OpenSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// every connection to :memory: is a separate database
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := CreateSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// CreateSchema creates the records table when missing.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*Record)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

// ListQuery selects one page of a resource.
type ListQuery struct {
	Resource string
	Search   string
	Status   string
	Page     int
	PageSize int
}

// Criteria returns the select criteria of q, paging included.
func (q ListQuery) Criteria() []repository.SelectCriteria {
	criteria := []repository.SelectCriteria{inResource(q.Resource)}
	if q.Search != "" {
		pattern := "%" + strings.ToLower(q.Search) + "%"
		criteria = append(criteria, func(sel *bun.SelectQuery) *bun.SelectQuery {
			return sel.Where("search LIKE ?", pattern)
		})
	}
	if q.Status != "" {
		criteria = append(criteria, func(sel *bun.SelectQuery) *bun.SelectQuery {
			return sel.Where("status = ?", q.Status)
		})
	}
	return append(criteria, func(sel *bun.SelectQuery) *bun.SelectQuery {
		return sel.OrderExpr("created_at DESC, id ASC").
			Limit(q.PageSize).
			Offset((q.Page - 1) * q.PageSize)
	})
}

func inResource(resource string) repository.SelectCriteria {
	return func(sel *bun.SelectQuery) *bun.SelectQuery {
		return sel.Where("resource = ?", resource)
	}
}

func byKey(resource, id string) repository.SelectCriteria {
	return func(sel *bun.SelectQuery) *bun.SelectQuery {
		return sel.Where("resource = ?", resource).Where("id = ?", id)
	}
}

// recordID maps the composite (resource, id) key onto the uuid the
// repository handlers identify records by.
func recordID(r *Record) uuid.UUID {
	if r == nil || r.ID == "" {
		return uuid.Nil
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.Resource+"/"+r.ID))
}

// NewRecordRepository returns the repository of stored resource items.
// Records carry their own ids, assigned by the API before insertion.
func NewRecordRepository(db *bun.DB) repository.Repository[*Record] {
	return repository.NewRepository[*Record](db, repository.ModelHandlers[*Record]{
		NewRecord: func() *Record {
			return &Record{}
		},
		GetID: recordID,
		SetID: func(*Record, uuid.UUID) {},
		GetIdentifier: func() string {
			return "id"
		},
	})
}

type repo struct {
	records repository.Repository[*Record]
	now     func() time.Time
}

func (r *repo) list(ctx context.Context, q ListQuery) ([]*Record, int, error) {
	records, total, err := r.records.List(ctx, q.Criteria()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", q.Resource, err)
	}
	return records, total, nil
}

func (r *repo) get(ctx context.Context, resource, id string) (*Record, error) {
	records, _, err := r.records.List(ctx, byKey(resource, id), func(sel *bun.SelectQuery) *bun.SelectQuery {
		return sel.Limit(1)
	})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", resource, id, err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

func (r *repo) exists(ctx context.Context, resource, id string) (bool, error) {
	n, err := r.records.Count(ctx, byKey(resource, id))
	if err != nil {
		return false, fmt.Errorf("count %s/%s: %w", resource, id, err)
	}
	return n > 0, nil
}

func (r *repo) insert(ctx context.Context, resource, id string, obj map[string]any) (*Record, error) {
	found, err := r.exists(ctx, resource, id)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, ErrDuplicate
	}

	now := r.now()
	rec := &Record{Resource: resource, ID: id, CreatedAt: now, UpdatedAt: now}
	if err := rec.setObject(obj); err != nil {
		return nil, err
	}

	created, err := r.records.Create(ctx, rec)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert %s/%s: %w", resource, id, err)
	}
	return created, nil
}

// update rewrites rec from obj. rec must have been read from the store.
func (r *repo) update(ctx context.Context, rec *Record, obj map[string]any) error {
	if err := rec.setObject(obj); err != nil {
		return err
	}
	rec.UpdatedAt = r.now()

	_, err := r.records.Update(ctx, rec, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Column("status", "search", "data", "updated_at").
			Where("resource = ?", rec.Resource).
			Where("id = ?", rec.ID)
	})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", rec.Resource, rec.ID, err)
	}
	return nil
}

func (r *repo) delete(ctx context.Context, resource, id string) error {
	found, err := r.exists(ctx, resource, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	err = r.records.DeleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("resource = ?", resource).Where("id = ?", id)
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", resource, id, err)
	}
	return nil
}
