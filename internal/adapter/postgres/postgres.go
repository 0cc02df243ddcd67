// Package postgres implements the storage adapter contract on
// PostgreSQL. Each class maps to one table with an adapter-assigned
// text primary key and a single JSONB document column; compiled
// filters become parameterized JSON-path expressions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/schema"
)

// Adapter is the PostgreSQL storage adapter.
type Adapter struct {
	pool *pgxpool.Pool
	reg  *schema.Registry
}

var _ adapter.Adapter = (*Adapter)(nil)

// New connects a pool to the given connection string.
func New(ctx context.Context, connString string, reg *schema.Registry) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Adapter{pool: pool, reg: reg}, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) Close(context.Context) error {
	a.pool.Close()
	return nil
}

func tableName(class string) string {
	return fmt.Sprintf("%q", strings.ToLower(class))
}

func (a *Adapter) EnsureClass(ctx context.Context, class schema.Class) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data JSONB NOT NULL DEFAULT '{}')",
		tableName(class.Name))
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: ensure class %s: %w", class.Name, err)
	}
	return nil
}

func (a *Adapter) Count(ctx context.Context, p adapter.CountParams) (int64, error) {
	var args []any
	cond, err := buildFilter(p.Where, &args)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", tableName(p.Class), cond)
	var n int64
	if err := a.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", p.Class, err)
	}
	return n, nil
}

func (a *Adapter) GetObject(ctx context.Context, p adapter.GetParams) (map[string]any, error) {
	args := []any{p.ID}
	cond, err := buildFilter(p.Where, &args)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT id, data FROM %s WHERE id = $1 AND %s", tableName(p.Class), cond)

	var id string
	var raw []byte
	err = a.pool.QueryRow(ctx, query, args...).Scan(&id, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, adapter.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", p.Class, err)
	}
	return decodeRow(id, raw)
}

func (a *Adapter) GetObjects(ctx context.Context, p adapter.ListParams) ([]map[string]any, error) {
	var args []any
	cond, err := buildFilter(p.Where, &args)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT id, data FROM %s WHERE %s%s", tableName(p.Class), cond, orderClause(p.Order))
	if p.First > 0 {
		query += fmt.Sprintf(" LIMIT %d", p.First)
	}
	if p.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", p.Offset)
	}

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", p.Class, err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("postgres: list %s: %w", p.Class, err)
		}
		row, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (a *Adapter) CreateObject(ctx context.Context, p adapter.CreateParams) (string, error) {
	raw, err := json.Marshal(withoutID(p.Data))
	if err != nil {
		return "", fmt.Errorf("postgres: encode %s: %w", p.Class, err)
	}
	id := uuid.NewString()
	stmt := fmt.Sprintf("INSERT INTO %s (id, data) VALUES ($1, $2)", tableName(p.Class))
	if _, err := a.pool.Exec(ctx, stmt, id, raw); err != nil {
		return "", fmt.Errorf("postgres: create %s: %w", p.Class, err)
	}
	return id, nil
}

func (a *Adapter) CreateObjects(ctx context.Context, p adapter.CreateManyParams) ([]string, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: create batch %s: %w", p.Class, err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf("INSERT INTO %s (id, data) VALUES ($1, $2)", tableName(p.Class))
	ids := make([]string, len(p.Data))
	for i, data := range p.Data {
		raw, err := json.Marshal(withoutID(data))
		if err != nil {
			return nil, fmt.Errorf("postgres: encode %s: %w", p.Class, err)
		}
		ids[i] = uuid.NewString()
		if _, err := tx.Exec(ctx, stmt, ids[i], raw); err != nil {
			return nil, fmt.Errorf("postgres: create batch %s: %w", p.Class, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: create batch %s: %w", p.Class, err)
	}
	return ids, nil
}

func (a *Adapter) UpdateObject(ctx context.Context, p adapter.UpdateParams) (string, error) {
	raw, err := json.Marshal(withoutID(p.Data))
	if err != nil {
		return "", fmt.Errorf("postgres: encode %s: %w", p.Class, err)
	}
	args := []any{raw, p.ID}
	cond, err := buildFilter(p.Where, &args)
	if err != nil {
		return "", err
	}

	// || replaces the listed top-level keys and keeps explicit nulls,
	// unlike jsonb merge-patch.
	stmt := fmt.Sprintf("UPDATE %s SET data = data || $1::jsonb WHERE id = $2 AND %s RETURNING id",
		tableName(p.Class), cond)
	var id string
	err = a.pool.QueryRow(ctx, stmt, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", adapter.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: update %s: %w", p.Class, err)
	}
	return id, nil
}

func (a *Adapter) UpdateObjects(ctx context.Context, p adapter.UpdateManyParams) ([]string, error) {
	raw, err := json.Marshal(withoutID(p.Data))
	if err != nil {
		return nil, fmt.Errorf("postgres: encode %s: %w", p.Class, err)
	}
	args := []any{raw}
	cond, err := buildFilter(p.Where, &args)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET data = data || $1::jsonb WHERE %s RETURNING id", tableName(p.Class), cond)
	rows, err := a.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: update many %s: %w", p.Class, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: update many %s: %w", p.Class, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: update many %s: %w", p.Class, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *Adapter) DeleteObject(ctx context.Context, p adapter.DeleteParams) error {
	args := []any{p.ID}
	cond, err := buildFilter(p.Where, &args)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND %s", tableName(p.Class), cond)
	tag, err := a.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", p.Class, err)
	}
	if tag.RowsAffected() == 0 {
		return adapter.ErrNotFound
	}
	return nil
}

func (a *Adapter) DeleteObjects(ctx context.Context, p adapter.DeleteManyParams) error {
	var args []any
	cond, err := buildFilter(p.Where, &args)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", tableName(p.Class), cond)
	if _, err := a.pool.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("postgres: delete many %s: %w", p.Class, err)
	}
	return nil
}

func (a *Adapter) ClearDatabase(ctx context.Context) error {
	for _, class := range a.reg.Classes() {
		stmt := fmt.Sprintf("TRUNCATE TABLE %s", tableName(class.Name))
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			var pgErr interface{ SQLState() string }
			// 42P01: undefined table - class never migrated.
			if errors.As(err, &pgErr) && pgErr.SQLState() == "42P01" {
				continue
			}
			return fmt.Errorf("postgres: clear %s: %w", class.Name, err)
		}
	}
	return nil
}

func decodeRow(id string, raw []byte) (map[string]any, error) {
	row := map[string]any{}
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("postgres: decode row %s: %w", id, err)
	}
	row["id"] = id
	return row, nil
}

func withoutID(data map[string]any) map[string]any {
	if _, ok := data["id"]; !ok {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k != "id" {
			out[k] = v
		}
	}
	return out
}
