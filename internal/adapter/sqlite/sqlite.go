// Package sqlite implements the storage adapter contract on SQLite.
//
// Each class maps to one table holding an adapter-assigned id plus a
// single JSON document column; filters compile to json_extract and
// json_each expressions. The database runs in WAL mode with a single
// writer connection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

// Adapter is the SQLite storage adapter.
type Adapter struct {
	db  *sql.DB
	reg *schema.Registry
}

var _ adapter.Adapter = (*Adapter)(nil)

// Open creates or opens a SQLite database at the given path (":memory:"
// works) and applies the required pragmas. Safe to call repeatedly on
// the same path.
func Open(path string, reg *schema.Registry) (*Adapter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return &Adapter{db: db, reg: reg}, nil
}

// Connect verifies the connection. Open already established it.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the database.
func (a *Adapter) Close(context.Context) error {
	return a.db.Close()
}

func tableName(class string) string {
	return fmt.Sprintf("%q", strings.ToLower(class))
}

// EnsureClass creates the class table when absent. Idempotent.
func (a *Adapter) EnsureClass(ctx context.Context, class schema.Class) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT NOT NULL DEFAULT '{}')",
		tableName(class.Name))
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure class %s: %w", class.Name, err)
	}
	return nil
}

func (a *Adapter) class(name string) (schema.Class, error) {
	return a.reg.Class(name)
}

// Count counts rows matching a compiled filter.
func (a *Adapter) Count(ctx context.Context, p adapter.CountParams) (int64, error) {
	class, err := a.class(p.Class)
	if err != nil {
		return 0, err
	}
	cond, args, err := buildFilter(class, p.Where)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", tableName(class.Name), cond)
	var n int64
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", class.Name, err)
	}
	return n, nil
}

// GetObject fetches one row by id plus filter.
func (a *Adapter) GetObject(ctx context.Context, p adapter.GetParams) (map[string]any, error) {
	class, err := a.class(p.Class)
	if err != nil {
		return nil, err
	}
	cond, args, err := buildFilter(class, p.Where)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT id, data FROM %s WHERE id = ? AND %s", tableName(class.Name), cond)
	args = append([]any{p.ID}, args...)

	var id, raw string
	err = a.db.QueryRowContext(ctx, query, args...).Scan(&id, &raw)
	if err == sql.ErrNoRows {
		return nil, adapter.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", class.Name, err)
	}
	return decodeRow(id, raw)
}

// GetObjects fetches rows matching a compiled filter, honoring order
// and pagination.
func (a *Adapter) GetObjects(ctx context.Context, p adapter.ListParams) ([]map[string]any, error) {
	class, err := a.class(p.Class)
	if err != nil {
		return nil, err
	}
	cond, args, err := buildFilter(class, p.Where)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT id, data FROM %s WHERE %s%s", tableName(class.Name), cond, orderClause(p.Order))
	if p.First > 0 || p.Offset > 0 {
		limit := p.First
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, p.Offset)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", class.Name, err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("list %s: %w", class.Name, err)
		}
		row, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CreateObject inserts one row with a fresh id.
func (a *Adapter) CreateObject(ctx context.Context, p adapter.CreateParams) (string, error) {
	class, err := a.class(p.Class)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(withoutID(p.Data))
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", class.Name, err)
	}
	id := uuid.NewString()
	stmt := fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?)", tableName(class.Name))
	if _, err := a.db.ExecContext(ctx, stmt, id, string(raw)); err != nil {
		return "", fmt.Errorf("create %s: %w", class.Name, err)
	}
	return id, nil
}

// CreateObjects inserts a batch inside one transaction; returned ids
// align with the input payloads.
func (a *Adapter) CreateObjects(ctx context.Context, p adapter.CreateManyParams) ([]string, error) {
	class, err := a.class(p.Class)
	if err != nil {
		return nil, err
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create batch %s: %w", class.Name, err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?)", tableName(class.Name))
	ids := make([]string, len(p.Data))
	for i, data := range p.Data {
		raw, err := json.Marshal(withoutID(data))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", class.Name, err)
		}
		ids[i] = uuid.NewString()
		if _, err := tx.ExecContext(ctx, stmt, ids[i], string(raw)); err != nil {
			return nil, fmt.Errorf("create batch %s: %w", class.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create batch %s: %w", class.Name, err)
	}
	return ids, nil
}

// UpdateObject sets the given top-level fields of one row.
func (a *Adapter) UpdateObject(ctx context.Context, p adapter.UpdateParams) (string, error) {
	class, err := a.class(p.Class)
	if err != nil {
		return "", err
	}
	cond, condArgs, err := buildFilter(class, p.Where)
	if err != nil {
		return "", err
	}
	setExpr, setArgs, err := buildSet(p.Data)
	if err != nil {
		return "", err
	}

	stmt := fmt.Sprintf("UPDATE %s SET data = %s WHERE id = ? AND %s", tableName(class.Name), setExpr, cond)
	args := append(setArgs, p.ID)
	args = append(args, condArgs...)
	res, err := a.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", class.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", adapter.ErrNotFound
	}
	return p.ID, nil
}

// UpdateObjects applies one change set to every row matching the
// filter and returns the touched ids in id order.
func (a *Adapter) UpdateObjects(ctx context.Context, p adapter.UpdateManyParams) ([]string, error) {
	class, err := a.class(p.Class)
	if err != nil {
		return nil, err
	}
	cond, condArgs, err := buildFilter(class, p.Where)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT id FROM %s WHERE %s ORDER BY id ASC", tableName(class.Name), cond)
	rows, err := a.db.QueryContext(ctx, query, condArgs...)
	if err != nil {
		return nil, fmt.Errorf("update many %s: %w", class.Name, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("update many %s: %w", class.Name, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("update many %s: %w", class.Name, err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	setExpr, setArgs, err := buildSet(p.Data)
	if err != nil {
		return nil, err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	stmt := fmt.Sprintf("UPDATE %s SET data = %s WHERE id IN (%s)", tableName(class.Name), setExpr, placeholders)
	args := setArgs
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := a.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("update many %s: %w", class.Name, err)
	}
	return ids, nil
}

// DeleteObject deletes one row by id plus filter.
func (a *Adapter) DeleteObject(ctx context.Context, p adapter.DeleteParams) error {
	class, err := a.class(p.Class)
	if err != nil {
		return err
	}
	cond, args, err := buildFilter(class, p.Where)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND %s", tableName(class.Name), cond)
	res, err := a.db.ExecContext(ctx, stmt, append([]any{p.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", class.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return adapter.ErrNotFound
	}
	return nil
}

// DeleteObjects deletes every row matching the filter.
func (a *Adapter) DeleteObjects(ctx context.Context, p adapter.DeleteManyParams) error {
	class, err := a.class(p.Class)
	if err != nil {
		return err
	}
	cond, args, err := buildFilter(class, p.Where)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", tableName(class.Name), cond)
	if _, err := a.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("delete many %s: %w", class.Name, err)
	}
	return nil
}

// ClearDatabase empties every class table.
func (a *Adapter) ClearDatabase(ctx context.Context) error {
	for _, class := range a.reg.Classes() {
		stmt := fmt.Sprintf("DELETE FROM %s", tableName(class.Name))
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			// Table may not exist yet when EnsureClass never ran.
			if strings.Contains(err.Error(), "no such table") {
				continue
			}
			return fmt.Errorf("clear %s: %w", class.Name, err)
		}
	}
	return nil
}

func decodeRow(id, raw string) (map[string]any, error) {
	row := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, fmt.Errorf("decode row %s: %w", id, err)
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

func orderClause(order []where.Order) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		dir := "ASC"
		if o.Direction == where.Desc {
			dir = "DESC"
		}
		if o.Field == "id" {
			parts[i] = "id " + dir
		} else {
			parts[i] = fmt.Sprintf("json_extract(data, %s) %s", quotePath(o.Field), dir)
		}
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}
