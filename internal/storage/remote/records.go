package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/dbx"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
	"github.com/dmitrijs2005/casestore/internal/timex"
)

// maxParams stays below the PostgreSQL limit of 65535 bind parameters.
const maxParams = 60000

func (s *Store) Create(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return nil, err
	}
	row, err := s.prepareRow(c, tenant, rec)
	if err != nil {
		return nil, err
	}

	query, args := insertStatement(c, []storage.Record{row}, false)
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return nil, mapError("insert into "+c.Table, err)
	}
	s.cache.invalidate(tenant, collection)
	return c.FromRow(compact(row)), nil
}

// prepareRow stamps rec and converts it into the native row of tenant.
func (s *Store) prepareRow(c *schema.Collection, tenant string, rec storage.Record) (storage.Record, error) {
	canon := c.Canonical(rec)
	if id := canon.ID(); id != "" && !storage.IsID(id) {
		return nil, fmt.Errorf("%w: %s: malformed id %q", common.ErrValidation, c.Name, id)
	}
	row, err := c.ToColumns(storage.Stamp(canon, s.now()), false)
	if err != nil {
		return nil, err
	}
	row[schema.TenantColumn] = tenant
	return row, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, partial storage.Record) (storage.Record, error) {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return nil, err
	}
	if !storage.IsID(id) {
		return nil, notFound(collection, id)
	}

	set, err := c.ToColumns(partial, true)
	if err != nil {
		return nil, err
	}
	delete(set, storage.FieldID)
	delete(set, storage.FieldCreatedAt)
	set[storage.FieldUpdatedAt] = timex.UTC(s.now())

	names := sortedColumns(set)
	assignments := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+2)
	for i, col := range names {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, encodeValue(c, col, set[col]))
	}
	args = append(args, id, tenant)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d AND tenant_id = $%d`,
		c.Table, strings.Join(assignments, ", "), len(names)+1, len(names)+2)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("update "+c.Table, err)
	}
	if err := dbx.ExpectRows(res, notFound(collection, id)); err != nil {
		return nil, err
	}
	s.cache.invalidate(tenant, collection)
	return s.GetByID(ctx, collection, id)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return err
	}
	if !storage.IsID(id) {
		return notFound(collection, id)
	}
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND tenant_id = $2`, c.Table), id, tenant)
	if err != nil {
		return mapError("delete from "+c.Table, err)
	}
	if err := dbx.ExpectRows(res, notFound(collection, id)); err != nil {
		return err
	}
	s.cache.invalidate(tenant, collection)
	return nil
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (storage.Record, error) {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return nil, err
	}
	if !storage.IsID(id) {
		return nil, notFound(collection, id)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND tenant_id = $2`, selectList(c), c.Table)
	recs, err := s.query(ctx, c, query, id, tenant)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound(collection, id)
	}
	return recs[0], nil
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]storage.Record, error) {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return nil, err
	}
	return s.cache.get(tenant, collection, "all", func() ([]storage.Record, error) {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 ORDER BY created_at, id`, selectList(c), c.Table)
		return s.query(ctx, c, query, tenant)
	})
}

// Query filters the cached collection read.
func (s *Store) Query(ctx context.Context, collection string, pred storage.Predicate) ([]storage.Record, error) {
	all, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return storage.Filter(all, pred), nil
}

func (s *Store) QueryByField(ctx context.Context, collection, field string, value any) ([]storage.Record, error) {
	c, ok := schema.Get(collection)
	if ok {
		field = c.FieldName(field)
	}
	return s.Query(ctx, collection, storage.FieldEquals(field, value))
}

// BulkCreate upserts recs, last occurrence winning on duplicate ids. Rows
// owned by another tenant are left untouched.
func (s *Store) BulkCreate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return []storage.Record{}, nil
	}

	index := map[string]int{}
	rows := make([]storage.Record, 0, len(recs))
	for _, rec := range recs {
		row, err := s.prepareRow(c, tenant, rec)
		if err != nil {
			return nil, err
		}
		if i, dup := index[row.ID()]; dup {
			rows[i] = row
			continue
		}
		index[row.ID()] = len(rows)
		rows = append(rows, row)
	}

	if err := s.upsertRows(ctx, c, rows); err != nil {
		return nil, err
	}
	s.cache.invalidate(tenant, collection)

	out := make([]storage.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, c.FromRow(compact(row)))
	}
	return out, nil
}

func (s *Store) upsertRows(ctx context.Context, c *schema.Collection, rows []storage.Record) error {
	width := len(c.Columns) + 1
	chunk := maxParams / width
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		query, args := insertStatement(c, rows[start:end], true)
		if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
			return mapError("upsert into "+c.Table, err)
		}
	}
	return nil
}

// BulkUpdate applies the updates one by one and stops at the first
// failure; earlier updates stay applied.
func (s *Store) BulkUpdate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	if _, _, err := s.scope(collection); err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, len(recs))
	for i, rec := range recs {
		id := rec.ID()
		if id == "" {
			return out, fmt.Errorf("%w: bulk update item %d has no id", common.ErrValidation, i)
		}
		updated, err := s.Update(ctx, collection, id, rec)
		if err != nil {
			return out, err
		}
		out = append(out, updated)
	}
	return out, nil
}

func (s *Store) BulkDelete(ctx context.Context, collection string, ids []string) error {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return err
	}

	args := []any{tenant}
	for _, id := range ids {
		if storage.IsID(id) {
			args = append(args, id)
		}
	}
	if len(args) == 1 {
		return nil
	}
	marks := make([]string, 0, len(args)-1)
	for i := 2; i <= len(args); i++ {
		marks = append(marks, fmt.Sprintf("$%d", i))
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND id IN (%s)`, c.Table, strings.Join(marks, ", "))
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return mapError("bulk delete from "+c.Table, err)
	}
	s.cache.invalidate(tenant, collection)
	return nil
}

// Transaction runs fn sequentially against the store. The shared store
// offers no multi-statement atomicity to clients; the listed collections
// (all of them when none are listed) are invalidated in the cache once fn
// returns.
func (s *Store) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx storage.Storage) error) error {
	tenant, err := s.tenant()
	if err != nil {
		return err
	}
	defer func() {
		if len(collections) == 0 {
			s.cache.flush()
			return
		}
		for _, c := range collections {
			s.cache.invalidate(tenant, c)
		}
	}()
	return fn(ctx, s)
}

func (s *Store) GetVersion(ctx context.Context, collection, id string) (int64, error) {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return 0, err
	}
	if !storage.IsID(id) {
		return 0, notFound(collection, id)
	}
	var v int64
	err = s.q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT version FROM %s WHERE id = $1 AND tenant_id = $2`, c.Table), id, tenant).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound(collection, id)
	}
	if err != nil {
		return 0, mapError("get version", err)
	}
	return v, nil
}

// Clear deletes the collection rows of the current tenant.
func (s *Store) Clear(ctx context.Context, collection string) error {
	tenant, c, err := s.scope(collection)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1`, c.Table), tenant); err != nil {
		return mapError("clear "+c.Table, err)
	}
	s.cache.invalidate(tenant, collection)
	return nil
}

// ClearAll is refused on the shared store.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.tenant(); err != nil {
		return err
	}
	return fmt.Errorf("clear all on shared store: %w", common.ErrDestructiveOperationDisallowed)
}

func (s *Store) query(ctx context.Context, c *schema.Collection, query string, args ...any) ([]storage.Record, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("select from "+c.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, mapError("select from "+c.Table, err)
	}

	out := []storage.Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, mapError("scan "+c.Table, err)
		}
		rec := storage.Record{}
		for i, col := range cols {
			if v := decodeValue(c, col, vals[i]); v != nil {
				rec[col] = v
			}
		}
		out = append(out, c.FromRow(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("select from "+c.Table, err)
	}
	return out, nil
}

// insertStatement builds a multi-row INSERT; columns missing from a row get
// their default. With upsert, existing rows of the same tenant are
// overwritten.
func insertStatement(c *schema.Collection, rows []storage.Record, upsert bool) (string, []any) {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for col := range row {
			seen[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(rows)*len(cols))
	tuples := make([]string, 0, len(rows))
	for _, row := range rows {
		marks := make([]string, 0, len(cols))
		for _, col := range cols {
			v, ok := row[col]
			if !ok {
				marks = append(marks, "DEFAULT")
				continue
			}
			args = append(args, encodeValue(c, col, v))
			marks = append(marks, fmt.Sprintf("$%d", len(args)))
		}
		tuples = append(tuples, "("+strings.Join(marks, ", ")+")")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s AS t (%s) VALUES %s", c.Table, strings.Join(cols, ", "), strings.Join(tuples, ", "))
	if upsert {
		sets := make([]string, 0, len(cols))
		for _, col := range cols {
			if col == storage.FieldID || col == schema.TenantColumn {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
		fmt.Fprintf(&b, " ON CONFLICT (id) DO UPDATE SET %s WHERE t.tenant_id = EXCLUDED.tenant_id", strings.Join(sets, ", "))
	}
	return b.String(), args
}

func selectList(c *schema.Collection) string {
	return strings.Join(c.Columns, ", ")
}

func sortedColumns(rec storage.Record) []string {
	out := make([]string, 0, len(rec))
	for k := range rec {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// encodeValue prepares a value for a bind parameter.
func encodeValue(c *schema.Collection, col string, v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, time.Time:
		if !c.IsJSON(col) {
			return v
		}
	}
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// decodeValue converts a scanned value to its record representation.
func decodeValue(c *schema.Collection, col string, v any) any {
	switch x := v.(type) {
	case time.Time:
		return timex.UTC(x)
	case []byte:
		return decodeText(c, col, string(x))
	case string:
		return decodeText(c, col, x)
	}
	return v
}

func decodeText(c *schema.Collection, col, s string) any {
	if c.IsJSON(col) {
		var out any
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
	}
	return s
}

// compact drops null fields and the tenant column.
func compact(rec storage.Record) storage.Record {
	out := make(storage.Record, len(rec))
	for k, v := range rec {
		if v == nil || k == schema.TenantColumn {
			continue
		}
		out[k] = v
	}
	return out
}
