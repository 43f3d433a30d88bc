package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/dbx"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func (s *Store) Create(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	t, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}
	stamped := storage.Stamp(rec, s.now())
	if err := s.insert(ctx, t, stamped); err != nil {
		return nil, err
	}
	return stamped, nil
}

func (s *Store) insert(ctx context.Context, table string, rec storage.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", common.ErrValidation, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)`, table)
	_, err = s.db.ExecContext(ctx, query, rec.ID(), string(data),
		rec.String(storage.FieldCreatedAt), rec.String(storage.FieldUpdatedAt))
	if err != nil {
		return mapError("insert into "+table, err)
	}
	return nil
}

// Replace upserts rec verbatim, keeping its timestamps.
func (s *Store) Replace(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	t, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}
	if rec.ID() == "" {
		return nil, fmt.Errorf("%w: record without id", common.ErrValidation)
	}
	stamped := storage.Stamp(rec, s.now())
	if err := s.upsert(ctx, t, stamped); err != nil {
		return nil, err
	}
	return stamped, nil
}

func (s *Store) upsert(ctx context.Context, table string, rec storage.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", common.ErrValidation, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`, table)
	_, err = s.db.ExecContext(ctx, query, rec.ID(), string(data),
		rec.String(storage.FieldCreatedAt), rec.String(storage.FieldUpdatedAt))
	if err != nil {
		return mapError("upsert into "+table, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, partial storage.Record) (storage.Record, error) {
	t, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}

	var out storage.Record
	err = s.atomic(ctx, func(ctx context.Context, tx *Store) error {
		out, err = tx.update(ctx, collection, t, id, partial)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) update(ctx context.Context, collection, table, id string, partial storage.Record) (storage.Record, error) {
	cur, err := s.get(ctx, collection, table, id)
	if err != nil {
		return nil, err
	}
	merged := storage.Touch(storage.Merge(cur, partial), s.now())
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: encode record: %v", common.ErrValidation, err)
	}
	query := fmt.Sprintf(`UPDATE %s SET data = ?, updated_at = ? WHERE id = ?`, table)
	res, err := s.db.ExecContext(ctx, query, string(data), merged.String(storage.FieldUpdatedAt), id)
	if err != nil {
		return nil, mapError("update "+table, err)
	}
	if err := dbx.ExpectRows(res, notFound(collection, id)); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	t, err := s.table(ctx, collection)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t), id)
	if err != nil {
		return mapError("delete from "+t, err)
	}
	return dbx.ExpectRows(res, notFound(collection, id))
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (storage.Record, error) {
	t, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, collection, t, id)
}

func (s *Store) get(ctx context.Context, collection, table, id string) (storage.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, table), id).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(collection, id)
		}
		return nil, mapError("select from "+table, err)
	}
	return decode(data)
}

func decode(data string) (storage.Record, error) {
	var rec storage.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, common.NewStorageError("decode record", err)
	}
	return rec, nil
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]storage.Record, error) {
	return s.Query(ctx, collection, nil)
}

func (s *Store) Query(ctx context.Context, collection string, pred storage.Predicate) ([]storage.Record, error) {
	t, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}
	return s.selectAll(ctx, t, pred)
}

func (s *Store) selectAll(ctx context.Context, table string, pred storage.Predicate) ([]storage.Record, error) {
	// created_at is stored as text; order by instant after decoding
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %s`, table))
	if err != nil {
		return nil, mapError("select from "+table, err)
	}
	defer rows.Close()

	out := []storage.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	storage.SortByCreated(out)
	return out, nil
}

func (s *Store) QueryByField(ctx context.Context, collection, field string, value any) ([]storage.Record, error) {
	return s.Query(ctx, collection, storage.FieldEquals(field, value))
}

// BulkCreate is best-effort: items that cannot be stored (nil items,
// duplicate ids) are skipped and logged. The stored items are returned.
func (s *Store) BulkCreate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	t, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}

	out := make([]storage.Record, 0, len(recs))
	err = s.atomic(ctx, func(ctx context.Context, tx *Store) error {
		for i, r := range recs {
			if r == nil {
				tx.log.Warn(ctx, "bulk create: skipping empty item", "collection", collection, "index", i)
				continue
			}
			stamped := storage.Stamp(r, tx.now())
			if err := tx.insert(ctx, t, stamped); err != nil {
				if errors.Is(err, common.ErrConstraintViolation) || errors.Is(err, common.ErrValidation) {
					tx.log.Warn(ctx, "bulk create: skipping item", "collection", collection, "id", stamped.ID(), "error", err)
					continue
				}
				return err
			}
			out = append(out, stamped)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkUpdate is best-effort: items without a well-formed id or whose
// record does not exist are skipped and logged.
func (s *Store) BulkUpdate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	t, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}

	out := make([]storage.Record, 0, len(recs))
	err = s.atomic(ctx, func(ctx context.Context, tx *Store) error {
		for i, r := range recs {
			id := r.ID()
			if !storage.IsID(id) {
				tx.log.Warn(ctx, "bulk update: skipping item with invalid id", "collection", collection, "index", i, "id", id)
				continue
			}
			upd, err := tx.update(ctx, collection, t, id, r)
			if err != nil {
				if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrValidation) {
					tx.log.Warn(ctx, "bulk update: skipping item", "collection", collection, "id", id, "error", err)
					continue
				}
				return err
			}
			out = append(out, upd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkDelete removes the listed ids; absent ids are ignored.
func (s *Store) BulkDelete(ctx context.Context, collection string, ids []string) error {
	t, err := s.table(ctx, collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, t, placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError("bulk delete from "+t, err)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, collection, id string) (int64, error) {
	r, err := s.GetByID(ctx, collection, id)
	if err != nil {
		return 0, err
	}
	return storage.Version(r), nil
}

func (s *Store) Clear(ctx context.Context, collection string) error {
	t, err := s.table(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, t)); err != nil {
		return mapError("clear "+t, err)
	}
	return nil
}

// ClearAll empties every collection table.
func (s *Store) ClearAll(ctx context.Context) error {
	if !s.initialized() {
		return common.ErrNotInitialized
	}
	tables, err := s.listTables(ctx)
	if err != nil {
		return err
	}
	return s.atomic(ctx, func(ctx context.Context, tx *Store) error {
		for _, t := range tables {
			if _, err := tx.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, t)); err != nil {
				return mapError("clear "+t, err)
			}
		}
		return nil
	})
}

// ExportAll returns every non-empty collection keyed by its logical name.
func (s *Store) ExportAll(ctx context.Context) (storage.Snapshot, error) {
	if !s.initialized() {
		return nil, common.ErrNotInitialized
	}
	tables, err := s.listTables(ctx)
	if err != nil {
		return nil, err
	}
	snap := storage.Snapshot{}
	for _, t := range tables {
		recs, err := s.selectAll(ctx, t, nil)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			snap[schema.Logical(t)] = recs
		}
	}
	return snap, nil
}

// ImportAll upserts every record verbatim in a single transaction,
// referenced collections first.
func (s *Store) ImportAll(ctx context.Context, snap storage.Snapshot) (storage.ImportReport, error) {
	report := storage.NewImportReport()
	if !s.initialized() {
		return report, common.ErrNotInitialized
	}

	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}

	err := s.atomic(ctx, func(ctx context.Context, tx *Store) error {
		for _, name := range schema.DependencyOrder(names) {
			for _, r := range snap[name] {
				if _, err := tx.Replace(ctx, name, r); err != nil {
					return fmt.Errorf("import %s: %w", name, err)
				}
				report.Written[name]++
			}
		}
		return nil
	})
	if err != nil {
		return storage.NewImportReport(), err
	}
	return report, nil
}

// mapError translates SQLite failures into the storage error taxonomy.
func mapError(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_NOTNULL, sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%s: %w: %v", op, common.ErrConstraintViolation, err)
		case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
			return fmt.Errorf("%s: %w: %v", op, common.ErrPermissionDenied, err)
		}
	}
	return common.NewStorageError(op, err)
}
