package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
)

// Instrumented counts and times every data operation of a backend.
type Instrumented struct {
	storage.Storage
	backend string
	m       *StorageMetrics
}

var _ storage.Storage = (*Instrumented)(nil)

// Instrument decorates s, labelling its metrics with backend.
func (m *StorageMetrics) Instrument(backend string, s storage.Storage) *Instrumented {
	return &Instrumented{Storage: s, backend: backend, m: m}
}

func (i *Instrumented) Unwrap() storage.Storage {
	return i.Storage
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.m.duration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
	i.m.operations.WithLabelValues(i.backend, op, result(err)).Inc()
}

// result labels err by its taxonomy class.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	case errors.Is(err, common.ErrValidation):
		return "validation"
	case errors.Is(err, common.ErrConstraintViolation):
		return "constraint"
	case errors.Is(err, common.ErrNotAuthenticated), errors.Is(err, common.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, common.ErrNotInitialized):
		return "not_initialized"
	default:
		return "error"
	}
}

func (i *Instrumented) Create(ctx context.Context, collection string, rec storage.Record) (out storage.Record, err error) {
	defer func(start time.Time) { i.observe("create", start, err) }(time.Now())
	return i.Storage.Create(ctx, collection, rec)
}

func (i *Instrumented) Update(ctx context.Context, collection, id string, partial storage.Record) (out storage.Record, err error) {
	defer func(start time.Time) { i.observe("update", start, err) }(time.Now())
	return i.Storage.Update(ctx, collection, id, partial)
}

func (i *Instrumented) Delete(ctx context.Context, collection, id string) (err error) {
	defer func(start time.Time) { i.observe("delete", start, err) }(time.Now())
	return i.Storage.Delete(ctx, collection, id)
}

func (i *Instrumented) GetByID(ctx context.Context, collection, id string) (out storage.Record, err error) {
	defer func(start time.Time) { i.observe("get", start, err) }(time.Now())
	return i.Storage.GetByID(ctx, collection, id)
}

func (i *Instrumented) GetAll(ctx context.Context, collection string) (out []storage.Record, err error) {
	defer func(start time.Time) { i.observe("get_all", start, err) }(time.Now())
	return i.Storage.GetAll(ctx, collection)
}

func (i *Instrumented) Query(ctx context.Context, collection string, pred storage.Predicate) (out []storage.Record, err error) {
	defer func(start time.Time) { i.observe("query", start, err) }(time.Now())
	return i.Storage.Query(ctx, collection, pred)
}

func (i *Instrumented) QueryByField(ctx context.Context, collection, field string, value any) (out []storage.Record, err error) {
	defer func(start time.Time) { i.observe("query", start, err) }(time.Now())
	return i.Storage.QueryByField(ctx, collection, field, value)
}

func (i *Instrumented) BulkCreate(ctx context.Context, collection string, recs []storage.Record) (out []storage.Record, err error) {
	defer func(start time.Time) { i.observe("bulk_create", start, err) }(time.Now())
	return i.Storage.BulkCreate(ctx, collection, recs)
}

func (i *Instrumented) BulkUpdate(ctx context.Context, collection string, recs []storage.Record) (out []storage.Record, err error) {
	defer func(start time.Time) { i.observe("bulk_update", start, err) }(time.Now())
	return i.Storage.BulkUpdate(ctx, collection, recs)
}

func (i *Instrumented) BulkDelete(ctx context.Context, collection string, ids []string) (err error) {
	defer func(start time.Time) { i.observe("bulk_delete", start, err) }(time.Now())
	return i.Storage.BulkDelete(ctx, collection, ids)
}

func (i *Instrumented) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx storage.Storage) error) (err error) {
	defer func(start time.Time) { i.observe("transaction", start, err) }(time.Now())
	return i.Storage.Transaction(ctx, collections, fn)
}

func (i *Instrumented) Clear(ctx context.Context, collection string) (err error) {
	defer func(start time.Time) { i.observe("clear", start, err) }(time.Now())
	return i.Storage.Clear(ctx, collection)
}

func (i *Instrumented) ImportAll(ctx context.Context, snap storage.Snapshot) (report storage.ImportReport, err error) {
	defer func(start time.Time) { i.observe("import", start, err) }(time.Now())
	return i.Storage.ImportAll(ctx, snap)
}

func (i *Instrumented) ExportAll(ctx context.Context) (snap storage.Snapshot, err error) {
	defer func(start time.Time) { i.observe("export", start, err) }(time.Now())
	return i.Storage.ExportAll(ctx)
}
