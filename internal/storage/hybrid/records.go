package hybrid

import (
	"context"

	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/syncqueue"
)

func (s *Store) Create(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	out, err := s.local.Create(ctx, collection, rec)
	if err != nil {
		return nil, err
	}
	s.track(ctx, collection, out.ID(), syncqueue.OpCreate, out, syncqueue.PriorityMedium)
	return out, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, partial storage.Record) (storage.Record, error) {
	out, err := s.local.Update(ctx, collection, id, partial)
	if err != nil {
		return nil, err
	}
	s.track(ctx, collection, id, syncqueue.OpUpdate, out, syncqueue.PriorityMedium)
	return out, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.local.Delete(ctx, collection, id); err != nil {
		return err
	}
	s.track(ctx, collection, id, syncqueue.OpDelete, nil, syncqueue.PriorityMedium)
	return nil
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (storage.Record, error) {
	return s.local.GetByID(ctx, collection, id)
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]storage.Record, error) {
	return s.local.GetAll(ctx, collection)
}

func (s *Store) Query(ctx context.Context, collection string, pred storage.Predicate) ([]storage.Record, error) {
	return s.local.Query(ctx, collection, pred)
}

func (s *Store) QueryByField(ctx context.Context, collection, field string, value any) ([]storage.Record, error) {
	return s.local.QueryByField(ctx, collection, field, value)
}

func (s *Store) BulkCreate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	out, err := s.local.BulkCreate(ctx, collection, recs)
	for _, r := range out {
		s.track(ctx, collection, r.ID(), syncqueue.OpCreate, r, syncqueue.PriorityMedium)
	}
	return out, err
}

func (s *Store) BulkUpdate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	out, err := s.local.BulkUpdate(ctx, collection, recs)
	for _, r := range out {
		s.track(ctx, collection, r.ID(), syncqueue.OpUpdate, r, syncqueue.PriorityMedium)
	}
	return out, err
}

func (s *Store) BulkDelete(ctx context.Context, collection string, ids []string) error {
	if err := s.local.BulkDelete(ctx, collection, ids); err != nil {
		return err
	}
	for _, id := range ids {
		s.track(ctx, collection, id, syncqueue.OpDelete, nil, syncqueue.PriorityMedium)
	}
	return nil
}

// Transaction runs fn in a local transaction. Mutations made through tx
// are queued only once the transaction commits.
func (s *Store) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx storage.Storage) error) error {
	var log []change
	err := s.local.Transaction(ctx, collections, func(ctx context.Context, tx storage.Storage) error {
		return fn(ctx, &recorder{Storage: tx, log: &log})
	})
	if err != nil {
		return err
	}
	for _, c := range log {
		s.track(ctx, c.collection, c.id, c.op, c.payload, syncqueue.PriorityMedium)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, collection, id string) (int64, error) {
	return s.local.GetVersion(ctx, collection, id)
}

// Clear empties the local collection and queues a delete per record.
func (s *Store) Clear(ctx context.Context, collection string) error {
	recs, err := s.local.GetAll(ctx, collection)
	if err != nil {
		return err
	}
	if err := s.local.Clear(ctx, collection); err != nil {
		return err
	}
	for _, r := range recs {
		s.track(ctx, collection, r.ID(), syncqueue.OpDelete, nil, syncqueue.PriorityMedium)
	}
	return nil
}

// ClearAll wipes the local store only; wiping the shared store is not
// allowed.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.local.ClearAll(ctx)
}

func (s *Store) ExportAll(ctx context.Context) (storage.Snapshot, error) {
	return s.local.ExportAll(ctx)
}

// ImportAll imports into the local store and queues every imported record
// at low priority.
func (s *Store) ImportAll(ctx context.Context, snap storage.Snapshot) (storage.ImportReport, error) {
	report, err := s.local.ImportAll(ctx, snap)
	if err != nil {
		return report, err
	}
	for collection, recs := range snap {
		for _, r := range recs {
			id := r.ID()
			if id == "" {
				continue
			}
			stored, err := s.local.GetByID(ctx, collection, id)
			if err != nil {
				continue
			}
			s.track(ctx, collection, id, syncqueue.OpCreate, stored, syncqueue.PriorityLow)
		}
	}
	return report, nil
}

type change struct {
	collection string
	id         string
	op         syncqueue.Operation
	payload    storage.Record
}

// recorder is the transactional view handed to Transaction callbacks; it
// notes every successful mutation.
type recorder struct {
	storage.Storage
	log *[]change
}

func (r *recorder) note(collection, id string, op syncqueue.Operation, payload storage.Record) {
	*r.log = append(*r.log, change{collection: collection, id: id, op: op, payload: payload})
}

func (r *recorder) Create(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	out, err := r.Storage.Create(ctx, collection, rec)
	if err == nil {
		r.note(collection, out.ID(), syncqueue.OpCreate, out)
	}
	return out, err
}

func (r *recorder) Update(ctx context.Context, collection, id string, partial storage.Record) (storage.Record, error) {
	out, err := r.Storage.Update(ctx, collection, id, partial)
	if err == nil {
		r.note(collection, id, syncqueue.OpUpdate, out)
	}
	return out, err
}

func (r *recorder) Delete(ctx context.Context, collection, id string) error {
	err := r.Storage.Delete(ctx, collection, id)
	if err == nil {
		r.note(collection, id, syncqueue.OpDelete, nil)
	}
	return err
}

func (r *recorder) BulkCreate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	out, err := r.Storage.BulkCreate(ctx, collection, recs)
	for _, rec := range out {
		r.note(collection, rec.ID(), syncqueue.OpCreate, rec)
	}
	return out, err
}

func (r *recorder) BulkUpdate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	out, err := r.Storage.BulkUpdate(ctx, collection, recs)
	for _, rec := range out {
		r.note(collection, rec.ID(), syncqueue.OpUpdate, rec)
	}
	return out, err
}

func (r *recorder) BulkDelete(ctx context.Context, collection string, ids []string) error {
	err := r.Storage.BulkDelete(ctx, collection, ids)
	if err == nil {
		for _, id := range ids {
			r.note(collection, id, syncqueue.OpDelete, nil)
		}
	}
	return err
}

func (r *recorder) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx storage.Storage) error) error {
	return r.Storage.Transaction(ctx, collections, func(ctx context.Context, tx storage.Storage) error {
		return fn(ctx, &recorder{Storage: tx, log: r.log})
	})
}
