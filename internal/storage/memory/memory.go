// Package memory implements the volatile backend: a table-of-tables held in
// process memory. Records are cloned on the way in and out, so callers never
// share state with the store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
)

type table map[string]storage.Record

// Store is the volatile backend.
type Store struct {
	storage.Versioning

	mu          sync.RWMutex
	txMu        sync.Mutex
	tables      map[string]table
	initialized bool
	now         func() time.Time
}

var (
	_ storage.Storage  = (*Store)(nil)
	_ storage.Replacer = (*Store)(nil)
)

func New() *Store {
	return &Store{tables: map[string]table{}, now: time.Now}
}

func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

// Destroy drops all data and returns the store to the uninitialized state.
func (s *Store) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = map[string]table{}
	s.initialized = false
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) storage.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return storage.HealthStatus{Healthy: false, Errors: []string{common.ErrNotInitialized.Error()}}
	}
	return storage.HealthStatus{Healthy: true}
}

// GetStorageInfo reports the JSON size of the held records as used bytes.
func (s *Store) GetStorageInfo(ctx context.Context) (storage.StorageInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return storage.StorageInfo{}, common.ErrNotInitialized
	}
	var used uint64
	for _, t := range s.tables {
		for _, r := range t {
			b, err := json.Marshal(r)
			if err == nil {
				used += uint64(len(b))
			}
		}
	}
	return storage.StorageInfo{Used: used}, nil
}

func (s *Store) ready(collection string) error {
	if !s.initialized {
		return common.ErrNotInitialized
	}
	return storage.ValidateCollection(collection)
}

func (s *Store) tableFor(collection string) table {
	t, ok := s.tables[collection]
	if !ok {
		t = table{}
		s.tables[collection] = t
	}
	return t
}

func (s *Store) Create(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(collection); err != nil {
		return nil, err
	}
	return s.create(collection, rec), nil
}

func (s *Store) create(collection string, rec storage.Record) storage.Record {
	stamped := storage.Stamp(rec, s.now())
	s.tableFor(collection)[stamped.ID()] = stamped
	return stamped.Clone()
}

// Replace stores rec verbatim, keeping its timestamps.
func (s *Store) Replace(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(collection); err != nil {
		return nil, err
	}
	if rec.ID() == "" {
		return nil, fmt.Errorf("%w: record without id", common.ErrValidation)
	}
	return s.create(collection, rec), nil
}

func (s *Store) Update(ctx context.Context, collection, id string, partial storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(collection); err != nil {
		return nil, err
	}
	return s.update(collection, id, partial)
}

func (s *Store) update(collection, id string, partial storage.Record) (storage.Record, error) {
	t := s.tableFor(collection)
	cur, ok := t[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, common.ErrNotFound)
	}
	merged := storage.Touch(storage.Merge(cur, partial), s.now())
	t[id] = merged
	return merged.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(collection); err != nil {
		return err
	}
	t := s.tableFor(collection)
	if _, ok := t[id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, common.ErrNotFound)
	}
	delete(t, id)
	return nil
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(collection); err != nil {
		return nil, err
	}
	r, ok := s.tables[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, common.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]storage.Record, error) {
	return s.Query(ctx, collection, nil)
}

func (s *Store) Query(ctx context.Context, collection string, pred storage.Predicate) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(collection); err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, len(s.tables[collection]))
	for _, r := range s.tables[collection] {
		if pred == nil || pred(r) {
			out = append(out, r.Clone())
		}
	}
	storage.SortByCreated(out)
	return out, nil
}

func (s *Store) QueryByField(ctx context.Context, collection, field string, value any) ([]storage.Record, error) {
	return s.Query(ctx, collection, storage.FieldEquals(field, value))
}

// BulkCreate stores every item in order. An item whose id is already
// stored replaces that record.
func (s *Store) BulkCreate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(collection); err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, s.create(collection, r))
	}
	return out, nil
}

// BulkUpdate applies items in order and returns the first error together
// with the items applied before it.
func (s *Store) BulkUpdate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(collection); err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, len(recs))
	for _, r := range recs {
		id := r.ID()
		if id == "" {
			return out, fmt.Errorf("%w: bulk update item without id", common.ErrValidation)
		}
		upd, err := s.update(collection, id, r)
		if err != nil {
			return out, err
		}
		out = append(out, upd)
	}
	return out, nil
}

// BulkDelete removes the listed ids; absent ids are ignored.
func (s *Store) BulkDelete(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(collection); err != nil {
		return err
	}
	t := s.tableFor(collection)
	for _, id := range ids {
		delete(t, id)
	}
	return nil
}

// Transaction runs fn against the store. On error the listed collections
// (all collections when none are listed) are restored to their state before
// fn ran. Writers outside the transaction are not isolated from it.
func (s *Store) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx storage.Storage) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return common.ErrNotInitialized
	}
	saved := s.save(collections)
	s.mu.Unlock()

	if err := fn(ctx, txStore{s}); err != nil {
		s.mu.Lock()
		s.restore(saved, collections)
		s.mu.Unlock()
		return err
	}
	return nil
}

// txStore is the view handed to a transaction body; nested transactions join
// the outer one.
type txStore struct {
	*Store
}

func (t txStore) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx storage.Storage) error) error {
	return fn(ctx, t)
}

func (s *Store) save(collections []string) map[string]table {
	names := collections
	if len(names) == 0 {
		for n := range s.tables {
			names = append(names, n)
		}
	}
	saved := make(map[string]table, len(names))
	for _, n := range names {
		cp := table{}
		for id, r := range s.tables[n] {
			cp[id] = r.Clone()
		}
		saved[n] = cp
	}
	return saved
}

func (s *Store) restore(saved map[string]table, collections []string) {
	if len(collections) == 0 {
		s.tables = saved
		return
	}
	for n, t := range saved {
		s.tables[n] = t
	}
}

func (s *Store) GetVersion(ctx context.Context, collection, id string) (int64, error) {
	r, err := s.GetByID(ctx, collection, id)
	if err != nil {
		return 0, err
	}
	return storage.Version(r), nil
}

func (s *Store) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(collection); err != nil {
		return err
	}
	delete(s.tables, collection)
	return nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return common.ErrNotInitialized
	}
	s.tables = map[string]table{}
	return nil
}

func (s *Store) ExportAll(ctx context.Context) (storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, common.ErrNotInitialized
	}
	snap := storage.Snapshot{}
	for name, t := range s.tables {
		if len(t) == 0 {
			continue
		}
		recs := make([]storage.Record, 0, len(t))
		for _, r := range t {
			recs = append(recs, r.Clone())
		}
		storage.SortByCreated(recs)
		snap[name] = recs
	}
	return snap, nil
}

// ImportAll writes every record verbatim, referenced collections first.
// Records without an id get a fresh one.
func (s *Store) ImportAll(ctx context.Context, snap storage.Snapshot) (storage.ImportReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := storage.NewImportReport()
	if !s.initialized {
		return report, common.ErrNotInitialized
	}

	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	for _, name := range schema.DependencyOrder(names) {
		if err := storage.ValidateCollection(name); err != nil {
			return report, err
		}
		for _, r := range snap[name] {
			s.create(name, r)
			report.Written[name]++
		}
	}
	return report, nil
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
