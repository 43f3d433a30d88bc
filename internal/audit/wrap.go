package audit

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/casestore/internal/storage"
)

// ActorFunc names the actor behind the mutations made with ctx.
type ActorFunc func(ctx context.Context) string

// StaticActor attributes every mutation to id.
func StaticActor(id string) ActorFunc {
	return func(context.Context) string { return id }
}

// Store is a storage decorator that audits every mutation it passes
// through. Reads and lifecycle calls go straight to the wrapped store.
type Store struct {
	storage.Storage
	logger *Logger
	actor  ActorFunc
	// buf collects entries inside a transaction; they are logged after
	// commit.
	buf *[]pending
}

type pending struct {
	collection, id string
	action         Action
	before, after  storage.Record
}

var _ storage.Storage = (*Store)(nil)

// Wrap decorates inner. Writes to the audit collection itself are not
// audited.
func Wrap(inner storage.Storage, logger *Logger, actor ActorFunc) *Store {
	if actor == nil {
		actor = StaticActor("")
	}
	return &Store{Storage: inner, logger: logger, actor: actor}
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() storage.Storage {
	return s.Storage
}

func (s *Store) record(ctx context.Context, collection, id string, action Action, before, after storage.Record) {
	if collection == Collection {
		return
	}
	if s.buf != nil {
		*s.buf = append(*s.buf, pending{collection, id, action, before, after})
		return
	}
	s.logger.Log(ctx, collection, id, action, s.actor(ctx), before, after)
}

// previous reads the current state of a record for the before image; a
// failed read leaves it empty.
func (s *Store) previous(ctx context.Context, collection, id string) storage.Record {
	if collection == Collection {
		return nil
	}
	rec, err := s.Storage.GetByID(ctx, collection, id)
	if err != nil {
		return nil
	}
	return rec
}

func (s *Store) Create(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	out, err := s.Storage.Create(ctx, collection, rec)
	if err != nil {
		return nil, err
	}
	s.record(ctx, collection, out.ID(), ActionCreate, nil, out)
	return out, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, partial storage.Record) (storage.Record, error) {
	before := s.previous(ctx, collection, id)
	out, err := s.Storage.Update(ctx, collection, id, partial)
	if err != nil {
		return nil, err
	}
	s.record(ctx, collection, id, ActionUpdate, before, out)
	return out, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	before := s.previous(ctx, collection, id)
	if err := s.Storage.Delete(ctx, collection, id); err != nil {
		return err
	}
	s.record(ctx, collection, id, ActionDelete, before, nil)
	return nil
}

func (s *Store) BulkCreate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	out, err := s.Storage.BulkCreate(ctx, collection, recs)
	for _, r := range out {
		s.record(ctx, collection, r.ID(), ActionCreate, nil, r)
	}
	return out, err
}

func (s *Store) BulkUpdate(ctx context.Context, collection string, recs []storage.Record) ([]storage.Record, error) {
	before := make(map[string]storage.Record, len(recs))
	for _, r := range recs {
		if id := r.ID(); id != "" {
			before[id] = s.previous(ctx, collection, id)
		}
	}
	out, err := s.Storage.BulkUpdate(ctx, collection, recs)
	for _, r := range out {
		s.record(ctx, collection, r.ID(), ActionUpdate, before[r.ID()], r)
	}
	return out, err
}

func (s *Store) BulkDelete(ctx context.Context, collection string, ids []string) error {
	before := make([]storage.Record, len(ids))
	for i, id := range ids {
		before[i] = s.previous(ctx, collection, id)
	}
	if err := s.Storage.BulkDelete(ctx, collection, ids); err != nil {
		return err
	}
	for i, id := range ids {
		if before[i] != nil {
			s.record(ctx, collection, id, ActionDelete, before[i], nil)
		}
	}
	return nil
}

// Transaction audits the mutations made through tx once the transaction
// has committed. A rolled back transaction leaves no entries.
func (s *Store) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx storage.Storage) error) error {
	if s.buf != nil {
		return s.Storage.Transaction(ctx, collections, func(ctx context.Context, tx storage.Storage) error {
			return fn(ctx, &Store{Storage: tx, logger: s.logger, actor: s.actor, buf: s.buf})
		})
	}

	var buf []pending
	err := s.Storage.Transaction(ctx, collections, func(ctx context.Context, tx storage.Storage) error {
		return fn(ctx, &Store{Storage: tx, logger: s.logger, actor: s.actor, buf: &buf})
	})
	if err != nil {
		return err
	}
	for _, p := range buf {
		s.logger.Log(ctx, p.collection, p.id, p.action, s.actor(ctx), p.before, p.after)
	}
	return nil
}

// Clear audits a delete for every record the collection held.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if collection == Collection {
		return s.Storage.Clear(ctx, collection)
	}
	before, err := s.Storage.GetAll(ctx, collection)
	if err != nil {
		before = nil
	}
	if err := s.Storage.Clear(ctx, collection); err != nil {
		return err
	}
	for _, r := range before {
		s.record(ctx, collection, r.ID(), ActionDelete, r, nil)
	}
	return nil
}

// ClearAll audits a delete for every record it wipes. The audit entries are
// written after the wipe, so they survive it.
func (s *Store) ClearAll(ctx context.Context) error {
	before := s.export(ctx)
	if err := s.Storage.ClearAll(ctx); err != nil {
		return err
	}
	for _, name := range sortedCollections(before) {
		for _, r := range before[name] {
			s.record(ctx, name, r.ID(), ActionDelete, r, nil)
		}
	}
	return nil
}

// ImportAll audits a create for every record the import added and an update
// for every existing record it changed. Records are found by comparing the
// store before and after, so a partially failed import is audited too.
func (s *Store) ImportAll(ctx context.Context, snap storage.Snapshot) (storage.ImportReport, error) {
	before := s.export(ctx)
	report, err := s.Storage.ImportAll(ctx, snap)
	if before == nil {
		return report, err
	}
	after := s.export(ctx)
	for _, name := range sortedCollections(after) {
		prev := make(map[string]storage.Record, len(before[name]))
		for _, r := range before[name] {
			prev[r.ID()] = r
		}
		for _, r := range after[name] {
			old, ok := prev[r.ID()]
			switch {
			case !ok:
				s.record(ctx, name, r.ID(), ActionCreate, nil, r)
			case len(Diff(old, r)) > 0:
				s.record(ctx, name, r.ID(), ActionUpdate, old, r)
			}
		}
	}
	return report, err
}

// export reads every collection but the audit log; nil when the read fails.
func (s *Store) export(ctx context.Context) storage.Snapshot {
	snap, err := s.Storage.ExportAll(ctx)
	if err != nil {
		return nil
	}
	delete(snap, Collection)
	return snap
}

func sortedCollections(snap storage.Snapshot) []string {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
