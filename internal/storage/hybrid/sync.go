package hybrid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
	"github.com/dmitrijs2005/casestore/internal/syncqueue"
)

// Flush queues the current local state of every pending (collection, id)
// pair as an update; a pair whose local record is gone is queued as a
// delete. Updates are queued parents first and deletes children first, so
// the shared store's references hold at every step. It returns the number
// of queued entries.
func (s *Store) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	keys := make([]pendingKey, 0, len(s.pending))
	names := map[string]bool{}
	for k := range s.pending {
		keys = append(keys, k)
		names[k.collection] = true
	}
	s.pending = map[pendingKey]struct{}{}
	s.mu.Unlock()

	rank := dependencyRank(names)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].collection != keys[j].collection {
			return rank[keys[i].collection] < rank[keys[j].collection]
		}
		return keys[i].id < keys[j].id
	})

	var (
		errs             []error
		updates, deletes []syncqueue.Entry
	)
	for _, k := range keys {
		e := syncqueue.Entry{Collection: k.collection, ID: k.id, Priority: syncqueue.PriorityMedium}
		rec, err := s.local.GetByID(ctx, k.collection, k.id)
		switch {
		case errors.Is(err, common.ErrNotFound):
			e.Operation = syncqueue.OpDelete
			deletes = append(deletes, e)
		case err != nil:
			s.repend(k)
			errs = append(errs, err)
		default:
			e.Operation = syncqueue.OpUpdate
			e.Payload = rec
			updates = append(updates, e)
		}
	}
	slices.Reverse(deletes)

	queued := 0
	for _, e := range append(updates, deletes...) {
		if _, err := s.queue.Enqueue(ctx, e); err != nil {
			s.repend(pendingKey{e.Collection, e.ID})
			errs = append(errs, err)
			continue
		}
		queued++
	}

	if queued > 0 {
		s.proc.Nudge()
		s.log.Debug(ctx, "flushed pending changes", "queued", queued)
	}
	if err := errors.Join(errs...); err != nil {
		s.noteError(ctx, err)
		return queued, fmt.Errorf("flush: %w", err)
	}
	return queued, nil
}

func dependencyRank(names map[string]bool) map[string]int {
	list := make([]string, 0, len(names))
	for n := range names {
		list = append(list, n)
	}
	rank := map[string]int{}
	for i, n := range schema.DependencyOrder(list) {
		rank[n] = i
	}
	return rank
}

func (s *Store) repend(k pendingKey) {
	s.mu.Lock()
	s.pending[k] = struct{}{}
	s.mu.Unlock()
}

// SyncNow flushes pending changes and drains the queue to the shared store,
// reconnecting it first when it was unavailable.
func (s *Store) SyncNow(ctx context.Context) (syncqueue.DrainResult, error) {
	if _, err := s.Flush(ctx); err != nil {
		return syncqueue.DrainResult{}, err
	}

	s.mu.Lock()
	up := s.remoteUp
	s.mu.Unlock()
	if !up {
		err := s.remote.Initialize(ctx)
		s.mu.Lock()
		s.setRemoteLocked(err)
		s.mu.Unlock()
		if err != nil {
			return syncqueue.DrainResult{}, fmt.Errorf("remote unavailable: %w", err)
		}
		s.log.Info(ctx, "remote reconnected")
	}

	res, err := s.proc.Drain(ctx)
	if err != nil {
		s.noteError(ctx, err)
	}
	return res, err
}

// MergeReport counts what PullAndMerge did.
type MergeReport struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	KeptLocal int `json:"kept_local"`
}

// PullAndMerge reconciles one collection with the shared store: remote-only
// records are inserted locally and a record present on both sides is
// replaced only when the remote copy is strictly newer by updated_at. A
// record whose local delete has not been pushed yet stays deleted. No
// field-level merge is attempted and nothing is queued.
func (s *Store) PullAndMerge(ctx context.Context, collection string) (MergeReport, error) {
	var rep MergeReport
	remote, err := s.remote.GetAll(ctx, collection)
	if err != nil {
		return rep, fmt.Errorf("pull %s: %w", collection, err)
	}
	local, err := s.local.GetAll(ctx, collection)
	if err != nil {
		return rep, err
	}
	byID := make(map[string]storage.Record, len(local))
	for _, r := range local {
		byID[r.ID()] = r
	}
	deleted, err := s.locallyDeleted(ctx, collection, byID)
	if err != nil {
		return rep, err
	}

	for _, r := range remote {
		mine, ok := byID[r.ID()]
		if !ok && deleted[r.ID()] {
			rep.KeptLocal++
			continue
		}
		if ok && !r.Time(storage.FieldUpdatedAt).After(mine.Time(storage.FieldUpdatedAt)) {
			rep.KeptLocal++
			continue
		}
		if _, err := s.local.Replace(ctx, collection, r); err != nil {
			return rep, fmt.Errorf("merge %s/%s: %w", collection, r.ID(), err)
		}
		if ok {
			rep.Updated++
		} else {
			rep.Inserted++
		}
	}
	s.log.Debug(ctx, "pulled collection", "collection", collection,
		"inserted", rep.Inserted, "updated", rep.Updated, "kept_local", rep.KeptLocal)
	return rep, nil
}

// locallyDeleted returns the ids of collection deleted locally whose delete
// has not reached the shared store: pending ids with no local record and
// queued deletes.
func (s *Store) locallyDeleted(ctx context.Context, collection string, local map[string]storage.Record) (map[string]bool, error) {
	deleted := map[string]bool{}
	s.mu.Lock()
	for k := range s.pending {
		if _, ok := local[k.id]; !ok && k.collection == collection {
			deleted[k.id] = true
		}
	}
	s.mu.Unlock()

	queued, err := s.queue.Pending(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	for _, e := range queued {
		if e.Collection == collection && e.Operation == syncqueue.OpDelete {
			deleted[e.ID] = true
		}
	}
	return deleted, nil
}

// Status describes the sync state.
type Status struct {
	Mode            SyncMode  `json:"mode"`
	RemoteAvailable bool      `json:"remote_available"`
	PendingChanges  int       `json:"pending_changes"`
	Queued          int       `json:"queued"`
	Conflicts       int       `json:"conflicts"`
	OldestQueued    time.Time `json:"oldest_queued,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
}

func (s *Store) SyncStatus(ctx context.Context) (Status, error) {
	s.mu.Lock()
	st := Status{
		Mode:            s.cfg.SyncMode,
		RemoteAvailable: s.remoteUp,
		PendingChanges:  len(s.pending),
	}
	lastErr := s.lastErr
	s.mu.Unlock()

	if perr := s.proc.LastError(); perr != nil {
		lastErr = perr
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}

	qs, err := s.queue.Stats(ctx)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	st.Queued = qs.Pending
	st.Conflicts = qs.Conflicts
	st.OldestQueued = qs.Oldest
	return st, nil
}
