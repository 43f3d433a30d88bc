package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
)

// TenantSource supplies the tenant audit entries are attributed to.
type TenantSource interface {
	TenantID(ctx context.Context) (string, error)
}

// StaticTenant attributes every entry to one tenant.
type StaticTenant string

func (t StaticTenant) TenantID(context.Context) (string, error) {
	if t == "" {
		return "", common.ErrNotAuthenticated
	}
	return string(t), nil
}

// Logger writes audit entries into the audit_logs collection of a store.
type Logger struct {
	store   storage.Storage
	tenants TenantSource
	log     logging.Logger
	now     func() time.Time
}

func NewLogger(store storage.Storage, tenants TenantSource, log logging.Logger) *Logger {
	return &Logger{store: store, tenants: tenants, log: log.With("component", "audit"), now: time.Now}
}

// SetClock overrides the time source.
func (l *Logger) SetClock(now func() time.Time) {
	l.now = now
}

// Log records one mutation and returns the stored entry. It never fails:
// when the tenant is unknown or the write is rejected it logs a warning
// and returns an empty entry.
func (l *Logger) Log(ctx context.Context, entityType, entityID string, action Action, actorID string, before, after storage.Record) Entry {
	tenant, err := l.tenants.TenantID(ctx)
	if err != nil {
		l.log.Warn(ctx, "audit skipped: no tenant", "entity_type", entityType, "error", err)
		return Entry{}
	}

	e := Entry{
		ID:         storage.NewID(),
		TenantID:   tenant,
		EntityType: entityType,
		ActionType: action,
		ActorID:    actorID,
		Timestamp:  l.now().UTC(),
		Details: Details{
			Before: before,
			After:  after,
			Diff:   Diff(before, after),
		},
	}
	if storage.IsID(entityID) {
		id := entityID
		e.EntityID = &id
	}
	src := after
	if src == nil {
		src = before
	}
	if _, ok := src[storage.FieldVersion]; ok {
		v := storage.Version(src)
		e.Details.Version = &v
	}

	if err := l.write(ctx, e); err != nil {
		l.log.Warn(ctx, "audit write failed", "entity_type", entityType, "action", string(action), "error", err)
		return Entry{}
	}
	return e
}

func (l *Logger) write(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	rec, err := e.toRecord()
	if err != nil {
		return err
	}
	_, err = l.store.Create(ctx, Collection, rec)
	return err
}

// History returns the entries recorded for one entity, oldest first.
func (l *Logger) History(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	tenant, err := l.tenants.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := l.store.Query(ctx, Collection, func(r storage.Record) bool {
		return r.String("entity_type") == entityType && r.String("entity_id") == entityID
	})
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		e, err := fromRecord(tenant, r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (l *Logger) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", common.ErrValidation)
	}
	cutoff := l.now().Add(-olderThan)
	old, err := l.store.Query(ctx, Collection, func(r storage.Record) bool {
		ts := r.Time("timestamp")
		return !ts.IsZero() && ts.Before(cutoff)
	})
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("audit prune: %w", err)
	}
	if len(old) == 0 {
		return 0, nil
	}
	ids := make([]string, len(old))
	for i, r := range old {
		ids[i] = r.ID()
	}
	if err := l.store.BulkDelete(ctx, Collection, ids); err != nil {
		return 0, fmt.Errorf("audit prune: %w", err)
	}
	l.log.Info(ctx, "audit entries pruned", "count", len(ids), "cutoff", cutoff)
	return len(ids), nil
}
