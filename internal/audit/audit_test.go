package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/memory"
	"github.com/dmitrijs2005/casestore/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "7b0f5c57-8f0f-4b7a-9d52-3f3f0b8d4c11"

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func newLogger(t *testing.T) (*Logger, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Initialize(context.Background()))
	l := NewLogger(store, StaticTenant(tenant), logging.NewNop())
	l.SetClock(func() time.Time { return fixedNow })
	return l, store
}

func TestDiff(t *testing.T) {
	before := storage.Record{"title": "a", "status": "open", "n": 1, "updated_at": "x"}
	after := storage.Record{"title": "b", "status": "open", "n": 1.0, "court": "High", "updated_at": "y"}

	assert.Equal(t, map[string]FieldChange{
		"title": {From: "a", To: "b"},
		"court": {From: nil, To: "High"},
	}, Diff(before, after))
	assert.Nil(t, Diff(before, before))
}

func TestLogger_Log(t *testing.T) {
	l, store := newLogger(t)
	ctx := context.Background()
	id := storage.NewID()

	before := storage.Record{"id": id, "title": "old", "version": 2}
	after := storage.Record{"id": id, "title": "new", "version": 3}
	e := l.Log(ctx, "cases", id, ActionUpdate, "user-1", before, after)

	require.NotEmpty(t, e.ID)
	assert.Equal(t, tenant, e.TenantID)
	require.NotNil(t, e.EntityID)
	assert.Equal(t, id, *e.EntityID)
	assert.Equal(t, fixedNow, e.Timestamp)
	require.NotNil(t, e.Details.Version)
	assert.Equal(t, int64(3), *e.Details.Version)
	assert.Equal(t, FieldChange{From: "old", To: "new"}, e.Details.Diff["title"])

	stored, err := store.GetByID(ctx, Collection, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "update", stored["action_type"])
	assert.Equal(t, id, stored["entity_id"])
	assert.Equal(t, "user-1", stored["actor_id"])
}

func TestLogger_NonIdentifierEntityIsRecordedAsNil(t *testing.T) {
	l, store := newLogger(t)
	ctx := context.Background()

	e := l.Log(ctx, "notes", "legacy-42", ActionCreate, "", nil, storage.Record{"title": "x"})
	require.NotEmpty(t, e.ID)
	assert.Nil(t, e.EntityID)
	assert.Nil(t, e.Details.Version)

	stored, err := store.GetByID(ctx, Collection, e.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored, "entity_id")
}

type failingTenant struct{}

func (failingTenant) TenantID(context.Context) (string, error) {
	return "", common.ErrNotAuthenticated
}

func TestLogger_FailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()

	t.Run("no tenant", func(t *testing.T) {
		store := memory.New()
		require.NoError(t, store.Initialize(ctx))
		l := NewLogger(store, failingTenant{}, logging.NewNop())

		e := l.Log(ctx, "cases", storage.NewID(), ActionDelete, "u", storage.Record{"title": "x"}, nil)
		assert.Equal(t, Entry{}, e)
		all, err := store.GetAll(ctx, Collection)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("write rejected", func(t *testing.T) {
		l := NewLogger(memory.New(), StaticTenant(tenant), logging.NewNop())
		e := l.Log(ctx, "cases", storage.NewID(), ActionCreate, "u", nil, storage.Record{"title": "x"})
		assert.Equal(t, Entry{}, e)
	})

	t.Run("empty static tenant", func(t *testing.T) {
		_, err := StaticTenant("").TenantID(ctx)
		require.ErrorIs(t, err, common.ErrNotAuthenticated)
	})
}

func TestEntry_Validate(t *testing.T) {
	e := Entry{TenantID: tenant, EntityType: "cases", ActionType: "rename", Timestamp: fixedNow}
	require.ErrorIs(t, e.Validate(), common.ErrValidation)
	e.ActionType = ActionDelete
	require.NoError(t, e.Validate())
}

func TestLogger_HistoryAndPrune(t *testing.T) {
	l, _ := newLogger(t)
	ctx := context.Background()
	id := storage.NewID()

	l.SetClock(func() time.Time { return fixedNow.Add(-48 * time.Hour) })
	l.Log(ctx, "clients", id, ActionCreate, "u", nil, storage.Record{"name": "Acme"})
	l.SetClock(func() time.Time { return fixedNow })
	l.Log(ctx, "clients", id, ActionUpdate, "u", storage.Record{"name": "Acme"}, storage.Record{"name": "Acme Ltd"})
	l.Log(ctx, "clients", storage.NewID(), ActionCreate, "u", nil, storage.Record{"name": "Other"})

	hist, err := l.History(ctx, "clients", id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, ActionCreate, hist[0].ActionType)
	assert.Equal(t, ActionUpdate, hist[1].ActionType)
	assert.Equal(t, "Acme Ltd", hist[1].Details.After["name"])
	assert.Equal(t, FieldChange{From: "Acme", To: "Acme Ltd"}, hist[1].Details.Diff["name"])

	n, err := l.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hist, err = l.History(ctx, "clients", id)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, ActionUpdate, hist[0].ActionType)

	_, err = l.Prune(ctx, 0)
	require.ErrorIs(t, err, common.ErrValidation)
}

func newWrapped(t *testing.T) (*Store, *Logger, *memory.Store) {
	t.Helper()
	inner := memory.New()
	l := NewLogger(inner, StaticTenant(tenant), logging.NewNop())
	tick := fixedNow
	l.SetClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	return Wrap(inner, l, StaticActor("user-1")), l, inner
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, _, _ := newWrapped(t)
		return s
	})
}

func auditRows(t *testing.T, inner storage.Storage) []storage.Record {
	t.Helper()
	rows, err := inner.GetAll(context.Background(), Collection)
	require.NoError(t, err)
	return rows
}

func TestStore_AuditsMutations(t *testing.T) {
	s, l, inner := newWrapped(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	rec, err := s.Create(ctx, "clients", storage.Record{"name": "Acme"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "clients", rec.ID(), storage.Record{"name": "Acme Ltd"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "clients", rec.ID()))

	hist, err := l.History(ctx, "clients", rec.ID())
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []Action{ActionCreate, ActionUpdate, ActionDelete},
		[]Action{hist[0].ActionType, hist[1].ActionType, hist[2].ActionType})
	assert.Equal(t, "user-1", hist[1].ActorID)
	assert.Equal(t, "Acme", hist[1].Details.Before["name"])
	assert.Equal(t, "Acme Ltd", hist[2].Details.Before["name"])
	assert.Nil(t, hist[2].Details.After)

	// failed mutations are not audited
	_, err = s.Update(ctx, "clients", storage.NewID(), storage.Record{"name": "ghost"})
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Len(t, auditRows(t, inner), 3)
}

func TestStore_AuditsClearAndImport(t *testing.T) {
	s, l, _ := newWrapped(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	client, err := s.Create(ctx, "clients", storage.Record{"name": "Acme"})
	require.NoError(t, err)
	note, err := s.Create(ctx, "notes", storage.Record{"title": "call back"})
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "notes"))
	hist, err := l.History(ctx, "notes", note.ID())
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, ActionDelete, hist[1].ActionType)
	assert.Equal(t, "call back", hist[1].Details.Before["title"])

	// the wipe takes the earlier entries with it; its own entries remain
	require.NoError(t, s.ClearAll(ctx))
	hist, err = l.History(ctx, "clients", client.ID())
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, ActionDelete, hist[0].ActionType)

	_, err = s.ImportAll(ctx, storage.Snapshot{"clients": {client}})
	require.NoError(t, err)
	renamed := client.Clone()
	renamed["name"] = "Acme Ltd"
	_, err = s.ImportAll(ctx, storage.Snapshot{"clients": {renamed}})
	require.NoError(t, err)

	hist, err = l.History(ctx, "clients", client.ID())
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []Action{ActionDelete, ActionCreate, ActionUpdate},
		[]Action{hist[0].ActionType, hist[1].ActionType, hist[2].ActionType})
	assert.Equal(t, "Acme", hist[2].Details.Before["name"])
	assert.Equal(t, "user-1", hist[2].ActorID)
}

func TestStore_BulkVariants(t *testing.T) {
	s, _, inner := newWrapped(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	out, err := s.BulkCreate(ctx, "notes", []storage.Record{{"title": "a"}, {"title": "b"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	_, err = s.BulkUpdate(ctx, "notes", []storage.Record{{"id": out[0].ID(), "title": "a2"}})
	require.NoError(t, err)
	require.NoError(t, s.BulkDelete(ctx, "notes", []string{out[0].ID(), out[1].ID()}))

	rows := auditRows(t, inner)
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.String("action_type")]++
	}
	assert.Equal(t, map[string]int{"create": 2, "update": 1, "delete": 2}, counts)
}

func TestStore_TransactionAuditsOnlyCommitted(t *testing.T) {
	s, _, inner := newWrapped(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	boom := errors.New("boom")
	err := s.Transaction(ctx, []string{"notes"}, func(ctx context.Context, tx storage.Storage) error {
		if _, err := tx.Create(ctx, "notes", storage.Record{"title": "x"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, auditRows(t, inner))

	err = s.Transaction(ctx, []string{"notes"}, func(ctx context.Context, tx storage.Storage) error {
		_, err := tx.Create(ctx, "notes", storage.Record{"title": "y"})
		return err
	})
	require.NoError(t, err)
	assert.Len(t, auditRows(t, inner), 1)
}

func TestStore_DoesNotAuditItself(t *testing.T) {
	s, _, inner := newWrapped(t)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	_, err := s.Create(ctx, Collection, storage.Record{"entity_type": "manual", "action_type": "create"})
	require.NoError(t, err)
	assert.Len(t, auditRows(t, inner), 1)
}
