// Package storagetest is a conformance suite run by every backend's tests.
package storagetest

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, uninitialized backend. The suite initializes and
// destroys it.
type Factory func(t *testing.T) storage.Storage

// Run exercises the storage contract against backends built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"CreateAssignsIdentity", testCreateAssignsIdentity},
		{"GetByIDMissing", testGetByIDMissing},
		{"UpdateMerges", testUpdateMerges},
		{"UpdateMissing", testUpdateMissing},
		{"Delete", testDelete},
		{"QueryWidgets", testQueryWidgets},
		{"Bulk", testBulk},
		{"Transaction", testTransaction},
		{"Versions", testVersions},
		{"ClearCollection", testClearCollection},
		{"ExportImport", testExportImport},
		{"Health", testHealth},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			require.NoError(t, s.Initialize(ctx))
			t.Cleanup(func() { _ = s.Destroy(context.Background()) })
			tc.fn(t, s)
		})
	}

	t.Run("NotInitialized", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(context.Background(), "cases", storage.Record{"title": "x"})
		require.ErrorIs(t, err, common.ErrNotInitialized)
	})

	t.Run("DestroyedRejectsWrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Initialize(ctx))
		require.NoError(t, s.Destroy(ctx))
		_, err := s.Create(ctx, "cases", storage.Record{"title": "x"})
		require.ErrorIs(t, err, common.ErrNotInitialized)
	})
}

func testCreateAssignsIdentity(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	rec, err := s.Create(ctx, "cases", storage.Record{"title": "Smith v. Jones"})
	require.NoError(t, err)
	assert.True(t, storage.IsID(rec.ID()))
	assert.NotEmpty(t, rec.String(storage.FieldCreatedAt))

	got, err := s.GetByID(ctx, "cases", rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "Smith v. Jones", got["title"])
	assert.Equal(t, rec.ID(), got.ID())

	id := storage.NewID()
	kept, err := s.Create(ctx, "cases", storage.Record{"id": id, "title": "Given id"})
	require.NoError(t, err)
	assert.Equal(t, id, kept.ID())
}

func testGetByIDMissing(t *testing.T, s storage.Storage) {
	_, err := s.GetByID(context.Background(), "cases", storage.NewID())
	require.ErrorIs(t, err, common.ErrNotFound)
}

func testUpdateMerges(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	rec, err := s.Create(ctx, "cases", storage.Record{"title": "Old", "status": "open"})
	require.NoError(t, err)

	upd, err := s.Update(ctx, "cases", rec.ID(), storage.Record{"title": "New"})
	require.NoError(t, err)
	assert.Equal(t, "New", upd["title"])
	assert.Equal(t, "open", upd["status"])
	assert.Equal(t, rec.ID(), upd.ID())
	assert.NotEmpty(t, upd.String(storage.FieldUpdatedAt))
	assert.False(t, upd.Time(storage.FieldUpdatedAt).Before(rec.Time(storage.FieldCreatedAt)))

	got, err := s.GetByID(ctx, "cases", rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "New", got["title"])
}

func testUpdateMissing(t *testing.T, s storage.Storage) {
	_, err := s.Update(context.Background(), "cases", storage.NewID(), storage.Record{"title": "x"})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func testDelete(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	rec, err := s.Create(ctx, "notes", storage.Record{"content": "call back"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "notes", rec.ID()))
	_, err = s.GetByID(ctx, "notes", rec.ID())
	require.ErrorIs(t, err, common.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "notes", rec.ID()), common.ErrNotFound)
}

func testQueryWidgets(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	for _, w := range []storage.Record{
		{"name": "A", "color": "red"},
		{"name": "B", "color": "blue"},
		{"name": "C", "color": "blue"},
	} {
		_, err := s.Create(ctx, "widgets", w)
		require.NoError(t, err)
	}

	blue, err := s.QueryByField(ctx, "widgets", "color", "blue")
	require.NoError(t, err)
	require.Len(t, blue, 2)
	names := []any{blue[0]["name"], blue[1]["name"]}
	assert.ElementsMatch(t, []any{"B", "C"}, names)

	red, err := s.Query(ctx, "widgets", func(r storage.Record) bool { return r["color"] == "red" })
	require.NoError(t, err)
	require.Len(t, red, 1)
	assert.Equal(t, "A", red[0]["name"])

	all, err := s.GetAll(ctx, "widgets")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := s.GetAll(ctx, "contacts")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testBulk(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	id1, id2 := storage.NewID(), storage.NewID()
	created, err := s.BulkCreate(ctx, "tasks", []storage.Record{
		{"id": id1, "title": "one"},
		{"id": id2, "title": "two"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	updated, err := s.BulkUpdate(ctx, "tasks", []storage.Record{
		{"id": id1, "title": "uno"},
		{"id": id2, "status": "done"},
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)

	got1, err := s.GetByID(ctx, "tasks", id1)
	require.NoError(t, err)
	assert.Equal(t, "uno", got1["title"])
	got2, err := s.GetByID(ctx, "tasks", id2)
	require.NoError(t, err)
	assert.Equal(t, "two", got2["title"])
	assert.Equal(t, "done", got2["status"])

	require.NoError(t, s.BulkDelete(ctx, "tasks", []string{id1, id2}))
	all, err := s.GetAll(ctx, "tasks")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testTransaction(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	var clientID string
	err := s.Transaction(ctx, []string{"clients", "cases"}, func(ctx context.Context, tx storage.Storage) error {
		c, err := tx.Create(ctx, "clients", storage.Record{"name": "Acme"})
		if err != nil {
			return err
		}
		clientID = c.ID()
		_, err = tx.Create(ctx, "cases", storage.Record{"client_id": c.ID(), "title": "Acme v. Roadrunner"})
		return err
	})
	require.NoError(t, err)

	_, err = s.GetByID(ctx, "clients", clientID)
	require.NoError(t, err)
	cases, err := s.QueryByField(ctx, "cases", "client_id", clientID)
	require.NoError(t, err)
	assert.Len(t, cases, 1)
}

func testVersions(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	rec, err := s.Create(ctx, "documents", s.BumpVersion(storage.Record{"name": "brief.pdf"}, "user-1"))
	require.NoError(t, err)

	v, err := s.GetVersion(ctx, "documents", rec.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	bumped := s.BumpVersion(rec, "user-2")
	assert.Equal(t, storage.After, s.CompareVersions(storage.Version(bumped), v))

	_, err = s.Update(ctx, "documents", rec.ID(), bumped)
	require.NoError(t, err)
	v2, err := s.GetVersion(ctx, "documents", rec.ID())
	require.NoError(t, err)
	assert.Equal(t, v+1, v2)

	_, err = s.GetVersion(ctx, "documents", storage.NewID())
	require.ErrorIs(t, err, common.ErrNotFound)
}

func testClearCollection(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, err := s.Create(ctx, "contacts", storage.Record{"name": "Bob"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "clients", storage.Record{"name": "Keep"})
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "contacts"))

	contacts, err := s.GetAll(ctx, "contacts")
	require.NoError(t, err)
	assert.Empty(t, contacts)
	clients, err := s.GetAll(ctx, "clients")
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func testExportImport(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	c, err := s.Create(ctx, "clients", storage.Record{"name": "Acme"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "cases", storage.Record{"client_id": c.ID(), "title": "T"})
	require.NoError(t, err)

	snap, err := s.ExportAll(ctx)
	require.NoError(t, err)
	assert.Len(t, snap["clients"], 1)
	assert.Len(t, snap["cases"], 1)

	require.NoError(t, s.ClearAll(ctx))
	all, err := s.GetAll(ctx, "clients")
	require.NoError(t, err)
	require.Empty(t, all)

	report, err := s.ImportAll(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written["clients"])
	assert.Equal(t, 1, report.Written["cases"])

	got, err := s.GetByID(ctx, "clients", c.ID())
	require.NoError(t, err)
	assert.Equal(t, "Acme", got["name"])
	assert.Equal(t, c.String(storage.FieldCreatedAt), got.String(storage.FieldCreatedAt))
}

func testHealth(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	h := s.HealthCheck(ctx)
	assert.True(t, h.Healthy, "errors: %v", h.Errors)

	_, err := s.GetStorageInfo(ctx)
	require.NoError(t, err)
}
