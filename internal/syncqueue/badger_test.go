package syncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryQueue(t *testing.T) *BadgerStore {
	t.Helper()
	q, err := Open(Options{InMemory: true, Logger: logging.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestCodec_RoundTrip(t *testing.T) {
	in := Entry{
		Seq:        1<<60 + 3,
		Collection: "cases",
		ID:         "c1",
		Operation:  OpUpdate,
		Payload: storage.Record{
			"title":   "Smith v. Jones",
			"version": int64(4),
			"tags":    []string{"a", "b"},
			"nested":  map[string]any{"ok": true},
			"none":    nil,
		},
		Priority:   PriorityHigh,
		EnqueuedAt: time.Date(2025, 3, 4, 5, 6, 7, 890, time.UTC),
		Attempts:   2,
		LastError:  "timeout",
		Status:     StatusPending,
	}

	b, err := encode(in)
	require.NoError(t, err)
	out, err := decode(b)
	require.NoError(t, err)

	want := in
	want.Payload = storage.Record{
		"title":   "Smith v. Jones",
		"version": float64(4),
		"tags":    []any{"a", "b"},
		"nested":  map[string]any{"ok": true},
		"none":    nil,
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(4), storage.Version(out.Payload))
}

func TestBadgerStore_OrdersByPriorityThenSequence(t *testing.T) {
	q := openMemoryQueue(t)
	ctx := context.Background()

	add := func(id string, p Priority) {
		_, err := q.Enqueue(ctx, Entry{Collection: "notes", ID: id, Operation: OpDelete, Priority: p})
		require.NoError(t, err)
	}
	add("low-1", PriorityLow)
	add("med-1", PriorityMedium)
	add("high-1", PriorityHigh)
	add("med-2", PriorityMedium)
	add("high-2", PriorityHigh)

	all, err := q.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, e := range all {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"high-1", "high-2", "med-1", "med-2", "low-1"}, ids)

	first, err := q.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "high-1", first[0].ID)
}

func TestBadgerStore_EnqueueDefaultsAndValidation(t *testing.T) {
	q := openMemoryQueue(t)
	ctx := context.Background()

	e, err := q.Enqueue(ctx, Entry{Collection: "notes", ID: "n1", Operation: OpCreate, Payload: storage.Record{"id": "n1"}})
	require.NoError(t, err)
	assert.NotZero(t, e.Seq)
	assert.Equal(t, PriorityMedium, e.Priority)
	assert.Equal(t, StatusPending, e.Status)
	assert.False(t, e.EnqueuedAt.IsZero())

	_, err = q.Enqueue(ctx, Entry{Collection: "notes", ID: "n1", Operation: "merge", Payload: storage.Record{}})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = q.Enqueue(ctx, Entry{Collection: "notes", ID: "n1", Operation: OpUpdate})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = q.Enqueue(ctx, Entry{ID: "n1", Operation: OpDelete})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestBadgerStore_SaveRemoveAndStats(t *testing.T) {
	q := openMemoryQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, Entry{Collection: "notes", ID: "a", Operation: OpDelete})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, Entry{Collection: "notes", ID: "b", Operation: OpDelete})
	require.NoError(t, err)

	b.Status = StatusConflict
	b.LastError = "constraint"
	require.NoError(t, q.Save(ctx, b))

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Conflicts)
	assert.True(t, a.EnqueuedAt.Equal(st.Oldest))

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)

	require.NoError(t, q.Remove(ctx, a))
	st, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Pending)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	q, err := Open(Options{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	first, err := q.Enqueue(ctx, Entry{Collection: "notes", ID: "a", Operation: OpDelete})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	q, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer q.Close()

	all, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].ID)

	next, err := q.Enqueue(ctx, Entry{Collection: "notes", ID: "b", Operation: OpDelete})
	require.NoError(t, err)
	assert.Greater(t, next.Seq, first.Seq)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}
