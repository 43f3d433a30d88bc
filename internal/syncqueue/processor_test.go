package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTarget fails writes with the queued errors before delegating.
type scriptedTarget struct {
	storage.Storage

	mu   sync.Mutex
	errs []error
}

func (t *scriptedTarget) next() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.errs) == 0 {
		return nil
	}
	err := t.errs[0]
	t.errs = t.errs[1:]
	return err
}

func (t *scriptedTarget) Create(ctx context.Context, c string, rec storage.Record) (storage.Record, error) {
	if err := t.next(); err != nil {
		return nil, err
	}
	return t.Storage.Create(ctx, c, rec)
}

func (t *scriptedTarget) Update(ctx context.Context, c, id string, rec storage.Record) (storage.Record, error) {
	if err := t.next(); err != nil {
		return nil, err
	}
	return t.Storage.Update(ctx, c, id, rec)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
	pending  int
}

func (o *recordingObserver) Dispatched(_ string, outcome Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func (o *recordingObserver) QueueDepth(pending, _ int) {
	o.mu.Lock()
	o.pending = pending
	o.mu.Unlock()
}

func newTarget(t *testing.T) *memory.Store {
	t.Helper()
	m := memory.New()
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

func fastProcessor(q Store, target storage.Storage, obs Observer) *Processor {
	return NewProcessor(q, target, ProcessorOptions{Rate: 1000, Burst: 100, Interval: time.Hour, Observer: obs}, logging.NewNop())
}

func enqueue(t *testing.T, q Store, e Entry) Entry {
	t.Helper()
	out, err := q.Enqueue(context.Background(), e)
	require.NoError(t, err)
	return out
}

func TestProcessor_DrainAppliesInOrder(t *testing.T) {
	q := openMemoryQueue(t)
	target := newTarget(t)
	obs := &recordingObserver{}
	ctx := context.Background()

	enqueue(t, q, Entry{Collection: "notes", ID: "n1", Operation: OpCreate, Payload: storage.Record{"id": "n1", "title": "a"}})
	enqueue(t, q, Entry{Collection: "notes", ID: "n1", Operation: OpUpdate, Payload: storage.Record{"id": "n1", "title": "b"}})
	enqueue(t, q, Entry{Collection: "notes", ID: "n2", Operation: OpCreate, Payload: storage.Record{"id": "n2"}})
	enqueue(t, q, Entry{Collection: "notes", ID: "n2", Operation: OpDelete})

	res, err := fastProcessor(q, target, obs).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Synced: 4}, res)

	got, err := target.GetByID(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "b", got["title"])
	_, err = target.GetByID(ctx, "notes", "n2")
	require.ErrorIs(t, err, common.ErrNotFound)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
	assert.Zero(t, obs.pending)
	assert.Len(t, obs.outcomes, 4)
}

func TestProcessor_UpdateOfMissingRecordBecomesCreate(t *testing.T) {
	q := openMemoryQueue(t)
	target := newTarget(t)

	enqueue(t, q, Entry{Collection: "notes", ID: "n1", Operation: OpUpdate, Payload: storage.Record{"id": "n1", "title": "late"}})
	enqueue(t, q, Entry{Collection: "notes", ID: "gone", Operation: OpDelete})

	res, err := fastProcessor(q, target, nil).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)

	got, err := target.GetByID(context.Background(), "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "late", got["title"])
}

func TestProcessor_ConflictsAreKeptAndSkipped(t *testing.T) {
	q := openMemoryQueue(t)
	target := &scriptedTarget{
		Storage: newTarget(t),
		errs:    []error{fmt.Errorf("insert: %w", common.ErrPermissionDenied)},
	}
	ctx := context.Background()

	enqueue(t, q, Entry{Collection: "notes", ID: "n1", Operation: OpCreate, Payload: storage.Record{"id": "n1"}})
	enqueue(t, q, Entry{Collection: "notes", ID: "n2", Operation: OpCreate, Payload: storage.Record{"id": "n2"}})

	p := fastProcessor(q, target, nil)
	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Synced: 1, Conflicts: 1}, res)

	all, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusConflict, all[0].Status)
	assert.Contains(t, all[0].LastError, "permission denied")

	// conflicts are not retried automatically
	res, err = p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, res)
}

func TestProcessor_TransientFailureStopsPassAndCounts(t *testing.T) {
	q := openMemoryQueue(t)
	unreachable := errors.New("connection refused")
	target := &scriptedTarget{Storage: newTarget(t), errs: []error{unreachable}}
	ctx := context.Background()

	enqueue(t, q, Entry{Collection: "notes", ID: "n1", Operation: OpCreate, Payload: storage.Record{"id": "n1"}})
	enqueue(t, q, Entry{Collection: "notes", ID: "n2", Operation: OpCreate, Payload: storage.Record{"id": "n2"}})

	p := fastProcessor(q, target, nil)
	res, err := p.Drain(ctx)
	require.ErrorIs(t, err, unreachable)
	assert.Equal(t, DrainResult{Failed: 1}, res)
	require.ErrorIs(t, p.LastError(), unreachable)

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "connection refused", pending[0].LastError)

	res, err = p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.NoError(t, p.LastError())
}

func TestProcessor_MissingReferenceIsRetriedLater(t *testing.T) {
	q := openMemoryQueue(t)
	inner := newTarget(t)
	missing := fmt.Errorf("insert into cases: %w", common.ErrMissingReference)
	target := &scriptedTarget{Storage: inner, errs: []error{missing}}
	ctx := context.Background()
	clientID, caseID := storage.NewID(), storage.NewID()

	// the case is queued ahead of the client it belongs to
	enqueue(t, q, Entry{Collection: "cases", ID: caseID, Operation: OpCreate, Payload: storage.Record{"id": caseID, "client_id": clientID}})
	enqueue(t, q, Entry{Collection: "clients", ID: clientID, Operation: OpCreate, Payload: storage.Record{"id": clientID, "name": "Acme"}})

	p := fastProcessor(q, target, nil)
	res, err := p.Drain(ctx)
	require.ErrorIs(t, err, common.ErrMissingReference)
	assert.Equal(t, DrainResult{Synced: 1, Failed: 1}, res)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)
	assert.Zero(t, st.Conflicts)

	res, err = p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Synced: 1}, res)
	_, err = inner.GetByID(ctx, "cases", caseID)
	require.NoError(t, err)
}

func TestProcessor_CreateAlreadyPropagatedUpdatesInstead(t *testing.T) {
	q := openMemoryQueue(t)
	inner := newTarget(t)
	ctx := context.Background()
	_, err := inner.Create(ctx, "notes", storage.Record{"id": "n1", "title": "old"})
	require.NoError(t, err)
	target := &scriptedTarget{Storage: inner, errs: []error{common.ErrConstraintViolation}}

	enqueue(t, q, Entry{Collection: "notes", ID: "n1", Operation: OpCreate, Payload: storage.Record{"id": "n1", "title": "new"}})

	res, err := fastProcessor(q, target, nil).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	got, err := inner.GetByID(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "new", got["title"])
}

func TestProcessor_BackgroundLoopDrainsOnNudge(t *testing.T) {
	q := openMemoryQueue(t)
	target := newTarget(t)
	p := fastProcessor(q, target, nil)

	p.Start(context.Background())
	defer p.Stop()

	enqueue(t, q, Entry{Collection: "notes", ID: "n1", Operation: OpCreate, Payload: storage.Record{"id": "n1"}})
	p.Nudge()

	require.Eventually(t, func() bool {
		_, err := target.GetByID(context.Background(), "notes", "n1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
}
