package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/memory"
	"github.com/dmitrijs2005/casestore/internal/storage/remote"
	"github.com/dmitrijs2005/casestore/internal/storage/storagetest"
	"github.com/dmitrijs2005/casestore/internal/syncqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ remote.CacheObserver = (*StorageMetrics)(nil)
	_ syncqueue.Observer   = (*StorageMetrics)(nil)
)

func TestStorageMetrics_Observers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheHit("cases")
	m.CacheHit("cases")
	m.CacheMiss("cases")
	m.Dispatched("notes", syncqueue.OutcomeSynced)
	m.Dispatched("notes", syncqueue.OutcomeConflict)
	m.QueueDepth(4, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cache.WithLabelValues("cases", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cache.WithLabelValues("cases", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatched.WithLabelValues("notes", "conflict")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("conflict")))
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestInstrument_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New(prometheus.NewRegistry()).Instrument("volatile", memory.New())
	})
}

func TestInstrument_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	s := m.Instrument("volatile", memory.New())
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	rec, err := s.Create(ctx, "clients", storage.Record{"name": "Acme"})
	require.NoError(t, err)
	_, err = s.GetByID(ctx, "clients", rec.ID())
	require.NoError(t, err)
	_, err = s.GetByID(ctx, "clients", storage.NewID())
	require.ErrorIs(t, err, common.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("volatile", "create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("volatile", "get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("volatile", "get", "not_found")))

	expected := `
# HELP casestore_storage_operations_total Storage operations by backend, operation and result
# TYPE casestore_storage_operations_total counter
casestore_storage_operations_total{backend="volatile",op="create",result="ok"} 1
casestore_storage_operations_total{backend="volatile",op="get",result="not_found"} 1
casestore_storage_operations_total{backend="volatile",op="get",result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "casestore_storage_operations_total"))
	assert.IsType(t, &memory.Store{}, s.Unwrap())
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", result(nil))
	assert.Equal(t, "validation", result(common.ErrValidation))
	assert.Equal(t, "constraint", result(common.ErrConstraintViolation))
	assert.Equal(t, "denied", result(common.ErrPermissionDenied))
	assert.Equal(t, "not_initialized", result(common.ErrNotInitialized))
	assert.Equal(t, "error", result(common.NewStorageError("x", nil)))
}
