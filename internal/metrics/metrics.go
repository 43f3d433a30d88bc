// Package metrics exposes storage and sync counters to Prometheus.
package metrics

import (
	"github.com/dmitrijs2005/casestore/internal/syncqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "casestore"

// StorageMetrics collects operation, cache and sync queue metrics. It is
// the cache observer of the shared store and the observer of the sync
// processor.
type StorageMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	cache      *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
	dispatched *prometheus.CounterVec
}

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *StorageMetrics {
	f := promauto.With(reg)
	return &StorageMetrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Storage operations by backend, operation and result",
		}, []string{"backend", "op", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"backend", "op"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "cache_requests_total",
			Help:      "Read cache lookups by collection and result",
		}, []string{"collection", "result"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "queue_entries",
			Help:      "Sync queue entries by status",
		}, []string{"status"}),
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "dispatched_total",
			Help:      "Sync dispatches by collection and outcome",
		}, []string{"collection", "outcome"}),
	}
}

func (m *StorageMetrics) CacheHit(collection string) {
	m.cache.WithLabelValues(collection, "hit").Inc()
}

func (m *StorageMetrics) CacheMiss(collection string) {
	m.cache.WithLabelValues(collection, "miss").Inc()
}

func (m *StorageMetrics) Dispatched(collection string, outcome syncqueue.Outcome) {
	m.dispatched.WithLabelValues(collection, string(outcome)).Inc()
}

func (m *StorageMetrics) QueueDepth(pending, conflicts int) {
	m.queueDepth.WithLabelValues(string(syncqueue.StatusPending)).Set(float64(pending))
	m.queueDepth.WithLabelValues(string(syncqueue.StatusConflict)).Set(float64(conflicts))
}
