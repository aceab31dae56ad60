package update

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Keys for update pipeline metrics.
const (
	BatchesTotalKey       = "save4go_update_batches_total"
	CommandsTotalKey      = "save4go_update_commands_total"
	RowsAffectedTotalKey  = "save4go_update_rows_affected_total"
	ConflictsTotalKey     = "save4go_update_concurrency_conflicts_total"
	StoreFailuresTotalKey = "save4go_update_store_failures_total"
	BatchSecondsKey       = "save4go_update_batch_seconds"
)

// Collectors for update pipeline metrics.
var (
	BatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: BatchesTotalKey,
		Help: "Cumulative number of executed command batches.",
	})
	CommandsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CommandsTotalKey,
		Help: "Cumulative number of executed modification commands.",
	})
	RowsAffectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: RowsAffectedTotalKey,
		Help: "Cumulative number of rows reported affected by the store.",
	})
	ConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ConflictsTotalKey,
		Help: "Cumulative number of optimistic concurrency conflicts.",
	})
	StoreFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: StoreFailuresTotalKey,
		Help: "Cumulative number of batches failed by the store.",
	})
	BatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    BatchSecondsKey,
		Help:    "Batch round-trip latency, including result consumption.",
		Buckets: prometheus.DefBuckets,
	})
)

// Collectors returns the metrics used by the update pipeline.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		BatchesTotal,
		CommandsTotal,
		RowsAffectedTotal,
		ConflictsTotal,
		StoreFailuresTotal,
		BatchSeconds,
	}
}

// Metrics tracks executor statistics for in-process inspection. Every record
// call also feeds the prometheus collectors.
type Metrics struct {
	batches       atomic.Uint64
	commands      atomic.Uint64
	rowsAffected  atomic.Uint64
	conflicts     atomic.Uint64
	storeFailures atomic.Uint64

	totalLatency atomic.Uint64 // nanoseconds
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordBatch records an executed batch
func (m *Metrics) RecordBatch(commands, rows int, duration time.Duration) {
	m.batches.Add(1)
	m.commands.Add(uint64(commands))
	m.rowsAffected.Add(uint64(rows))
	m.totalLatency.Add(uint64(duration.Nanoseconds()))

	BatchesTotal.Inc()
	CommandsTotal.Add(float64(commands))
	RowsAffectedTotal.Add(float64(rows))
	BatchSeconds.Observe(duration.Seconds())
}

// RecordConflict increments the concurrency conflict counter
func (m *Metrics) RecordConflict() {
	m.conflicts.Add(1)
	ConflictsTotal.Inc()
}

// RecordStoreFailure increments the store failure counter
func (m *Metrics) RecordStoreFailure() {
	m.storeFailures.Add(1)
	StoreFailuresTotal.Inc()
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	batches := m.batches.Load()

	var avgLatency time.Duration
	if batches > 0 {
		avgLatency = time.Duration(m.totalLatency.Load() / batches)
	}

	return MetricsSnapshot{
		Batches:         batches,
		Commands:        m.commands.Load(),
		RowsAffected:    m.rowsAffected.Load(),
		Conflicts:       m.conflicts.Load(),
		StoreFailures:   m.storeFailures.Load(),
		AvgBatchLatency: avgLatency,
	}
}

// Reset resets all counters. Prometheus counters are cumulative and unaffected.
func (m *Metrics) Reset() {
	m.batches.Store(0)
	m.commands.Store(0)
	m.rowsAffected.Store(0)
	m.conflicts.Store(0)
	m.storeFailures.Store(0)
	m.totalLatency.Store(0)
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	Batches       uint64
	Commands      uint64
	RowsAffected  uint64
	Conflicts     uint64
	StoreFailures uint64

	AvgBatchLatency time.Duration
}
