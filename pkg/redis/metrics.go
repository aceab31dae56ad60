package redis

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Keys for row cache metrics.
const (
	LookupsTotalKey     = "save4go_cache_lookups_total"
	ErrorsTotalKey      = "save4go_cache_errors_total"
	InvalidatedTotalKey = "save4go_cache_invalidated_keys_total"
	OperationSecondsKey = "save4go_cache_operation_seconds"
)

// Collectors for row cache metrics.
var (
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: LookupsTotalKey,
		Help: "Cumulative number of cached row lookups, by result (hit or miss).",
	}, []string{"result"})
	ErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ErrorsTotalKey,
		Help: "Cumulative number of failed cache operations.",
	})
	InvalidatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: InvalidatedTotalKey,
		Help: "Cumulative number of keys deleted by invalidation.",
	})
	OperationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    OperationSecondsKey,
		Help:    "Latency of cache operations.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"op"})
)

// Collectors returns the metrics used by the row cache.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		LookupsTotal,
		ErrorsTotal,
		InvalidatedTotal,
		OperationSeconds,
	}
}

// Metrics tracks row cache statistics of one Manager. Every record call also
// feeds the prometheus collectors.
type Metrics struct {
	hits, misses, errors atomic.Uint64

	gets, sets, deletes          atomic.Uint64
	getNanos, setNanos, delNanos atomic.Uint64

	invalidated  atomic.Uint64
	dependencies atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCacheHit records a lookup that found a cached row
func (m *Metrics) RecordCacheHit() {
	m.hits.Add(1)
	LookupsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a lookup of a row that was not cached
func (m *Metrics) RecordCacheMiss() {
	m.misses.Add(1)
	LookupsTotal.WithLabelValues("miss").Inc()
}

// RecordCacheError records a failed operation
func (m *Metrics) RecordCacheError() {
	m.errors.Add(1)
	ErrorsTotal.Inc()
}

func (m *Metrics) RecordGet(d time.Duration) {
	m.gets.Add(1)
	m.getNanos.Add(uint64(d))
	OperationSeconds.WithLabelValues("get").Observe(d.Seconds())
}

func (m *Metrics) RecordSet(d time.Duration) {
	m.sets.Add(1)
	m.setNanos.Add(uint64(d))
	OperationSeconds.WithLabelValues("set").Observe(d.Seconds())
}

// RecordDelete records one delete call removing n keys
func (m *Metrics) RecordDelete(n int, d time.Duration) {
	m.deletes.Add(1)
	m.delNanos.Add(uint64(d))
	m.invalidated.Add(uint64(n))
	OperationSeconds.WithLabelValues("delete").Observe(d.Seconds())
	InvalidatedTotal.Add(float64(n))
}

// RecordDependency records a key registered as derived from a row
func (m *Metrics) RecordDependency() {
	m.dependencies.Add(1)
}

// GetSnapshot returns a point-in-time copy of the counters
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		CacheHits:        m.hits.Load(),
		CacheMisses:      m.misses.Load(),
		CacheErrors:      m.errors.Load(),
		GetOperations:    m.gets.Load(),
		SetOperations:    m.sets.Load(),
		DeleteOperations: m.deletes.Load(),
		InvalidatedKeys:  m.invalidated.Load(),
		DependencyCount:  m.dependencies.Load(),
	}
	s.AvgGetLatency = average(&m.getNanos, s.GetOperations)
	s.AvgSetLatency = average(&m.setNanos, s.SetOperations)
	s.AvgDeleteLatency = average(&m.delNanos, s.DeleteOperations)
	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(lookups) * 100
	}
	return s
}

func average(total *atomic.Uint64, n uint64) time.Duration {
	if n == 0 {
		return 0
	}
	return time.Duration(total.Load() / n)
}

// Reset zeroes the counters. The prometheus collectors are cumulative and
// are not reset.
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.hits, &m.misses, &m.errors,
		&m.gets, &m.sets, &m.deletes,
		&m.getNanos, &m.setNanos, &m.delNanos,
		&m.invalidated, &m.dependencies,
	} {
		c.Store(0)
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	CacheHits    uint64
	CacheMisses  uint64
	CacheErrors  uint64
	CacheHitRate float64 // Percentage

	GetOperations    uint64
	SetOperations    uint64
	DeleteOperations uint64

	AvgGetLatency    time.Duration
	AvgSetLatency    time.Duration
	AvgDeleteLatency time.Duration

	InvalidatedKeys uint64
	DependencyCount uint64
}
