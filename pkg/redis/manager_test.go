package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, (&Config{}).Validate()) // Disabled.

	cfg := DefaultConfig()
	cfg.Strategy = "read_through"
	require.EqualError(t, cfg.Validate(), `unknown cache strategy "read_through"`)

	cfg = DefaultConfig()
	cfg.Host = ""
	require.EqualError(t, cfg.Validate(), "redis host is required when cache is enabled")

	// Cluster mode does not need a single host.
	cfg.Cluster = ClusterConfig{Enabled: true, Addresses: []string{"a:7000", "b:7000"}}
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.IsClusterMode())

	cfg = DefaultConfig()
	cfg.PoolSize = 0
	require.EqualError(t, cfg.Validate(), "pool_size must be at least 1")
}

func TestRowKeys(t *testing.T) {
	m, err := NewManager(&Config{KeyPrefix: "app"})
	require.NoError(t, err)

	var key = m.RowKey("shop", "orders", "i:42")
	require.Equal(t, fmt.Sprintf("app:shop:orders:row:%016x", xxhash.Sum64String("i:42")), key)
	require.Equal(t, key, m.RowKey("shop", "orders", "i:42"))
	require.NotEqual(t, key, m.RowKey("shop", "orders", "i:43"))
	require.NotEqual(t, key, m.RowKey("other", "orders", "i:42"))

	require.Equal(t, "app:deps:orders:i:42", dependencyKey("app", "orders", "i:42"))

	// Prefix defaults when left empty.
	m.config.KeyPrefix = ""
	require.Equal(t, "save4go:shop:orders:row:", m.RowKey("shop", "orders", "x")[:len("save4go:shop:orders:row:")])
}

func TestInvalidationPatterns(t *testing.T) {
	m, err := NewManager(&Config{Invalidation: InvalidationConfig{
		KeyPatterns: map[string][]string{"orders": {"report:orders:{key}:*", "report:totals"}},
	}})
	require.NoError(t, err)

	require.Equal(t, []string{"report:orders:i:7:*", "report:totals"}, m.invalidationPatterns("orders", "i:7"))
	require.Empty(t, m.invalidationPatterns("customers", "i:7"))
}

func TestDisabledCache(t *testing.T) {
	var ctx = context.Background()
	m, err := NewManager(&Config{})
	require.NoError(t, err)
	require.False(t, m.Enabled())
	require.NoError(t, m.Ping(ctx))
	require.NoError(t, m.Close())

	_, err = m.Get(ctx, "k")
	require.True(t, IsCacheDisabled(err))
	require.True(t, IsCacheDisabled(m.SetValue(ctx, "k", map[string]any{"a": 1})))
	require.True(t, IsCacheDisabled(m.InvalidateRow(ctx, "shop", "orders", "i:1")))
	require.True(t, IsCacheDisabled(m.WriteRow(ctx, "shop", "orders", "i:1", nil)))
	require.True(t, IsCacheDisabled(m.InvalidatePattern(ctx, "*")))
	require.True(t, IsCacheDisabled(m.AddDependency(ctx, "orders", "i:1", "report")))
	require.True(t, IsCacheDisabled(m.AddRowDependency(ctx, "shop", "orders", "i:1", "customers", "i:7")))
}

func TestUnreachableServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = "127.0.0.1", 1
	cfg.DialTimeout = 100 * time.Millisecond

	m, err := NewManager(cfg)
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, IsConnectionFailed(m.Ping(ctx)))

	// Failed lookups are errors, not misses.
	_, err = m.Get(ctx, "k")
	require.Error(t, err)
	require.False(t, IsKeyNotFound(err))
	require.Equal(t, uint64(1), m.GetMetrics().CacheErrors)
	require.Equal(t, uint64(0), m.GetMetrics().CacheMisses)
}

func TestMetricsSnapshot(t *testing.T) {
	var m = NewMetrics()
	var invalidated = testutil.ToFloat64(InvalidatedTotal)
	var hits = testutil.ToFloat64(LookupsTotal.WithLabelValues("hit"))

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordGet(2 * time.Millisecond)
	m.RecordGet(4 * time.Millisecond)
	m.RecordDelete(3, time.Millisecond)

	s := m.GetSnapshot()
	require.Equal(t, 75.0, s.CacheHitRate)
	require.Equal(t, 3*time.Millisecond, s.AvgGetLatency)
	require.Equal(t, uint64(3), s.InvalidatedKeys)
	require.Equal(t, time.Duration(0), s.AvgSetLatency)

	// Collectors are cumulative across managers and survive Reset
	require.Equal(t, invalidated+3, testutil.ToFloat64(InvalidatedTotal))
	require.Equal(t, hits+3, testutil.ToFloat64(LookupsTotal.WithLabelValues("hit")))

	m.Reset()
	require.Equal(t, MetricsSnapshot{}, m.GetSnapshot())
}
