package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Manager manages Redis connections and row cache operations
type Manager struct {
	config  *Config
	client  redis.UniversalClient
	metrics *Metrics
}

// NewManager creates a new Redis cache manager. A disabled config yields a
// manager whose operations return ErrCacheDisabled.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	m := &Manager{config: config, metrics: NewMetrics()}
	if !config.Enabled {
		return m, nil
	}

	if config.IsClusterMode() {
		m.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           config.Cluster.Addresses,
			Username:        config.Cluster.Username,
			Password:        config.Cluster.Password,
			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.MaxConnAge,
			PoolTimeout:     config.PoolTimeout,
			ConnMaxIdleTime: config.IdleTimeout,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
			DialTimeout:     config.DialTimeout,
		})
	} else {
		m.client = redis.NewClient(&redis.Options{
			Addr:            config.GetAddr(),
			Password:        config.Password,
			DB:              config.Database,
			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.MaxConnAge,
			PoolTimeout:     config.PoolTimeout,
			ConnMaxIdleTime: config.IdleTimeout,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
			DialTimeout:     config.DialTimeout,
		})
	}
	return m, nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Enabled reports whether operations reach Redis
func (m *Manager) Enabled() bool {
	return m.config.Enabled && m.client != nil
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection. A disabled cache is not an error.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// Get retrieves a value from cache
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := m.client.Get(ctx, key).Bytes()
	m.metrics.RecordGet(time.Since(start))

	switch {
	case errors.Is(err, redis.Nil):
		m.metrics.RecordCacheMiss()
		return nil, ErrKeyNotFound
	case err != nil:
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	m.metrics.RecordCacheHit()
	return data, nil
}

// Set stores a value in cache with the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, m.config.DefaultTTL)
}

// SetWithTTL stores a value in cache with custom TTL
func (m *Manager) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Set(ctx, key, value, ttl).Err()
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes a key from cache
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.DeleteKeys(ctx, []string{key})
}

// DeleteKeys removes multiple keys from cache
func (m *Manager) DeleteKeys(ctx context.Context, keys []string) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := m.client.Del(ctx, keys...).Err()
	m.metrics.RecordDelete(len(keys), time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// SetValue stores a msgpack encoding of value
func (m *Manager) SetValue(ctx context.Context, key string, value any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return m.Set(ctx, key, data)
}

// InvalidatePattern removes keys matching a pattern. SCAN is used instead of
// KEYS so the server is never blocked.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	count := int64(m.config.Invalidation.ScanBatchSize)
	if count <= 0 {
		count = 100
	}

	var cursor uint64
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}
		if err := m.DeleteKeys(ctx, batch); err != nil {
			return err
		}
		if cursor = next; cursor == 0 {
			return nil
		}
	}
}

// AddDependency records that cacheKey was derived from the row identified by
// table and its canonical key
func (m *Manager) AddDependency(ctx context.Context, table, key, cacheKey string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	depKey := dependencyKey(m.prefix(), table, key)
	pipe := m.client.Pipeline()
	pipe.SAdd(ctx, depKey, cacheKey)
	// Outlive the keys it tracks
	pipe.Expire(ctx, depKey, m.config.DefaultTTL*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}
	m.metrics.RecordDependency()
	return nil
}

// InvalidateEntityDependencies clears every cache key registered against the row
func (m *Manager) InvalidateEntityDependencies(ctx context.Context, table, key string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	depKey := dependencyKey(m.prefix(), table, key)
	keys, err := m.client.SMembers(ctx, depKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get dependencies: %w", err)
	}
	return m.DeleteKeys(ctx, append(keys, depKey))
}

// InvalidateRow drops the cached row, the keys depending on it, and the
// table's configured patterns
func (m *Manager) InvalidateRow(ctx context.Context, database, table, key string) error {
	if err := m.Delete(ctx, m.RowKey(database, table, key)); err != nil {
		return err
	}
	return m.invalidateDerived(ctx, table, key)
}

// WriteRow replaces the cached row with snapshot and drops keys derived from it
func (m *Manager) WriteRow(ctx context.Context, database, table, key string, snapshot any) error {
	if err := m.SetValue(ctx, m.RowKey(database, table, key), snapshot); err != nil {
		return err
	}
	return m.invalidateDerived(ctx, table, key)
}

// AddRowDependency registers the cached row as derived from its principal
// row, so invalidating the principal drops it as well
func (m *Manager) AddRowDependency(ctx context.Context, database, table, key, principalTable, principalKey string) error {
	return m.AddDependency(ctx, principalTable, principalKey, m.RowKey(database, table, key))
}

func (m *Manager) invalidateDerived(ctx context.Context, table, key string) error {
	if err := m.InvalidateEntityDependencies(ctx, table, key); err != nil {
		return err
	}
	for _, pattern := range m.invalidationPatterns(table, key) {
		if err := m.InvalidatePattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

// GetMetrics returns current cache performance metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

// ResetMetrics resets all performance metrics counters
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}
