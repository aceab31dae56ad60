package redis

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the row cache configuration used by save sessions
type Config struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Strategy   CacheStrategy `json:"strategy" yaml:"strategy"` // invalidate, write_through
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`
	KeyPrefix  string        `json:"key_prefix" yaml:"key_prefix"`

	// Redis Connection
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database"`

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// Cache Invalidation
	Invalidation InvalidationConfig `json:"invalidation" yaml:"invalidation"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
}

// InvalidationConfig controls which extra keys are dropped when a row changes
type InvalidationConfig struct {
	ScanBatchSize int `json:"scan_batch_size" yaml:"scan_batch_size"`

	// KeyPatterns maps a table to patterns invalidated whenever one of its
	// rows is saved. "{key}" is replaced by the row's canonical key.
	KeyPatterns map[string][]string `json:"key_patterns" yaml:"key_patterns"`
}

// CacheStrategy selects what a committed save does with cached rows
type CacheStrategy string

const (
	CacheStrategyInvalidate   CacheStrategy = "invalidate"
	CacheStrategyWriteThrough CacheStrategy = "write_through"
)

// DefaultConfig returns a Redis configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		Strategy:     CacheStrategyInvalidate,
		DefaultTTL:   time.Hour,
		KeyPrefix:    "save4go",
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxConnAge:   time.Hour,
		PoolTimeout:  time.Second * 4,
		IdleTimeout:  time.Minute * 5,
		ReadTimeout:  time.Second * 3,
		WriteTimeout: time.Second * 3,
		DialTimeout:  time.Second * 5,
		Invalidation: InvalidationConfig{
			ScanBatchSize: 100,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse cache config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks if the Redis configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if !c.IsClusterMode() {
		if c.Host == "" {
			return fmt.Errorf("redis host is required when cache is enabled")
		}
		if c.Port <= 0 {
			return fmt.Errorf("redis port must be positive")
		}
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive when cache is enabled")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}
	switch c.Strategy {
	case CacheStrategyInvalidate, CacheStrategyWriteThrough:
	default:
		return fmt.Errorf("unknown cache strategy %q", c.Strategy)
	}
	return nil
}

// GetAddr returns the Redis connection address
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode returns true if Redis cluster is enabled
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled && len(c.Cluster.Addresses) > 0
}
