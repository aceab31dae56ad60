package db

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// Config holds database and update pipeline configuration
type Config struct {
	// Driver selects the database/sql driver and SQL dialect: mysql, postgres or sqlite3
	Driver string `json:"driver" yaml:"driver"`

	// Connection Settings. For sqlite3 Database is the file path.
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`

	// Connection Pool Settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// MySQL Specific Settings
	Collation string `json:"collation" yaml:"collation"` // Default: utf8mb4_unicode_ci
	TimeZone  string `json:"timezone" yaml:"timezone"`   // Default: UTC

	// Update pipeline settings
	Update UpdateConfig `json:"update" yaml:"update"`

	// SSL Configuration
	SSL SSLConfig `json:"ssl" yaml:"ssl"`

	// Logging Configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// UpdateConfig controls how changes are batched and executed
type UpdateConfig struct {
	MaxBatchSize    int           `json:"max_batch_size" yaml:"max_batch_size"`     // Commands per batch, 0 for the dialect default
	AutoTransaction bool          `json:"auto_transaction" yaml:"auto_transaction"` // Wrap a save in its own transaction
	CommandTimeout  time.Duration `json:"command_timeout" yaml:"command_timeout"`   // Per batch, 0 for none
}

// SSLConfig holds SSL/TLS configuration
type SSLConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	CAFile     string `json:"ca_file" yaml:"ca_file"`
	SkipVerify bool   `json:"skip_verify" yaml:"skip_verify"` // Skip certificate verification (not recommended for production)
	ServerName string `json:"server_name" yaml:"server_name"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text

	LogQueries         bool          `json:"log_queries" yaml:"log_queries"`
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold"`
}

// Manager owns the connection pool
type Manager struct {
	config *Config
	sqlDB  *sql.DB
	gormDB *gorm.DB // MySQL only
}
