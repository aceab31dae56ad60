package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ammar0144/save4go/pkg/sqlrender"
	"github.com/ammar0144/save4go/pkg/update"
)

// NewDefaultManager creates a MySQL manager from DefaultConfig
func NewDefaultManager(host, database, username, password string) (*Manager, error) {
	config := DefaultConfig()
	config.Host = host
	config.Database = database
	config.Username = username
	config.Password = password
	return NewManager(config)
}

// NewManager opens the connection pool for the configured driver. MySQL pools
// are opened through GORM so that DB() is available; other drivers use
// database/sql directly.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dsn, err := config.GetDSN()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{config: config}
	switch config.Driver {
	case DriverMySQL:
		m.gormDB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
			SkipDefaultTransaction: true,
			Logger: logger.New(log.StandardLogger(), logger.Config{
				SlowThreshold:             config.Logging.SlowQueryThreshold,
				LogLevel:                  getLogLevel(config.Logging.Level),
				IgnoreRecordNotFoundError: true,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if m.sqlDB, err = m.gormDB.DB(); err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
	default:
		if m.sqlDB, err = sql.Open(config.Driver, dsn); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	m.sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	m.sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	m.sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	m.sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return m, nil
}

// DB returns the GORM database instance, or nil for drivers other than MySQL
func (m *Manager) DB() *gorm.DB {
	return m.gormDB
}

// SqlDB returns the underlying sql.DB instance
func (m *Manager) SqlDB() *sql.DB {
	return m.sqlDB
}

// Close closes the connection pool
func (m *Manager) Close() error {
	if m.sqlDB == nil {
		return nil
	}
	return m.sqlDB.Close()
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.sqlDB.PingContext(ctx)
}

// Stats returns database connection statistics
func (m *Manager) Stats() sql.DBStats {
	return m.sqlDB.Stats()
}

// Renderer returns the SQL dialect for the configured driver
func (m *Manager) Renderer() (update.StatementRenderer, error) {
	return sqlrender.ForDriver(m.config.Driver, m.config.Update.MaxBatchSize)
}

// NewConnection returns an unopened connection for one save
func (m *Manager) NewConnection() *Connection {
	c := NewConnection(m.sqlDB, m.config.Update.CommandTimeout)
	c.logQueries = m.config.Logging.LogQueries
	c.slowQuery = m.config.Logging.SlowQueryThreshold
	return c
}

// NewExecutor returns a batch executor configured from the update settings
func (m *Manager) NewExecutor(opts ...update.ExecutorOption) *update.BatchExecutor {
	opts = append([]update.ExecutorOption{update.WithAutoTransaction(m.config.Update.AutoTransaction)}, opts...)
	return update.NewBatchExecutor(opts...)
}

func getLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Error
	}
}
