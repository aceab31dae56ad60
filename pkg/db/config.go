package db

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v2"
)

// Supported drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DefaultConfig returns a MySQL configuration with the pool and update defaults
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverMySQL,
		Host:            "localhost",
		Port:            3306,
		Collation:       "utf8mb4_unicode_ci",
		TimeZone:        "UTC",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		Update: UpdateConfig{
			AutoTransaction: true,
			CommandTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "text",
			SlowQueryThreshold: 200 * time.Millisecond,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Driver == DriverPostgres && cfg.Port == 3306 {
		cfg.Port = 5432
	}
	return cfg, cfg.Validate()
}

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMySQL, DriverPostgres:
		if c.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
		}
		if c.Username == "" {
			return fmt.Errorf("database username is required")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}
	if c.Update.MaxBatchSize < 0 {
		return fmt.Errorf("update.max_batch_size cannot be negative")
	}
	if c.Update.CommandTimeout < 0 {
		return fmt.Errorf("update.command_timeout cannot be negative")
	}

	// Validate TLS configuration if SSL is enabled
	if c.SSL.Enabled && !c.SSL.SkipVerify {
		if err := c.validateTLSFiles(); err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
	}

	return nil
}

// validateTLSFiles validates that TLS certificate files exist and are readable
func (c *Config) validateTLSFiles() error {
	if c.SSL.CAFile != "" {
		if _, err := os.Stat(c.SSL.CAFile); err != nil {
			return fmt.Errorf("CA file not accessible: %w", err)
		}
	}

	if c.SSL.CertFile != "" || c.SSL.KeyFile != "" {
		if c.SSL.CertFile == "" || c.SSL.KeyFile == "" {
			return fmt.Errorf("both CertFile and KeyFile must be provided together")
		}
		if _, err := os.Stat(c.SSL.CertFile); err != nil {
			return fmt.Errorf("client certificate file not accessible: %w", err)
		}
		if _, err := os.Stat(c.SSL.KeyFile); err != nil {
			return fmt.Errorf("client key file not accessible: %w", err)
		}
	}

	return nil
}

// GetDSN returns the data source name for the configured driver
func (c *Config) GetDSN() (string, error) {
	switch c.Driver {
	case DriverMySQL:
		return c.mysqlDSN()
	case DriverPostgres:
		return c.postgresDSN(), nil
	case DriverSQLite:
		return c.Database + "?_foreign_keys=on&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", c.Driver)
	}
}

// mysqlDSN uses the official MySQL driver config builder. Batches are sent as
// one multi-statement query with arguments interpolated client side, and
// ROW_COUNT() must report matched rows for concurrency checks.
func (c *Config) mysqlDSN() (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.Collation = c.Collation
	cfg.Loc = parseLocation(c.TimeZone)
	cfg.ParseTime = true
	cfg.AllowNativePasswords = true
	cfg.MultiStatements = true
	cfg.InterpolateParams = true
	cfg.ClientFoundRows = true

	if c.SSL.Enabled {
		if c.SSL.SkipVerify {
			cfg.TLSConfig = "skip-verify"
		} else {
			tlsConfig, err := c.tlsConfig()
			if err != nil {
				return "", err
			}
			// Registered under a name derived from the SSL settings so that
			// several configs do not collide
			tlsName := c.generateTLSConfigName()
			if err := mysql.RegisterTLSConfig(tlsName, tlsConfig); err != nil {
				return "", fmt.Errorf("failed to register TLS config: %w", err)
			}
			cfg.TLSConfig = tlsName
		}
	}

	return cfg.FormatDSN(), nil
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{ServerName: c.SSL.ServerName}

	if c.SSL.CAFile != "" {
		caCert, err := os.ReadFile(c.SSL.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("invalid CA certificate in %s", c.SSL.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if c.SSL.CertFile != "" && c.SSL.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// postgresDSN builds a lib/pq key/value connection string
func (c *Config) postgresDSN() string {
	params := map[string]string{
		"host":    c.Host,
		"port":    strconv.Itoa(c.Port),
		"dbname":  c.Database,
		"user":    c.Username,
		"sslmode": "disable",
	}
	if c.Password != "" {
		params["password"] = c.Password
	}
	if c.TimeZone != "" {
		params["timezone"] = c.TimeZone
	}
	if c.SSL.Enabled {
		switch {
		case c.SSL.SkipVerify:
			params["sslmode"] = "require"
		case c.SSL.CAFile != "":
			params["sslmode"] = "verify-full"
			params["sslrootcert"] = c.SSL.CAFile
		default:
			params["sslmode"] = "require"
		}
		if c.SSL.CertFile != "" {
			params["sslcert"] = c.SSL.CertFile
			params["sslkey"] = c.SSL.KeyFile
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + quotePostgresValue(params[k])
	}
	return strings.Join(parts, " ")
}

func quotePostgresValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// generateTLSConfigName creates a unique name for TLS config registration
func (c *Config) generateTLSConfigName() string {
	h := sha256.New()
	h.Write([]byte(c.SSL.CAFile))
	h.Write([]byte(c.SSL.CertFile))
	h.Write([]byte(c.SSL.KeyFile))
	h.Write([]byte(c.SSL.ServerName))
	return "save4go_tls_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// parseLocation parses timezone string to *time.Location, falling back to UTC
func parseLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
