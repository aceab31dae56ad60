package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validMySQL() *Config {
	cfg := DefaultConfig()
	cfg.Host = "db.local"
	cfg.Database = "shop"
	cfg.Username = "app"
	cfg.Password = "secret"
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validMySQL().Validate())

	cfg := validMySQL()
	cfg.Host = ""
	require.EqualError(t, cfg.Validate(), "database host is required")

	cfg = validMySQL()
	cfg.Port = 0
	require.EqualError(t, cfg.Validate(), "database port must be between 1 and 65535, got 0")

	cfg = validMySQL()
	cfg.MaxIdleConns = 50
	require.EqualError(t, cfg.Validate(), "max_idle_conns cannot be greater than max_open_conns")

	cfg = validMySQL()
	cfg.Update.MaxBatchSize = -1
	require.EqualError(t, cfg.Validate(), "update.max_batch_size cannot be negative")

	cfg = validMySQL()
	cfg.Driver = "oracle"
	require.EqualError(t, cfg.Validate(), `unsupported driver "oracle"`)

	// SQLite only needs a file.
	cfg = &Config{Driver: DriverSQLite, Database: "shop.db", MaxOpenConns: 1}
	require.NoError(t, cfg.Validate())

	cfg = validMySQL()
	cfg.SSL = SSLConfig{Enabled: true, CertFile: "client.pem"}
	require.EqualError(t, cfg.Validate(), "TLS configuration error: both CertFile and KeyFile must be provided together")
}

func TestMySQLDSNEnablesBatching(t *testing.T) {
	dsn, err := validMySQL().GetDSN()
	require.NoError(t, err)

	require.Contains(t, dsn, "app:secret@tcp(db.local:3306)/shop?")
	require.Contains(t, dsn, "clientFoundRows=true")
	require.Contains(t, dsn, "interpolateParams=true")
	require.Contains(t, dsn, "multiStatements=true")
	require.Contains(t, dsn, "parseTime=true")
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		Driver:   DriverPostgres,
		Host:     "pg",
		Port:     5432,
		Database: "shop",
		Username: "app",
		Password: "it's secret",
		TimeZone: "UTC",
	}
	dsn, err := cfg.GetDSN()
	require.NoError(t, err)
	require.Equal(t, `dbname=shop host=pg password='it\'s secret' port=5432 sslmode=disable timezone=UTC user=app`, dsn)

	cfg.Password = ""
	cfg.SSL = SSLConfig{Enabled: true, CAFile: "/etc/ca.pem"}
	dsn, err = cfg.GetDSN()
	require.NoError(t, err)
	require.Equal(t, "dbname=shop host=pg port=5432 sslmode=verify-full sslrootcert=/etc/ca.pem timezone=UTC user=app", dsn)
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := (&Config{Driver: DriverSQLite, Database: "/tmp/shop.db"}).GetDSN()
	require.NoError(t, err)
	require.Equal(t, "/tmp/shop.db?_foreign_keys=on&_busy_timeout=5000", dsn)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save4go.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
driver: postgres
host: pg
database: shop
username: app
update:
  max_batch_size: 10
  command_timeout: 5s
logging:
  level: debug
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, cfg.Driver)
	require.Equal(t, 5432, cfg.Port)
	require.Equal(t, 10, cfg.Update.MaxBatchSize)
	require.Equal(t, 5*time.Second, cfg.Update.CommandTimeout)
	require.True(t, cfg.Update.AutoTransaction)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 25, cfg.MaxOpenConns)

	require.NoError(t, os.WriteFile(path, []byte("hostname: pg\n"), 0o600))
	_, err = LoadConfig(path)
	require.ErrorContains(t, err, "failed to parse config")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config")
}
