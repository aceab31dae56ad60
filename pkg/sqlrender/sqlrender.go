// Package sqlrender renders modification commands as MySQL, Postgres or SQLite SQL.
package sqlrender

import (
	"fmt"

	"github.com/ammar0144/save4go/pkg/update"
)

// Driver names accepted by ForDriver
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ForDriver returns the renderer for a database/sql driver name
func ForDriver(driver string, maxBatchSize int) (update.StatementRenderer, error) {
	switch driver {
	case DriverMySQL, "":
		return NewMySQL(maxBatchSize), nil
	case DriverPostgres:
		return NewPostgres(), nil
	case DriverSQLite:
		return NewSQLite(), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}
