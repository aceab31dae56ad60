package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/save4go/pkg/db"
)

const changes = `
entities:
  - name: Customer
    table: customers
    columns:
      - {name: ID, column: id, key: true, generated: on_add}
      - {name: Name, column: name}
  - name: Order
    table: orders
    columns:
      - {name: ID, column: id, key: true, generated: on_add}
      - {name: CustomerID, column: customer_id}
    foreign_keys:
      - {columns: [CustomerID], principal: Customer}
records:
  - {entity: Order, operation: insert, values: {ID: $o, CustomerID: $ann}}
  - {entity: Customer, operation: insert, values: {ID: $ann, Name: ann}}
  - {entity: Customer, operation: update, values: {ID: 1, Name: robert}, original: {Name: bob}}
`

type fixture struct {
	dir, config, changeset string
	manager                *db.Manager
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{dir: t.TempDir()}
	f.config = f.write(t, "save4go.yaml", "driver: sqlite3\ndatabase: "+filepath.Join(f.dir, "shop.db")+"\n")
	f.changeset = f.write(t, "changes.yaml", changes)

	cfg, err := db.LoadConfig(f.config)
	require.NoError(t, err)
	f.manager, err = db.NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { f.manager.Close() })

	_, err = f.manager.SqlDB().Exec(`
		CREATE TABLE customers (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);
		CREATE TABLE orders (id INTEGER PRIMARY KEY AUTOINCREMENT, customer_id INTEGER NOT NULL REFERENCES customers(id));
		INSERT INTO customers (name) VALUES ('bob');`)
	require.NoError(t, err)
	return f
}

func (f *fixture) write(t *testing.T, name, content string) string {
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	var buf bytes.Buffer
	out = &buf
	t.Cleanup(func() { out = os.Stdout })

	_, err := newParser().ParseArgs(args)
	return buf.String(), err
}

func TestPlan(t *testing.T) {
	f := newFixture(t)

	output, err := run(t, "--config", f.config, "plan", f.changeset)
	require.NoError(t, err)
	require.Contains(t, output, "UPDATE")
	require.Contains(t, output, "INSERT")
	require.Contains(t, output, "RETURNING")
	require.Contains(t, output, "3 commands in 3 batches")

	// Nothing was written.
	var name string
	require.NoError(t, f.manager.SqlDB().QueryRow("SELECT name FROM customers").Scan(&name))
	require.Equal(t, "bob", name)

	// MySQL sends the customers in one batch; the order waits for ann's key.
	output, err = run(t, "plan", "--driver", "mysql", f.changeset)
	require.NoError(t, err)
	require.Contains(t, output, "3 commands in 2 batches")
}

func TestApply(t *testing.T) {
	f := newFixture(t)

	output, err := run(t, "--config", f.config, "apply", f.changeset)
	require.NoError(t, err)
	require.Contains(t, output, "applied 3 rows in 3 batches")

	var names []string
	rows, err := f.manager.SqlDB().Query("SELECT name FROM customers ORDER BY id")
	require.NoError(t, err)
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Close())
	require.Equal(t, []string{"robert", "ann"}, names)

	var customerID int
	require.NoError(t, f.manager.SqlDB().QueryRow("SELECT customer_id FROM orders").Scan(&customerID))
	require.Equal(t, 2, customerID)

	_, err = run(t, "--config", f.config, "apply", filepath.Join(f.dir, "missing.yaml"))
	require.ErrorContains(t, err, "failed to read changeset")
}

func TestApplyConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.SqlDB().Exec("DELETE FROM customers")
	require.NoError(t, err)

	// Customer 1 is gone, so its update matches no row and nothing is saved.
	_, err = run(t, "--config", f.config, "apply", f.changeset)
	require.ErrorContains(t, err, "concurrency")

	var count int
	require.NoError(t, f.manager.SqlDB().QueryRow("SELECT count(*) FROM orders").Scan(&count))
	require.Equal(t, 0, count)
}
