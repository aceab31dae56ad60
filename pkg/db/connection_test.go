package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/save4go/pkg/db"
	"github.com/ammar0144/save4go/pkg/update"
)

type record struct {
	entity    *update.EntityType
	op        update.Operation
	current   map[string]any
	original  map[string]any
	modified  map[string]bool
	generated map[string]bool
}

func newRecord(t *update.EntityType, op update.Operation, values map[string]any) *record {
	r := &record{entity: t, op: op, current: map[string]any{}, original: map[string]any{},
		modified: map[string]bool{}, generated: map[string]bool{}}
	for k, v := range values {
		r.current[k], r.original[k] = v, v
	}
	return r
}

func (r *record) EntityType() *update.EntityType                  { return r.entity }
func (r *record) Operation() update.Operation                     { return r.op }
func (r *record) CurrentValue(p *update.Property) any             { return r.current[p.Name] }
func (r *record) OriginalValue(p *update.Property) any            { return r.original[p.Name] }
func (r *record) IsModified(p *update.Property) bool              { return r.modified[p.Name] }
func (r *record) IsStoreGenerated(p *update.Property) bool        { return r.generated[p.Name] }
func (r *record) SetCurrentValue(p *update.Property, v any) error { r.current[p.Name] = v; return nil }

func openSQLite(t *testing.T) *db.Manager {
	m, err := db.NewManager(&db.Config{
		Driver:       db.DriverSQLite,
		Database:     filepath.Join(t.TempDir(), "shop.db"),
		MaxOpenConns: 2,
		Update:       db.UpdateConfig{AutoTransaction: true, CommandTimeout: 5 * time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })

	_, err = m.SqlDB().Exec(`CREATE TABLE customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	)`)
	require.NoError(t, err)
	return m
}

func customerType(t *testing.T) *update.EntityType {
	customer := &update.EntityType{
		Name:  "Customer",
		Table: update.Table{Name: "customers"},
		Properties: []*update.Property{
			{Name: "ID", Column: "id", PrimaryKey: true, ValueGenerated: update.ValueGeneratedOnAdd},
			{Name: "Name", Column: "name"},
			{Name: "Version", Column: "version", ConcurrencyToken: true},
		},
	}
	_, err := update.NewModel(customer)
	require.NoError(t, err)
	return customer
}

func save(t *testing.T, m *db.Manager, conn *db.Connection, records ...update.Record) (int, error) {
	renderer, err := m.Renderer()
	require.NoError(t, err)
	batches, err := update.NewCommandBatchPreparer(update.NewBatchFactory(renderer, renderer.Policy())).Prepare(records)
	require.NoError(t, err)
	return m.NewExecutor().Execute(context.Background(), conn, batches)
}

func TestSQLiteSaveRoundTrip(t *testing.T) {
	m := openSQLite(t)
	customer := customerType(t)

	ann := newRecord(customer, update.OperationInsert, map[string]any{"Name": "ann", "Version": 1})
	ann.generated["ID"] = true
	bob := newRecord(customer, update.OperationInsert, map[string]any{"Name": "bob", "Version": 1})
	bob.generated["ID"] = true

	conn := m.NewConnection()
	rows, err := save(t, m, conn, ann, bob)
	require.NoError(t, err)
	require.Equal(t, 2, rows)
	require.False(t, conn.IsOpen())
	require.Equal(t, int64(1), ann.current["ID"])
	require.Equal(t, int64(2), bob.current["ID"])

	// Update with a matching token, delete the other row.
	rename := newRecord(customer, update.OperationUpdate, map[string]any{"ID": 1, "Name": "ann", "Version": 1})
	rename.current["Name"], rename.modified["Name"] = "anna", true
	rename.current["Version"], rename.modified["Version"] = 2, true
	gone := newRecord(customer, update.OperationDelete, map[string]any{"ID": 2, "Version": 1})

	rows, err = save(t, m, m.NewConnection(), rename, gone)
	require.NoError(t, err)
	require.Equal(t, 2, rows)

	var name string
	var version, count int
	require.NoError(t, m.SqlDB().QueryRow("SELECT name, version FROM customers WHERE id = 1").Scan(&name, &version))
	require.Equal(t, "anna", name)
	require.Equal(t, 2, version)
	require.NoError(t, m.SqlDB().QueryRow("SELECT count(*) FROM customers").Scan(&count))
	require.Equal(t, 1, count)
}

func TestSQLiteConcurrencyConflictRollsBack(t *testing.T) {
	m := openSQLite(t)
	customer := customerType(t)
	_, err := m.SqlDB().Exec("INSERT INTO customers (name, version) VALUES ('ann', 5), ('bob', 1)")
	require.NoError(t, err)

	// The first update succeeds, the second holds a stale token.
	first := newRecord(customer, update.OperationUpdate, map[string]any{"ID": 1, "Name": "ann", "Version": 5})
	first.current["Name"], first.modified["Name"] = "anna", true
	stale := newRecord(customer, update.OperationUpdate, map[string]any{"ID": 2, "Name": "bob", "Version": 0})
	stale.current["Name"], stale.modified["Name"] = "robert", true

	_, err = save(t, m, m.NewConnection(), first, stale)
	require.True(t, update.IsConcurrencyConflict(err))
	require.Equal(t, []update.Record{stale}, update.ConflictingRecords(err))

	// The store answered with zero rows rather than no result.
	var ue *update.UpdateError
	require.True(t, errors.As(err, &ue))
	require.False(t, ue.Exhausted)
	require.Equal(t, 1, ue.Expected)
	require.Equal(t, 0, ue.Actual)

	var name string
	require.NoError(t, m.SqlDB().QueryRow("SELECT name FROM customers WHERE id = 1").Scan(&name))
	require.Equal(t, "ann", name)
}

func TestSQLiteAmbientTransaction(t *testing.T) {
	m := openSQLite(t)
	customer := customerType(t)

	tx, err := m.SqlDB().Begin()
	require.NoError(t, err)

	conn := m.NewConnection()
	conn.UseTransaction(tx)
	require.True(t, conn.IsOpen())

	ann := newRecord(customer, update.OperationInsert, map[string]any{"Name": "ann", "Version": 1})
	ann.generated["ID"] = true
	rows, err := save(t, m, conn, ann)
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	// The executor left the transaction open for its owner.
	require.NoError(t, tx.Rollback())
	var count int
	require.NoError(t, m.SqlDB().QueryRow("SELECT count(*) FROM customers").Scan(&count))
	require.Equal(t, 0, count)
}

func TestConnectionRequiresOpen(t *testing.T) {
	m := openSQLite(t)
	conn := m.NewConnection()

	_, err := conn.Query(context.Background(), "SELECT 1", nil)
	require.EqualError(t, err, "connection is not open")
	_, err = conn.BeginTransaction(context.Background())
	require.EqualError(t, err, "connection is not open")

	require.NoError(t, conn.Open(context.Background()))
	tx, err := conn.BeginTransaction(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn.CurrentTransaction())
	require.NoError(t, tx.Rollback())
	require.Nil(t, conn.CurrentTransaction())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}
