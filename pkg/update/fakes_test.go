package update

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// testModel is a small shop schema:
//
//	Customer(Id generated)
//	Order(Id generated, CustomerId -> Customer, Version token)
//	OrderLine(OrderId -> Order, LineNo)
//	Account(Id, Email unique)
type testModel struct {
	*Model
	customer, order, line, account *EntityType
}

func newTestModel() testModel {
	customerID := &Property{Name: "Id", PrimaryKey: true, ValueGenerated: ValueGeneratedOnAdd}
	customer := &EntityType{
		Name:       "Customer",
		Table:      Table{Name: "customers"},
		Properties: []*Property{customerID, {Name: "Name"}},
	}

	orderID := &Property{Name: "Id", PrimaryKey: true, ValueGenerated: ValueGeneratedOnAdd}
	orderCustomer := &Property{Name: "CustomerId", Column: "customer_id"}
	order := &EntityType{
		Name:  "Order",
		Table: Table{Name: "orders"},
		Properties: []*Property{
			orderID,
			orderCustomer,
			{Name: "Total"},
			{Name: "Version", ConcurrencyToken: true},
		},
		ForeignKeys: []*ForeignKey{{Name: "fk_orders_customer", Properties: []*Property{orderCustomer}, PrincipalType: customer}},
	}

	lineOrder := &Property{Name: "OrderId", Column: "order_id", PrimaryKey: true}
	line := &EntityType{
		Name:  "OrderLine",
		Table: Table{Name: "order_lines"},
		Properties: []*Property{
			lineOrder,
			{Name: "LineNo", Column: "line_no", PrimaryKey: true},
			{Name: "Quantity"},
		},
		ForeignKeys: []*ForeignKey{{Name: "fk_lines_order", Properties: []*Property{lineOrder}, PrincipalType: order}},
	}

	email := &Property{Name: "Email"}
	account := &EntityType{
		Name:       "Account",
		Table:      Table{Name: "accounts"},
		Properties: []*Property{{Name: "Id", PrimaryKey: true}, email},
		UniqueKeys: []*UniqueKey{{Name: "ux_accounts_email", Properties: []*Property{email}}},
	}

	m, err := NewModel(customer, order, line, account)
	if err != nil {
		panic(err)
	}
	return testModel{Model: m, customer: customer, order: order, line: line, account: account}
}

// fakeRecord keeps values in maps keyed by property name
type fakeRecord struct {
	entity    *EntityType
	op        Operation
	current   map[string]any
	original  map[string]any
	modified  map[string]bool
	generated map[string]bool
}

func newRecord(t *EntityType, op Operation, values map[string]any) *fakeRecord {
	r := &fakeRecord{
		entity:    t,
		op:        op,
		current:   map[string]any{},
		original:  map[string]any{},
		modified:  map[string]bool{},
		generated: map[string]bool{},
	}
	for k, v := range values {
		r.current[k] = v
		r.original[k] = v
	}
	return r
}

// insert creates an added record; generated names properties the store assigns
func insert(t *EntityType, values map[string]any, generated ...string) *fakeRecord {
	r := newRecord(t, OperationInsert, values)
	for _, name := range generated {
		r.generated[name] = true
	}
	return r
}

// update creates a modified record and applies changes on top of values
func update(t *EntityType, values, changes map[string]any) *fakeRecord {
	r := newRecord(t, OperationUpdate, values)
	for k, v := range changes {
		r.current[k] = v
		r.modified[k] = true
	}
	return r
}

func remove(t *EntityType, values map[string]any) *fakeRecord {
	return newRecord(t, OperationDelete, values)
}

func (r *fakeRecord) EntityType() *EntityType           { return r.entity }
func (r *fakeRecord) Operation() Operation              { return r.op }
func (r *fakeRecord) CurrentValue(p *Property) any      { return r.current[p.Name] }
func (r *fakeRecord) OriginalValue(p *Property) any     { return r.original[p.Name] }
func (r *fakeRecord) IsModified(p *Property) bool       { return r.modified[p.Name] }
func (r *fakeRecord) IsStoreGenerated(p *Property) bool { return r.generated[p.Name] }

func (r *fakeRecord) SetCurrentValue(p *Property, v any) error {
	r.current[p.Name] = v
	delete(r.generated, p.Name)
	return nil
}

// tempKey is a placeholder value for a key the store generates
type tempKey int

func (k tempKey) String() string    { return fmt.Sprintf("tmp%d", int(k)) }
func (k tempKey) IsTemporary() bool { return true }

// textRenderer writes "op table(col,...);" and one argument per written
// column. Non-propagating commands continue the result set when grouped is
// set, propagating ones when groupedRows is set. perRow reports one result
// row per affected row instead.
type textRenderer struct {
	policy      BatchPolicy
	grouped     bool
	groupedRows bool
	perRow      bool
}

func (r *textRenderer) AppendBatchHeader(s *Statement) {}

func (r *textRenderer) AppendInsert(s *Statement, cmd *ModificationCommand, position int) (ResultSetMapping, error) {
	return r.append(s, cmd)
}

func (r *textRenderer) AppendUpdate(s *Statement, cmd *ModificationCommand, position int) (ResultSetMapping, error) {
	return r.append(s, cmd)
}

func (r *textRenderer) AppendDelete(s *Statement, cmd *ModificationCommand, position int) (ResultSetMapping, error) {
	return r.append(s, cmd)
}

func (r *textRenderer) Policy() BatchPolicy { return r.policy }

func (r *textRenderer) append(s *Statement, cmd *ModificationCommand) (ResultSetMapping, error) {
	columns, err := cmd.ColumnModifications()
	if err != nil {
		return NoResultSet, err
	}
	var names []string
	for _, m := range columns {
		if m.IsWrite {
			names = append(names, m.ColumnName)
			s.AddArg(m.Value())
		}
	}
	s.WriteString(fmt.Sprintf("%s %s(%s);", cmd.Operation(), cmd.Table(), strings.Join(names, ",")))

	propagates, _ := cmd.RequiresResultPropagation()
	switch {
	case r.perRow:
		return RowPerAffectedRow, nil
	case r.grouped && !propagates, r.groupedRows && propagates:
		return NotLastInResultSet, nil
	}
	return LastInResultSet, nil
}

// scriptedReader replays result sets of rows
type scriptedReader struct {
	sets   [][][]any
	set    int
	row    int
	err    error
	closed bool
}

func newReader(sets ...[][]any) *scriptedReader {
	return &scriptedReader{sets: sets, row: -1}
}

func (r *scriptedReader) Next() bool {
	if r.set >= len(r.sets) || r.row+1 >= len(r.sets[r.set]) {
		return false
	}
	r.row++
	return true
}

func (r *scriptedReader) Scan(dest ...any) error {
	values := r.sets[r.set][r.row]
	if len(values) != len(dest) {
		return fmt.Errorf("expected %d destination arguments in Scan, not %d", len(values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *any:
			*p = values[i]
		case *int64:
			n, ok := values[i].(int64)
			if !ok {
				return fmt.Errorf("cannot scan %T into *int64", values[i])
			}
			*p = n
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

func (r *scriptedReader) NextResultSet() bool {
	if r.set+1 >= len(r.sets) {
		return false
	}
	r.set++
	r.row = -1
	return true
}

func (r *scriptedReader) Err() error   { return r.err }
func (r *scriptedReader) Close() error { r.closed = true; return nil }

// counts builds one result set per count
func counts(values ...int64) [][][]any {
	sets := make([][][]any, len(values))
	for i, v := range values {
		sets[i] = [][]any{{v}}
	}
	return sets
}

type fakeTx struct {
	conn       *fakeConn
	committed  bool
	rolledBack bool
	commitErr  error
}

func (tx *fakeTx) Commit() error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	tx.conn.events = append(tx.conn.events, "commit")
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.rolledBack = true
	tx.conn.events = append(tx.conn.events, "rollback")
	return nil
}

// fakeConn hands out one scripted reader per query
type fakeConn struct {
	open      bool
	ambient   *fakeTx
	began     []*fakeTx
	readers   []*scriptedReader
	queryErr  error
	commitErr error

	queries []string
	args    [][]any
	events  []string
}

func (c *fakeConn) IsOpen() bool { return c.open }

func (c *fakeConn) Open(ctx context.Context) error {
	c.open = true
	c.events = append(c.events, "open")
	return nil
}

func (c *fakeConn) Close() error {
	c.open = false
	c.events = append(c.events, "close")
	return nil
}

func (c *fakeConn) CurrentTransaction() Transaction {
	if c.ambient == nil {
		return nil
	}
	return c.ambient
}

func (c *fakeConn) BeginTransaction(ctx context.Context) (Transaction, error) {
	tx := &fakeTx{conn: c, commitErr: c.commitErr}
	c.began = append(c.began, tx)
	c.events = append(c.events, "begin")
	return tx, nil
}

func (c *fakeConn) Query(ctx context.Context, text string, args []any) (ResultReader, error) {
	c.queries = append(c.queries, text)
	c.args = append(c.args, args)
	c.events = append(c.events, "query")
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	if len(c.readers) == 0 {
		return nil, errors.New("no scripted reader")
	}
	r := c.readers[0]
	c.readers = c.readers[1:]
	return r, nil
}
