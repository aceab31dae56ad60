package update

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func columnsByName(t *testing.T, cmd *ModificationCommand) map[string]*ColumnModification {
	columns, err := cmd.ColumnModifications()
	require.NoError(t, err)
	byName := make(map[string]*ColumnModification, len(columns))
	for _, m := range columns {
		byName[m.ColumnName] = m
	}
	return byName
}

func TestInsertRolesReadGeneratedKey(t *testing.T) {
	m := newTestModel()
	cmd := NewModificationCommand(m.order.Table)
	require.NoError(t, cmd.AddRecord(insert(m.order, map[string]any{
		"Id": tempKey(1), "CustomerId": 7, "Total": 10, "Version": 1,
	}, "Id")))

	columns := columnsByName(t, cmd)
	require.Len(t, columns, 4)

	id := columns["Id"]
	require.True(t, id.IsRead)
	require.False(t, id.IsWrite)
	require.True(t, id.IsKey)
	require.False(t, id.IsCondition)

	// Concurrency tokens are plain writes on insert.
	version := columns["Version"]
	require.True(t, version.IsWrite)
	require.False(t, version.IsCondition)
	require.True(t, version.IsConcurrencyToken)

	require.True(t, columns["customer_id"].IsWrite)

	propagates, err := cmd.RequiresResultPropagation()
	require.NoError(t, err)
	require.True(t, propagates)
	require.Len(t, cmd.ReadColumns(), 1)
}

func TestUpdateRolesOnlyModifiedColumns(t *testing.T) {
	m := newTestModel()
	cmd := NewModificationCommand(m.order.Table)
	require.NoError(t, cmd.AddRecord(update(m.order,
		map[string]any{"Id": 3, "CustomerId": 7, "Total": 10, "Version": 1},
		map[string]any{"Total": 12})))

	columns := columnsByName(t, cmd)
	require.Len(t, columns, 3)
	require.NotContains(t, columns, "customer_id")

	require.True(t, columns["Total"].IsWrite)
	require.Equal(t, 12, columns["Total"].Value())

	require.True(t, columns["Id"].IsCondition)
	require.True(t, columns["Id"].IsKey)
	require.False(t, columns["Id"].IsWrite)

	require.True(t, columns["Version"].IsCondition)
	require.False(t, columns["Version"].IsWrite)
	require.Equal(t, 1, columns["Version"].OriginalValue())

	propagates, err := cmd.RequiresResultPropagation()
	require.NoError(t, err)
	require.False(t, propagates)
}

func TestDeleteRolesAreConditionsOnly(t *testing.T) {
	m := newTestModel()
	cmd := NewModificationCommand(m.order.Table)
	require.NoError(t, cmd.AddRecord(remove(m.order, map[string]any{
		"Id": 3, "CustomerId": 7, "Total": 10, "Version": 4,
	})))

	columns := columnsByName(t, cmd)
	require.Len(t, columns, 2)
	for _, c := range columns {
		require.True(t, c.IsCondition)
		require.False(t, c.IsWrite)
		require.False(t, c.IsRead)
	}
}

func TestAddRecordRejectsConflictingOperation(t *testing.T) {
	m := newTestModel()
	cmd := NewModificationCommand(m.account.Table)
	require.NoError(t, cmd.AddRecord(update(m.account, map[string]any{"Id": 1}, map[string]any{"Email": "a@x"})))

	err := cmd.AddRecord(remove(m.account, map[string]any{"Id": 1}))
	require.ErrorIs(t, err, ErrConflictingOperation)
	require.Len(t, cmd.Records(), 1)
}

func TestSharedRowMergesColumns(t *testing.T) {
	// Two entity types split over one table.
	id := &Property{Name: "Id", PrimaryKey: true}
	name := &Property{Name: "Name"}
	head := &EntityType{Name: "Head", Table: Table{Name: "people"}, Properties: []*Property{id, name}}
	detailID := &Property{Name: "Id", PrimaryKey: true}
	bio := &Property{Name: "Bio"}
	detail := &EntityType{Name: "Detail", Table: Table{Name: "people"}, Properties: []*Property{detailID, bio}}
	_, err := NewModel(head, detail)
	require.NoError(t, err)

	cmd := NewModificationCommand(head.Table)
	require.NoError(t, cmd.AddRecord(update(head, map[string]any{"Id": 1}, map[string]any{"Name": "ann"})))
	require.NoError(t, cmd.AddRecord(update(detail, map[string]any{"Id": 1}, map[string]any{"Bio": "hi"})))

	columns := columnsByName(t, cmd)
	require.Len(t, columns, 3)
	require.True(t, columns["Id"].IsCondition)
	require.True(t, columns["Name"].IsWrite)
	require.True(t, columns["Bio"].IsWrite)

	// Both records writing different values to one column is an error.
	other := NewModificationCommand(head.Table)
	require.NoError(t, other.AddRecord(update(head, map[string]any{"Id": 2}, map[string]any{"Id": 5})))
	require.NoError(t, other.AddRecord(update(detail, map[string]any{"Id": 2}, map[string]any{"Id": 6})))
	_, err = other.ColumnModifications()
	require.ErrorIs(t, err, ErrConflictingValues)
}

func TestAddRecordInvalidatesColumns(t *testing.T) {
	m := newTestModel()
	cmd := NewModificationCommand(m.customer.Table)
	first := update(m.customer, map[string]any{"Id": 1}, nil)
	require.NoError(t, cmd.AddRecord(first))

	work, err := cmd.hasWork()
	require.NoError(t, err)
	require.False(t, work)

	first.current["Name"] = "bob"
	first.modified["Name"] = true
	// Cached until invalidated.
	require.Len(t, columnsByName(t, cmd), 1)
	cmd.Invalidate()
	require.Len(t, columnsByName(t, cmd), 2)

	work, err = cmd.hasWork()
	require.NoError(t, err)
	require.True(t, work)
}

func TestPropagateResults(t *testing.T) {
	m := newTestModel()
	r := insert(m.customer, map[string]any{"Id": tempKey(1), "Name": "ann"}, "Id")
	cmd := NewModificationCommand(m.customer.Table)
	require.NoError(t, cmd.AddRecord(r))

	require.NoError(t, cmd.PropagateResults([]any{int64(41)}))
	require.Equal(t, int64(41), r.current["Id"])

	require.ErrorIs(t, cmd.PropagateResults(nil), ErrPropagationArity)
	require.ErrorIs(t, cmd.PropagateResults([]any{1, 2}), ErrPropagationArity)
}

func TestFrozenCommandRejectsRecords(t *testing.T) {
	m := newTestModel()
	cmd := NewModificationCommand(m.customer.Table)
	require.NoError(t, cmd.AddRecord(insert(m.customer, map[string]any{"Id": 1})))
	cmd.freeze()
	require.ErrorIs(t, cmd.AddRecord(insert(m.customer, map[string]any{"Id": 1})), ErrBatchExecuted)
}

func TestCommandString(t *testing.T) {
	m := newTestModel()
	cmd := NewModificationCommand(m.line.Table)
	require.NoError(t, cmd.AddRecord(remove(m.line, map[string]any{"OrderId": 3, "LineNo": 1})))
	require.Equal(t, "delete order_lines OrderLine{OrderId: 3, LineNo: 1}", cmd.String())
}

func TestNewModelValidation(t *testing.T) {
	id := &Property{Name: "Id", PrimaryKey: true}
	_, err := NewModel(&EntityType{Name: "NoKey", Table: Table{Name: "t"}, Properties: []*Property{{Name: "A"}}})
	require.EqualError(t, err, `entity type "NoKey" has no primary key`)

	principal := &EntityType{Name: "P", Table: Table{Name: "p"}, Properties: []*Property{id}}
	a := &Property{Name: "A"}
	b := &Property{Name: "B"}
	dependent := &EntityType{
		Name:        "D",
		Table:       Table{Name: "d"},
		Properties:  []*Property{{Name: "Id", PrimaryKey: true}, a, b},
		ForeignKeys: []*ForeignKey{{Name: "fk", Properties: []*Property{a, b}, PrincipalType: principal}},
	}
	_, err = NewModel(principal, dependent)
	require.EqualError(t, err, `foreign key "fk" on "D" has 2 properties but its principal key has 1`)

	dependent.ForeignKeys[0].Properties = []*Property{a}
	model, err := NewModel(principal, dependent)
	require.NoError(t, err)
	require.Equal(t, []*ForeignKey{dependent.ForeignKeys[0]}, model.EntityType("P").ReferencingForeignKeys())
	require.Equal(t, dependent, dependent.ForeignKeys[0].DependentType)
}
