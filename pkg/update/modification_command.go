package update

import (
	"fmt"
	"strings"
)

// ModificationCommand is the unit of work targeting one physical row. It
// aggregates every record that maps to the row and derives the column roles.
//
// Column modifications are cached; the cache is dirty until first computed and
// becomes dirty again whenever a record is added.
type ModificationCommand struct {
	table     Table
	operation Operation
	records   []Record

	columns  []*ColumnModification
	computed bool
	readOnly bool

	requiresResultPropagation bool
}

// NewModificationCommand creates an empty command for the table
func NewModificationCommand(table Table) *ModificationCommand {
	return &ModificationCommand{table: table}
}

// Table returns the target table
func (c *ModificationCommand) Table() Table {
	return c.table
}

// Operation returns the aggregated operation of the attached records
func (c *ModificationCommand) Operation() Operation {
	return c.operation
}

// Records returns the attached records in the order they were added
func (c *ModificationCommand) Records() []Record {
	return c.records
}

// AddRecord attaches a record. Every record of a command must have the same operation.
func (c *ModificationCommand) AddRecord(r Record) error {
	if r == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if c.readOnly {
		return fmt.Errorf("%w: command for %s is part of a batch", ErrBatchExecuted, c.table)
	}
	if len(c.records) > 0 && r.Operation() != c.operation {
		return fmt.Errorf("%w: cannot %s %s, %s already has %s",
			ErrConflictingOperation, r.Operation(), DescribeRecord(r), c.table, c.operation)
	}
	c.operation = r.Operation()
	c.records = append(c.records, r)
	c.Invalidate()
	return nil
}

// Invalidate marks the cached column modifications as dirty
func (c *ModificationCommand) Invalidate() {
	c.columns = nil
	c.computed = false
	c.requiresResultPropagation = false
}

// ColumnModifications returns the column roles, computing them if the cache is dirty
func (c *ModificationCommand) ColumnModifications() ([]*ColumnModification, error) {
	if !c.computed {
		if err := c.recompute(); err != nil {
			return nil, err
		}
	}
	return c.columns, nil
}

// RequiresResultPropagation reports whether the store returns values for this command
func (c *ModificationCommand) RequiresResultPropagation() (bool, error) {
	if _, err := c.ColumnModifications(); err != nil {
		return false, err
	}
	return c.requiresResultPropagation, nil
}

func (c *ModificationCommand) recompute() error {
	var columns []*ColumnModification
	byColumn := make(map[string]*ColumnModification)
	propagates := false

	for _, r := range c.records {
		for _, p := range r.EntityType().Properties {
			m := c.roleOf(r, p)
			if m == nil {
				continue
			}
			if existing, ok := byColumn[m.ColumnName]; ok {
				if err := existing.merge(m); err != nil {
					return fmt.Errorf("%w: column %s of %s", err, m.ColumnName, c.table)
				}
				continue
			}
			byColumn[m.ColumnName] = m
			columns = append(columns, m)
		}
	}

	for _, m := range columns {
		if m.IsRead {
			propagates = true
		}
	}

	c.columns = columns
	c.requiresResultPropagation = propagates
	c.computed = true
	return nil
}

func (c *ModificationCommand) roleOf(r Record, p *Property) *ColumnModification {
	op := c.operation
	isKey := p.PrimaryKey
	isCondition := op != OperationInsert && (p.PrimaryKey || p.ConcurrencyToken)
	isRead := op != OperationDelete && r.IsStoreGenerated(p)
	isWrite := !isRead && (op == OperationInsert || (op == OperationUpdate && r.IsModified(p)))

	if !isRead && !isWrite && !isCondition {
		return nil
	}
	return newColumnModification(r, p, isRead, isWrite, isKey, isCondition)
}

// PropagateResults copies store-generated values into the read columns, in order
func (c *ModificationCommand) PropagateResults(values []any) error {
	columns, err := c.ColumnModifications()
	if err != nil {
		return err
	}

	i := 0
	for _, m := range columns {
		if !m.IsRead {
			continue
		}
		if i >= len(values) {
			return fmt.Errorf("%w: %s returned %d value(s)", ErrPropagationArity, c, len(values))
		}
		if err := m.SetValue(values[i]); err != nil {
			return fmt.Errorf("failed to propagate %s of %s: %w", m.ColumnName, c, err)
		}
		i++
	}
	if i != len(values) {
		return fmt.Errorf("%w: %s expected %d value(s), got %d", ErrPropagationArity, c, i, len(values))
	}
	return nil
}

// ReadColumns returns the columns whose values the store returns
func (c *ModificationCommand) ReadColumns() []*ColumnModification {
	columns, _ := c.ColumnModifications()
	var read []*ColumnModification
	for _, m := range columns {
		if m.IsRead {
			read = append(read, m)
		}
	}
	return read
}

// hasWork reports whether executing the command changes anything. Updates with
// nothing to write or read are skipped.
func (c *ModificationCommand) hasWork() (bool, error) {
	if c.operation != OperationUpdate {
		return true, nil
	}
	columns, err := c.ColumnModifications()
	if err != nil {
		return false, err
	}
	for _, m := range columns {
		if m.IsWrite || m.IsRead {
			return true, nil
		}
	}
	return false, nil
}

// freeze prevents further records from being attached once the command is batched
func (c *ModificationCommand) freeze() {
	c.readOnly = true
}

// String renders the command for diagnostics
func (c *ModificationCommand) String() string {
	var b strings.Builder
	b.WriteString(c.operation.String())
	b.WriteString(" ")
	b.WriteString(c.table.String())
	if len(c.records) > 0 {
		b.WriteString(" ")
		b.WriteString(describeRecords(c.records))
	}
	return b.String()
}
