package update

// ColumnModification is the role one column plays for one record within a command
type ColumnModification struct {
	record   Record
	property *Property
	shared   []*ColumnModification // Other records mapped to the same column of the row

	ColumnName         string
	IsRead             bool // Store generates and returns the value
	IsWrite            bool // Value is sent to the store
	IsKey              bool // Part of the primary key
	IsCondition        bool // Used in the WHERE clause of an update or delete
	IsConcurrencyToken bool
}

func newColumnModification(r Record, p *Property, isRead, isWrite, isKey, isCondition bool) *ColumnModification {
	return &ColumnModification{
		record:             r,
		property:           p,
		ColumnName:         p.ColumnName(),
		IsRead:             isRead,
		IsWrite:            isWrite,
		IsKey:              isKey,
		IsCondition:        isCondition,
		IsConcurrencyToken: p.ConcurrencyToken,
	}
}

// Record returns the record the column belongs to
func (c *ColumnModification) Record() Record {
	return c.record
}

// Property returns the mapped property
func (c *ColumnModification) Property() *Property {
	return c.property
}

// Value returns the current value to write
func (c *ColumnModification) Value() any {
	return c.record.CurrentValue(c.property)
}

// OriginalValue returns the value used in conditions
func (c *ColumnModification) OriginalValue() any {
	return c.record.OriginalValue(c.property)
}

// SetValue writes a store-provided value into the record, and into every
// other record sharing the column
func (c *ColumnModification) SetValue(v any) error {
	if err := c.record.SetCurrentValue(c.property, v); err != nil {
		return err
	}
	for _, s := range c.shared {
		if err := s.record.SetCurrentValue(s.property, v); err != nil {
			return err
		}
	}
	return nil
}

// merge folds the role of another record's column into c. The writing side
// becomes the primary so Value reports the written value.
func (c *ColumnModification) merge(other *ColumnModification) error {
	if c.IsWrite && other.IsWrite && !valuesEqual(c.Value(), other.Value()) {
		return ErrConflictingValues
	}
	if other.IsWrite && !c.IsWrite {
		c.record, other.record = other.record, c.record
		c.property, other.property = other.property, c.property
	}
	c.shared = append(c.shared, other)
	c.IsRead = c.IsRead || other.IsRead
	c.IsWrite = c.IsWrite || other.IsWrite
	c.IsKey = c.IsKey || other.IsKey
	c.IsCondition = c.IsCondition || other.IsCondition
	c.IsConcurrencyToken = c.IsConcurrencyToken || other.IsConcurrencyToken
	if c.IsWrite {
		c.IsRead = false
	}
	return nil
}
