package update

import (
	"fmt"
	"strings"
)

// Record is one tracked entity instance that needs an insert, update or delete.
// Records are supplied by the change-tracking layer; the pipeline reads their
// values and writes store-generated values back through SetCurrentValue.
type Record interface {
	EntityType() *EntityType
	Operation() Operation

	CurrentValue(p *Property) any
	OriginalValue(p *Property) any

	// IsModified reports whether the property changed since it was loaded
	IsModified(p *Property) bool

	// IsStoreGenerated reports whether the store must generate and return the
	// value of the property for this record's operation
	IsStoreGenerated(p *Property) bool

	SetCurrentValue(p *Property, value any) error
}

// keyValues returns the primary key values used to identify the record's row
func keyValues(r Record) []any {
	key := r.EntityType().PrimaryKey()
	values := make([]any, len(key))
	for i, p := range key {
		if r.Operation() == OperationInsert {
			values[i] = r.CurrentValue(p)
		} else {
			values[i] = r.OriginalValue(p)
		}
	}
	return values
}

// RowKey returns the canonical key of the row the record targets. It is
// false when a key value is nil.
func RowKey(r Record) (string, bool) {
	return CanonicalKey(keyValues(r)...)
}

// DescribeRecord renders a record as EntityType{Key: value, ...}
func DescribeRecord(r Record) string {
	if s, ok := r.(fmt.Stringer); ok {
		return s.String()
	}

	t := r.EntityType()
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteString("{")
	for i, p := range t.PrimaryKey() {
		if i > 0 {
			b.WriteString(", ")
		}
		v := r.CurrentValue(p)
		if r.Operation() != OperationInsert {
			v = r.OriginalValue(p)
		}
		fmt.Fprintf(&b, "%s: %v", p.Name, v)
	}
	b.WriteString("}")
	return b.String()
}

func describeRecords(records []Record) string {
	parts := make([]string, len(records))
	for i, r := range records {
		parts[i] = DescribeRecord(r)
	}
	return strings.Join(parts, ", ")
}
