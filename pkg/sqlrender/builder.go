package sqlrender

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"

	"github.com/ammar0144/save4go/pkg/update"
)

// Operator represents SQL comparison operators used in conditions
type Operator string

const (
	Equal  Operator = "="
	IsNull Operator = "IS NULL"
)

// Condition represents one term of a WHERE clause
type Condition struct {
	Column   string
	Operator Operator
	Value    any
}

// dialect supplies identifier quoting and placeholders.
//
// SECURITY: identifiers come from model metadata and are quoted; values are
// always sent as arguments.
type dialect interface {
	quote(ident string) string
	placeholder(ordinal int) string
}

// builder writes clauses for one command into a statement
type builder struct {
	d dialect
	s *update.Statement
}

func (b builder) table(t update.Table) string {
	if t.Schema == "" {
		return b.d.quote(t.Name)
	}
	return b.d.quote(t.Schema) + "." + b.d.quote(t.Name)
}

func (b builder) columnList(columns []*update.ColumnModification) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = b.d.quote(c.ColumnName)
	}
	return strings.Join(names, ", ")
}

// arg adds a value and returns its placeholder
func (b builder) arg(v any) (string, error) {
	if tv, ok := v.(update.TemporaryValue); ok && tv.IsTemporary() {
		return "", fmt.Errorf("%w: %s", update.ErrTemporaryValue, tv)
	}
	return b.d.placeholder(b.s.AddArg(v)), nil
}

func (b builder) values(columns []*update.ColumnModification) (string, error) {
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		p, err := b.arg(c.Value())
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.ColumnName, err)
		}
		placeholders[i] = p
	}
	return strings.Join(placeholders, ", "), nil
}

func (b builder) assignments(columns []*update.ColumnModification) (string, error) {
	set := make([]string, len(columns))
	for i, c := range columns {
		p, err := b.arg(c.Value())
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.ColumnName, err)
		}
		set[i] = b.d.quote(c.ColumnName) + " = " + p
	}
	return strings.Join(set, ", "), nil
}

// where joins conditions with AND
func (b builder) where(conditions []Condition) (string, error) {
	terms := make([]string, 0, len(conditions))
	for _, c := range conditions {
		switch c.Operator {
		case IsNull:
			terms = append(terms, b.d.quote(c.Column)+" IS NULL")
		default:
			p, err := b.arg(c.Value)
			if err != nil {
				return "", fmt.Errorf("column %s: %w", c.Column, err)
			}
			terms = append(terms, fmt.Sprintf("%s %s %s", b.d.quote(c.Column), c.Operator, p))
		}
	}
	return strings.Join(terms, " AND "), nil
}

// splitColumns sorts a command's columns by role
func splitColumns(cmd *update.ModificationCommand) (write, read, condition, key []*update.ColumnModification, err error) {
	columns, err := cmd.ColumnModifications()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for _, c := range columns {
		if c.IsWrite {
			write = append(write, c)
		}
		if c.IsRead {
			read = append(read, c)
		}
		if c.IsCondition {
			condition = append(condition, c)
		}
		if c.IsKey {
			key = append(key, c)
		}
	}
	return write, read, condition, key, nil
}

// conditionsOf matches the original values; a null original matches with IS NULL
func conditionsOf(columns []*update.ColumnModification) []Condition {
	conditions := make([]Condition, len(columns))
	for i, c := range columns {
		v := c.OriginalValue()
		if isNull(v) {
			conditions[i] = Condition{Column: c.ColumnName, Operator: IsNull}
		} else {
			conditions[i] = Condition{Column: c.ColumnName, Operator: Equal, Value: v}
		}
	}
	return conditions
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	if valuer, ok := v.(driver.Valuer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return true
		}
		dv, err := valuer.Value()
		return err == nil && dv == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
