package repository

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/ammar0144/save4go/pkg/model"
	"github.com/ammar0144/save4go/pkg/update"
)

// EntityState is the change tracking state of an entry
type EntityState int

const (
	StateDetached EntityState = iota
	StateUnchanged
	StateAdded
	StateModified
	StateDeleted
)

// String returns the lower-case name of the state
func (s EntityState) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateUnchanged:
		return "unchanged"
	case StateAdded:
		return "added"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// temporaryKey stands in for a key the store has not generated yet
type temporaryKey int64

func (k temporaryKey) String() string    { return fmt.Sprintf("tmp#%d", int64(k)) }
func (k temporaryKey) IsTemporary() bool { return true }

// Entry tracks one entity instance of a Session and presents it to the
// update pipeline as an update.Record
type Entry struct {
	session *Session
	entity  *model.Entity
	ptr     any
	value   reflect.Value

	state    EntityState
	forced   bool // Update() marks every column modified
	original map[*update.Property]any
	temp     map[*update.Property]any
}

// Entity returns the tracked struct pointer
func (e *Entry) Entity() any {
	return e.ptr
}

// State returns the entry's tracking state
func (e *Entry) State() EntityState {
	return e.state
}

// EntityType implements update.Record
func (e *Entry) EntityType() *update.EntityType {
	return e.entity.Type
}

// Operation implements update.Record
func (e *Entry) Operation() update.Operation {
	switch e.state {
	case StateAdded:
		return update.OperationInsert
	case StateDeleted:
		return update.OperationDelete
	default:
		return update.OperationUpdate
	}
}

// CurrentValue implements update.Record. Keys the store will generate read
// as temporary values until the save propagates the real ones.
func (e *Entry) CurrentValue(p *update.Property) any {
	if v, ok := e.temp[p]; ok {
		return v
	}
	return e.entity.Value(context.Background(), e.value, p)
}

// OriginalValue implements update.Record
func (e *Entry) OriginalValue(p *update.Property) any {
	if e.original == nil {
		return e.CurrentValue(p)
	}
	return e.original[p]
}

// IsModified implements update.Record
func (e *Entry) IsModified(p *update.Property) bool {
	if e.state != StateModified || p.PrimaryKey {
		return false
	}
	if e.forced {
		return true
	}
	return !sameValue(e.CurrentValue(p), e.original[p])
}

// IsStoreGenerated implements update.Record
func (e *Entry) IsStoreGenerated(p *update.Property) bool {
	switch e.state {
	case StateAdded:
		if p.ValueGenerated == update.ValueGeneratedNever {
			return false
		}
		if _, ok := e.temp[p]; ok {
			return true
		}
		return e.entity.IsZero(context.Background(), e.value, p)
	case StateModified, StateUnchanged:
		return p.ValueGenerated == update.ValueGeneratedOnAddOrUpdate
	default:
		return false
	}
}

// SetCurrentValue implements update.Record. A changed principal key is
// copied into tracked dependents still referring to the previous value.
func (e *Entry) SetCurrentValue(p *update.Property, v any) error {
	previous := e.CurrentValue(p)
	if err := e.assign(p, v); err != nil {
		return err
	}
	current := e.CurrentValue(p)
	if previous == nil || sameValue(previous, current) {
		return nil
	}
	return e.session.fixupDependents(e, p, previous, current)
}

// assign stores v without fixing up dependents. Temporary values are kept
// beside the struct, which cannot hold them.
func (e *Entry) assign(p *update.Property, v any) error {
	if k, ok := v.(temporaryKey); ok {
		e.temp[p] = k
		return nil
	}
	delete(e.temp, p)
	return e.entity.SetValue(context.Background(), e.value, p, v)
}

// String renders the entry as Type{Key: value}
func (e *Entry) String() string {
	var b strings.Builder
	b.WriteString(e.entity.Type.Name)
	b.WriteString("{")
	for i, p := range e.entity.Type.PrimaryKey() {
		if i > 0 {
			b.WriteString(", ")
		}
		v := e.CurrentValue(p)
		if e.state == StateDeleted {
			v = e.OriginalValue(p)
		}
		fmt.Fprintf(&b, "%s: %v", p.Name, v)
	}
	b.WriteString("}")
	return b.String()
}

// snapshot records the current values as originals
func (e *Entry) snapshot() {
	e.original = make(map[*update.Property]any, len(e.entity.Type.Properties))
	for _, p := range e.entity.Type.Properties {
		e.original[p] = e.CurrentValue(p)
	}
}

// hasChanges compares every property against the snapshot
func (e *Entry) hasChanges() bool {
	for _, p := range e.entity.Type.Properties {
		if !p.PrimaryKey && !sameValue(e.CurrentValue(p), e.original[p]) {
			return true
		}
	}
	return false
}

// keyValues returns the values identifying the entry's row in the store
func (e *Entry) keyValues() []any {
	key := e.entity.Type.PrimaryKey()
	values := make([]any, len(key))
	for i, p := range key {
		if e.state == StateDeleted {
			values[i] = e.OriginalValue(p)
		} else {
			values[i] = e.CurrentValue(p)
		}
	}
	return values
}

// row returns the current column values
func (e *Entry) row() map[string]any {
	row := make(map[string]any, len(e.entity.Type.Properties))
	for _, p := range e.entity.Type.Properties {
		row[p.ColumnName()] = e.CurrentValue(p)
	}
	return row
}

// checkpoint captures what a failed save must put back: raw field values
// (store generated values are written into them) and temporary keys
type checkpoint struct {
	entry  *Entry
	fields map[*update.Property]any
	temp   map[*update.Property]any
}

func (e *Entry) checkpoint() checkpoint {
	c := checkpoint{
		entry:  e,
		fields: make(map[*update.Property]any, len(e.entity.Type.Properties)),
		temp:   make(map[*update.Property]any, len(e.temp)),
	}
	for _, p := range e.entity.Type.Properties {
		c.fields[p] = e.entity.Field(p).ReflectValueOf(context.Background(), e.value).Interface()
	}
	for p, v := range e.temp {
		c.temp[p] = v
	}
	return c
}

func (c checkpoint) restore() error {
	for p, v := range c.fields {
		if err := c.entry.entity.SetValue(context.Background(), c.entry.value, p, v); err != nil {
			return err
		}
	}
	c.entry.temp = c.temp
	return nil
}

// sameValue compares column values by their canonical key encoding
func sameValue(a, b any) bool {
	ca, okA := update.CanonicalKey(a)
	cb, okB := update.CanonicalKey(b)
	if !okA || !okB {
		return okA == okB
	}
	return ca == cb
}
