package model

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"

	"github.com/ammar0144/save4go/pkg/update"
)

// Model is an update.Model whose entity types were parsed from Go structs
type Model struct {
	*update.Model

	byGoType map[reflect.Type]*Entity
	byType   map[*update.EntityType]*Entity
}

// Entity binds an entity type to the GORM schema of its struct
type Entity struct {
	Type   *update.EntityType
	Schema *schema.Schema

	bp          *blueprint
	navigations []*Navigation
}

// Navigation is a struct field holding related entities
type Navigation struct {
	Name       string
	ForeignKey *update.ForeignKey
	Target     *Entity

	// OnDependent is set for belongs-to navigations, which point from the
	// dependent at its principal. Otherwise the navigation holds dependents.
	OnDependent bool
	Collection  bool

	field *schema.Field
}

// Entity returns the entity bound to the struct type of value
func (m *Model) Entity(value any) (*Entity, error) {
	t := indirectType(reflect.TypeOf(value))
	if e, ok := m.byGoType[t]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("type %v is not part of the model", t)
}

// EntityOf returns the entity bound to t, or nil
func (m *Model) EntityOf(t *update.EntityType) *Entity {
	return m.byType[t]
}

// Navigations returns the relationship fields of the entity
func (e *Entity) Navigations() []*Navigation {
	return e.navigations
}

// Field returns the GORM field mapped by p
func (e *Entity) Field(p *update.Property) *schema.Field {
	return e.bp.fields[p]
}

// Value reads p from the struct pointed to by v. Pointer fields are
// dereferenced so the result is a snapshot, and nil pointers read as nil.
func (e *Entity) Value(ctx context.Context, v reflect.Value, p *update.Property) any {
	value, _ := e.bp.fields[p].ValueOf(ctx, v)
	rv := reflect.ValueOf(value)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// IsZero reports whether p holds its type's zero value in v
func (e *Entity) IsZero(ctx context.Context, v reflect.Value, p *update.Property) bool {
	_, zero := e.bp.fields[p].ValueOf(ctx, v)
	return zero
}

// SetValue writes value into p of the struct pointed to by v, converting
// driver types such as int64 or []byte into the field's type
func (e *Entity) SetValue(ctx context.Context, v reflect.Value, p *update.Property, value any) error {
	if err := e.bp.fields[p].Set(ctx, v, value); err != nil {
		return fmt.Errorf("failed to set %s.%s: %w", e.Type.Name, p.Name, err)
	}
	return nil
}

// Related returns the entities held by navigation n of the struct pointed to
// by v, as pointers. Elements of value slices are addressed in place.
func (n *Navigation) Related(ctx context.Context, v reflect.Value) []any {
	fv := n.field.ReflectValueOf(ctx, v)
	var related []any

	add := func(rv reflect.Value) {
		switch {
		case rv.Kind() == reflect.Pointer && !rv.IsNil():
			related = append(related, rv.Interface())
		case rv.Kind() == reflect.Struct && rv.CanAddr():
			related = append(related, rv.Addr().Interface())
		}
	}
	switch fv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < fv.Len(); i++ {
			add(fv.Index(i))
		}
	default:
		add(fv)
	}
	return related
}

func (e *Entity) addForeignKey(fk *update.ForeignKey) *update.ForeignKey {
	for _, existing := range e.Type.ForeignKeys {
		if existing.PrincipalType == fk.PrincipalType && sameProperties(existing.Properties, fk.Properties) {
			return existing
		}
	}
	e.Type.ForeignKeys = append(e.Type.ForeignKeys, fk)
	return fk
}

func sameProperties(a, b []*update.Property) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
