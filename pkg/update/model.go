package update

import (
	"fmt"
	"strings"
)

// Operation is the kind of mutation a record requires
type Operation int

const (
	OperationInsert Operation = iota
	OperationUpdate
	OperationDelete
)

// String returns the lower-case name of the operation
func (o Operation) String() string {
	switch o {
	case OperationInsert:
		return "insert"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// rank orders operations within an independent command set: deletes first so
// that unique values are released before other rows claim them.
func (o Operation) rank() int {
	switch o {
	case OperationDelete:
		return 0
	case OperationUpdate:
		return 1
	default:
		return 2
	}
}

// ValueGenerated describes when the store generates a property value
type ValueGenerated int

const (
	ValueGeneratedNever ValueGenerated = iota
	ValueGeneratedOnAdd
	ValueGeneratedOnAddOrUpdate
)

// Table identifies a physical table
type Table struct {
	Schema string `json:"schema" yaml:"schema"`
	Name   string `json:"name" yaml:"name"`
}

// String returns the schema-qualified table name
func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Property is one mapped column of an entity type
type Property struct {
	Name             string
	Column           string
	PrimaryKey       bool
	ConcurrencyToken bool
	ValueGenerated   ValueGenerated
}

// ColumnName returns the column the property maps to, defaulting to its name
func (p *Property) ColumnName() string {
	if p.Column != "" {
		return p.Column
	}
	return p.Name
}

// ForeignKey links dependent properties to the principal key of another type
type ForeignKey struct {
	Name          string
	DependentType *EntityType
	Properties    []*Property
	PrincipalType *EntityType
	PrincipalKey  []*Property
}

// String returns a readable description of the relationship
func (fk *ForeignKey) String() string {
	return fmt.Sprintf("%s(%s) -> %s(%s)",
		fk.DependentType.Name, propertyNames(fk.Properties),
		fk.PrincipalType.Name, propertyNames(fk.PrincipalKey))
}

// UniqueKey is a set of properties whose combined value is unique in the table
type UniqueKey struct {
	Name       string
	Properties []*Property
}

// EntityType describes how one kind of record maps to a table
type EntityType struct {
	Name        string
	Table       Table
	Properties  []*Property
	ForeignKeys []*ForeignKey // Declared on this type (this type is the dependent)
	UniqueKeys  []*UniqueKey

	referencing []*ForeignKey // Set by NewModel (this type is the principal)
}

// Property returns the property with the given name, or nil
func (t *EntityType) Property(name string) *Property {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PrimaryKey returns the primary key properties in declaration order
func (t *EntityType) PrimaryKey() []*Property {
	var key []*Property
	for _, p := range t.Properties {
		if p.PrimaryKey {
			key = append(key, p)
		}
	}
	return key
}

// ReferencingForeignKeys returns foreign keys whose principal is this type
func (t *EntityType) ReferencingForeignKeys() []*ForeignKey {
	return t.referencing
}

// Model is a validated, linked set of entity types
type Model struct {
	types  []*EntityType
	byName map[string]*EntityType
}

// NewModel validates the entity types and links every foreign key to its principal
func NewModel(types ...*EntityType) (*Model, error) {
	m := &Model{byName: make(map[string]*EntityType, len(types))}

	for _, t := range types {
		if t == nil {
			return nil, fmt.Errorf("entity type cannot be nil")
		}
		if t.Name == "" || t.Table.Name == "" {
			return nil, fmt.Errorf("entity type %q must have a name and a table", t.Name)
		}
		if _, exists := m.byName[t.Name]; exists {
			return nil, fmt.Errorf("duplicate entity type %q", t.Name)
		}
		if len(t.PrimaryKey()) == 0 {
			return nil, fmt.Errorf("entity type %q has no primary key", t.Name)
		}
		t.referencing = nil
		m.byName[t.Name] = t
		m.types = append(m.types, t)
	}

	for _, t := range m.types {
		for _, fk := range t.ForeignKeys {
			if err := m.validateForeignKey(t, fk); err != nil {
				return nil, err
			}
			fk.DependentType = t
			fk.PrincipalType.referencing = append(fk.PrincipalType.referencing, fk)
		}
		for _, uk := range t.UniqueKeys {
			if len(uk.Properties) == 0 {
				return nil, fmt.Errorf("unique key %q on %q has no properties", uk.Name, t.Name)
			}
			if err := checkOwned(t, uk.Properties); err != nil {
				return nil, fmt.Errorf("unique key %q: %w", uk.Name, err)
			}
		}
	}

	return m, nil
}

func (m *Model) validateForeignKey(t *EntityType, fk *ForeignKey) error {
	if fk.PrincipalType == nil {
		return fmt.Errorf("foreign key %q on %q has no principal type", fk.Name, t.Name)
	}
	if _, ok := m.byName[fk.PrincipalType.Name]; !ok {
		return fmt.Errorf("foreign key %q on %q references unknown type %q", fk.Name, t.Name, fk.PrincipalType.Name)
	}
	if len(fk.PrincipalKey) == 0 {
		fk.PrincipalKey = fk.PrincipalType.PrimaryKey()
	}
	if len(fk.Properties) == 0 || len(fk.Properties) != len(fk.PrincipalKey) {
		return fmt.Errorf("foreign key %q on %q has %d properties but its principal key has %d",
			fk.Name, t.Name, len(fk.Properties), len(fk.PrincipalKey))
	}
	if err := checkOwned(t, fk.Properties); err != nil {
		return fmt.Errorf("foreign key %q: %w", fk.Name, err)
	}
	if err := checkOwned(fk.PrincipalType, fk.PrincipalKey); err != nil {
		return fmt.Errorf("foreign key %q principal key: %w", fk.Name, err)
	}
	return nil
}

// EntityType returns the entity type with the given name, or nil
func (m *Model) EntityType(name string) *EntityType {
	return m.byName[name]
}

// EntityTypes returns all entity types in registration order
func (m *Model) EntityTypes() []*EntityType {
	return m.types
}

func checkOwned(t *EntityType, props []*Property) error {
	for _, p := range props {
		owned := false
		for _, candidate := range t.Properties {
			if candidate == p {
				owned = true
				break
			}
		}
		if !owned {
			return fmt.Errorf("property %q does not belong to %q", p.Name, t.Name)
		}
	}
	return nil
}

func propertyNames(props []*Property) string {
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
