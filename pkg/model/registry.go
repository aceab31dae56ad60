// Package model derives update metadata from GORM-annotated Go structs.
//
// Primary keys, generated values, concurrency tokens, unique keys and
// relationships are read from the struct's GORM schema:
//
//	type Order struct {
//		ID         uint
//		CustomerID uint
//		Customer   *Customer
//		Reference  string `gorm:"uniqueIndex"`
//		Version    int    `gorm:"concurrencyToken"`
//	}
package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru"
	"gorm.io/gorm/schema"

	"github.com/ammar0144/save4go/pkg/update"
)

// DefaultCacheSize is the number of parsed struct types a Registry keeps
const DefaultCacheSize = 256

// Registry parses Go structs into entity types. It is safe for concurrent use.
type Registry struct {
	namer   schema.Namer
	schemas sync.Map // GORM's own parse cache
	parsed  *lru.Cache
}

// blueprint is the model-independent part of an entity type
type blueprint struct {
	schema     *schema.Schema
	properties []*update.Property
	uniqueKeys []*update.UniqueKey
	fields     map[*update.Property]*schema.Field
	byColumn   map[string]*update.Property
}

// NewRegistry returns a Registry caching up to size parsed types. A nil namer
// selects GORM's default naming strategy.
func NewRegistry(size int, namer schema.Namer) (*Registry, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Registry{namer: namer, parsed: cache}, nil
}

// Model parses the given struct values (or pointers to them) and links their
// relationships into a validated model. Relationships to types outside the
// set are ignored.
func (r *Registry) Model(values ...any) (*Model, error) {
	m := &Model{
		byGoType: make(map[reflect.Type]*Entity, len(values)),
		byType:   make(map[*update.EntityType]*Entity, len(values)),
	}

	var types []*update.EntityType
	for _, v := range values {
		bp, err := r.blueprint(v)
		if err != nil {
			return nil, err
		}
		if _, ok := m.byGoType[bp.schema.ModelType]; ok {
			continue
		}
		e := &Entity{
			Type: &update.EntityType{
				Name:       bp.schema.Name,
				Table:      update.Table{Name: bp.schema.Table},
				Properties: bp.properties,
				UniqueKeys: bp.uniqueKeys,
			},
			Schema: bp.schema,
			bp:     bp,
		}
		m.byGoType[bp.schema.ModelType] = e
		m.byType[e.Type] = e
		types = append(types, e.Type)
	}

	for _, t := range types {
		if err := m.linkRelationships(m.byType[t]); err != nil {
			return nil, err
		}
	}

	linked, err := update.NewModel(types...)
	if err != nil {
		return nil, err
	}
	m.Model = linked
	return m, nil
}

func (r *Registry) blueprint(value any) (*blueprint, error) {
	goType := indirectType(reflect.TypeOf(value))
	if goType == nil || goType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%T is not a struct", value)
	}
	if cached, ok := r.parsed.Get(goType); ok {
		return cached.(*blueprint), nil
	}

	s, err := schema.Parse(reflect.New(goType).Interface(), &r.schemas, r.namer)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", goType, err)
	}
	bp, err := newBlueprint(s, r.namer)
	if err != nil {
		return nil, err
	}
	r.parsed.Add(goType, bp)
	return bp, nil
}

func newBlueprint(s *schema.Schema, namer schema.Namer) (*blueprint, error) {
	bp := &blueprint{
		schema:   s,
		fields:   make(map[*update.Property]*schema.Field),
		byColumn: make(map[string]*update.Property),
	}

	for _, column := range s.DBNames {
		f := s.FieldsByDBName[column]
		if f == nil || !(f.Readable || f.Creatable || f.Updatable) {
			continue
		}
		p := &update.Property{
			Name:           f.Name,
			Column:         f.DBName,
			PrimaryKey:     f.PrimaryKey,
			ValueGenerated: valueGenerated(f),
		}
		_, p.ConcurrencyToken = f.TagSettings["CONCURRENCYTOKEN"]

		bp.properties = append(bp.properties, p)
		bp.fields[p] = f
		bp.byColumn[column] = p
	}
	if len(s.PrimaryFields) == 0 {
		return nil, fmt.Errorf("%s has no primary key", s.Name)
	}

	seen := make(map[string]bool)
	addUnique := func(name string, props []*update.Property) {
		names := make([]string, len(props))
		for i, p := range props {
			names[i] = p.Column
		}
		sig := strings.Join(names, ",")
		if len(props) == 0 || seen[sig] {
			return
		}
		seen[sig] = true
		bp.uniqueKeys = append(bp.uniqueKeys, &update.UniqueKey{Name: name, Properties: props})
	}

	for _, p := range bp.properties {
		if bp.fields[p].Unique && !p.PrimaryKey {
			addUnique(namer.UniqueName(s.Table, p.Column), []*update.Property{p})
		}
	}
	for _, idx := range s.ParseIndexes() {
		if idx.Class != "UNIQUE" {
			continue
		}
		var props []*update.Property
		for _, opt := range idx.Fields {
			if opt.Field == nil || bp.byColumn[opt.DBName] == nil {
				props = nil // Expression indexes are not tracked
				break
			}
			props = append(props, bp.byColumn[opt.DBName])
		}
		addUnique(idx.Name, props)
	}
	return bp, nil
}

// valueGenerated maps GORM's defaults onto store generation: identity columns
// and database-side defaults are generated on insert, read-only columns on
// every write
func valueGenerated(f *schema.Field) update.ValueGenerated {
	switch {
	case !f.Creatable && !f.Updatable:
		return update.ValueGeneratedOnAddOrUpdate
	case f.AutoIncrement:
		return update.ValueGeneratedOnAdd
	case f.HasDefaultValue && f.DefaultValueInterface == nil && f.DefaultValue != "":
		return update.ValueGeneratedOnAdd
	default:
		return update.ValueGeneratedNever
	}
}

// linkRelationships declares a foreign key on the dependent side for every
// belongs-to, has-one and has-many relationship of e
func (m *Model) linkRelationships(e *Entity) error {
	rels := &e.Schema.Relationships
	var all []*schema.Relationship
	all = append(all, rels.BelongsTo...)
	all = append(all, rels.HasOne...)
	all = append(all, rels.HasMany...)

	for _, rel := range all {
		if rel.Polymorphic != nil || len(rel.References) == 0 {
			continue
		}
		dependent, principal := m.byGoType[rel.References[0].ForeignKey.Schema.ModelType],
			m.byGoType[rel.References[0].PrimaryKey.Schema.ModelType]
		if dependent == nil || principal == nil {
			continue
		}

		fk := &update.ForeignKey{PrincipalType: principal.Type}
		columns := make([]string, 0, len(rel.References))
		for _, ref := range rel.References {
			dp := dependent.bp.byColumn[ref.ForeignKey.DBName]
			pp := principal.bp.byColumn[ref.PrimaryKey.DBName]
			if dp == nil || pp == nil {
				return fmt.Errorf("relationship %s.%s maps unknown columns", e.Type.Name, rel.Name)
			}
			fk.Properties = append(fk.Properties, dp)
			fk.PrincipalKey = append(fk.PrincipalKey, pp)
			columns = append(columns, dp.Column)
		}
		fk.Name = fmt.Sprintf("fk_%s_%s", dependent.Type.Table.Name, strings.Join(columns, "_"))

		target := dependent
		if rel.Type == schema.BelongsTo {
			target = principal
		}
		e.navigations = append(e.navigations, &Navigation{
			Name:        rel.Name,
			ForeignKey:  dependent.addForeignKey(fk),
			Target:      target,
			OnDependent: rel.Type == schema.BelongsTo,
			Collection:  rel.Type == schema.HasMany,
			field:       rel.Field,
		})
	}
	sort.SliceStable(e.navigations, func(i, j int) bool { return e.navigations[i].Name < e.navigations[j].Name })
	return nil
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && (t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
		t = t.Elem()
	}
	return t
}
