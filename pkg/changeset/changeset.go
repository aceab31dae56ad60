// Package changeset reads a model and a set of dirty records from YAML, for
// planning and applying saves without Go structs:
//
//	entities:
//	  - name: Customer
//	    table: customers
//	    columns:
//	      - {name: ID, column: id, key: true, generated: on_add}
//	      - {name: Name, column: name}
//	  - name: Order
//	    table: orders
//	    columns:
//	      - {name: ID, column: id, key: true, generated: on_add}
//	      - {name: CustomerID, column: customer_id}
//	    foreign_keys:
//	      - {columns: [CustomerID], principal: Customer}
//	records:
//	  - {entity: Customer, operation: insert, values: {ID: $ann, Name: ann}}
//	  - {entity: Order, operation: insert, values: {ID: $o1, CustomerID: $ann}}
//
// Values starting with "$" are placeholders for keys the store generates.
// Once the key is known every record holding the placeholder receives it.
package changeset

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/ammar0144/save4go/pkg/update"
)

// Changeset is a parsed model plus the records to save
type Changeset struct {
	Model   *update.Model
	Records []*Record
}

type document struct {
	Entities []entityDoc `yaml:"entities"`
	Records  []recordDoc `yaml:"records"`
}

type entityDoc struct {
	Name        string          `yaml:"name"`
	Schema      string          `yaml:"schema"`
	Table       string          `yaml:"table"`
	Columns     []columnDoc     `yaml:"columns"`
	ForeignKeys []foreignKeyDoc `yaml:"foreign_keys"`
	UniqueKeys  []uniqueKeyDoc  `yaml:"unique_keys"`
}

type columnDoc struct {
	Name             string `yaml:"name"`
	Column           string `yaml:"column"`
	Key              bool   `yaml:"key"`
	ConcurrencyToken bool   `yaml:"concurrency_token"`
	Generated        string `yaml:"generated"` // never, on_add, on_add_or_update
}

type foreignKeyDoc struct {
	Name      string   `yaml:"name"`
	Columns   []string `yaml:"columns"`
	Principal string   `yaml:"principal"`
}

type uniqueKeyDoc struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
}

type recordDoc struct {
	Entity    string         `yaml:"entity"`
	Operation string         `yaml:"operation"`
	Values    map[string]any `yaml:"values"`
	Original  map[string]any `yaml:"original"`
	Modified  []string       `yaml:"modified"`
}

// Load reads and parses a changeset file
func Load(path string) (*Changeset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read changeset: %w", err)
	}
	cs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid changeset %s: %w", path, err)
	}
	return cs, nil
}

// Parse builds a changeset from YAML
func Parse(data []byte) (*Changeset, error) {
	var doc document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, err
	}

	types, err := buildTypes(doc.Entities)
	if err != nil {
		return nil, err
	}
	list := make([]*update.EntityType, len(doc.Entities))
	for i, e := range doc.Entities {
		list[i] = types[e.Name]
	}
	model, err := update.NewModel(list...)
	if err != nil {
		return nil, err
	}

	cs := &Changeset{Model: model}
	for i, rd := range doc.Records {
		r, err := cs.newRecord(types, rd)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		cs.Records = append(cs.Records, r)
	}
	if err := cs.checkPlaceholders(); err != nil {
		return nil, err
	}
	return cs, nil
}

// UpdateRecords returns the records as pipeline input
func (c *Changeset) UpdateRecords() []update.Record {
	out := make([]update.Record, len(c.Records))
	for i, r := range c.Records {
		out[i] = r
	}
	return out
}

func buildTypes(entities []entityDoc) (map[string]*update.EntityType, error) {
	types := make(map[string]*update.EntityType, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			return nil, fmt.Errorf("entity name is required")
		}
		if _, ok := types[e.Name]; ok {
			return nil, fmt.Errorf("entity %s is defined twice", e.Name)
		}
		t := &update.EntityType{Name: e.Name, Table: update.Table{Schema: e.Schema, Name: e.Table}}
		if t.Table.Name == "" {
			t.Table.Name = e.Name
		}
		for _, c := range e.Columns {
			generated, err := parseGenerated(c.Generated)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.Name, c.Name, err)
			}
			t.Properties = append(t.Properties, &update.Property{
				Name:             c.Name,
				Column:           c.Column,
				PrimaryKey:       c.Key,
				ConcurrencyToken: c.ConcurrencyToken,
				ValueGenerated:   generated,
			})
		}
		for _, u := range e.UniqueKeys {
			props, err := properties(t, u.Columns)
			if err != nil {
				return nil, err
			}
			name := u.Name
			if name == "" {
				name = "uq_" + t.Table.Name + "_" + strings.Join(u.Columns, "_")
			}
			t.UniqueKeys = append(t.UniqueKeys, &update.UniqueKey{Name: name, Properties: props})
		}
		types[e.Name] = t
	}

	// Foreign keys may point at entities declared later
	for _, e := range entities {
		t := types[e.Name]
		for _, f := range e.ForeignKeys {
			principal := types[f.Principal]
			if principal == nil {
				return nil, fmt.Errorf("%s: unknown principal entity %q", e.Name, f.Principal)
			}
			props, err := properties(t, f.Columns)
			if err != nil {
				return nil, err
			}
			name := f.Name
			if name == "" {
				name = "fk_" + t.Table.Name + "_" + strings.Join(f.Columns, "_")
			}
			t.ForeignKeys = append(t.ForeignKeys, &update.ForeignKey{
				Name:          name,
				DependentType: t,
				Properties:    props,
				PrincipalType: principal,
				PrincipalKey:  principal.PrimaryKey(),
			})
		}
	}
	return types, nil
}

func properties(t *update.EntityType, names []string) ([]*update.Property, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: key without columns", t.Name)
	}
	props := make([]*update.Property, len(names))
	for i, n := range names {
		if props[i] = t.Property(n); props[i] == nil {
			return nil, fmt.Errorf("%s: unknown column %q", t.Name, n)
		}
	}
	return props, nil
}

func parseGenerated(s string) (update.ValueGenerated, error) {
	switch s {
	case "", "never":
		return update.ValueGeneratedNever, nil
	case "on_add":
		return update.ValueGeneratedOnAdd, nil
	case "on_add_or_update":
		return update.ValueGeneratedOnAddOrUpdate, nil
	default:
		return 0, fmt.Errorf("unknown generated mode %q", s)
	}
}

func parseOperation(s string) (update.Operation, error) {
	switch s {
	case "insert":
		return update.OperationInsert, nil
	case "update":
		return update.OperationUpdate, nil
	case "delete":
		return update.OperationDelete, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

func (c *Changeset) newRecord(types map[string]*update.EntityType, rd recordDoc) (*Record, error) {
	t := types[rd.Entity]
	if t == nil {
		return nil, fmt.Errorf("unknown entity %q", rd.Entity)
	}
	op, err := parseOperation(rd.Operation)
	if err != nil {
		return nil, err
	}

	r := &Record{
		set:     c,
		entity:  t,
		op:      op,
		current: make(map[*update.Property]any, len(rd.Values)),
	}
	if err := assignValues(t, rd.Values, r.current); err != nil {
		return nil, err
	}
	if rd.Original != nil {
		r.original = make(map[*update.Property]any, len(rd.Original))
		if err := assignValues(t, rd.Original, r.original); err != nil {
			return nil, err
		}
	}
	if rd.Modified != nil {
		if op != update.OperationUpdate {
			return nil, fmt.Errorf("modified columns given for %s", op)
		}
		props, err := properties(t, rd.Modified)
		if err != nil {
			return nil, err
		}
		r.modified = make(map[*update.Property]bool, len(props))
		for _, p := range props {
			r.modified[p] = true
		}
	}
	return r, nil
}

func assignValues(t *update.EntityType, values map[string]any, into map[*update.Property]any) error {
	for name, v := range values {
		p := t.Property(name)
		if p == nil {
			return fmt.Errorf("%s: unknown column %q", t.Name, name)
		}
		if s, ok := v.(string); ok && strings.HasPrefix(s, "$") && len(s) > 1 {
			v = Placeholder(s[1:])
		}
		into[p] = v
	}
	return nil
}

// checkPlaceholders requires every placeholder to name a key some inserted
// record has the store generate
func (c *Changeset) checkPlaceholders() error {
	generated := make(map[Placeholder]bool)
	for _, r := range c.Records {
		if r.op != update.OperationInsert {
			continue
		}
		for p, v := range r.current {
			if ph, ok := v.(Placeholder); ok && p.ValueGenerated != update.ValueGeneratedNever {
				if generated[ph] {
					return fmt.Errorf("placeholder %s is generated twice", ph)
				}
				generated[ph] = true
			}
		}
	}
	for _, r := range c.Records {
		for _, values := range []map[*update.Property]any{r.current, r.original} {
			for _, v := range values {
				if ph, ok := v.(Placeholder); ok && !generated[ph] {
					return fmt.Errorf("placeholder %s is never generated", ph)
				}
			}
		}
	}
	return nil
}

// resolve replaces a placeholder everywhere once its value is known
func (c *Changeset) resolve(ph Placeholder, v any) {
	for _, r := range c.Records {
		for _, values := range []map[*update.Property]any{r.current, r.original} {
			for p, existing := range values {
				if existing == ph {
					values[p] = v
				}
			}
		}
	}
}
