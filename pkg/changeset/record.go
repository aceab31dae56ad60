package changeset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ammar0144/save4go/pkg/update"
)

// Placeholder stands in for a generated key, written "$name" in YAML
type Placeholder string

func (p Placeholder) String() string    { return "$" + string(p) }
func (p Placeholder) IsTemporary() bool { return true }

// Record is one dirty row of a changeset. It implements update.Record.
type Record struct {
	set    *Changeset
	entity *update.EntityType
	op     update.Operation

	current  map[*update.Property]any
	original map[*update.Property]any // nil: same as current
	modified map[*update.Property]bool
}

// EntityType implements update.Record
func (r *Record) EntityType() *update.EntityType { return r.entity }

// Operation implements update.Record
func (r *Record) Operation() update.Operation { return r.op }

// CurrentValue implements update.Record
func (r *Record) CurrentValue(p *update.Property) any { return r.current[p] }

// OriginalValue implements update.Record
func (r *Record) OriginalValue(p *update.Property) any {
	if v, ok := r.original[p]; ok {
		return v
	}
	return r.current[p]
}

// IsModified implements update.Record. Without an explicit list, columns of
// an update whose value differs from the original are modified.
func (r *Record) IsModified(p *update.Property) bool {
	if r.op != update.OperationUpdate {
		return false
	}
	if r.modified != nil {
		return r.modified[p]
	}
	if p.PrimaryKey {
		return false
	}
	_, hasValue := r.current[p]
	orig, hasOriginal := r.original[p]
	if !hasValue || !hasOriginal {
		return false
	}
	a, okA := update.CanonicalKey(r.current[p])
	b, okB := update.CanonicalKey(orig)
	return okA != okB || a != b
}

// IsStoreGenerated implements update.Record
func (r *Record) IsStoreGenerated(p *update.Property) bool {
	switch r.op {
	case update.OperationInsert:
		if p.ValueGenerated == update.ValueGeneratedNever {
			return false
		}
		v, ok := r.current[p]
		if _, isPlaceholder := v.(Placeholder); isPlaceholder {
			return true
		}
		return !ok || v == nil
	case update.OperationUpdate:
		return p.ValueGenerated == update.ValueGeneratedOnAddOrUpdate && !r.IsModified(p)
	default:
		return false
	}
}

// SetCurrentValue implements update.Record
func (r *Record) SetCurrentValue(p *update.Property, v any) error {
	if ph, ok := r.current[p].(Placeholder); ok {
		r.set.resolve(ph, v)
	}
	r.current[p] = v
	return nil
}

// Values returns the current values by property name
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.current))
	for p, v := range r.current {
		out[p.Name] = v
	}
	return out
}

// String renders the record as Customer{Name: ann, Version: 1}, values
// sorted by property name
func (r *Record) String() string {
	names := make([]string, 0, len(r.current))
	for p := range r.current {
		names = append(names, p.Name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s: %v", n, r.current[r.entity.Property(n)])
	}
	return r.entity.Name + "{" + strings.Join(parts, ", ") + "}"
}
