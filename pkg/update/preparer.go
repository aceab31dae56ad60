package update

import (
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// CommandBatchPreparer turns dirty records into ordered batches of commands
type CommandBatchPreparer struct {
	factory BatchFactory
	logger  *log.Entry
}

// PreparerOption configures a CommandBatchPreparer
type PreparerOption func(*CommandBatchPreparer)

// WithPreparerLogger sets the entry used for debug logging
func WithPreparerLogger(entry *log.Entry) PreparerOption {
	return func(p *CommandBatchPreparer) {
		p.logger = entry
	}
}

// NewCommandBatchPreparer creates a preparer producing batches from factory
func NewCommandBatchPreparer(factory BatchFactory, opts ...PreparerOption) *CommandBatchPreparer {
	p := &CommandBatchPreparer{
		factory: factory,
		logger:  log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare groups records into commands, orders them so that no constraint is
// violated mid-save, and packs them into batches. The result is deterministic
// for a given input order.
func (p *CommandBatchPreparer) Prepare(records []Record) ([]CommandBatch, error) {
	commands, err := groupCommands(records)
	if err != nil {
		return nil, err
	}

	graph, err := buildGraph(commands)
	if err != nil {
		return nil, err
	}

	sets, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	keys := make([]commandSortKey, len(commands))
	for i, cmd := range commands {
		keys[i] = newCommandSortKey(cmd, i)
	}
	for _, set := range sets {
		sort.SliceStable(set, func(a, b int) bool {
			return keys[set[a]].less(keys[set[b]])
		})
	}

	return p.batch(commands, graph, sets)
}

func (p *CommandBatchPreparer) batch(commands []*ModificationCommand, graph *CommandDependencyGraph, sets [][]int) ([]CommandBatch, error) {
	var batches []CommandBatch
	current := p.factory()
	members := make(map[int]bool)

	flush := func() {
		if len(current.Commands()) == 0 {
			return
		}
		p.logger.WithFields(log.Fields{
			"batch":    len(batches),
			"commands": len(current.Commands()),
		}).Debug("batch ready for execution")
		batches = append(batches, current)
		current = p.factory()
		members = make(map[int]bool)
	}

	for _, set := range sets {
		for _, i := range set {
			cmd := commands[i]

			waits, err := dependsOnPropagation(commands, graph, members, i)
			if err != nil {
				return nil, err
			}
			if waits {
				flush()
			}

			if !current.TryAdd(cmd) {
				if len(current.Commands()) == 0 {
					return nil, fmt.Errorf("empty batch rejected %s", cmd)
				}
				flush()
				if !current.TryAdd(cmd) {
					return nil, fmt.Errorf("empty batch rejected %s", cmd)
				}
			}
			members[i] = true
		}
	}
	flush()
	return batches, nil
}

// dependsOnPropagation reports whether the command needs a value that a
// predecessor in the current batch only learns from the store
func dependsOnPropagation(commands []*ModificationCommand, graph *CommandDependencyGraph, members map[int]bool, i int) (bool, error) {
	for _, pred := range graph.Predecessors(i) {
		if !members[pred] {
			continue
		}
		propagates, err := commands[pred].RequiresResultPropagation()
		if err != nil {
			return false, err
		}
		if propagates {
			return true, nil
		}
	}
	return false, nil
}

// groupCommands attaches records targeting the same row to one command and
// drops updates that change nothing
func groupCommands(records []Record) ([]*ModificationCommand, error) {
	var commands []*ModificationCommand
	byRow := make(map[string]*ModificationCommand)

	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("record %d is nil", i)
		}
		t := r.EntityType()
		if t == nil {
			return nil, fmt.Errorf("record %d has no entity type", i)
		}

		rowKey, ok := indexKey(t.Table.String(), 0, keyValues(r))
		if !ok {
			rowKey = fmt.Sprintf("%s|#%d", t.Table, i)
		}

		cmd, exists := byRow[rowKey]
		if !exists {
			cmd = NewModificationCommand(t.Table)
			byRow[rowKey] = cmd
			commands = append(commands, cmd)
		}
		if err := cmd.AddRecord(r); err != nil {
			return nil, err
		}
	}

	kept := commands[:0]
	for _, cmd := range commands {
		work, err := cmd.hasWork()
		if err != nil {
			return nil, err
		}
		if work {
			kept = append(kept, cmd)
		}
	}
	return kept, nil
}

// buildGraph registers key values in the index, then adds an edge for every
// command that must wait on another
func buildGraph(commands []*ModificationCommand) (*CommandDependencyGraph, error) {
	index := NewKeyValueIndex()
	graph := NewCommandDependencyGraph(commands)

	for i, cmd := range commands {
		for _, r := range cmd.Records() {
			registerRecord(index, r, i)
		}
	}
	for i, cmd := range commands {
		for _, r := range cmd.Records() {
			for _, pred := range predecessorsOf(index, r) {
				graph.AddEdge(pred, i)
			}
		}
	}
	return graph, nil
}

func registerRecord(index *KeyValueIndex, r Record, command int) {
	t := r.EntityType()
	op := r.Operation()

	if op == OperationInsert || op == OperationUpdate {
		// Rows that other rows may reference once this command runs
		for _, fk := range t.ReferencingForeignKeys() {
			if op == OperationInsert || anyModified(r, fk.PrincipalKey) {
				index.add(foreignKeyID(fk), principalKeyCurrent, currentValues(r, fk.PrincipalKey), command)
			}
		}
	}

	if op == OperationUpdate || op == OperationDelete {
		// References this command removes
		for _, fk := range t.ForeignKeys {
			if op == OperationDelete || anyModified(r, fk.Properties) {
				index.add(foreignKeyID(fk), dependentKeyOriginal, originalValues(r, fk.Properties), command)
			}
		}
		// Unique values this command releases
		for _, uk := range t.UniqueKeys {
			if op == OperationDelete || anyModified(r, uk.Properties) {
				index.add(uniqueKeyID(t, uk), uniqueValueOriginal, originalValues(r, uk.Properties), command)
			}
		}
	}
}

func predecessorsOf(index *KeyValueIndex, r Record) []int {
	t := r.EntityType()
	op := r.Operation()
	var preds []int

	if op == OperationInsert || op == OperationUpdate {
		// The principal must exist before the reference is written
		for _, fk := range t.ForeignKeys {
			if op == OperationInsert || anyModified(r, fk.Properties) {
				preds = append(preds, index.lookup(foreignKeyID(fk), principalKeyCurrent, currentValues(r, fk.Properties))...)
			}
		}
		// The previous holder of a unique value must release it first
		for _, uk := range t.UniqueKeys {
			if op == OperationInsert || anyModified(r, uk.Properties) {
				preds = append(preds, index.lookup(uniqueKeyID(t, uk), uniqueValueOriginal, currentValues(r, uk.Properties))...)
			}
		}
	}

	if op == OperationUpdate || op == OperationDelete {
		// Dependents must let go of the principal key before it changes or disappears
		for _, fk := range t.ReferencingForeignKeys() {
			if op == OperationDelete || anyModified(r, fk.PrincipalKey) {
				preds = append(preds, index.lookup(foreignKeyID(fk), dependentKeyOriginal, originalValues(r, fk.PrincipalKey))...)
			}
		}
	}
	return preds
}

func foreignKeyID(fk *ForeignKey) string {
	return "fk:" + fk.DependentType.Name + ":" + fk.Name + ":" + fk.String()
}

func uniqueKeyID(t *EntityType, uk *UniqueKey) string {
	columns := make([]string, len(uk.Properties))
	for i, p := range uk.Properties {
		columns[i] = p.ColumnName()
	}
	return "uk:" + t.Table.String() + ":" + strings.Join(columns, ",")
}

func anyModified(r Record, props []*Property) bool {
	for _, p := range props {
		if r.IsModified(p) {
			return true
		}
	}
	return false
}

func currentValues(r Record, props []*Property) []any {
	values := make([]any, len(props))
	for i, p := range props {
		values[i] = r.CurrentValue(p)
	}
	return values
}

func originalValues(r Record, props []*Property) []any {
	values := make([]any, len(props))
	for i, p := range props {
		values[i] = r.OriginalValue(p)
	}
	return values
}

// commandSortKey orders commands inside an independent set
type commandSortKey struct {
	schema string
	table  string
	rank   int
	key    []string
	index  int
}

func newCommandSortKey(cmd *ModificationCommand, index int) commandSortKey {
	k := commandSortKey{
		schema: cmd.Table().Schema,
		table:  cmd.Table().Name,
		rank:   cmd.Operation().rank(),
		index:  index,
	}
	if records := cmd.Records(); len(records) > 0 {
		for _, v := range keyValues(records[0]) {
			c, _ := canonicalValue(v)
			k.key = append(k.key, c)
		}
	}
	return k
}

func (k commandSortKey) less(o commandSortKey) bool {
	if k.schema != o.schema {
		return k.schema < o.schema
	}
	if k.table != o.table {
		return k.table < o.table
	}
	if k.rank != o.rank {
		return k.rank < o.rank
	}
	for i := 0; i < len(k.key) && i < len(o.key); i++ {
		if c := compareCanonical(k.key[i], o.key[i]); c != 0 {
			return c < 0
		}
	}
	if len(k.key) != len(o.key) {
		return len(k.key) < len(o.key)
	}
	return k.index < o.index
}

// compareCanonical compares encoded key values, numerically for integers
func compareCanonical(a, b string) int {
	if strings.HasPrefix(a, "i:") && strings.HasPrefix(b, "i:") {
		na, nb := strings.TrimPrefix(a, "i:"), strings.TrimPrefix(b, "i:")
		negA, negB := strings.HasPrefix(na, "-"), strings.HasPrefix(nb, "-")
		switch {
		case negA && !negB:
			return -1
		case !negA && negB:
			return 1
		}
		c := 0
		if len(na) != len(nb) {
			if len(na) < len(nb) {
				c = -1
			} else {
				c = 1
			}
		} else {
			c = strings.Compare(na, nb)
		}
		if negA {
			return -c
		}
		return c
	}
	return strings.Compare(a, b)
}
