package update

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// BatchState tracks the lifecycle of a batch
type BatchState int

const (
	BatchBuilding BatchState = iota
	BatchPrepared
	BatchExecuting
	BatchConsuming
	BatchCompleted
	BatchFailed
)

// String returns the state name
func (s BatchState) String() string {
	switch s {
	case BatchBuilding:
		return "building"
	case BatchPrepared:
		return "prepared"
	case BatchExecuting:
		return "executing"
	case BatchConsuming:
		return "consuming"
	case BatchCompleted:
		return "completed"
	case BatchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CommandBatch groups commands sent to the store in one round trip
type CommandBatch interface {
	// TryAdd appends the command if the batch policy allows it. An empty
	// batch always accepts its first command.
	TryAdd(cmd *ModificationCommand) bool
	Commands() []*ModificationCommand
	Render() (*Statement, error)
	// Execute sends the batch and consumes its results, returning the rows affected
	Execute(ctx context.Context, conn Connection) (int, error)
	State() BatchState
}

// BatchFactory creates empty batches for the preparer
type BatchFactory func() CommandBatch

// NewBatchFactory returns a factory of reader batches limited by policy
func NewBatchFactory(renderer StatementRenderer, policy BatchPolicy) BatchFactory {
	return func() CommandBatch {
		return NewReaderBatch(renderer, policy)
	}
}

// SingularBatchFactory returns a factory of batches holding one command each
func SingularBatchFactory(renderer StatementRenderer) BatchFactory {
	policy := renderer.Policy()
	policy.MaxCommands = 1
	return NewBatchFactory(renderer, policy)
}

// ReaderBatch renders its commands into one statement and reads the results
// back from a single reader.
type ReaderBatch struct {
	renderer StatementRenderer
	policy   BatchPolicy

	commands []*ModificationCommand
	mappings []ResultSetMapping
	state    BatchState

	// Running size of the rendered commands, used by TryAdd
	params  int
	textLen int

	rowsAffected int
}

// NewReaderBatch creates an empty batch
func NewReaderBatch(renderer StatementRenderer, policy BatchPolicy) *ReaderBatch {
	b := &ReaderBatch{renderer: renderer, policy: policy}
	header := NewStatement()
	renderer.AppendBatchHeader(header)
	b.textLen = header.Len()
	return b
}

// Commands returns the commands in execution order
func (b *ReaderBatch) Commands() []*ModificationCommand {
	return b.commands
}

// State returns the current lifecycle state
func (b *ReaderBatch) State() BatchState {
	return b.state
}

// ResultSetMappings returns the mapping of each command, valid after Render
func (b *ReaderBatch) ResultSetMappings() []ResultSetMapping {
	return b.mappings
}

// TryAdd implements CommandBatch
func (b *ReaderBatch) TryAdd(cmd *ModificationCommand) bool {
	if b.state != BatchBuilding || cmd == nil {
		return false
	}
	if len(b.commands) > 0 && b.policy.MaxCommands > 0 && len(b.commands) >= b.policy.MaxCommands {
		return false
	}

	params, textLen := b.params, b.textLen
	if b.policy.MaxParameters > 0 || b.policy.MaxTextLength > 0 {
		scratch := &Statement{base: b.params}
		if _, err := appendCommand(b.renderer, scratch, cmd, len(b.commands)); err == nil {
			params += len(scratch.Args())
			textLen += scratch.Len()
		} else {
			// Commands waiting for generated keys render at Execute; other
			// render errors are reported by Render, not by rejecting the command
			p, n := estimateCommand(cmd)
			params += p
			textLen += n
		}
		if len(b.commands) > 0 {
			if b.policy.MaxParameters > 0 && params > b.policy.MaxParameters {
				return false
			}
			if b.policy.MaxTextLength > 0 && textLen > b.policy.MaxTextLength {
				return false
			}
		}
	}

	b.params, b.textLen = params, textLen
	b.commands = append(b.commands, cmd)
	cmd.freeze()
	return true
}

// Size estimates for a command that cannot be rendered yet
const (
	estimatedCommandText = 64 // Keywords, separators and the result select
	estimatedColumnText  = 8  // Quotes, placeholder and separator per column use
)

// estimateCommand approximates the arguments and text a command will render
// to, from its column modifications
func estimateCommand(cmd *ModificationCommand) (params, textLen int) {
	columns, err := cmd.ColumnModifications()
	if err != nil {
		return 0, 0
	}
	textLen = estimatedCommandText + len(cmd.Table().String())
	for _, c := range columns {
		uses := 0
		if c.IsWrite {
			params++
			uses++
		}
		if c.IsCondition {
			params++
			uses++
		}
		if c.IsRead {
			uses++
		}
		textLen += uses * (len(c.ColumnName) + estimatedColumnText)
	}
	return params, textLen
}

// Render writes the batch statement. The last command always closes its result set.
func (b *ReaderBatch) Render() (*Statement, error) {
	if b.state != BatchBuilding && b.state != BatchPrepared {
		return nil, fmt.Errorf("%w: batch is %s", ErrBatchExecuted, b.state)
	}

	s := NewStatement()
	b.renderer.AppendBatchHeader(s)
	mappings := make([]ResultSetMapping, len(b.commands))
	for i, cmd := range b.commands {
		m, err := appendCommand(b.renderer, s, cmd, i)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", cmd, err)
		}
		mappings[i] = m
	}
	if n := len(mappings); n > 0 && mappings[n-1] == NotLastInResultSet {
		mappings[n-1] = LastInResultSet
	}

	b.mappings = mappings
	b.state = BatchPrepared
	return s, nil
}

// Execute implements CommandBatch
func (b *ReaderBatch) Execute(ctx context.Context, conn Connection) (int, error) {
	if b.state != BatchBuilding && b.state != BatchPrepared {
		return 0, fmt.Errorf("%w: batch is %s", ErrBatchExecuted, b.state)
	}
	if len(b.commands) == 0 {
		b.state = BatchCompleted
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s, err := b.Render()
	if err != nil {
		b.state = BatchFailed
		return 0, err
	}

	b.state = BatchExecuting
	log.WithFields(log.Fields{
		"commands": len(b.commands),
		"params":   len(s.Args()),
	}).Debug("executing batch")

	reader, err := conn.Query(ctx, s.Text(), s.Args())
	if err != nil {
		b.state = BatchFailed
		return 0, newStoreError(b.records(0, len(b.commands)), err)
	}
	defer reader.Close()

	b.state = BatchConsuming
	b.rowsAffected = 0
	if err := b.consume(ctx, reader); err != nil {
		b.state = BatchFailed
		return 0, err
	}

	b.state = BatchCompleted
	return b.rowsAffected, nil
}

func (b *ReaderBatch) consume(ctx context.Context, reader ResultReader) error {
	n := len(b.commands)
	index := 0
	for {
		for index < n && b.mappings[index] == NoResultSet {
			b.rowsAffected++
			index++
		}

		if index < n {
			propagates, err := b.commands[index].RequiresResultPropagation()
			if err != nil {
				return err
			}
			switch {
			case b.mappings[index] == RowPerAffectedRow:
				index, err = b.consumeAffectedRows(ctx, reader, index, propagates)
			case propagates:
				index, err = b.consumeWithPropagation(ctx, reader, index)
			default:
				index, err = b.consumeWithoutPropagation(ctx, reader, index)
			}
			if err != nil {
				return err
			}
		}

		if index >= n {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !reader.NextResultSet() {
			if err := reader.Err(); err != nil {
				return newStoreError(b.records(index, n), err)
			}
			break
		}
	}

	if index != n {
		return fmt.Errorf("%w: consumed results for %d of %d command(s)", ErrResultAccounting, index, n)
	}
	return nil
}

// consumeWithPropagation reads one row per command of the run and copies it
// into the command's read columns.
func (b *ReaderBatch) consumeWithPropagation(ctx context.Context, reader ResultReader, start int) (int, error) {
	n := len(b.commands)
	rows := 0
	i := start
	for {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		cmd := b.commands[i]

		if !reader.Next() {
			if err := reader.Err(); err != nil {
				return i, newStoreError(cmd.Records(), err)
			}
			expected := rows + 1
			end := i + 1
			for end < n && b.mappings[end-1] == NotLastInResultSet {
				expected++
				end++
			}
			return i, newConcurrencyError(b.records(start, end), expected, rows, true)
		}

		if err := b.propagateRow(reader, cmd); err != nil {
			return i, err
		}

		rows++
		i++
		if i >= n || b.mappings[i-1] != NotLastInResultSet {
			break
		}
	}

	b.rowsAffected += rows
	return i, nil
}

// consumeWithoutPropagation reads one affected-row count for the whole run
func (b *ReaderBatch) consumeWithoutPropagation(ctx context.Context, reader ResultReader, start int) (int, error) {
	n := len(b.commands)
	expected := 1
	end := start + 1
	for end < n && b.mappings[end-1] == NotLastInResultSet {
		expected++
		end++
	}
	records := b.records(start, end)

	if err := ctx.Err(); err != nil {
		return start, err
	}
	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return start, newStoreError(records, err)
		}
		return start, newConcurrencyError(records, expected, 0, true)
	}

	var count int64
	if err := reader.Scan(&count); err != nil {
		return start, newStoreError(records, err)
	}
	if int(count) != expected {
		return start, newConcurrencyError(records, expected, int(count), false)
	}

	b.rowsAffected += expected
	return end, nil
}

// consumeAffectedRows counts the rows of one command's result set. The
// first row carries the generated values when the command propagates them.
func (b *ReaderBatch) consumeAffectedRows(ctx context.Context, reader ResultReader, start int, propagates bool) (int, error) {
	cmd := b.commands[start]
	if err := ctx.Err(); err != nil {
		return start, err
	}

	rows := 0
	for reader.Next() {
		if rows == 0 && propagates {
			if err := b.propagateRow(reader, cmd); err != nil {
				return start, err
			}
		}
		rows++
	}
	if err := reader.Err(); err != nil {
		return start, newStoreError(cmd.Records(), err)
	}
	if rows != 1 {
		return start, newConcurrencyError(cmd.Records(), 1, rows, false)
	}

	b.rowsAffected++
	return start + 1, nil
}

func (b *ReaderBatch) propagateRow(reader ResultReader, cmd *ModificationCommand) error {
	read := cmd.ReadColumns()
	values := make([]any, len(read))
	dest := make([]any, len(read))
	for k := range values {
		dest[k] = &values[k]
	}
	if err := reader.Scan(dest...); err != nil {
		return newStoreError(cmd.Records(), err)
	}
	if err := cmd.PropagateResults(values); err != nil {
		return newStoreError(cmd.Records(), err)
	}
	return nil
}

func (b *ReaderBatch) records(from, to int) []Record {
	var records []Record
	for _, cmd := range b.commands[from:to] {
		records = append(records, cmd.Records()...)
	}
	return records
}
