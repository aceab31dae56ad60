package update

import "strings"

// ResultSetMapping tells the batch how the result of one command is laid out
type ResultSetMapping int

const (
	// NoResultSet means the command produces no result; it is assumed to affect one row
	NoResultSet ResultSetMapping = iota
	// LastInResultSet means the command's result closes the current result set
	LastInResultSet
	// NotLastInResultSet means the next command continues the same result set
	NotLastInResultSet
	// RowPerAffectedRow means the command's result set holds one row for
	// each row it affected, generated values first
	RowPerAffectedRow
)

// String returns the mapping name
func (m ResultSetMapping) String() string {
	switch m {
	case NoResultSet:
		return "none"
	case LastInResultSet:
		return "last"
	case NotLastInResultSet:
		return "not-last"
	case RowPerAffectedRow:
		return "row-per-affected-row"
	default:
		return "unknown"
	}
}

// BatchPolicy limits the size of a batch. Zero values mean unlimited.
type BatchPolicy struct {
	MaxCommands   int `json:"max_commands" yaml:"max_commands"`
	MaxParameters int `json:"max_parameters" yaml:"max_parameters"`
	MaxTextLength int `json:"max_text_length" yaml:"max_text_length"`
}

// Statement accumulates the command text and positional arguments of a batch
type Statement struct {
	text strings.Builder
	args []any
	base int
}

// NewStatement creates an empty statement
func NewStatement() *Statement {
	return &Statement{}
}

// WriteString appends command text
func (s *Statement) WriteString(str string) {
	s.text.WriteString(str)
}

// WriteByte appends a single byte of command text
func (s *Statement) WriteByte(c byte) error {
	return s.text.WriteByte(c)
}

// AddArg appends an argument and returns its 1-based ordinal
func (s *Statement) AddArg(v any) int {
	s.args = append(s.args, v)
	return s.base + len(s.args)
}

// Text returns the command text
func (s *Statement) Text() string {
	return s.text.String()
}

// Args returns the positional arguments
func (s *Statement) Args() []any {
	return s.args
}

// Len returns the length of the command text
func (s *Statement) Len() int {
	return s.text.Len()
}

// StatementRenderer writes dialect-specific SQL for commands. Each Append
// method reports how the command's result appears in the reader.
type StatementRenderer interface {
	AppendBatchHeader(s *Statement)
	AppendInsert(s *Statement, cmd *ModificationCommand, position int) (ResultSetMapping, error)
	AppendUpdate(s *Statement, cmd *ModificationCommand, position int) (ResultSetMapping, error)
	AppendDelete(s *Statement, cmd *ModificationCommand, position int) (ResultSetMapping, error)
	Policy() BatchPolicy
}

func appendCommand(r StatementRenderer, s *Statement, cmd *ModificationCommand, position int) (ResultSetMapping, error) {
	switch cmd.Operation() {
	case OperationInsert:
		return r.AppendInsert(s, cmd, position)
	case OperationUpdate:
		return r.AppendUpdate(s, cmd, position)
	default:
		return r.AppendDelete(s, cmd, position)
	}
}
