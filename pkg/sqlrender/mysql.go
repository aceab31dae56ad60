package sqlrender

import (
	"strings"

	"github.com/ammar0144/save4go/pkg/update"
)

const (
	// DefaultMaxBatchSize is the default number of commands per MySQL batch
	DefaultMaxBatchSize = 42

	// MySQL accepts at most 65535 placeholders per statement
	mysqlMaxParameters = 65535
)

// MySQL renders batches as multi-statement text. Each command is followed by
// a SELECT that reports its affected-row count or the values the store
// generated. The connection must enable multiStatements, and clientFoundRows
// so that ROW_COUNT() counts matched rather than changed rows.
type MySQL struct {
	policy update.BatchPolicy
}

type mysqlDialect struct{}

func (mysqlDialect) quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) placeholder(int) string {
	return "?"
}

// NewMySQL creates a MySQL renderer. maxBatchSize <= 0 selects DefaultMaxBatchSize.
func NewMySQL(maxBatchSize int) *MySQL {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &MySQL{policy: update.BatchPolicy{
		MaxCommands:   maxBatchSize,
		MaxParameters: mysqlMaxParameters,
	}}
}

// Policy implements update.StatementRenderer
func (r *MySQL) Policy() update.BatchPolicy {
	return r.policy
}

// AppendBatchHeader implements update.StatementRenderer
func (r *MySQL) AppendBatchHeader(s *update.Statement) {}

// AppendInsert implements update.StatementRenderer
func (r *MySQL) AppendInsert(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: mysqlDialect{}, s: s}
	write, read, _, key, err := splitColumns(cmd)
	if err != nil {
		return update.NoResultSet, err
	}

	values, err := b.values(write)
	if err != nil {
		return update.NoResultSet, err
	}
	s.WriteString("INSERT INTO " + b.table(cmd.Table()) + " (" + b.columnList(write) + ") VALUES (" + values + ");\n")

	if len(read) == 0 {
		s.WriteString("SELECT ROW_COUNT();\n")
		return update.LastInResultSet, nil
	}
	return update.LastInResultSet, r.appendSelectAffected(b, cmd, read, key)
}

// AppendUpdate implements update.StatementRenderer
func (r *MySQL) AppendUpdate(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: mysqlDialect{}, s: s}
	write, read, condition, key, err := splitColumns(cmd)
	if err != nil {
		return update.NoResultSet, err
	}

	set, err := b.assignments(write)
	if err != nil {
		return update.NoResultSet, err
	}
	where, err := b.where(conditionsOf(condition))
	if err != nil {
		return update.NoResultSet, err
	}
	if len(write) == 0 {
		// Only computed columns change; touch the row so the store recomputes them
		key0 := key[0].ColumnName
		set = mysqlDialect{}.quote(key0) + " = " + mysqlDialect{}.quote(key0)
	}
	s.WriteString("UPDATE " + b.table(cmd.Table()) + " SET " + set + " WHERE " + where + ";\n")

	if len(read) == 0 {
		s.WriteString("SELECT ROW_COUNT();\n")
		return update.LastInResultSet, nil
	}
	return update.LastInResultSet, r.appendSelectAffected(b, cmd, read, key)
}

// AppendDelete implements update.StatementRenderer
func (r *MySQL) AppendDelete(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: mysqlDialect{}, s: s}
	_, _, condition, _, err := splitColumns(cmd)
	if err != nil {
		return update.NoResultSet, err
	}

	where, err := b.where(conditionsOf(condition))
	if err != nil {
		return update.NoResultSet, err
	}
	s.WriteString("DELETE FROM " + b.table(cmd.Table()) + " WHERE " + where + ";\n")
	s.WriteString("SELECT ROW_COUNT();\n")
	return update.LastInResultSet, nil
}

// appendSelectAffected reads back generated columns of the row just written.
// The row is located by its key; a generated key is LAST_INSERT_ID().
func (r *MySQL) appendSelectAffected(b builder, cmd *update.ModificationCommand, read, key []*update.ColumnModification) error {
	terms := []string{"ROW_COUNT() = 1"}
	for _, k := range key {
		if k.IsRead {
			terms = append(terms, b.d.quote(k.ColumnName)+" = LAST_INSERT_ID()")
			continue
		}
		p, err := b.arg(k.Value())
		if err != nil {
			return err
		}
		terms = append(terms, b.d.quote(k.ColumnName)+" = "+p)
	}
	b.s.WriteString("SELECT " + b.columnList(read) + " FROM " + b.table(cmd.Table()) +
		" WHERE " + strings.Join(terms, " AND ") + ";\n")
	return nil
}
