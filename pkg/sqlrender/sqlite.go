package sqlrender

import (
	"strings"

	"github.com/ammar0144/save4go/pkg/update"
)

// SQLite renders one command per statement. go-sqlite3 only returns the rows
// of the last statement of a multi-statement query, so batches are singular.
// Every command ends in RETURNING, read columns when the store generates
// values and a constant 1 otherwise, so the result holds one row per
// affected row.
type SQLite struct {
	policy update.BatchPolicy
}

type sqliteDialect struct{}

func (sqliteDialect) quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) placeholder(int) string {
	return "?"
}

// NewSQLite creates a SQLite renderer
func NewSQLite() *SQLite {
	return &SQLite{policy: update.BatchPolicy{MaxCommands: 1, MaxParameters: 32766}}
}

// Policy implements update.StatementRenderer
func (r *SQLite) Policy() update.BatchPolicy {
	return r.policy
}

// AppendBatchHeader implements update.StatementRenderer
func (r *SQLite) AppendBatchHeader(s *update.Statement) {}

// AppendInsert implements update.StatementRenderer
func (r *SQLite) AppendInsert(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: sqliteDialect{}, s: s}
	write, read, _, _, err := splitColumns(cmd)
	if err != nil {
		return update.NoResultSet, err
	}

	dml := "INSERT INTO " + b.table(cmd.Table())
	if len(write) == 0 {
		dml += " DEFAULT VALUES"
	} else {
		values, err := b.values(write)
		if err != nil {
			return update.NoResultSet, err
		}
		dml += " (" + b.columnList(write) + ") VALUES (" + values + ")"
	}
	return r.finish(b, dml, read)
}

// AppendUpdate implements update.StatementRenderer
func (r *SQLite) AppendUpdate(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: sqliteDialect{}, s: s}
	write, read, condition, key, err := splitColumns(cmd)
	if err != nil {
		return update.NoResultSet, err
	}

	set, err := b.assignments(write)
	if err != nil {
		return update.NoResultSet, err
	}
	if len(write) == 0 {
		k := b.d.quote(key[0].ColumnName)
		set = k + " = " + k
	}
	where, err := b.where(conditionsOf(condition))
	if err != nil {
		return update.NoResultSet, err
	}
	return r.finish(b, "UPDATE "+b.table(cmd.Table())+" SET "+set+" WHERE "+where, read)
}

// AppendDelete implements update.StatementRenderer
func (r *SQLite) AppendDelete(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: sqliteDialect{}, s: s}
	_, _, condition, _, err := splitColumns(cmd)
	if err != nil {
		return update.NoResultSet, err
	}

	where, err := b.where(conditionsOf(condition))
	if err != nil {
		return update.NoResultSet, err
	}
	return r.finish(b, "DELETE FROM "+b.table(cmd.Table())+" WHERE "+where, nil)
}

func (r *SQLite) finish(b builder, dml string, read []*update.ColumnModification) (update.ResultSetMapping, error) {
	if len(read) > 0 {
		b.s.WriteString(dml + " RETURNING " + b.columnList(read) + ";")
	} else {
		b.s.WriteString(dml + " RETURNING 1;")
	}
	return update.RowPerAffectedRow, nil
}
