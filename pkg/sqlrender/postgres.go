package sqlrender

import (
	"strconv"

	"github.com/lib/pq"

	"github.com/ammar0144/save4go/pkg/update"
)

// Postgres renders one command per statement. Generated values come back
// through RETURNING; other commands report their count through a CTE.
//
// lib/pq cannot send several parameterized statements in one round trip, so
// the policy limits batches to a single command.
type Postgres struct {
	policy update.BatchPolicy
}

type postgresDialect struct{}

func (postgresDialect) quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

func (postgresDialect) placeholder(ordinal int) string {
	return "$" + strconv.Itoa(ordinal)
}

// NewPostgres creates a Postgres renderer
func NewPostgres() *Postgres {
	return &Postgres{policy: update.BatchPolicy{MaxCommands: 1, MaxParameters: 65535}}
}

// Policy implements update.StatementRenderer
func (r *Postgres) Policy() update.BatchPolicy {
	return r.policy
}

// AppendBatchHeader implements update.StatementRenderer
func (r *Postgres) AppendBatchHeader(s *update.Statement) {}

// AppendInsert implements update.StatementRenderer
func (r *Postgres) AppendInsert(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: postgresDialect{}, s: s}
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
	return r.finish(b, dml, read, position)
}

// AppendUpdate implements update.StatementRenderer
func (r *Postgres) AppendUpdate(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: postgresDialect{}, s: s}
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
	return r.finish(b, "UPDATE "+b.table(cmd.Table())+" SET "+set+" WHERE "+where, read, position)
}

// AppendDelete implements update.StatementRenderer
func (r *Postgres) AppendDelete(s *update.Statement, cmd *update.ModificationCommand, position int) (update.ResultSetMapping, error) {
	b := builder{d: postgresDialect{}, s: s}
	_, _, condition, _, err := splitColumns(cmd)
	if err != nil {
		return update.NoResultSet, err
	}

	where, err := b.where(conditionsOf(condition))
	if err != nil {
		return update.NoResultSet, err
	}
	return r.finish(b, "DELETE FROM "+b.table(cmd.Table())+" WHERE "+where, nil, position)
}

func (r *Postgres) finish(b builder, dml string, read []*update.ColumnModification, position int) (update.ResultSetMapping, error) {
	if len(read) > 0 {
		b.s.WriteString(dml + " RETURNING " + b.columnList(read) + ";\n")
		return update.LastInResultSet, nil
	}
	cte := b.d.quote("c" + strconv.Itoa(position))
	b.s.WriteString("WITH " + cte + " AS (" + dml + " RETURNING 1) SELECT count(*) FROM " + cte + ";\n")
	return update.LastInResultSet, nil
}
