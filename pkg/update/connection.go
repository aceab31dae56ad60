package update

import "context"

// Connection is the store connection a batch executes on. *sql.Conn and
// *sql.Tx based implementations live in pkg/db.
type Connection interface {
	IsOpen() bool
	Open(ctx context.Context) error
	Close() error

	// CurrentTransaction returns the ambient transaction, or nil
	CurrentTransaction() Transaction
	BeginTransaction(ctx context.Context) (Transaction, error)

	// Query runs the command text and returns a reader over its result sets
	Query(ctx context.Context, text string, args []any) (ResultReader, error)
}

// Transaction is a store transaction owned by the executor or the caller
type Transaction interface {
	Commit() error
	Rollback() error
}

// ResultReader iterates rows across the result sets of a batch. *sql.Rows
// satisfies it.
type ResultReader interface {
	Next() bool
	Scan(dest ...any) error
	NextResultSet() bool
	Err() error
	Close() error
}
