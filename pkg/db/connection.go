package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ammar0144/save4go/pkg/update"
)

// Connection runs batches on one dedicated *sql.Conn, or inside a caller's
// *sql.Tx. It is not safe for concurrent use.
type Connection struct {
	db      *sql.DB
	timeout time.Duration

	logQueries bool
	slowQuery  time.Duration // Zero disables slow batch warnings

	conn *sql.Conn
	tx   *Tx
}

// Tx is a transaction begun on a Connection, or adopted with UseTransaction
type Tx struct {
	tx    *sql.Tx
	owner *Connection
}

// NewConnection creates an unopened connection over the pool. A positive
// timeout bounds each query.
func NewConnection(db *sql.DB, timeout time.Duration) *Connection {
	return &Connection{db: db, timeout: timeout}
}

// UseTransaction makes tx the ambient transaction. The executor then neither
// begins nor commits its own; the caller owns tx.
func (c *Connection) UseTransaction(tx *sql.Tx) {
	if tx == nil {
		c.tx = nil
		return
	}
	c.tx = &Tx{tx: tx, owner: c}
}

// IsOpen implements update.Connection
func (c *Connection) IsOpen() bool {
	return c.conn != nil || c.tx != nil
}

// Open implements update.Connection
func (c *Connection) Open(ctx context.Context) error {
	if c.IsOpen() {
		return nil
	}
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	c.conn = conn
	return nil
}

// Close implements update.Connection. An ambient transaction is left to its owner.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// CurrentTransaction implements update.Connection
func (c *Connection) CurrentTransaction() update.Transaction {
	if c.tx == nil {
		return nil
	}
	return c.tx
}

// BeginTransaction implements update.Connection
func (c *Connection) BeginTransaction(ctx context.Context) (update.Transaction, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("connection is not open")
	}
	if c.tx != nil {
		return nil, fmt.Errorf("connection already has a transaction")
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	c.tx = &Tx{tx: tx, owner: c}
	return c.tx, nil
}

// Query implements update.Connection
func (c *Connection) Query(ctx context.Context, text string, args []any) (update.ResultReader, error) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	var rows *sql.Rows
	var err error
	var started = time.Now()
	switch {
	case c.tx != nil:
		rows, err = c.tx.tx.QueryContext(ctx, text, args...)
	case c.conn != nil:
		rows, err = c.conn.QueryContext(ctx, text, args...)
	default:
		err = fmt.Errorf("connection is not open")
	}
	if err != nil {
		cancel()
		return nil, err
	}
	c.logQuery(text, len(args), time.Since(started))
	return &resultReader{Rows: rows, cancel: cancel}, nil
}

func (c *Connection) logQuery(text string, args int, elapsed time.Duration) {
	fields := log.Fields{"args": args, "elapsed": elapsed}
	if c.slowQuery > 0 && elapsed >= c.slowQuery {
		log.WithFields(fields).WithField("sql", text).Warn("slow batch")
	} else if c.logQueries {
		log.WithFields(fields).WithField("sql", text).Debug("batch sent")
	}
}

// Commit implements update.Transaction
func (t *Tx) Commit() error {
	t.release()
	return t.tx.Commit()
}

// Rollback implements update.Transaction
func (t *Tx) Rollback() error {
	t.release()
	return t.tx.Rollback()
}

func (t *Tx) release() {
	if t.owner.tx == t {
		t.owner.tx = nil
	}
}

// resultReader releases the query timeout once the rows are closed
type resultReader struct {
	*sql.Rows
	cancel context.CancelFunc
}

func (r *resultReader) Close() error {
	defer r.cancel()
	return r.Rows.Close()
}
