package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// BatchExecutor runs prepared batches in order on one connection
type BatchExecutor struct {
	autoTransaction bool
	metrics         *Metrics
	logger          *log.Entry
}

// ExecutorOption configures a BatchExecutor
type ExecutorOption func(*BatchExecutor)

// WithAutoTransaction controls whether the executor begins its own
// transaction when the connection has none. Enabled by default.
func WithAutoTransaction(enabled bool) ExecutorOption {
	return func(e *BatchExecutor) {
		e.autoTransaction = enabled
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *BatchExecutor) {
		e.metrics = m
	}
}

// WithExecutorLogger sets the entry used for logging
func WithExecutorLogger(entry *log.Entry) ExecutorOption {
	return func(e *BatchExecutor) {
		e.logger = entry
	}
}

// NewBatchExecutor creates an executor
func NewBatchExecutor(opts ...ExecutorOption) *BatchExecutor {
	e := &BatchExecutor{
		autoTransaction: true,
		metrics:         NewMetrics(),
		logger:          log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Metrics returns the executor's metrics
func (e *BatchExecutor) Metrics() *Metrics {
	return e.metrics
}

// Execute runs the batches sequentially and returns the total rows affected.
// It stops at the first failure; a transaction it began is rolled back before
// the error is returned and committed otherwise.
func (e *BatchExecutor) Execute(ctx context.Context, conn Connection, batches []CommandBatch) (total int, err error) {
	if len(batches) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if !conn.IsOpen() {
		if err := conn.Open(ctx); err != nil {
			return 0, fmt.Errorf("failed to open connection: %w", err)
		}
		defer func() {
			if closeErr := conn.Close(); closeErr != nil && err == nil {
				total, err = 0, fmt.Errorf("failed to close connection: %w", closeErr)
			}
		}()
	}

	var tx Transaction
	if conn.CurrentTransaction() == nil && e.autoTransaction {
		tx, err = conn.BeginTransaction(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err != nil && tx != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					err = errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
				}
			}
		}()
	}

	for i, batch := range batches {
		if err = ctx.Err(); err != nil {
			return 0, err
		}

		start := time.Now()
		rows, batchErr := batch.Execute(ctx, conn)
		if batchErr != nil {
			e.recordFailure(i, batch, batchErr)
			return 0, batchErr
		}
		e.metrics.RecordBatch(len(batch.Commands()), rows, time.Since(start))
		total += rows
	}

	if tx != nil {
		committing := tx
		tx = nil
		if err = committing.Commit(); err != nil {
			return 0, fmt.Errorf("failed to commit: %w", err)
		}
	}

	e.logger.WithFields(log.Fields{
		"batches": len(batches),
		"rows":    total,
	}).Debug("saved changes")
	return total, nil
}

func (e *BatchExecutor) recordFailure(index int, batch CommandBatch, err error) {
	fields := log.Fields{
		"batch":    index,
		"commands": len(batch.Commands()),
	}
	switch {
	case IsConcurrencyConflict(err):
		e.metrics.RecordConflict()
		e.logger.WithFields(fields).WithError(err).Warn("concurrency conflict")
	case IsStoreFailure(err):
		e.metrics.RecordStoreFailure()
	}
}
