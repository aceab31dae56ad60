package update

import (
	"errors"
	"fmt"
)

// Sentinel errors for invalid input and internal failures. None of them are retryable.
var (
	// ErrConflictingOperation is returned when records targeting one row disagree on the operation
	ErrConflictingOperation = errors.New("conflicting operations for the same row")

	// ErrConflictingValues is returned when records sharing a row write different values to one column
	ErrConflictingValues = errors.New("conflicting values for the same column")

	// ErrDependencyCycle is returned when commands cannot be ordered without violating a constraint
	ErrDependencyCycle = errors.New("circular dependency between modification commands")

	// ErrResultAccounting is returned when consumed results do not cover every command of a batch
	ErrResultAccounting = errors.New("batch result accounting mismatch")

	// ErrBatchExecuted is returned when a batch is modified or executed after execution started
	ErrBatchExecuted = errors.New("batch has already been executed")

	// ErrPropagationArity is returned when a result row does not match the read columns of a command
	ErrPropagationArity = errors.New("result row does not match read columns")

	// ErrTemporaryValue is returned by renderers asked to send a temporary key to the store
	ErrTemporaryValue = errors.New("temporary value cannot be sent to the store")
)

// ErrorKind tags an UpdateError
type ErrorKind int

const (
	// KindStore is a store-reported failure unrelated to concurrency
	KindStore ErrorKind = iota
	// KindConcurrency is a mismatch between expected and actual affected rows
	KindConcurrency
)

// String returns the kind name
func (k ErrorKind) String() string {
	if k == KindConcurrency {
		return "concurrency"
	}
	return "store"
}

// UpdateError is returned when executing a batch fails. It carries the records
// involved so callers can report or refresh them.
type UpdateError struct {
	Kind    ErrorKind
	Records []Record

	// Expected and Actual are affected-row counts (KindConcurrency only)
	Expected int
	Actual   int
	// Exhausted is set when the store returned no row or count at all, as
	// opposed to reporting fewer affected rows than expected
	Exhausted bool

	Err error
}

// Error implements error
func (e *UpdateError) Error() string {
	switch {
	case e.Kind == KindConcurrency && e.Exhausted:
		return fmt.Sprintf("concurrency conflict: expected %d affected row(s) but the store returned no result for %s",
			e.Expected, describeRecords(e.Records))
	case e.Kind == KindConcurrency:
		return fmt.Sprintf("concurrency conflict: expected %d affected row(s), got %d, for %s",
			e.Expected, e.Actual, describeRecords(e.Records))
	case e.Err != nil:
		return fmt.Sprintf("failed to save %s: %v", describeRecords(e.Records), e.Err)
	default:
		return fmt.Sprintf("failed to save %s", describeRecords(e.Records))
	}
}

// Unwrap returns the underlying store error
func (e *UpdateError) Unwrap() error {
	return e.Err
}

func newConcurrencyError(records []Record, expected, actual int, exhausted bool) *UpdateError {
	return &UpdateError{
		Kind:      KindConcurrency,
		Records:   records,
		Expected:  expected,
		Actual:    actual,
		Exhausted: exhausted,
	}
}

func newStoreError(records []Record, err error) *UpdateError {
	return &UpdateError{Kind: KindStore, Records: records, Err: err}
}

// IsConcurrencyConflict checks if an error is an UpdateError of KindConcurrency
func IsConcurrencyConflict(err error) bool {
	var ue *UpdateError
	return errors.As(err, &ue) && ue.Kind == KindConcurrency
}

// IsStoreFailure checks if an error is an UpdateError of KindStore
func IsStoreFailure(err error) bool {
	var ue *UpdateError
	return errors.As(err, &ue) && ue.Kind == KindStore
}

// ConflictingRecords returns the records carried by an UpdateError, or nil
func ConflictingRecords(err error) []Record {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Records
	}
	return nil
}
