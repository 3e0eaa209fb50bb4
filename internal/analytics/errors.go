package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// FailureClass is the stable classification of execution failures.
// Raw driver errors are logged in full but never surfaced to callers.
type FailureClass string

const (
	FailureTimeout      FailureClass = "timeout"
	FailureQueueTimeout FailureClass = "queue_timeout"
	FailureExecution    FailureClass = "execution_failed"
)

// PostgreSQL error codes the classifier cares about
const (
	// errCodeQueryCanceled is raised when a statement is cancelled,
	// including server-side cancellation after a client deadline
	errCodeQueryCanceled = "57014"
	// errCodeInsufficientPrivilege is raised when the read-only role
	// lacks a grant
	errCodeInsufficientPrivilege = "42501"
)

// ExecError wraps a driver failure with its classification
type ExecError struct {
	Class FailureClass
	Err   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("analytics query failed (%s): %v", e.Class, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// classify maps a driver error to a failure class
func classify(err error) FailureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == errCodeQueryCanceled {
		return FailureTimeout
	}

	return FailureExecution
}
