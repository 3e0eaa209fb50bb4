package analytics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Run("context deadline is a timeout", func(t *testing.T) {
		assert.Equal(t, FailureTimeout, classify(context.DeadlineExceeded))
		assert.Equal(t, FailureTimeout, classify(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	})

	t.Run("server-side cancellation is a timeout", func(t *testing.T) {
		err := &pgconn.PgError{Code: errCodeQueryCanceled, Message: "canceling statement due to statement timeout"}
		assert.Equal(t, FailureTimeout, classify(err))
	})

	t.Run("other driver errors are execution failures", func(t *testing.T) {
		assert.Equal(t, FailureExecution, classify(errors.New("connection reset")))
		assert.Equal(t, FailureExecution, classify(&pgconn.PgError{Code: errCodeInsufficientPrivilege}))
	})
}

func TestExecError(t *testing.T) {
	inner := errors.New("boom")
	err := &ExecError{Class: FailureQueueTimeout, Err: inner}

	assert.Contains(t, err.Error(), "queue_timeout")
	assert.ErrorIs(t, err, inner)

	var execErr *ExecError
	assert.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &execErr)
	assert.Equal(t, FailureQueueTimeout, execErr.Class)
}
