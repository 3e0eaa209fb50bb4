package authz

import (
	"errors"
	"fmt"
)

// ErrMalformedCallerContext is returned when a caller context fails
// structural checks. The pipeline treats it as fatal for the request.
var ErrMalformedCallerContext = errors.New("malformed caller context")

// CallerContext is the immutable per-request identity the pipeline
// operates on. It is produced by the authentication layer before the
// pipeline runs and is never mutated here.
type CallerContext struct {
	UserID                string
	IsSuperAdmin          bool
	OrganizationID        string
	Permissions           []Permission
	AccessiblePracticeIDs []int64
	AccessibleProviderIDs []int64
}

// Validate performs the structural checks the pipeline relies on.
// Practice ids must be positive integers: the tenant filter is emitted
// as SQL literals, so anything else is a precondition violation.
func (c *CallerContext) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil context", ErrMalformedCallerContext)
	}
	if c.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrMalformedCallerContext)
	}
	for _, id := range c.AccessiblePracticeIDs {
		if id <= 0 {
			return fmt.Errorf("%w: non-positive practice id %d", ErrMalformedCallerContext, id)
		}
	}
	for _, id := range c.AccessibleProviderIDs {
		if id <= 0 {
			return fmt.Errorf("%w: non-positive provider id %d", ErrMalformedCallerContext, id)
		}
	}
	return nil
}

// HasPermission reports whether the caller holds a permission covering
// the required one. Super-admins implicitly hold every permission.
func (c *CallerContext) HasPermission(required Permission) bool {
	if c.IsSuperAdmin {
		return true
	}
	for _, held := range c.Permissions {
		if held.Satisfies(required) {
			return true
		}
	}
	return false
}
