package authz

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// DenialReason enumerates why a permission check failed
type DenialReason string

const (
	DenialMissingPermission DenialReason = "missing_permission"
	DenialMalformedContext  DenialReason = "malformed_context"
)

// PermissionError is the typed denial returned by the evaluator.
// It always carries the token that was required.
type PermissionError struct {
	Reason   DenialReason
	Required Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied (%s): requires %s", e.Reason, e.Required)
}

// Evaluator decides whether a caller may perform an action and exposes
// the caller's effective practice scope. All decisions fail closed.
type Evaluator struct{}

// NewEvaluator creates a permission evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// RequirePermission returns nil when the caller holds the required
// permission, and a *PermissionError otherwise. Ill-formed contexts are
// treated as denied.
func (e *Evaluator) RequirePermission(caller *CallerContext, required Permission) error {
	if err := caller.Validate(); err != nil {
		log.Warn().Err(err).Str("required", required.String()).Msg("Permission check on malformed caller context")
		return &PermissionError{Reason: DenialMalformedContext, Required: required}
	}

	if caller.HasPermission(required) {
		return nil
	}

	log.Debug().
		Str("user_id", caller.UserID).
		Str("required", required.String()).
		Msg("Permission denied")

	return &PermissionError{Reason: DenialMissingPermission, Required: required}
}

// AccessiblePracticeIDs returns the caller's practice scope unchanged.
// The result is a copy so callers cannot mutate the context.
func (e *Evaluator) AccessiblePracticeIDs(caller *CallerContext) []int64 {
	if caller == nil {
		return nil
	}
	ids := make([]int64, len(caller.AccessiblePracticeIDs))
	copy(ids, caller.AccessiblePracticeIDs)
	return ids
}

// BypassTenantFilter reports whether the tenant filter is skipped for
// this caller. Super-admin is the only honored scope escape.
func (e *Evaluator) BypassTenantFilter(caller *CallerContext) bool {
	return caller != nil && caller.IsSuperAdmin
}
