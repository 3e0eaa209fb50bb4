package pipeline

import (
	"errors"
	"fmt"

	"github.com/insano70/bcos-sub018/internal/allowlist"
	"github.com/insano70/bcos-sub018/internal/analytics"
	"github.com/insano70/bcos-sub018/internal/authz"
	"github.com/insano70/bcos-sub018/internal/nlsql"
	"github.com/insano70/bcos-sub018/internal/sqlguard"
)

// ErrorKind is the stable failure classification surfaced in result
// envelopes. Kinds are part of the external contract and never renamed.
type ErrorKind string

const (
	KindPermissionDenied       ErrorKind = "PermissionDenied"
	KindMalformedCallerContext ErrorKind = "MalformedCallerContext"
	KindParseError             ErrorKind = "ParseError"
	KindNotSelect              ErrorKind = "NotSelect"
	KindUnionForbidden         ErrorKind = "UnionForbidden"
	KindSubqueryForbidden      ErrorKind = "SubqueryForbidden"
	KindDestructiveKeyword     ErrorKind = "DestructiveKeyword"
	KindTableNotAllowed        ErrorKind = "TableNotAllowed"
	KindAllowListUnavailable   ErrorKind = "AllowListUnavailable"
	KindNoAccessiblePractices  ErrorKind = "NoAccessiblePractices"
	KindNLGenerationFailed     ErrorKind = "NLGenerationFailed"
	KindTimeout                ErrorKind = "Timeout"
	KindQueueTimeout           ErrorKind = "QueueTimeout"
	KindRowCapExceeded         ErrorKind = "RowCapExceeded"
	KindInternalInvariant      ErrorKind = "InternalInvariantViolation"
	KindExecutionFailed        ErrorKind = "ExecutionFailed"
)

// PipelineError is the structured failure carried in the envelope. The
// message is a single line safe to show to the caller; Details carries
// machine-readable context.
type PipelineError struct {
	Kind    ErrorKind         `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the caller may retry the same request
// unchanged and plausibly succeed.
func (e *PipelineError) Retryable() bool {
	switch e.Kind {
	case KindAllowListUnavailable, KindQueueTimeout:
		return true
	default:
		return false
	}
}

// classifyError maps typed errors from the inner layers onto the stable
// taxonomy. Unknown errors are internal failures; their text is logged
// by the pipeline but never surfaced.
func classifyError(err error) *PipelineError {
	var permErr *authz.PermissionError
	if errors.As(err, &permErr) {
		if permErr.Reason == authz.DenialMalformedContext {
			return &PipelineError{
				Kind:    KindMalformedCallerContext,
				Message: "caller context failed structural checks",
			}
		}
		return &PipelineError{
			Kind:    KindPermissionDenied,
			Message: "permission denied",
			Details: map[string]string{"required": permErr.Required.String()},
		}
	}

	var ruleErr *sqlguard.RuleError
	if errors.As(err, &ruleErr) {
		return classifyRule(ruleErr)
	}

	if errors.Is(err, sqlguard.ErrNoAccessiblePractices) {
		return &PipelineError{
			Kind:    KindNoAccessiblePractices,
			Message: "caller has no accessible practices",
		}
	}
	if errors.Is(err, sqlguard.ErrInvariantViolation) {
		return &PipelineError{
			Kind:    KindInternalInvariant,
			Message: "internal error",
		}
	}
	if errors.Is(err, allowlist.ErrUnavailable) {
		return &PipelineError{
			Kind:    KindAllowListUnavailable,
			Message: "table allow-list is unavailable, retry shortly",
		}
	}

	var execErr *analytics.ExecError
	if errors.As(err, &execErr) {
		switch execErr.Class {
		case analytics.FailureTimeout:
			return &PipelineError{Kind: KindTimeout, Message: "query exceeded its deadline"}
		case analytics.FailureQueueTimeout:
			return &PipelineError{Kind: KindQueueTimeout, Message: "analytics pool is saturated, retry shortly"}
		default:
			return &PipelineError{Kind: KindExecutionFailed, Message: "query execution failed"}
		}
	}

	var genErr *nlsql.GenError
	if errors.As(err, &genErr) {
		return &PipelineError{
			Kind:    KindNLGenerationFailed,
			Message: "could not generate SQL from the question",
			Details: map[string]string{"reason": string(genErr.Reason)},
		}
	}

	return &PipelineError{Kind: KindInternalInvariant, Message: "internal error"}
}

// classifyRule maps validator rules to error kinds. Rule details
// describe the caller's own input and are surfaced verbatim.
func classifyRule(err *sqlguard.RuleError) *PipelineError {
	switch err.Rule {
	case sqlguard.RuleParse, sqlguard.RuleSingleStatement:
		return &PipelineError{Kind: KindParseError, Message: err.Detail}
	case sqlguard.RuleSelectOnly:
		return &PipelineError{Kind: KindNotSelect, Message: err.Detail}
	case sqlguard.RuleNoUnion:
		return &PipelineError{Kind: KindUnionForbidden, Message: err.Detail}
	case sqlguard.RuleNoSubquery:
		return &PipelineError{Kind: KindSubqueryForbidden, Message: err.Detail}
	case sqlguard.RuleDestructiveKeyword:
		return &PipelineError{
			Kind:    KindDestructiveKeyword,
			Message: "destructive SQL keyword not allowed",
			Details: map[string]string{"keyword": err.Detail},
		}
	case sqlguard.RuleDangerousFunction:
		// Refused at validation, same classification as the keyword sweep
		return &PipelineError{
			Kind:    KindDestructiveKeyword,
			Message: "dangerous SQL function not allowed",
			Details: map[string]string{"function": err.Detail},
		}
	case sqlguard.RuleTableNotAllowed:
		return &PipelineError{
			Kind:    KindTableNotAllowed,
			Message: "query references tables outside the allow-list",
			Details: map[string]string{"tables": err.Detail},
		}
	default:
		return &PipelineError{Kind: KindInternalInvariant, Message: "internal error"}
	}
}
