package sqlguard

import (
	"errors"
	"fmt"
)

// Rule identifies which validation rule a query violated. Each rule is
// a distinct rejection reason surfaced to callers.
type Rule string

const (
	RuleParse              Rule = "parse"
	RuleSingleStatement    Rule = "single-statement"
	RuleSelectOnly         Rule = "select-only"
	RuleNoUnion            Rule = "no-union"
	RuleNoSubquery         Rule = "no-subquery"
	RuleDestructiveKeyword Rule = "no-destructive-keyword"
	RuleDangerousFunction  Rule = "no-dangerous-function"
	RuleTableNotAllowed    Rule = "allow-listed-tables"
)

// RuleError is a validation rejection with the rule that fired and a
// single-line detail safe to surface to the caller.
type RuleError struct {
	Rule   Rule
	Detail string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

// ErrInvariantViolation marks a programmer error: the rewriter was
// handed a query that did not pass validation first.
var ErrInvariantViolation = errors.New("query safety invariant violated")

// ErrNoAccessiblePractices is returned when a non-super-admin caller
// has an empty practice scope.
var ErrNoAccessiblePractices = errors.New("caller has no accessible practices")

// ErrMalformedPracticeID is returned when a practice id cannot be
// emitted as a safe integer literal.
var ErrMalformedPracticeID = errors.New("practice id is not a positive integer")
