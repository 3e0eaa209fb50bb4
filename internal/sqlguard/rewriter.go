package sqlguard

import (
	"fmt"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/rs/zerolog/log"
)

// RewriteOptions carries the caller scope the tenant filter is built
// from. MaxRowCap is the system ceiling; an existing smaller LIMIT is
// preserved, anything else is clamped.
type RewriteOptions struct {
	PracticeIDs        []int64
	BypassTenantFilter bool
	MaxRowCap          int
}

// RewriteResult is the final, executable form of a validated query
type RewriteResult struct {
	SQL           string
	FilterApplied bool
	PracticeCount int
	RowCap        int
}

// Rewriter injects the practice_uid tenant predicate into a validated
// SELECT and enforces the row cap. It runs strictly after validation
// and does not revalidate; being handed an invalid ParseResult is a
// programmer error.
type Rewriter struct{}

// NewRewriter creates a security filter rewriter
func NewRewriter() *Rewriter {
	return &Rewriter{}
}

// Rewrite applies the tenant filter and row cap to the parsed query and
// deparses it back to SQL. Super-admin callers skip the filter but not
// the row cap.
func (r *Rewriter) Rewrite(result *ParseResult, opts RewriteOptions) (*RewriteResult, error) {
	if result == nil || !result.Valid || result.sel == nil || result.tree == nil {
		return nil, fmt.Errorf("%w: rewriter requires a validated SELECT", ErrInvariantViolation)
	}
	if result.StatementType != StatementSelect || result.HasUnion || result.HasSubquery {
		return nil, fmt.Errorf("%w: rewriter requires a plain SELECT", ErrInvariantViolation)
	}
	if opts.MaxRowCap <= 0 {
		return nil, fmt.Errorf("%w: row cap must be positive", ErrInvariantViolation)
	}

	out := &RewriteResult{}

	if !opts.BypassTenantFilter {
		if len(opts.PracticeIDs) == 0 {
			return nil, ErrNoAccessiblePractices
		}
		predicate, err := practicePredicate(opts.PracticeIDs)
		if err != nil {
			return nil, err
		}
		whereNode, err := parseWhereNode(predicate)
		if err != nil {
			return nil, fmt.Errorf("%w: building tenant predicate: %v", ErrInvariantViolation, err)
		}

		if result.sel.WhereClause == nil {
			result.sel.WhereClause = whereNode
		} else {
			result.sel.WhereClause = &pg_query.Node{
				Node: &pg_query.Node_BoolExpr{
					BoolExpr: &pg_query.BoolExpr{
						Boolop: pg_query.BoolExprType_AND_EXPR,
						Args:   []*pg_query.Node{result.sel.WhereClause, whereNode},
					},
				},
			}
		}
		out.FilterApplied = true
		out.PracticeCount = len(opts.PracticeIDs)
	}

	rowCap, err := r.clampLimit(result.sel, opts.MaxRowCap)
	if err != nil {
		return nil, err
	}
	out.RowCap = rowCap

	sql, err := pg_query.Deparse(result.tree)
	if err != nil {
		return nil, fmt.Errorf("%w: deparse failed: %v", ErrInvariantViolation, err)
	}
	out.SQL = sql

	log.Debug().
		Bool("filter_applied", out.FilterApplied).
		Int("practice_count", out.PracticeCount).
		Int("row_cap", out.RowCap).
		Msg("Security filter injected")

	return out, nil
}

// practicePredicate renders the tenant predicate as integer literals.
// The analytics endpoint only accepts literal SQL on this path, so ids
// are re-checked here even though the caller context validated them.
func practicePredicate(ids []int64) (string, error) {
	for _, id := range ids {
		if id <= 0 {
			return "", fmt.Errorf("%w: %d", ErrMalformedPracticeID, id)
		}
	}

	if len(ids) == 1 {
		return fmt.Sprintf("practice_uid = %d", ids[0]), nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("practice_uid IN (%s)", strings.Join(parts, ", ")), nil
}

// clampLimit ensures an explicit LIMIT no larger than the cap and
// returns the effective value. An existing LIMIT within the cap is
// kept, LIMIT 0 included.
func (r *Rewriter) clampLimit(sel *pg_query.SelectStmt, maxCap int) (int, error) {
	if existing, ok := limitValue(sel.LimitCount); ok && existing >= 0 && existing <= int64(maxCap) {
		return int(existing), nil
	}

	node, err := parseLimitNode(maxCap)
	if err != nil {
		return 0, fmt.Errorf("%w: building limit clause: %v", ErrInvariantViolation, err)
	}
	sel.LimitCount = node
	sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT
	return maxCap, nil
}

// limitValue extracts an integer LIMIT if one is present. Non-constant
// limit expressions report false and get replaced by the cap.
func limitValue(node *pg_query.Node) (int64, bool) {
	if node == nil {
		return 0, false
	}
	ac := node.GetAConst()
	if ac == nil {
		return 0, false
	}
	if iv := ac.GetIval(); iv != nil {
		return int64(iv.Ival), true
	}
	// Literals beyond int32 arrive as float constants
	if fv := ac.GetFval(); fv != nil {
		if v, err := strconv.ParseInt(fv.Fval, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// parseWhereNode builds a predicate expression by parsing a template.
// The template is assembled only from validated integer literals.
func parseWhereNode(predicate string) (*pg_query.Node, error) {
	tree, err := pg_query.Parse("SELECT 1 WHERE " + predicate)
	if err != nil {
		return nil, err
	}
	sel := tree.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil || sel.WhereClause == nil {
		return nil, fmt.Errorf("template parse produced no WHERE clause")
	}
	return sel.WhereClause, nil
}

// parseLimitNode builds a LIMIT count node by parsing a template
func parseLimitNode(count int) (*pg_query.Node, error) {
	tree, err := pg_query.Parse(fmt.Sprintf("SELECT 1 LIMIT %d", count))
	if err != nil {
		return nil, err
	}
	sel := tree.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil || sel.LimitCount == nil {
		return nil, fmt.Errorf("template parse produced no LIMIT clause")
	}
	return sel.LimitCount, nil
}
