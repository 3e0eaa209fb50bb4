package sqlguard

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/rs/zerolog/log"
)

// StatementType classifies the top-level statement of a parsed query
type StatementType string

const (
	StatementSelect  StatementType = "select"
	StatementInsert  StatementType = "insert"
	StatementUpdate  StatementType = "update"
	StatementDelete  StatementType = "delete"
	StatementDDL     StatementType = "ddl"
	StatementUnknown StatementType = "unknown"
)

// TableRef is one table occurrence in the FROM/JOIN positions of the
// top-level SELECT. Equality over (schema, table) is case-insensitive
// and ignores quoting; both fields are stored normalized.
type TableRef struct {
	Schema string
	Table  string
	Alias  string
}

// Qualified returns the schema.table form, or the bare table name for
// unqualified references.
func (t TableRef) Qualified() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// ParseResult is the structural analysis of a candidate SQL string.
// The underlying AST is owned by this value for the duration of the
// pipeline invocation and never escapes the package.
type ParseResult struct {
	Valid         bool
	StatementType StatementType
	Tables        []TableRef
	HasUnion      bool
	HasSubquery   bool
	Errors        []string

	tree *pg_query.ParseResult
	sel  *pg_query.SelectStmt
}

// Release drops the AST handle. The result must not be passed to the
// rewriter afterwards.
func (r *ParseResult) Release() {
	r.tree = nil
	r.sel = nil
}

// Validator turns candidate SQL into a ParseResult and rejects anything
// the pipeline is not prepared to reason about safely. The parser is a
// real Postgres parser; the destructive-keyword sweep in keywords.go is
// an orthogonal belt-and-braces check run by the pipeline regardless of
// how the parser classifies the statement.
type Validator struct{}

// NewValidator creates a SQL validator
func NewValidator() *Validator {
	return &Validator{}
}

// Parse parses and validates a candidate SQL string. The returned error
// is the first category-level failure (a *RuleError); the ParseResult
// accumulates every detected violation in Errors for logging.
func (v *Validator) Parse(sql string) (*ParseResult, error) {
	result := &ParseResult{
		StatementType: StatementUnknown,
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, &RuleError{Rule: RuleParse, Detail: firstLine(err.Error())}
	}

	if len(tree.Stmts) == 0 {
		result.Errors = append(result.Errors, "empty SQL statement")
		return result, &RuleError{Rule: RuleParse, Detail: "empty SQL statement"}
	}

	if len(tree.Stmts) > 1 {
		result.Errors = append(result.Errors, "multiple SQL statements not allowed")
		return result, &RuleError{Rule: RuleSingleStatement, Detail: "multiple SQL statements not allowed"}
	}

	stmt := tree.Stmts[0].Stmt
	result.StatementType = classifyStatement(stmt)

	if result.StatementType != StatementSelect {
		result.Errors = append(result.Errors, fmt.Sprintf("statement type %s is not allowed", result.StatementType))
		return result, &RuleError{Rule: RuleSelectOnly, Detail: fmt.Sprintf("only SELECT statements are allowed, got %s", result.StatementType)}
	}

	sel := stmt.GetSelectStmt()
	result.tree = tree
	result.sel = sel

	// Set operations and CTEs are both out of bounds for the rewriter
	if sel.Op != pg_query.SetOperation_SETOP_NONE {
		result.HasUnion = true
		result.Errors = append(result.Errors, "set operations (UNION/INTERSECT/EXCEPT) not allowed")
	}
	if sel.WithClause != nil {
		result.HasSubquery = true
		result.Errors = append(result.Errors, "common table expressions not allowed")
	}

	result.Tables = collectTables(sel, result)
	findSubqueries(sel, result)

	// System catalogues are never queryable regardless of the allow-list
	for _, ref := range result.Tables {
		if blockedSchemas[ref.Schema] {
			result.Errors = append(result.Errors, fmt.Sprintf("system schema not allowed: %s", ref.Qualified()))
			return result, &RuleError{Rule: RuleTableNotAllowed, Detail: ref.Qualified()}
		}
	}

	if fn := findDangerousFunction(stmt); fn != "" {
		result.Errors = append(result.Errors, fmt.Sprintf("dangerous function not allowed: %s", fn))
		return result, &RuleError{Rule: RuleDangerousFunction, Detail: fn}
	}

	if result.HasUnion {
		return result, &RuleError{Rule: RuleNoUnion, Detail: "set operations (UNION/INTERSECT/EXCEPT) are not allowed"}
	}
	if result.HasSubquery {
		return result, &RuleError{Rule: RuleNoSubquery, Detail: "subqueries are not allowed"}
	}

	result.Valid = true

	log.Debug().
		Str("statement_type", string(result.StatementType)).
		Int("tables", len(result.Tables)).
		Msg("SQL validation passed")

	return result, nil
}

// CheckTables verifies every table reference against the allow-list.
// Contains must accept an empty schema for unqualified references.
func (v *Validator) CheckTables(result *ParseResult, contains func(schema, table string) bool) error {
	var disallowed []string
	for _, ref := range result.Tables {
		if !contains(ref.Schema, ref.Table) {
			disallowed = append(disallowed, ref.Qualified())
		}
	}
	if len(disallowed) > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("tables not allowed: %s", strings.Join(disallowed, ", ")))
		return &RuleError{Rule: RuleTableNotAllowed, Detail: strings.Join(disallowed, ", ")}
	}
	return nil
}

// classifyStatement maps the parse tree root to a statement type
func classifyStatement(stmt *pg_query.Node) StatementType {
	if stmt == nil {
		return StatementUnknown
	}
	switch stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return StatementSelect
	case *pg_query.Node_InsertStmt:
		return StatementInsert
	case *pg_query.Node_UpdateStmt:
		return StatementUpdate
	case *pg_query.Node_DeleteStmt:
		return StatementDelete
	case *pg_query.Node_CreateStmt,
		*pg_query.Node_DropStmt,
		*pg_query.Node_AlterTableStmt,
		*pg_query.Node_TruncateStmt,
		*pg_query.Node_GrantStmt,
		*pg_query.Node_IndexStmt,
		*pg_query.Node_CreateTableAsStmt,
		*pg_query.Node_ViewStmt:
		return StatementDDL
	default:
		return StatementUnknown
	}
}

// collectTables walks only the top-level SELECT's source clauses.
// Subselects in FROM are recorded as subqueries, not table refs.
func collectTables(sel *pg_query.SelectStmt, result *ParseResult) []TableRef {
	var refs []TableRef
	var walkFrom func(node *pg_query.Node)
	walkFrom = func(node *pg_query.Node) {
		if node == nil {
			return
		}
		switch n := node.Node.(type) {
		case *pg_query.Node_RangeVar:
			if n.RangeVar != nil {
				ref := TableRef{
					Schema: strings.ToLower(n.RangeVar.Schemaname),
					Table:  strings.ToLower(n.RangeVar.Relname),
				}
				if n.RangeVar.Alias != nil {
					ref.Alias = n.RangeVar.Alias.Aliasname
				}
				refs = append(refs, ref)
			}
		case *pg_query.Node_JoinExpr:
			if n.JoinExpr != nil {
				walkFrom(n.JoinExpr.Larg)
				walkFrom(n.JoinExpr.Rarg)
				if containsSubLink(n.JoinExpr.Quals) {
					result.HasSubquery = true
					result.Errors = append(result.Errors, "subquery in JOIN condition not allowed")
				}
			}
		case *pg_query.Node_RangeSubselect:
			result.HasSubquery = true
			result.Errors = append(result.Errors, "subquery in FROM not allowed")
		}
	}
	for _, from := range sel.FromClause {
		walkFrom(from)
	}
	return refs
}

// findSubqueries flags sublinks in WHERE, HAVING, and the projection
// list. Scalar subqueries in the SELECT list are rejected like any
// other subquery.
func findSubqueries(sel *pg_query.SelectStmt, result *ParseResult) {
	if containsSubLink(sel.WhereClause) {
		result.HasSubquery = true
		result.Errors = append(result.Errors, "subquery in WHERE not allowed")
	}
	if containsSubLink(sel.HavingClause) {
		result.HasSubquery = true
		result.Errors = append(result.Errors, "subquery in HAVING not allowed")
	}
	for _, target := range sel.TargetList {
		if rt := target.GetResTarget(); rt != nil && containsSubLink(rt.Val) {
			result.HasSubquery = true
			result.Errors = append(result.Errors, "subquery in projection not allowed")
		}
	}
}

// containsSubLink walks an expression tree looking for SubLink nodes
func containsSubLink(node *pg_query.Node) bool {
	if node == nil {
		return false
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SubLink:
		return true
	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.GetArgs() {
			if containsSubLink(arg) {
				return true
			}
		}
	case *pg_query.Node_AExpr:
		return containsSubLink(n.AExpr.GetLexpr()) || containsSubLink(n.AExpr.GetRexpr())
	case *pg_query.Node_NullTest:
		return containsSubLink(n.NullTest.GetArg())
	case *pg_query.Node_FuncCall:
		for _, arg := range n.FuncCall.GetArgs() {
			if containsSubLink(arg) {
				return true
			}
		}
	case *pg_query.Node_CoalesceExpr:
		for _, arg := range n.CoalesceExpr.GetArgs() {
			if containsSubLink(arg) {
				return true
			}
		}
	case *pg_query.Node_CaseExpr:
		for _, when := range n.CaseExpr.GetArgs() {
			if containsSubLink(when) {
				return true
			}
		}
		return containsSubLink(n.CaseExpr.GetDefresult())
	case *pg_query.Node_CaseWhen:
		return containsSubLink(n.CaseWhen.GetExpr()) || containsSubLink(n.CaseWhen.GetResult())
	case *pg_query.Node_TypeCast:
		return containsSubLink(n.TypeCast.GetArg())
	}
	return false
}

// blockedSchemas are Postgres system schemas the explorer never exposes
var blockedSchemas = map[string]bool{
	"pg_catalog":         true,
	"information_schema": true,
	"pg_toast":           true,
}

// dangerousFunctions are server-side functions that can read files or
// reach other databases. Carried as defense in depth even though the
// analytics role should not have them granted.
var dangerousFunctions = map[string]bool{
	"pg_read_file":        true,
	"pg_read_binary_file": true,
	"pg_ls_dir":           true,
	"lo_import":           true,
	"lo_export":           true,
	"dblink":              true,
	"dblink_exec":         true,
	"set_config":          true,
	"pg_sleep":            true,
}

// findDangerousFunction walks the whole statement for function calls to
// the blocked set and returns the first match.
func findDangerousFunction(node *pg_query.Node) string {
	if node == nil {
		return ""
	}

	if fc := node.GetFuncCall(); fc != nil {
		name := ""
		for _, part := range fc.Funcname {
			if s := part.GetString_(); s != nil {
				name = s.Sval
			}
		}
		if dangerousFunctions[strings.ToLower(name)] {
			return strings.ToLower(name)
		}
		for _, arg := range fc.Args {
			if found := findDangerousFunction(arg); found != "" {
				return found
			}
		}
		return ""
	}

	if sel := node.GetSelectStmt(); sel != nil {
		children := append([]*pg_query.Node{}, sel.TargetList...)
		children = append(children, sel.FromClause...)
		children = append(children, sel.WhereClause, sel.HavingClause)
		children = append(children, sel.GroupClause...)
		children = append(children, sel.SortClause...)
		for _, child := range children {
			if found := findDangerousFunction(child); found != "" {
				return found
			}
		}
		return ""
	}

	if rt := node.GetResTarget(); rt != nil {
		return findDangerousFunction(rt.Val)
	}
	if be := node.GetBoolExpr(); be != nil {
		for _, arg := range be.Args {
			if found := findDangerousFunction(arg); found != "" {
				return found
			}
		}
		return ""
	}
	if ae := node.GetAExpr(); ae != nil {
		if found := findDangerousFunction(ae.Lexpr); found != "" {
			return found
		}
		return findDangerousFunction(ae.Rexpr)
	}
	if sb := node.GetSortBy(); sb != nil {
		return findDangerousFunction(sb.Node)
	}
	if nt := node.GetNullTest(); nt != nil {
		return findDangerousFunction(nt.Arg)
	}
	if tc := node.GetTypeCast(); tc != nil {
		return findDangerousFunction(tc.Arg)
	}
	if ce := node.GetCoalesceExpr(); ce != nil {
		for _, arg := range ce.Args {
			if found := findDangerousFunction(arg); found != "" {
				return found
			}
		}
		return ""
	}
	if ca := node.GetCaseExpr(); ca != nil {
		for _, when := range ca.Args {
			if found := findDangerousFunction(when); found != "" {
				return found
			}
		}
		return findDangerousFunction(ca.Defresult)
	}
	if cw := node.GetCaseWhen(); cw != nil {
		if found := findDangerousFunction(cw.Expr); found != "" {
			return found
		}
		return findDangerousFunction(cw.Result)
	}

	return ""
}

// firstLine truncates multi-line parser errors to a single line safe to
// surface to callers.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
