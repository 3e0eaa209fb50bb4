package nlsql

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// Complexity is a coarse estimate of how involved a generated query is
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// queryShape is what the estimator extracts from a statement
type queryShape struct {
	joins          int
	tables         []string
	hasWindow      bool
	hasAggregation bool // any aggregate beyond COUNT
}

// aggregateFunctions beyond COUNT push a query out of "simple"
var aggregateFunctions = map[string]bool{
	"sum":        true,
	"avg":        true,
	"min":        true,
	"max":        true,
	"stddev":     true,
	"variance":   true,
	"percentile": true,
	"array_agg":  true,
	"string_agg": true,
}

// EstimateComplexity classifies an extracted SQL statement:
// simple means no joins and no aggregation beyond COUNT, moderate is
// one to three joins, complex is four or more joins or any window
// function. Unparseable input reports complex; the validator will
// reject it anyway.
func EstimateComplexity(sql string) (Complexity, []string) {
	shape, ok := analyze(sql)
	if !ok {
		return ComplexityComplex, nil
	}

	switch {
	case shape.hasWindow, shape.joins >= 4:
		return ComplexityComplex, shape.tables
	case shape.joins >= 1, shape.hasAggregation:
		return ComplexityModerate, shape.tables
	default:
		return ComplexitySimple, shape.tables
	}
}

func analyze(sql string) (*queryShape, bool) {
	tree, err := pg_query.Parse(sql)
	if err != nil || len(tree.Stmts) == 0 {
		return nil, false
	}

	shape := &queryShape{}
	seen := make(map[string]bool)
	walkShape(tree.Stmts[0].Stmt, shape, seen)
	return shape, true
}

func walkShape(node *pg_query.Node, shape *queryShape, seen map[string]bool) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		sel := n.SelectStmt
		for _, target := range sel.TargetList {
			walkShape(target, shape, seen)
		}
		for _, from := range sel.FromClause {
			walkShape(from, shape, seen)
		}
		walkShape(sel.WhereClause, shape, seen)
		walkShape(sel.HavingClause, shape, seen)
		for _, group := range sel.GroupClause {
			walkShape(group, shape, seen)
		}
	case *pg_query.Node_JoinExpr:
		shape.joins++
		walkShape(n.JoinExpr.Larg, shape, seen)
		walkShape(n.JoinExpr.Rarg, shape, seen)
	case *pg_query.Node_RangeVar:
		rv := n.RangeVar
		name := strings.ToLower(rv.Relname)
		if rv.Schemaname != "" {
			name = strings.ToLower(rv.Schemaname) + "." + name
		}
		if !seen[name] {
			seen[name] = true
			shape.tables = append(shape.tables, name)
		}
	case *pg_query.Node_ResTarget:
		walkShape(n.ResTarget.Val, shape, seen)
	case *pg_query.Node_FuncCall:
		fc := n.FuncCall
		if fc.Over != nil {
			shape.hasWindow = true
		}
		name := ""
		for _, part := range fc.Funcname {
			if s := part.GetString_(); s != nil {
				name = strings.ToLower(s.Sval)
			}
		}
		if aggregateFunctions[name] {
			shape.hasAggregation = true
		}
		for _, arg := range fc.Args {
			walkShape(arg, shape, seen)
		}
	case *pg_query.Node_AExpr:
		walkShape(n.AExpr.Lexpr, shape, seen)
		walkShape(n.AExpr.Rexpr, shape, seen)
	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.Args {
			walkShape(arg, shape, seen)
		}
	}
}
