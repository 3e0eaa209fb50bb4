package sqlguard

import (
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// destructiveKeywords are statement-level tokens that would modify the
// analytics database. The sweep is orthogonal to AST classification and
// fires even if the parser misclassifies the statement.
var destructiveKeywords = map[string]bool{
	"DROP":     true,
	"TRUNCATE": true,
	"DELETE":   true,
	"INSERT":   true,
	"UPDATE":   true,
	"ALTER":    true,
	"CREATE":   true,
	"GRANT":    true,
	"REVOKE":   true,
}

// destructivePattern backs the raw-string fallback used when the input
// cannot be tokenized at all.
var destructivePattern = regexp.MustCompile(`(?i)\b(DROP|TRUNCATE|DELETE|INSERT|UPDATE|ALTER|CREATE|GRANT|REVOKE)\b`)

// ScanDestructiveKeywords tokenizes the input and returns every
// destructive keyword found at statement level, upper-cased, in order
// of appearance. Tokenizing first means keywords inside string literals
// or comments never trigger.
func ScanDestructiveKeywords(sql string) []string {
	scanned, err := pg_query.Scan(sql)
	if err != nil {
		// The lexer rejected the input outright. Fall back to a raw
		// sweep so garbage that smuggles a destructive token is still
		// refused rather than waved through.
		var found []string
		for _, m := range destructivePattern.FindAllString(sql, -1) {
			found = append(found, strings.ToUpper(m))
		}
		return dedupe(found)
	}

	var found []string
	for _, tok := range scanned.Tokens {
		if tok.KeywordKind == pg_query.KeywordKind_NO_KEYWORD {
			continue
		}
		text := strings.ToUpper(sql[tok.Start:tok.End])
		if destructiveKeywords[text] {
			found = append(found, text)
		}
	}
	return dedupe(found)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
