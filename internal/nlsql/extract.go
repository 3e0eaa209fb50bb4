package nlsql

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// ExtractSQL pulls a single SQL statement out of a model response.
// Fenced code blocks are preferred; otherwise the response is scanned
// for the first line starting a SELECT. Returns an empty string when no
// statement can be found.
func ExtractSQL(response string) string {
	response = strings.TrimSpace(response)
	if response == "" {
		return ""
	}

	// Prefer the first fenced code block
	if m := fencePattern.FindStringSubmatch(response); m != nil {
		return normalizeStatement(m[1])
	}

	// No fence: accept a bare statement
	upper := strings.ToUpper(response)
	if idx := strings.Index(upper, "SELECT"); idx >= 0 {
		return normalizeStatement(response[idx:])
	}

	return ""
}

// normalizeStatement trims surrounding noise and keeps exactly one
// statement: everything after the first semicolon is dropped.
func normalizeStatement(sql string) string {
	sql = strings.TrimSpace(sql)
	if idx := strings.IndexByte(sql, ';'); idx >= 0 {
		sql = sql[:idx]
	}
	return strings.TrimSpace(sql)
}
