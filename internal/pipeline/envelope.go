package pipeline

import (
	"github.com/insano70/bcos-sub018/internal/analytics"
	"github.com/insano70/bcos-sub018/internal/nlsql"
)

// Result is the envelope every pipeline invocation returns. Exactly one
// of Data and Error is set.
type Result struct {
	OK    bool           `json:"ok"`
	Data  *ResultData    `json:"data,omitempty"`
	Error *PipelineError `json:"error,omitempty"`
}

// ResultData is the success payload. SQLExecuted is the post-rewrite
// statement and is safe to log; Rows is bounded by the row cap.
type ResultData struct {
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RowCount    int              `json:"row_count"`
	Truncated   bool             `json:"truncated"`
	DurationMS  int64            `json:"duration_ms"`
	SQLExecuted string           `json:"sql_executed"`
	Generation  *GenerationInfo  `json:"generation,omitempty"`
}

// GenerationInfo reports how the natural-language path produced the SQL
// that was then validated and executed.
type GenerationInfo struct {
	Complexity       nlsql.Complexity `json:"complexity"`
	ModelUsed        string           `json:"model_used"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	Explanation      string           `json:"explanation,omitempty"`
}

func successResult(exec *analytics.ExecutionResult, sqlExecuted string) *Result {
	return &Result{
		OK: true,
		Data: &ResultData{
			Columns:     exec.Columns,
			Rows:        exec.Rows,
			RowCount:    exec.RowCount,
			Truncated:   exec.Truncated,
			DurationMS:  exec.Duration.Milliseconds(),
			SQLExecuted: sqlExecuted,
		},
	}
}

func failureResult(perr *PipelineError) *Result {
	return &Result{OK: false, Error: perr}
}
