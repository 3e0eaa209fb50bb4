package nlsql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/insano70/bcos-sub018/internal/authz"
	"github.com/insano70/bcos-sub018/internal/config"
	"github.com/insano70/bcos-sub018/internal/metadata"
	"github.com/insano70/bcos-sub018/internal/observability"
)

// FailureReason explains why SQL generation did not produce a statement
type FailureReason string

const (
	ReasonProviderError FailureReason = "provider_error"
	ReasonTimeout       FailureReason = "timeout"
	ReasonNoSQLFound    FailureReason = "no_sql_found"
	ReasonRateLimited   FailureReason = "rate_limited"
	ReasonNoMetadata    FailureReason = "no_metadata"
)

// GenError is a generation failure with a stable reason
type GenError struct {
	Reason FailureReason
	Err    error
}

func (e *GenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nlsql: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("nlsql: %s", e.Reason)
}

func (e *GenError) Unwrap() error { return e.Err }

// Generation is the outcome of one natural-language request. The SQL it
// carries is a candidate only; it has no standing until the validation
// pipeline accepts it.
type Generation struct {
	SQL              string     `json:"sql"`
	TablesUsed       []string   `json:"tables_used,omitempty"`
	Complexity       Complexity `json:"complexity"`
	ModelUsed        string     `json:"model_used"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	Explanation      string     `json:"explanation,omitempty"`
}

// SchemaSource supplies the curated metadata the prompt is built from
type SchemaSource interface {
	ListTables(ctx context.Context, caller *authz.CallerContext, filter metadata.TableFilter) ([]metadata.TableMetadata, error)
	GetColumns(ctx context.Context, caller *authz.CallerContext, tableID int64) ([]metadata.ColumnMetadata, error)
}

// Generator turns a natural-language question into a candidate SQL
// statement. The prompt is bounded to a fixed number of tables, and the
// model response is reduced to exactly one statement before it leaves
// this package.
type Generator struct {
	provider      Provider
	schema        SchemaSource
	limiter       *rate.Limiter
	timeout       time.Duration
	metadataLimit int
	metrics       *observability.Metrics
}

// NewGenerator creates a generator over the configured provider
func NewGenerator(provider Provider, schema SchemaSource, cfg config.LLMConfig, metadataLimit int, metrics *observability.Metrics) *Generator {
	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 30
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if metadataLimit <= 0 {
		metadataLimit = 50
	}

	return &Generator{
		provider:      provider,
		schema:        schema,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		timeout:       timeout,
		metadataLimit: metadataLimit,
		metrics:       metrics,
	}
}

const systemPrompt = `You are a SQL assistant for a healthcare analytics database (PostgreSQL).
Translate the user's question into exactly one SQL statement.

Rules:
- Emit a single SELECT statement and nothing else.
- Use only the tables and columns listed in the schema section. Always qualify tables as schema.table.
- Do not use UNION, INTERSECT, EXCEPT, subqueries, or WITH clauses.
- Do not add a practice or tenant filter; it is applied automatically.
- Wrap the statement in a fenced code block marked sql.`

// Generate produces a candidate SQL statement for a question. It never
// executes anything; the caller feeds the result through the same
// validation as hand-written SQL.
func (g *Generator) Generate(ctx context.Context, caller *authz.CallerContext, question string) (*Generation, error) {
	start := time.Now()

	if !g.limiter.Allow() {
		g.metrics.RecordLLMRequest(g.provider.Name(), "rate_limited", time.Since(start), 0, 0)
		return nil, &GenError{Reason: ReasonRateLimited}
	}

	prompt, err := g.buildSchemaPrompt(ctx, caller)
	if err != nil {
		return nil, err
	}

	chatCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.provider.Chat(chatCtx, &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: systemPrompt + "\n\n" + prompt},
			{Role: RoleUser, Content: question},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		reason := ReasonProviderError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		g.metrics.RecordLLMRequest(g.provider.Name(), string(reason), time.Since(start), 0, 0)
		return nil, &GenError{Reason: reason, Err: err}
	}

	promptTokens, completionTokens := tokens(resp)

	sql := ExtractSQL(resp.Content)
	if sql == "" {
		g.metrics.RecordLLMRequest(g.provider.Name(), string(ReasonNoSQLFound), time.Since(start), promptTokens, completionTokens)
		return nil, &GenError{Reason: ReasonNoSQLFound}
	}

	complexity, tables := EstimateComplexity(sql)

	gen := &Generation{
		SQL:         sql,
		TablesUsed:  tables,
		Complexity:  complexity,
		ModelUsed:   resp.Model,
		Explanation: explanationFrom(resp.Content),
	}
	gen.PromptTokens = promptTokens
	gen.CompletionTokens = completionTokens

	g.metrics.RecordLLMRequest(g.provider.Name(), "success", time.Since(start), promptTokens, completionTokens)

	log.Debug().
		Str("user_id", caller.UserID).
		Str("model", gen.ModelUsed).
		Str("complexity", string(gen.Complexity)).
		Strs("tables", gen.TablesUsed).
		Dur("duration", time.Since(start)).
		Msg("SQL generated")

	return gen, nil
}

// Close releases the underlying provider
func (g *Generator) Close() error {
	return g.provider.Close()
}

// buildSchemaPrompt renders the tables visible to the caller, capped at
// the configured metadata limit so the prompt stays bounded regardless
// of catalogue size.
func (g *Generator) buildSchemaPrompt(ctx context.Context, caller *authz.CallerContext) (string, error) {
	tables, err := g.schema.ListTables(ctx, caller, metadata.TableFilter{
		ActiveOnly: true,
		Limit:      g.metadataLimit,
	})
	if err != nil {
		return "", &GenError{Reason: ReasonNoMetadata, Err: err}
	}
	if len(tables) == 0 {
		return "", &GenError{Reason: ReasonNoMetadata, Err: fmt.Errorf("no tables visible to caller")}
	}
	if len(tables) > g.metadataLimit {
		tables = tables[:g.metadataLimit]
	}

	var b strings.Builder
	b.WriteString("Schema:\n")
	for _, t := range tables {
		b.WriteString("\n")
		b.WriteString(t.Qualified())
		if t.Description != "" {
			b.WriteString(" -- ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")

		columns, err := g.schema.GetColumns(ctx, caller, t.ID)
		if err != nil {
			// One table's columns failing should not sink the prompt
			log.Warn().Err(err).Str("table", t.Qualified()).Msg("Column lookup failed, listing table without columns")
			continue
		}
		for _, c := range columns {
			b.WriteString("  ")
			b.WriteString(c.Name)
			b.WriteString(" ")
			b.WriteString(c.DataType)
			if c.Description != "" {
				b.WriteString(" -- ")
				b.WriteString(c.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// explanationFrom returns any prose the model wrote before its code
// fence, used as a human-readable summary of the query.
func explanationFrom(content string) string {
	loc := fencePattern.FindStringIndex(content)
	if loc == nil {
		return ""
	}
	expl := strings.TrimSpace(content[:loc[0]])
	if len(expl) > 500 {
		expl = expl[:500]
	}
	return expl
}

func tokens(resp *ChatResponse) (int, int) {
	if resp == nil || resp.Usage == nil {
		return 0, 0
	}
	return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
}
