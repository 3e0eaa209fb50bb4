package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/insano70/bcos-sub018/internal/allowlist"
	"github.com/insano70/bcos-sub018/internal/analytics"
	"github.com/insano70/bcos-sub018/internal/audit"
	"github.com/insano70/bcos-sub018/internal/authz"
	"github.com/insano70/bcos-sub018/internal/nlsql"
	"github.com/insano70/bcos-sub018/internal/observability"
	"github.com/insano70/bcos-sub018/internal/sqlguard"
)

// State names the stages an invocation advances through, strictly in
// order. A terminal failure reports the state it failed in.
type State string

const (
	StateReceived         State = "received"
	StateAuthzChecked     State = "authz_checked"
	StateParsed           State = "parsed"
	StateAllowListChecked State = "allow_list_checked"
	StateFilterInjected   State = "filter_injected"
	StateExecuted         State = "executed"
	StateReturned         State = "returned"
)

// QueryExecutor submits a final query to the analytics endpoint
type QueryExecutor interface {
	Execute(ctx context.Context, query analytics.FinalQuery) (*analytics.ExecutionResult, error)
}

// SQLGenerator turns a natural-language question into candidate SQL
type SQLGenerator interface {
	Generate(ctx context.Context, caller *authz.CallerContext, question string) (*nlsql.Generation, error)
}

// AllowList provides the current table allow-list snapshot
type AllowList interface {
	Get(ctx context.Context) (*allowlist.Snapshot, error)
}

// Pipeline composes authorization, validation, tenant-filter injection,
// and execution into the single operation the rest of the system
// consumes. Invocations are independent; the only shared state is the
// allow-list snapshot.
type Pipeline struct {
	evaluator *authz.Evaluator
	validator *sqlguard.Validator
	rewriter  *sqlguard.Rewriter
	allowList AllowList
	executor  QueryExecutor
	generator SQLGenerator
	recorder  *audit.Recorder
	metrics   *observability.Metrics

	maxRowCap    int
	queryTimeout time.Duration
}

// Options configures a pipeline
type Options struct {
	Evaluator *authz.Evaluator
	AllowList AllowList
	Executor  QueryExecutor
	Generator SQLGenerator // nil disables the natural-language path
	Recorder  *audit.Recorder
	Metrics   *observability.Metrics

	MaxRowCap    int
	QueryTimeout time.Duration
}

// New creates a pipeline
func New(opts Options) *Pipeline {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = audit.NewRecorder(nil)
	}
	return &Pipeline{
		evaluator:    opts.Evaluator,
		validator:    sqlguard.NewValidator(),
		rewriter:     sqlguard.NewRewriter(),
		allowList:    opts.AllowList,
		executor:     opts.Executor,
		generator:    opts.Generator,
		recorder:     recorder,
		metrics:      opts.Metrics,
		maxRowCap:    opts.MaxRowCap,
		queryTimeout: opts.QueryTimeout,
	}
}

// Query runs caller-submitted SQL through the full safety pipeline.
// It never returns an error; failures are carried in the envelope.
func (p *Pipeline) Query(ctx context.Context, caller *authz.CallerContext, sql string) *Result {
	start := time.Now()
	rec := p.recorder.Begin(callerID(caller), audit.ActionQuery, sql)

	if err := p.evaluator.RequirePermission(caller, authz.PermExecuteOrganization); err != nil {
		return p.fail(rec, "query", start, classifyError(err))
	}

	result, perr := p.runSQL(ctx, caller, sql, &rec)
	if perr != nil {
		return p.fail(rec, "query", start, perr)
	}

	p.recorder.Finish(rec, "ok")
	p.metrics.RecordPipelineInvocation("query", "ok", time.Since(start))
	return result
}

// Ask answers a natural-language question. The generated SQL receives
// no privilege; it passes through the same validation and rewrite as
// caller-submitted SQL.
func (p *Pipeline) Ask(ctx context.Context, caller *authz.CallerContext, question string) *Result {
	start := time.Now()
	rec := p.recorder.Begin(callerID(caller), audit.ActionAsk, question)

	if err := p.evaluator.RequirePermission(caller, authz.PermQueryOrganization); err != nil {
		return p.fail(rec, "ask", start, classifyError(err))
	}

	if p.generator == nil {
		return p.fail(rec, "ask", start, &PipelineError{
			Kind:    KindNLGenerationFailed,
			Message: "natural-language querying is not configured",
			Details: map[string]string{"reason": "not_configured"},
		})
	}

	gen, err := p.generator.Generate(ctx, caller, question)
	if err != nil {
		return p.fail(rec, "ask", start, classifyError(err))
	}

	result, perr := p.runSQL(ctx, caller, gen.SQL, &rec)
	if perr != nil {
		return p.fail(rec, "ask", start, perr)
	}

	result.Data.Generation = &GenerationInfo{
		Complexity:       gen.Complexity,
		ModelUsed:        gen.ModelUsed,
		PromptTokens:     gen.PromptTokens,
		CompletionTokens: gen.CompletionTokens,
		Explanation:      gen.Explanation,
	}

	p.recorder.Finish(rec, "ok")
	p.metrics.RecordPipelineInvocation("ask", "ok", time.Since(start))
	return result
}

// runSQL advances one SQL string through Parsed, AllowListChecked,
// FilterInjected, and Executed. Authorization has already happened.
func (p *Pipeline) runSQL(ctx context.Context, caller *authz.CallerContext, sql string, rec *audit.Record) (*Result, *PipelineError) {
	// The keyword sweep runs before the parser so a destructive token is
	// reported as such even when the statement also fails to parse.
	if found := sqlguard.ScanDestructiveKeywords(sql); len(found) > 0 {
		return nil, classifyRule(&sqlguard.RuleError{
			Rule:   sqlguard.RuleDestructiveKeyword,
			Detail: found[0],
		})
	}

	parsed, err := p.validator.Parse(sql)
	if err != nil {
		return nil, classifyError(err)
	}
	defer parsed.Release()

	rec.TablesReferenced = qualifiedTables(parsed)

	snap, err := p.allowList.Get(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	p.metrics.RecordAllowListSnapshot(snap.Len(), snap.Age())
	if err := p.validator.CheckTables(parsed, snap.Contains); err != nil {
		return nil, classifyError(err)
	}

	bypass := p.evaluator.BypassTenantFilter(caller)
	practiceIDs := p.evaluator.AccessiblePracticeIDs(caller)

	rewritten, err := p.rewriter.Rewrite(parsed, sqlguard.RewriteOptions{
		PracticeIDs:        practiceIDs,
		BypassTenantFilter: bypass,
		MaxRowCap:          p.maxRowCap,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	rec.FilterApplied = rewritten.FilterApplied
	rec.PracticeScopeLen = len(practiceIDs)

	// The AST is done; only the deparsed SQL travels to the executor
	parsed.Release()

	exec, err := p.executor.Execute(ctx, analytics.FinalQuery{
		SQL:                   rewritten.SQL,
		RowCap:                rewritten.RowCap,
		Timeout:               p.queryTimeout,
		FilterApplied:         rewritten.FilterApplied,
		FilteredPracticeCount: rewritten.PracticeCount,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	return successResult(exec, rewritten.SQL), nil
}

// fail records a terminal failure and builds the error envelope
func (p *Pipeline) fail(rec audit.Record, path string, start time.Time, perr *PipelineError) *Result {
	if perr.Kind == KindInternalInvariant {
		log.Error().
			Str("invocation_id", rec.InvocationID).
			Str("caller_id", rec.CallerID).
			Str("path", path).
			Msg("Pipeline invariant violated")
	}

	p.recorder.Finish(rec, string(perr.Kind))
	p.metrics.RecordPipelineInvocation(path, string(perr.Kind), time.Since(start))
	return failureResult(perr)
}

func callerID(caller *authz.CallerContext) string {
	if caller == nil {
		return ""
	}
	return caller.UserID
}

func qualifiedTables(parsed *sqlguard.ParseResult) []string {
	if len(parsed.Tables) == 0 {
		return nil
	}
	out := make([]string, len(parsed.Tables))
	for i, ref := range parsed.Tables {
		out[i] = ref.Qualified()
	}
	return out
}
