package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/insano70/bcos-sub018/internal/observability"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// FinalQuery is a rewritten, tenant-scoped SELECT ready for execution
type FinalQuery struct {
	SQL                   string
	RowCap                int
	Timeout               time.Duration
	FilterApplied         bool
	FilteredPracticeCount int
}

// ExecutionResult is the bounded result of one analytics query
type ExecutionResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Duration  time.Duration    `json:"-"`
}

// Executor submits final queries to the analytics endpoint with
// timeout, queue timeout, and row-cap enforcement. The injected LIMIT
// already bounds output; the streaming cap here is defense in depth.
type Executor struct {
	pool           *pgxpool.Pool
	queueTimeout   time.Duration
	defaultTimeout time.Duration
	timeoutCeiling time.Duration
	metrics        *observability.Metrics
}

// NewExecutor creates a query executor over the analytics pool
func NewExecutor(pool *pgxpool.Pool, queueTimeout, defaultTimeout, timeoutCeiling time.Duration, metrics *observability.Metrics) *Executor {
	return &Executor{
		pool:           pool,
		queueTimeout:   queueTimeout,
		defaultTimeout: defaultTimeout,
		timeoutCeiling: timeoutCeiling,
		metrics:        metrics,
	}
}

// Execute runs the final query. On failure the returned error is an
// *ExecError carrying a stable classification; the raw driver error is
// logged here and never travels further.
func (e *Executor) Execute(ctx context.Context, query FinalQuery) (*ExecutionResult, error) {
	start := time.Now()

	timeout := query.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if timeout > e.timeoutCeiling {
		timeout = e.timeoutCeiling
	}

	// Acquire from the bounded pool; saturation surfaces as a queue
	// timeout distinct from query timeouts.
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, e.queueTimeout)
	defer cancelAcquire()

	conn, err := e.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			e.metrics.RecordAnalyticsQuery("queue_timeout", time.Since(start), -1)
			log.Warn().Dur("queue_timeout", e.queueTimeout).Msg("Analytics pool saturated")
			return nil, &ExecError{Class: FailureQueueTimeout, Err: err}
		}
		e.metrics.RecordAnalyticsQuery("error", time.Since(start), -1)
		return nil, &ExecError{Class: classify(err), Err: err}
	}
	defer conn.Release()

	queryCtx, cancelQuery := context.WithTimeout(ctx, timeout)
	defer cancelQuery()

	rows, err := conn.Query(queryCtx, query.SQL)
	if err != nil {
		class := classify(err)
		e.metrics.RecordAnalyticsQuery(string(class), time.Since(start), -1)
		log.Error().Err(err).Str("sql", query.SQL).Msg("Analytics query failed")
		return nil, &ExecError{Class: class, Err: err}
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	result := &ExecutionResult{
		Columns: make([]string, len(fieldDescs)),
		Rows:    []map[string]any{},
	}
	for i, fd := range fieldDescs {
		result.Columns[i] = string(fd.Name)
	}

	for rows.Next() {
		if result.RowCount >= query.RowCap {
			// The driver streamed past the injected LIMIT; stop reading
			// and report truncation
			result.Truncated = true
			break
		}

		values, err := rows.Values()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to scan row values")
			continue
		}

		row := make(map[string]any, len(result.Columns))
		for i, col := range result.Columns {
			row[col] = convertValue(values[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}

	if err := rows.Err(); err != nil && !result.Truncated {
		class := classify(err)
		e.metrics.RecordAnalyticsQuery(string(class), time.Since(start), -1)
		log.Error().Err(err).Str("sql", query.SQL).Msg("Error reading analytics results")
		return nil, &ExecError{Class: class, Err: err}
	}

	result.Duration = time.Since(start)
	e.metrics.RecordAnalyticsQuery("ok", result.Duration, result.RowCount)

	log.Debug().
		Int("row_count", result.RowCount).
		Bool("truncated", result.Truncated).
		Dur("duration", result.Duration).
		Msg("Analytics query executed")

	return result, nil
}

// HealthStatus reports whether the analytics endpoint is reachable
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency_ms"`
	LastError string        `json:"error,omitempty"`
}

// Health probes the analytics endpoint with a trivial query. Callers
// use it to decide whether to attempt execution at all.
func (e *Executor) Health(ctx context.Context) HealthStatus {
	start := time.Now()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := e.pool.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return HealthStatus{
			Healthy:   false,
			Latency:   time.Since(start),
			LastError: fmt.Sprintf("probe failed: %s", classify(err)),
		}
	}

	return HealthStatus{Healthy: true, Latency: time.Since(start)}
}

// convertValue converts database values to JSON-safe types
func convertValue(v any) any {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case []byte:
		// Try to parse as JSON
		var jsonVal any
		if err := json.Unmarshal(val, &jsonVal); err == nil {
			return jsonVal
		}
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
