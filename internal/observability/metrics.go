package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the data explorer
type Metrics struct {
	// Pipeline metrics
	pipelineInvocationsTotal *prometheus.CounterVec
	pipelineDuration         *prometheus.HistogramVec

	// Analytics query metrics
	analyticsQueriesTotal  *prometheus.CounterVec
	analyticsQueryDuration *prometheus.HistogramVec
	analyticsRowsReturned  prometheus.Histogram

	// Allow-list metrics
	allowListSize prometheus.Gauge
	allowListAge  prometheus.Gauge

	// LLM metrics
	llmRequestsTotal   *prometheus.CounterVec
	llmTokensTotal     *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics on the default Prometheus registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics on the given registerer
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		pipelineInvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_pipeline_invocations_total",
				Help: "Total number of query pipeline invocations",
			},
			[]string{"path", "outcome"},
		),
		pipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_pipeline_duration_seconds",
				Help:    "Pipeline invocation latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"path", "outcome"},
		),
		analyticsQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_analytics_queries_total",
				Help: "Total number of queries submitted to the analytics database",
			},
			[]string{"outcome"},
		),
		analyticsQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_analytics_query_duration_seconds",
				Help:    "Analytics query latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		analyticsRowsReturned: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "explorer_analytics_rows_returned",
				Help:    "Rows returned per analytics query",
				Buckets: prometheus.ExponentialBuckets(1, 10, 6),
			},
		),
		allowListSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "explorer_allow_list_size",
				Help: "Number of tables in the current allow-list snapshot",
			},
		),
		allowListAge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "explorer_allow_list_age_seconds",
				Help: "Age of the current allow-list snapshot in seconds",
			},
		),
		llmRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_llm_requests_total",
				Help: "Total number of LLM generation requests",
			},
			[]string{"provider", "outcome"},
		),
		llmTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_llm_tokens_total",
				Help: "Total LLM tokens consumed",
			},
			[]string{"provider", "kind"},
		),
		llmRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_llm_request_duration_seconds",
				Help:    "LLM request latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
	}
}

// RecordPipelineInvocation records one pipeline invocation outcome
func (m *Metrics) RecordPipelineInvocation(path, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pipelineInvocationsTotal.WithLabelValues(path, outcome).Inc()
	m.pipelineDuration.WithLabelValues(path, outcome).Observe(duration.Seconds())
}

// RecordAnalyticsQuery records one analytics database query
func (m *Metrics) RecordAnalyticsQuery(outcome string, duration time.Duration, rows int) {
	if m == nil {
		return
	}
	m.analyticsQueriesTotal.WithLabelValues(outcome).Inc()
	m.analyticsQueryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if rows >= 0 {
		m.analyticsRowsReturned.Observe(float64(rows))
	}
}

// RecordAllowListSnapshot records the size and age of the allow-list
func (m *Metrics) RecordAllowListSnapshot(size int, age time.Duration) {
	if m == nil {
		return
	}
	m.allowListSize.Set(float64(size))
	m.allowListAge.Set(age.Seconds())
}

// RecordLLMRequest records one LLM generation request
func (m *Metrics) RecordLLMRequest(provider, outcome string, duration time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.llmRequestsTotal.WithLabelValues(provider, outcome).Inc()
	m.llmRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}
