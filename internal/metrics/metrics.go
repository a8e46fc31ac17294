// Package metrics exposes Prometheus instrumentation for the orchestration
// engine: fan-out/consensus/synthesis/critique stage latency, drift alert
// volume, and the ambient HTTP/database/cache/bus counters every component
// shares.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels. These keep label
// cardinality fixed so metrics don't grow memory unbounded.
const (
	// Market data / MCP tool call error categories (bounded set)
	ToolErrorTimeout     = "timeout"
	ToolErrorRateLimit   = "rate_limit"
	ToolErrorAuth        = "authentication"
	ToolErrorNetwork     = "network"
	ToolErrorInvalidReq  = "invalid_request"
	ToolErrorServerError = "server_error"
	ToolErrorOther       = "other"

	// Analysis terminal outcomes (bounded set)
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// NormalizeToolError maps arbitrary error messages from MCP/market-data
// calls to a bounded error category.
func NormalizeToolError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ToolErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ToolErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ToolErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ToolErrorServerError
	default:
		return ToolErrorOther
	}
}

// Analysis Lifecycle Metrics
var (
	AnalysesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockresearch_analyses_started_total",
		Help: "Total number of analyses started",
	})

	AnalysesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockresearch_analyses_completed_total",
		Help: "Total number of analyses by terminal outcome",
	}, []string{"outcome"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockresearch_analysis_duration_ms",
		Help:    "End-to-end analysis duration in milliseconds",
		Buckets: []float64{500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
	})

	ActiveAnalyses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockresearch_active_analyses",
		Help: "Number of analyses currently running",
	})
)

// Agent Activity Metrics
var (
	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockresearch_agent_runs_total",
		Help: "Total number of agent runs by agent_id and outcome",
	}, []string{"agent_id", "outcome"})

	AgentConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockresearch_agent_confidence",
		Help: "Most recent confidence reported by an agent (0.0 to 1.0)",
	}, []string{"agent_id"})

	AgentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockresearch_agent_duration_ms",
		Help:    "Agent run duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"agent_id"})

	MCPToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockresearch_mcp_tool_call_duration_ms",
		Help:    "MCP tool call duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"tool_name", "server"})

	MCPToolCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockresearch_mcp_tool_call_errors_total",
		Help: "Total MCP tool call errors by normalized category",
	}, []string{"tool_name", "error_category"})
)

// Consensus, Synthesis, and Critique Metrics
var (
	ConsensusWeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockresearch_consensus_weight",
		Help: "Effective weight an agent carried in the most recent consensus computation",
	}, []string{"agent_id"})

	ConsensusConfidence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockresearch_consensus_confidence",
		Help: "Consensus confidence score of the most recently completed analysis",
	})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockresearch_llm_requests_total",
		Help: "Total LLM requests by stage and model",
	}, []string{"stage", "model"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockresearch_llm_request_duration_ms",
		Help:    "LLM request duration in milliseconds by stage",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 20000},
	}, []string{"stage"})

	CritiqueRevisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockresearch_critique_revisions_total",
		Help: "Total number of synthesis drafts revised after critique",
	})
)

// Drift Monitor Metrics
var (
	DriftAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockresearch_drift_alerts_total",
		Help: "Total drift alerts raised by kind and severity",
	}, []string{"kind", "severity"})

	DriftTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockresearch_drift_tick_duration_ms",
		Help:    "DriftMonitor tick duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	})

	DriftMonitoredPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockresearch_drift_monitored_pairs",
		Help: "Number of (analysis_id, symbol) pairs the drift monitor is currently tracking",
	})
)

// System Health Metrics
var (
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockresearch_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockresearch_database_connections_idle",
		Help: "Number of idle database connections",
	})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockresearch_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})

	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockresearch_redis_cache_hit_rate",
		Help: "Redis cache hit rate as a ratio (0.0 to 1.0)",
	})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockresearch_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockresearch_nats_messages_published_total",
		Help: "Total number of NATS messages published",
	})

	NATSMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockresearch_nats_messages_received_total",
		Help: "Total number of NATS messages received",
	})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockresearch_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockresearch_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockresearch_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})
)

// UpdateDatabaseConnections updates database connection gauges.
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordAPIRequest records an API request with duration.
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error.
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query duration.
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordMCPToolCall records an MCP tool call, normalizing err into a
// bounded error category when non-nil.
func RecordMCPToolCall(toolName, server string, durationMs float64, err error) {
	MCPToolCallDuration.WithLabelValues(toolName, server).Observe(durationMs)
	if err != nil {
		MCPToolCallErrors.WithLabelValues(toolName, NormalizeToolError(err)).Inc()
	}
}

// RecordAgentRun records one agent's run outcome, duration, and confidence.
func RecordAgentRun(agentID, outcome string, durationMs, confidence float64) {
	AgentRuns.WithLabelValues(agentID, outcome).Inc()
	AgentDuration.WithLabelValues(agentID).Observe(durationMs)
	if outcome == OutcomeCompleted {
		AgentConfidence.WithLabelValues(agentID).Set(confidence)
	}
}

// RecordConsensusWeight records the effective weight an agent carried in
// the most recent consensus computation.
func RecordConsensusWeight(agentID string, weight float64) {
	ConsensusWeight.WithLabelValues(agentID).Set(weight)
}

// RecordConsensusConfidence records the most recently computed consensus
// confidence score.
func RecordConsensusConfidence(confidence float64) {
	ConsensusConfidence.Set(confidence)
}

// RecordLLMRequest records an LLM call made by a synthesis or critique stage.
func RecordLLMRequest(stage, model string, durationMs float64) {
	LLMRequests.WithLabelValues(stage, model).Inc()
	LLMRequestDuration.WithLabelValues(stage).Observe(durationMs)
}

// RecordCritiqueRevision records that critique sent a synthesis draft back
// for revision.
func RecordCritiqueRevision() {
	CritiqueRevisions.Inc()
}

// RecordDriftAlert records one drift alert raised by the drift monitor.
func RecordDriftAlert(kind, severity string) {
	DriftAlerts.WithLabelValues(kind, severity).Inc()
}

// RecordDriftTick records one DriftMonitor.Tick duration.
func RecordDriftTick(durationMs float64) {
	DriftTickDuration.Observe(durationMs)
}

// RecordRedisOperation records a Redis operation.
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// RecordAnalysisStarted records the start of an analysis run.
func RecordAnalysisStarted() {
	AnalysesStarted.Inc()
	ActiveAnalyses.Inc()
}

// RecordAnalysisCompleted records an analysis's terminal outcome and
// total duration.
func RecordAnalysisCompleted(outcome string, durationMs float64) {
	AnalysesCompleted.WithLabelValues(outcome).Inc()
	AnalysisDuration.Observe(durationMs)
	ActiveAnalyses.Dec()
}
