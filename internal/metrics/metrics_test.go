package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeToolError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"timeout", errors.New("context deadline exceeded"), ToolErrorTimeout},
		{"rate limit", errors.New("429 too many requests"), ToolErrorRateLimit},
		{"auth", errors.New("401 unauthorized"), ToolErrorAuth},
		{"network", errors.New("connection refused"), ToolErrorNetwork},
		{"invalid request", errors.New("400 invalid symbol"), ToolErrorInvalidReq},
		{"server error", errors.New("502 bad gateway"), ToolErrorServerError},
		{"other", errors.New("something unexpected"), ToolErrorOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeToolError(tt.err))
		})
	}
}

func TestRecordAnalysisLifecycle(t *testing.T) {
	before := testutil.ToFloat64(ActiveAnalyses)

	RecordAnalysisStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(ActiveAnalyses))

	RecordAnalysisCompleted(OutcomeCompleted, 1200)
	assert.Equal(t, before, testutil.ToFloat64(ActiveAnalyses))
}

func TestRecordAgentRun(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordAgentRun("fundamental", OutcomeCompleted, 250, 0.82)
		RecordAgentRun("technical", OutcomeFailed, 50, 0)
	})

	assert.Equal(t, 0.82, testutil.ToFloat64(AgentConfidence.WithLabelValues("fundamental")))
}

func TestRecordConsensus(t *testing.T) {
	RecordConsensusWeight("risk", 0.15)
	assert.Equal(t, 0.15, testutil.ToFloat64(ConsensusWeight.WithLabelValues("risk")))

	RecordConsensusConfidence(0.73)
	assert.Equal(t, 0.73, testutil.ToFloat64(ConsensusConfidence))
}

func TestRecordLLMRequest(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordLLMRequest("synthesis", "claude-sonnet", 3400)
		RecordLLMRequest("critique", "claude-sonnet", 1800)
	})
}

func TestRecordCritiqueRevision(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordCritiqueRevision()
	})
}

func TestRecordDriftAlert(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDriftAlert("price_move", "high")
		RecordDriftAlert("volatility_spike", "medium")
	})
}

func TestRecordDriftTick(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDriftTick(42)
	})
}

func TestRecordMCPToolCall(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordMCPToolCall("get_quote", "market-data", 15, nil)
		RecordMCPToolCall("get_quote", "market-data", 5000, errors.New("timeout waiting for response"))
	})
}

func TestUpdateDatabaseConnections(t *testing.T) {
	UpdateDatabaseConnections(5, 3)
	assert.Equal(t, float64(5), testutil.ToFloat64(DatabaseConnectionsActive))
	assert.Equal(t, float64(3), testutil.ToFloat64(DatabaseConnectionsIdle))

	assert.NotPanics(t, func() {
		UpdateDatabaseConnections(10, 3)
		UpdateDatabaseConnections(0, 0)
	})
}

func TestRecordAPIRequest(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordAPIRequest("POST", "/api/v1/analyses", "202", 12.5)
	})
}

func TestRecordError(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError("validation", "api")
	})
}

func TestRecordDatabaseQuery(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDatabaseQuery("select_analysis", 3.2)
	})
}

func TestRecordRedisOperation(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRedisOperation("get")
	})
}
