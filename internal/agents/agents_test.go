package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocder07/stockresearch/internal/agentruntime"
	"github.com/leocder07/stockresearch/internal/retry"
	"github.com/leocder07/stockresearch/internal/toolcaller"
)

type fakeCaller struct {
	result json.RawMessage
	err    error
}

func (f fakeCaller) CallTool(ctx context.Context, serverName, toolName string, args map[string]interface{}) (json.RawMessage, error) {
	return f.result, f.err
}

func (f fakeCaller) ListTools(ctx context.Context, serverName string) ([]toolcaller.ToolDescriptor, error) {
	return nil, nil
}

func TestNewFallsBackToNeutralWithoutTools(t *testing.T) {
	fn := New(Spec{AgentID: "fundamental"})

	opinion, err := fn(context.Background(), agentruntime.AgentContext{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "fundamental", opinion.AgentID)
	assert.Equal(t, "HOLD", opinion.Recommendation)
	assert.Less(t, opinion.Confidence, 0.5)
}

func TestNewMapsToolResultToOpinion(t *testing.T) {
	caller := fakeCaller{result: json.RawMessage(`{"recommendation":"BUY","confidence":0.8,"rationale":"strong earnings","key_metrics":{"pe":18.2}}`)}
	fn := New(Spec{AgentID: "fundamental", ServerName: "market-data", ToolName: "analyze_fundamentals"})

	opinion, err := fn(context.Background(), agentruntime.AgentContext{Symbol: "AAPL", Tools: caller})
	require.NoError(t, err)
	assert.Equal(t, "BUY", opinion.Recommendation)
	assert.Equal(t, 0.8, opinion.Confidence)
	assert.Equal(t, "strong earnings", opinion.Rationale)
	assert.Equal(t, 18.2, opinion.KeyMetrics["pe"])
}

func TestNewClassifiesToolCallErrorAsTransient(t *testing.T) {
	caller := fakeCaller{err: errors.New("connection refused")}
	fn := New(Spec{AgentID: "technical", ServerName: "market-data", ToolName: "analyze_technicals"})

	_, err := fn(context.Background(), agentruntime.AgentContext{Symbol: "AAPL", Tools: caller})
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
}

func TestNewRejectsInvalidRecommendation(t *testing.T) {
	caller := fakeCaller{result: json.RawMessage(`{"recommendation":"MAYBE","confidence":0.5}`)}
	fn := New(Spec{AgentID: "sentiment", ServerName: "market-data", ToolName: "analyze_sentiment"})

	_, err := fn(context.Background(), agentruntime.AgentContext{Symbol: "AAPL", Tools: caller})
	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))
}

func TestNewRejectsUnparsableToolResult(t *testing.T) {
	caller := fakeCaller{result: json.RawMessage(`not json`)}
	fn := New(Spec{AgentID: "risk", ServerName: "market-data", ToolName: "analyze_risk"})

	_, err := fn(context.Background(), agentruntime.AgentContext{Symbol: "AAPL", Tools: caller})
	require.Error(t, err)
}
