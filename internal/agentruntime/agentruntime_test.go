package agentruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocder07/stockresearch/internal/retry"
	"github.com/leocder07/stockresearch/internal/types"
)

func okOpinion(agentID string) types.AgentOpinion {
	return types.AgentOpinion{
		AgentID:        agentID,
		Symbol:         "AAPL",
		Recommendation: "BUY",
		Confidence:     0.8,
		ProducedAt:     time.Now(),
	}
}

func TestRunSucceedsFirstTry(t *testing.T) {
	rt := New(nil, DefaultConfig())
	exec := rt.Run(context.Background(), "a1", "technical", func(ctx context.Context, actx AgentContext) (types.AgentOpinion, error) {
		return okOpinion("technical"), nil
	}, AgentContext{Symbol: "AAPL"})

	assert.Equal(t, types.AgentComplete, exec.Status)
	require.NotNil(t, exec.Output)
	assert.Equal(t, "technical", exec.Output.AgentID)
	require.NotNil(t, exec.EndedAt)
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}
	rt := New(nil, cfg)

	attempts := 0
	exec := rt.Run(context.Background(), "a1", "technical", func(ctx context.Context, actx AgentContext) (types.AgentOpinion, error) {
		attempts++
		if attempts < 2 {
			return types.AgentOpinion{}, retry.Transient(assert.AnError)
		}
		return okOpinion("technical"), nil
	}, AgentContext{Symbol: "AAPL"})

	assert.Equal(t, types.AgentComplete, exec.Status)
	assert.Equal(t, 2, attempts)
}

func TestRunDoesNotRetryPermanentFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = retry.Policy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 2}
	rt := New(nil, cfg)

	attempts := 0
	exec := rt.Run(context.Background(), "a1", "sentiment", func(ctx context.Context, actx AgentContext) (types.AgentOpinion, error) {
		attempts++
		return types.AgentOpinion{}, retry.Permanent(assert.AnError)
	}, AgentContext{Symbol: "AAPL"})

	assert.Equal(t, types.AgentFailed, exec.Status)
	assert.Equal(t, 1, attempts)
	assert.NotEmpty(t, exec.Error)
}

func TestRunMalformedOutputIsContractViolationNoRetry(t *testing.T) {
	rt := New(nil, DefaultConfig())
	attempts := 0
	exec := rt.Run(context.Background(), "a1", "sentiment", func(ctx context.Context, actx AgentContext) (types.AgentOpinion, error) {
		attempts++
		// Missing confidence field is a contract violation per scenario 6.
		return types.AgentOpinion{AgentID: "sentiment", Symbol: "AAPL", Recommendation: "BUY"}, nil
	}, AgentContext{Symbol: "AAPL"})

	assert.Equal(t, types.AgentFailed, exec.Status)
	assert.Equal(t, 1, attempts)
}

func TestRunTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerAgentTimeout = 10 * time.Millisecond
	cfg.RetryPolicy = retry.Policy{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
	rt := New(nil, cfg)

	exec := rt.Run(context.Background(), "a1", "technical", func(ctx context.Context, actx AgentContext) (types.AgentOpinion, error) {
		<-ctx.Done()
		return types.AgentOpinion{}, ctx.Err()
	}, AgentContext{Symbol: "AAPL"})

	assert.Equal(t, types.AgentTimedOut, exec.Status)
}

func TestRunRecoversPanic(t *testing.T) {
	rt := New(nil, DefaultConfig())
	exec := rt.Run(context.Background(), "a1", "technical", func(ctx context.Context, actx AgentContext) (types.AgentOpinion, error) {
		panic("boom")
	}, AgentContext{Symbol: "AAPL"})

	assert.Equal(t, types.AgentFailed, exec.Status)
	assert.Contains(t, exec.Error, "panic")
}
