// Package agentruntime implements spec §4.1's AgentRuntime: it wraps an
// agent function with a deadline, retry policy, progress emission, and
// AgentExecution bookkeeping. Concrete per-agent domain logic is out of
// scope (spec §1); this package only knows how to run an opaque
// (context) -> AgentOpinion callable safely.
package agentruntime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leocder07/stockresearch/internal/progressbus"
	"github.com/leocder07/stockresearch/internal/retry"
	"github.com/leocder07/stockresearch/internal/toolcaller"
	"github.com/leocder07/stockresearch/internal/types"
)

// AgentContext is the read-only view an agent function receives. Per spec
// §4.1, it carries the symbol, market data, and any upstream opinions the
// agent is allowed to read (none for parallel Phase A agents).
type AgentContext struct {
	Symbol       string
	Sector       string
	Quote        map[string]float64
	Fundamentals map[string]float64
	Prices       []float64
	Volumes      []float64
	Highs        []float64
	Lows         []float64
	Upstream     map[string]types.AgentOpinion
	Tools        toolcaller.Caller
	Degraded     bool
}

// Func is the universal agent contract from spec §6/§9: any callable
// (context) -> AgentOpinion. It may suspend on I/O (market data, LLM/tool
// calls) and should return a classified error (internal/retry) when
// something fails so the runtime knows whether to retry.
type Func func(ctx context.Context, actx AgentContext) (types.AgentOpinion, error)

// Config controls timeout and retry behavior. Defaults match spec §6.
type Config struct {
	PerAgentTimeout time.Duration
	RetryPolicy     retry.Policy
}

// DefaultConfig returns spec §6's defaults: 30s per-agent timeout, 3
// retries starting at 1s with a 1.75x factor capped at 10s.
func DefaultConfig() Config {
	return Config{
		PerAgentTimeout: 30 * time.Second,
		RetryPolicy:     retry.DefaultPolicy(),
	}
}

// Runtime runs agent functions under Config, publishing progress events and
// producing AgentExecution records.
type Runtime struct {
	cfg Config
	bus *progressbus.Bus
}

// New constructs a Runtime. bus may be nil in tests that don't care about
// progress events.
func New(bus *progressbus.Bus, cfg Config) *Runtime {
	if cfg.PerAgentTimeout <= 0 {
		cfg.PerAgentTimeout = DefaultConfig().PerAgentTimeout
	}
	if cfg.RetryPolicy.MaxRetries == 0 && cfg.RetryPolicy.InitialBackoff == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	return &Runtime{cfg: cfg, bus: bus}
}

// Run executes fn for agentID against actx, bounded by the runtime's
// per-agent timeout and retry policy, and returns the resulting
// AgentExecution. It never returns an error: per spec §4.1 item 4, a
// failure is recorded on the execution, not propagated to the caller.
func (r *Runtime) Run(ctx context.Context, analysisID, agentID string, fn Func, actx AgentContext) types.AgentExecution {
	started := time.Now()
	exec := types.AgentExecution{
		AgentID:   agentID,
		Status:    types.AgentRunning,
		StartedAt: started,
	}

	r.publish(ctx, analysisID, progressbus.AgentStarted, map[string]interface{}{"agent_id": agentID})

	var opinion types.AgentOpinion
	var attempt int
	var timedOut bool

	err := retry.Do(ctx, r.cfg.RetryPolicy, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.PerAgentTimeout)
		defer cancel()

		result, callErr := r.invoke(callCtx, fn, actx)
		if callErr != nil {
			if errors.Is(callErr, context.DeadlineExceeded) {
				timedOut = true
				return retry.Permanent(callErr)
			}
			return callErr
		}
		if validateErr := result.Validate(); validateErr != nil {
			return retry.ContractViolation(validateErr)
		}
		opinion = result
		return nil
	}, func(attemptNum int, backoff time.Duration, attemptErr error) {
		log.Warn().
			Str("analysis_id", analysisID).
			Str("agent_id", agentID).
			Int("attempt", attemptNum+1).
			Dur("backoff", backoff).
			Err(attemptErr).
			Msg("agent call failed, retrying")
	})

	ended := time.Now()
	exec.EndedAt = &ended

	switch {
	case err == nil:
		exec.Status = types.AgentComplete
		exec.Output = &opinion
		r.publish(ctx, analysisID, progressbus.AgentCompleted, map[string]interface{}{
			"agent_id": agentID,
			"elapsed":  ended.Sub(started).Seconds(),
		})
	case timedOut:
		exec.Status = types.AgentTimedOut
		exec.Error = err.Error()
		r.publish(ctx, analysisID, progressbus.AgentFailed, map[string]interface{}{
			"agent_id": agentID,
			"error":    err.Error(),
		})
	default:
		exec.Status = types.AgentFailed
		exec.Error = err.Error()
		r.publish(ctx, analysisID, progressbus.AgentFailed, map[string]interface{}{
			"agent_id": agentID,
			"error":    err.Error(),
		})
	}

	return exec
}

// invoke recovers a panicking agent function and turns it into a contract
// violation rather than crashing the orchestrator; the teacher's MCP tool
// wrapper applies the same discipline around arbitrary callables.
func (r *Runtime) invoke(ctx context.Context, fn Func, actx AgentContext) (opinion types.AgentOpinion, err error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				err = retry.ContractViolation(errFromPanic(rec))
			}
		}()
		opinion, err = fn(ctx, actx)
	}()

	select {
	case <-done:
		return opinion, err
	case <-ctx.Done():
		return types.AgentOpinion{}, ctx.Err()
	}
}

func (r *Runtime) publish(ctx context.Context, analysisID string, kind progressbus.EventKind, payload map[string]interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, progressbus.Event{
		Kind:       kind,
		AnalysisID: analysisID,
		Payload:    payload,
	})
}
