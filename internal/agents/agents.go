// Package agents builds the fan-out phase's per-agent functions. Concrete
// per-agent domain logic (how a "fundamental agent" actually scores a
// stock) is out of scope; what this package provides is the MCP-tool
// plumbing every agent needs: call a named tool on a named server, map its
// JSON result onto the AgentOpinion contract, and classify failures for
// AgentRuntime's retry policy.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leocder07/stockresearch/internal/agentruntime"
	"github.com/leocder07/stockresearch/internal/retry"
	"github.com/leocder07/stockresearch/internal/types"
)

// Spec configures one fan-out agent: which agent_id it reports as, and
// which MCP server/tool it calls to produce an opinion. ToolArgs is merged
// with the per-run symbol before the call.
type Spec struct {
	AgentID    string
	ServerName string
	ToolName   string
	ToolArgs   map[string]interface{}
}

// toolOpinion is the JSON shape a tool is expected to return. Only
// Recommendation and Confidence are required; everything else degrades
// gracefully to a zero value.
type toolOpinion struct {
	Recommendation string             `json:"recommendation"`
	Confidence     float64            `json:"confidence"`
	Rationale      string             `json:"rationale"`
	KeyMetrics     map[string]float64 `json:"key_metrics"`
}

// New builds an agentruntime.Func that calls spec.ToolName on
// spec.ServerName and maps the result onto an AgentOpinion. If the run
// context carries no ToolCaller (e.g. a degraded context, or a deployment
// running without MCP servers), it returns a neutral HOLD opinion instead
// of failing the run.
func New(spec Spec) agentruntime.Func {
	return func(ctx context.Context, actx agentruntime.AgentContext) (types.AgentOpinion, error) {
		if actx.Tools == nil || spec.ServerName == "" {
			return neutralOpinion(spec.AgentID, actx.Symbol), nil
		}

		args := map[string]interface{}{"symbol": actx.Symbol}
		for k, v := range spec.ToolArgs {
			args[k] = v
		}

		raw, err := actx.Tools.CallTool(ctx, spec.ServerName, spec.ToolName, args)
		if err != nil {
			return types.AgentOpinion{}, retry.Transient(fmt.Errorf("%s: call %s.%s: %w", spec.AgentID, spec.ServerName, spec.ToolName, err))
		}

		var parsed toolOpinion
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return types.AgentOpinion{}, retry.ContractViolation(fmt.Errorf("%s: unmarshal tool result: %w", spec.AgentID, err))
		}

		rec := types.Recommendation(parsed.Recommendation)
		if !validRecommendation(rec) {
			return types.AgentOpinion{}, retry.ContractViolation(fmt.Errorf("%s: invalid recommendation %q", spec.AgentID, parsed.Recommendation))
		}

		return types.AgentOpinion{
			AgentID:        spec.AgentID,
			Symbol:         actx.Symbol,
			Recommendation: string(rec),
			Confidence:     parsed.Confidence,
			Rationale:      parsed.Rationale,
			KeyMetrics:     parsed.KeyMetrics,
			ProducedAt:     time.Now(),
		}, nil
	}
}

func validRecommendation(r types.Recommendation) bool {
	switch r {
	case types.StrongBuy, types.Buy, types.Hold, types.Sell, types.StrongSell:
		return true
	default:
		return false
	}
}

// neutralOpinion is the conservative fallback used when no MCP tool is
// configured for an agent: a HOLD at minimal confidence, never blocking
// the run or skewing consensus.
func neutralOpinion(agentID, symbol string) types.AgentOpinion {
	return types.AgentOpinion{
		AgentID:        agentID,
		Symbol:         symbol,
		Recommendation: string(types.Hold),
		Confidence:     0.1,
		Rationale:      "no tool configured for this agent; neutral fallback",
		ProducedAt:     time.Now(),
	}
}
