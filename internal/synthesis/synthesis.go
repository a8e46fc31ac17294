// Package synthesis implements spec §4.4's SynthesisStage: turning a
// ConsensusResult plus selected raw agent opinions into a fully-populated
// FinalArtifact (entry/stop/target, position sizing, orders, rationale).
package synthesis

import (
	"fmt"
	"sort"

	"github.com/leocder07/stockresearch/internal/types"
)

const (
	defaultATRStopFactor  = 2.0
	defaultFallbackStopPct = 0.02
	intrinsicValueLowMult  = 0.5
	intrinsicValueHighMult = 3.0
	maxTargetSpread        = 0.25
	baseTargetSpread       = 0.10
	targetSpreadPerScore   = 0.05
	defaultAccountValue    = 100_000.0

	conservativeRiskPct = 0.01
	moderateRiskPct     = 0.02
	aggressiveRiskPctCap = 0.05
)

// Inputs bundles everything SynthesisStage needs beyond the ConsensusResult.
type Inputs struct {
	Symbol         string
	EntryPrice     float64
	AccountValue   float64
	ConsensusScore float64
	RiskOpinion    *types.AgentOpinion
	TechnicalOpinion *types.AgentOpinion
	FundamentalOpinion *types.AgentOpinion
	ContextDegraded bool
}

// Stage derives a FinalArtifact from a ConsensusResult and Inputs.
type Stage struct {
	atrStopFactor float64
}

// New constructs a Stage with the default ATR stop factor (2.0, configurable).
func New() *Stage {
	return &Stage{atrStopFactor: defaultATRStopFactor}
}

// WithATRStopFactor overrides the default ATR multiple used for stop-loss
// distance.
func (s *Stage) WithATRStopFactor(factor float64) *Stage {
	if factor > 0 {
		s.atrStopFactor = factor
	}
	return s
}

// Synthesize implements spec §4.4's deterministic derivations.
func (s *Stage) Synthesize(consensus types.ConsensusResult, in Inputs) types.FinalArtifact {
	action := consensus.Recommendation
	entry := in.EntryPrice

	atr := metricOrZero(in.TechnicalOpinion, "atr")
	stopDistance := s.stopDistance(atr, entry)
	stopLoss := stopLossFor(action, entry, stopDistance)

	target := s.targetPriceFor(action, entry, consensus.ConsensusScore, in.FundamentalOpinion)

	riskReward := riskRewardRatio(action, entry, stopLoss, target)

	qualityFlags := []string{}
	if action.IsBuyVariant() && riskReward < 1.0 {
		action = types.Hold
		qualityFlags = append(qualityFlags, "rr_floor_violated")
		stopDistance = s.stopDistance(atr, entry)
		stopLoss = stopLossFor(action, entry, stopDistance)
		target = entry
		riskReward = 0
	}

	riskLevel := textMetricOrEmpty(in.RiskOpinion, "risk_level")
	positionSizing := buildPositionSizing(in.AccountValue, entry, stopLoss, riskLevel, in.RiskOpinion)

	orders := buildOrders(action, entry, stopLoss, target, positionSizing)

	rationale := buildRationale(consensus, in.RiskOpinion)

	return types.FinalArtifact{
		Symbol:          in.Symbol,
		Action:          action,
		Confidence:      consensus.Confidence,
		EntryPrice:      types.SV(entry, "USD", "current market price"),
		StopLoss:        types.SV(stopLoss, "USD", "ATR-based stop-loss"),
		TargetPrice:     types.SV(target, "USD", "projected target price"),
		TimeHorizon:     timeHorizonFor(in.TechnicalOpinion),
		RiskRewardRatio: riskReward,
		PositionSizing:  positionSizing,
		Orders:          orders,
		Rationale:       rationale,
		QualityFlags:    qualityFlags,
		Consensus:       consensus,
	}
}

func (s *Stage) stopDistance(atr, entry float64) float64 {
	if atr > 0 {
		return s.atrStopFactor * atr
	}
	return defaultFallbackStopPct * entry
}

func stopLossFor(action types.Recommendation, entry, distance float64) float64 {
	if action.IsSellVariant() {
		return entry + distance
	}
	return entry - distance
}

func (s *Stage) targetPriceFor(action types.Recommendation, entry, consensusScore float64, fundamental *types.AgentOpinion) float64 {
	if iv := metricOrZero(fundamental, "intrinsic_value_per_share"); iv > 0 {
		if iv >= intrinsicValueLowMult*entry && iv <= intrinsicValueHighMult*entry {
			return iv
		}
	}
	switch {
	case action.IsBuyVariant():
		spread := baseTargetSpread + targetSpreadPerScore*consensusScore
		if spread > maxTargetSpread {
			spread = maxTargetSpread
		}
		return entry * (1 + spread)
	case action.IsSellVariant():
		spread := baseTargetSpread + targetSpreadPerScore*(1-consensusScore)
		if spread > maxTargetSpread {
			spread = maxTargetSpread
		}
		return entry * (1 - spread)
	default:
		return entry
	}
}

func riskRewardRatio(action types.Recommendation, entry, stopLoss, target float64) float64 {
	switch {
	case action.IsBuyVariant():
		risk := entry - stopLoss
		if risk <= 0 {
			return 0
		}
		return (target - entry) / risk
	case action.IsSellVariant():
		risk := stopLoss - entry
		if risk <= 0 {
			return 0
		}
		return (entry - target) / risk
	default:
		return 0
	}
}

func timeHorizonFor(technical *types.AgentOpinion) types.TimeHorizon {
	trend := textMetricOrEmpty(technical, "trend")
	switch trend {
	case "short_term", "long_term", "medium_term":
		return types.TimeHorizon(trend)
	default:
		return types.MediumTerm
	}
}

func buildRationale(consensus types.ConsensusResult, risk *types.AgentOpinion) string {
	rationale := consensus.Reasoning
	if risk != nil && risk.Rationale != "" {
		rationale = fmt.Sprintf("%s Risk note: %s", rationale, risk.Rationale)
	}
	return rationale
}

func metricOrZero(op *types.AgentOpinion, key string) float64 {
	if op == nil || op.KeyMetrics == nil {
		return 0
	}
	return op.KeyMetrics[key]
}

func textMetricOrEmpty(op *types.AgentOpinion, key string) string {
	if op == nil || op.KeyMetricsText == nil {
		return ""
	}
	return op.KeyMetricsText[key]
}

// buildPositionSizing produces the three fixed-fractional scenarios spec
// §4.4 names and picks the recommended one.
func buildPositionSizing(accountValue, entry, stopLoss float64, riskLevel string, risk *types.AgentOpinion) types.PositionSizing {
	if accountValue <= 0 {
		accountValue = defaultAccountValue
	}
	perShareRisk := entry - stopLoss
	if perShareRisk < 0 {
		perShareRisk = -perShareRisk
	}
	if perShareRisk == 0 {
		perShareRisk = entry * defaultFallbackStopPct
	}

	scenarios := []types.PositionSizingScenario{
		scenario("conservative", accountValue, entry, perShareRisk, conservativeRiskPct),
		scenario("moderate", accountValue, entry, perShareRisk, moderateRiskPct),
		scenario("aggressive", accountValue, entry, perShareRisk, aggressivePct(risk)),
	}

	recommended := "moderate"
	if riskLevel == "HIGH" || riskLevel == "VERY_HIGH" {
		recommended = "conservative"
	}

	return types.PositionSizing{Scenarios: scenarios, Recommended: recommended}
}

// aggressivePct applies a Kelly-like heuristic bounded to 5%: win_rate and
// win/loss ratio come from the risk opinion's key_metrics when present,
// otherwise a neutral 50/50 win rate with equal win and loss sizes is
// assumed, which yields a Kelly fraction of 0 (the aggressive scenario then
// risks nothing).
func aggressivePct(risk *types.AgentOpinion) float64 {
	winRate := metricOrZero(risk, "win_rate")
	if winRate <= 0 || winRate >= 1 {
		winRate = 0.5
	}
	avgWin := metricOrZero(risk, "avg_win")
	avgLoss := metricOrZero(risk, "avg_loss")
	if avgWin <= 0 || avgLoss <= 0 {
		avgWin, avgLoss = 1, 1
	}
	b := avgWin / avgLoss
	q := 1 - winRate
	kelly := (winRate*b - q) / b
	const kellyFraction = 0.25
	adjusted := kelly * kellyFraction
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > aggressiveRiskPctCap {
		adjusted = aggressiveRiskPctCap
	}
	return adjusted
}

func scenario(label string, accountValue, entry, perShareRisk, riskPct float64) types.PositionSizingScenario {
	capitalAtRisk := accountValue * riskPct
	shares := 0.0
	if perShareRisk > 0 {
		shares = capitalAtRisk / perShareRisk
	}
	positionValue := shares * entry
	pctOfAccount := 0.0
	if accountValue > 0 {
		pctOfAccount = positionValue / accountValue
	}
	return types.PositionSizingScenario{
		Label:              label,
		Shares:             types.SV(shares, "shares", label+" share count"),
		PositionValue:      types.SV(positionValue, "USD", label+" position value"),
		CapitalAtRisk:      types.SV(capitalAtRisk, "USD", label+" capital at risk"),
		PositionPctAccount: types.SV(pctOfAccount, "percent", label+" percent of account"),
	}
}

func buildOrders(action types.Recommendation, entry, stopLoss, target float64, sizing types.PositionSizing) types.Orders {
	if !action.IsActionable() {
		return types.Orders{
			Watch: &types.WatchLevels{
				Lower: types.SV(entry*0.95, "USD", "watch lower bound"),
				Upper: types.SV(entry*1.05, "USD", "watch upper bound"),
			},
		}
	}

	quantity := recommendedShares(sizing)
	side := "buy"
	if action.IsSellVariant() {
		side = "sell"
	}
	return types.Orders{
		Bracket: &types.BracketOrder{
			Entry:      types.SV(entry, "USD", "entry order"),
			TakeProfit: types.SV(target, "USD", "take-profit order"),
			StopLoss:   types.SV(stopLoss, "USD", "stop-loss order"),
			Quantity:   types.SV(quantity, "shares", "bracket order quantity"),
			Side:       side,
		},
	}
}

func recommendedShares(sizing types.PositionSizing) float64 {
	for _, sc := range sizing.Scenarios {
		if sc.Label == sizing.Recommended {
			return sc.Shares.Value
		}
	}
	if len(sizing.Scenarios) == 0 {
		return 0
	}
	sorted := append([]types.PositionSizingScenario{}, sizing.Scenarios...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Shares.Value < sorted[j].Shares.Value })
	return sorted[0].Shares.Value
}

// Fallback builds the conservative artifact spec §4.2's orchestrator
// installs when synthesis itself raises.
func Fallback(symbol string, entry float64, consensus types.ConsensusResult) types.FinalArtifact {
	stopLoss := entry * 0.9
	target := entry * 1.05
	return types.FinalArtifact{
		Symbol:          symbol,
		Action:          types.Hold,
		Confidence:      0.3,
		EntryPrice:      types.SV(entry, "USD", "current market price"),
		StopLoss:        types.SV(stopLoss, "USD", "fallback stop-loss"),
		TargetPrice:     types.SV(target, "USD", "fallback target"),
		TimeHorizon:     types.MediumTerm,
		RiskRewardRatio: 0,
		PositionSizing:  buildPositionSizing(defaultAccountValue, entry, stopLoss, "", nil),
		Orders: types.Orders{
			Watch: &types.WatchLevels{
				Lower: types.SV(entry*0.95, "USD", "watch lower bound"),
				Upper: types.SV(entry*1.05, "USD", "watch upper bound"),
			},
		},
		Rationale:    "synthesis failed; conservative fallback installed",
		QualityFlags: []string{"synthesis_fallback"},
		Consensus:    consensus,
	}
}
