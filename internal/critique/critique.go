// Package critique implements spec §4.5's CritiqueStage: an independent
// validation pass over a synthesized FinalArtifact that auto-corrects or
// flags invariant violations before the artifact is persisted.
package critique

import (
	"math"

	"github.com/leocder07/stockresearch/internal/types"
)

const (
	agreementFloorForCap  = 0.3
	cappedConfidenceLow   = 0.6
	degradedConfidenceCap = 0.5
	sharpeFloor           = 0.5
	epsilon               = 1e-6
)

// Stage re-validates a FinalArtifact against the invariants SynthesisStage
// is supposed to have already enforced, correcting what it can.
type Stage struct{}

// New constructs a critique Stage.
func New() *Stage {
	return &Stage{}
}

// Review runs all six checks in order, mutating artifact in place where a
// correction applies, and returns the accumulated CritiqueResult. riskOpinion
// may be nil if no risk agent ran.
func (s *Stage) Review(artifact *types.FinalArtifact, riskOpinion *types.AgentOpinion, contextDegraded bool) types.CritiqueResult {
	result := types.CritiqueResult{Passed: true}

	s.checkOrdering(artifact, &result)
	s.checkRiskRewardFloor(artifact, &result)
	s.checkStopLossSanity(artifact, riskOpinion, &result)
	s.checkSharpeRiskOverride(artifact, riskOpinion, &result)
	s.checkAgreementConfidenceCap(artifact, &result)
	s.checkContextDegradedCap(artifact, contextDegraded, &result)

	result.Passed = len(result.Flags) == 0
	artifact.Critique = result
	return result
}

// checkOrdering is spec §4.5 check 1: stop/target/entry ordering per the
// §3 invariants. A violation is auto-corrected by recomputing stop/target
// using SynthesisStage's own defaults.
func (s *Stage) checkOrdering(a *types.FinalArtifact, r *types.CritiqueResult) {
	entry, stop, target := a.EntryPrice.Value, a.StopLoss.Value, a.TargetPrice.Value

	ordered := true
	switch {
	case a.Action.IsBuyVariant():
		ordered = stop < entry && entry < target
	case a.Action.IsSellVariant():
		ordered = target < entry && entry < stop
	}
	if ordered {
		return
	}

	distance := 0.02 * entry
	switch {
	case a.Action.IsBuyVariant():
		a.StopLoss = types.SV(entry-distance, "USD", "critique-corrected stop-loss")
		a.TargetPrice = types.SV(entry*1.10, "USD", "critique-corrected target")
	case a.Action.IsSellVariant():
		a.StopLoss = types.SV(entry+distance, "USD", "critique-corrected stop-loss")
		a.TargetPrice = types.SV(entry*0.90, "USD", "critique-corrected target")
	}
	a.RiskRewardRatio = recomputeRiskReward(a)
	r.Corrections = append(r.Corrections, "reordered stop/entry/target to satisfy invariants")
	r.Flags = append(r.Flags, "synthesis_corrected")
}

// checkRiskRewardFloor is spec §4.5 check 2.
func (s *Stage) checkRiskRewardFloor(a *types.FinalArtifact, r *types.CritiqueResult) {
	if a.RiskRewardRatio >= 1.0-epsilon {
		return
	}
	if a.Action.IsBuyVariant() {
		a.Action = types.Hold
		r.Flags = append(r.Flags, "rr_below_one")
	}
}

// checkStopLossSanity is spec §4.5 check 3: stop_loss must be a strictly
// positive price, and must not equal the risk opinion's var_95 dollar
// figure — a common bug class where a VaR amount is substituted for a
// price.
func (s *Stage) checkStopLossSanity(a *types.FinalArtifact, risk *types.AgentOpinion, r *types.CritiqueResult) {
	if a.StopLoss.Value <= 0 {
		r.Flags = append(r.Flags, "invalid_stop_loss")
		return
	}
	if risk == nil || risk.KeyMetrics == nil {
		return
	}
	var95, ok := risk.KeyMetrics["var_95"]
	if ok && var95 != 0 && math.Abs(a.StopLoss.Value-var95) < epsilon {
		r.Flags = append(r.Flags, "stop_loss_matches_var95")
	}
}

// checkSharpeRiskOverride is spec §4.5 check 4: re-verify the risk-adjusted
// downgrade rule from §4.3 step 5 independently of the ConsensusEngine.
func (s *Stage) checkSharpeRiskOverride(a *types.FinalArtifact, risk *types.AgentOpinion, r *types.CritiqueResult) {
	if !a.Action.IsBuyVariant() || risk == nil {
		return
	}
	riskLevel := ""
	if risk.KeyMetricsText != nil {
		riskLevel = risk.KeyMetricsText["risk_level"]
	}
	isHighRisk := riskLevel == "HIGH" || riskLevel == "VERY_HIGH"
	sharpe, hasSharpe := risk.KeyMetrics["sharpe_ratio"]

	if hasSharpe && sharpe < sharpeFloor && isHighRisk {
		a.Action = types.Hold
		r.Flags = append(r.Flags, "risk_override_reapplied")
	}
}

// checkAgreementConfidenceCap is spec §4.5 check 5.
func (s *Stage) checkAgreementConfidenceCap(a *types.FinalArtifact, r *types.CritiqueResult) {
	if a.Consensus.AgreementLevel >= agreementFloorForCap || !a.Action.IsActionable() {
		return
	}
	if a.Confidence > cappedConfidenceLow {
		before := a.Confidence
		a.Confidence = cappedConfidenceLow
		r.ConfidenceDelta += a.Confidence - before
		r.Flags = append(r.Flags, "low_agreement_confidence_capped")
	}
}

// checkContextDegradedCap is spec §4.5 check 6.
func (s *Stage) checkContextDegradedCap(a *types.FinalArtifact, degraded bool, r *types.CritiqueResult) {
	if !degraded {
		return
	}
	if a.Confidence > degradedConfidenceCap {
		before := a.Confidence
		a.Confidence = degradedConfidenceCap
		r.ConfidenceDelta += a.Confidence - before
		r.Flags = append(r.Flags, "context_degraded_confidence_capped")
	}
}

func recomputeRiskReward(a *types.FinalArtifact) float64 {
	entry, stop, target := a.EntryPrice.Value, a.StopLoss.Value, a.TargetPrice.Value
	switch {
	case a.Action.IsBuyVariant():
		risk := entry - stop
		if risk <= 0 {
			return 0
		}
		return (target - entry) / risk
	case a.Action.IsSellVariant():
		risk := stop - entry
		if risk <= 0 {
			return 0
		}
		return (entry - target) / risk
	default:
		return 0
	}
}
