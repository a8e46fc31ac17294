package critique

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leocder07/stockresearch/internal/types"
)

func artifact(action types.Recommendation, entry, stop, target float64) types.FinalArtifact {
	return types.FinalArtifact{
		Symbol:      "AAPL",
		Action:      action,
		Confidence:  0.8,
		EntryPrice:  types.SV(entry, "USD", ""),
		StopLoss:    types.SV(stop, "USD", ""),
		TargetPrice: types.SV(target, "USD", ""),
		Consensus:   types.ConsensusResult{AgreementLevel: 0.8},
	}
}

func TestReviewCorrectsBadOrdering(t *testing.T) {
	a := artifact(types.Buy, 100, 110, 90) // inverted on purpose
	a.RiskRewardRatio = -1
	result := New().Review(&a, nil, false)

	assert.Contains(t, result.Flags, "synthesis_corrected")
	assert.Less(t, a.StopLoss.Value, a.EntryPrice.Value)
	assert.Less(t, a.EntryPrice.Value, a.TargetPrice.Value)
	assert.False(t, result.Passed)
}

func TestReviewDowngradesOnRiskRewardBelowOne(t *testing.T) {
	a := artifact(types.Buy, 100, 95, 102) // RR = 2/5 = 0.4
	a.RiskRewardRatio = 0.4
	result := New().Review(&a, nil, false)

	assert.Equal(t, types.Hold, a.Action)
	assert.Contains(t, result.Flags, "rr_below_one")
}

func TestReviewDetectsVar95Confusion(t *testing.T) {
	a := artifact(types.Buy, 100, 95, 110)
	a.RiskRewardRatio = 2
	risk := &types.AgentOpinion{KeyMetrics: map[string]float64{"var_95": 95}}
	result := New().Review(&a, risk, false)

	assert.Contains(t, result.Flags, "stop_loss_matches_var95")
}

func TestReviewReappliesSharpeOverride(t *testing.T) {
	a := artifact(types.Buy, 100, 95, 110)
	a.RiskRewardRatio = 2
	risk := &types.AgentOpinion{
		KeyMetrics:     map[string]float64{"sharpe_ratio": 0.2},
		KeyMetricsText: map[string]string{"risk_level": "HIGH"},
	}
	result := New().Review(&a, risk, false)

	assert.Equal(t, types.Hold, a.Action)
	assert.Contains(t, result.Flags, "risk_override_reapplied")
}

func TestReviewCapsConfidenceOnLowAgreement(t *testing.T) {
	a := artifact(types.Buy, 100, 95, 110)
	a.RiskRewardRatio = 2
	a.Confidence = 0.9
	a.Consensus.AgreementLevel = 0.1
	result := New().Review(&a, nil, false)

	assert.InDelta(t, 0.6, a.Confidence, 1e-9)
	assert.Contains(t, result.Flags, "low_agreement_confidence_capped")
}

func TestReviewCapsConfidenceOnContextDegraded(t *testing.T) {
	a := artifact(types.Hold, 100, 95, 100)
	a.RiskRewardRatio = 0
	a.Confidence = 0.9
	a.Consensus.AgreementLevel = 0.9
	result := New().Review(&a, nil, true)

	assert.InDelta(t, 0.5, a.Confidence, 1e-9)
	assert.Contains(t, result.Flags, "context_degraded_confidence_capped")
}

func TestReviewPassesCleanArtifact(t *testing.T) {
	a := artifact(types.Buy, 100, 95, 110)
	a.RiskRewardRatio = 2
	a.Consensus.AgreementLevel = 0.9
	result := New().Review(&a, nil, false)

	assert.True(t, result.Passed)
	assert.Empty(t, result.Flags)
}
