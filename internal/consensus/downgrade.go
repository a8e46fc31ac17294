package consensus

import "github.com/leocder07/stockresearch/internal/types"

// applyRiskDowngrade implements spec §4.3 step 5: when a risk opinion is
// present and the tentative recommendation is a BUY variant, sharpe/
// drawdown/risk-level conditions can force a downgrade to HOLD or scale the
// consensus score down.
func applyRiskDowngrade(opinions []types.AgentOpinion, rec types.Recommendation, score float64) (types.Recommendation, float64, []string) {
	risk := findRiskOpinion(opinions)
	if risk == nil || !rec.IsBuyVariant() {
		return rec, score, nil
	}

	sharpe, hasSharpe := risk.KeyMetrics["sharpe_ratio"]
	drawdown, hasDrawdown := risk.KeyMetrics["max_drawdown"]
	riskLevel := risk.KeyMetricsText["risk_level"]
	isHighRisk := riskLevel == "HIGH" || riskLevel == "VERY_HIGH"

	switch {
	case hasSharpe && sharpe < 0.5 && isHighRisk:
		return types.Hold, 0.5, []string{"risk_override: sharpe_ratio below 0.5 with high risk level forced HOLD"}
	case hasDrawdown && drawdown > 0.30 && isHighRisk:
		adjusted := score - 0.2
		if adjusted < 0.5 {
			adjusted = 0.5
		}
		return types.Hold, adjusted, []string{"risk_override: max_drawdown above 30% with high risk level forced HOLD"}
	case riskLevel == "HIGH":
		return rec, score * 0.8, nil
	default:
		return rec, score, nil
	}
}

func findRiskOpinion(opinions []types.AgentOpinion) *types.AgentOpinion {
	for i := range opinions {
		if opinions[i].AgentID == "risk" {
			return &opinions[i]
		}
	}
	return nil
}
