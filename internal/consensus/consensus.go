// Package consensus implements spec §4.3's ConsensusEngine: normalizing
// heterogeneous AgentOpinion recommendations onto the canonical five-point
// scale, weighting them, tallying a weighted vote, and applying the
// risk-adjusted downgrade rules.
package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/leocder07/stockresearch/internal/types"
)

// BaseWeights are the default per-agent weights from spec §4.3 step 2,
// pinned to match original_source's consensus engine exactly.
var BaseWeights = map[string]float64{
	"fundamental":      0.35,
	"technical":        0.25,
	"risk":             0.20,
	"valuation":        0.30,
	"sentiment":        0.10,
	"news":             0.15,
	"macro":            0.10,
	"peer_comparison":  0.08,
	"insider_activity": 0.07,
	"market":           0.05,
}

// DefaultBaseWeight is used for any agent_id not present in BaseWeights.
const DefaultBaseWeight = 0.10

// Engine computes ConsensusResult from a set of AgentOpinions. Weights may
// be overridden (e.g. by an externally-maintained historical-accuracy
// table, see AccuracyOverrides) without touching the algorithm.
type Engine struct {
	baseWeights map[string]float64
	accuracy    AccuracyOverrides
}

// New constructs an Engine. A nil or empty override map uses BaseWeights.
func New(baseWeights map[string]float64) *Engine {
	if len(baseWeights) == 0 {
		baseWeights = BaseWeights
	}
	return &Engine{baseWeights: baseWeights}
}

// WithAccuracyOverrides attaches an externally-maintained historical
// accuracy table (spec §9) used for any opinion that does not report its
// own historical_accuracy.
func (c *Engine) WithAccuracyOverrides(overrides AccuracyOverrides) *Engine {
	c.accuracy = overrides
	return c
}

func (c *Engine) historicalAccuracy(o types.AgentOpinion) float64 {
	if o.HistoricalAccuracy == 0 && c.accuracy != nil {
		if v, ok := c.accuracy.Apply(o.AgentID); ok {
			return v
		}
	}
	return o.NormalizedHistoricalAccuracy()
}

func (c *Engine) baseWeight(agentID string) float64 {
	if w, ok := c.baseWeights[agentID]; ok {
		return w
	}
	return DefaultBaseWeight
}

// Compute merges opinions into a ConsensusResult per spec §4.3 steps 1-9.
// Only an empty input set returns the fallback result step "Failure
// behavior" specifies; any non-empty set is scored.
func (c *Engine) Compute(opinions []types.AgentOpinion) types.ConsensusResult {
	if len(opinions) == 0 {
		return types.ConsensusResult{
			Recommendation: types.Hold,
			ConsensusScore: 0.5,
			Confidence:     0.3,
			AgreementLevel: 0,
			WeightedVotes:  map[types.Recommendation]float64{types.Hold: 1.0},
			Reasoning:      "insufficient data",
		}
	}

	type weighted struct {
		opinion types.AgentOpinion
		canon   types.Recommendation
		weight  float64
	}

	entries := make([]weighted, 0, len(opinions))
	var totalRaw float64
	for _, o := range opinions {
		canon := Normalize(o.Recommendation)
		w := c.baseWeight(o.AgentID) * clamp01(o.Confidence) * c.historicalAccuracy(o)
		entries = append(entries, weighted{opinion: o, canon: canon, weight: w})
		totalRaw += w
	}
	if totalRaw == 0 {
		// Every opinion had zero confidence/accuracy contribution; fall
		// back to equal weighting so normalization is still well-defined.
		for i := range entries {
			entries[i].weight = 1.0 / float64(len(entries))
		}
		totalRaw = 1.0
	}
	for i := range entries {
		entries[i].weight /= totalRaw
	}

	votes := map[types.Recommendation]float64{}
	for _, e := range entries {
		votes[e.canon] += e.weight
	}

	var consensusScore float64
	for rec, v := range votes {
		consensusScore += v * rec.Score()
	}

	recommendation := bucketRecommendation(consensusScore)

	var conflictsResolved []string
	recommendation, consensusScore, conflictsResolved = applyRiskDowngrade(opinions, recommendation, consensusScore)

	var agreementNumerator float64
	for _, e := range entries {
		agreementNumerator += e.weight * matchScore(e.canon, recommendation)
	}
	agreement := agreementNumerator // denominator is 1.0 since weights are normalized

	var dissenters []types.Dissenter
	targetScore := recommendation.Score()
	for _, e := range entries {
		divergence := math.Abs(e.canon.Score() - targetScore)
		if divergence > 0.3 {
			dissenters = append(dissenters, types.Dissenter{
				AgentID:        e.opinion.AgentID,
				Recommendation: e.canon,
				Confidence:     e.opinion.Confidence,
				Weight:         e.weight,
				Divergence:     divergence,
			})
		}
	}
	sort.Slice(dissenters, func(i, j int) bool { return dissenters[i].Weight > dissenters[j].Weight })

	var weightedConfidenceSum float64
	for _, e := range entries {
		weightedConfidenceSum += e.weight * e.opinion.Confidence
	}
	confidence := 0.4*agreement + 0.4*weightedConfidenceSum + 0.2*(2*math.Abs(consensusScore-0.5))
	if agreement < 0.3 {
		confidence *= 0.7
	}
	confidence = clamp(confidence, 0.1, 0.95)

	breakdown := make([]types.AgentBreakdown, 0, len(entries))
	for _, e := range entries {
		breakdown = append(breakdown, types.AgentBreakdown{
			AgentID:            e.opinion.AgentID,
			Recommendation:     e.canon,
			Confidence:         e.opinion.Confidence,
			Weight:             e.weight,
			HistoricalAccuracy: c.historicalAccuracy(e.opinion),
		})
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Weight > breakdown[j].Weight })

	return types.ConsensusResult{
		Recommendation:    recommendation,
		ConsensusScore:    consensusScore,
		AgreementLevel:    agreement,
		Confidence:        confidence,
		WeightedVotes:     votes,
		Dissenters:        dissenters,
		ConflictsResolved: conflictsResolved,
		Reasoning:         reasoning(recommendation, agreement, breakdown, dissenters),
		AgentBreakdown:    breakdown,
	}
}

// Normalize maps an agent-native recommendation label onto the canonical
// five-point scale, per spec §4.3 step 1.
func Normalize(label string) types.Recommendation {
	upper := strings.ToUpper(strings.TrimSpace(label))

	switch upper {
	case string(types.StrongBuy), string(types.Buy), string(types.Hold), string(types.Sell), string(types.StrongSell):
		return types.Recommendation(upper)
	}

	switch upper {
	case "BULLISH", "POSITIVE":
		return types.Buy
	case "BEARISH", "NEGATIVE":
		return types.Sell
	case "NEUTRAL":
		return types.Hold
	}

	switch upper {
	case "LOW":
		return types.Buy
	case "MEDIUM":
		return types.Hold
	case "HIGH":
		return types.Sell
	case "VERY_HIGH":
		return types.StrongSell
	}

	if score, err := parseNumericSentiment(upper); err == nil {
		switch {
		case score > 0.3:
			return types.Buy
		case score < -0.3:
			return types.Sell
		default:
			return types.Hold
		}
	}

	switch {
	case strings.Contains(upper, "STRONG_BUY"):
		return types.StrongBuy
	case strings.Contains(upper, "STRONG_SELL"):
		return types.StrongSell
	case strings.Contains(upper, "BUY"):
		return types.Buy
	case strings.Contains(upper, "SELL"):
		return types.Sell
	case strings.Contains(upper, "HOLD"):
		return types.Hold
	default:
		return types.Hold
	}
}

func parseNumericSentiment(s string) (float64, error) {
	var v float64
	n, err := fmt.Sscanf(s, "%g", &v)
	if err != nil || n != 1 {
		return 0, fmt.Errorf("not numeric")
	}
	return v, nil
}

// bucketRecommendation maps a consensus score to a canonical recommendation
// per spec §4.3 step 4's bucket cutoffs.
func bucketRecommendation(score float64) types.Recommendation {
	switch {
	case score >= 0.875:
		return types.StrongBuy
	case score >= 0.625:
		return types.Buy
	case score >= 0.375:
		return types.Hold
	case score >= 0.125:
		return types.Sell
	default:
		return types.StrongSell
	}
}

// matchScore is spec §4.3 step 6's agreement contribution function.
func matchScore(canon, recommendation types.Recommendation) float64 {
	if canon == recommendation {
		return 1.0
	}
	if canon.IsBuyVariant() && recommendation.IsBuyVariant() {
		return 0.5
	}
	if canon.IsSellVariant() && recommendation.IsSellVariant() {
		return 0.5
	}
	return 0.0
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func reasoning(rec types.Recommendation, agreement float64, breakdown []types.AgentBreakdown, dissenters []types.Dissenter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consensus %s with %.0f%% agreement.", rec, agreement*100)
	if len(breakdown) > 0 {
		top := breakdown[0]
		fmt.Fprintf(&b, " Top supporting agent: %s (%s, weight %.2f).", top.AgentID, top.Recommendation, top.Weight)
	}
	if len(dissenters) > 0 {
		names := make([]string, 0, len(dissenters))
		for _, d := range dissenters {
			names = append(names, fmt.Sprintf("%s(%s)", d.AgentID, d.Recommendation))
		}
		fmt.Fprintf(&b, " Dissenters: %s.", strings.Join(names, ", "))
	}
	return b.String()
}
