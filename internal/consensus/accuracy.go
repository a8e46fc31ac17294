package consensus

// AccuracyOverrides loads a per-agent historical-accuracy table from config,
// giving the "externally maintained parameter" spec §9 mentions a concrete,
// swappable source instead of every opinion falling back to the 0.75
// default. It does not change the consensus algorithm: opinions still carry
// their own historical_accuracy; this only supplies a default for agents
// that don't report one at all (AgentOpinion.HistoricalAccuracy == 0).
type AccuracyOverrides map[string]float64

// Apply returns the accuracy this table assigns to agentID, or ok=false if
// the table has no entry (callers should fall back to
// AgentOpinion.NormalizedHistoricalAccuracy in that case).
func (a AccuracyOverrides) Apply(agentID string) (float64, bool) {
	v, ok := a[agentID]
	if !ok {
		return 0, false
	}
	return clamp(v, 0.1, 1.0), true
}
