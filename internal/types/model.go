// Package types holds the data model shared across the orchestration engine:
// requests, analysis records, agent opinions, consensus/synthesis results,
// and drift records. Nothing here performs I/O.
package types

import "time"

// Recommendation is the canonical five-point scale every AgentOpinion and
// ConsensusResult is normalized onto.
type Recommendation string

const (
	StrongBuy  Recommendation = "STRONG_BUY"
	Buy        Recommendation = "BUY"
	Hold       Recommendation = "HOLD"
	Sell       Recommendation = "SELL"
	StrongSell Recommendation = "STRONG_SELL"
)

// Score maps a canonical recommendation to the scalar used by the
// consensus bucketing and agreement calculations.
func (r Recommendation) Score() float64 {
	switch r {
	case StrongBuy:
		return 1.0
	case Buy:
		return 0.75
	case Hold:
		return 0.5
	case Sell:
		return 0.25
	case StrongSell:
		return 0.0
	default:
		return 0.5
	}
}

// IsBuyVariant reports whether r is BUY or STRONG_BUY.
func (r Recommendation) IsBuyVariant() bool {
	return r == Buy || r == StrongBuy
}

// IsSellVariant reports whether r is SELL or STRONG_SELL.
func (r Recommendation) IsSellVariant() bool {
	return r == Sell || r == StrongSell
}

// IsActionable reports whether r warrants an order (BUY or SELL variant).
func (r Recommendation) IsActionable() bool {
	return r.IsBuyVariant() || r.IsSellVariant()
}

// AnalysisStatus is the lifecycle state of an AnalysisRecord.
type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "pending"
	StatusRunning   AnalysisStatus = "running"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
)

// AgentExecutionStatus is the lifecycle state of a single AgentExecution.
type AgentExecutionStatus string

const (
	AgentRunning  AgentExecutionStatus = "running"
	AgentComplete AgentExecutionStatus = "completed"
	AgentFailed   AgentExecutionStatus = "failed"
	AgentTimedOut AgentExecutionStatus = "timed_out"
)

// TimeHorizon classifies how long a trade plan is meant to be held.
type TimeHorizon string

const (
	ShortTerm  TimeHorizon = "short_term"
	MediumTerm TimeHorizon = "medium_term"
	LongTerm   TimeHorizon = "long_term"
)

// DriftSeverity grades how far current market state has moved from the
// state an analysis was produced under.
type DriftSeverity string

const (
	DriftLow      DriftSeverity = "LOW"
	DriftMedium   DriftSeverity = "MEDIUM"
	DriftHigh     DriftSeverity = "HIGH"
	DriftCritical DriftSeverity = "CRITICAL"
)

// DriftKind identifies which dimension of a DriftSnapshot triggered an alert.
type DriftKind string

const (
	DriftPrice      DriftKind = "PRICE"
	DriftVolume     DriftKind = "VOLUME"
	DriftVolatility DriftKind = "VOLATILITY"
	DriftSentiment  DriftKind = "SENTIMENT"
	DriftComposite  DriftKind = "COMPOSITE"
)

// AnalysisRequest is the immutable input that kicks off an analysis.
type AnalysisRequest struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	Symbols     []string  `json:"symbols"`
	RequestedAt time.Time `json:"requested_at"`
}

// Progress summarizes fan-out completion state for an AnalysisRecord.
type Progress struct {
	Percentage int             `json:"percentage"`
	Phase      string          `json:"phase"`
	Active     map[string]bool `json:"active"`
	Completed  map[string]bool `json:"completed"`
	Pending    map[string]bool `json:"pending"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AnalysisRecord is the orchestrator-owned record of one analysis run.
// Only the orchestrator mutates it; all other readers see copies.
type AnalysisRecord struct {
	ID              string           `json:"id"`
	Request         AnalysisRequest  `json:"request"`
	Status          AnalysisStatus   `json:"status"`
	AgentExecutions []AgentExecution `json:"agent_executions"`
	Progress        Progress         `json:"progress"`
	FinalArtifact   *FinalArtifact   `json:"final_artifact,omitempty"`
	DriftStatus     map[string]DriftSnapshot `json:"drift_status,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ContextDegraded bool             `json:"context_degraded"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// Clone returns a deep-enough copy of the record suitable for handing to
// readers outside the orchestrator goroutine.
func (a *AnalysisRecord) Clone() *AnalysisRecord {
	if a == nil {
		return nil
	}
	cp := *a
	cp.AgentExecutions = append([]AgentExecution(nil), a.AgentExecutions...)
	cp.Progress.Active = cloneSet(a.Progress.Active)
	cp.Progress.Completed = cloneSet(a.Progress.Completed)
	cp.Progress.Pending = cloneSet(a.Progress.Pending)
	if a.FinalArtifact != nil {
		fa := *a.FinalArtifact
		cp.FinalArtifact = &fa
	}
	if a.DriftStatus != nil {
		cp.DriftStatus = make(map[string]DriftSnapshot, len(a.DriftStatus))
		for k, v := range a.DriftStatus {
			cp.DriftStatus[k] = v
		}
	}
	return &cp
}

func cloneSet(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AgentExecution records the lifecycle of one agent run within an analysis.
type AgentExecution struct {
	AgentID   string               `json:"agent_id"`
	Status    AgentExecutionStatus `json:"status"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   *time.Time           `json:"ended_at,omitempty"`
	Error     string               `json:"error,omitempty"`
	Output    *AgentOpinion        `json:"output,omitempty"`
}

// AgentOpinion is the universal output contract every agent produces.
type AgentOpinion struct {
	AgentID            string             `json:"agent_id"`
	Symbol             string             `json:"symbol"`
	Recommendation     string             `json:"recommendation"`
	Confidence         float64            `json:"confidence"`
	Rationale          string             `json:"rationale"`
	KeyMetrics         map[string]float64 `json:"key_metrics"`
	KeyMetricsText     map[string]string  `json:"key_metrics_text,omitempty"`
	HistoricalAccuracy float64            `json:"historical_accuracy"`
	ProducedAt         time.Time          `json:"produced_at"`
}

// Validate reports whether the opinion satisfies the minimum AgentOpinion
// contract (spec §3/§4.1 item 6 / scenario 6: a missing confidence is a
// contract violation, not a retryable failure). A zero confidence is
// treated as missing.
func (o *AgentOpinion) Validate() error {
	if o == nil {
		return errMissingOpinion
	}
	if o.AgentID == "" {
		return errMissingField("agent_id")
	}
	if o.Symbol == "" {
		return errMissingField("symbol")
	}
	if o.Recommendation == "" {
		return errMissingField("recommendation")
	}
	if o.Confidence == 0 {
		return errMissingField("confidence")
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return errInvalidField("confidence", "must be in [0,1]")
	}
	return nil
}

// NormalizedHistoricalAccuracy returns the opinion's historical accuracy,
// defaulting to 0.75 and clamping into [0.1, 1.0] per spec §3.
func (o *AgentOpinion) NormalizedHistoricalAccuracy() float64 {
	v := o.HistoricalAccuracy
	if v == 0 {
		v = 0.75
	}
	if v < 0.1 {
		v = 0.1
	}
	if v > 1.0 {
		v = 1.0
	}
	return v
}

// Dissenter is one entry in ConsensusResult.Dissenters.
type Dissenter struct {
	AgentID        string         `json:"agent_id"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Weight         float64        `json:"weight"`
	Divergence     float64        `json:"divergence"`
}

// AgentBreakdown is one agent's contribution to a ConsensusResult, shaped
// per the per-agent record original_source's consensus engine composes
// when building its reasoning string.
type AgentBreakdown struct {
	AgentID            string         `json:"agent_id"`
	Recommendation     Recommendation `json:"recommendation"`
	Confidence         float64        `json:"confidence"`
	Weight             float64        `json:"weight"`
	HistoricalAccuracy float64        `json:"historical_accuracy"`
}

// ConsensusResult is the weighted merge of every usable AgentOpinion.
type ConsensusResult struct {
	Recommendation    Recommendation             `json:"recommendation"`
	ConsensusScore    float64                    `json:"consensus_score"`
	AgreementLevel    float64                    `json:"agreement_level"`
	Confidence        float64                    `json:"confidence"`
	WeightedVotes     map[Recommendation]float64 `json:"weighted_votes"`
	Dissenters        []Dissenter                `json:"dissenters"`
	ConflictsResolved []string                   `json:"conflicts_resolved"`
	Reasoning         string                     `json:"reasoning"`
	AgentBreakdown    []AgentBreakdown           `json:"agent_breakdown"`
}

// StructuredValue pairs a numeric value with its unit, per spec §4.4/§9 —
// the system stores this rather than a bare number to prevent unit
// confusion downstream (the "price vs. dollar loss" bug class).
type StructuredValue struct {
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Description string  `json:"description,omitempty"`
}

// SV is a convenience constructor for StructuredValue.
func SV(value float64, unit, description string) StructuredValue {
	return StructuredValue{Value: value, Unit: unit, Description: description}
}

// PositionSizingScenario is one of the three sizing scenarios SynthesisStage
// produces (conservative / moderate / aggressive).
type PositionSizingScenario struct {
	Label               string          `json:"label"`
	Shares              StructuredValue `json:"shares"`
	PositionValue       StructuredValue `json:"position_value"`
	CapitalAtRisk       StructuredValue `json:"capital_at_risk"`
	PositionPctAccount  StructuredValue `json:"position_pct_of_account"`
}

// PositionSizing bundles all scenarios with the recommended one.
type PositionSizing struct {
	Scenarios   []PositionSizingScenario `json:"scenarios"`
	Recommended string                   `json:"recommended"`
}

// BracketOrder is a compound order with linked entry, take-profit, and
// stop-loss legs, emitted for actionable recommendations.
type BracketOrder struct {
	Side       string          `json:"side"`
	Entry      StructuredValue `json:"entry"`
	TakeProfit StructuredValue `json:"take_profit"`
	StopLoss   StructuredValue `json:"stop_loss"`
	Quantity   StructuredValue `json:"quantity"`
}

// WatchLevels are emitted in place of an order when the action is HOLD.
type WatchLevels struct {
	Lower StructuredValue `json:"lower"`
	Upper StructuredValue `json:"upper"`
}

// Orders carries either a BracketOrder (actionable) or WatchLevels (HOLD).
type Orders struct {
	Bracket *BracketOrder `json:"bracket,omitempty"`
	Watch   *WatchLevels  `json:"watch,omitempty"`
}

// CritiqueResult is CritiqueStage's verdict, merged into FinalArtifact.
type CritiqueResult struct {
	Passed          bool     `json:"passed"`
	Corrections     []string `json:"corrections"`
	Flags           []string `json:"flags"`
	ConfidenceDelta float64  `json:"confidence_delta"`
}

// FinalArtifact is the complete trade plan SynthesisStage (and CritiqueStage)
// produce for a symbol.
type FinalArtifact struct {
	Symbol          string          `json:"symbol"`
	Action          Recommendation  `json:"action"`
	Confidence      float64         `json:"confidence"`
	EntryPrice      StructuredValue `json:"entry_price"`
	StopLoss        StructuredValue `json:"stop_loss"`
	TargetPrice     StructuredValue `json:"target_price"`
	TimeHorizon     TimeHorizon     `json:"time_horizon"`
	RiskRewardRatio float64         `json:"risk_reward_ratio"`
	PositionSizing  PositionSizing  `json:"position_sizing"`
	Orders          Orders          `json:"orders"`
	Rationale       string          `json:"rationale"`
	QualityFlags    []string        `json:"quality_flags"`
	Consensus       ConsensusResult `json:"consensus"`
	Critique        CritiqueResult  `json:"critique"`
}

// DriftSnapshot is one point-in-time drift measurement for a symbol against
// the market state an analysis was originally produced under.
type DriftSnapshot struct {
	Symbol           string        `json:"symbol"`
	PriceDrift       float64       `json:"price_drift"`
	VolumeDrift      float64       `json:"volume_drift"`
	VolatilityDrift  float64       `json:"volatility_drift"`
	SentimentDrift   float64       `json:"sentiment_drift"`
	CompositeScore   float64       `json:"composite_score"`
	Severity         DriftSeverity `json:"severity"`
	SampledAt        time.Time     `json:"sampled_at"`
}

// DriftAlert is raised when a DriftSnapshot dimension (or composite) exceeds
// its threshold.
type DriftAlert struct {
	AlertID     string          `json:"alert_id"`
	AnalysisID  string          `json:"analysis_id"`
	Symbol      string          `json:"symbol"`
	Kind        DriftKind       `json:"kind"`
	Severity    DriftSeverity   `json:"severity"`
	Message     string          `json:"message"`
	Snapshot    DriftSnapshot   `json:"snapshot"`
	TriggeredAt time.Time       `json:"triggered_at"`
}
