// Package orchestrator implements spec §4.2's two-phase DAG scheduler:
// fan out every configured agent for a symbol in parallel, then run
// ConsensusEngine, SynthesisStage and CritiqueStage sequentially, and
// always leave the run in a well-formed terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/leocder07/stockresearch/internal/agentruntime"
	"github.com/leocder07/stockresearch/internal/consensus"
	"github.com/leocder07/stockresearch/internal/critique"
	"github.com/leocder07/stockresearch/internal/market"
	"github.com/leocder07/stockresearch/internal/progressbus"
	"github.com/leocder07/stockresearch/internal/synthesis"
	"github.com/leocder07/stockresearch/internal/toolcaller"
	"github.com/leocder07/stockresearch/internal/types"
)

// AgentDefinition is one entry in the fan-out phase: a stable agent_id and
// the function that produces its opinion.
type AgentDefinition struct {
	AgentID string
	Fn      agentruntime.Func
}

// Store is the subset of ResultStore the orchestrator needs: create,
// persist agent execution/progress updates, and finalize.
type Store interface {
	Create(ctx context.Context, req types.AnalysisRequest) error
	SaveProgress(ctx context.Context, analysisID string, progress types.Progress, executions []types.AgentExecution) error
	Complete(ctx context.Context, analysisID string, artifact types.FinalArtifact, degraded bool) error
	Fail(ctx context.Context, analysisID string, errMsg string) error
}

// Config holds orchestrator tuning knobs, spec §4.2/§5.
type Config struct {
	PerRunParallelism int           `mapstructure:"per_run_parallelism" yaml:"per_run_parallelism"`
	GlobalParallelism int           `mapstructure:"global_parallelism" yaml:"global_parallelism"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	AccountValue      float64       `mapstructure:"account_value" yaml:"account_value"`
}

// DefaultConfig matches spec §4.2/§5's stated defaults.
func DefaultConfig() Config {
	return Config{
		PerRunParallelism: 10,
		GlobalParallelism: 64,
		RunTimeout:        180 * time.Second,
		AccountValue:      100_000,
	}
}

// orchestratorMetricsOnce guards Prometheus registration so constructing multiple
// Orchestrators in tests never double-registers collectors.
var (
	orchestratorMetrics     *runMetrics
	orchestratorMetricsOnce sync.Once
)

type runMetrics struct {
	RunsTotal         prometheus.Counter
	RunsFailed        prometheus.Counter
	RunDuration       prometheus.Histogram
	AgentsInFlight    prometheus.Gauge
	ContextDegraded   prometheus.Counter
	SynthesisFellBack prometheus.Counter
}

func getOrCreateMetrics() *runMetrics {
	orchestratorMetricsOnce.Do(func() {
		orchestratorMetrics = &runMetrics{
			RunsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "orchestrator_runs_total",
				Help: "Total number of analysis runs started.",
			}),
			RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "orchestrator_runs_failed_total",
				Help: "Total number of analysis runs that ended failed.",
			}),
			RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "orchestrator_run_duration_seconds",
				Help:    "Wall-clock duration of a full analysis run.",
				Buckets: prometheus.DefBuckets,
			}),
			AgentsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "orchestrator_agents_in_flight",
				Help: "Number of agent executions currently running across all analyses.",
			}),
			ContextDegraded: promauto.NewCounter(prometheus.CounterOpts{
				Name: "orchestrator_context_degraded_total",
				Help: "Total number of runs that proceeded with degraded market context.",
			}),
			SynthesisFellBack: promauto.NewCounter(prometheus.CounterOpts{
				Name: "orchestrator_synthesis_fallback_total",
				Help: "Total number of runs that installed the conservative fallback artifact.",
			}),
		}
	})
	return orchestratorMetrics
}

// Orchestrator runs analyses end to end.
type Orchestrator struct {
	cfg     Config
	log     zerolog.Logger
	metrics *runMetrics

	agents  []AgentDefinition
	runtime *agentruntime.Runtime
	bus     *progressbus.Bus
	fetcher market.Fetcher
	store   Store
	tools   toolcaller.Caller

	consensusEngine *consensus.Engine
	synthesisStage  *synthesis.Stage
	critiqueStage   *critique.Stage

	admission *rate.Limiter
}

// New constructs an Orchestrator. agents defines the fan-out phase's
// participants; fetcher supplies market context; store persists results;
// bus carries progress events.
func New(cfg Config, log zerolog.Logger, agents []AgentDefinition, fetcher market.Fetcher, store Store, bus *progressbus.Bus) *Orchestrator {
	return &Orchestrator{
		cfg:             cfg,
		log:             log.With().Str("component", "orchestrator").Logger(),
		metrics:         getOrCreateMetrics(),
		agents:          agents,
		runtime:         agentruntime.New(bus, agentruntime.DefaultConfig()),
		bus:             bus,
		fetcher:         fetcher,
		store:           store,
		consensusEngine: consensus.New(nil),
		synthesisStage:  synthesis.New(),
		critiqueStage:   critique.New(),
		admission:       rate.NewLimiter(rate.Limit(cfg.GlobalParallelism), cfg.GlobalParallelism),
	}
}

// SetTools attaches the MCP tool caller agent functions reach through
// AgentContext.Tools. Left unset, every agent sees a nil Caller and
// agents.New's fallback path returns a neutral opinion instead of calling
// out to a tool server.
func (o *Orchestrator) SetTools(tools toolcaller.Caller) {
	o.tools = tools
}

// Run executes the full two-phase DAG for one AnalysisRequest and returns
// the resulting AnalysisRecord. It never returns an error for a run-level
// failure; the returned record's Status reflects outcome (see spec §4.2).
func (o *Orchestrator) Run(ctx context.Context, req types.AnalysisRequest) *types.AnalysisRecord {
	start := time.Now()
	o.metrics.RunsTotal.Inc()
	defer func() { o.metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	record := &types.AnalysisRecord{
		ID:        req.ID,
		Request:   req,
		Status:    types.StatusRunning,
		CreatedAt: time.Now(),
	}

	if err := o.store.Create(runCtx, req); err != nil {
		o.log.Error().Err(err).Str("analysis_id", req.ID).Msg("failed to persist new analysis")
	}
	o.publish(runCtx, req.ID, progressbus.AnalysisStarted, nil)

	// Only the first symbol drives the single-artifact run shape spec.md's
	// FinalArtifact models; multi-symbol requests are future work (spec §1
	// scopes symbols to "the symbol" in FinalArtifact singular).
	symbol := req.Symbols[0]

	actx, degraded := o.buildContext(runCtx, symbol)
	if degraded {
		o.metrics.ContextDegraded.Inc()
	}
	record.ContextDegraded = degraded

	o.publish(runCtx, req.ID, progressbus.PhaseStarted, map[string]interface{}{"phase": "fan_out"})
	opinions, executions := o.runFanOut(runCtx, req.ID, actx)
	record.AgentExecutions = executions

	if degraded && countRunnable(opinions) < 2 {
		msg := "context construction failed and fewer than two of {fundamental, technical, risk} produced an opinion"
		record.Status = types.StatusFailed
		record.ErrorMessage = msg
		record.CompletedAt = ptrNow()
		o.metrics.RunsFailed.Inc()
		o.publish(runCtx, req.ID, progressbus.AnalysisFailed, map[string]interface{}{"error": msg})
		if err := o.store.Fail(runCtx, req.ID, msg); err != nil {
			o.log.Error().Err(err).Str("analysis_id", req.ID).Msg("failed to persist failure")
		}
		return record
	}

	entry := actx.Quote["price"]
	if entry <= 0 {
		entry = entryPriceFrom(opinions)
	}
	artifact := o.runSynthesisAndCritique(runCtx, req.ID, symbol, entry, opinions, degraded)
	record.FinalArtifact = &artifact
	record.Status = types.StatusCompleted
	record.CompletedAt = ptrNow()
	record.Progress = types.Progress{Percentage: 100, Phase: "completed", UpdatedAt: time.Now()}

	if err := o.persistWithRetry(runCtx, req.ID, artifact, degraded); err != nil {
		record.Status = types.StatusFailed
		record.ErrorMessage = fmt.Sprintf("persistence failed: %v", err)
		o.metrics.RunsFailed.Inc()
		o.publish(runCtx, req.ID, progressbus.AnalysisFailed, map[string]interface{}{"error": record.ErrorMessage})
		return record
	}

	o.publish(runCtx, req.ID, progressbus.AnalysisComplete, nil)
	return record
}

// buildContext constructs the immutable per-run AgentContext by invoking
// MarketFetcher for quote, history and fundamentals. A failed call degrades
// the context rather than aborting the run, per spec §4.2.
func (o *Orchestrator) buildContext(ctx context.Context, symbol string) (agentruntime.AgentContext, bool) {
	actx := agentruntime.AgentContext{Symbol: symbol, Tools: o.tools}
	degraded := false

	quote, err := o.fetcher.Quote(ctx, symbol)
	if err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol).Msg("quote fetch failed, context degraded")
		degraded = true
	} else {
		actx.Quote = map[string]float64{"price": quote.Price, "volume": quote.Volume}
	}

	bars, err := o.fetcher.History(ctx, symbol, "1y", "1d")
	if err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol).Msg("history fetch failed, context degraded")
		degraded = true
	} else {
		actx.Prices, actx.Volumes, actx.Highs, actx.Lows = splitBars(bars)
	}

	fundamentals, err := o.fetcher.Fundamentals(ctx, symbol)
	if err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol).Msg("fundamentals fetch failed, context degraded")
		degraded = true
	} else {
		actx.Fundamentals = fundamentals.Extra
	}

	actx.Degraded = degraded
	return actx, degraded
}

func splitBars(bars []market.OHLCV) (prices, volumes, highs, lows []float64) {
	prices = make([]float64, len(bars))
	volumes = make([]float64, len(bars))
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	for i, b := range bars {
		prices[i] = b.Close
		volumes[i] = b.Volume
		highs[i] = b.High
		lows[i] = b.Low
	}
	return
}

// runFanOut is Phase A: every configured agent runs concurrently, bounded
// by both the per-run and global admission limiters.
func (o *Orchestrator) runFanOut(ctx context.Context, analysisID string, actx agentruntime.AgentContext) ([]types.AgentOpinion, []types.AgentExecution) {
	sem := make(chan struct{}, o.cfg.PerRunParallelism)
	var mu sync.Mutex
	var opinions []types.AgentOpinion
	var executions []types.AgentExecution

	var wg sync.WaitGroup
	for _, def := range o.agents {
		def := def
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := o.admission.Wait(ctx); err != nil {
				return
			}
			o.metrics.AgentsInFlight.Inc()
			defer o.metrics.AgentsInFlight.Dec()

			exec := o.runtime.Run(ctx, analysisID, def.AgentID, def.Fn, actx)

			mu.Lock()
			executions = append(executions, exec)
			if exec.Status == types.AgentComplete && exec.Output != nil {
				opinions = append(opinions, *exec.Output)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return opinions, executions
}

func countRunnable(opinions []types.AgentOpinion) int {
	mandatory := map[string]bool{"fundamental": true, "technical": true, "risk": true}
	count := 0
	for _, o := range opinions {
		if mandatory[o.AgentID] {
			count++
		}
	}
	return count
}

// runSynthesisAndCritique is Phase B. A panic or logic error inside
// synthesis never escapes the run: it is caught and replaced with the
// conservative fallback artifact spec §4.2 mandates.
func (o *Orchestrator) runSynthesisAndCritique(ctx context.Context, analysisID, symbol string, entry float64, opinions []types.AgentOpinion, degraded bool) (artifact types.FinalArtifact) {
	o.publish(ctx, analysisID, progressbus.SynthesisStarted, nil)

	risk := findOpinion(opinions, "risk")
	technical := findOpinion(opinions, "technical")
	fundamental := findOpinion(opinions, "fundamental")

	consensusResult := o.consensusEngine.Compute(opinions)

	func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Error().Interface("panic", r).Str("analysis_id", analysisID).Msg("synthesis panicked, installing fallback artifact")
				o.metrics.SynthesisFellBack.Inc()
				artifact = synthesis.Fallback(symbol, entry, consensusResult)
			}
		}()
		artifact = o.synthesisStage.Synthesize(consensusResult, synthesis.Inputs{
			Symbol:             symbol,
			EntryPrice:         entry,
			AccountValue:       o.cfg.AccountValue,
			ConsensusScore:     consensusResult.ConsensusScore,
			RiskOpinion:        risk,
			TechnicalOpinion:   technical,
			FundamentalOpinion: fundamental,
			ContextDegraded:    degraded,
		})
	}()

	o.publish(ctx, analysisID, progressbus.CritiqueStarted, nil)
	o.critiqueStage.Review(&artifact, risk, degraded)

	return artifact
}

func entryPriceFrom(opinions []types.AgentOpinion) float64 {
	for _, o := range opinions {
		if v, ok := o.KeyMetrics["current_price"]; ok && v > 0 {
			return v
		}
	}
	return 0
}

func findOpinion(opinions []types.AgentOpinion, agentID string) *types.AgentOpinion {
	for i := range opinions {
		if opinions[i].AgentID == agentID {
			return &opinions[i]
		}
	}
	return nil
}

func (o *Orchestrator) persistWithRetry(ctx context.Context, analysisID string, artifact types.FinalArtifact, degraded bool) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := o.store.Complete(ctx, analysisID, artifact, degraded); err != nil {
			lastErr = err
			o.log.Warn().Err(err).Int("attempt", attempt+1).Msg("persisting final artifact failed, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("persist final artifact after %d attempts: %w", maxAttempts, lastErr)
}

func (o *Orchestrator) publish(ctx context.Context, analysisID string, kind progressbus.EventKind, payload map[string]interface{}) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(ctx, progressbus.Event{
		Kind:       kind,
		AnalysisID: analysisID,
		Timestamp:  time.Now(),
		Payload:    payload,
	})
}

func ptrNow() *time.Time {
	t := time.Now()
	return &t
}

// RunMany fans an admission-limited batch of independent requests out
// concurrently, useful for the drift monitor's re-analysis sweeps and for
// batch backfills. It reuses the same global admission limiter every
// individual Run call already respects.
func (o *Orchestrator) RunMany(ctx context.Context, reqs []types.AnalysisRequest) ([]*types.AnalysisRecord, error) {
	records := make([]*types.AnalysisRecord, len(reqs))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		group.Go(func() error {
			records[i] = o.Run(groupCtx, req)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return records, err
	}
	return records, nil
}
