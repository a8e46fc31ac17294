// Package drift implements spec §4.7's DriftMonitor: a background loop
// that re-samples market state for recently completed analyses and raises
// graded alerts when conditions have moved materially from the state an
// analysis was produced under.
package drift

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/leocder07/stockresearch/internal/market"
	"github.com/leocder07/stockresearch/internal/progressbus"
	"github.com/leocder07/stockresearch/internal/resilience"
	"github.com/leocder07/stockresearch/internal/types"
)

// Per-dimension thresholds, spec §4.7 step 4.
const (
	PriceDriftThreshold      = 0.05
	VolumeDriftThreshold     = 0.50
	VolatilityDriftThreshold = 0.30
	SentimentDriftThreshold  = 0.20
)

// Composite severity cuts and dimension weights, spec §4.7 step 3.
const (
	CompositeMediumCut   = 0.15
	CompositeHighCut     = 0.25
	CompositeCriticalCut = 0.35

	priceWeight      = 0.40
	volumeWeight     = 0.25
	volatilityWeight = 0.20
	sentimentWeight  = 0.15
)

// sentimentEpsilon is the ε spec §4.7 step 2 divides by when the original
// sentiment score is near zero, so a tiny baseline never divides to ±Inf.
const sentimentEpsilon = 1e-6

// Default tick cadence and re-sampling window, spec §5.
const (
	DefaultTickInterval = 300 * time.Second
	DefaultActiveWindow = 24 * time.Hour
)

// volatilityPeriod/Interval select the 5-day close-price window spec §4.7
// step 2 defines volatility over.
const (
	volatilityPeriod   = "5d"
	volatilityInterval = "1d"
)

// Config holds DriftMonitor tuning knobs.
type Config struct {
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	ActiveWindow time.Duration `mapstructure:"active_window" yaml:"active_window"`
}

// DefaultConfig matches spec §5's stated defaults.
func DefaultConfig() Config {
	return Config{TickInterval: DefaultTickInterval, ActiveWindow: DefaultActiveWindow}
}

// Store is the subset of ResultStore DriftMonitor reads and writes.
type Store interface {
	RecentCompleted(ctx context.Context, since time.Time) ([]types.AnalysisRecord, error)
	SaveDriftSnapshot(ctx context.Context, analysisID, symbol string, snapshot types.DriftSnapshot) error
	SaveDriftAlert(ctx context.Context, alert types.DriftAlert, dedupKey string) (inserted bool, err error)
}

// SentimentProvider supplies a symbol's current sentiment score. It is
// optional; a nil provider treats sentiment_drift as 0, per spec §4.7 step 2.
type SentimentProvider interface {
	Score(ctx context.Context, symbol string) (float64, error)
}

type baseline struct {
	price      float64
	avgVolume  float64
	volatility float64
	sentiment  float64
}

// Monitor is the DriftMonitor background loop.
type Monitor struct {
	cfg       Config
	log       zerolog.Logger
	fetcher   market.Fetcher
	sentiment SentimentProvider
	store     Store
	bus       *progressbus.Bus
	breaker   *resilience.Manager

	mu        sync.Mutex
	baselines map[string]baseline
}

// New constructs a Monitor. sentiment may be nil.
func New(cfg Config, log zerolog.Logger, fetcher market.Fetcher, sentiment SentimentProvider, store Store, bus *progressbus.Bus, breaker *resilience.Manager) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = DefaultActiveWindow
	}
	if breaker == nil {
		breaker = resilience.NewPassthroughManager()
	}
	return &Monitor{
		cfg:       cfg,
		log:       log.With().Str("component", "drift_monitor").Logger(),
		fetcher:   fetcher,
		sentiment: sentiment,
		store:     store,
		bus:       bus,
		breaker:   breaker,
		baselines: make(map[string]baseline),
	}
}

// Run blocks, ticking every cfg.TickInterval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick samples market state once for every (analysis, symbol) pair active
// within cfg.ActiveWindow. Exported so callers (and tests) can drive ticks
// deterministically instead of waiting on the internal ticker.
func (m *Monitor) Tick(ctx context.Context) {
	since := time.Now().Add(-m.cfg.ActiveWindow)
	records, err := m.store.RecentCompleted(ctx, since)
	if err != nil {
		m.log.Error().Err(err).Msg("drift: failed to load recently completed analyses")
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, rec := range records {
		rec := rec
		for _, symbol := range rec.Request.Symbols {
			symbol := symbol
			group.Go(func() error {
				m.sampleOne(groupCtx, rec.ID, symbol)
				return nil
			})
		}
	}
	_ = group.Wait()
}

func (m *Monitor) sampleOne(ctx context.Context, analysisID, symbol string) {
	quote, bars, err := m.fetchMarket(ctx, symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("analysis_id", analysisID).Str("symbol", symbol).Msg("drift: market sample failed")
		return
	}

	sentimentScore := 0.0
	if m.sentiment != nil {
		if score, err := m.sentiment.Score(ctx, symbol); err == nil {
			sentimentScore = score
		} else {
			m.log.Debug().Err(err).Str("symbol", symbol).Msg("drift: sentiment provider unavailable, treating as 0")
		}
	}

	avgVolume := market.AverageVolume(bars)
	volatility := market.Volatility(bars)

	key := analysisID + "|" + symbol
	m.mu.Lock()
	base, seen := m.baselines[key]
	if !seen {
		m.baselines[key] = baseline{price: quote.Price, avgVolume: avgVolume, volatility: volatility, sentiment: sentimentScore}
	}
	m.mu.Unlock()
	if !seen {
		// First sample establishes the baseline an analysis is compared
		// against; there is nothing to drift from yet.
		return
	}

	snapshot := computeSnapshot(symbol, base, quote.Price, avgVolume, volatility, sentimentScore)

	if err := m.store.SaveDriftSnapshot(ctx, analysisID, symbol, snapshot); err != nil {
		m.log.Warn().Err(err).Str("analysis_id", analysisID).Str("symbol", symbol).Msg("drift: failed to persist snapshot")
	}

	m.raiseAlerts(ctx, analysisID, symbol, snapshot)
}

func (m *Monitor) fetchMarket(ctx context.Context, symbol string) (*market.Quote, []market.OHLCV, error) {
	quoteResult, err := m.breaker.Execute("market_data", m.breaker.MarketData(), func() (interface{}, error) {
		return m.fetcher.Quote(ctx, symbol)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	quote, ok := quoteResult.(*market.Quote)
	if !ok || quote == nil {
		return nil, nil, fmt.Errorf("quote %s: unexpected result type", symbol)
	}

	barsResult, err := m.breaker.Execute("market_data", m.breaker.MarketData(), func() (interface{}, error) {
		return m.fetcher.History(ctx, symbol, volatilityPeriod, volatilityInterval)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	bars, _ := barsResult.([]market.OHLCV)

	return quote, bars, nil
}

func computeSnapshot(symbol string, base baseline, price, avgVolume, volatility, sentiment float64) types.DriftSnapshot {
	priceDrift := relativeDrift(price, base.price, 0)
	volumeDrift := relativeDrift(avgVolume, base.avgVolume, 0)
	volatilityDrift := relativeDrift(volatility, base.volatility, 0)
	sentimentDrift := relativeDrift(sentiment, base.sentiment, sentimentEpsilon)

	composite := priceWeight*priceDrift + volumeWeight*volumeDrift + volatilityWeight*volatilityDrift + sentimentWeight*sentimentDrift

	return types.DriftSnapshot{
		Symbol:          symbol,
		PriceDrift:      priceDrift,
		VolumeDrift:     volumeDrift,
		VolatilityDrift: volatilityDrift,
		SentimentDrift:  sentimentDrift,
		CompositeScore:  composite,
		Severity:        severityFor(composite),
		SampledAt:       time.Now(),
	}
}

// relativeDrift computes |current-original|/denom, where denom is
// max(|original|, epsilon). A zero epsilon with a zero original reports 0
// rather than diverging, since a baseline of exactly 0 has no meaningful
// relative scale.
func relativeDrift(current, original, epsilon float64) float64 {
	denom := math.Abs(original)
	if denom < epsilon {
		denom = epsilon
	}
	if denom == 0 {
		return 0
	}
	return math.Abs(current-original) / denom
}

func severityFor(composite float64) types.DriftSeverity {
	switch {
	case composite >= CompositeCriticalCut:
		return types.DriftCritical
	case composite >= CompositeHighCut:
		return types.DriftHigh
	case composite >= CompositeMediumCut:
		return types.DriftMedium
	default:
		return types.DriftLow
	}
}

func dimensionsExceeding(s types.DriftSnapshot) []types.DriftKind {
	var kinds []types.DriftKind
	if s.PriceDrift > PriceDriftThreshold {
		kinds = append(kinds, types.DriftPrice)
	}
	if s.VolumeDrift > VolumeDriftThreshold {
		kinds = append(kinds, types.DriftVolume)
	}
	if s.VolatilityDrift > VolatilityDriftThreshold {
		kinds = append(kinds, types.DriftVolatility)
	}
	if s.SentimentDrift > SentimentDriftThreshold {
		kinds = append(kinds, types.DriftSentiment)
	}
	return kinds
}

// raiseAlerts raises one DriftAlert per dimension exceeding its threshold,
// plus a COMPOSITE alert when the overall severity is MEDIUM or higher.
// Dedup is scoped to the current tick bucket: a restarted Monitor never
// re-raises an alert it already raised this tick, but the same condition
// recurring next tick raises again.
func (m *Monitor) raiseAlerts(ctx context.Context, analysisID, symbol string, snapshot types.DriftSnapshot) {
	tickBucket := snapshot.SampledAt.Truncate(m.cfg.TickInterval).Unix()

	kinds := dimensionsExceeding(snapshot)
	if snapshot.Severity == types.DriftMedium || snapshot.Severity == types.DriftHigh || snapshot.Severity == types.DriftCritical {
		kinds = append(kinds, types.DriftComposite)
	}

	for _, kind := range kinds {
		alert := types.DriftAlert{
			AlertID:     uuid.NewString(),
			AnalysisID:  analysisID,
			Symbol:      symbol,
			Kind:        kind,
			Severity:    snapshot.Severity,
			Message:     alertMessage(kind, snapshot),
			Snapshot:    snapshot,
			TriggeredAt: snapshot.SampledAt,
		}
		dedupKey := fmt.Sprintf("%s|%s|%s|%s|%d", analysisID, symbol, kind, snapshot.Severity, tickBucket)

		inserted, err := m.store.SaveDriftAlert(ctx, alert, dedupKey)
		if err != nil {
			m.log.Warn().Err(err).Str("analysis_id", analysisID).Str("symbol", symbol).Msg("drift: failed to persist alert")
			continue
		}
		if !inserted {
			continue
		}

		m.bus.Publish(ctx, progressbus.Event{
			Kind:       progressbus.DriftAlertEvent,
			AnalysisID: analysisID,
			Payload:    map[string]interface{}{"alert": alert},
		})
	}
}

func alertMessage(kind types.DriftKind, s types.DriftSnapshot) string {
	switch kind {
	case types.DriftPrice:
		return fmt.Sprintf("%s price drifted %.1f%% from its analysis baseline", s.Symbol, s.PriceDrift*100)
	case types.DriftVolume:
		return fmt.Sprintf("%s volume drifted %.1f%% from its analysis baseline", s.Symbol, s.VolumeDrift*100)
	case types.DriftVolatility:
		return fmt.Sprintf("%s volatility drifted %.1f%% from its analysis baseline", s.Symbol, s.VolatilityDrift*100)
	case types.DriftSentiment:
		return fmt.Sprintf("%s sentiment drifted %.1f%% from its analysis baseline", s.Symbol, s.SentimentDrift*100)
	default:
		return fmt.Sprintf("%s composite drift score %.2f crossed into %s", s.Symbol, s.CompositeScore, s.Severity)
	}
}
