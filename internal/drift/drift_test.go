package drift

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocder07/stockresearch/internal/market"
	"github.com/leocder07/stockresearch/internal/progressbus"
	"github.com/leocder07/stockresearch/internal/types"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []types.AnalysisRecord
	snapshots []types.DriftSnapshot
	alerts    []types.DriftAlert
	dedupKeys map[string]bool
}

func newFakeStore(records ...types.AnalysisRecord) *fakeStore {
	return &fakeStore{records: records, dedupKeys: make(map[string]bool)}
}

func (f *fakeStore) RecentCompleted(ctx context.Context, since time.Time) ([]types.AnalysisRecord, error) {
	return f.records, nil
}

func (f *fakeStore) SaveDriftSnapshot(ctx context.Context, analysisID, symbol string, snapshot types.DriftSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

func (f *fakeStore) SaveDriftAlert(ctx context.Context, alert types.DriftAlert, dedupKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dedupKeys[dedupKey] {
		return false, nil
	}
	f.dedupKeys[dedupKey] = true
	f.alerts = append(f.alerts, alert)
	return true, nil
}

func record(id string, symbols ...string) types.AnalysisRecord {
	return types.AnalysisRecord{
		ID:      id,
		Status:  types.StatusCompleted,
		Request: types.AnalysisRequest{ID: id, Symbols: symbols},
	}
}

func flatHistory(days int, price, volume float64) []market.OHLCV {
	bars := make([]market.OHLCV, days)
	for i := range bars {
		bars[i] = market.OHLCV{Close: price, Volume: volume}
	}
	return bars
}

func TestFirstTickEstablishesBaselineWithoutAlert(t *testing.T) {
	fetcher := market.NewMockFetcher()
	fetcher.SetQuote("AAPL", market.Quote{Symbol: "AAPL", Price: 100})
	fetcher.SetHistory("AAPL", flatHistory(5, 100, 1_000_000))

	store := newFakeStore(record("a1", "AAPL"))
	bus := progressbus.New()

	m := New(DefaultConfig(), zerolog.Nop(), fetcher, nil, store, bus, nil)
	m.Tick(context.Background())

	assert.Empty(t, store.snapshots)
	assert.Empty(t, store.alerts)
}

func TestSecondTickComputesDriftAgainstBaseline(t *testing.T) {
	fetcher := market.NewMockFetcher()
	fetcher.SetQuote("AAPL", market.Quote{Symbol: "AAPL", Price: 100})
	fetcher.SetHistory("AAPL", flatHistory(5, 100, 1_000_000))

	store := newFakeStore(record("a1", "AAPL"))
	bus := progressbus.New()

	m := New(DefaultConfig(), zerolog.Nop(), fetcher, nil, store, bus, nil)
	m.Tick(context.Background())

	fetcher.SetQuote("AAPL", market.Quote{Symbol: "AAPL", Price: 108})
	m.Tick(context.Background())

	require.Len(t, store.snapshots, 1)
	snapshot := store.snapshots[0]
	assert.InDelta(t, 0.08, snapshot.PriceDrift, 1e-9)
}

func TestPriceDriftAboveThresholdRaisesAlertAndPublishes(t *testing.T) {
	fetcher := market.NewMockFetcher()
	fetcher.SetQuote("AAPL", market.Quote{Symbol: "AAPL", Price: 100})
	fetcher.SetHistory("AAPL", flatHistory(5, 100, 1_000_000))

	store := newFakeStore(record("a1", "AAPL"))
	bus := progressbus.New()
	sub := bus.Subscribe("a1")

	m := New(DefaultConfig(), zerolog.Nop(), fetcher, nil, store, bus, nil)
	m.Tick(context.Background())

	fetcher.SetQuote("AAPL", market.Quote{Symbol: "AAPL", Price: 108})
	m.Tick(context.Background())

	require.Len(t, store.alerts, 1)
	assert.Equal(t, types.DriftPrice, store.alerts[0].Kind)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, progressbus.DriftAlertEvent, ev.Kind)
	default:
		t.Fatal("expected a drift_alert event on the bus")
	}
}

func TestSmallPriceMoveRaisesNoAlert(t *testing.T) {
	fetcher := market.NewMockFetcher()
	fetcher.SetQuote("AAPL", market.Quote{Symbol: "AAPL", Price: 100})
	fetcher.SetHistory("AAPL", flatHistory(5, 100, 1_000_000))

	store := newFakeStore(record("a1", "AAPL"))
	bus := progressbus.New()

	m := New(DefaultConfig(), zerolog.Nop(), fetcher, nil, store, bus, nil)
	m.Tick(context.Background())

	fetcher.SetQuote("AAPL", market.Quote{Symbol: "AAPL", Price: 101})
	m.Tick(context.Background())

	require.Len(t, store.snapshots, 1)
	assert.Empty(t, store.alerts)
	assert.Equal(t, types.DriftLow, store.snapshots[0].Severity)
}

func TestDuplicateAlertWithinSameTickBucketIsNotReinserted(t *testing.T) {
	fetcher := market.NewMockFetcher()
	bus := progressbus.New()
	store := newFakeStore()

	m := New(DefaultConfig(), zerolog.Nop(), fetcher, nil, store, bus, nil)
	snapshot := types.DriftSnapshot{Symbol: "AAPL", PriceDrift: 0.2, Severity: types.DriftHigh, SampledAt: time.Unix(1_000, 0)}

	m.raiseAlerts(context.Background(), "a1", "AAPL", snapshot)
	m.raiseAlerts(context.Background(), "a1", "AAPL", snapshot)

	assert.Len(t, store.alerts, 2) // PRICE + COMPOSITE, each inserted once
}

func TestSeverityMonotonicityAcrossCompositeCuts(t *testing.T) {
	assert.Equal(t, types.DriftLow, severityFor(0.10))
	assert.Equal(t, types.DriftMedium, severityFor(0.15))
	assert.Equal(t, types.DriftHigh, severityFor(0.25))
	assert.Equal(t, types.DriftCritical, severityFor(0.35))
}

func TestRelativeDriftGuardsZeroBaseline(t *testing.T) {
	assert.Equal(t, 0.0, relativeDrift(5, 0, 0))
	assert.InDelta(t, 4_999_999.0, relativeDrift(5-sentimentEpsilon, 0, sentimentEpsilon), 1e-6)
}

func TestMarketFetchFailureSkipsSymbolWithoutPanic(t *testing.T) {
	fetcher := market.NewMockFetcher()
	store := newFakeStore(record("a1", "AAPL"))
	bus := progressbus.New()

	m := New(DefaultConfig(), zerolog.Nop(), fetcher, nil, store, bus, nil)
	assert.NotPanics(t, func() { m.Tick(context.Background()) })
	assert.Empty(t, store.snapshots)
}
