package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockFetcher is a deterministic in-memory Fetcher used by tests and local
// development. State is set directly rather than fetched from a provider.
type MockFetcher struct {
	mu           sync.RWMutex
	quotes       map[string]Quote
	history      map[string][]OHLCV
	fundamentals map[string]Fundamentals
	errs         map[string]error
}

// NewMockFetcher returns an empty MockFetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		quotes:       make(map[string]Quote),
		history:      make(map[string][]OHLCV),
		fundamentals: make(map[string]Fundamentals),
		errs:         make(map[string]error),
	}
}

// SetQuote registers the quote returned for symbol.
func (m *MockFetcher) SetQuote(symbol string, q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = q
}

// SetHistory registers the OHLCV bars returned for symbol.
func (m *MockFetcher) SetHistory(symbol string, bars []OHLCV) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[symbol] = bars
}

// SetFundamentals registers the fundamentals snapshot returned for symbol.
func (m *MockFetcher) SetFundamentals(symbol string, f Fundamentals) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundamentals[symbol] = f
}

// SetError makes every later call (of any kind) for the given symbol fail
// with err.
func (m *MockFetcher) SetError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[symbol] = err
}

func (m *MockFetcher) Quote(_ context.Context, symbol string) (*Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.errs[symbol]; ok {
		return nil, err
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote configured for %s", symbol)
	}
	return &q, nil
}

func (m *MockFetcher) History(_ context.Context, symbol, _, _ string) ([]OHLCV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.errs[symbol]; ok {
		return nil, err
	}
	bars, ok := m.history[symbol]
	if !ok {
		return nil, fmt.Errorf("no history configured for %s", symbol)
	}
	out := make([]OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

func (m *MockFetcher) Fundamentals(_ context.Context, symbol string) (*Fundamentals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.errs[symbol]; ok {
		return nil, err
	}
	f, ok := m.fundamentals[symbol]
	if !ok {
		return nil, fmt.Errorf("no fundamentals configured for %s", symbol)
	}
	return &f, nil
}

// SyntheticHistory builds a deterministic price series starting at `start`
// and drifting by `drift` per bar, for tests that need realistic-looking
// OHLCV without wiring a real provider.
func SyntheticHistory(days int, start, drift float64, from time.Time) []OHLCV {
	bars := make([]OHLCV, 0, days)
	price := start
	for i := 0; i < days; i++ {
		bars = append(bars, OHLCV{
			Timestamp: from.AddDate(0, 0, i),
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price,
			Volume:    1_000_000,
		})
		price += drift
	}
	return bars
}
