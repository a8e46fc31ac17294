package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockFetcherQuote(t *testing.T) {
	m := NewMockFetcher()
	m.SetQuote("AAPL", Quote{Symbol: "AAPL", Price: 100, Volume: 5_000_000, Timestamp: time.Now()})

	q, err := m.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Price)

	_, err = m.Quote(context.Background(), "UNKNOWN")
	assert.Error(t, err)
}

func TestMockFetcherErrorOverride(t *testing.T) {
	m := NewMockFetcher()
	m.SetQuote("AAPL", Quote{Symbol: "AAPL", Price: 100})
	m.SetError("AAPL", assert.AnError)

	_, err := m.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestVolatilityAndAverageVolume(t *testing.T) {
	bars := SyntheticHistory(5, 100, 0, time.Now())
	for i := range bars {
		bars[i].Volume = 1000
	}
	assert.InDelta(t, 1000, AverageVolume(bars), 1e-9)
	// Flat series (same close each bar) has zero volatility.
	assert.InDelta(t, 0, Volatility(bars), 1e-9)
}

func TestVolatilityNonFlat(t *testing.T) {
	bars := []OHLCV{{Close: 100}, {Close: 110}, {Close: 90}, {Close: 100}}
	v := Volatility(bars)
	assert.Greater(t, v, 0.0)
}
