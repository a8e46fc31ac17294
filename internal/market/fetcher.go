// Package market defines the MarketFetcher contract (spec §6) that agents
// and the orchestrator consume for point lookups and historical OHLCV.
// Concrete providers are out of scope; this package ships the interface,
// a deterministic in-memory implementation for tests, and a Redis-backed
// caching decorator usable in front of any real implementation.
package market

import (
	"context"
	"math"
	"time"
)

// OHLCV is one bar of historical price/volume data.
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Quote is a point-in-time price/volume snapshot.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Fundamentals is a snapshot of company fundamentals.
type Fundamentals struct {
	Symbol string             `json:"symbol"`
	PE     float64            `json:"pe"`
	EPS    float64            `json:"eps"`
	Extra  map[string]float64 `json:"extra,omitempty"`
}

// Fetcher is the MarketFetcher contract from spec §6. Errors should be
// classified with internal/retry's Transient/RateLimited/Permanent helpers
// so AgentRuntime knows whether to retry.
type Fetcher interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
	History(ctx context.Context, symbol, period, interval string) ([]OHLCV, error)
	Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
}

// Volatility computes stddev(close)/mean(close) over the given bars, the
// definition spec §4.7 uses for DriftMonitor's volatility dimension.
func Volatility(bars []OHLCV) float64 {
	n := len(bars)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += b.Close
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, b := range bars {
		d := b.Close - mean
		variance += d * d
	}
	variance /= float64(n)
	return math.Sqrt(variance) / mean
}

// AverageVolume returns the mean volume across bars.
func AverageVolume(bars []OHLCV) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += b.Volume
	}
	return sum / float64(len(bars))
}
