// Package resilience wraps MarketFetcher, ToolCaller, and ResultStore calls
// in per-dependency circuit breakers so a failing provider degrades
// gracefully instead of cascading into every in-flight analysis.
package resilience

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Breaker state labels for Prometheus metrics.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Default thresholds, one profile per dependency. Market data and tool
// calls see provider hiccups often enough to warrant quick tripping;
// database calls get a shorter open timeout since a Postgres blip
// typically clears faster than a market-data provider outage.
const (
	MarketDataMinRequests     = 5
	MarketDataFailureRatio    = 0.6
	MarketDataOpenTimeout     = 30 * time.Second
	MarketDataHalfOpenMaxReqs = 3
	MarketDataCountInterval   = 10 * time.Second

	ToolCallerMinRequests     = 3
	ToolCallerFailureRatio    = 0.6
	ToolCallerOpenTimeout     = 60 * time.Second
	ToolCallerHalfOpenMaxReqs = 2
	ToolCallerCountInterval   = 10 * time.Second

	DatabaseMinRequests     = 10
	DatabaseFailureRatio    = 0.6
	DatabaseOpenTimeout     = 15 * time.Second
	DatabaseHalfOpenMaxReqs = 5
	DatabaseCountInterval   = 10 * time.Second
)

// ServiceSettings configures one dependency's circuit breaker.
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

func defaultMarketData() ServiceSettings {
	return ServiceSettings{MarketDataMinRequests, MarketDataFailureRatio, MarketDataOpenTimeout, MarketDataHalfOpenMaxReqs, MarketDataCountInterval}
}

func defaultToolCaller() ServiceSettings {
	return ServiceSettings{ToolCallerMinRequests, ToolCallerFailureRatio, ToolCallerOpenTimeout, ToolCallerHalfOpenMaxReqs, ToolCallerCountInterval}
}

func defaultDatabase() ServiceSettings {
	return ServiceSettings{DatabaseMinRequests, DatabaseFailureRatio, DatabaseOpenTimeout, DatabaseHalfOpenMaxReqs, DatabaseCountInterval}
}

// ParseDuration parses a duration string, falling back to defaultValue on
// empty input or a parse error.
func ParseDuration(durationStr string, defaultValue time.Duration) time.Duration {
	if durationStr == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultValue
	}
	return d
}

// Metrics holds the Prometheus instrumentation shared by every Manager.
type Metrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			state: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "resilience_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			}, []string{"dependency"}),
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resilience_circuit_breaker_requests_total",
				Help: "Total requests observed by a circuit breaker",
			}, []string{"dependency", "result"}),
			failures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resilience_circuit_breaker_failures_total",
				Help: "Total failures tracked by a circuit breaker",
			}, []string{"dependency"}),
		}
	})
}

// RecordRequest records one request's outcome against a dependency label.
func (m *Metrics) RecordRequest(dependency string, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
		m.failures.WithLabelValues(dependency).Inc()
	}
	m.requests.WithLabelValues(dependency, result).Inc()
}

// Manager owns one circuit breaker per downstream dependency the
// orchestration engine calls out to: MarketFetcher, ToolCaller, ResultStore.
type Manager struct {
	marketData *gobreaker.CircuitBreaker
	toolCaller *gobreaker.CircuitBreaker
	database   *gobreaker.CircuitBreaker
	metrics    *Metrics
}

// NewManager builds a Manager with the package defaults for every
// dependency.
func NewManager() *Manager {
	return NewManagerWithSettings(nil, nil, nil)
}

// NewManagerWithSettings builds a Manager, substituting defaults for any
// nil ServiceSettings.
func NewManagerWithSettings(marketData, toolCaller, database *ServiceSettings) *Manager {
	initMetrics()

	if marketData == nil {
		s := defaultMarketData()
		marketData = &s
	}
	if toolCaller == nil {
		s := defaultToolCaller()
		toolCaller = &s
	}
	if database == nil {
		s := defaultDatabase()
		database = &s
	}

	m := &Manager{metrics: globalMetrics}
	m.marketData = newBreaker("market_data", *marketData, m.updateMetrics)
	m.toolCaller = newBreaker("tool_caller", *toolCaller, m.updateMetrics)
	m.database = newBreaker("database", *database, m.updateMetrics)

	m.updateMetrics("market_data", m.marketData.State())
	m.updateMetrics("tool_caller", m.toolCaller.State())
	m.updateMetrics("database", m.database.State())

	return m
}

// NewPassthroughManager returns a Manager whose breakers never trip, for
// tests that want to exercise resilience-wrapped call sites without the
// breaker itself interfering.
func NewPassthroughManager() *Manager {
	initMetrics()
	never := func(gobreaker.Counts) bool { return false }
	mk := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1000,
			Timeout:     time.Millisecond,
			ReadyToTrip: never,
		})
	}
	return &Manager{
		marketData: mk("market_data_passthrough"),
		toolCaller: mk("tool_caller_passthrough"),
		database:   mk("database_passthrough"),
		metrics:    globalMetrics,
	}
}

func newBreaker(name string, s ServiceSettings, onChange func(string, gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxReqs,
		Interval:    s.CountInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && ratio >= s.FailureRatio
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			onChange(name, to)
		},
	})
}

func (m *Manager) updateMetrics(dependency string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	m.metrics.state.WithLabelValues(dependency).Set(v)
}

// MarketData returns the circuit breaker guarding MarketFetcher calls.
func (m *Manager) MarketData() *gobreaker.CircuitBreaker { return m.marketData }

// ToolCaller returns the circuit breaker guarding MCP tool calls.
func (m *Manager) ToolCaller() *gobreaker.CircuitBreaker { return m.toolCaller }

// Database returns the circuit breaker guarding ResultStore calls.
func (m *Manager) Database() *gobreaker.CircuitBreaker { return m.database }

// Metrics returns the shared metrics instance for manual recording.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Execute runs operation through breaker, recording the outcome against
// dependency in Metrics and translating gobreaker.ErrOpenState into a
// dependency-scoped error message.
func (m *Manager) Execute(dependency string, breaker *gobreaker.CircuitBreaker, operation func() (interface{}, error)) (interface{}, error) {
	result, err := breaker.Execute(operation)
	if err != nil {
		m.metrics.RecordRequest(dependency, false)
		if err == gobreaker.ErrOpenState {
			return nil, &OpenStateError{Dependency: dependency}
		}
		return nil, err
	}
	m.metrics.RecordRequest(dependency, true)
	return result, nil
}

// OpenStateError is returned when a call is rejected because its circuit
// breaker is open.
type OpenStateError struct {
	Dependency string
}

func (e *OpenStateError) Error() string {
	return "resilience: " + e.Dependency + " circuit breaker is open, service unavailable"
}

func (e *OpenStateError) Is(target error) bool {
	return target == gobreaker.ErrOpenState
}
