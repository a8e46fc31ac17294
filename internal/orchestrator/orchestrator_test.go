package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocder07/stockresearch/internal/agentruntime"
	"github.com/leocder07/stockresearch/internal/market"
	"github.com/leocder07/stockresearch/internal/progressbus"
	"github.com/leocder07/stockresearch/internal/types"
)

type memoryStore struct {
	mu        sync.Mutex
	created   []types.AnalysisRequest
	completed map[string]types.FinalArtifact
	failed    map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{completed: map[string]types.FinalArtifact{}, failed: map[string]string{}}
}

func (m *memoryStore) Create(ctx context.Context, req types.AnalysisRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, req)
	return nil
}

func (m *memoryStore) SaveProgress(ctx context.Context, analysisID string, progress types.Progress, executions []types.AgentExecution) error {
	return nil
}

func (m *memoryStore) Complete(ctx context.Context, analysisID string, artifact types.FinalArtifact, degraded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[analysisID] = artifact
	return nil
}

func (m *memoryStore) Fail(ctx context.Context, analysisID string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[analysisID] = errMsg
	return nil
}

func buyAgent(agentID string) AgentDefinition {
	return AgentDefinition{
		AgentID: agentID,
		Fn: func(ctx context.Context, actx agentruntime.AgentContext) (types.AgentOpinion, error) {
			return types.AgentOpinion{
				AgentID:            agentID,
				Symbol:             actx.Symbol,
				Recommendation:     "BUY",
				Confidence:         0.8,
				HistoricalAccuracy: 0.8,
				KeyMetrics:         map[string]float64{"atr": 2.0, "current_price": 100},
				ProducedAt:         time.Now(),
			}, nil
		},
	}
}

func newTestFetcher() *market.MockFetcher {
	f := market.NewMockFetcher()
	f.SetQuote("AAPL", market.Quote{Symbol: "AAPL", Price: 100, Volume: 1_000_000, Timestamp: time.Now()})
	f.SetHistory("AAPL", market.SyntheticHistory(30, 100, 0.1, time.Now().AddDate(0, 0, -30)))
	f.SetFundamentals("AAPL", market.Fundamentals{Symbol: "AAPL", Extra: map[string]float64{"intrinsic_value_per_share": 110}})
	return f
}

func TestRunHappyPathCompletes(t *testing.T) {
	fetcher := newTestFetcher()
	store := newMemoryStore()
	bus := progressbus.New()
	agents := []AgentDefinition{buyAgent("fundamental"), buyAgent("technical"), buyAgent("risk")}

	orch := New(DefaultConfig(), zerolog.Nop(), agents, fetcher, store, bus)

	req := types.AnalysisRequest{ID: "a1", Query: "should I buy AAPL", Symbols: []string{"AAPL"}, RequestedAt: time.Now()}
	record := orch.Run(context.Background(), req)

	require.Equal(t, types.StatusCompleted, record.Status)
	require.NotNil(t, record.FinalArtifact)
	assert.Equal(t, "AAPL", record.FinalArtifact.Symbol)
	assert.Len(t, record.AgentExecutions, 3)

	_, persisted := store.completed["a1"]
	assert.True(t, persisted)
}

func TestRunFailsWhenContextDegradedAndFewAgentsRunnable(t *testing.T) {
	fetcher := market.NewMockFetcher()
	fetcher.SetError("AAPL", assert.AnError)
	store := newMemoryStore()
	bus := progressbus.New()
	agents := []AgentDefinition{buyAgent("sentiment")}

	orch := New(DefaultConfig(), zerolog.Nop(), agents, fetcher, store, bus)

	req := types.AnalysisRequest{ID: "a2", Query: "AAPL?", Symbols: []string{"AAPL"}, RequestedAt: time.Now()}
	record := orch.Run(context.Background(), req)

	require.Equal(t, types.StatusFailed, record.Status)
	assert.NotEmpty(t, record.ErrorMessage)
	assert.Contains(t, store.failed, "a2")
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	fetcher := newTestFetcher()
	store := newMemoryStore()
	bus := progressbus.New()
	sub := bus.Subscribe("a3")
	defer sub.Unsubscribe()

	agents := []AgentDefinition{buyAgent("fundamental"), buyAgent("technical"), buyAgent("risk")}
	orch := New(DefaultConfig(), zerolog.Nop(), agents, fetcher, store, bus)

	req := types.AnalysisRequest{ID: "a3", Query: "AAPL?", Symbols: []string{"AAPL"}, RequestedAt: time.Now()}
	orch.Run(context.Background(), req)

	var kinds []progressbus.EventKind
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				break drain
			}
			kinds = append(kinds, ev.Kind)
			if ev.Kind == progressbus.AnalysisComplete {
				break drain
			}
		case <-timeout:
			break drain
		}
	}

	assert.Contains(t, kinds, progressbus.AnalysisStarted)
	assert.Contains(t, kinds, progressbus.AnalysisComplete)
}
