package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocder07/stockresearch/internal/market"
	"github.com/leocder07/stockresearch/internal/orchestrator"
	"github.com/leocder07/stockresearch/internal/progressbus"
	"github.com/leocder07/stockresearch/internal/resilience"
	"github.com/leocder07/stockresearch/internal/store"
)

func newTestServer(t *testing.T) (*Server, pgxmock.PgxPoolIface) {
	gin.SetMode(gin.TestMode)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	st := store.New(mock, resilience.NewPassthroughManager(), zerolog.Nop())
	bus := progressbus.New()
	orch := orchestrator.New(orchestrator.DefaultConfig(), zerolog.Nop(), nil, noopFetcher{}, st, bus)

	srv := NewServer(Config{
		Host:         "127.0.0.1",
		Port:         0,
		Orchestrator: orch,
		Store:        st,
		Bus:          bus,
	})
	return srv, mock
}

type noopFetcher struct{}

func (noopFetcher) Quote(ctx context.Context, symbol string) (*market.Quote, error) {
	return &market.Quote{Symbol: symbol, Price: 100}, nil
}
func (noopFetcher) History(ctx context.Context, symbol, period, interval string) ([]market.OHLCV, error) {
	return nil, nil
}
func (noopFetcher) Fundamentals(ctx context.Context, symbol string) (*market.Fundamentals, error) {
	return &market.Fundamentals{Symbol: symbol}, nil
}

func TestHandleRoot(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
}

func TestHandleHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSubmitAnalysisReturnsAccepted(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectExec("INSERT INTO analyses").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE analyses").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := httptest.NewRecorder()
	body := `{"query":"Should I buy AAPL?","symbols":["AAPL"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])

	// give the background run a moment so the mock's expectations settle
	time.Sleep(50 * time.Millisecond)
}

func TestHandleSubmitAnalysisRejectsMissingSymbols(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", strings.NewReader(`{"query":"AAPL?"}`))
	req.Header.Set("Content-Type", "application/json")
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAnalysisNotFound(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectQuery("SELECT id, query, symbols").WillReturnError(pgx.ErrNoRows)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/missing", nil)
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTerminal(t *testing.T) {
	assert.True(t, terminal(progressbus.AnalysisComplete))
	assert.True(t, terminal(progressbus.AnalysisFailed))
	assert.False(t, terminal(progressbus.AgentStarted))
}
