package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocder07/stockresearch/internal/resilience"
	"github.com/leocder07/stockresearch/internal/types"
)

func newTestStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, resilience.NewPassthroughManager(), zerolog.Nop()), mock
}

func TestCreateInsertsAnalysis(t *testing.T) {
	s, mock := newTestStore(t)
	req := types.AnalysisRequest{ID: "a1", Query: "AAPL?", Symbols: []string{"AAPL"}, RequestedAt: time.Now()}

	mock.ExpectExec("INSERT INTO analyses").
		WithArgs(req.ID, req.Query, req.Symbols, types.StatusRunning, req.RequestedAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Create(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteMarksArtifact(t *testing.T) {
	s, mock := newTestStore(t)
	artifact := types.FinalArtifact{Symbol: "AAPL", Action: types.Buy}

	mock.ExpectExec("UPDATE analyses").
		WithArgs("a1", types.StatusCompleted, pgxmock.AnyArg(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.Complete(context.Background(), "a1", artifact, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailMarksErrorMessage(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec("UPDATE analyses").
		WithArgs("a1", types.StatusFailed, "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.Fail(context.Background(), "a1", "boom")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsErrNotFoundForMissingRow(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT id, query, symbols").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveDriftAlertReportsInsertedOnFirstWrite(t *testing.T) {
	s, mock := newTestStore(t)
	alert := types.DriftAlert{AlertID: "al1", AnalysisID: "a1", Symbol: "AAPL", Kind: types.DriftPrice, Severity: types.DriftMedium, TriggeredAt: time.Now()}

	mock.ExpectExec("INSERT INTO drift_alerts").
		WithArgs(alert.AlertID, alert.AnalysisID, alert.Symbol, string(alert.Kind), string(alert.Severity), "a1|AAPL|PRICE|MEDIUM", pgxmock.AnyArg(), alert.TriggeredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := s.SaveDriftAlert(context.Background(), alert, "a1|AAPL|PRICE|MEDIUM")
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestRecentCompletedScansRows(t *testing.T) {
	s, mock := newTestStore(t)
	since := time.Now().Add(-24 * time.Hour)
	completedAt := time.Now()

	rows := pgxmock.NewRows([]string{"id", "query", "symbols", "status", "requested_at", "completed_at"}).
		AddRow("a1", "AAPL?", []string{"AAPL"}, types.StatusCompleted, time.Now(), &completedAt)

	mock.ExpectQuery("SELECT id, query, symbols, status, requested_at, completed_at").
		WithArgs(types.StatusCompleted, since).
		WillReturnRows(rows)

	records, err := s.RecentCompleted(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a1", records[0].ID)
	assert.Equal(t, []string{"AAPL"}, records[0].Request.Symbols)
}

func TestSaveDriftAlertReportsNotInsertedOnDuplicate(t *testing.T) {
	s, mock := newTestStore(t)
	alert := types.DriftAlert{AlertID: "al2", AnalysisID: "a1", Symbol: "AAPL", Kind: types.DriftPrice, Severity: types.DriftMedium, TriggeredAt: time.Now()}

	mock.ExpectExec("INSERT INTO drift_alerts").
		WithArgs(alert.AlertID, alert.AnalysisID, alert.Symbol, string(alert.Kind), string(alert.Severity), "a1|AAPL|PRICE|MEDIUM", pgxmock.AnyArg(), alert.TriggeredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.SaveDriftAlert(context.Background(), alert, "a1|AAPL|PRICE|MEDIUM")
	require.NoError(t, err)
	assert.False(t, inserted)
}
