package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/leocder07/stockresearch/internal/resilience"
	"github.com/leocder07/stockresearch/internal/types"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// Pool is the subset of *pgxpool.Pool PostgresStore needs, so tests can
// substitute pgxmock's mocked pool without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is the persistence contract the Orchestrator writes through and
// the API reads through. Orchestrator only ever calls the write half
// (Create/SaveProgress/Complete/Fail); Get and drift methods back the API.
type Store interface {
	Create(ctx context.Context, req types.AnalysisRequest) error
	SaveProgress(ctx context.Context, analysisID string, progress types.Progress, executions []types.AgentExecution) error
	Complete(ctx context.Context, analysisID string, artifact types.FinalArtifact, degraded bool) error
	Fail(ctx context.Context, analysisID string, errMsg string) error

	Get(ctx context.Context, analysisID string) (*types.AnalysisRecord, error)
	// RecentCompleted lists analyses that completed at or after since, the
	// population DriftMonitor re-samples each tick.
	RecentCompleted(ctx context.Context, since time.Time) ([]types.AnalysisRecord, error)
	SaveDriftSnapshot(ctx context.Context, analysisID, symbol string, snapshot types.DriftSnapshot) error
	// SaveDriftAlert inserts alert unless its dedup key has already been
	// recorded, per the drift dedup-window behavior original_source keys
	// by (analysis_id, symbol, kind, severity). It reports whether the
	// alert was newly inserted.
	SaveDriftAlert(ctx context.Context, alert types.DriftAlert, dedupKey string) (inserted bool, err error)
	RecentDriftAlerts(ctx context.Context, analysisID string, limit int) ([]types.DriftAlert, error)
}

// PostgresStore is the Postgres-backed Store, with every call wrapped by
// resilience.Manager's database circuit breaker.
type PostgresStore struct {
	pool    Pool
	breaker *resilience.Manager
	log     zerolog.Logger
}

// New builds a PostgresStore over an already-opened pool.
func New(pool Pool, breaker *resilience.Manager, logger zerolog.Logger) *PostgresStore {
	if breaker == nil {
		breaker = resilience.NewPassthroughManager()
	}
	return &PostgresStore{pool: pool, breaker: breaker, log: logger.With().Str("component", "store").Logger()}
}

func (s *PostgresStore) exec(ctx context.Context, fn func() (interface{}, error)) error {
	_, err := s.breaker.Execute("database", s.breaker.Database(), fn)
	return err
}

// Create inserts a new analysis row in the running state.
func (s *PostgresStore) Create(ctx context.Context, req types.AnalysisRequest) error {
	return s.exec(ctx, func() (interface{}, error) {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO analyses (id, query, symbols, status, requested_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			req.ID, req.Query, req.Symbols, types.StatusRunning, req.RequestedAt, time.Now())
		return nil, err
	})
}

// SaveProgress updates the running progress snapshot and per-agent
// execution log for analysisID.
func (s *PostgresStore) SaveProgress(ctx context.Context, analysisID string, progress types.Progress, executions []types.AgentExecution) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("store: marshal progress: %w", err)
	}
	executionsJSON, err := json.Marshal(executions)
	if err != nil {
		return fmt.Errorf("store: marshal agent executions: %w", err)
	}

	return s.exec(ctx, func() (interface{}, error) {
		_, err := s.pool.Exec(ctx, `
			UPDATE analyses SET progress = $2, agent_executions = $3 WHERE id = $1`,
			analysisID, progressJSON, executionsJSON)
		return nil, err
	})
}

// Complete marks analysisID completed and persists its final artifact.
func (s *PostgresStore) Complete(ctx context.Context, analysisID string, artifact types.FinalArtifact, degraded bool) error {
	artifactJSON, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("store: marshal final artifact: %w", err)
	}

	return s.exec(ctx, func() (interface{}, error) {
		_, err := s.pool.Exec(ctx, `
			UPDATE analyses
			SET status = $2, final_artifact = $3, context_degraded = $4, completed_at = $5
			WHERE id = $1`,
			analysisID, types.StatusCompleted, artifactJSON, degraded, time.Now())
		return nil, err
	})
}

// Fail marks analysisID failed with errMsg.
func (s *PostgresStore) Fail(ctx context.Context, analysisID string, errMsg string) error {
	return s.exec(ctx, func() (interface{}, error) {
		_, err := s.pool.Exec(ctx, `
			UPDATE analyses SET status = $2, error_message = $3, completed_at = $4 WHERE id = $1`,
			analysisID, types.StatusFailed, errMsg, time.Now())
		return nil, err
	})
}

// Get fetches the current state of an analysis.
func (s *PostgresStore) Get(ctx context.Context, analysisID string) (*types.AnalysisRecord, error) {
	var (
		record                       types.AnalysisRecord
		progressJSON, executionsJSON []byte
		artifactJSON                 []byte
		completedAt                  *time.Time
	)

	err := s.exec(ctx, func() (interface{}, error) {
		row := s.pool.QueryRow(ctx, `
			SELECT id, query, symbols, status, context_degraded, error_message,
			       progress, agent_executions, final_artifact, requested_at, created_at, completed_at
			FROM analyses WHERE id = $1`, analysisID)
		return nil, row.Scan(
			&record.ID, &record.Request.Query, &record.Request.Symbols, &record.Status,
			&record.ContextDegraded, &record.ErrorMessage,
			&progressJSON, &executionsJSON, &artifactJSON,
			&record.Request.RequestedAt, &record.CreatedAt, &completedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	record.Request.ID = record.ID
	record.CompletedAt = completedAt

	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &record.Progress); err != nil {
			return nil, fmt.Errorf("store: unmarshal progress: %w", err)
		}
	}
	if len(executionsJSON) > 0 {
		if err := json.Unmarshal(executionsJSON, &record.AgentExecutions); err != nil {
			return nil, fmt.Errorf("store: unmarshal agent executions: %w", err)
		}
	}
	if len(artifactJSON) > 0 {
		var artifact types.FinalArtifact
		if err := json.Unmarshal(artifactJSON, &artifact); err != nil {
			return nil, fmt.Errorf("store: unmarshal final artifact: %w", err)
		}
		record.FinalArtifact = &artifact
	}

	return &record, nil
}

// RecentCompleted returns analyses completed at or after since.
func (s *PostgresStore) RecentCompleted(ctx context.Context, since time.Time) ([]types.AnalysisRecord, error) {
	var records []types.AnalysisRecord
	err := s.exec(ctx, func() (interface{}, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT id, query, symbols, status, requested_at, completed_at
			FROM analyses
			WHERE status = $1 AND completed_at >= $2`,
			types.StatusCompleted, since)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		for rows.Next() {
			var rec types.AnalysisRecord
			var completedAt *time.Time
			if err := rows.Scan(&rec.ID, &rec.Request.Query, &rec.Request.Symbols, &rec.Status, &rec.Request.RequestedAt, &completedAt); err != nil {
				return nil, err
			}
			rec.Request.ID = rec.ID
			rec.CompletedAt = completedAt
			records = append(records, rec)
		}
		return nil, rows.Err()
	})
	return records, err
}

// SaveDriftSnapshot appends one drift measurement for symbol under analysisID.
func (s *PostgresStore) SaveDriftSnapshot(ctx context.Context, analysisID, symbol string, snapshot types.DriftSnapshot) error {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("store: marshal drift snapshot: %w", err)
	}

	return s.exec(ctx, func() (interface{}, error) {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO drift_snapshots (analysis_id, symbol, snapshot, sampled_at)
			VALUES ($1, $2, $3, $4)`,
			analysisID, symbol, snapshotJSON, snapshot.SampledAt)
		return nil, err
	})
}

// SaveDriftAlert inserts alert if dedupKey has not already been recorded.
func (s *PostgresStore) SaveDriftAlert(ctx context.Context, alert types.DriftAlert, dedupKey string) (bool, error) {
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("store: marshal drift alert: %w", err)
	}

	var inserted bool
	execErr := s.exec(ctx, func() (interface{}, error) {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO drift_alerts (alert_id, analysis_id, symbol, kind, severity, dedup_key, alert, triggered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (dedup_key) DO NOTHING`,
			alert.AlertID, alert.AnalysisID, alert.Symbol, string(alert.Kind), string(alert.Severity),
			dedupKey, alertJSON, alert.TriggeredAt)
		if err == nil {
			inserted = tag.RowsAffected() > 0
		}
		return nil, err
	})
	return inserted, execErr
}

// RecentDriftAlerts returns up to limit most-recent alerts for analysisID.
func (s *PostgresStore) RecentDriftAlerts(ctx context.Context, analysisID string, limit int) ([]types.DriftAlert, error) {
	if limit <= 0 {
		limit = 50
	}

	var alerts []types.DriftAlert
	err := s.exec(ctx, func() (interface{}, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT alert FROM drift_alerts
			WHERE analysis_id = $1
			ORDER BY triggered_at DESC
			LIMIT $2`, analysisID, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		for rows.Next() {
			var alertJSON []byte
			if err := rows.Scan(&alertJSON); err != nil {
				return nil, err
			}
			var alert types.DriftAlert
			if err := json.Unmarshal(alertJSON, &alert); err != nil {
				return nil, fmt.Errorf("store: unmarshal drift alert: %w", err)
			}
			alerts = append(alerts, alert)
		}
		return nil, rows.Err()
	})
	return alerts, err
}
