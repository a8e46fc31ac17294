package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Updater periodically samples the store's Postgres tables and republishes
// the results as gauges, filling in numbers the request-scoped recorders
// can't see on their own (active analyses, drift coverage, connection pool).
type Updater struct {
	db       *pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater.
func NewUpdater(db *pgxpool.Pool, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics update loop.
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater.
func (u *Updater) Stop() {
	close(u.stopCh)
}

// update fetches and publishes all gauges.
func (u *Updater) update(ctx context.Context) {
	log.Debug().Msg("updating metrics from database")

	u.updateAnalysisMetrics(ctx)
	u.updateDriftMetrics(ctx)
	u.updateDatabaseMetrics()
}

// updateAnalysisMetrics refreshes the in-flight analysis gauge from the
// analyses table, since a process restart loses the in-memory counters that
// RecordAnalysisStarted/RecordAnalysisCompleted otherwise maintain.
func (u *Updater) updateAnalysisMetrics(ctx context.Context) {
	var active int64
	err := u.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM analyses WHERE status IN ('pending', 'running')
	`).Scan(&active)
	if err != nil {
		log.Error().Err(err).Msg("failed to count active analyses")
		return
	}
	ActiveAnalyses.Set(float64(active))
}

// updateDriftMetrics refreshes drift monitor coverage: the number of
// distinct symbols with a drift snapshot taken in the last hour, a proxy for
// how many positions the background monitor is actively watching.
func (u *Updater) updateDriftMetrics(ctx context.Context) {
	var monitored int64
	err := u.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT symbol) FROM drift_snapshots
		WHERE sampled_at >= NOW() - INTERVAL '1 hour'
	`).Scan(&monitored)
	if err != nil {
		log.Error().Err(err).Msg("failed to count monitored drift symbols")
		return
	}
	DriftMonitoredPairs.Set(float64(monitored))
}

// updateDatabaseMetrics updates database connection pool metrics.
func (u *Updater) updateDatabaseMetrics() {
	stat := u.db.Stat()
	UpdateDatabaseConnections(stat.AcquiredConns(), stat.IdleConns())
}
