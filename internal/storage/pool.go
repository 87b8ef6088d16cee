// Package storage provides the PostgreSQL layer behind the durable event log.
//
// It manages the pgx connection pool, forward-only schema migrations, and
// COPY-based batch ingestion of log entries.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/simuverse/internal/telemetry"
)

// applicationName tags server sessions in pg_stat_activity.
const applicationName = "simuverse-eventlog"

// DB wraps a pgxpool.Pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a DB, verifies connectivity and registers pool gauges.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	db := &DB{pool: pool, logger: logger}
	db.registerPoolMetrics()
	logger.Info("storage: postgres connected", "max_conns", poolCfg.MaxConns)
	return db, nil
}

func (db *DB) registerPoolMetrics() {
	meter := telemetry.Meter("simuverse/storage")
	gauge := func(name, desc string, read func(*pgxpool.Stat) int64) {
		_, _ = meter.Int64ObservableGauge(name,
			metric.WithDescription(desc),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(read(db.pool.Stat()))
				return nil
			}),
		)
	}
	gauge("simuverse.db.pool.acquired", "Connections currently in use",
		func(s *pgxpool.Stat) int64 { return int64(s.AcquiredConns()) })
	gauge("simuverse.db.pool.idle", "Idle connections",
		func(s *pgxpool.Stat) int64 { return int64(s.IdleConns()) })
	gauge("simuverse.db.pool.total", "Total open connections",
		func(s *pgxpool.Stat) int64 { return int64(s.TotalConns()) })
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
