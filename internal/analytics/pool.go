package analytics

import (
	"context"
	"fmt"

	"github.com/insano70/bcos-sub018/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// NewPool creates the bounded connection pool for the analytics
// database. The pool size is the ceiling on concurrent queries.
func NewPool(ctx context.Context, cfg config.AnalyticsConfig, poolSize int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse analytics connection string: %w", err)
	}

	poolConfig.MaxConns = poolSize
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping analytics database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Int32("pool_size", poolSize).
		Msg("Connected to analytics database")

	return pool, nil
}
