// Package database persists traffic events and network samples to
// PostgreSQL.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/trafficlite/trafficlite/internal/config"
)

const connectBackoffBase = 500 * time.Millisecond

// Connect opens a pool and pings it with exponential backoff, up to
// cfg.ConnectRetries extra attempts.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "database")

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Pool.MaxConns)
	poolCfg.MinConns = int32(cfg.Pool.MinConns)
	poolCfg.MaxConnLifetime = cfg.Pool.MaxConnLifetime()
	poolCfg.MaxConnIdleTime = cfg.Pool.MaxConnIdleTime()
	poolCfg.HealthCheckPeriod = cfg.Pool.HealthCheckPeriod()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(cfg.ConnectRetries), retry.NewExponential(connectBackoffBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempt, err)
	}

	logger.Info("database connected",
		"host", cfg.Host,
		"dbname", cfg.DBName,
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}

// RunMigrations runs all pending migrations from the embedded SQL files
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(EmbeddedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}

	return nil
}
