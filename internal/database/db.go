package database

import (
	"context"
	"fmt"

	"lunara-sentinel/config"
	"lunara-sentinel/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a tuned connection pool and verifies connectivity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// migrations are executed in order at every startup. Statements are written
// to be re-runnable; columns added over the life of the schema use ADD
// COLUMN IF NOT EXISTS so older deployments converge without manual steps.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		tier TEXT NOT NULL DEFAULT 'FREE',
		trading_mode TEXT NOT NULL DEFAULT 'PAPER',
		paper_balance DOUBLE PRECISION NOT NULL DEFAULT 1000.0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS autotrade_override BOOLEAN`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS custom_rsi_buy DOUBLE PRECISION`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS custom_rsi_sell DOUBLE PRECISION`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS custom_profit_target DOUBLE PRECISION`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS custom_stop_loss DOUBLE PRECISION`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS custom_trailing_activation DOUBLE PRECISION`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS custom_trailing_drop DOUBLE PRECISION`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS custom_trade_size DOUBLE PRECISION`,

	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		coin_symbol TEXT NOT NULL,
		buy_price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		trade_size_usdt DOUBLE PRECISION NOT NULL,
		stop_loss_price DOUBLE PRECISION,
		take_profit_price DOUBLE PRECISION,
		status TEXT NOT NULL DEFAULT 'open',
		buy_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sell_price DOUBLE PRECISION,
		pnl_percentage DOUBLE PRECISION,
		closed_at TIMESTAMPTZ
	)`,
	`ALTER TABLE trades ADD COLUMN IF NOT EXISTS peak_price DOUBLE PRECISION`,
	`ALTER TABLE trades ADD COLUMN IF NOT EXISTS rsi_at_buy DOUBLE PRECISION`,
	`ALTER TABLE trades ADD COLUMN IF NOT EXISTS mode TEXT NOT NULL DEFAULT 'LIVE'`,
	`ALTER TABLE trades ADD COLUMN IF NOT EXISTS close_reason TEXT`,
	`ALTER TABLE trades ADD COLUMN IF NOT EXISTS win_loss TEXT`,
	`ALTER TABLE trades ADD COLUMN IF NOT EXISTS closed_by TEXT`,
	`ALTER TABLE trades ADD COLUMN IF NOT EXISTS dsl_stage INTEGER NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades(user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_one_open
		ON trades(user_id, coin_symbol) WHERE status = 'open'`,

	`CREATE TABLE IF NOT EXISTS estimated_quantity_alerts (
		id BIGSERIAL PRIMARY KEY,
		trade_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		coin_symbol TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// RunMigrations applies the schema migrations in order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	log := logging.Component("database")

	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	log.Info().Int("count", len(migrations)).Msg("migrations applied")
	return nil
}
