// Package store is the PostgreSQL persistence layer: a thin sqlx wrapper
// plus repositories, one query object per table family. Table names are
// fixed by the deployed schema and must not change.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store owns the database handle and hands out repositories.
type Store struct {
	db *sqlx.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, maxConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connecting: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns / 2)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle, mainly for tests.
func NewWithDB(db *sqlx.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Bars returns the bar/market-data repository.
func (s *Store) Bars() *BarRepo { return &BarRepo{db: s.db} }

// Trades returns the trade/signal/event repository.
func (s *Store) Trades() *TradeRepo { return &TradeRepo{db: s.db} }

// Strategies returns the strategy binding repository.
func (s *Store) Strategies() *StrategyRepo { return &StrategyRepo{db: s.db} }

// Settings returns the settings/blackout/news repository.
func (s *Store) Settings() *SettingsRepo { return &SettingsRepo{db: s.db} }

// SystemConfig returns the key-value config repository.
func (s *Store) SystemConfig() *SystemConfigRepo { return &SystemConfigRepo{db: s.db} }

// EnsureSchema creates every table the orchestrator uses. All statements
// are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensuring schema: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bar (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume BIGINT NOT NULL,
		UNIQUE (symbol, timeframe, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS market_data (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		volume BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		UNIQUE (symbol, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS trade (
		id BIGSERIAL PRIMARY KEY,
		order_ref TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		fees DOUBLE PRECISION NOT NULL DEFAULT 0,
		tax DOUBLE PRECISION NOT NULL DEFAULT 0,
		slippage_bps DOUBLE PRECISION NOT NULL DEFAULT 0,
		realized_pnl DOUBLE PRECISION,
		reason TEXT NOT NULL DEFAULT '',
		is_simulated BOOLEAN NOT NULL DEFAULT TRUE,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS signal (
		id BIGSERIAL PRIMARY KEY,
		strategy_name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		acted BOOLEAN NOT NULL DEFAULT FALSE,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS event (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS veto_event (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		reason TEXT NOT NULL,
		affected_symbols TEXT NOT NULL DEFAULT '',
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS llm_insight (
		id BIGSERIAL PRIMARY KEY,
		insight_type TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		trade_id TEXT NOT NULL DEFAULT '',
		signal_id TEXT NOT NULL DEFAULT '',
		event_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		processing_time_ms BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT TRUE,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS economic_news (
		id BIGSERIAL PRIMARY KEY,
		headline TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'low',
		symbols TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS economic_event (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		impact TEXT NOT NULL DEFAULT 'low',
		event_date DATE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS system_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS active_strategy (
		id BIGSERIAL PRIMARY KEY,
		strategy_name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		parameters TEXT NOT NULL DEFAULT '{}',
		activated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS strategy_config (
		strategy_name TEXT PRIMARY KEY,
		strategy_type TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		parameters TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS strategy_performance (
		id BIGSERIAL PRIMARY KEY,
		strategy_name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		daily_return DOUBLE PRECISION NOT NULL,
		equity DOUBLE PRECISION NOT NULL,
		trade_count BIGINT NOT NULL DEFAULT 0,
		as_of DATE NOT NULL,
		UNIQUE (strategy_name, symbol, as_of)
	)`,
	`CREATE TABLE IF NOT EXISTS strategy_stock_mapping (
		id BIGSERIAL PRIMARY KEY,
		strategy_name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		UNIQUE (strategy_name, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS shadow_mode_stock (
		id BIGSERIAL PRIMARY KEY,
		rank INT NOT NULL,
		symbol TEXT NOT NULL,
		strategy_name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (symbol, strategy_name)
	)`,
	`CREATE TABLE IF NOT EXISTS active_shadow_selection (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		strategy_name TEXT NOT NULL,
		selected_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_settings (
		symbol TEXT PRIMARY KEY,
		adv BIGINT NOT NULL DEFAULT 0,
		lot_mode TEXT NOT NULL DEFAULT 'round',
		historical_slippage_bps DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS risk_settings (
		key TEXT PRIMARY KEY,
		value DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS earnings_blackout_meta (
		symbol TEXT PRIMARY KEY,
		refreshed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS earnings_blackout_date (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		blackout_date DATE NOT NULL,
		UNIQUE (symbol, blackout_date)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_statistics (
		id BIGSERIAL PRIMARY KEY,
		stat_date DATE NOT NULL UNIQUE,
		realized_pnl DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		equity DOUBLE PRECISION NOT NULL,
		trade_count BIGINT NOT NULL,
		win_count BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fundamental_data (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		metric TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		as_of DATE NOT NULL,
		UNIQUE (symbol, metric, as_of)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bar_symbol_tf_ts ON bar (symbol, timeframe, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_ts ON trade (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_signal_ts ON signal (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_veto_ts ON veto_event (ts)`,
}
