package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// StrategyRepo persists strategy bindings, performance history and the
// shadow evaluation list.
type StrategyRepo struct {
	db *sqlx.DB
}

// ActiveStrategy is the authoritative current main-strategy binding.
type ActiveStrategy struct {
	StrategyName string    `db:"strategy_name"`
	Symbol       string    `db:"symbol"`
	Parameters   string    `db:"parameters"`
	ActivatedAt  time.Time `db:"activated_at"`
}

// GetActive returns the most recent main-strategy binding, or ok=false
// when none has ever been set.
func (r *StrategyRepo) GetActive(ctx context.Context) (ActiveStrategy, bool, error) {
	var out ActiveStrategy
	err := r.db.GetContext(ctx, &out, `
		SELECT strategy_name, symbol, parameters, activated_at
		FROM active_strategy ORDER BY activated_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return ActiveStrategy{}, false, nil
	}
	if err != nil {
		return ActiveStrategy{}, false, fmt.Errorf("store: loading active strategy: %w", err)
	}
	return out, true, nil
}

// SetActive appends a new main-strategy binding.
func (r *StrategyRepo) SetActive(ctx context.Context, name, symbol, parameters string) error {
	if parameters == "" {
		parameters = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO active_strategy (strategy_name, symbol, parameters, activated_at)
		VALUES ($1, $2, $3, now())`, name, symbol, parameters)
	if err != nil {
		return fmt.Errorf("store: setting active strategy %s: %w", name, err)
	}
	return nil
}

// UpsertConfig writes one strategy_config row.
func (r *StrategyRepo) UpsertConfig(ctx context.Context, name, typ string, enabled bool, parameters string) error {
	if parameters == "" {
		parameters = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO strategy_config (strategy_name, strategy_type, enabled, parameters)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (strategy_name) DO UPDATE SET
			strategy_type = EXCLUDED.strategy_type,
			enabled = EXCLUDED.enabled,
			parameters = EXCLUDED.parameters`,
		name, typ, enabled, parameters)
	if err != nil {
		return fmt.Errorf("store: upserting strategy config %s: %w", name, err)
	}
	return nil
}

// PerformancePoint is one daily performance observation.
type PerformancePoint struct {
	StrategyName string    `db:"strategy_name"`
	Symbol       string    `db:"symbol"`
	DailyReturn  float64   `db:"daily_return"`
	Equity       float64   `db:"equity"`
	TradeCount   int64     `db:"trade_count"`
	AsOf         time.Time `db:"as_of"`
}

// UpsertPerformance writes one performance point per strategy per day.
func (r *StrategyRepo) UpsertPerformance(ctx context.Context, p PerformancePoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO strategy_performance (strategy_name, symbol, daily_return, equity, trade_count, as_of)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (strategy_name, symbol, as_of) DO UPDATE SET
			daily_return = EXCLUDED.daily_return,
			equity = EXCLUDED.equity,
			trade_count = EXCLUDED.trade_count`,
		p.StrategyName, p.Symbol, p.DailyReturn, p.Equity, p.TradeCount, p.AsOf)
	if err != nil {
		return fmt.Errorf("store: upserting performance for %s: %w", p.StrategyName, err)
	}
	return nil
}

// DailyReturns loads the daily return series for a strategy over the
// lookback window, oldest first.
func (r *StrategyRepo) DailyReturns(ctx context.Context, strategyName string, since time.Time) ([]float64, error) {
	var out []float64
	err := r.db.SelectContext(ctx, &out, `
		SELECT daily_return FROM strategy_performance
		WHERE strategy_name = $1 AND as_of >= $2
		ORDER BY as_of ASC`, strategyName, since)
	if err != nil {
		return nil, fmt.Errorf("store: loading returns for %s: %w", strategyName, err)
	}
	return out, nil
}

// ShadowList returns the ranked shadow evaluation entries.
func (r *StrategyRepo) ShadowList(ctx context.Context) ([]market.ShadowStock, error) {
	var rows []struct {
		Rank         int    `db:"rank"`
		Symbol       string `db:"symbol"`
		StrategyName string `db:"strategy_name"`
		Enabled      bool   `db:"enabled"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT rank, symbol, strategy_name, enabled
		FROM shadow_mode_stock ORDER BY rank ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: loading shadow list: %w", err)
	}

	out := make([]market.ShadowStock, len(rows))
	for i, row := range rows {
		out[i] = market.ShadowStock{
			Rank:         row.Rank,
			Symbol:       row.Symbol,
			StrategyName: row.StrategyName,
			Enabled:      row.Enabled,
		}
	}
	return out, nil
}

// ReplaceShadowList rewrites the ranked shadow evaluation entries in one
// transaction.
func (r *StrategyRepo) ReplaceShadowList(ctx context.Context, list []market.ShadowStock) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning shadow list replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM shadow_mode_stock`); err != nil {
		return fmt.Errorf("store: clearing shadow list: %w", err)
	}
	for _, s := range list {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shadow_mode_stock (rank, symbol, strategy_name, enabled)
			VALUES ($1, $2, $3, $4)`,
			s.Rank, s.Symbol, s.StrategyName, s.Enabled); err != nil {
			return fmt.Errorf("store: inserting shadow entry %s: %w", s.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing shadow list: %w", err)
	}
	return nil
}

// RecordShadowSelection appends the shadow strategy chosen by a swap.
func (r *StrategyRepo) RecordShadowSelection(ctx context.Context, symbol, strategyName string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO active_shadow_selection (symbol, strategy_name, selected_at)
		VALUES ($1, $2, now())`, symbol, strategyName)
	if err != nil {
		return fmt.Errorf("store: recording shadow selection: %w", err)
	}
	return nil
}

// UpsertStockMapping binds a strategy to a symbol.
func (r *StrategyRepo) UpsertStockMapping(ctx context.Context, strategyName, symbol string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO strategy_stock_mapping (strategy_name, symbol)
		VALUES ($1, $2) ON CONFLICT (strategy_name, symbol) DO NOTHING`,
		strategyName, symbol)
	if err != nil {
		return fmt.Errorf("store: upserting stock mapping: %w", err)
	}
	return nil
}
