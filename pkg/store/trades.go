package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// TradeRepo persists the audit trail: trades, signals, events, vetoes,
// insight records and daily statistics.
type TradeRepo struct {
	db *sqlx.DB
}

// TradeRecord is one persisted execution.
type TradeRecord struct {
	OrderRef    string
	Fill        market.Fill
	RealizedPnL *float64
	Reason      string
	IsSimulated bool
}

// InsertTrade writes one trade row.
func (r *TradeRepo) InsertTrade(ctx context.Context, rec TradeRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trade (order_ref, symbol, side, quantity, price, fees, tax,
			slippage_bps, realized_pnl, reason, is_simulated, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.OrderRef, rec.Fill.Symbol, string(rec.Fill.Side), rec.Fill.FilledQty,
		rec.Fill.FilledPrice, rec.Fill.Fees, rec.Fill.Tax, rec.Fill.SlippageBps,
		rec.RealizedPnL, rec.Reason, rec.IsSimulated, rec.Fill.Timestamp)
	if err != nil {
		return fmt.Errorf("store: inserting trade %s: %w", rec.OrderRef, err)
	}
	return nil
}

// InsertSignal writes one signal row. Every signal is persisted whether
// or not it was acted on.
func (r *TradeRepo) InsertSignal(ctx context.Context, s market.TradeSignal, acted bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signal (strategy_name, symbol, direction, confidence, price, reason, acted, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.StrategyName, s.Symbol, string(s.Direction), s.Confidence, s.Price, s.Reason, acted, s.Timestamp)
	if err != nil {
		return fmt.Errorf("store: inserting signal: %w", err)
	}
	return nil
}

// InsertVeto writes one veto event.
func (r *TradeRepo) InsertVeto(ctx context.Context, v market.VetoEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO veto_event (source, reason, affected_symbols, ts)
		VALUES ($1, $2, $3, $4)`,
		string(v.Source), v.Reason, strings.Join(v.AffectedSymbols, ","), v.Timestamp)
	if err != nil {
		return fmt.Errorf("store: inserting veto event: %w", err)
	}
	return nil
}

// InsertEvent writes one generic event row.
func (r *TradeRepo) InsertEvent(ctx context.Context, kind, payload string, ts time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event (kind, payload, ts) VALUES ($1, $2, $3)`, kind, payload, ts)
	if err != nil {
		return fmt.Errorf("store: inserting event %s: %w", kind, err)
	}
	return nil
}

// InsertInsight writes one enrichment record. Insights are write-only;
// nothing in the trading path reads them back.
func (r *TradeRepo) InsertInsight(ctx context.Context, in market.LlmInsight) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO llm_insight (insight_type, symbol, trade_id, signal_id, event_id,
			content, confidence, processing_time_ms, success, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		in.Type, in.Symbol, in.TradeID, in.SignalID, in.EventID,
		in.Content, in.Confidence, in.ProcessingTimeMs, in.Success, in.Timestamp)
	if err != nil {
		return fmt.Errorf("store: inserting llm insight: %w", err)
	}
	return nil
}

// HasRecentBlock reports whether a risk-block insight was recorded for
// symbol at or after since. Feeds the optional insight veto check.
func (r *TradeRepo) HasRecentBlock(ctx context.Context, symbol string, since time.Time) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM llm_insight
		WHERE insight_type = 'risk_block' AND symbol = $1 AND success AND ts >= $2`,
		symbol, since)
	if err != nil {
		return false, fmt.Errorf("store: checking insight blocks for %s: %w", symbol, err)
	}
	return n > 0, nil
}

// DailyStats is one end-of-day statistics row.
type DailyStats struct {
	Date          time.Time `db:"stat_date"`
	RealizedPnL   float64   `db:"realized_pnl"`
	UnrealizedPnL float64   `db:"unrealized_pnl"`
	Equity        float64   `db:"equity"`
	TradeCount    int64     `db:"trade_count"`
	WinCount      int64     `db:"win_count"`
}

// UpsertDailyStats writes or replaces the statistics row for one day.
func (r *TradeRepo) UpsertDailyStats(ctx context.Context, s DailyStats) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_statistics (stat_date, realized_pnl, unrealized_pnl, equity, trade_count, win_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stat_date) DO UPDATE SET
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			equity = EXCLUDED.equity,
			trade_count = EXCLUDED.trade_count,
			win_count = EXCLUDED.win_count`,
		s.Date, s.RealizedPnL, s.UnrealizedPnL, s.Equity, s.TradeCount, s.WinCount)
	if err != nil {
		return fmt.Errorf("store: upserting daily statistics: %w", err)
	}
	return nil
}

// TradeStatsSince aggregates trade count, win count and realized P&L for
// trades at or after t. Used for go-live eligibility.
func (r *TradeRepo) TradeStatsSince(ctx context.Context, t time.Time) (total, wins int64, realized float64, err error) {
	row := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE realized_pnl IS NOT NULL),
		       COUNT(*) FILTER (WHERE realized_pnl > 0),
		       COALESCE(SUM(realized_pnl), 0)
		FROM trade WHERE ts >= $1`, t)
	if scanErr := row.Scan(&total, &wins, &realized); scanErr != nil {
		return 0, 0, 0, fmt.Errorf("store: aggregating trade stats: %w", scanErr)
	}
	return total, wins, realized, nil
}
