package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// BarRepo persists and loads OHLCV bars.
type BarRepo struct {
	db *sqlx.DB
}

type barRow struct {
	Symbol    string    `db:"symbol"`
	Timeframe string    `db:"timeframe"`
	TS        time.Time `db:"ts"`
	Open      float64   `db:"open"`
	High      float64   `db:"high"`
	Low       float64   `db:"low"`
	Close     float64   `db:"close"`
	Volume    int64     `db:"volume"`
}

type marketDataRow struct {
	Symbol string    `db:"symbol"`
	Price  float64   `db:"price"`
	Volume int64     `db:"volume"`
	TS     time.Time `db:"ts"`
}

// marketDataRows projects bars onto flat market_data rows, one per bar
// at the close price. Bars without a positive close carry no usable
// price and are skipped.
func marketDataRows(bars []market.Bar) []marketDataRow {
	out := make([]marketDataRow, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		out = append(out, marketDataRow{
			Symbol: b.Symbol,
			Price:  b.Close,
			Volume: b.Volume,
			TS:     b.Timestamp,
		})
	}
	return out
}

// InsertBatch writes a batch of bars in one transaction. Each bar also
// lands as a flat market_data row at its close price. Conflicting
// (symbol, timeframe, ts) rows are overwritten so re-downloads are
// idempotent.
func (r *BarRepo) InsertBatch(ctx context.Context, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning bar batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO bar (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (:symbol, :timeframe, :ts, :open, :high, :low, :close, :volume)
		ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high,
			low = EXCLUDED.low, close = EXCLUDED.close,
			volume = EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("store: preparing bar insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		row := barRow{
			Symbol:    b.Symbol,
			Timeframe: string(b.Timeframe),
			TS:        b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("store: inserting bar %s@%s: %w", b.Symbol, b.Timestamp, err)
		}
	}

	mdStmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO market_data (symbol, price, volume, ts)
		VALUES (:symbol, :price, :volume, :ts)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			price = EXCLUDED.price, volume = EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("store: preparing market data insert: %w", err)
	}
	defer mdStmt.Close()

	for _, row := range marketDataRows(bars) {
		if _, err := mdStmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("store: inserting market data %s@%s: %w", row.Symbol, row.TS, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing bar batch: %w", err)
	}
	return nil
}

// Load returns bars for symbol/timeframe within [from, to], ordered by
// timestamp ascending.
func (r *BarRepo) Load(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]market.Bar, error) {
	var rows []barRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM bar
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC`,
		symbol, string(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("store: loading bars for %s: %w", symbol, err)
	}

	bars := make([]market.Bar, len(rows))
	for i, row := range rows {
		bars[i] = market.Bar{
			Symbol:     row.Symbol,
			Timeframe:  market.Timeframe(row.Timeframe),
			Timestamp:  row.TS,
			Open:       row.Open,
			High:       row.High,
			Low:        row.Low,
			Close:      row.Close,
			Volume:     row.Volume,
			IsComplete: true,
		}
	}
	return bars, nil
}

// Truncate clears every bar for symbol. The history ingestor calls this
// exactly once per run before reloading.
func (r *BarRepo) Truncate(ctx context.Context, symbol string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bar WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("store: truncating bars for %s: %w", symbol, err)
	}
	return nil
}

// Count returns the number of stored bars for symbol/timeframe.
func (r *BarRepo) Count(ctx context.Context, symbol string, tf market.Timeframe) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM bar WHERE symbol = $1 AND timeframe = $2`, symbol, string(tf))
	if err != nil {
		return 0, fmt.Errorf("store: counting bars for %s: %w", symbol, err)
	}
	return n, nil
}
