package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SettingsRepo persists per-stock settings, risk overrides, earnings
// blackout dates, news and economic events.
type SettingsRepo struct {
	db *sqlx.DB
}

// StockSettings are per-symbol trading parameters.
type StockSettings struct {
	Symbol                string          `db:"symbol"`
	ADV                   int64           `db:"adv"`
	LotMode               string          `db:"lot_mode"`
	HistoricalSlippageBps sql.NullFloat64 `db:"historical_slippage_bps"`
}

// GetStockSettings loads the settings for symbol, ok=false when absent.
func (r *SettingsRepo) GetStockSettings(ctx context.Context, symbol string) (StockSettings, bool, error) {
	var out StockSettings
	err := r.db.GetContext(ctx, &out, `
		SELECT symbol, adv, lot_mode, historical_slippage_bps
		FROM stock_settings WHERE symbol = $1`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return StockSettings{}, false, nil
	}
	if err != nil {
		return StockSettings{}, false, fmt.Errorf("store: loading stock settings for %s: %w", symbol, err)
	}
	return out, true, nil
}

// UpsertStockSettings writes the settings row for one symbol.
func (r *SettingsRepo) UpsertStockSettings(ctx context.Context, s StockSettings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_settings (symbol, adv, lot_mode, historical_slippage_bps)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET
			adv = EXCLUDED.adv,
			lot_mode = EXCLUDED.lot_mode,
			historical_slippage_bps = EXCLUDED.historical_slippage_bps`,
		s.Symbol, s.ADV, s.LotMode, s.HistoricalSlippageBps)
	if err != nil {
		return fmt.Errorf("store: upserting stock settings for %s: %w", s.Symbol, err)
	}
	return nil
}

// GetRiskSetting reads one numeric risk override; ok=false when unset.
func (r *SettingsRepo) GetRiskSetting(ctx context.Context, key string) (float64, bool, error) {
	var v float64
	err := r.db.GetContext(ctx, &v, `SELECT value FROM risk_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: loading risk setting %s: %w", key, err)
	}
	return v, true, nil
}

// SetRiskSetting writes one numeric risk override.
func (r *SettingsRepo) SetRiskSetting(ctx context.Context, key string, value float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO risk_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: setting risk setting %s: %w", key, err)
	}
	return nil
}

// ReplaceBlackoutDates replaces the earnings blackout calendar for
// symbol and stamps the refresh time.
func (r *SettingsRepo) ReplaceBlackoutDates(ctx context.Context, symbol string, dates []time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning blackout replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM earnings_blackout_date WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("store: clearing blackout dates for %s: %w", symbol, err)
	}
	for _, d := range dates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO earnings_blackout_date (symbol, blackout_date)
			VALUES ($1, $2) ON CONFLICT (symbol, blackout_date) DO NOTHING`,
			symbol, d); err != nil {
			return fmt.Errorf("store: inserting blackout date for %s: %w", symbol, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO earnings_blackout_meta (symbol, refreshed_at) VALUES ($1, now())
		ON CONFLICT (symbol) DO UPDATE SET refreshed_at = now()`, symbol); err != nil {
		return fmt.Errorf("store: stamping blackout refresh for %s: %w", symbol, err)
	}
	return tx.Commit()
}

// BlackoutRefreshedAt returns the last blackout-calendar refresh time
// for symbol, ok=false when the calendar was never loaded.
func (r *SettingsRepo) BlackoutRefreshedAt(ctx context.Context, symbol string) (time.Time, bool, error) {
	var t time.Time
	err := r.db.GetContext(ctx, &t,
		`SELECT refreshed_at FROM earnings_blackout_meta WHERE symbol = $1`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: loading blackout refresh for %s: %w", symbol, err)
	}
	return t, true, nil
}

// IsBlackoutDate reports whether day falls in the earnings blackout
// calendar for symbol.
func (r *SettingsRepo) IsBlackoutDate(ctx context.Context, symbol string, day time.Time) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM earnings_blackout_date
		WHERE symbol = $1 AND blackout_date = $2::date`, symbol, day)
	if err != nil {
		return false, fmt.Errorf("store: checking blackout for %s: %w", symbol, err)
	}
	return n > 0, nil
}

// InsertNews stores one economic news headline.
func (r *SettingsRepo) InsertNews(ctx context.Context, headline, severity, symbols string, publishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO economic_news (headline, severity, symbols, published_at)
		VALUES ($1, $2, $3, $4)`, headline, severity, symbols, publishedAt)
	if err != nil {
		return fmt.Errorf("store: inserting news: %w", err)
	}
	return nil
}

// RecentHighSeverityNews counts high-severity headlines published at or
// after t that mention symbol.
func (r *SettingsRepo) RecentHighSeverityNews(ctx context.Context, symbol string, t time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM economic_news
		WHERE severity = 'high' AND published_at >= $1 AND symbols LIKE '%' || $2 || '%'`,
		t, symbol)
	if err != nil {
		return 0, fmt.Errorf("store: counting high-severity news: %w", err)
	}
	return n, nil
}

// InsertEconomicEvent stores one calendar event.
func (r *SettingsRepo) InsertEconomicEvent(ctx context.Context, name, impact string, date time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO economic_event (name, impact, event_date) VALUES ($1, $2, $3)`,
		name, impact, date)
	if err != nil {
		return fmt.Errorf("store: inserting economic event: %w", err)
	}
	return nil
}

// CleanupOldEconomicEvents removes events older than the cutoff. The
// monthly maintenance task passes now minus two years.
func (r *SettingsRepo) CleanupOldEconomicEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM economic_event WHERE event_date < $1::date`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleaning economic events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpsertFundamental writes one fundamental metric observation.
func (r *SettingsRepo) UpsertFundamental(ctx context.Context, symbol, metric string, value float64, asOf time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fundamental_data (symbol, metric, value, as_of)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, metric, as_of) DO UPDATE SET value = EXCLUDED.value`,
		symbol, metric, value, asOf)
	if err != nil {
		return fmt.Errorf("store: upserting fundamental %s/%s: %w", symbol, metric, err)
	}
	return nil
}
