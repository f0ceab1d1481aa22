package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// SystemConfigRepo is the key-value store backing process-wide runtime
// state that must survive restarts.
type SystemConfigRepo struct {
	db *sqlx.DB
}

// Get reads one key; ok=false when the key has never been set.
func (r *SystemConfigRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.GetContext(ctx, &v, `SELECT value FROM system_config WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: loading config key %s: %w", key, err)
	}
	return v, true, nil
}

// Set upserts one key.
func (r *SystemConfigRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: setting config key %s: %w", key, err)
	}
	return nil
}

// ActiveStock returns the persisted active symbol, falling back to the
// boot default when unset.
func (r *SystemConfigRepo) ActiveStock(ctx context.Context) (string, error) {
	v, ok, err := r.Get(ctx, market.ActiveStockKey)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return market.DefaultActiveStock, nil
	}
	return v, nil
}

// SetActiveStock persists the active symbol.
func (r *SystemConfigRepo) SetActiveStock(ctx context.Context, symbol string) error {
	return r.Set(ctx, market.ActiveStockKey, symbol)
}
