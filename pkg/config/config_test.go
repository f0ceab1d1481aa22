package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
system:
  mode: simulation
database:
  name: trading
  user: trader
  password: secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "Asia/Taipei", cfg.System.Timezone)
	assert.Equal(t, "http://localhost:8888", cfg.Bridge.URL)
	assert.Equal(t, 100, cfg.Bridge.TickRingSize)
	assert.Equal(t, "2454.TW", cfg.Trading.ActiveStock)
	assert.Equal(t, "0.001425", cfg.Trading.FeeRate)
	assert.Equal(t, "0.003", cfg.Trading.SellTaxRate)
	assert.Equal(t, 0.15, cfg.Swap.MaxDrawdownPct)
	assert.Equal(t, 30, cfg.Swap.LookbackDays)
	assert.Equal(t, 200*time.Millisecond, cfg.Swap.SignalDeadline)
	assert.Equal(t, 45*time.Minute, cfg.Engine.MaxHoldingTime)
	assert.Equal(t, 30*time.Second, cfg.Engine.DrainTimeout)
	assert.Equal(t, 3, cfg.Execution.RetryAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Execution.TwapMinWindow)
	assert.Equal(t, 30*time.Minute, cfg.Execution.TwapMaxWindow)
	assert.Equal(t, 0.7, cfg.Execution.HistoricalBlend)
	assert.Equal(t, "half_kelly", cfg.Sizing.Method)
	assert.Equal(t, 0.10, cfg.Sizing.MaxPositionPct)
	assert.Equal(t, 10, cfg.Backtest.MinTrades)
	assert.Equal(t, 3.0, cfg.WalkFwd.TrainTestRatio)
	assert.Equal(t, 20, cfg.WalkFwd.StepDays)
	assert.Equal(t, 5000, cfg.History.QueueSize)
	assert.Equal(t, 1000, cfg.History.BatchSize)
	assert.Equal(t, 365, cfg.History.ChunkDays)
	assert.Equal(t, 5*time.Minute, cfg.History.WriterTimeout)
	assert.Equal(t, 10*time.Minute, cfg.GoLive.ConfirmWindow)
	assert.Equal(t, 500.0, cfg.Risk.FuturesStopLossPerContract)
	assert.Equal(t, 45, cfg.Risk.MaxHoldingMinutes)
	assert.Equal(t, 7, cfg.Risk.BlackoutRefreshDays)
	assert.Equal(t, "14:30", cfg.Session.EODStatsTime)
}

func TestMaxHoldingTimeDerivedFromRiskMinutes(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
risk:
  max_holding_minutes: 20
`))
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cfg.Engine.MaxHoldingTime)

	// An explicit engine duration wins over the derived value.
	cfg, err = Load(writeConfig(t, minimalYAML+`
risk:
  max_holding_minutes: 20
engine:
  max_holding_time: 1h
`))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Engine.MaxHoldingTime)
}

func TestParseHHMM(t *testing.T) {
	m, err := ParseHHMM("09:15")
	require.NoError(t, err)
	assert.Equal(t, 9*60+15, m)

	m, err = ParseHHMM("13:30")
	require.NoError(t, err)
	assert.Equal(t, 13*60+30, m)

	_, err = ParseHHMM("25:99")
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BRIDGE_URL", "http://bridge:9999")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("TRADING_MODE", "futures")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://bridge:9999", cfg.Bridge.URL)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "futures", cfg.Trading.Mode)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, "-100200300", cfg.Telegram.ChatID)
}

func TestLoadRejectsBadMode(t *testing.T) {
	_, err := Load(writeConfig(t, `
system:
  mode: paper
`))
	assert.Error(t, err)
}

func TestLoadRejectsBadTradingMode(t *testing.T) {
	_, err := Load(writeConfig(t, `
trading:
  mode: crypto
`))
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateStrategyNames(t *testing.T) {
	_, err := Load(writeConfig(t, `
strategies:
  - name: momentum-5m
    type: momentum
    enabled: true
  - name: momentum-5m
    type: mean_reversion
    enabled: true
`))
	assert.Error(t, err)
}

func TestValidateRejectsTwoMainStrategies(t *testing.T) {
	_, err := Load(writeConfig(t, `
strategies:
  - name: a
    type: momentum
    enabled: true
    is_main: true
  - name: b
    type: mean_reversion
    enabled: true
    is_main: true
`))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, Name: "n", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 dbname=n user=u password=p sslmode=disable", d.DSN())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
