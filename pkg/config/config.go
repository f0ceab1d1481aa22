// Package config loads the orchestrator configuration from a YAML file,
// applies environment overrides, and validates it with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for the orchestrator.
type Config struct {
	System     SystemConfig     `yaml:"system"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Database   DatabaseConfig   `yaml:"database"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	LLM        LLMConfig        `yaml:"llm"`
	Trading    TradingConfig    `yaml:"trading"`
	Risk       RiskConfig       `yaml:"risk"`
	Session    SessionConfig    `yaml:"session"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Swap       SwapConfig       `yaml:"swap"`
	Engine     EngineConfig     `yaml:"engine"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Sizing     SizingConfig     `yaml:"sizing"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	WalkFwd    WalkForwardConfig `yaml:"walk_forward"`
	History    HistoryConfig    `yaml:"history"`
	GoLive     GoLiveConfig     `yaml:"go_live"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SystemConfig contains process-level settings.
type SystemConfig struct {
	Mode     string `yaml:"mode"`     // simulation, live
	Timezone string `yaml:"timezone"` // e.g. "Asia/Taipei"
}

// BridgeConfig configures the brokerage bridge HTTP client.
type BridgeConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TickRingSize   int           `yaml:"tick_ring_size"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// TelegramConfig configures the Telegram bot transport.
type TelegramConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BotToken    string        `yaml:"bot_token"`
	ChatID      string        `yaml:"chat_id"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// LLMConfig configures the optional insight sink.
type LLMConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TradingConfig contains the instrument universe settings.
type TradingConfig struct {
	Mode           string  `yaml:"mode"`         // stock, futures, stock_and_futures
	ActiveStock    string  `yaml:"active_stock"` // boot default; DB value wins
	FuturesSymbol  string  `yaml:"futures_symbol"`
	InitialCapital float64 `yaml:"initial_capital"`
	FeeRate        string  `yaml:"fee_rate"`      // decimal string, e.g. "0.001425"
	SellTaxRate    string  `yaml:"sell_tax_rate"` // decimal string, e.g. "0.003"
}

// RiskConfig contains the gatekeeper thresholds.
type RiskConfig struct {
	DailyLossLimit             float64 `yaml:"daily_loss_limit"`
	WeeklyLossLimit            float64 `yaml:"weekly_loss_limit"`
	StopLossPct                float64 `yaml:"stop_loss_pct"`
	FuturesStopLossPerContract float64 `yaml:"futures_stop_loss_per_contract"`
	MaxHoldingMinutes          int     `yaml:"max_holding_minutes"`
	NewsVetoEnabled            bool    `yaml:"news_veto_enabled"`
	LlmVetoEnabled             bool    `yaml:"llm_veto_enabled"`
	BlackoutRefreshDays        int     `yaml:"blackout_refresh_days"` // earnings calendar TTL
}

// SessionConfig defines the Taiwan trading session windows.
type SessionConfig struct {
	MarketOpen    string `yaml:"market_open"`    // HH:MM
	MarketClose   string `yaml:"market_close"`   // HH:MM
	OpeningEnd    string `yaml:"opening_end"`    // end of volatile opening window
	ClosingStart  string `yaml:"closing_start"`  // start of volatile closing window
	EODStatsTime  string `yaml:"eod_stats_time"` // HH:MM, weekdays
}

// StrategyConfig is one strategy binding: main or shadow.
type StrategyConfig struct {
	Name       string                 `yaml:"name"`
	Type       string                 `yaml:"type"`
	Symbol     string                 `yaml:"symbol"`
	Enabled    bool                   `yaml:"enabled"`
	IsMain     bool                   `yaml:"is_main"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

// SwapConfig controls the drawdown-triggered strategy hot-swap.
type SwapConfig struct {
	MaxDrawdownPct   float64       `yaml:"max_drawdown_pct"`   // swap trigger
	LookbackDays     int           `yaml:"lookback_days"`      // Sharpe ranking window
	CheckInterval    time.Duration `yaml:"check_interval"`     // drawdown poll
	SignalDeadline   time.Duration `yaml:"signal_deadline"`    // per-strategy evaluation budget
}

// EngineConfig controls the trading engine loop.
type EngineConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	MaxHoldingTime  time.Duration `yaml:"max_holding_time"` // hard exit
	DrainTimeout    time.Duration `yaml:"drain_timeout"`    // shutdown grace
}

// ExecutionConfig controls routing, TWAP and retries.
type ExecutionConfig struct {
	TwapMinWindow    time.Duration `yaml:"twap_min_window"`
	TwapMaxWindow    time.Duration `yaml:"twap_max_window"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	DelayedHoldTime  time.Duration `yaml:"delayed_hold_time"`
	BaseSlippageBps  float64       `yaml:"base_slippage_bps"`
	HistoricalBlend  float64       `yaml:"historical_blend"` // weight of model estimate
}

// SizingConfig controls position sizing.
type SizingConfig struct {
	Method         string  `yaml:"method"` // half_kelly, atr, fixed_risk
	RiskPct        float64 `yaml:"risk_pct"`
	KellyCapPct    float64 `yaml:"kelly_cap_pct"`
	ATRMultiplier  float64 `yaml:"atr_multiplier"`
	MaxPositionPct float64 `yaml:"max_position_pct"` // notional cap vs equity
}

// BacktestConfig controls backtest runs.
type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	MinTrades      int     `yaml:"min_trades"`
}

// WalkForwardConfig controls walk-forward optimization.
type WalkForwardConfig struct {
	TrainTestRatio float64 `yaml:"train_test_ratio"` // train:test, e.g. 3.0
	StepDays       int     `yaml:"step_days"`
	MinTestDays    int     `yaml:"min_test_days"`
	MaxParallel    int     `yaml:"max_parallel"`
}

// HistoryConfig controls the history ingestor.
type HistoryConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	BatchSize       int           `yaml:"batch_size"`
	ChunkDays       int           `yaml:"chunk_days"`
	WriterTimeout   time.Duration `yaml:"writer_timeout"`
	ProducerWorkers int           `yaml:"producer_workers"`
}

// GoLiveConfig controls the simulation-to-live promotion flow.
type GoLiveConfig struct {
	ConfirmWindow   time.Duration `yaml:"confirm_window"`
	MinBacktestDays int           `yaml:"min_backtest_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the zap logger and file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environment variables win over the
// YAML file for secrets and endpoints.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Database.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		c.Trading.Mode = v
	}
	if v := os.Getenv("TZ"); v != "" {
		c.System.Timezone = v
	}
}

// Validate checks invariants and fills defaults.
func (c *Config) Validate() error {
	if c.System.Mode == "" {
		c.System.Mode = "simulation"
	}
	if c.System.Mode != "simulation" && c.System.Mode != "live" {
		return fmt.Errorf("system.mode must be 'simulation' or 'live', got %q", c.System.Mode)
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Asia/Taipei"
	}

	if c.Bridge.URL == "" {
		c.Bridge.URL = "http://localhost:8888"
	}
	if c.Bridge.RequestTimeout == 0 {
		c.Bridge.RequestTimeout = 10 * time.Second
	}
	if c.Bridge.TickRingSize == 0 {
		c.Bridge.TickRingSize = 100
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}

	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 30 * time.Second
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}

	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = 15 * time.Second
	}

	switch c.Trading.Mode {
	case "":
		c.Trading.Mode = "stock"
	case "stock", "futures", "stock_and_futures":
	default:
		return fmt.Errorf("trading.mode must be 'stock', 'futures' or 'stock_and_futures', got %q", c.Trading.Mode)
	}
	if c.Trading.ActiveStock == "" {
		c.Trading.ActiveStock = "2454.TW"
	}
	if c.Trading.InitialCapital <= 0 {
		c.Trading.InitialCapital = 1_000_000
	}
	if c.Trading.FeeRate == "" {
		c.Trading.FeeRate = "0.001425"
	}
	if c.Trading.SellTaxRate == "" {
		c.Trading.SellTaxRate = "0.003"
	}

	if c.Risk.DailyLossLimit <= 0 {
		c.Risk.DailyLossLimit = 0.03
	}
	if c.Risk.WeeklyLossLimit <= 0 {
		c.Risk.WeeklyLossLimit = 0.08
	}
	if c.Risk.StopLossPct <= 0 {
		c.Risk.StopLossPct = 0.02
	}
	if c.Risk.FuturesStopLossPerContract <= 0 {
		c.Risk.FuturesStopLossPerContract = 500
	}
	if c.Risk.MaxHoldingMinutes <= 0 {
		c.Risk.MaxHoldingMinutes = 45
	}
	if c.Risk.BlackoutRefreshDays <= 0 {
		c.Risk.BlackoutRefreshDays = 7
	}

	if c.Session.MarketOpen == "" {
		c.Session.MarketOpen = "09:00"
	}
	if c.Session.MarketClose == "" {
		c.Session.MarketClose = "13:30"
	}
	if c.Session.OpeningEnd == "" {
		c.Session.OpeningEnd = "09:30"
	}
	if c.Session.ClosingStart == "" {
		c.Session.ClosingStart = "13:00"
	}
	if c.Session.EODStatsTime == "" {
		c.Session.EODStatsTime = "14:30"
	}

	mainCount := 0
	names := make(map[string]bool)
	for i, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategies[%d].name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate strategy name %q", s.Name)
		}
		names[s.Name] = true
		if s.IsMain && s.Enabled {
			mainCount++
		}
	}
	if mainCount > 1 {
		return fmt.Errorf("at most one enabled strategy may be main, got %d", mainCount)
	}

	if c.Swap.MaxDrawdownPct <= 0 {
		c.Swap.MaxDrawdownPct = 0.15
	}
	if c.Swap.LookbackDays == 0 {
		c.Swap.LookbackDays = 30
	}
	if c.Swap.CheckInterval == 0 {
		c.Swap.CheckInterval = 5 * time.Minute
	}
	if c.Swap.SignalDeadline == 0 {
		c.Swap.SignalDeadline = 200 * time.Millisecond
	}

	if c.Engine.TickInterval == 0 {
		c.Engine.TickInterval = time.Second
	}
	// The holding limit is expressed in minutes under risk; the engine
	// duration is derived from it unless pinned explicitly.
	if c.Engine.MaxHoldingTime == 0 {
		c.Engine.MaxHoldingTime = time.Duration(c.Risk.MaxHoldingMinutes) * time.Minute
	}
	if c.Engine.DrainTimeout == 0 {
		c.Engine.DrainTimeout = 30 * time.Second
	}

	if c.Execution.TwapMinWindow == 0 {
		c.Execution.TwapMinWindow = 10 * time.Minute
	}
	if c.Execution.TwapMaxWindow == 0 {
		c.Execution.TwapMaxWindow = 30 * time.Minute
	}
	if c.Execution.RetryAttempts == 0 {
		c.Execution.RetryAttempts = 3
	}
	if c.Execution.RetryBackoffBase == 0 {
		c.Execution.RetryBackoffBase = time.Second
	}
	if c.Execution.DelayedHoldTime == 0 {
		c.Execution.DelayedHoldTime = 5 * time.Minute
	}
	if c.Execution.BaseSlippageBps == 0 {
		c.Execution.BaseSlippageBps = 5
	}
	if c.Execution.HistoricalBlend == 0 {
		c.Execution.HistoricalBlend = 0.7
	}

	if c.Sizing.Method == "" {
		c.Sizing.Method = "half_kelly"
	}
	switch c.Sizing.Method {
	case "half_kelly", "atr", "fixed_risk":
	default:
		return fmt.Errorf("sizing.method must be 'half_kelly', 'atr' or 'fixed_risk', got %q", c.Sizing.Method)
	}
	if c.Sizing.RiskPct <= 0 {
		c.Sizing.RiskPct = 0.01
	}
	if c.Sizing.KellyCapPct <= 0 {
		c.Sizing.KellyCapPct = 0.25
	}
	if c.Sizing.ATRMultiplier <= 0 {
		c.Sizing.ATRMultiplier = 2.0
	}
	if c.Sizing.MaxPositionPct <= 0 {
		c.Sizing.MaxPositionPct = 0.10
	}

	if c.Backtest.InitialCapital <= 0 {
		c.Backtest.InitialCapital = 1_000_000
	}
	if c.Backtest.MinTrades == 0 {
		c.Backtest.MinTrades = 10
	}

	if c.WalkFwd.TrainTestRatio <= 0 {
		c.WalkFwd.TrainTestRatio = 3.0
	}
	if c.WalkFwd.StepDays == 0 {
		c.WalkFwd.StepDays = 20
	}
	if c.WalkFwd.MinTestDays == 0 {
		c.WalkFwd.MinTestDays = 20
	}
	if c.WalkFwd.MaxParallel == 0 {
		c.WalkFwd.MaxParallel = 4
	}

	if c.History.QueueSize == 0 {
		c.History.QueueSize = 5000
	}
	if c.History.BatchSize == 0 {
		c.History.BatchSize = 1000
	}
	if c.History.ChunkDays == 0 {
		c.History.ChunkDays = 365
	}
	if c.History.WriterTimeout == 0 {
		c.History.WriterTimeout = 5 * time.Minute
	}
	if c.History.ProducerWorkers == 0 {
		c.History.ProducerWorkers = 3
	}

	if c.GoLive.ConfirmWindow == 0 {
		c.GoLive.ConfirmWindow = 10 * time.Minute
	}
	if c.GoLive.MinBacktestDays == 0 {
		c.GoLive.MinBacktestDays = 30
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 10
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}

	return nil
}

// ParseHHMM converts a session clock string like "09:15" into minutes
// since midnight.
func ParseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.System.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.System.Timezone, err)
	}
	return loc, nil
}
