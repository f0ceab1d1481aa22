// Package backtest replays historical bars through a strategy with the
// live cost model applied, producing deterministic performance reports.
// The same ledger semantics as live trading keep fills, averaging and
// realized P&L identical between simulation and production.
package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/yourusername/tw-trade-orchestrator/pkg/execution"
	"github.com/yourusername/tw-trade-orchestrator/pkg/ledger"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/sizing"
	"github.com/yourusername/tw-trade-orchestrator/pkg/stats"
	"github.com/yourusername/tw-trade-orchestrator/pkg/strategy"
)

// Config parameterizes one backtest run.
type Config struct {
	Symbol         string
	InitialCapital float64
	RiskPct        float64
	MaxPositionPct float64
	StopLossPct    float64
	MaxHoldingTime time.Duration
	// SlippageBps > 0 forces a flat per-fill rate; at zero each fill is
	// estimated by Slippage from the bar's timestamp and volume.
	SlippageBps float64
	Slippage    execution.SlippageModel
	FeeRate     string // e.g. "0.001425"
	SellTaxRate string // e.g. "0.003"
	RoundLot    bool
	MinTrades   int // below this the result is flagged invalid
}

func (c *Config) applyDefaults() {
	if c.InitialCapital <= 0 {
		c.InitialCapital = 1_000_000
	}
	if c.RiskPct <= 0 {
		c.RiskPct = 0.10
	}
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = 0.10
	}
	if c.MaxHoldingTime <= 0 {
		c.MaxHoldingTime = 45 * time.Minute
	}
	if c.FeeRate == "" {
		c.FeeRate = "0.001425"
	}
	if c.SellTaxRate == "" {
		c.SellTaxRate = "0.003"
	}
	if c.MinTrades <= 0 {
		c.MinTrades = 10
	}
}

// TradeLog is one closed round trip in the replay.
type TradeLog struct {
	EntryTime  time.Time
	ExitTime   time.Time
	Quantity   int64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64 // net of fees, tax and slippage
	Reason     string
}

// Result is the deterministic report of one run.
type Result struct {
	Symbol       string
	Bars         int
	Trades       int
	Wins         int
	WinRate      float64
	NetPnL       float64
	TotalReturn  float64 // fraction of initial capital
	TotalCosts   float64
	Sharpe       float64
	Sortino      float64
	Calmar       float64
	MaxDrawdown  float64
	ProfitFactor float64
	EquityCurve  []float64
	DailyReturns []float64
	TradeLogs    []TradeLog
	Valid        bool // false when Trades < MinTrades
}

// Run replays bars through the strategy. Bars are sorted by timestamp
// before replay; running twice over the same inputs yields byte-identical
// results.
func Run(cfg Config, strat strategy.Strategy, bars []market.Bar) (Result, error) {
	cfg.applyDefaults()
	if strat == nil {
		return Result{}, fmt.Errorf("backtest: strategy is required")
	}
	if len(bars) == 0 {
		return Result{}, fmt.Errorf("backtest: no bars for %s", cfg.Symbol)
	}

	sorted := make([]market.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	costs, err := execution.NewCostModel(cfg.FeeRate, cfg.SellTaxRate)
	if err != nil {
		return Result{}, fmt.Errorf("backtest: cost model: %w", err)
	}

	strat.Reset()
	lg := ledger.New()

	res := Result{Symbol: cfg.Symbol, Bars: len(sorted)}
	equity := cfg.InitialCapital
	res.EquityCurve = append(res.EquityCurve, equity)

	var openLog *TradeLog
	var openCosts float64
	lastDay := sorted[0].Timestamp.Truncate(24 * time.Hour)
	dayStartEquity := equity

	// slipFor estimates the per-fill slippage rate with the bar's own
	// time and volume as context; the daily bar volume stands in for ADV.
	slipFor := func(qty int64, bar market.Bar) float64 {
		if cfg.SlippageBps > 0 {
			return cfg.SlippageBps
		}
		return cfg.Slippage.EstimateBps(execution.SlippageInput{
			OrderSize: float64(qty),
			ADV:       float64(bar.Volume),
			Now:       bar.Timestamp,
		})
	}

	closePosition := func(pos market.Position, bar market.Bar, reason string) {
		qty := pos.Quantity
		if qty == 0 {
			return
		}
		side := market.SideSell
		if qty < 0 {
			side = market.SideBuy
		}
		slip := slipFor(absQty(qty), bar)
		c := costs.Estimate(side, absQty(qty), bar.Close, slip)
		entry, _ := lg.Apply(market.Fill{
			OrderRef: fmt.Sprintf("bt-exit-%d", len(res.TradeLogs)), Symbol: pos.Symbol,
			Side: side, FilledQty: absQty(qty), FilledPrice: bar.Close,
			Timestamp: bar.Timestamp,
			Fees:      c.Fee.InexactFloat64(), Tax: c.Tax.InexactFloat64(), SlippageBps: slip,
		})
		total := openCosts + c.Total.InexactFloat64()
		res.TotalCosts += c.Total.InexactFloat64()
		if openLog != nil {
			openLog.ExitTime = bar.Timestamp
			openLog.ExitPrice = bar.Close
			openLog.PnL = entry.PnL - total
			openLog.Reason = reason
			res.TradeLogs = append(res.TradeLogs, *openLog)
			equity += openLog.PnL
			openLog = nil
			openCosts = 0
		}
	}

	for _, bar := range sorted {
		if bar.Symbol != cfg.Symbol {
			continue
		}
		pos := lg.Get(cfg.Symbol)
		snap := strategy.Snapshot{Equity: equity, Cash: equity, Position: pos}
		sig := strat.Execute(snap, bar)

		if !pos.IsFlat() {
			switch {
			case sig.Direction == market.DirectionExit:
				closePosition(pos, bar, "strategy exit")
			case pos.IsLong() && sig.Direction == market.DirectionShort,
				pos.IsShort() && sig.Direction == market.DirectionLong:
				closePosition(pos, bar, "signal reversal")
			case pos.EntryTime != nil && bar.Timestamp.Sub(*pos.EntryTime) > cfg.MaxHoldingTime:
				closePosition(pos, bar, "max holding time")
			case cfg.StopLossPct > 0 && pos.UnrealizedPnL(bar.Close) < -cfg.StopLossPct*equity:
				closePosition(pos, bar, "stop-loss")
			}
		} else if sig.Direction == market.DirectionLong || sig.Direction == market.DirectionShort {
			in := sizing.Input{
				Method:         sizing.MethodFixedRisk,
				Equity:         equity,
				Price:          bar.Close,
				RiskPct:        cfg.RiskPct,
				MaxPositionPct: cfg.MaxPositionPct,
				RoundLot:       cfg.RoundLot,
			}
			sized, err := sizing.Calculate(in)
			if err == nil && sized.Quantity >= 1 {
				side := market.SideBuy
				if sig.Direction == market.DirectionShort {
					side = market.SideSell
				}
				slip := slipFor(sized.Quantity, bar)
				c := costs.Estimate(side, sized.Quantity, bar.Close, slip)
				_, _ = lg.Apply(market.Fill{
					OrderRef: fmt.Sprintf("bt-entry-%d", len(res.TradeLogs)), Symbol: cfg.Symbol,
					Side: side, FilledQty: sized.Quantity, FilledPrice: bar.Close,
					Timestamp: bar.Timestamp,
					Fees:      c.Fee.InexactFloat64(), Tax: c.Tax.InexactFloat64(), SlippageBps: slip,
				})
				res.TotalCosts += c.Total.InexactFloat64()
				openCosts = c.Total.InexactFloat64()
				qty := sized.Quantity
				if side == market.SideSell {
					qty = -qty
				}
				openLog = &TradeLog{
					EntryTime:  bar.Timestamp,
					Quantity:   qty,
					EntryPrice: bar.Close,
				}
			}
		}

		// Mark equity to the bar close, realized plus open unrealized.
		mark := equity + lg.UnrealizedPnL(cfg.Symbol, bar.Close)
		res.EquityCurve = append(res.EquityCurve, mark)

		day := bar.Timestamp.Truncate(24 * time.Hour)
		if day.After(lastDay) {
			if dayStartEquity > 0 {
				res.DailyReturns = append(res.DailyReturns, (mark-dayStartEquity)/dayStartEquity)
			}
			lastDay = day
			dayStartEquity = mark
		}
	}

	// Force-close at the final bar so every run ends flat.
	final := sorted[len(sorted)-1]
	if pos := lg.Get(cfg.Symbol); !pos.IsFlat() {
		closePosition(pos, final, "end of data")
		res.EquityCurve = append(res.EquityCurve, equity)
	}

	res.Trades = len(res.TradeLogs)
	for _, tl := range res.TradeLogs {
		res.NetPnL += tl.PnL
		if tl.PnL > 0 {
			res.Wins++
		}
	}
	if res.Trades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.Trades)
	}
	res.TotalReturn = res.NetPnL / cfg.InitialCapital
	res.Sharpe = stats.SharpeRatio(res.DailyReturns)
	res.Sortino = stats.SortinoRatio(res.DailyReturns)
	res.Calmar = stats.CalmarRatio(res.DailyReturns, res.EquityCurve)
	res.MaxDrawdown = stats.MaxDrawdown(res.EquityCurve)
	pnls := make([]float64, len(res.TradeLogs))
	for i, tl := range res.TradeLogs {
		pnls[i] = tl.PnL
	}
	res.ProfitFactor = stats.ProfitFactor(pnls)
	res.Valid = res.Trades >= cfg.MinTrades
	return res, nil
}

func absQty(q int64) int64 {
	if q < 0 {
		return -q
	}
	return q
}
