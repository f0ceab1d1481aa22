package strategy

import (
	"fmt"

	"github.com/yourusername/tw-trade-orchestrator/pkg/indicators"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

func init() {
	Register("momentum", NewMomentum)
}

// Momentum goes long on a fast/slow EMA crossover confirmed by RSI, and
// exits when the crossover reverses or RSI leaves the confirmation band.
//
// Parameters: fast_period (12), slow_period (26), rsi_period (14),
// rsi_floor (50), rsi_ceiling (80).
type Momentum struct {
	name   string
	symbol string

	fast *indicators.EMA
	slow *indicators.EMA
	rsi  *indicators.RSI

	rsiFloor   float64
	rsiCeiling float64
}

// NewMomentum builds a momentum instance.
func NewMomentum(name, symbol string, params map[string]interface{}) (Strategy, error) {
	fast := paramInt(params, "fast_period", 12)
	slow := paramInt(params, "slow_period", 26)
	if fast >= slow {
		return nil, fmt.Errorf("momentum: fast_period %d must be below slow_period %d", fast, slow)
	}
	return &Momentum{
		name:       name,
		symbol:     symbol,
		fast:       indicators.NewEMA(fast),
		slow:       indicators.NewEMA(slow),
		rsi:        indicators.NewRSI(paramInt(params, "rsi_period", 14)),
		rsiFloor:   paramFloat(params, "rsi_floor", 50),
		rsiCeiling: paramFloat(params, "rsi_ceiling", 80),
	}, nil
}

// Name returns the instance name.
func (m *Momentum) Name() string { return m.name }

// Type returns "momentum".
func (m *Momentum) Type() string { return "momentum" }

// Symbol returns the bound instrument.
func (m *Momentum) Symbol() string { return m.symbol }

// Execute consumes one bar and emits a signal.
func (m *Momentum) Execute(snap Snapshot, bar market.Bar) market.TradeSignal {
	m.fast.Update(bar)
	m.slow.Update(bar)
	m.rsi.Update(bar)

	sig := market.TradeSignal{
		Direction:    market.DirectionNeutral,
		StrategyName: m.name,
		Symbol:       bar.Symbol,
		Price:        bar.Close,
		Timestamp:    bar.Timestamp,
	}

	if !m.slow.IsReady() || !m.rsi.IsReady() {
		sig.Reason = "warming up"
		return sig
	}

	fastV, slowV, rsiV := m.fast.Value(), m.slow.Value(), m.rsi.Value()
	spread := (fastV - slowV) / slowV

	holding := !snap.Position.IsFlat()

	switch {
	case fastV > slowV && rsiV >= m.rsiFloor && rsiV < m.rsiCeiling && !holding:
		sig.Direction = market.DirectionLong
		sig.Confidence = clamp01(spread * 200)
		sig.Reason = fmt.Sprintf("fast EMA %.2f above slow %.2f, RSI %.1f", fastV, slowV, rsiV)

	case holding && (fastV < slowV || rsiV >= m.rsiCeiling):
		sig.Direction = market.DirectionExit
		sig.Confidence = 1
		sig.Reason = fmt.Sprintf("momentum faded, RSI %.1f", rsiV)

	default:
		sig.Reason = "no edge"
	}
	return sig
}

// Reset clears the indicator state.
func (m *Momentum) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.rsi.Reset()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
