package strategy

import (
	"fmt"

	"github.com/yourusername/tw-trade-orchestrator/pkg/indicators"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

func init() {
	Register("mean_reversion", NewMeanReversion)
}

// MeanReversion buys dips below an SMA band and exits when price reverts
// to the mean. The band width scales with ATR.
//
// Parameters: sma_period (20), atr_period (14), entry_band (2.0),
// exit_band (0.5).
type MeanReversion struct {
	name   string
	symbol string

	sma *indicators.SMA
	atr *indicators.ATR

	entryBand float64
	exitBand  float64
}

// NewMeanReversion builds a mean-reversion instance.
func NewMeanReversion(name, symbol string, params map[string]interface{}) (Strategy, error) {
	entry := paramFloat(params, "entry_band", 2.0)
	exit := paramFloat(params, "exit_band", 0.5)
	if exit >= entry {
		return nil, fmt.Errorf("mean_reversion: exit_band %.2f must be below entry_band %.2f", exit, entry)
	}
	return &MeanReversion{
		name:      name,
		symbol:    symbol,
		sma:       indicators.NewSMA(paramInt(params, "sma_period", 20)),
		atr:       indicators.NewATR(paramInt(params, "atr_period", 14)),
		entryBand: entry,
		exitBand:  exit,
	}, nil
}

// Name returns the instance name.
func (m *MeanReversion) Name() string { return m.name }

// Type returns "mean_reversion".
func (m *MeanReversion) Type() string { return "mean_reversion" }

// Symbol returns the bound instrument.
func (m *MeanReversion) Symbol() string { return m.symbol }

// Execute consumes one bar and emits a signal.
func (m *MeanReversion) Execute(snap Snapshot, bar market.Bar) market.TradeSignal {
	m.sma.Update(bar)
	m.atr.Update(bar)

	sig := market.TradeSignal{
		Direction:    market.DirectionNeutral,
		StrategyName: m.name,
		Symbol:       bar.Symbol,
		Price:        bar.Close,
		Timestamp:    bar.Timestamp,
	}

	if !m.sma.IsReady() || !m.atr.IsReady() || m.atr.Value() <= 0 {
		sig.Reason = "warming up"
		return sig
	}

	mean := m.sma.Value()
	dev := (bar.Close - mean) / m.atr.Value()
	holding := !snap.Position.IsFlat()

	switch {
	case !holding && dev <= -m.entryBand:
		sig.Direction = market.DirectionLong
		sig.Confidence = clamp01((-dev - m.entryBand) / m.entryBand)
		if sig.Confidence < 0.5 {
			sig.Confidence = 0.5
		}
		sig.Reason = fmt.Sprintf("price %.2f is %.1f ATR below mean %.2f", bar.Close, -dev, mean)

	case holding && dev >= -m.exitBand:
		sig.Direction = market.DirectionExit
		sig.Confidence = 1
		sig.Reason = fmt.Sprintf("price reverted to %.1f ATR of mean", dev)

	default:
		sig.Reason = "inside band"
	}
	return sig
}

// Reset clears the indicator state.
func (m *MeanReversion) Reset() {
	m.sma.Reset()
	m.atr.Reset()
}
