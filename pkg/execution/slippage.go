// Package execution estimates transaction costs and routes orders to the
// bridge: immediate submission, TWAP slicing for large quantities, or
// deferral out of the volatile session windows.
package execution

import (
	"time"
)

// Slippage model constants, in basis points.
const (
	defaultBaseSlippageBps = 5.0
	volumeFactorMaxBps     = 15.0
	timeFactorBps          = 10.0
	sizeFactorUnitBps      = 5.0
	advThreshold           = 1_000_000.0
	sizeRatioBaseline      = 0.01
	defaultBlendWeight     = 0.70 // weight of the model estimate vs historical
)

// Default volatile windows, minutes since midnight exchange time.
const (
	defaultOpenStartMin  = 9 * 60
	defaultOpenEndMin    = 9*60 + 30
	defaultCloseStartMin = 13 * 60
	defaultCloseEndMin   = 13*60 + 30
)

// SlippageModel parameterizes the estimate. The zero value behaves like
// DefaultSlippageModel.
type SlippageModel struct {
	BaseBps         float64
	HistoricalBlend float64 // weight of the model estimate vs historical

	// Volatile session windows, minutes since midnight exchange time.
	// [OpenStart, OpenEnd) and [CloseStart, CloseEnd).
	OpenStartMin  int
	OpenEndMin    int
	CloseStartMin int
	CloseEndMin   int
}

// DefaultSlippageModel returns the stock model: 5 bps base, 70/30 blend,
// volatile windows [09:00, 09:30) and [13:00, 13:30).
func DefaultSlippageModel() SlippageModel {
	return SlippageModel{
		BaseBps:         defaultBaseSlippageBps,
		HistoricalBlend: defaultBlendWeight,
		OpenStartMin:    defaultOpenStartMin,
		OpenEndMin:      defaultOpenEndMin,
		CloseStartMin:   defaultCloseStartMin,
		CloseEndMin:     defaultCloseEndMin,
	}
}

func (m SlippageModel) withDefaults() SlippageModel {
	if m.BaseBps <= 0 {
		m.BaseBps = defaultBaseSlippageBps
	}
	if m.HistoricalBlend <= 0 || m.HistoricalBlend > 1 {
		m.HistoricalBlend = defaultBlendWeight
	}
	if m.OpenEndMin <= m.OpenStartMin {
		m.OpenStartMin, m.OpenEndMin = defaultOpenStartMin, defaultOpenEndMin
	}
	if m.CloseEndMin <= m.CloseStartMin {
		m.CloseStartMin, m.CloseEndMin = defaultCloseStartMin, defaultCloseEndMin
	}
	return m
}

// SlippageInput carries the context for one slippage estimate.
type SlippageInput struct {
	OrderSize float64 // shares or contracts
	ADV       float64 // average daily volume of the instrument
	Now       time.Time
	Location  *time.Location // exchange timezone

	// HistoricalBps is the realized average slippage for the symbol, when
	// available. HasHistorical gates the blend.
	HistoricalBps float64
	HasHistorical bool
}

// EstimateBps returns the expected slippage rate in basis points:
// base + volume factor + time-of-day factor + size factor, blended with
// the historical realized rate when one exists.
func (m SlippageModel) EstimateBps(in SlippageInput) float64 {
	m = m.withDefaults()
	total := m.BaseBps

	if in.ADV > 0 {
		ratio := in.ADV / advThreshold
		if ratio < 1 {
			total += volumeFactorMaxBps * (1 - ratio)
		}
	} else {
		// Unknown liquidity is treated as thin.
		total += volumeFactorMaxBps
	}

	if m.InVolatileWindow(in.Now, in.Location) {
		total += timeFactorBps
	}

	if in.ADV > 0 && in.OrderSize > 0 {
		excess := in.OrderSize/in.ADV - sizeRatioBaseline
		if excess > 0 {
			total += sizeFactorUnitBps * excess / sizeRatioBaseline
		}
	}

	if in.HasHistorical {
		return m.HistoricalBlend*total + (1-m.HistoricalBlend)*in.HistoricalBps
	}
	return total
}

// InVolatileWindow reports whether t falls in the opening or closing
// volatile window, exchange time.
func (m SlippageModel) InVolatileWindow(t time.Time, loc *time.Location) bool {
	m = m.withDefaults()
	if loc != nil {
		t = t.In(loc)
	}
	minutes := t.Hour()*60 + t.Minute()
	return (minutes >= m.OpenStartMin && minutes < m.OpenEndMin) ||
		(minutes >= m.CloseStartMin && minutes < m.CloseEndMin)
}

// volatileWindowEnd returns the end of the volatile window containing t.
// Callers must check InVolatileWindow first.
func (m SlippageModel) volatileWindowEnd(t time.Time) time.Time {
	m = m.withDefaults()
	minutes := t.Hour()*60 + t.Minute()
	endMin := m.CloseEndMin
	if minutes < m.CloseStartMin {
		endMin = m.OpenEndMin
	}
	return time.Date(t.Year(), t.Month(), t.Day(), endMin/60, endMin%60, 0, 0, t.Location())
}

// EstimateSlippageBps estimates with the default model.
func EstimateSlippageBps(in SlippageInput) float64 {
	return DefaultSlippageModel().EstimateBps(in)
}
