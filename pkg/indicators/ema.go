package indicators

import (
	"fmt"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// EMA is the exponential moving average of bar closes.
//
// Formula: EMA_t = α × Close_t + (1-α) × EMA_{t-1}
// where α = 2 / (period + 1).
type EMA struct {
	period  int
	alpha   float64
	ema     float64
	isFirst bool
}

// NewEMA creates an EMA over the given period. Non-positive periods fall
// back to 20.
func NewEMA(period int) *EMA {
	if period <= 0 {
		period = 20
	}
	return &EMA{
		period:  period,
		alpha:   2.0 / float64(period+1),
		isFirst: true,
	}
}

// Name returns the indicator name.
func (e *EMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }

// Update feeds one completed bar.
func (e *EMA) Update(bar market.Bar) {
	if bar.Close <= 0 {
		return
	}
	if e.isFirst {
		// First value seeds the EMA.
		e.ema = bar.Close
		e.isFirst = false
		return
	}
	e.ema = e.alpha*bar.Close + (1-e.alpha)*e.ema
}

// Value returns the current EMA.
func (e *EMA) Value() float64 { return e.ema }

// IsReady reports whether at least one bar has been seen.
func (e *EMA) IsReady() bool { return !e.isFirst }

// Reset clears all state.
func (e *EMA) Reset() {
	e.ema = 0
	e.isFirst = true
}

// Period returns the configured period.
func (e *EMA) Period() int { return e.period }
