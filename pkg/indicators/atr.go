package indicators

import (
	"fmt"
	"math"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// ATR is the Average True Range over completed bars, using Wilder's
// smoothing once the initial period has filled.
type ATR struct {
	period      int
	atr         float64
	prevClose   float64
	hasPrevious bool
	dataPoints  int
	trValues    []float64
}

// NewATR creates an ATR over the given period. Non-positive periods fall
// back to 14.
func NewATR(period int) *ATR {
	if period <= 0 {
		period = 14
	}
	return &ATR{
		period:   period,
		trValues: make([]float64, 0, period),
	}
}

// Name returns the indicator name.
func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }

// Update feeds one completed bar.
func (a *ATR) Update(bar market.Bar) {
	tr := a.trueRange(bar.High, bar.Low)

	a.trValues = append(a.trValues, tr)
	if len(a.trValues) > a.period {
		a.trValues = a.trValues[1:]
	}
	a.dataPoints++

	if a.dataPoints <= a.period {
		// Initial fill: simple average of the true ranges seen so far.
		sum := 0.0
		for _, v := range a.trValues {
			sum += v
		}
		a.atr = sum / float64(len(a.trValues))
	} else {
		// Wilder's smoothing: ATR = (prior ATR * (n-1) + TR) / n.
		a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
	}

	a.prevClose = bar.Close
	a.hasPrevious = true
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func (a *ATR) trueRange(high, low float64) float64 {
	if !a.hasPrevious {
		return high - low
	}
	tr := high - low
	if hc := math.Abs(high - a.prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(low - a.prevClose); lc > tr {
		tr = lc
	}
	return tr
}

// Value returns the current ATR.
func (a *ATR) Value() float64 { return a.atr }

// IsReady reports whether a full period of bars has been seen.
func (a *ATR) IsReady() bool { return a.dataPoints >= a.period }

// Reset clears all state.
func (a *ATR) Reset() {
	a.atr = 0
	a.prevClose = 0
	a.hasPrevious = false
	a.dataPoints = 0
	a.trValues = a.trValues[:0]
}

// Period returns the configured period.
func (a *ATR) Period() int { return a.period }
