package indicators

import (
	"fmt"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// RSI is the Relative Strength Index over bar closes, 0-100, using
// Wilder's smoothing after the initial period.
type RSI struct {
	period    int
	avgGain   float64
	avgLoss   float64
	lastClose float64
	changes   int
	value     float64
	isInit    bool
}

// NewRSI creates an RSI over the given period. Non-positive periods fall
// back to 14.
func NewRSI(period int) *RSI {
	if period <= 0 {
		period = 14
	}
	return &RSI{period: period}
}

// Name returns the indicator name.
func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.period) }

// Update feeds one completed bar.
func (r *RSI) Update(bar market.Bar) {
	if bar.Close <= 0 {
		return
	}
	if !r.isInit {
		r.lastClose = bar.Close
		r.isInit = true
		return
	}

	change := bar.Close - r.lastClose
	r.lastClose = bar.Close

	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	r.changes++

	if r.changes <= r.period {
		// Cumulative simple average during the initial fill.
		n := float64(r.changes)
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	} else {
		r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	if r.avgLoss == 0 {
		r.value = 100.0
	} else {
		rs := r.avgGain / r.avgLoss
		r.value = 100.0 - 100.0/(1.0+rs)
	}
}

// Value returns the current RSI in [0, 100].
func (r *RSI) Value() float64 { return r.value }

// IsReady reports whether a full period of price changes has been seen.
func (r *RSI) IsReady() bool { return r.changes >= r.period }

// Reset clears all state.
func (r *RSI) Reset() {
	r.avgGain = 0
	r.avgLoss = 0
	r.lastClose = 0
	r.changes = 0
	r.value = 0
	r.isInit = false
}

// Period returns the configured period.
func (r *RSI) Period() int { return r.period }
