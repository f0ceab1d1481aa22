package indicators

import (
	"fmt"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// SMA is the simple moving average of bar closes over a fixed window.
type SMA struct {
	period int
	window []float64
	sum    float64
}

// NewSMA creates an SMA over the given period. Non-positive periods fall
// back to 20.
func NewSMA(period int) *SMA {
	if period <= 0 {
		period = 20
	}
	return &SMA{
		period: period,
		window: make([]float64, 0, period),
	}
}

// Name returns the indicator name.
func (s *SMA) Name() string { return fmt.Sprintf("SMA(%d)", s.period) }

// Update feeds one completed bar.
func (s *SMA) Update(bar market.Bar) {
	if bar.Close <= 0 {
		return
	}
	s.window = append(s.window, bar.Close)
	s.sum += bar.Close
	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
}

// Value returns the average over the current window.
func (s *SMA) Value() float64 {
	if len(s.window) == 0 {
		return 0
	}
	return s.sum / float64(len(s.window))
}

// IsReady reports whether a full window has been seen.
func (s *SMA) IsReady() bool { return len(s.window) >= s.period }

// Reset clears all state.
func (s *SMA) Reset() {
	s.window = s.window[:0]
	s.sum = 0
}

// Period returns the configured period.
func (s *SMA) Period() int { return s.period }
