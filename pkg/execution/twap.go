package execution

import (
	"time"
)

// TWAP sizing thresholds: larger orders get more chunks.
const (
	twapMinQuantity = 100
	twapTier2       = 200
	twapTier3       = 500
)

// TWAPPlan describes evenly-spaced chunk execution over a window.
type TWAPPlan struct {
	Chunks  []int64
	Window  time.Duration
	Spacing time.Duration
}

// TotalQuantity returns the sum of all chunk quantities.
func (p TWAPPlan) TotalQuantity() int64 {
	var total int64
	for _, c := range p.Chunks {
		total += c
	}
	return total
}

// PlanTWAP slices quantity into evenly-spaced chunks over a window
// clamped to [10, 30] minutes.
func PlanTWAP(quantity int64, volatility float64) TWAPPlan {
	return PlanTWAPIn(quantity, volatility, 10*time.Minute, 30*time.Minute)
}

// PlanTWAPIn slices quantity into evenly-spaced chunks. The window grows
// with order size and widens by 5 minutes under high volatility, clamped
// to [minWindow, maxWindow]. The division remainder lands on the last
// chunk so chunk quantities always sum to the request.
func PlanTWAPIn(quantity int64, volatility float64, minWindow, maxWindow time.Duration) TWAPPlan {
	if minWindow <= 0 {
		minWindow = 10 * time.Minute
	}
	if maxWindow < minWindow {
		maxWindow = 30 * time.Minute
	}

	n := 3
	switch {
	case quantity >= twapTier3:
		n = 7
	case quantity >= twapTier2:
		n = 5
	}

	windowMin := 10 + 2*int(quantity/100)
	if volatility > 0.03 {
		windowMin += 5
	}
	if windowMin < int(minWindow/time.Minute) {
		windowMin = int(minWindow / time.Minute)
	}
	if windowMin > int(maxWindow/time.Minute) {
		windowMin = int(maxWindow / time.Minute)
	}

	base := quantity / int64(n)
	remainder := quantity % int64(n)

	chunks := make([]int64, n)
	for i := range chunks {
		chunks[i] = base
	}
	chunks[n-1] += remainder

	window := time.Duration(windowMin) * time.Minute
	return TWAPPlan{
		Chunks:  chunks,
		Window:  window,
		Spacing: window / time.Duration(n),
	}
}
