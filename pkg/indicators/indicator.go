// Package indicators provides incremental technical indicators driven by
// completed OHLCV bars. Each indicator is updated once per bar and exposes
// its current value plus a readiness flag.
package indicators

import (
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// Indicator is the contract every bar-driven indicator satisfies.
type Indicator interface {
	// Name returns the indicator name, e.g. "EMA(20)".
	Name() string
	// Update feeds one completed bar into the indicator.
	Update(bar market.Bar)
	// Value returns the current indicator value. Meaningless until IsReady.
	Value() float64
	// IsReady reports whether enough bars have been seen.
	IsReady() bool
	// Reset clears all state.
	Reset()
}
