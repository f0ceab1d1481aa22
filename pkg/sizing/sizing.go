// Package sizing turns a trade signal into a share quantity using one of
// three methods: half-Kelly, ATR risk budgeting, or fixed fractional risk.
// Every result is capped at a fraction of equity and rounded down to the
// Taiwan round lot when requested.
package sizing

import (
	"fmt"
	"math"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// Method selects the sizing algorithm.
type Method string

const (
	MethodHalfKelly Method = "half_kelly"
	MethodATR       Method = "atr"
	MethodFixedRisk Method = "fixed_risk"
)

// Input carries everything a sizing decision needs.
type Input struct {
	Method Method
	Equity float64 // current account equity
	Price  float64 // current price of the instrument

	// Half-Kelly inputs, from recent strategy performance.
	WinRate    float64 // p in [0, 1]
	PayoffRatio float64 // b = avg win / avg loss

	// ATR inputs.
	ATR           float64
	ATRMultiplier float64

	// Shared knobs.
	RiskPct        float64 // per-trade risk fraction of equity
	KellyCapPct    float64 // upper bound on the Kelly fraction
	MaxPositionPct float64 // notional cap as a fraction of equity
	RoundLot       bool    // round down to multiples of the round lot
}

// Result is the sizing decision. Quantity == 0 means skip the trade.
type Result struct {
	Quantity int64
	LotType  market.LotType
	Fraction float64 // capital fraction implied by the method, pre-cap
}

// Calculate sizes a position. It returns an error only on invalid input;
// an affordable-but-tiny position comes back as Quantity 0.
func Calculate(in Input) (Result, error) {
	if in.Equity <= 0 {
		return Result{}, fmt.Errorf("sizing: equity must be positive, got %.2f", in.Equity)
	}
	if in.Price <= 0 {
		return Result{}, fmt.Errorf("sizing: price must be positive, got %.2f", in.Price)
	}

	var shares int64
	var fraction float64

	switch in.Method {
	case MethodHalfKelly:
		fraction = kellyFraction(in.WinRate, in.PayoffRatio, in.KellyCapPct)
		// Half-Kelly: trade at half the full-Kelly fraction.
		shares = int64(math.Floor(in.Equity * fraction / in.Price / 2))

	case MethodATR:
		if in.ATR <= 0 || in.ATRMultiplier <= 0 {
			return Result{}, fmt.Errorf("sizing: atr method requires positive ATR and multiplier")
		}
		riskPerShare := in.ATR * in.ATRMultiplier
		shares = int64(math.Floor(in.Equity * in.RiskPct / riskPerShare))
		fraction = float64(shares) * in.Price / in.Equity

	case MethodFixedRisk:
		shares = int64(math.Floor(in.Equity * in.RiskPct / in.Price))
		fraction = in.RiskPct

	default:
		return Result{}, fmt.Errorf("sizing: unknown method %q", in.Method)
	}

	// Notional cap against equity.
	maxPct := in.MaxPositionPct
	if maxPct <= 0 {
		maxPct = 0.10
	}
	maxShares := int64(math.Floor(in.Equity * maxPct / in.Price))
	if shares > maxShares {
		shares = maxShares
	}

	lotType := market.LotTypeOdd
	if in.RoundLot {
		shares = (shares / market.RoundLotSize) * market.RoundLotSize
		lotType = market.LotTypeRound
	}

	if shares < 1 {
		return Result{Quantity: 0, LotType: lotType, Fraction: fraction}, nil
	}
	return Result{Quantity: shares, LotType: lotType, Fraction: fraction}, nil
}

// kellyFraction computes the capped full-Kelly fraction
// f* = (b*p - q) / b with q = 1 - p, floored at zero.
func kellyFraction(p, b, cap float64) float64 {
	if b <= 0 {
		return 0
	}
	if cap <= 0 {
		cap = 0.25
	}
	f := (b*p - (1 - p)) / b
	if f < 0 {
		return 0
	}
	if f > cap {
		return cap
	}
	return f
}
