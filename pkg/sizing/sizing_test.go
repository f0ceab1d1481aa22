package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

func TestHalfKellySizing(t *testing.T) {
	// p=0.6, b=2: f* = (2*0.6 - 0.4)/2 = 0.4, capped at 0.25.
	// Half-Kelly shares = floor(1,000,000 * 0.25 / 100 / 2) = 1250.
	res, err := Calculate(Input{
		Method:         MethodHalfKelly,
		Equity:         1_000_000,
		Price:          100,
		WinRate:        0.6,
		PayoffRatio:    2.0,
		KellyCapPct:    0.25,
		MaxPositionPct: 0.10,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.25, res.Fraction)
	// Notional cap: floor(1,000,000 * 0.10 / 100) = 1000 shares.
	assert.Equal(t, int64(1000), res.Quantity)
}

func TestNegativeEdgeKellyIsZero(t *testing.T) {
	// p=0.3, b=1: f* = (0.3 - 0.7)/1 < 0 -> no trade.
	res, err := Calculate(Input{
		Method:      MethodHalfKelly,
		Equity:      1_000_000,
		Price:       100,
		WinRate:     0.3,
		PayoffRatio: 1.0,
		KellyCapPct: 0.25,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Quantity)
	assert.Zero(t, res.Fraction)
}

func TestATRSizing(t *testing.T) {
	// risk budget = 1,000,000 * 0.01 = 10,000; per-share = 5 * 2 = 10.
	// shares = 1000, notional 100,000 = 10% cap exactly.
	res, err := Calculate(Input{
		Method:         MethodATR,
		Equity:         1_000_000,
		Price:          100,
		ATR:            5,
		ATRMultiplier:  2,
		RiskPct:        0.01,
		MaxPositionPct: 0.10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Quantity)
}

func TestATRRequiresPositiveInputs(t *testing.T) {
	_, err := Calculate(Input{Method: MethodATR, Equity: 1000, Price: 10})
	assert.Error(t, err)
}

func TestFixedRiskSizing(t *testing.T) {
	res, err := Calculate(Input{
		Method:         MethodFixedRisk,
		Equity:         500_000,
		Price:          250,
		RiskPct:        0.02,
		MaxPositionPct: 0.10,
	})
	require.NoError(t, err)
	// floor(500,000 * 0.02 / 250) = 40 shares, under the cap.
	assert.Equal(t, int64(40), res.Quantity)
	assert.Equal(t, market.LotTypeOdd, res.LotType)
}

func TestRoundLotFloors(t *testing.T) {
	res, err := Calculate(Input{
		Method:         MethodFixedRisk,
		Equity:         10_000_000,
		Price:          100,
		RiskPct:        0.019,
		MaxPositionPct: 0.50,
		RoundLot:       true,
	})
	require.NoError(t, err)
	// floor(10,000,000 * 0.019 / 100) = 1900 -> 1000 after lot rounding.
	assert.Equal(t, int64(1000), res.Quantity)
	assert.Equal(t, market.LotTypeRound, res.LotType)
}

func TestRoundLotBelowOneLotIsZero(t *testing.T) {
	res, err := Calculate(Input{
		Method:         MethodFixedRisk,
		Equity:         100_000,
		Price:          100,
		RiskPct:        0.01, // 10 shares
		MaxPositionPct: 0.10,
		RoundLot:       true,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Quantity)
}

func TestNotionalCapBinds(t *testing.T) {
	res, err := Calculate(Input{
		Method:         MethodFixedRisk,
		Equity:         1_000_000,
		Price:          10,
		RiskPct:        0.50,
		MaxPositionPct: 0.10,
	})
	require.NoError(t, err)
	// Uncapped would be 50,000; cap = floor(100,000 / 10) = 10,000.
	assert.Equal(t, int64(10000), res.Quantity)
}

func TestInvalidInputs(t *testing.T) {
	_, err := Calculate(Input{Method: MethodFixedRisk, Equity: 0, Price: 10})
	assert.Error(t, err)

	_, err = Calculate(Input{Method: MethodFixedRisk, Equity: 100, Price: 0})
	assert.Error(t, err)

	_, err = Calculate(Input{Method: "martingale", Equity: 100, Price: 10})
	assert.Error(t, err)
}
