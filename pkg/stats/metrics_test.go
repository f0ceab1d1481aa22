package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharpeRatioFixture(t *testing.T) {
	// Hand-computed: returns {0.01, -0.005, 0.02, 0.0, 0.005}
	// mean = 0.006, sample stddev = 0.0096046864...
	returns := []float64{0.01, -0.005, 0.02, 0.0, 0.005}

	mean := 0.006
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	expected := mean / math.Sqrt(variance) * math.Sqrt(252)

	assert.InDelta(t, expected, SharpeRatio(returns), 1e-9)
	assert.Greater(t, SharpeRatio(returns), 0.0)
}

func TestSharpeRatioDegenerate(t *testing.T) {
	assert.Zero(t, SharpeRatio(nil))
	assert.Zero(t, SharpeRatio([]float64{0.01}))
	// Constant returns have zero volatility.
	assert.Zero(t, SharpeRatio([]float64{0.01, 0.01, 0.01}))
}

func TestSortinoIgnoresUpsideVolatility(t *testing.T) {
	// Same mean, same downside; extra upside dispersion must not hurt.
	calm := []float64{0.01, -0.01, 0.01, -0.01}
	wild := []float64{0.03, -0.01, 0.03, -0.01}

	assert.Greater(t, SortinoRatio(wild), SortinoRatio(calm))
	// All-positive returns have no downside deviation.
	assert.Zero(t, SortinoRatio([]float64{0.01, 0.02}))
}

func TestMaxDrawdown(t *testing.T) {
	// Peak 120, trough 90: drawdown = 30/120 = 0.25.
	curve := []float64{100, 120, 110, 90, 115, 130}
	assert.InDelta(t, 0.25, MaxDrawdown(curve), 1e-9)

	assert.Zero(t, MaxDrawdown(nil))
	assert.Zero(t, MaxDrawdown([]float64{100, 101, 102}))
}

func TestCalmarRatioFixture(t *testing.T) {
	curve := []float64{100, 110, 99, 105}
	returns := DailyReturns(curve)
	mdd := MaxDrawdown(curve) // (110-99)/110 = 0.1

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	expected := mean * 252 / mdd

	assert.InDelta(t, expected, CalmarRatio(returns, curve), 1e-9)
}

func TestDailyReturns(t *testing.T) {
	rets := DailyReturns([]float64{100, 110, 99})
	require.Len(t, rets, 2)
	assert.InDelta(t, 0.10, rets[0], 1e-9)
	assert.InDelta(t, -0.10, rets[1], 1e-9)

	assert.Nil(t, DailyReturns([]float64{100}))
}

func TestWinRateAndProfitFactor(t *testing.T) {
	pnls := []float64{100, -50, 200, -25, 0}
	assert.InDelta(t, 0.4, WinRate(pnls), 1e-9)
	assert.InDelta(t, 4.0, ProfitFactor(pnls), 1e-9)

	assert.True(t, math.IsInf(ProfitFactor([]float64{100, 50}), 1))
	assert.Zero(t, ProfitFactor(nil))
	assert.Zero(t, WinRate(nil))
}

func TestSeriesEvictsOldest(t *testing.T) {
	s := NewSeries("equity", 3)
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Append(float64(i), base.Add(time.Duration(i)*time.Minute))
	}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []float64{2, 3, 4}, s.Values())

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 4.0, last)
}

func TestSeriesTailAndSince(t *testing.T) {
	s := NewSeries("pnl", 10)
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Append(float64(i), base.Add(time.Duration(i)*time.Hour))
	}

	assert.Equal(t, []float64{3, 4}, s.TailValues(2))
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, s.TailValues(0))
	assert.Equal(t, []float64{2, 3, 4}, s.ValuesSince(base.Add(2*time.Hour)))
}

func TestSeriesManager(t *testing.T) {
	m := NewSeriesManager()

	_, ok := m.Get("missing")
	assert.False(t, ok)

	a := m.GetOrCreate("drawdown", 100)
	b := m.GetOrCreate("drawdown", 100)
	assert.Same(t, a, b)

	m.GetOrCreate("equity", 100)
	assert.ElementsMatch(t, []string{"drawdown", "equity"}, m.List())

	m.Remove("drawdown")
	_, ok = m.Get("drawdown")
	assert.False(t, ok)
}
