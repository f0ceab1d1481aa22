package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

func bar(symbol string, close float64, ts time.Time) market.Bar {
	return market.Bar{
		Symbol:     symbol,
		Timeframe:  market.Timeframe5Min,
		Timestamp:  ts,
		Open:       close,
		High:       close * 1.002,
		Low:        close * 0.998,
		Close:      close,
		Volume:     10_000,
		IsComplete: true,
	}
}

func TestRegistryBuildsKnownTypes(t *testing.T) {
	for _, typ := range []string{"momentum", "mean_reversion"} {
		s, err := New(typ, "inst-"+typ, "2454.TW", nil)
		require.NoError(t, err)
		assert.Equal(t, typ, s.Type())
		assert.Equal(t, "2454.TW", s.Symbol())
	}

	_, err := New("arbitrage", "x", "2454.TW", nil)
	assert.Error(t, err)
}

func TestMomentumRejectsInvertedPeriods(t *testing.T) {
	_, err := NewMomentum("m", "2454.TW", map[string]interface{}{
		"fast_period": 30, "slow_period": 10,
	})
	assert.Error(t, err)
}

func TestMomentumWarmsUpNeutral(t *testing.T) {
	s, err := New("momentum", "m1", "2454.TW", nil)
	require.NoError(t, err)

	ts := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	sig := s.Execute(Snapshot{Equity: 1e6}, bar("2454.TW", 100, ts))
	assert.Equal(t, market.DirectionNeutral, sig.Direction)
	assert.Equal(t, "m1", sig.StrategyName)
}

func TestMomentumSignalsLongOnUptrend(t *testing.T) {
	s, err := New("momentum", "m1", "2454.TW", map[string]interface{}{
		"fast_period": 3, "slow_period": 6, "rsi_period": 3, "rsi_ceiling": 101.0,
	})
	require.NoError(t, err)

	ts := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	snap := Snapshot{Equity: 1e6}

	var last market.TradeSignal
	price := 100.0
	for i := 0; i < 20; i++ {
		price *= 1.01
		last = s.Execute(snap, bar("2454.TW", price, ts.Add(time.Duration(i)*5*time.Minute)))
	}

	assert.Equal(t, market.DirectionLong, last.Direction)
	assert.Greater(t, last.Confidence, 0.0)
	require.NoError(t, last.Validate())
}

func TestMomentumExitsWhenHoldingAndTrendFades(t *testing.T) {
	s, err := New("momentum", "m1", "2454.TW", map[string]interface{}{
		"fast_period": 3, "slow_period": 6, "rsi_period": 3,
	})
	require.NoError(t, err)

	ts := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < 15; i++ {
		price *= 1.01
		s.Execute(Snapshot{Equity: 1e6}, bar("2454.TW", price, ts.Add(time.Duration(i)*5*time.Minute)))
	}

	// Now holding; price collapses for several bars.
	entry := ts
	holding := Snapshot{Equity: 1e6, Position: market.Position{
		Symbol: "2454.TW", Quantity: 1000, AvgEntryPrice: price, EntryTime: &entry,
	}}
	var last market.TradeSignal
	for i := 15; i < 22; i++ {
		price *= 0.97
		last = s.Execute(holding, bar("2454.TW", price, ts.Add(time.Duration(i)*5*time.Minute)))
	}
	assert.Equal(t, market.DirectionExit, last.Direction)
}

func TestMeanReversionBuysDipAndExitsOnRevert(t *testing.T) {
	s, err := New("mean_reversion", "mr1", "2330.TW", map[string]interface{}{
		"sma_period": 5, "atr_period": 3, "entry_band": 1.5, "exit_band": 0.5,
	})
	require.NoError(t, err)

	ts := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	snap := Snapshot{Equity: 1e6}

	// Stable regime around 100.
	for i := 0; i < 10; i++ {
		s.Execute(snap, bar("2330.TW", 100+0.2*float64(i%2), ts.Add(time.Duration(i)*5*time.Minute)))
	}

	// Sharp dip several ATRs below the mean.
	sig := s.Execute(snap, bar("2330.TW", 92, ts.Add(50*time.Minute)))
	assert.Equal(t, market.DirectionLong, sig.Direction)
	assert.GreaterOrEqual(t, sig.Confidence, 0.5)

	// Holding; price reverts to the mean.
	entry := ts
	holding := Snapshot{Equity: 1e6, Position: market.Position{
		Symbol: "2330.TW", Quantity: 1000, AvgEntryPrice: 92, EntryTime: &entry,
	}}
	var last market.TradeSignal
	for i := 0; i < 4; i++ {
		last = s.Execute(holding, bar("2330.TW", 99.5, ts.Add(time.Duration(55+5*i)*time.Minute)))
		if last.Direction == market.DirectionExit {
			break
		}
	}
	assert.Equal(t, market.DirectionExit, last.Direction)
}

func TestMeanReversionRejectsBadBands(t *testing.T) {
	_, err := NewMeanReversion("mr", "2330.TW", map[string]interface{}{
		"entry_band": 1.0, "exit_band": 2.0,
	})
	assert.Error(t, err)
}
