package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// fakeBridge scripts SubmitOrder outcomes and records submissions.
type fakeBridge struct {
	mu        sync.Mutex
	failures  int // fail this many submissions before succeeding
	cash      float64
	submitted []market.Order
}

func (f *fakeBridge) SubmitOrder(_ context.Context, order market.Order) (market.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, order)
	if f.failures > 0 {
		f.failures--
		return market.Fill{}, errors.New("bridge unavailable")
	}
	return market.Fill{
		OrderRef:    order.Ref,
		Symbol:      order.Symbol,
		Side:        order.Side,
		FilledQty:   order.Quantity,
		FilledPrice: order.Price,
		Timestamp:   time.Now(),
	}, nil
}

func (f *fakeBridge) AvailableCash(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cash, nil
}

type recordingAudit struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *recordingAudit) RecordAttempt(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func newTestRouter(t *testing.T, bridge *fakeBridge, audit AuditSink, at time.Time) *Router {
	t.Helper()
	r := NewRouter(bridge, audit, RouterConfig{
		RetryAttempts:    3,
		RetryBackoffBase: time.Second,
	}, taipei(t), zap.NewNop().Sugar())

	// Virtual clock: sleeps advance time instantly.
	now := at
	var mu sync.Mutex
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
		return nil
	}
	return r
}

func midSession(t *testing.T) time.Time {
	return time.Date(2025, 3, 3, 11, 0, 0, 0, taipei(t))
}

func TestPlanEmergencyAndExitAreImmediate(t *testing.T) {
	r := newTestRouter(t, &fakeBridge{cash: 1e9}, nil, midSession(t))

	d := r.Plan(market.Order{Symbol: "2330.TW", Side: market.SideSell, Quantity: 5000, Emergency: true}, 0.05)
	assert.Equal(t, MethodImmediate, d.Method)

	d = r.Plan(market.Order{Symbol: "2330.TW", Side: market.SideSell, Quantity: 5000, IsExit: true}, 0.05)
	assert.Equal(t, MethodImmediate, d.Method)
}

func TestPlanSmallQuantityIsImmediate(t *testing.T) {
	r := newTestRouter(t, &fakeBridge{cash: 1e9}, nil, midSession(t))
	d := r.Plan(market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 99}, 0.01)
	assert.Equal(t, MethodImmediate, d.Method)
}

func TestPlanVolatileWindowDefers(t *testing.T) {
	at := time.Date(2025, 3, 3, 9, 10, 0, 0, taipei(t))
	r := newTestRouter(t, &fakeBridge{cash: 1e9}, nil, at)
	r.cfg.MaxDelay = time.Hour

	d := r.Plan(market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 50}, 0.01)
	assert.Equal(t, MethodDelayed, d.Method)
	assert.Equal(t, 20*time.Minute, d.Delay)
}

func TestPlanTWAPSplitScenario(t *testing.T) {
	// qty 250 at volatility 2%: 5 chunks of 50 over a 14-minute window.
	plan := PlanTWAP(250, 0.02)

	require.Len(t, plan.Chunks, 5)
	for _, c := range plan.Chunks {
		assert.Equal(t, int64(50), c)
	}
	assert.Equal(t, 14*time.Minute, plan.Window)
	assert.Equal(t, 168*time.Second, plan.Spacing)
	assert.Equal(t, int64(250), plan.TotalQuantity())
}

func TestPlanTWAPTiersAndClamps(t *testing.T) {
	assert.Len(t, PlanTWAP(100, 0.01).Chunks, 3)
	assert.Len(t, PlanTWAP(200, 0.01).Chunks, 5)
	assert.Len(t, PlanTWAP(500, 0.01).Chunks, 7)

	// Window clamps to 30 minutes for huge orders.
	assert.Equal(t, 30*time.Minute, PlanTWAP(2000, 0.01).Window)
	// High volatility widens the window by 5 minutes.
	assert.Equal(t, 17*time.Minute, PlanTWAP(100, 0.05).Window)

	// Remainder lands on the last chunk.
	plan := PlanTWAP(101, 0.01)
	assert.Equal(t, []int64{33, 33, 35}, plan.Chunks)
	assert.Equal(t, int64(101), plan.TotalQuantity())
}

func TestExecuteTWAPCompletes(t *testing.T) {
	bridge := &fakeBridge{cash: 1e9}
	audit := &recordingAudit{}
	r := newTestRouter(t, bridge, audit, midSession(t))

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 250, Price: 590, LotType: market.LotTypeOdd}, 0.02)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, MethodTWAP, report.Method)
	assert.Equal(t, int64(250), report.FilledQty)
	assert.Len(t, report.Fills, 5)
	assert.Len(t, bridge.submitted, 5)
	// One audit record per successful attempt.
	assert.Len(t, audit.attempts, 5)
}

func TestExecuteTWAPMissedChunkIsPartial(t *testing.T) {
	// First chunk exhausts all 3 attempts, remaining chunks fill.
	bridge := &fakeBridge{cash: 1e9, failures: 3}
	audit := &recordingAudit{}
	r := newTestRouter(t, bridge, audit, midSession(t))

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 250, Price: 590, LotType: market.LotTypeOdd}, 0.02)
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, int64(200), report.FilledQty)
	assert.Len(t, report.Fills, 4)
}

func TestRetrySucceedsAfterBackoff(t *testing.T) {
	bridge := &fakeBridge{cash: 1e9, failures: 2}
	audit := &recordingAudit{}
	r := newTestRouter(t, bridge, audit, midSession(t))

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 10, Price: 100, LotType: market.LotTypeOdd}, 0.01)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	require.Len(t, audit.attempts, 3)
	assert.Equal(t, "retry", audit.attempts[0].Outcome)
	assert.Equal(t, "retry", audit.attempts[1].Outcome)
	assert.Equal(t, "filled", audit.attempts[2].Outcome)
}

func TestRetryDownsizesToAvailableCash(t *testing.T) {
	// First attempt fails; cash only covers 5 shares at 100.
	bridge := &fakeBridge{cash: 550, failures: 1}
	audit := &recordingAudit{}
	r := newTestRouter(t, bridge, audit, midSession(t))

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 10, Price: 100, LotType: market.LotTypeOdd}, 0.01)
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, int64(5), report.FilledQty)
}

func TestRetryAbandonsWhenNoCash(t *testing.T) {
	bridge := &fakeBridge{cash: 10, failures: 3}
	audit := &recordingAudit{}
	r := newTestRouter(t, bridge, audit, midSession(t))

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 10, Price: 100, LotType: market.LotTypeOdd}, 0.01)
	require.Error(t, err)

	assert.Equal(t, StatusAbandoned, report.Status)
	require.NotEmpty(t, audit.attempts)
	last := audit.attempts[len(audit.attempts)-1]
	assert.Equal(t, "abandoned", last.Outcome)
}

type fakeSymbolStats struct {
	adv  float64
	hist float64
	has  bool
	err  error
}

func (f *fakeSymbolStats) SymbolLiquidity(context.Context, string) (float64, float64, bool, error) {
	return f.adv, f.hist, f.has, f.err
}

func TestExecuteStampsCostsOnFills(t *testing.T) {
	bridge := &fakeBridge{cash: 1e9}
	r := newTestRouter(t, bridge, nil, midSession(t))

	costs, err := NewCostModel("0.001425", "0.003")
	require.NoError(t, err)
	// Deep liquidity, no history: the estimate is the 5 bps base.
	r.SetCostAccounting(costs, &fakeSymbolStats{adv: 5_000_000})

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 10, Price: 100, LotType: market.LotTypeOdd}, 0.01)
	require.NoError(t, err)

	require.Len(t, report.Fills, 1)
	fill := report.Fills[0]
	assert.InDelta(t, 5.0, fill.SlippageBps, 1e-9)
	assert.InDelta(t, 1.425, fill.Fees, 1e-9) // 1000 notional * 0.1425%
	assert.Zero(t, fill.Tax)
}

func TestExecuteStampsSellTax(t *testing.T) {
	bridge := &fakeBridge{cash: 1e9}
	r := newTestRouter(t, bridge, nil, midSession(t))

	costs, err := NewCostModel("0.001425", "0.003")
	require.NoError(t, err)
	r.SetCostAccounting(costs, &fakeSymbolStats{adv: 5_000_000})

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideSell, Quantity: 10, Price: 100, IsExit: true, LotType: market.LotTypeOdd}, 0.01)
	require.NoError(t, err)

	require.Len(t, report.Fills, 1)
	assert.InDelta(t, 3.0, report.Fills[0].Tax, 1e-9) // 1000 notional * 0.3%
}

func TestExecuteBlendsHistoricalSlippage(t *testing.T) {
	bridge := &fakeBridge{cash: 1e9}
	r := newTestRouter(t, bridge, nil, midSession(t))

	costs, err := NewCostModel("0.001425", "0.003")
	require.NoError(t, err)
	// Realized 20 bps history blends 70/30 with the 5 bps model estimate.
	r.SetCostAccounting(costs, &fakeSymbolStats{adv: 5_000_000, hist: 20, has: true})

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 10, Price: 100, LotType: market.LotTypeOdd}, 0.01)
	require.NoError(t, err)

	require.Len(t, report.Fills, 1)
	assert.InDelta(t, 0.7*5+0.3*20, report.Fills[0].SlippageBps, 1e-9)
}

func TestExecuteTWAPStampsEveryChunk(t *testing.T) {
	bridge := &fakeBridge{cash: 1e9}
	r := newTestRouter(t, bridge, nil, midSession(t))

	costs, err := NewCostModel("0.001425", "0.003")
	require.NoError(t, err)
	r.SetCostAccounting(costs, &fakeSymbolStats{adv: 5_000_000})

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 250, Price: 590, LotType: market.LotTypeOdd}, 0.02)
	require.NoError(t, err)

	require.Len(t, report.Fills, 5)
	for _, f := range report.Fills {
		assert.Greater(t, f.Fees, 0.0)
		assert.Greater(t, f.SlippageBps, 0.0)
	}
}

func TestExecuteWithoutCostAccountingLeavesFillsBare(t *testing.T) {
	bridge := &fakeBridge{cash: 1e9}
	r := newTestRouter(t, bridge, nil, midSession(t))

	report, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 10, Price: 100, LotType: market.LotTypeOdd}, 0.01)
	require.NoError(t, err)

	require.Len(t, report.Fills, 1)
	assert.Zero(t, report.Fills[0].Fees)
	assert.Zero(t, report.Fills[0].SlippageBps)
}

func TestExecuteRejectsInvalidOrder(t *testing.T) {
	r := newTestRouter(t, &fakeBridge{cash: 1e9}, nil, midSession(t))
	_, err := r.Execute(context.Background(),
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 0}, 0.01)
	assert.Error(t, err)
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRouter(t, &fakeBridge{cash: 1e9, failures: 1}, nil, midSession(t))
	_, err := r.Execute(ctx,
		market.Order{Symbol: "2330.TW", Side: market.SideBuy, Quantity: 10, Price: 100, LotType: market.LotTypeOdd}, 0.01)
	assert.Error(t, err)
}
