package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// Method is the chosen execution style.
type Method string

const (
	MethodImmediate Method = "immediate"
	MethodTWAP      Method = "twap"
	MethodDelayed   Method = "delayed"
)

// Status is the terminal state of one execution.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusPartial   Status = "PARTIAL"
	StatusTimeout   Status = "TIMEOUT"
	StatusAbandoned Status = "ABANDONED"
)

// twapTimeoutBuffer is the grace past the window before TIMEOUT.
const twapTimeoutBuffer = time.Minute

// OrderSubmitter is the bridge surface the router needs.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order market.Order) (market.Fill, error)
	AvailableCash(ctx context.Context) (float64, error)
}

// Attempt is one audit record: every submission attempt produces one,
// whether it succeeded, will be retried, or was abandoned.
type Attempt struct {
	OrderRef  string
	Symbol    string
	Side      market.Side
	Quantity  int64
	Attempt   int
	Outcome   string // filled, retry, abandoned
	Error     string
	Timestamp time.Time
}

// AuditSink receives execution attempt records.
type AuditSink interface {
	RecordAttempt(a Attempt)
}

// AuditFunc adapts a function to AuditSink.
type AuditFunc func(a Attempt)

// RecordAttempt implements AuditSink.
func (f AuditFunc) RecordAttempt(a Attempt) { f(a) }

// Decision is the routing choice for one order.
type Decision struct {
	Method Method
	Plan   TWAPPlan      // populated for TWAP
	Delay  time.Duration // populated for delayed
}

// Report is the outcome of executing one order.
type Report struct {
	OrderRef    string
	Method      Method
	Status      Status
	RequestedQty int64
	FilledQty   int64
	Fills       []market.Fill
}

// RouterConfig tunes retry and deferral behavior.
type RouterConfig struct {
	RetryAttempts    int
	RetryBackoffBase time.Duration
	MaxDelay         time.Duration // cap on timing-window deferral
	TwapMinWindow    time.Duration
	TwapMaxWindow    time.Duration
	Slippage         SlippageModel
}

// SymbolStats supplies liquidity context for fill cost accounting: the
// symbol's average daily volume and its realized slippage history.
type SymbolStats interface {
	SymbolLiquidity(ctx context.Context, symbol string) (adv float64, historicalBps float64, hasHistorical bool, err error)
}

// Router decides how an order reaches the market and drives it there.
type Router struct {
	bridge OrderSubmitter
	audit  AuditSink
	cfg    RouterConfig
	loc    *time.Location
	log    *zap.SugaredLogger

	costs *CostModel
	stats SymbolStats

	// injectable clocks for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter builds a router. loc is the exchange timezone used for the
// volatile-window check.
func NewRouter(bridge OrderSubmitter, audit AuditSink, cfg RouterConfig, loc *time.Location, log *zap.SugaredLogger) *Router {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	if cfg.TwapMinWindow <= 0 {
		cfg.TwapMinWindow = 10 * time.Minute
	}
	if cfg.TwapMaxWindow < cfg.TwapMinWindow {
		cfg.TwapMaxWindow = 30 * time.Minute
	}
	return &Router{
		bridge: bridge,
		audit:  audit,
		cfg:    cfg,
		loc:    loc,
		log:    log,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Plan decides the execution method without submitting anything.
// Emergencies and exits always go immediate. Entries inside a volatile
// session window are deferred until the window ends. Large quantities
// are TWAP-sliced.
func (r *Router) Plan(order market.Order, volatility float64) Decision {
	if order.Emergency || order.IsExit {
		return Decision{Method: MethodImmediate}
	}
	if d := r.delayUntilCalm(r.now()); d > 0 {
		return Decision{Method: MethodDelayed, Delay: d}
	}
	if order.Quantity >= twapMinQuantity {
		return Decision{Method: MethodTWAP, Plan: r.planTWAP(order.Quantity, volatility)}
	}
	return Decision{Method: MethodImmediate}
}

func (r *Router) planTWAP(quantity int64, volatility float64) TWAPPlan {
	return PlanTWAPIn(quantity, volatility, r.cfg.TwapMinWindow, r.cfg.TwapMaxWindow)
}

// SetCostAccounting attaches the fee model and per-symbol liquidity stats
// used to stamp estimated fees, tax and slippage onto each fill. stats
// may be nil; liquidity is then treated as unknown.
func (r *Router) SetCostAccounting(costs *CostModel, stats SymbolStats) {
	r.costs = costs
	r.stats = stats
}

// annotateFill records the estimated transaction costs on a fill so the
// audit trail carries fees, tax and slippage per execution.
func (r *Router) annotateFill(ctx context.Context, fill *market.Fill) {
	if r.costs == nil || fill.FilledQty <= 0 {
		return
	}
	in := SlippageInput{
		OrderSize: float64(fill.FilledQty),
		Now:       r.now(),
		Location:  r.loc,
	}
	if r.stats != nil {
		adv, hist, has, err := r.stats.SymbolLiquidity(ctx, fill.Symbol)
		if err != nil {
			r.log.Warnw("liquidity lookup failed", "symbol", fill.Symbol, "err", err)
		} else {
			in.ADV = adv
			in.HistoricalBps = hist
			in.HasHistorical = has
		}
	}
	bps := r.cfg.Slippage.EstimateBps(in)
	c := r.costs.Estimate(fill.Side, fill.FilledQty, fill.FilledPrice, bps)
	fill.Fees = c.Fee.InexactFloat64()
	fill.Tax = c.Tax.InexactFloat64()
	fill.SlippageBps = bps
}

// Execute routes and drives the order to a terminal status.
func (r *Router) Execute(ctx context.Context, order market.Order, volatility float64) (Report, error) {
	if err := order.Validate(); err != nil {
		return Report{}, err
	}
	if order.Ref == "" {
		order.Ref = uuid.NewString()
	}

	decision := r.Plan(order, volatility)

	switch decision.Method {
	case MethodDelayed:
		r.log.Infow("deferring order past volatile window",
			"ref", order.Ref, "symbol", order.Symbol, "delay", decision.Delay)
		if err := r.sleep(ctx, decision.Delay); err != nil {
			return Report{OrderRef: order.Ref, Method: MethodDelayed, Status: StatusAbandoned, RequestedQty: order.Quantity}, err
		}
		// Re-plan after the wait: the order may now qualify for TWAP.
		if order.Quantity >= twapMinQuantity {
			return r.executeTWAP(ctx, order, r.planTWAP(order.Quantity, volatility))
		}
		return r.executeImmediate(ctx, order, MethodDelayed)

	case MethodTWAP:
		return r.executeTWAP(ctx, order, decision.Plan)

	default:
		return r.executeImmediate(ctx, order, MethodImmediate)
	}
}

func (r *Router) executeImmediate(ctx context.Context, order market.Order, method Method) (Report, error) {
	report := Report{OrderRef: order.Ref, Method: method, RequestedQty: order.Quantity}

	fill, err := r.submitWithRetry(ctx, order)
	if err != nil {
		report.Status = StatusAbandoned
		return report, err
	}
	r.annotateFill(ctx, &fill)
	report.Fills = append(report.Fills, fill)
	report.FilledQty = fill.FilledQty
	if report.FilledQty >= order.Quantity {
		report.Status = StatusCompleted
	} else {
		report.Status = StatusPartial
	}
	return report, nil
}

func (r *Router) executeTWAP(ctx context.Context, order market.Order, plan TWAPPlan) (Report, error) {
	report := Report{OrderRef: order.Ref, Method: MethodTWAP, RequestedQty: order.Quantity}
	deadline := r.now().Add(plan.Window + twapTimeoutBuffer)

	r.log.Infow("starting TWAP execution",
		"ref", order.Ref, "symbol", order.Symbol, "qty", order.Quantity,
		"chunks", len(plan.Chunks), "window", plan.Window, "spacing", plan.Spacing)

	for i, chunkQty := range plan.Chunks {
		if chunkQty <= 0 {
			continue
		}
		if i > 0 {
			if err := r.sleep(ctx, plan.Spacing); err != nil {
				report.Status = StatusPartial
				return report, err
			}
		}
		if r.now().After(deadline) {
			r.log.Warnw("TWAP window exceeded, abandoning remaining chunks",
				"ref", order.Ref, "chunk", i+1, "of", len(plan.Chunks))
			report.Status = StatusTimeout
			return report, nil
		}

		chunk := order
		chunk.Ref = fmt.Sprintf("%s-%d", order.Ref, i+1)
		chunk.Quantity = chunkQty

		fill, err := r.submitWithRetry(ctx, chunk)
		if err != nil {
			// Missed chunks are logged, not retried beyond the attempt budget.
			r.log.Warnw("TWAP chunk failed",
				"ref", chunk.Ref, "chunk", i+1, "qty", chunkQty, "err", err)
			continue
		}
		r.annotateFill(ctx, &fill)
		report.Fills = append(report.Fills, fill)
		report.FilledQty += fill.FilledQty
	}

	switch {
	case report.FilledQty >= order.Quantity:
		report.Status = StatusCompleted
	case report.FilledQty > 0:
		report.Status = StatusPartial
	default:
		report.Status = StatusAbandoned
	}
	return report, nil
}

// submitWithRetry drives one order through the attempt budget with
// exponential backoff. On each retry the available cash is re-queried
// and the quantity adjusted down to the largest feasible size; when not
// even one unit is affordable the order is abandoned.
func (r *Router) submitWithRetry(ctx context.Context, order market.Order) (market.Fill, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			backoff := r.cfg.RetryBackoffBase * time.Duration(1<<uint(attempt-2))
			if err := r.sleep(ctx, backoff); err != nil {
				return market.Fill{}, err
			}

			cash, err := r.bridge.AvailableCash(ctx)
			if err == nil && order.Side == market.SideBuy && order.Price > 0 {
				affordable := int64(math.Floor(cash / order.Price))
				if affordable < order.Quantity {
					if affordable < 1 {
						r.recordAttempt(order, attempt, "abandoned", "insufficient cash for any quantity")
						return market.Fill{}, fmt.Errorf("execution: insufficient cash for order %s", order.Ref)
					}
					r.log.Infow("downsizing order to available cash",
						"ref", order.Ref, "from", order.Quantity, "to", affordable)
					order.Quantity = affordable
				}
			}
		}

		fill, err := r.bridge.SubmitOrder(ctx, order)
		if err == nil {
			r.recordAttempt(order, attempt, "filled", "")
			return fill, nil
		}
		lastErr = err

		outcome := "retry"
		if attempt == r.cfg.RetryAttempts {
			outcome = "abandoned"
		}
		r.recordAttempt(order, attempt, outcome, err.Error())
	}

	return market.Fill{}, fmt.Errorf("execution: order %s failed after %d attempts: %w",
		order.Ref, r.cfg.RetryAttempts, lastErr)
}

func (r *Router) recordAttempt(order market.Order, n int, outcome, errMsg string) {
	if r.audit == nil {
		return
	}
	r.audit.RecordAttempt(Attempt{
		OrderRef:  order.Ref,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Attempt:   n,
		Outcome:   outcome,
		Error:     errMsg,
		Timestamp: r.now(),
	})
}

// delayUntilCalm returns how long to wait for the current volatile window
// to end, zero when outside both windows, capped at MaxDelay.
func (r *Router) delayUntilCalm(now time.Time) time.Duration {
	t := now
	if r.loc != nil {
		t = t.In(r.loc)
	}
	if !r.cfg.Slippage.InVolatileWindow(t, nil) {
		return 0
	}

	d := r.cfg.Slippage.volatileWindowEnd(t).Sub(t)
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
