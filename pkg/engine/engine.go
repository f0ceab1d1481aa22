// Package engine is the orchestrator's trading loop: a single logical
// writer that turns strategy signals into sized, risk-gated, routed
// orders and keeps the position ledger consistent.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/bridge"
	"github.com/yourusername/tw-trade-orchestrator/pkg/execution"
	"github.com/yourusername/tw-trade-orchestrator/pkg/indicators"
	"github.com/yourusername/tw-trade-orchestrator/pkg/ledger"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/metrics"
	"github.com/yourusername/tw-trade-orchestrator/pkg/risk"
	"github.com/yourusername/tw-trade-orchestrator/pkg/sizing"
	"github.com/yourusername/tw-trade-orchestrator/pkg/stats"
	"github.com/yourusername/tw-trade-orchestrator/pkg/store"
	"github.com/yourusername/tw-trade-orchestrator/pkg/strategy"
)

// MarketFeed is the bridge surface the engine reads.
type MarketFeed interface {
	GetSignal(ctx context.Context) (bridge.Signal, error)
	GetPortfolio(ctx context.Context) (bridge.Portfolio, error)
}

// OrderRouter drives an order to a terminal status.
type OrderRouter interface {
	Execute(ctx context.Context, order market.Order, volatility float64) (execution.Report, error)
}

// AuditStore persists the audit trail. *store.TradeRepo satisfies it.
type AuditStore interface {
	InsertSignal(ctx context.Context, s market.TradeSignal, acted bool) error
	InsertTrade(ctx context.Context, rec store.TradeRecord) error
	InsertVeto(ctx context.Context, v market.VetoEvent) error
	InsertEvent(ctx context.Context, kind, payload string, ts time.Time) error
	UpsertDailyStats(ctx context.Context, s store.DailyStats) error
}

// ConfigStore persists the active-stock slot. *store.SystemConfigRepo
// satisfies it.
type ConfigStore interface {
	ActiveStock(ctx context.Context) (string, error)
	SetActiveStock(ctx context.Context, symbol string) error
}

// Notifier delivers operator messages. A nil notifier is silent.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Config tunes the engine loop.
type Config struct {
	TradingMode     market.TradingMode
	InitialCapital  float64
	TickInterval    time.Duration
	MaxHoldingTime  time.Duration
	DrainTimeout    time.Duration
	StopLossPct     float64
	FuturesStopLoss float64 // per contract
	RiskPct         float64
	KellyCapPct     float64
	ATRMultiplier   float64
	MaxPositionPct  float64
	MarketOpen      string // HH:MM
	MarketClose     string // HH:MM
	MinKellyTrades  int
	// SizingMethod pins the position sizing policy; empty selects
	// half-Kelly with ATR and fixed-risk fallbacks.
	SizingMethod sizing.Method
	IsSimulation bool
}

// Engine owns the ledger and the sequence of order emissions. All ledger
// mutation happens on the Tick/shutdown path; parallel workers only feed
// inputs.
type Engine struct {
	cfg    Config
	ledger *ledger.Ledger
	gate   *risk.Gatekeeper
	mgr    *strategy.Manager
	feed   MarketFeed
	router OrderRouter
	audit  AuditStore
	sysCfg ConfigStore
	notify Notifier
	log    *zap.SugaredLogger
	loc    *time.Location

	mu          sync.RWMutex
	activeStock string
	eodDoneDay  string
	shutdown    bool

	atr       *indicators.ATR
	returns   *stats.Series
	lastPrice float64
	inFlight  sync.WaitGroup
	metrics   *metrics.Set // nil disables instrumentation
}

// SetMetrics attaches Prometheus instrumentation.
func (e *Engine) SetMetrics(m *metrics.Set) { e.metrics = m }

// New builds an engine. The active stock is loaded from the config store
// on Start.
func New(cfg Config, lg *ledger.Ledger, gate *risk.Gatekeeper, mgr *strategy.Manager,
	feed MarketFeed, router OrderRouter, audit AuditStore, sysCfg ConfigStore,
	notify Notifier, loc *time.Location, log *zap.SugaredLogger) *Engine {

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxHoldingTime <= 0 {
		cfg.MaxHoldingTime = 45 * time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.MarketOpen == "" {
		cfg.MarketOpen = "09:00"
	}
	if cfg.MarketClose == "" {
		cfg.MarketClose = "13:30"
	}
	if cfg.MinKellyTrades <= 0 {
		cfg.MinKellyTrades = 10
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		cfg:     cfg,
		ledger:  lg,
		gate:    gate,
		mgr:     mgr,
		feed:    feed,
		router:  router,
		audit:   audit,
		sysCfg:  sysCfg,
		notify:  notify,
		log:     log,
		loc:     loc,
		atr:     indicators.NewATR(14),
		returns: stats.NewSeries("tick-returns", 64),
	}
}

// LoadState restores the persisted active stock.
func (e *Engine) LoadState(ctx context.Context) error {
	active, err := e.sysCfg.ActiveStock(ctx)
	if err != nil {
		return fmt.Errorf("engine: loading active stock: %w", err)
	}
	e.mu.Lock()
	e.activeStock = active
	e.mu.Unlock()
	return nil
}

// Start loads persisted state and begins the tick loop. It blocks until
// ctx is cancelled, then drains and returns.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.LoadState(ctx); err != nil {
		return err
	}
	e.log.Infow("engine started", "active_stock", e.ActiveStock(), "mode", e.cfg.TradingMode)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.Shutdown(context.Background())
		case now := <-ticker.C:
			e.Tick(ctx, now.In(e.loc))
		}
	}
}

// ActiveStock returns the current active symbol.
func (e *Engine) ActiveStock() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeStock
}

// Ledger exposes the position ledger for read-side consumers.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// LastPrice returns the most recent observed price.
func (e *Engine) LastPrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastPrice
}

// SetLive flips order flow between simulated and live. Trades routed
// after the flip carry the new flag.
func (e *Engine) SetLive(live bool) {
	e.mu.Lock()
	e.cfg.IsSimulation = !live
	e.mu.Unlock()
	e.log.Infow("execution mode changed", "live", live)
}

func (e *Engine) isSimulation() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.IsSimulation
}

// Tick runs one cycle of the loop. Errors are contained: no strategy,
// bridge or store failure terminates the process.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.mu.RLock()
	down := e.shutdown
	active := e.activeStock
	e.mu.RUnlock()
	if down {
		return
	}

	if e.metrics != nil {
		e.metrics.TicksTotal.Inc()
		start := time.Now()
		defer func() {
			e.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}()
	}

	if !e.inTradingWindow(now) {
		e.runEODOnce(ctx, now)
		return
	}

	// Fatal risk state preempts everything, including data fetch.
	decision := e.gate.Check(ctx, risk.CheckContext{Symbol: active, Now: now})
	if decision.Severity == risk.SeverityFatal {
		e.EmergencyShutdown(ctx, decision.Reason)
		return
	}

	sig, err := e.feed.GetSignal(ctx)
	if err != nil {
		e.log.Warnw("signal fetch failed, skipping tick", "err", err)
		return
	}
	price := sig.CurrentPrice
	if price <= 0 {
		return
	}
	e.observePrice(price, now, active)

	portfolio, err := e.feed.GetPortfolio(ctx)
	if err != nil {
		e.log.Warnw("portfolio fetch failed, skipping tick", "err", err)
		return
	}
	equity := portfolio.Equity
	if equity <= 0 {
		equity = e.cfg.InitialCapital
	}

	pos := e.ledger.Get(active)
	snap := strategy.Snapshot{
		Equity:   equity,
		Cash:     portfolio.AvailableMargin,
		Position: pos,
	}

	bar := e.syntheticBar(active, price, now)
	bars := map[string]market.Bar{active: bar}
	evals := e.mgr.EvaluateAll(ctx, snap, bars)
	e.mgr.ObserveEvaluations(evals, bars, now)

	var tradeSignal market.TradeSignal
	haveMain := false
	for _, ev := range evals {
		if ev.IsMain {
			tradeSignal = ev.Signal
			haveMain = true
			break
		}
	}
	if !haveMain {
		e.log.Warnw("no main strategy configured, skipping tick")
		return
	}
	if sig.ExitSignal {
		tradeSignal.Direction = market.DirectionExit
		tradeSignal.Reason = "bridge exit signal"
	}

	acted := false
	switch {
	case !pos.IsFlat():
		acted = e.manageOpenPosition(ctx, pos, tradeSignal, price, equity, now)
	case tradeSignal.Direction == market.DirectionLong || tradeSignal.Direction == market.DirectionShort:
		if decision.Allow {
			acted = e.enterPosition(ctx, tradeSignal, price, equity, portfolio.AvailableMargin, now)
		} else {
			veto := market.VetoEvent{
				Timestamp:       now,
				Source:          decision.Source,
				Reason:          decision.Reason,
				AffectedSymbols: []string{active},
			}
			if err := e.audit.InsertVeto(ctx, veto); err != nil {
				e.log.Warnw("persisting veto failed", "err", err)
			}
			if e.metrics != nil {
				e.metrics.VetoesTotal.WithLabelValues(string(decision.Source)).Inc()
			}
		}
	}

	if err := e.audit.InsertSignal(ctx, tradeSignal, acted); err != nil {
		e.log.Warnw("persisting signal failed", "err", err)
	}
	if !pos.IsFlat() {
		e.persistUnrealized(ctx, pos, price, now)
	}

	if e.metrics != nil {
		e.metrics.SignalsTotal.WithLabelValues(string(tradeSignal.Direction)).Inc()
		e.metrics.Equity.Set(equity)
		e.metrics.LastPrice.Set(price)
		e.metrics.PositionQty.Set(float64(e.ledger.Get(active).Quantity))
		e.metrics.UnrealizedPnL.Set(e.ledger.UnrealizedPnL(active, price))
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
		e.metrics.RealizedToday.Set(e.ledger.RealizedSince(dayStart))
	}
}

// manageOpenPosition evaluates the exit ladder: strategy exit, opposite
// signal, the max-holding hard exit, then the stop-loss.
func (e *Engine) manageOpenPosition(ctx context.Context, pos market.Position, sig market.TradeSignal, price, equity float64, now time.Time) bool {
	exitReason := ""

	switch {
	case sig.Direction == market.DirectionExit:
		exitReason = "strategy exit"
	case pos.IsLong() && sig.Direction == market.DirectionShort,
		pos.IsShort() && sig.Direction == market.DirectionLong:
		exitReason = "signal reversal"
	}

	if exitReason == "" && pos.EntryTime != nil && now.Sub(*pos.EntryTime) > e.cfg.MaxHoldingTime {
		exitReason = "45-MIN HARD EXIT"
		e.sendNotification(ctx, fmt.Sprintf("45-MIN HARD EXIT: closing %s x%d @ %.2f",
			pos.Symbol, abs64(pos.Quantity), price))
	}

	if exitReason == "" && e.stopLossBreached(pos, price, equity) {
		exitReason = "stop-loss"
		e.sendNotification(ctx, fmt.Sprintf("STOP-LOSS: closing %s, unrealized %.0f",
			pos.Symbol, pos.UnrealizedPnL(price)))
	}

	if exitReason == "" {
		return false
	}
	return e.routeExit(ctx, pos, price, exitReason, false)
}

// stopLossBreached applies the percentage stop for stocks and the
// per-contract currency stop for futures.
func (e *Engine) stopLossBreached(pos market.Position, price, equity float64) bool {
	unrealized := pos.UnrealizedPnL(price)
	if pos.TradingMode == market.ModeFutures {
		return unrealized < -e.cfg.FuturesStopLoss*float64(abs64(pos.Quantity))
	}
	if e.cfg.StopLossPct <= 0 || equity <= 0 {
		return false
	}
	return unrealized < -e.cfg.StopLossPct*equity
}

func (e *Engine) enterPosition(ctx context.Context, sig market.TradeSignal, price, equity, cash float64, now time.Time) bool {
	qty, lotType, method := e.sizePosition(price, equity)
	if qty < 1 {
		e.log.Debugw("sized to zero, skipping entry", "symbol", sig.Symbol, "price", price)
		return false
	}

	side := market.SideBuy
	if sig.Direction == market.DirectionShort {
		side = market.SideSell
	}

	order := market.Order{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: qty,
		Price:    price,
		LotType:  lotType,
	}
	e.log.Infow("entering position",
		"symbol", order.Symbol, "side", side, "qty", qty, "price", price,
		"sizing", method, "confidence", sig.Confidence)

	return e.routeOrder(ctx, order, sig.Reason, now)
}

// sizePosition applies the configured sizing policy, falling back to
// fixed risk when the pinned method lacks its inputs.
func (e *Engine) sizePosition(price, equity float64) (int64, market.LotType, sizing.Method) {
	roundLot := e.cfg.TradingMode != market.ModeFutures

	in := sizing.Input{
		Equity:         equity,
		Price:          price,
		RiskPct:        e.cfg.RiskPct,
		KellyCapPct:    e.cfg.KellyCapPct,
		ATRMultiplier:  e.cfg.ATRMultiplier,
		MaxPositionPct: e.cfg.MaxPositionPct,
		RoundLot:       roundLot,
	}

	switch e.cfg.SizingMethod {
	case sizing.MethodFixedRisk:
		in.Method = sizing.MethodFixedRisk
	case sizing.MethodATR:
		if e.atr.IsReady() && e.atr.Value() > 0 {
			in.Method = sizing.MethodATR
			in.ATR = e.atr.Value()
		} else {
			in.Method = sizing.MethodFixedRisk
		}
	default:
		// Half-Kelly once enough realized trades exist, ATR while the
		// ATR is warm, fixed risk otherwise.
		if p, b, ok := e.kellyInputs(); ok {
			in.Method = sizing.MethodHalfKelly
			in.WinRate = p
			in.PayoffRatio = b
		} else if e.atr.IsReady() && e.atr.Value() > 0 {
			in.Method = sizing.MethodATR
			in.ATR = e.atr.Value()
		} else {
			in.Method = sizing.MethodFixedRisk
		}
	}

	res, err := sizing.Calculate(in)
	if err != nil {
		e.log.Warnw("sizing failed", "err", err)
		return 0, market.LotTypeOdd, in.Method
	}
	return res.Quantity, res.LotType, in.Method
}

// kellyInputs derives win rate and payoff ratio from realized history.
func (e *Engine) kellyInputs() (p, b float64, ok bool) {
	realized := e.ledger.Realized()
	if len(realized) < e.cfg.MinKellyTrades {
		return 0, 0, false
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, r := range realized {
		if r.PnL > 0 {
			wins++
			winSum += r.PnL
		} else if r.PnL < 0 {
			losses++
			lossSum += -r.PnL
		}
	}
	if wins == 0 || losses == 0 || lossSum == 0 {
		return 0, 0, false
	}
	avgWin := winSum / float64(wins)
	avgLoss := lossSum / float64(losses)
	return float64(wins) / float64(wins+losses), avgWin / avgLoss, true
}

// routeExit closes the full position with an immediate order.
func (e *Engine) routeExit(ctx context.Context, pos market.Position, price float64, reason string, emergency bool) bool {
	side := market.SideSell
	if pos.IsShort() {
		side = market.SideBuy
	}
	order := market.Order{
		Symbol:    pos.Symbol,
		Side:      side,
		Quantity:  abs64(pos.Quantity),
		Price:     price,
		LotType:   lotTypeFor(abs64(pos.Quantity)),
		IsExit:    true,
		Emergency: emergency,
	}
	e.log.Infow("routing exit", "symbol", order.Symbol, "qty", order.Quantity, "reason", reason)
	return e.routeOrder(ctx, order, reason, time.Now())
}

// routeOrder submits through the router and applies fills to the ledger.
// Fills are applied sequentially on the caller's goroutine: the engine
// remains the single logical writer.
func (e *Engine) routeOrder(ctx context.Context, order market.Order, reason string, now time.Time) bool {
	e.inFlight.Add(1)
	defer e.inFlight.Done()

	report, err := e.router.Execute(ctx, order, e.recentVolatility())
	if err != nil {
		e.log.Warnw("order execution failed", "symbol", order.Symbol, "err", err)
		_ = e.audit.InsertEvent(ctx, "order_failed",
			fmt.Sprintf("%s %s x%d: %v", order.Side, order.Symbol, order.Quantity, err), now)
		return false
	}

	for _, fill := range report.Fills {
		entry, err := e.ledger.Apply(fill)
		if err != nil {
			e.log.Errorw("ledger apply failed", "fill", fill.OrderRef, "err", err)
			continue
		}
		rec := store.TradeRecord{
			OrderRef:    fill.OrderRef,
			Fill:        fill,
			Reason:      reason,
			IsSimulated: e.isSimulation(),
		}
		if entry.Quantity > 0 {
			pnl := entry.PnL
			rec.RealizedPnL = &pnl
		}
		if err := e.audit.InsertTrade(ctx, rec); err != nil {
			e.log.Warnw("persisting trade failed", "ref", fill.OrderRef, "err", err)
		}
	}
	return len(report.Fills) > 0
}

// EmergencyShutdown preempts pending work: flattens every open position
// with immediate emergency orders, pauses the gatekeeper and notifies.
func (e *Engine) EmergencyShutdown(ctx context.Context, reason string) {
	e.log.Errorw("EMERGENCY SHUTDOWN", "reason", reason)
	e.gate.Pause()

	price := e.LastPrice()
	for _, pos := range e.ledger.Snapshot() {
		p := price
		if p <= 0 {
			p = pos.AvgEntryPrice
		}
		e.routeExit(ctx, pos, p, "emergency shutdown", true)
	}

	e.sendNotification(ctx, fmt.Sprintf("EMERGENCY SHUTDOWN: %s", reason))
	_ = e.audit.InsertEvent(ctx, "emergency_shutdown", reason, time.Now())
}

// ChangeStock flattens any open position in the old symbol, persists the
// new active stock and resets the main strategy's state.
func (e *Engine) ChangeStock(ctx context.Context, symbol string) error {
	old := e.ActiveStock()
	if symbol == old {
		return nil
	}

	pos := e.ledger.Get(old)
	if !pos.IsFlat() {
		price := e.LastPrice()
		if price <= 0 {
			price = pos.AvgEntryPrice
		}
		if !e.routeExit(ctx, pos, price, "change-stock", false) {
			return fmt.Errorf("engine: could not flatten %s before stock change", old)
		}
	}

	if err := e.sysCfg.SetActiveStock(ctx, symbol); err != nil {
		return fmt.Errorf("engine: persisting active stock: %w", err)
	}

	e.mu.Lock()
	e.activeStock = symbol
	e.mu.Unlock()
	e.atr.Reset()
	if main := e.mgr.Main(); main != nil {
		main.Reset()
	}
	e.log.Infow("active stock changed", "from", old, "to", symbol)
	return nil
}

// Shutdown drains in-flight orders up to the grace period, then forces a
// flatten of whatever remains open.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	e.mu.Unlock()

	e.log.Infow("engine shutting down, draining in-flight orders", "grace", e.cfg.DrainTimeout)

	done := make(chan struct{})
	go func() {
		e.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.DrainTimeout):
		e.log.Warnw("drain grace expired with orders still in flight")
	}

	for _, pos := range e.ledger.Snapshot() {
		price := e.LastPrice()
		if price <= 0 {
			price = pos.AvgEntryPrice
		}
		if _, err := e.ledger.Flatten(pos.Symbol, price, "shutdown", time.Now()); err != nil {
			e.log.Warnw("flatten on shutdown failed", "symbol", pos.Symbol, "err", err)
		}
	}
	e.log.Infow("engine stopped")
	return nil
}

// runEODOnce persists daily statistics the first time a tick lands
// outside the trading window each day.
func (e *Engine) runEODOnce(ctx context.Context, now time.Time) {
	day := now.Format("2006-01-02")
	e.mu.Lock()
	if e.eodDoneDay == day {
		e.mu.Unlock()
		return
	}
	e.eodDoneDay = day
	e.mu.Unlock()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
	realized := e.ledger.RealizedSince(dayStart)

	var unrealized float64
	price := e.LastPrice()
	for sym := range e.ledger.Snapshot() {
		unrealized += e.ledger.UnrealizedPnL(sym, price)
	}

	var trades, wins int64
	for _, r := range e.ledger.Realized() {
		if r.Timestamp.Before(dayStart) {
			continue
		}
		trades++
		if r.PnL > 0 {
			wins++
		}
	}

	statsRow := store.DailyStats{
		Date:          dayStart,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		Equity:        e.cfg.InitialCapital + realized + unrealized,
		TradeCount:    trades,
		WinCount:      wins,
	}
	if err := e.audit.UpsertDailyStats(ctx, statsRow); err != nil {
		e.log.Warnw("persisting daily statistics failed", "err", err)
		return
	}
	e.log.Infow("end-of-day statistics persisted",
		"date", day, "realized", realized, "trades", trades)
}

func (e *Engine) observePrice(price float64, now time.Time, symbol string) {
	e.mu.Lock()
	prev := e.lastPrice
	e.lastPrice = price
	e.mu.Unlock()

	if prev > 0 {
		e.returns.Append((price-prev)/prev, now)
	}
	e.atr.Update(e.syntheticBar(symbol, price, now))
}

// syntheticBar lifts a tick price into the bar contract the strategies
// consume.
func (e *Engine) syntheticBar(symbol string, price float64, now time.Time) market.Bar {
	return market.Bar{
		Symbol:     symbol,
		Timeframe:  market.TimeframeTick,
		Timestamp:  now,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Volume:     0,
		IsComplete: true,
	}
}

// recentVolatility is the standard deviation of recent tick returns,
// used by the router's TWAP window widening.
func (e *Engine) recentVolatility() float64 {
	vals := e.returns.Values()
	if len(vals) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

func (e *Engine) persistUnrealized(ctx context.Context, pos market.Position, price float64, now time.Time) {
	payload := fmt.Sprintf(`{"symbol":%q,"quantity":%d,"unrealized":%.2f}`,
		pos.Symbol, pos.Quantity, pos.UnrealizedPnL(price))
	if err := e.audit.InsertEvent(ctx, "unrealized_snapshot", payload, now); err != nil {
		e.log.Debugw("persisting unrealized snapshot failed", "err", err)
	}
}

func (e *Engine) sendNotification(ctx context.Context, text string) {
	if e.notify == nil {
		return
	}
	if err := e.notify.Send(ctx, text); err != nil {
		e.log.Warnw("notification send failed", "err", err)
	}
}

// inTradingWindow reports whether now falls inside [open, close).
func (e *Engine) inTradingWindow(now time.Time) bool {
	t := now.In(e.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	openMin := parseHHMM(e.cfg.MarketOpen, 9*60)
	closeMin := parseHHMM(e.cfg.MarketClose, 13*60+30)
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= openMin && minutes < closeMin
}

func parseHHMM(s string, def int) int {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return def
	}
	return h*60 + m
}

func lotTypeFor(qty int64) market.LotType {
	if qty%market.RoundLotSize == 0 {
		return market.LotTypeRound
	}
	return market.LotTypeOdd
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
