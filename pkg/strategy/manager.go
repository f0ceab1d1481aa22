package strategy

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/stats"
)

// perfSeriesLen bounds each strategy's rolling return/equity series.
const perfSeriesLen = 2048

// SwapEvent describes one drawdown-driven main-strategy replacement.
type SwapEvent struct {
	From         string
	To           string
	Symbol       string
	MainDrawdown float64
	Sharpe       float64
	Timestamp    time.Time
}

// Manager owns the main strategy and the shadow pool. Only the main
// strategy's signal drives live orders; shadows feed the performance
// store used for swap ranking.
type Manager struct {
	mu      sync.RWMutex
	main    Strategy
	shadows []Strategy

	deadline    time.Duration
	maxDrawdown float64

	returns *stats.SeriesManager // per-strategy daily returns
	equity  *stats.SeriesManager // per-strategy equity curves

	paperMu sync.Mutex
	paper   map[string]*paperState

	onSwap        func(SwapEvent)
	onPerformance func(strategyName, symbol string, dailyReturn, equity float64, asOf time.Time)
	log           *zap.SugaredLogger
}

// paperState tracks one strategy's hypothetical curve: an equity index
// starting at 100, marked to each observed bar.
type paperState struct {
	symbol    string
	direction int // -1 short, 0 flat, 1 long
	lastPrice float64
	equity    float64
	day       string
	dayStart  float64
}

// NewManager builds a manager. deadline bounds each strategy evaluation;
// maxDrawdown is the swap trigger as a fraction (0.15 = 15%).
func NewManager(deadline time.Duration, maxDrawdown float64, log *zap.SugaredLogger) *Manager {
	if deadline <= 0 {
		deadline = 200 * time.Millisecond
	}
	if maxDrawdown <= 0 {
		maxDrawdown = 0.15
	}
	return &Manager{
		deadline:    deadline,
		maxDrawdown: maxDrawdown,
		returns:     stats.NewSeriesManager(),
		equity:      stats.NewSeriesManager(),
		paper:       make(map[string]*paperState),
		log:         log,
	}
}

// SetMain installs the main strategy.
func (m *Manager) SetMain(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.main = s
}

// Main returns the current main strategy.
func (m *Manager) Main() Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.main
}

// AddShadow appends a shadow strategy.
func (m *Manager) AddShadow(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadows = append(m.shadows, s)
}

// Shadows returns the current shadow pool.
func (m *Manager) Shadows() []Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Strategy, len(m.shadows))
	copy(out, m.shadows)
	return out
}

// SetOnSwap registers a sink for swap events.
func (m *Manager) SetOnSwap(fn func(SwapEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSwap = fn
}

// Evaluation is one strategy's result for a tick.
type Evaluation struct {
	Strategy string
	Symbol   string
	IsMain   bool
	Signal   market.TradeSignal
	TimedOut bool
}

// EvaluateAll runs every enabled strategy in parallel against its
// symbol's latest bar. A strategy that misses the deadline yields a
// neutral signal; a slow strategy never blocks the others.
func (m *Manager) EvaluateAll(ctx context.Context, snap Snapshot, bars map[string]market.Bar) []Evaluation {
	m.mu.RLock()
	main := m.main
	shadows := make([]Strategy, len(m.shadows))
	copy(shadows, m.shadows)
	m.mu.RUnlock()

	type slot struct {
		s      Strategy
		isMain bool
	}
	slots := make([]slot, 0, len(shadows)+1)
	if main != nil {
		slots = append(slots, slot{main, true})
	}
	for _, s := range shadows {
		slots = append(slots, slot{s, false})
	}

	results := make([]Evaluation, len(slots))
	g, gctx := errgroup.WithContext(ctx)

	for i, sl := range slots {
		i, sl := i, sl
		g.Go(func() error {
			bar, ok := bars[sl.s.Symbol()]
			ev := Evaluation{Strategy: sl.s.Name(), Symbol: sl.s.Symbol(), IsMain: sl.isMain}
			if !ok {
				ev.Signal = neutralSignal(sl.s, "no bar for symbol")
				results[i] = ev
				return nil
			}
			ev.Signal, ev.TimedOut = m.executeWithDeadline(gctx, sl.s, snap, bar)
			results[i] = ev
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SetOnPerformance registers a sink receiving one performance point per
// strategy per day roll, as observed through ObserveEvaluations.
func (m *Manager) SetOnPerformance(fn func(strategyName, symbol string, dailyReturn, equity float64, asOf time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPerformance = fn
}

// ObserveEvaluations marks every strategy's paper curve to the evaluated
// bars and applies the signalled direction changes. Equity is appended
// per observation so intraday drawdown is visible; a daily return point
// is recorded (and forwarded to the performance sink) at each day roll.
func (m *Manager) ObserveEvaluations(evals []Evaluation, bars map[string]market.Bar, now time.Time) {
	m.mu.RLock()
	sink := m.onPerformance
	m.mu.RUnlock()

	day := now.Format("2006-01-02")

	m.paperMu.Lock()
	defer m.paperMu.Unlock()
	for _, ev := range evals {
		bar, ok := bars[ev.Symbol]
		if !ok || bar.Close <= 0 {
			continue
		}
		st := m.paper[ev.Strategy]
		if st == nil {
			st = &paperState{symbol: ev.Symbol, equity: 100, day: day, dayStart: 100}
			m.paper[ev.Strategy] = st
		}

		if st.lastPrice > 0 && st.direction != 0 {
			st.equity *= 1 + float64(st.direction)*(bar.Close-st.lastPrice)/st.lastPrice
		}
		st.lastPrice = bar.Close

		switch ev.Signal.Direction {
		case market.DirectionLong:
			st.direction = 1
		case market.DirectionShort:
			st.direction = -1
		case market.DirectionExit:
			st.direction = 0
		}

		if day != st.day {
			var ret float64
			if st.dayStart > 0 {
				ret = (st.equity - st.dayStart) / st.dayStart
			}
			m.returns.GetOrCreate(ev.Strategy, perfSeriesLen).Append(ret, now)
			if sink != nil {
				sink(ev.Strategy, st.symbol, ret, st.equity, now)
			}
			st.day = day
			st.dayStart = st.equity
		}
		m.equity.GetOrCreate(ev.Strategy, perfSeriesLen).Append(st.equity, now)
	}
}

// executeWithDeadline runs Execute in a goroutine and substitutes a
// neutral signal when the per-strategy deadline elapses.
func (m *Manager) executeWithDeadline(ctx context.Context, s Strategy, snap Snapshot, bar market.Bar) (market.TradeSignal, bool) {
	done := make(chan market.TradeSignal, 1)
	go func() {
		done <- s.Execute(snap, bar)
	}()

	timer := time.NewTimer(m.deadline)
	defer timer.Stop()

	select {
	case sig := <-done:
		return sig, false
	case <-timer.C:
		return neutralSignal(s, "evaluation deadline exceeded"), true
	case <-ctx.Done():
		return neutralSignal(s, "evaluation cancelled"), true
	}
}

func neutralSignal(s Strategy, reason string) market.TradeSignal {
	return market.TradeSignal{
		Direction:    market.DirectionNeutral,
		StrategyName: s.Name(),
		Symbol:       s.Symbol(),
		Reason:       reason,
		Timestamp:    time.Now(),
	}
}

// RecordPerformance appends one daily observation for a strategy.
func (m *Manager) RecordPerformance(strategyName string, dailyReturn, equity float64, asOf time.Time) {
	m.returns.GetOrCreate(strategyName, perfSeriesLen).Append(dailyReturn, asOf)
	m.equity.GetOrCreate(strategyName, perfSeriesLen).Append(equity, asOf)
}

// Sharpe returns the annualized Sharpe of a strategy over observations
// recorded at or after since.
func (m *Manager) Sharpe(strategyName string, since time.Time) float64 {
	series, ok := m.returns.Get(strategyName)
	if !ok {
		return 0
	}
	return stats.SharpeRatio(series.ValuesSince(since))
}

// MainDrawdown returns the main strategy's maximum drawdown over equity
// observations recorded at or after since.
func (m *Manager) MainDrawdown(since time.Time) float64 {
	main := m.Main()
	if main == nil {
		return 0
	}
	series, ok := m.equity.Get(main.Name())
	if !ok {
		return 0
	}
	return stats.MaxDrawdown(series.ValuesSince(since))
}

// SwapIfNeeded replaces the main strategy with the best shadow when the
// main's trailing drawdown exceeds the trigger. Candidates must share the
// main's market code and beat its Sharpe. Returns the swap performed, if
// any. Stock changes are never automatic; the chosen shadow keeps its
// own symbol binding out of the live path until an operator confirms.
func (m *Manager) SwapIfNeeded(since time.Time, now time.Time) (SwapEvent, bool) {
	main := m.Main()
	if main == nil {
		return SwapEvent{}, false
	}

	dd := m.MainDrawdown(since)
	if dd <= m.maxDrawdown {
		return SwapEvent{}, false
	}

	mainSharpe := m.Sharpe(main.Name(), since)
	code := marketCode(main.Symbol())

	var best Strategy
	bestSharpe := mainSharpe
	for _, s := range m.Shadows() {
		if marketCode(s.Symbol()) != code {
			continue
		}
		if sharpe := m.Sharpe(s.Name(), since); sharpe > bestSharpe {
			best, bestSharpe = s, sharpe
		}
	}
	if best == nil {
		m.log.Warnw("drawdown trigger hit but no better candidate",
			"main", main.Name(), "drawdown", dd, "sharpe", mainSharpe)
		return SwapEvent{}, false
	}

	m.mu.Lock()
	// Atomic replacement: the old main joins the shadow pool.
	m.shadows = append(removeStrategy(m.shadows, best), main)
	m.main = best
	sink := m.onSwap
	m.mu.Unlock()

	ev := SwapEvent{
		From:         main.Name(),
		To:           best.Name(),
		Symbol:       best.Symbol(),
		MainDrawdown: dd,
		Sharpe:       bestSharpe,
		Timestamp:    now,
	}
	m.log.Infow("main strategy swapped on drawdown trigger",
		"from", ev.From, "to", ev.To, "drawdown", dd, "sharpe", bestSharpe)
	if sink != nil {
		sink(ev)
	}
	return ev, true
}

func removeStrategy(list []Strategy, target Strategy) []Strategy {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// marketCode extracts the exchange suffix of a symbol, e.g. "TW" from
// "2454.TW". Symbols without a suffix (futures codes) share "".
func marketCode(symbol string) string {
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		return symbol[i+1:]
	}
	return ""
}
