// Package bot maps operator chat commands onto engine, risk and
// strategy controls. Commands are the only path that flips the process
// between simulated and live order flow.
package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/ledger"
	"github.com/yourusername/tw-trade-orchestrator/pkg/llm"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/strategy"
)

// EngineControl is the engine surface the dispatcher drives.
type EngineControl interface {
	ActiveStock() string
	LastPrice() float64
	Ledger() *ledger.Ledger
	ChangeStock(ctx context.Context, symbol string) error
	SetLive(live bool)
	EmergencyShutdown(ctx context.Context, reason string)
}

// MainBindingStore persists main-strategy promotions. Optional.
type MainBindingStore interface {
	SetActive(ctx context.Context, strategyName, symbol, parameters string) error
}

// ShadowLister reads the ranked shadow-stock list. Optional.
type ShadowLister interface {
	ShadowList(ctx context.Context) ([]market.ShadowStock, error)
}

// RiskControl is the gatekeeper surface the dispatcher drives.
type RiskControl interface {
	Pause()
	Resume()
	IsPaused(now time.Time) bool
}

// StrategyControl exposes the main/shadow pool for status and promotion.
type StrategyControl interface {
	Main() strategy.Strategy
	Shadows() []strategy.Strategy
	SetMain(strategy.Strategy)
	AddShadow(strategy.Strategy)
	MainDrawdown(since time.Time) float64
}

// TradeStatsProvider aggregates realized trade outcomes for go-live
// eligibility.
type TradeStatsProvider interface {
	TradeStatsSince(ctx context.Context, t time.Time) (total, wins int64, realized float64, err error)
}

// Asker answers free-form operator questions. Optional.
type Asker interface {
	Ask(ctx context.Context, question, contextBlob string) (llm.Insight, error)
}

// GoLiveConfig gates the sim -> live transition.
type GoLiveConfig struct {
	ConfirmWindow time.Duration // /confirmlive must land inside this
	Lookback      time.Duration // simulated history inspected
	MinTrades     int64
	MinWinRate    float64 // fraction
	MaxDrawdown   float64 // fraction
}

// HandlerFunc executes one command. args excludes the command itself.
type HandlerFunc func(ctx context.Context, args []string) (string, error)

type handler struct {
	fn   HandlerFunc
	help string
}

// Dispatcher parses slash commands and routes them to handlers. It also
// owns the trading-mode state machine.
type Dispatcher struct {
	engine   EngineControl
	gate     RiskControl
	strat    StrategyControl
	stats    TradeStatsProvider
	asker    Asker            // nil disables /ask
	binding  MainBindingStore // nil skips promotion persistence
	shadows  ShadowLister     // nil disables /shadows
	goLive   GoLiveConfig
	shutdown func() // cancels the process root context
	log      *zap.SugaredLogger

	mu            sync.Mutex
	handlers      map[string]handler
	modeLive      bool
	pendingGoLive time.Time
	now           func() time.Time
}

// New builds a dispatcher with the built-in command set registered.
// asker may be nil; shutdown is invoked by /shutdown; startLive seeds
// the mode from TRADING_MODE at boot.
func New(engine EngineControl, gate RiskControl, strat StrategyControl,
	stats TradeStatsProvider, asker Asker, goLive GoLiveConfig,
	startLive bool, shutdown func(), log *zap.SugaredLogger) *Dispatcher {

	if goLive.ConfirmWindow <= 0 {
		goLive.ConfirmWindow = 10 * time.Minute
	}
	if goLive.Lookback <= 0 {
		goLive.Lookback = 30 * 24 * time.Hour
	}

	d := &Dispatcher{
		engine:   engine,
		gate:     gate,
		strat:    strat,
		stats:    stats,
		asker:    asker,
		goLive:   goLive,
		shutdown: shutdown,
		log:      log,
		handlers: make(map[string]handler),
		modeLive: startLive,
		now:      time.Now,
	}
	d.registerBuiltins()
	return d
}

// SetBindingStore wires persistence for /set-main-strategy and swap
// promotions. Must be called before the dispatcher serves traffic.
func (d *Dispatcher) SetBindingStore(s MainBindingStore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binding = s
}

// SetShadowLister wires the shadow-stock list behind /shadows. Must be
// called before the dispatcher serves traffic.
func (d *Dispatcher) SetShadowLister(s ShadowLister) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shadows = s
}

// Register adds or replaces a command handler.
func (d *Dispatcher) Register(name, help string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = handler{fn: fn, help: help}
}

// IsLive reports whether live order flow is enabled.
func (d *Dispatcher) IsLive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modeLive
}

// Dispatch parses one chat message and returns the reply text. Messages
// that do not start with "/" are ignored with an empty reply.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	fields := strings.Fields(text)
	name := strings.ToLower(fields[0])

	d.mu.Lock()
	h, ok := d.handlers[name]
	d.mu.Unlock()
	if !ok {
		return fmt.Sprintf("unknown command %s\n%s", name, d.helpText())
	}

	reply, err := h.fn(ctx, fields[1:])
	if err != nil {
		d.log.Warnw("command failed", "command", name, "err", err)
		return fmt.Sprintf("%s failed: %v", name, err)
	}
	return reply
}

func (d *Dispatcher) helpText() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("commands:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s - %s", name, d.handlers[name].help)
	}
	return b.String()
}

func (d *Dispatcher) registerBuiltins() {
	d.Register("/status", "show mode, position and risk state", d.cmdStatus)
	d.Register("/pause", "pause all entries", d.cmdPause)
	d.Register("/resume", "resume entries", d.cmdResume)
	d.Register("/shutdown", "flatten and stop the process", d.cmdShutdown)
	d.Register("/change-stock", "switch the active stock: /change-stock 2330.TW", d.cmdChangeStock)
	d.Register("/set-main-strategy", "promote a shadow strategy by name", d.cmdSetMainStrategy)
	d.Register("/shadows", "list ranked shadow stock candidates", d.cmdShadows)
	d.Register("/golive", "request live trading (needs /confirmlive)", d.cmdGoLive)
	d.Register("/confirmlive", "confirm a pending /golive", d.cmdConfirmLive)
	d.Register("/backtosim", "return to simulated trading", d.cmdBackToSim)
	d.Register("/ask", "ask the insight model a question", d.cmdAsk)
}

func (d *Dispatcher) cmdStatus(ctx context.Context, _ []string) (string, error) {
	now := d.now()
	active := d.engine.ActiveStock()
	price := d.engine.LastPrice()
	pos := d.engine.Ledger().Get(active)

	mode := "SIMULATED"
	if d.IsLive() {
		mode = "LIVE"
	}
	paused := "running"
	if d.gate.IsPaused(now) {
		paused = "PAUSED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "mode: %s (%s)\n", mode, paused)
	fmt.Fprintf(&b, "active stock: %s @ %.2f\n", active, price)
	if pos.IsFlat() {
		b.WriteString("position: flat\n")
	} else {
		fmt.Fprintf(&b, "position: %d @ %.2f (unrealized %.0f)\n",
			pos.Quantity, pos.AvgEntryPrice, pos.UnrealizedPnL(price))
	}
	if main := d.strat.Main(); main != nil {
		fmt.Fprintf(&b, "main strategy: %s (%s)\n", main.Name(), main.Type())
	}
	fmt.Fprintf(&b, "shadows: %d\n", len(d.strat.Shadows()))

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	fmt.Fprintf(&b, "realized today: %.0f", d.engine.Ledger().RealizedSince(dayStart))
	return b.String(), nil
}

func (d *Dispatcher) cmdPause(context.Context, []string) (string, error) {
	d.gate.Pause()
	return "trading paused, entries are blocked", nil
}

func (d *Dispatcher) cmdResume(context.Context, []string) (string, error) {
	d.gate.Resume()
	return "trading resumed", nil
}

func (d *Dispatcher) cmdShutdown(context.Context, []string) (string, error) {
	if d.shutdown != nil {
		d.shutdown()
	}
	return "shutdown requested, draining orders", nil
}

func (d *Dispatcher) cmdChangeStock(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: /change-stock <symbol>")
	}
	symbol := strings.ToUpper(args[0])
	old := d.engine.ActiveStock()
	if err := d.engine.ChangeStock(ctx, symbol); err != nil {
		return "", err
	}
	return fmt.Sprintf("active stock changed: %s -> %s", old, symbol), nil
}

func (d *Dispatcher) cmdSetMainStrategy(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: /set-main-strategy <name>")
	}
	name := args[0]

	var target strategy.Strategy
	for _, s := range d.strat.Shadows() {
		if s.Name() == name {
			target = s
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("no shadow strategy named %q", name)
	}

	old := d.strat.Main()
	d.strat.SetMain(target)
	if old != nil {
		d.strat.AddShadow(old)
	}
	if d.binding != nil {
		if err := d.binding.SetActive(ctx, target.Name(), target.Symbol(), ""); err != nil {
			d.log.Warnw("persisting main-strategy binding failed", "strategy", name, "err", err)
			return fmt.Sprintf("main strategy is now %s (binding not persisted: %v)", name, err), nil
		}
	}
	return fmt.Sprintf("main strategy is now %s", name), nil
}

func (d *Dispatcher) cmdShadows(ctx context.Context, _ []string) (string, error) {
	if d.shadows == nil {
		return "shadow list is not configured", nil
	}
	list, err := d.shadows.ShadowList(ctx)
	if err != nil {
		return "", fmt.Errorf("reading shadow list: %w", err)
	}
	if len(list) == 0 {
		return "no shadow stocks tracked", nil
	}

	var b strings.Builder
	b.WriteString("shadow stocks:")
	for _, s := range list {
		state := "enabled"
		if !s.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "\n  %d. %s (%s, %s)", s.Rank, s.Symbol, s.StrategyName, state)
	}
	return b.String(), nil
}

// cmdGoLive checks eligibility over the simulated lookback and opens the
// confirmation window. Live flow starts only after /confirmlive.
func (d *Dispatcher) cmdGoLive(ctx context.Context, _ []string) (string, error) {
	if d.IsLive() {
		return "already live", nil
	}

	now := d.now()
	since := now.Add(-d.goLive.Lookback)
	total, wins, realized, err := d.stats.TradeStatsSince(ctx, since)
	if err != nil {
		return "", fmt.Errorf("checking eligibility: %w", err)
	}

	var reasons []string
	if total < d.goLive.MinTrades {
		reasons = append(reasons, fmt.Sprintf("only %d trades, need %d", total, d.goLive.MinTrades))
	}
	if total > 0 {
		winRate := float64(wins) / float64(total)
		if winRate < d.goLive.MinWinRate {
			reasons = append(reasons, fmt.Sprintf("win rate %.0f%%, need %.0f%%", winRate*100, d.goLive.MinWinRate*100))
		}
	}
	if dd := d.strat.MainDrawdown(since); d.goLive.MaxDrawdown > 0 && dd > d.goLive.MaxDrawdown {
		reasons = append(reasons, fmt.Sprintf("drawdown %.1f%% exceeds %.1f%%", dd*100, d.goLive.MaxDrawdown*100))
	}
	if len(reasons) > 0 {
		return fmt.Sprintf("not eligible for live trading: %s", strings.Join(reasons, "; ")), nil
	}

	d.mu.Lock()
	d.pendingGoLive = now
	d.mu.Unlock()

	return fmt.Sprintf(
		"eligible: %d trades, %d wins, realized %.0f. Send /confirmlive within %s to enable LIVE trading.",
		total, wins, realized, d.goLive.ConfirmWindow), nil
}

func (d *Dispatcher) cmdConfirmLive(context.Context, []string) (string, error) {
	now := d.now()

	d.mu.Lock()
	pending := d.pendingGoLive
	if pending.IsZero() {
		d.mu.Unlock()
		return "no pending /golive request", nil
	}
	if now.Sub(pending) > d.goLive.ConfirmWindow {
		d.pendingGoLive = time.Time{}
		d.mu.Unlock()
		return "confirmation window expired, send /golive again", nil
	}
	d.pendingGoLive = time.Time{}
	d.modeLive = true
	d.mu.Unlock()

	d.engine.SetLive(true)
	d.log.Infow("live trading enabled by operator")
	return "LIVE trading enabled", nil
}

func (d *Dispatcher) cmdBackToSim(context.Context, []string) (string, error) {
	d.mu.Lock()
	wasLive := d.modeLive
	d.modeLive = false
	d.pendingGoLive = time.Time{}
	d.mu.Unlock()

	if !wasLive {
		return "already in simulated mode", nil
	}
	d.engine.SetLive(false)
	d.log.Infow("reverted to simulated trading")
	return "back to SIMULATED trading", nil
}

func (d *Dispatcher) cmdAsk(ctx context.Context, args []string) (string, error) {
	if d.asker == nil {
		return "insight model is not configured", nil
	}
	if len(args) == 0 {
		return "", fmt.Errorf("usage: /ask <question>")
	}

	question := strings.Join(args, " ")
	status, _ := d.cmdStatus(ctx, nil)
	insight, err := d.asker.Ask(ctx, question, status)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n(confidence %.2f)", insight.Content, insight.Confidence), nil
}
