// Package risk is the ordered veto pipeline in front of every entry
// order: operator pause, earnings blackout, daily and weekly loss
// breakers, news veto and the optional insight block.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// Severity grades a gatekeeper decision.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityFatal Severity = "fatal"
)

// Decision is the outcome of one gatekeeper check.
type Decision struct {
	Allow    bool
	Source   market.VetoSource
	Reason   string
	Severity Severity
}

// CheckContext describes the order being gated.
type CheckContext struct {
	Symbol    string
	IsExit    bool
	Emergency bool
	Now       time.Time
}

// BlackoutProvider answers whether a day falls in the earnings blackout
// calendar of a symbol.
type BlackoutProvider interface {
	IsBlackoutDate(ctx context.Context, symbol string, day time.Time) (bool, error)
}

// RealizedProvider reports realized P&L since a point in time.
type RealizedProvider interface {
	RealizedSince(t time.Time) float64
}

// LlmBlockProvider reports whether an insight recommended blocking the
// symbol recently.
type LlmBlockProvider interface {
	HasRecentBlock(ctx context.Context, symbol string, since time.Time) (bool, error)
}

// Limits are the gatekeeper thresholds, as absolute currency amounts.
type Limits struct {
	DailyLossLimit  float64
	WeeklyLossLimit float64
	LlmBlockWindow  time.Duration
}

// Gatekeeper evaluates the ordered pipeline. First failing check wins;
// every veto is logged and reported through the sink.
type Gatekeeper struct {
	mu          sync.RWMutex
	paused      bool
	pausedUntil time.Time
	newsVeto    bool

	limits   Limits
	blackout BlackoutProvider
	realized RealizedProvider
	llm      LlmBlockProvider // nil disables check 6
	onVeto   func(market.VetoEvent)
	log      *zap.SugaredLogger
	loc      *time.Location
}

// New builds a gatekeeper. llm may be nil.
func New(limits Limits, blackout BlackoutProvider, realized RealizedProvider, llm LlmBlockProvider, loc *time.Location, log *zap.SugaredLogger) *Gatekeeper {
	if limits.LlmBlockWindow <= 0 {
		limits.LlmBlockWindow = 30 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Gatekeeper{
		limits:   limits,
		blackout: blackout,
		realized: realized,
		llm:      llm,
		log:      log,
		loc:      loc,
	}
}

// SetOnVeto registers a sink for veto events.
func (g *Gatekeeper) SetOnVeto(fn func(market.VetoEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onVeto = fn
}

// Pause sets the operator pause flag.
func (g *Gatekeeper) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	g.pausedUntil = time.Time{}
}

// PauseUntil pauses until the given time, used by the weekly breaker.
func (g *Gatekeeper) PauseUntil(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	g.pausedUntil = t
}

// Resume clears the pause flag.
func (g *Gatekeeper) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
	g.pausedUntil = time.Time{}
}

// IsPaused reports the effective pause state at now.
func (g *Gatekeeper) IsPaused(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	if !g.pausedUntil.IsZero() && now.After(g.pausedUntil) {
		g.paused = false
		g.pausedUntil = time.Time{}
		return false
	}
	return true
}

// SetNewsVeto sets the cached news veto flag; the scheduler refreshes it.
func (g *Gatekeeper) SetNewsVeto(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.newsVeto = v
}

// Check runs the ordered pipeline. Exits and emergency flattens bypass
// the blackout, news and insight checks but still hit the loss breakers
// and the pause flag.
func (g *Gatekeeper) Check(ctx context.Context, c CheckContext) Decision {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	bypass := c.IsExit || c.Emergency

	// 1. Operator pause.
	if g.IsPaused(now) {
		return g.veto(c, market.VetoPause, "trading paused by operator", SeverityWarn)
	}

	// 2. Earnings blackout (entries only).
	if !bypass && g.blackout != nil {
		inBlackout, err := g.blackout.IsBlackoutDate(ctx, c.Symbol, now.In(g.loc))
		if err != nil {
			g.log.Warnw("blackout lookup failed, allowing", "symbol", c.Symbol, "err", err)
		} else if inBlackout {
			return g.veto(c, market.VetoBlackout,
				fmt.Sprintf("earnings blackout active for %s", c.Symbol), SeverityWarn)
		}
	}

	// 3. Daily loss breaker: fatal, triggers emergency shutdown upstream.
	dayStart := time.Date(now.In(g.loc).Year(), now.In(g.loc).Month(), now.In(g.loc).Day(), 0, 0, 0, 0, g.loc)
	daily := g.realized.RealizedSince(dayStart)
	if g.limits.DailyLossLimit > 0 && daily < -g.limits.DailyLossLimit {
		return g.veto(c, market.VetoDailyLimit,
			fmt.Sprintf("daily realized loss %.0f breaches limit %.0f", daily, g.limits.DailyLossLimit),
			SeverityFatal)
	}

	// 4. Rolling weekly loss breaker: pauses until next Monday.
	weekly := g.realized.RealizedSince(now.AddDate(0, 0, -7))
	if g.limits.WeeklyLossLimit > 0 && weekly < -g.limits.WeeklyLossLimit {
		g.PauseUntil(nextMonday(now.In(g.loc)))
		return g.veto(c, market.VetoWeeklyLimit,
			fmt.Sprintf("weekly realized loss %.0f breaches limit %.0f, paused until Monday", weekly, g.limits.WeeklyLossLimit),
			SeverityWarn)
	}

	// 5. News veto (entries only).
	if !bypass {
		g.mu.RLock()
		news := g.newsVeto
		g.mu.RUnlock()
		if news {
			return g.veto(c, market.VetoNews, "high-severity news veto active", SeverityWarn)
		}
	}

	// 6. Recent insight BLOCK recommendation (entries only, optional).
	if !bypass && g.llm != nil {
		blocked, err := g.llm.HasRecentBlock(ctx, c.Symbol, now.Add(-g.limits.LlmBlockWindow))
		if err != nil {
			g.log.Warnw("insight block lookup failed, allowing", "symbol", c.Symbol, "err", err)
		} else if blocked {
			return g.veto(c, market.VetoLLM,
				fmt.Sprintf("insight recommended BLOCK on %s", c.Symbol), SeverityWarn)
		}
	}

	return Decision{Allow: true, Severity: SeverityInfo}
}

func (g *Gatekeeper) veto(c CheckContext, source market.VetoSource, reason string, sev Severity) Decision {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	g.log.Infow("trade vetoed", "source", source, "symbol", c.Symbol, "reason", reason)

	g.mu.RLock()
	sink := g.onVeto
	g.mu.RUnlock()
	if sink != nil {
		sink(market.VetoEvent{
			Timestamp:       now,
			Source:          source,
			Reason:          reason,
			AffectedSymbols: []string{c.Symbol},
		})
	}
	return Decision{Allow: false, Source: source, Reason: reason, Severity: sev}
}

// nextMonday returns the upcoming Monday at midnight in t's location.
func nextMonday(t time.Time) time.Time {
	days := (int(time.Monday) - int(t.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	d := t.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}
