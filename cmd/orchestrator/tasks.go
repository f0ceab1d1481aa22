package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/llm"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/scheduler"
	"github.com/yourusername/tw-trade-orchestrator/pkg/strategy"
)

// notifyFunc pushes one operator notification. Failures are logged by
// the caller, never propagated.
type notifyFunc func(ctx context.Context, text string)

// taskClock pins the wall clock; nil means time.Now.
type taskClock func() time.Time

func clockOr(clock taskClock, loc *time.Location) func() time.Time {
	if clock == nil {
		return func() time.Time { return time.Now().In(loc) }
	}
	return func() time.Time { return clock().In(loc) }
}

// swapPersister records a drawdown swap: the selection audit row, the
// new main-strategy binding and the strategy/stock mapping.
type swapPersister interface {
	RecordShadowSelection(ctx context.Context, symbol, strategyName string) error
	SetActive(ctx context.Context, name, symbol, parameters string) error
	UpsertStockMapping(ctx context.Context, strategyName, symbol string) error
}

func swapCheckTask(interval time.Duration, lookbackDays int, loc *time.Location,
	mgr *strategy.Manager, strategies swapPersister, notify notifyFunc,
	clock taskClock, log *zap.SugaredLogger) scheduler.Task {

	now := clockOr(clock, loc)
	return scheduler.Task{
		Name: "drawdown-swap-check",
		Next: scheduler.Every(interval),
		Run: func(ctx context.Context) error {
			t := now()
			ev, swapped := mgr.SwapIfNeeded(t.AddDate(0, 0, -lookbackDays), t)
			if !swapped {
				return nil
			}
			notify(ctx, fmt.Sprintf("strategy swap: %s -> %s (drawdown %.1f%%)",
				ev.From, ev.To, ev.MainDrawdown*100))
			if err := strategies.SetActive(ctx, ev.To, ev.Symbol, ""); err != nil {
				return err
			}
			if err := strategies.UpsertStockMapping(ctx, ev.To, ev.Symbol); err != nil {
				return err
			}
			return strategies.RecordShadowSelection(ctx, ev.Symbol, ev.To)
		},
	}
}

// blackoutCalendar reads the refresh stamp and rewrites the earnings
// blackout dates for one symbol.
type blackoutCalendar interface {
	BlackoutRefreshedAt(ctx context.Context, symbol string) (time.Time, bool, error)
	ReplaceBlackoutDates(ctx context.Context, symbol string, dates []time.Time) error
}

// blackoutRefreshTask reloads the earnings blackout calendar for the
// active symbol when the stored copy is older than ttlDays. The calendar
// covers the current and the following year so year-end never leaves a
// gap.
func blackoutRefreshTask(ttlDays int, loc *time.Location, activeSymbol func() string,
	cal blackoutCalendar, clock taskClock, log *zap.SugaredLogger) scheduler.Task {

	now := clockOr(clock, loc)
	return scheduler.Task{
		Name: "blackout-refresh",
		Next: scheduler.DailyAt(7, 0, true),
		Run: func(ctx context.Context) error {
			symbol := activeSymbol()
			t := now()

			refreshed, ok, err := cal.BlackoutRefreshedAt(ctx, symbol)
			if err != nil {
				return err
			}
			if ok && t.Sub(refreshed) < time.Duration(ttlDays)*24*time.Hour {
				return nil
			}

			dates := scheduler.QuarterlyBlackoutDates(t.Year(), loc)
			dates = append(dates, scheduler.QuarterlyBlackoutDates(t.Year()+1, loc)...)
			if err := cal.ReplaceBlackoutDates(ctx, symbol, dates); err != nil {
				return err
			}
			log.Infow("blackout calendar refreshed", "symbol", symbol, "dates", len(dates))
			return nil
		},
	}
}

// eodStatsSource aggregates the day's trades and persists the summary
// insight.
type eodStatsSource interface {
	TradeStatsSince(ctx context.Context, t time.Time) (total, wins int64, realized float64, err error)
	InsertInsight(ctx context.Context, in market.LlmInsight) error
}

// insightAsker answers the end-of-day summary question. Nil disables
// the summary and the task only notifies the raw statistics.
type insightAsker interface {
	Ask(ctx context.Context, question, contextBlob string) (llm.Insight, error)
}

func eodReportTask(hour, minute int, loc *time.Location, activeSymbol func() string,
	trades eodStatsSource, asker insightAsker, notify notifyFunc,
	clock taskClock, log *zap.SugaredLogger) scheduler.Task {

	now := clockOr(clock, loc)
	return scheduler.Task{
		Name: "eod-report",
		Next: scheduler.DailyAt(hour, minute, true),
		Run: func(ctx context.Context) error {
			t := now()
			dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
			total, wins, realized, err := trades.TradeStatsSince(ctx, dayStart)
			if err != nil {
				return err
			}

			text := fmt.Sprintf("end of day: %d trades, %d wins, realized %.0f", total, wins, realized)
			if asker != nil {
				insight, err := asker.Ask(ctx,
					"Summarize today's trading session and flag risks for tomorrow.", text)
				if err != nil {
					log.Warnw("daily summary request failed", "err", err)
				} else {
					rec := market.LlmInsight{
						Type:             "daily_summary",
						Symbol:           activeSymbol(),
						Content:          insight.Content,
						Confidence:       insight.Confidence,
						ProcessingTimeMs: insight.ProcessingTimeMs,
						Success:          true,
						Timestamp:        t,
					}
					if err := trades.InsertInsight(ctx, rec); err != nil {
						log.Warnw("persisting daily summary failed", "err", err)
					}
					text += "\n" + insight.Content
				}
			}
			notify(ctx, text)
			return nil
		},
	}
}

// eventCalendar persists economic calendar rows.
type eventCalendar interface {
	InsertEconomicEvent(ctx context.Context, name, impact string, date time.Time) error
}

// futuresExpirationTask writes the year's twelve settlement dates into
// the economic calendar every January 1st.
func futuresExpirationTask(loc *time.Location, cal eventCalendar,
	clock taskClock, log *zap.SugaredLogger) scheduler.Task {

	now := clockOr(clock, loc)
	return scheduler.Task{
		Name: "futures-expirations",
		Next: scheduler.YearlyOn(time.January, 1, 0, 0),
		Run: func(ctx context.Context) error {
			year := now().Year()
			dates := scheduler.FuturesExpirations(year, loc, nil)
			for _, d := range dates {
				name := fmt.Sprintf("futures settlement %s", d.Format("2006-01"))
				if err := cal.InsertEconomicEvent(ctx, name, "high", d); err != nil {
					return err
				}
			}
			log.Infow("futures settlement calendar generated", "year", year, "dates", len(dates))
			return nil
		},
	}
}

// eventCleaner removes stale economic calendar rows.
type eventCleaner interface {
	CleanupOldEconomicEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// economicEventCleanupTask prunes events older than two years on the
// first of each month.
func economicEventCleanupTask(loc *time.Location, cleaner eventCleaner,
	clock taskClock, log *zap.SugaredLogger) scheduler.Task {

	now := clockOr(clock, loc)
	return scheduler.Task{
		Name: "economic-event-cleanup",
		Next: scheduler.MonthlyOn(1, 1, 0),
		Run: func(ctx context.Context) error {
			n, err := cleaner.CleanupOldEconomicEvents(ctx, now().AddDate(-2, 0, 0))
			if err != nil {
				return err
			}
			log.Infow("economic events cleaned", "rows", n)
			return nil
		},
	}
}
