package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

type fakeBlackout struct{ dates map[string]bool }

func (f *fakeBlackout) IsBlackoutDate(_ context.Context, symbol string, day time.Time) (bool, error) {
	return f.dates[symbol+day.Format("2006-01-02")], nil
}

type fakeRealized struct {
	now    time.Time
	daily  float64
	weekly float64
}

func (f *fakeRealized) RealizedSince(t time.Time) float64 {
	// The daily window starts at midnight; the weekly window seven days back.
	if f.now.Sub(t) < 36*time.Hour {
		return f.daily
	}
	return f.weekly
}

type fakeLlm struct{ blocked bool }

func (f *fakeLlm) HasRecentBlock(context.Context, string, time.Time) (bool, error) {
	return f.blocked, nil
}

func newGatekeeper(t *testing.T, realized *fakeRealized, blackout *fakeBlackout, llm LlmBlockProvider) *Gatekeeper {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)
	realized.now = tradingTime(t)
	if blackout == nil {
		blackout = &fakeBlackout{dates: map[string]bool{}}
	}
	return New(Limits{
		DailyLossLimit:  30_000,
		WeeklyLossLimit: 80_000,
	}, blackout, realized, llm, loc, zap.NewNop().Sugar())
}

func tradingTime(t *testing.T) time.Time {
	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)
	return time.Date(2025, 3, 5, 10, 0, 0, 0, loc) // a Wednesday
}

func TestAllowWhenClean(t *testing.T) {
	g := newGatekeeper(t, &fakeRealized{}, nil, nil)
	d := g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: tradingTime(t)})
	assert.True(t, d.Allow)
	assert.Equal(t, SeverityInfo, d.Severity)
}

func TestPauseWinsFirst(t *testing.T) {
	// Even with a blackout in place, the pause flag is reported first.
	now := tradingTime(t)
	blackout := &fakeBlackout{dates: map[string]bool{"2454.TW" + now.Format("2006-01-02"): true}}
	g := newGatekeeper(t, &fakeRealized{}, blackout, nil)
	g.Pause()

	d := g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: now})
	assert.False(t, d.Allow)
	assert.Equal(t, market.VetoPause, d.Source)
}

func TestBlackoutVetoesEntriesOnly(t *testing.T) {
	now := tradingTime(t)
	blackout := &fakeBlackout{dates: map[string]bool{"2454.TW" + now.Format("2006-01-02"): true}}
	g := newGatekeeper(t, &fakeRealized{}, blackout, nil)

	d := g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: now})
	assert.False(t, d.Allow)
	assert.Equal(t, market.VetoBlackout, d.Source)

	// Exits pass through the blackout.
	d = g.Check(context.Background(), CheckContext{Symbol: "2454.TW", IsExit: true, Now: now})
	assert.True(t, d.Allow)
}

func TestDailyLossBreakerIsFatal(t *testing.T) {
	g := newGatekeeper(t, &fakeRealized{daily: -35_000, weekly: -35_000}, nil, nil)

	d := g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: tradingTime(t)})
	assert.False(t, d.Allow)
	assert.Equal(t, market.VetoDailyLimit, d.Source)
	assert.Equal(t, SeverityFatal, d.Severity)

	// The breaker also applies to exits: they never bypass loss checks.
	d = g.Check(context.Background(), CheckContext{Symbol: "2454.TW", IsExit: true, Now: tradingTime(t)})
	assert.False(t, d.Allow)
	assert.Equal(t, SeverityFatal, d.Severity)
}

func TestWeeklyLossBreakerPausesUntilMonday(t *testing.T) {
	g := newGatekeeper(t, &fakeRealized{daily: -1000, weekly: -90_000}, nil, nil)
	now := tradingTime(t) // Wednesday

	d := g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: now})
	assert.False(t, d.Allow)
	assert.Equal(t, market.VetoWeeklyLimit, d.Source)

	// Still paused on Friday.
	assert.True(t, g.IsPaused(now.AddDate(0, 0, 2)))
	// Unpaused the following Monday at 09:00.
	monday := time.Date(2025, 3, 10, 9, 0, 0, 0, now.Location())
	assert.False(t, g.IsPaused(monday))
}

func TestNewsVetoAllowsExits(t *testing.T) {
	g := newGatekeeper(t, &fakeRealized{}, nil, nil)
	g.SetNewsVeto(true)

	d := g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: tradingTime(t)})
	assert.False(t, d.Allow)
	assert.Equal(t, market.VetoNews, d.Source)

	d = g.Check(context.Background(), CheckContext{Symbol: "2454.TW", IsExit: true, Now: tradingTime(t)})
	assert.True(t, d.Allow)

	g.SetNewsVeto(false)
	d = g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: tradingTime(t)})
	assert.True(t, d.Allow)
}

func TestLlmBlock(t *testing.T) {
	llm := &fakeLlm{blocked: true}
	g := newGatekeeper(t, &fakeRealized{}, nil, llm)

	d := g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: tradingTime(t)})
	assert.False(t, d.Allow)
	assert.Equal(t, market.VetoLLM, d.Source)

	// Emergency flattens bypass the insight check.
	d = g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Emergency: true, Now: tradingTime(t)})
	assert.True(t, d.Allow)
}

func TestVetoSinkReceivesEvents(t *testing.T) {
	g := newGatekeeper(t, &fakeRealized{}, nil, nil)
	var events []market.VetoEvent
	g.SetOnVeto(func(e market.VetoEvent) { events = append(events, e) })
	g.Pause()

	g.Check(context.Background(), CheckContext{Symbol: "2454.TW", Now: tradingTime(t)})

	require.Len(t, events, 1)
	assert.Equal(t, market.VetoPause, events[0].Source)
	assert.Equal(t, []string{"2454.TW"}, events[0].AffectedSymbols)
}

func TestResumeClearsPause(t *testing.T) {
	g := newGatekeeper(t, &fakeRealized{}, nil, nil)
	g.Pause()
	require.True(t, g.IsPaused(tradingTime(t)))
	g.Resume()
	assert.False(t, g.IsPaused(tradingTime(t)))
}
