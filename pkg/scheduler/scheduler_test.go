package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddRejectsIncompleteTasks(t *testing.T) {
	s := New(time.Second, time.UTC, zap.NewNop().Sugar())
	assert.Error(t, s.Add(Task{Name: "x"}))
	assert.Error(t, s.Add(Task{Name: "x", Next: Every(time.Second)}))
	assert.NoError(t, s.Add(Task{
		Name: "x", Next: Every(time.Second),
		Run: func(context.Context) error { return nil },
	}))
}

func TestSchedulerFiresDueTasks(t *testing.T) {
	s := New(10*time.Millisecond, time.UTC, zap.NewNop().Sugar())

	var runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name: "tick",
		Next: Every(25 * time.Millisecond),
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	// ~300ms at a 25ms cadence; allow generous slack for CI jitter.
	assert.GreaterOrEqual(t, runs.Load(), int64(3))
}

func TestDailyAtSkipsWeekends(t *testing.T) {
	next := DailyAt(14, 30, true)

	// Friday 2025-03-07 15:00: next weekday 14:30 is Monday.
	fri := time.Date(2025, 3, 7, 15, 0, 0, 0, time.UTC)
	got := next(fri)
	assert.Equal(t, time.Monday, got.Weekday())
	assert.Equal(t, "2025-03-10 14:30", got.Format("2006-01-02 15:04"))

	// Tuesday 09:00: same day 14:30.
	tue := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-04 14:30", next(tue).Format("2006-01-02 15:04"))
}

func TestWeeklyAt(t *testing.T) {
	next := WeeklyAt(time.Monday, 8, 30)

	// Wednesday -> following Monday.
	wed := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-10 08:30", next(wed).Format("2006-01-02 15:04"))

	// Monday 08:00 -> same day 08:30.
	mon := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-10 08:30", next(mon).Format("2006-01-02 15:04"))

	// Monday 09:00 -> next Monday.
	late := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-17 08:30", next(late).Format("2006-01-02 15:04"))
}

func TestMonthlyOnClampsShortMonths(t *testing.T) {
	next := MonthlyOn(31, 3, 0)

	// Late January -> February 28th (clamped from 31).
	jan := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-02-28 03:00", next(jan).Format("2006-01-02 15:04"))

	early := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-31 03:00", next(early).Format("2006-01-02 15:04"))
}

func TestYearlyOn(t *testing.T) {
	next := YearlyOn(time.January, 1, 0, 0)

	// Mid-year -> next January 1st.
	jun := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-01 00:00", next(jun).Format("2006-01-02 15:04"))

	// Exactly at the firing time rolls a full year.
	onDay := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2027-01-01 00:00", next(onDay).Format("2006-01-02 15:04"))

	// Just before New Year fires within the hour.
	eve := time.Date(2025, 12, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-01 00:00", next(eve).Format("2006-01-02 15:04"))
}

func TestQuarterlyBlackoutDates(t *testing.T) {
	dates := QuarterlyBlackoutDates(2025, time.UTC)
	require.NotEmpty(t, dates)

	byDay := map[string]bool{}
	for _, d := range dates {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
		byDay[d.Format("2006-01-02")] = true
	}

	// May 15 2025 is a Thursday: all three surrounding days are trading days.
	assert.True(t, byDay["2025-05-14"])
	assert.True(t, byDay["2025-05-15"])
	assert.True(t, byDay["2025-05-16"])

	// Aug 14 2025 is a Thursday as well.
	assert.True(t, byDay["2025-08-14"])
}

func TestThirdWednesday(t *testing.T) {
	assert.Equal(t, "2025-06-18",
		ThirdWednesday(2025, time.June, time.UTC).Format("2006-01-02"))
	assert.Equal(t, "2025-01-15",
		ThirdWednesday(2025, time.January, time.UTC).Format("2006-01-02"))
	assert.Equal(t, "2024-10-16",
		ThirdWednesday(2024, time.October, time.UTC).Format("2006-01-02"))
}

func TestFuturesExpirationsShiftOffHolidays(t *testing.T) {
	// Declare 2025-06-18 a holiday: settlement moves to Tuesday the 17th.
	holiday := func(t time.Time) bool {
		return t.Format("2006-01-02") == "2025-06-18"
	}

	dates := FuturesExpirations(2025, time.UTC, holiday)
	require.Len(t, dates, 12)
	assert.Equal(t, "2025-06-17", dates[5].Format("2006-01-02"))

	// Unaffected months stay on the third Wednesday.
	assert.Equal(t, "2025-01-15", dates[0].Format("2006-01-02"))
	for _, d := range dates {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
	}
}

func TestNextExpirationRollsAcrossYears(t *testing.T) {
	// Mid-December after settlement: the next one is January of 2026.
	late := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)
	got := NextExpiration(late, nil)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.January, got.Month())

	// On the settlement day itself it returns that day.
	onDay := time.Date(2025, 6, 18, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-18", NextExpiration(onDay, nil).Format("2006-01-02"))
}
