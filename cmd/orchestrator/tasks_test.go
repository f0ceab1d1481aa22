package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/llm"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/strategy"
)

type noopStrategy struct {
	name, symbol string
}

func (s *noopStrategy) Name() string   { return s.name }
func (s *noopStrategy) Type() string   { return "momentum" }
func (s *noopStrategy) Symbol() string { return s.symbol }
func (s *noopStrategy) Execute(strategy.Snapshot, market.Bar) market.TradeSignal {
	return market.TradeSignal{}
}
func (s *noopStrategy) Reset() {}

type fakeSwapStore struct {
	calls     []string
	active    string
	activeSym string
	mapped    string
	selected  string
}

func (f *fakeSwapStore) SetActive(_ context.Context, name, symbol, _ string) error {
	f.calls = append(f.calls, "set_active")
	f.active, f.activeSym = name, symbol
	return nil
}

func (f *fakeSwapStore) UpsertStockMapping(_ context.Context, strategyName, _ string) error {
	f.calls = append(f.calls, "upsert_mapping")
	f.mapped = strategyName
	return nil
}

func (f *fakeSwapStore) RecordShadowSelection(_ context.Context, _, strategyName string) error {
	f.calls = append(f.calls, "record_selection")
	f.selected = strategyName
	return nil
}

func seedCurve(m *strategy.Manager, name string, start time.Time, equities []float64) {
	prev := equities[0]
	for i, e := range equities {
		ret := 0.0
		if i > 0 && prev != 0 {
			ret = (e - prev) / prev
		}
		m.RecordPerformance(name, ret, e, start.AddDate(0, 0, i))
		prev = e
	}
}

func TestSwapCheckTaskPersistsPromotion(t *testing.T) {
	log := zap.NewNop().Sugar()
	mgr := strategy.NewManager(200*time.Millisecond, 0.15, log)
	mgr.SetMain(&noopStrategy{name: "main", symbol: "2454.TW"})
	mgr.AddShadow(&noopStrategy{name: "better", symbol: "2330.TW"})

	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	seedCurve(mgr, "main", start, []float64{100, 104, 96, 88, 78, 82, 80})
	seedCurve(mgr, "better", start, []float64{100, 101, 102, 103, 104, 105, 106})

	store := &fakeSwapStore{}
	var sent []string
	notify := func(_ context.Context, text string) { sent = append(sent, text) }
	clock := func() time.Time { return start.AddDate(0, 0, 7) }

	task := swapCheckTask(time.Minute, 30, time.UTC, mgr, store, notify, clock, log)
	require.NoError(t, task.Run(context.Background()))

	assert.Equal(t, []string{"set_active", "upsert_mapping", "record_selection"}, store.calls)
	assert.Equal(t, "better", store.active)
	assert.Equal(t, "2330.TW", store.activeSym)
	assert.Equal(t, "better", store.mapped)
	assert.Equal(t, "better", store.selected)

	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "main -> better")

	// A second run finds no drawdown on the fresh main and stays quiet.
	require.NoError(t, task.Run(context.Background()))
	assert.Len(t, store.calls, 3)
	assert.Len(t, sent, 1)
}

type fakeBlackoutCal struct {
	refreshed   time.Time
	hasStamp    bool
	replaced    [][]time.Time
	replacedFor []string
}

func (f *fakeBlackoutCal) BlackoutRefreshedAt(context.Context, string) (time.Time, bool, error) {
	return f.refreshed, f.hasStamp, nil
}

func (f *fakeBlackoutCal) ReplaceBlackoutDates(_ context.Context, symbol string, dates []time.Time) error {
	f.replaced = append(f.replaced, dates)
	f.replacedFor = append(f.replacedFor, symbol)
	return nil
}

func TestBlackoutRefreshSkipsFreshCalendar(t *testing.T) {
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	cal := &fakeBlackoutCal{refreshed: now.AddDate(0, 0, -2), hasStamp: true}

	task := blackoutRefreshTask(7, time.UTC, func() string { return "2454.TW" },
		cal, func() time.Time { return now }, zap.NewNop().Sugar())
	require.NoError(t, task.Run(context.Background()))

	assert.Empty(t, cal.replaced)
}

func TestBlackoutRefreshRewritesStaleCalendar(t *testing.T) {
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	cal := &fakeBlackoutCal{refreshed: now.AddDate(0, 0, -30), hasStamp: true}

	task := blackoutRefreshTask(7, time.UTC, func() string { return "2454.TW" },
		cal, func() time.Time { return now }, zap.NewNop().Sugar())
	require.NoError(t, task.Run(context.Background()))

	require.Len(t, cal.replaced, 1)
	assert.Equal(t, "2454.TW", cal.replacedFor[0])

	// The rewritten calendar spans the current and the following year.
	years := map[int]bool{}
	for _, d := range cal.replaced[0] {
		years[d.Year()] = true
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
	}
	assert.True(t, years[2025])
	assert.True(t, years[2026])
}

func TestBlackoutRefreshRunsWithoutStamp(t *testing.T) {
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	cal := &fakeBlackoutCal{}

	task := blackoutRefreshTask(7, time.UTC, func() string { return "2330.TW" },
		cal, func() time.Time { return now }, zap.NewNop().Sugar())
	require.NoError(t, task.Run(context.Background()))
	assert.Len(t, cal.replaced, 1)
}

type fakeEODStats struct {
	total, wins int64
	realized    float64
	sinceArg    time.Time
	insights    []market.LlmInsight
}

func (f *fakeEODStats) TradeStatsSince(_ context.Context, t time.Time) (int64, int64, float64, error) {
	f.sinceArg = t
	return f.total, f.wins, f.realized, nil
}

func (f *fakeEODStats) InsertInsight(_ context.Context, in market.LlmInsight) error {
	f.insights = append(f.insights, in)
	return nil
}

type fakeAsker struct {
	question string
	blob     string
	insight  llm.Insight
	err      error
}

func (f *fakeAsker) Ask(_ context.Context, question, contextBlob string) (llm.Insight, error) {
	f.question, f.blob = question, contextBlob
	return f.insight, f.err
}

func TestEODReportPersistsDailySummary(t *testing.T) {
	now := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	trades := &fakeEODStats{total: 5, wins: 3, realized: 1234}
	asker := &fakeAsker{insight: llm.Insight{
		Content: "Choppy session; watch the gap at the open.", Confidence: 0.8, ProcessingTimeMs: 420,
	}}

	var sent []string
	task := eodReportTask(14, 30, time.UTC, func() string { return "2454.TW" },
		trades, asker, func(_ context.Context, text string) { sent = append(sent, text) },
		func() time.Time { return now }, zap.NewNop().Sugar())
	require.NoError(t, task.Run(context.Background()))

	// Stats are aggregated from midnight of the report day.
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), trades.sinceArg)

	require.Len(t, trades.insights, 1)
	in := trades.insights[0]
	assert.Equal(t, "daily_summary", in.Type)
	assert.Equal(t, "2454.TW", in.Symbol)
	assert.Equal(t, "Choppy session; watch the gap at the open.", in.Content)
	assert.True(t, in.Success)
	assert.Equal(t, now, in.Timestamp)

	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "5 trades, 3 wins")
	assert.Contains(t, sent[0], "Choppy session")
	assert.Contains(t, asker.blob, "realized 1234")
}

func TestEODReportWithoutAskerNotifiesStatsOnly(t *testing.T) {
	now := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	trades := &fakeEODStats{total: 2, wins: 0, realized: -800}

	var sent []string
	task := eodReportTask(14, 30, time.UTC, func() string { return "2454.TW" },
		trades, nil, func(_ context.Context, text string) { sent = append(sent, text) },
		func() time.Time { return now }, zap.NewNop().Sugar())
	require.NoError(t, task.Run(context.Background()))

	assert.Empty(t, trades.insights)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "2 trades, 0 wins")
}

type fakeEventCal struct {
	names   []string
	impacts []string
	dates   []time.Time
}

func (f *fakeEventCal) InsertEconomicEvent(_ context.Context, name, impact string, date time.Time) error {
	f.names = append(f.names, name)
	f.impacts = append(f.impacts, impact)
	f.dates = append(f.dates, date)
	return nil
}

func TestFuturesExpirationTaskGeneratesYear(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC)
	cal := &fakeEventCal{}

	task := futuresExpirationTask(time.UTC, cal, func() time.Time { return now }, zap.NewNop().Sugar())
	require.NoError(t, task.Run(context.Background()))

	require.Len(t, cal.dates, 12)
	assert.Equal(t, "futures settlement 2025-01", cal.names[0])
	assert.Equal(t, "futures settlement 2025-12", cal.names[11])
	for i, d := range cal.dates {
		assert.Equal(t, "high", cal.impacts[i])
		assert.Equal(t, 2025, d.Year())
	}

	// The task fires every January 1st.
	next := task.Next(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2026-01-01 00:00", next.Format("2006-01-02 15:04"))
}

type fakeEventCleaner struct {
	cutoff time.Time
}

func (f *fakeEventCleaner) CleanupOldEconomicEvents(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func TestEconomicEventCleanupPrunesTwoYearsBack(t *testing.T) {
	now := time.Date(2025, 7, 1, 1, 0, 0, 0, time.UTC)
	cleaner := &fakeEventCleaner{}

	task := economicEventCleanupTask(time.UTC, cleaner, func() time.Time { return now }, zap.NewNop().Sugar())
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, time.Date(2023, 7, 1, 1, 0, 0, 0, time.UTC), cleaner.cutoff)

	// Fires on the first of each month at 01:00.
	next := task.Next(time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-08-01 01:00", next.Format("2006-01-02 15:04"))
}
