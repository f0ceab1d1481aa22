package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/bridge"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// fakeSource serves one bar per day inside the requested range and
// records every chunk request.
type fakeSource struct {
	mu     sync.Mutex
	chunks [][2]string
	bad    map[string]bool // dates served with invalid OHLC
	err    error
	delay  time.Duration
}

func (f *fakeSource) DownloadBatch(ctx context.Context, symbol string, start, end time.Time) ([]bridge.HistoryBar, error) {
	f.mu.Lock()
	f.chunks = append(f.chunks, [2]string{start.Format("2006-01-02"), end.Format("2006-01-02")})
	err := f.err
	delay := f.delay
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var rows []bridge.HistoryBar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := d.Format("2006-01-02")
		row := bridge.HistoryBar{
			Timestamp: day,
			Open:      100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		}
		if f.bad[day] {
			row.Low = 200 // violates low <= open
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (f *fakeSource) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

type fakeSink struct {
	mu        sync.Mutex
	batches   [][]market.Bar
	truncated []string
	insertErr error
}

func (f *fakeSink) InsertBatch(_ context.Context, bars []market.Bar) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := make([]market.Bar, len(bars))
	copy(cp, bars)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) Truncate(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncated = append(f.truncated, symbol)
	return nil
}

func (f *fakeSink) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRunIngestsAllBarsInBatches(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	ing := New(Config{BatchSize: 7, ChunkDays: 10, Producers: 2},
		src, sink, zap.NewNop().Sugar())

	// 25 days -> 3 chunks of 10/10/5, 25 bars, batches of 7.
	report, err := ing.Run(context.Background(),
		[]string{"2454.TW"}, day("2024-01-01"), day("2024-01-25"))
	require.NoError(t, err)

	assert.Equal(t, int64(25), report.Downloaded)
	assert.Equal(t, int64(25), report.Inserted)
	assert.Equal(t, int64(0), report.Skipped)
	assert.Equal(t, 25, sink.total())
	assert.Equal(t, 3, src.chunkCount())

	// 25 bars in batches of 7: 7+7+7+4.
	require.Equal(t, int64(4), report.Batches)
	assert.Len(t, sink.batches[0], 7)
	assert.Len(t, sink.batches[3], 4)
}

func TestRunChunksNeverOverlap(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	ing := New(Config{ChunkDays: 365}, src, sink, zap.NewNop().Sugar())

	_, err := ing.Run(context.Background(),
		[]string{"2454.TW"}, day("2022-01-01"), day("2024-01-01"))
	require.NoError(t, err)

	// 731 days -> 365 + 365 + 1.
	require.Equal(t, 3, src.chunkCount())
	assert.Equal(t, [2]string{"2022-01-01", "2022-12-31"}, src.chunks[0])
	assert.Equal(t, [2]string{"2023-01-01", "2023-12-31"}, src.chunks[1])
	assert.Equal(t, [2]string{"2024-01-01", "2024-01-01"}, src.chunks[2])
}

func TestRunTruncatesEachSymbolOnce(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	ing := New(Config{ChunkDays: 5, Truncate: true, Producers: 3},
		src, sink, zap.NewNop().Sugar())

	_, err := ing.Run(context.Background(),
		[]string{"2454.TW", "2330.TW"}, day("2024-01-01"), day("2024-01-20"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"2454.TW", "2330.TW"}, sink.truncated)
}

func TestRunSkipsInvalidBars(t *testing.T) {
	src := &fakeSource{bad: map[string]bool{"2024-01-03": true}}
	sink := &fakeSink{}
	ing := New(Config{}, src, sink, zap.NewNop().Sugar())

	report, err := ing.Run(context.Background(),
		[]string{"2454.TW"}, day("2024-01-01"), day("2024-01-05"))
	require.NoError(t, err)

	assert.Equal(t, int64(4), report.Downloaded)
	assert.Equal(t, int64(1), report.Skipped)
	assert.Equal(t, 4, sink.total())
}

func TestRunPropagatesDownloadError(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("bridge unreachable")}
	sink := &fakeSink{}
	ing := New(Config{}, src, sink, zap.NewNop().Sugar())

	_, err := ing.Run(context.Background(),
		[]string{"2454.TW"}, day("2024-01-01"), day("2024-01-05"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge unreachable")
}

func TestRunPropagatesInsertError(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{insertErr: fmt.Errorf("unique violation")}
	ing := New(Config{BatchSize: 2}, src, sink, zap.NewNop().Sugar())

	_, err := ing.Run(context.Background(),
		[]string{"2454.TW"}, day("2024-01-01"), day("2024-01-10"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique violation")
}

func TestRunRejectsBadArguments(t *testing.T) {
	ing := New(Config{}, &fakeSource{}, &fakeSink{}, zap.NewNop().Sugar())

	_, err := ing.Run(context.Background(), nil, day("2024-01-01"), day("2024-01-05"))
	assert.Error(t, err)

	_, err = ing.Run(context.Background(), []string{"2454.TW"}, day("2024-01-05"), day("2024-01-01"))
	assert.Error(t, err)
}

func TestWriterIdleTimeoutAborts(t *testing.T) {
	// The source stalls far longer than the writer's idle budget.
	src := &fakeSource{delay: 2 * time.Second}
	sink := &fakeSink{}
	ing := New(Config{WriterTimeout: 50 * time.Millisecond},
		src, sink, zap.NewNop().Sugar())

	done := make(chan error, 1)
	go func() {
		_, err := ing.Run(context.Background(),
			[]string{"2454.TW"}, day("2024-01-01"), day("2024-01-30"))
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ingestion did not abort on writer stall")
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	for _, s := range []string{"2024-01-02", "2024-01-02 09:30:00", "2024-01-02T09:30:00Z"} {
		ts, err := parseTimestamp(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2024, ts.Year())
	}
	_, err := parseTimestamp("Jan 2 2024")
	assert.Error(t, err)
}
