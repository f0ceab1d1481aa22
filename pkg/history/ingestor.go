// Package history bulk-loads historical bars from the bridge into the
// bar table: parallel per-symbol producers feed a bounded queue drained
// by a single batching writer.
package history

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/tw-trade-orchestrator/pkg/bridge"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// Downloader fetches one date range of bars for a symbol.
type Downloader interface {
	DownloadBatch(ctx context.Context, symbol string, start, end time.Time) ([]bridge.HistoryBar, error)
}

// BarSink persists bars. *store.BarRepo satisfies it.
type BarSink interface {
	InsertBatch(ctx context.Context, bars []market.Bar) error
	Truncate(ctx context.Context, symbol string) error
}

// Config tunes the ingestion pipeline.
type Config struct {
	QueueSize     int           // bounded producer -> writer queue
	BatchSize     int           // bars per insert transaction
	ChunkDays     int           // date-range size per download request
	WriterTimeout time.Duration // max quiet time before the writer gives up
	Producers     int           // parallel download workers
	Timeframe     market.Timeframe
	Truncate      bool // wipe each symbol before the first insert
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 5000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.ChunkDays <= 0 {
		c.ChunkDays = 365
	}
	if c.WriterTimeout <= 0 {
		c.WriterTimeout = 5 * time.Minute
	}
	if c.Producers <= 0 {
		c.Producers = 3
	}
	if c.Timeframe == "" {
		c.Timeframe = market.Timeframe1Day
	}
}

// Report summarizes one ingestion run.
type Report struct {
	Downloaded int64
	Inserted   int64
	Skipped    int64 // rows dropped by validation
	Batches    int64
	Duration   time.Duration
}

// Ingestor wires producers and the single writer.
type Ingestor struct {
	cfg  Config
	src  Downloader
	sink BarSink
	log  *zap.SugaredLogger
}

// New builds an ingestor.
func New(cfg Config, src Downloader, sink BarSink, log *zap.SugaredLogger) *Ingestor {
	cfg.applyDefaults()
	return &Ingestor{cfg: cfg, src: src, sink: sink, log: log}
}

// Run downloads [start, end] for every symbol and persists the bars.
// Downloads run in parallel; all writes happen on one goroutine so batch
// boundaries and conflict handling stay deterministic. Each symbol is
// truncated at most once, before its first batch is written.
func (ing *Ingestor) Run(ctx context.Context, symbols []string, start, end time.Time) (Report, error) {
	if len(symbols) == 0 {
		return Report{}, fmt.Errorf("history: no symbols")
	}
	if end.Before(start) {
		return Report{}, fmt.Errorf("history: end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	began := time.Now()
	queue := make(chan market.Bar, ing.cfg.QueueSize)

	var report Report
	truncated := make(map[string]*atomic.Bool, len(symbols))
	for _, s := range symbols {
		truncated[s] = &atomic.Bool{}
	}

	// Writer: drains the queue into batched inserts. A quiet period
	// longer than WriterTimeout aborts the run; a writer failure cancels
	// the producers so they never block on a full queue.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	writerErr := make(chan error, 1)
	go func() {
		err := ing.writeLoop(runCtx, queue, truncated, &report)
		if err != nil {
			cancelRun()
		}
		writerErr <- err
	}()

	// Producers: chunked downloads per symbol.
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(ing.cfg.Producers)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			return ing.produce(gctx, symbol, start, end, queue, &report)
		})
	}

	prodErr := g.Wait()
	close(queue)

	werr := <-writerErr
	report.Duration = time.Since(began)

	if prodErr != nil {
		return report, fmt.Errorf("history: download: %w", prodErr)
	}
	if werr != nil {
		return report, fmt.Errorf("history: write: %w", werr)
	}
	ing.log.Infow("history ingestion finished",
		"downloaded", report.Downloaded, "inserted", report.Inserted,
		"skipped", report.Skipped, "batches", report.Batches,
		"took", report.Duration)
	return report, nil
}

// produce downloads the span in ChunkDays slices and feeds the queue.
func (ing *Ingestor) produce(ctx context.Context, symbol string, start, end time.Time, queue chan<- market.Bar, report *Report) error {
	for chunkStart := start; !chunkStart.After(end); {
		chunkEnd := chunkStart.AddDate(0, 0, ing.cfg.ChunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		rows, err := ing.src.DownloadBatch(ctx, symbol, chunkStart, chunkEnd)
		if err != nil {
			return fmt.Errorf("%s %s..%s: %w", symbol,
				chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err)
		}
		ing.log.Debugw("chunk downloaded", "symbol", symbol,
			"from", chunkStart.Format("2006-01-02"), "rows", len(rows))

		for _, row := range rows {
			bar, err := convertBar(symbol, ing.cfg.Timeframe, row)
			if err != nil {
				atomic.AddInt64(&report.Skipped, 1)
				ing.log.Warnw("bar dropped", "symbol", symbol, "err", err)
				continue
			}
			atomic.AddInt64(&report.Downloaded, 1)
			select {
			case queue <- bar:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		chunkStart = chunkEnd.AddDate(0, 0, 1)
	}
	return nil
}

// writeLoop is the single writer. It accumulates BatchSize bars per
// insert and flushes the remainder when the queue closes.
func (ing *Ingestor) writeLoop(ctx context.Context, queue <-chan market.Bar, truncated map[string]*atomic.Bool, report *Report) error {
	batch := make([]market.Bar, 0, ing.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ing.sink.InsertBatch(ctx, batch); err != nil {
			return err
		}
		atomic.AddInt64(&report.Inserted, int64(len(batch)))
		atomic.AddInt64(&report.Batches, 1)
		batch = batch[:0]
		return nil
	}

	idle := time.NewTimer(ing.cfg.WriterTimeout)
	defer idle.Stop()

	for {
		idle.Reset(ing.cfg.WriterTimeout)
		select {
		case bar, ok := <-queue:
			if !ok {
				return flush()
			}
			if ing.cfg.Truncate {
				// Compare-and-swap keeps the wipe to exactly once per
				// symbol even though chunks arrive interleaved.
				if flag, exists := truncated[bar.Symbol]; exists && flag.CompareAndSwap(false, true) {
					if err := flush(); err != nil {
						return err
					}
					if err := ing.sink.Truncate(ctx, bar.Symbol); err != nil {
						return err
					}
				}
			}
			batch = append(batch, bar)
			if len(batch) >= ing.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-idle.C:
			return fmt.Errorf("writer idle for %s, aborting", ing.cfg.WriterTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// convertBar validates and lifts a wire row into the bar type.
func convertBar(symbol string, tf market.Timeframe, row bridge.HistoryBar) (market.Bar, error) {
	ts, err := parseTimestamp(row.Timestamp)
	if err != nil {
		return market.Bar{}, err
	}
	bar := market.Bar{
		Symbol:     symbol,
		Timeframe:  tf,
		Timestamp:  ts,
		Open:       row.Open,
		High:       row.High,
		Low:        row.Low,
		Close:      row.Close,
		Volume:     row.Volume,
		IsComplete: true,
	}
	if err := bar.Validate(); err != nil {
		return market.Bar{}, err
	}
	return bar, nil
}

// parseTimestamp accepts the bridge's date and datetime layouts.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
