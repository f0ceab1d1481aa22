// Command orchestrator is the trading process: serve runs the live/sim
// loop, backtest and walkforward replay history, download-history fills
// the bar table from the bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yourusername/tw-trade-orchestrator/pkg/backtest"
	"github.com/yourusername/tw-trade-orchestrator/pkg/bot"
	"github.com/yourusername/tw-trade-orchestrator/pkg/bridge"
	"github.com/yourusername/tw-trade-orchestrator/pkg/config"
	"github.com/yourusername/tw-trade-orchestrator/pkg/engine"
	"github.com/yourusername/tw-trade-orchestrator/pkg/execution"
	"github.com/yourusername/tw-trade-orchestrator/pkg/history"
	"github.com/yourusername/tw-trade-orchestrator/pkg/ledger"
	"github.com/yourusername/tw-trade-orchestrator/pkg/llm"
	"github.com/yourusername/tw-trade-orchestrator/pkg/logger"
	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/metrics"
	"github.com/yourusername/tw-trade-orchestrator/pkg/risk"
	"github.com/yourusername/tw-trade-orchestrator/pkg/scheduler"
	"github.com/yourusername/tw-trade-orchestrator/pkg/sizing"
	"github.com/yourusername/tw-trade-orchestrator/pkg/store"
	"github.com/yourusername/tw-trade-orchestrator/pkg/strategy"
	"github.com/yourusername/tw-trade-orchestrator/pkg/telegram"
)

const (
	appName    = "tw-trade-orchestrator"
	appVersion = "1.0.0"
)

const (
	exitOK     = 0
	exitConfig = 1 // bad flags, unreadable or invalid configuration
	exitFatal  = 2 // fatal runtime failure
	exitSigint = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitConfig
	}
	switch args[0] {
	case "serve":
		return cmdServe(args[1:])
	case "backtest":
		return cmdBacktest(args[1:])
	case "walkforward":
		return cmdWalkforward(args[1:])
	case "download-history":
		return cmdDownloadHistory(args[1:])
	case "version", "-version", "--version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return exitOK
	case "help", "-h", "--help":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", args[0])
		printUsage()
		return exitConfig
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s - automated Taiwan equity/futures trading

usage:
  %s serve            [-config path]                 run the trading loop
  %s backtest         [-config path] -strategy name -start date -end date
  %s walkforward      [-config path] -strategy name -ranges spec
  %s download-history [-config path] -symbols list -start date -end date
  %s version

dates are YYYY-MM-DD; range specs look like fast_period=8:16:4,slow_period=20:30:5
`, appName, appName, appName, appName, appName, appName)
}

// bootstrap loads the configuration and initializes logging.
func bootstrap(configPath string) (*config.Config, *time.Location, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	_, err = logger.Init(logger.Options{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, loc, nil
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "./config/orchestrator.yaml", "configuration file path")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, loc, err := bootstrap(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer logger.Sync()
	log := logger.Named("main")
	log.Infow("starting", "app", appName, "version", appVersion, "mode", cfg.System.Mode)

	db, err := store.Open(cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Errorw("database connection failed", "err", err)
		return exitFatal
	}
	defer db.Close()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.EnsureSchema(rootCtx); err != nil {
		log.Errorw("schema migration failed", "err", err)
		return exitFatal
	}

	// Seed the active stock from the config on first boot; afterwards
	// the persisted value wins.
	if _, ok, err := db.SystemConfig().Get(rootCtx, market.ActiveStockKey); err != nil {
		log.Errorw("reading active stock failed", "err", err)
		return exitFatal
	} else if !ok && cfg.Trading.ActiveStock != "" {
		if err := db.SystemConfig().SetActiveStock(rootCtx, cfg.Trading.ActiveStock); err != nil {
			log.Errorw("seeding active stock failed", "err", err)
			return exitFatal
		}
	}

	// SIGINT maps to exit 130, SIGTERM to a clean 0.
	var gotInterrupt atomic.Bool
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		if s == syscall.SIGINT {
			gotInterrupt.Store(true)
		}
		log.Infow("signal received, shutting down", "signal", s)
		cancel()
	}()

	br := bridge.NewClient(cfg.Bridge.URL, cfg.Bridge.RequestTimeout, logger.Named("bridge"))
	br.SetTickRingCapacity(cfg.Bridge.TickRingSize)

	lg := ledger.New()
	limits := risk.Limits{
		DailyLossLimit:  cfg.Risk.DailyLossLimit * cfg.Trading.InitialCapital,
		WeeklyLossLimit: cfg.Risk.WeeklyLossLimit * cfg.Trading.InitialCapital,
	}
	// Stored risk overrides win over the YAML fractions.
	if v, ok, err := db.Settings().GetRiskSetting(rootCtx, "daily_loss_limit"); err != nil {
		log.Warnw("loading daily loss override failed", "err", err)
	} else if ok {
		limits.DailyLossLimit = v * cfg.Trading.InitialCapital
	}
	if v, ok, err := db.Settings().GetRiskSetting(rootCtx, "weekly_loss_limit"); err != nil {
		log.Warnw("loading weekly loss override failed", "err", err)
	} else if ok {
		limits.WeeklyLossLimit = v * cfg.Trading.InitialCapital
	}

	var llmBlocks risk.LlmBlockProvider
	if cfg.Risk.LlmVetoEnabled {
		llmBlocks = db.Trades()
	}
	gate := risk.New(limits, db.Settings(), lg, llmBlocks, loc, logger.Named("risk"))
	gate.SetOnVeto(func(v market.VetoEvent) {
		if err := db.Trades().InsertVeto(rootCtx, v); err != nil {
			log.Warnw("persisting veto failed", "err", err)
		}
	})

	mgr := strategy.NewManager(cfg.Swap.SignalDeadline, cfg.Swap.MaxDrawdownPct, logger.Named("strategy"))
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		s, err := strategy.New(sc.Type, sc.Name, sc.Symbol, sc.Parameters)
		if err != nil {
			log.Errorw("strategy construction failed", "name", sc.Name, "err", err)
			return exitConfig
		}
		if sc.IsMain {
			mgr.SetMain(s)
		} else {
			mgr.AddShadow(s)
		}
	}
	if mgr.Main() == nil {
		log.Errorw("no enabled main strategy configured")
		return exitConfig
	}

	// Restore the persisted main-strategy binding; the stored promotion
	// wins over the YAML is_main flag.
	if active, ok, err := db.Strategies().GetActive(rootCtx); err != nil {
		log.Warnw("loading active strategy failed", "err", err)
	} else if ok && active.StrategyName != mgr.Main().Name() {
		for _, s := range mgr.Shadows() {
			if s.Name() == active.StrategyName {
				old := mgr.Main()
				mgr.SetMain(s)
				mgr.AddShadow(old)
				log.Infow("restored persisted main strategy",
					"strategy", active.StrategyName, "activated_at", active.ActivatedAt)
				break
			}
		}
	}

	// Seed each strategy's paper history from the performance table so a
	// restart does not blind the swap ranking.
	perfSince := time.Now().In(loc).AddDate(0, 0, -cfg.Swap.LookbackDays)
	seedReturns := func(name string) {
		rets, err := db.Strategies().DailyReturns(rootCtx, name, perfSince)
		if err != nil {
			log.Warnw("loading performance history failed", "strategy", name, "err", err)
			return
		}
		equity := 100.0
		for i, ret := range rets {
			equity *= 1 + ret
			mgr.RecordPerformance(name, ret, equity, perfSince.AddDate(0, 0, i))
		}
	}
	seedReturns(mgr.Main().Name())
	for _, s := range mgr.Shadows() {
		seedReturns(s.Name())
	}
	mgr.SetOnPerformance(func(name, symbol string, ret, equity float64, asOf time.Time) {
		p := store.PerformancePoint{
			StrategyName: name, Symbol: symbol,
			DailyReturn: ret, Equity: equity, AsOf: asOf,
		}
		if err := db.Strategies().UpsertPerformance(rootCtx, p); err != nil {
			log.Warnw("persisting performance point failed", "strategy", name, "err", err)
		}
	})

	promSet := metrics.New()

	routerAudit := execution.AuditFunc(func(a execution.Attempt) {
		switch a.Outcome {
		case "retry":
			promSet.OrderRetries.Inc()
		case "abandoned":
			promSet.OrdersAbandoned.Inc()
		}
		payload := fmt.Sprintf(`{"ref":%q,"symbol":%q,"side":%q,"qty":%d,"attempt":%d,"outcome":%q,"error":%q}`,
			a.OrderRef, a.Symbol, a.Side, a.Quantity, a.Attempt, a.Outcome, a.Error)
		if err := db.Trades().InsertEvent(rootCtx, "order_attempt", payload, a.Timestamp); err != nil {
			log.Warnw("persisting order attempt failed", "err", err)
		}
	})
	slip, err := slippageModel(cfg)
	if err != nil {
		log.Errorw("invalid session windows", "err", err)
		return exitConfig
	}
	costs, err := execution.NewCostModel(cfg.Trading.FeeRate, cfg.Trading.SellTaxRate)
	if err != nil {
		log.Errorw("invalid cost rates", "err", err)
		return exitConfig
	}
	router := execution.NewRouter(br, routerAudit, execution.RouterConfig{
		RetryAttempts:    cfg.Execution.RetryAttempts,
		RetryBackoffBase: cfg.Execution.RetryBackoffBase,
		MaxDelay:         cfg.Execution.DelayedHoldTime,
		TwapMinWindow:    cfg.Execution.TwapMinWindow,
		TwapMaxWindow:    cfg.Execution.TwapMaxWindow,
		Slippage:         slip,
	}, loc, logger.Named("execution"))
	router.SetCostAccounting(costs, symbolLiquidity{settings: db.Settings()})

	var notifier engine.Notifier
	var tg *telegram.Client
	if cfg.Telegram.Enabled {
		tg = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger.Named("telegram"))
		notifier = tg
	}

	eng := engine.New(engine.Config{
		TradingMode:     market.TradingMode(cfg.Trading.Mode),
		InitialCapital:  cfg.Trading.InitialCapital,
		TickInterval:    cfg.Engine.TickInterval,
		MaxHoldingTime:  cfg.Engine.MaxHoldingTime,
		DrainTimeout:    cfg.Engine.DrainTimeout,
		StopLossPct:     cfg.Risk.StopLossPct,
		FuturesStopLoss: cfg.Risk.FuturesStopLossPerContract,
		RiskPct:         cfg.Sizing.RiskPct,
		KellyCapPct:     cfg.Sizing.KellyCapPct,
		ATRMultiplier:   cfg.Sizing.ATRMultiplier,
		MaxPositionPct:  cfg.Sizing.MaxPositionPct,
		MarketOpen:      cfg.Session.MarketOpen,
		MarketClose:     cfg.Session.MarketClose,
		MinKellyTrades:  cfg.Backtest.MinTrades,
		SizingMethod:    sizing.Method(cfg.Sizing.Method),
		IsSimulation:    cfg.System.Mode != "live",
	}, lg, gate, mgr, br, router, db.Trades(), db.SystemConfig(), notifier, loc, logger.Named("engine"))
	eng.SetMetrics(promSet)

	var asker bot.Asker
	if cfg.LLM.Enabled {
		asker = llm.NewClient(cfg.LLM.URL, cfg.LLM.RequestTimeout, logger.Named("llm"))
	}
	dispatcher := bot.New(eng, gate, mgr, db.Trades(), asker, bot.GoLiveConfig{
		ConfirmWindow: cfg.GoLive.ConfirmWindow,
		Lookback:      time.Duration(cfg.GoLive.MinBacktestDays) * 24 * time.Hour,
		MinTrades:     int64(cfg.Backtest.MinTrades),
		MinWinRate:    0.5,
		MaxDrawdown:   cfg.Swap.MaxDrawdownPct,
	}, cfg.System.Mode == "live", cancel, logger.Named("bot"))
	dispatcher.SetBindingStore(db.Strategies())
	dispatcher.SetShadowLister(db.Strategies())

	// Publish the configured shadow pool so operators can inspect it.
	shadowList := make([]market.ShadowStock, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		if !sc.Enabled || sc.IsMain {
			continue
		}
		shadowList = append(shadowList, market.ShadowStock{
			Rank:         len(shadowList) + 1,
			Symbol:       sc.Symbol,
			StrategyName: sc.Name,
			Enabled:      true,
		})
	}
	if err := db.Strategies().ReplaceShadowList(rootCtx, shadowList); err != nil {
		log.Warnw("publishing shadow list failed", "err", err)
	}

	sched := scheduler.New(30*time.Second, loc, logger.Named("scheduler"))
	if err := registerTasks(sched, cfg, loc, eng, gate, mgr, db, br, asker, notifier); err != nil {
		log.Errorw("task registration failed", "err", err)
		return exitFatal
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		if err := eng.LoadState(gctx); err != nil {
			return err
		}
		// Best effort: the bridge streams the active symbol's quotes.
		if err := br.Subscribe(gctx, eng.ActiveStock()); err != nil {
			log.Warnw("quote subscription failed", "symbol", eng.ActiveStock(), "err", err)
		}
		return eng.Start(gctx)
	})
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return promSet.Serve(gctx, cfg.Metrics.Addr, logger.Named("metrics"))
		})
	}
	if tg != nil {
		g.Go(func() error {
			return tg.Poll(gctx, cfg.Telegram.PollTimeout, func(m telegram.Message) {
				if reply := dispatcher.Dispatch(gctx, m.Text); reply != "" {
					if err := tg.Send(gctx, reply); err != nil {
						log.Warnw("reply send failed", "err", err)
					}
				}
			})
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Errorw("orchestrator stopped with error", "err", err)
		return exitFatal
	}
	if gotInterrupt.Load() {
		return exitSigint
	}
	return exitOK
}

// registerTasks wires the recurring jobs: swap checks, the news veto
// refresh, the blackout calendar refresh, the end-of-day report, the
// weekly report, calendar maintenance and the futures settlement notice.
func registerTasks(sched *scheduler.Scheduler, cfg *config.Config, loc *time.Location,
	eng *engine.Engine, gate *risk.Gatekeeper, mgr *strategy.Manager,
	db *store.Store, br *bridge.Client, asker insightAsker, notifier engine.Notifier) error {

	log := logger.Named("scheduler")
	notify := func(ctx context.Context, text string) {
		if notifier != nil {
			if err := notifier.Send(ctx, text); err != nil {
				log.Warnw("notification failed", "err", err)
			}
		}
	}

	if err := sched.Add(swapCheckTask(cfg.Swap.CheckInterval, cfg.Swap.LookbackDays, loc,
		mgr, db.Strategies(), notify, nil, log)); err != nil {
		return err
	}

	if err := sched.Add(blackoutRefreshTask(cfg.Risk.BlackoutRefreshDays, loc,
		eng.ActiveStock, db.Settings(), nil, log)); err != nil {
		return err
	}

	eodHour, eodMin, err := splitHHMM(cfg.Session.EODStatsTime)
	if err != nil {
		return err
	}
	if err := sched.Add(eodReportTask(eodHour, eodMin, loc,
		eng.ActiveStock, db.Trades(), asker, notify, nil, log)); err != nil {
		return err
	}

	if err := sched.Add(futuresExpirationTask(loc, db.Settings(), nil, log)); err != nil {
		return err
	}

	if cfg.Risk.NewsVetoEnabled {
		if err := sched.Add(scheduler.Task{
			Name: "news-veto-refresh",
			Next: scheduler.Every(time.Minute),
			Run: func(ctx context.Context) error {
				n, err := db.Settings().RecentHighSeverityNews(ctx, eng.ActiveStock(),
					time.Now().In(loc).Add(-24*time.Hour))
				if err != nil {
					return err
				}
				gate.SetNewsVeto(n > 0)
				return nil
			},
		}); err != nil {
			return err
		}
	}

	if err := sched.Add(scheduler.Task{
		Name: "status-log",
		Next: scheduler.Every(5 * time.Minute),
		Run: func(ctx context.Context) error {
			snap := eng.Ledger().Snapshot()
			fields := []interface{}{
				"symbol", eng.ActiveStock(),
				"last_price", eng.LastPrice(),
				"open_positions", len(snap),
				"paused", gate.IsPaused(time.Now().In(loc)),
			}
			if _, err := br.GetQuotes(ctx, 100); err == nil {
				fields = append(fields, "buffered_ticks", len(br.RecentTicks()))
				if last, ok := br.LastTick(); ok {
					fields = append(fields, "last_tick_price", last.Price)
				}
			}
			if book, err := br.GetOrderBook(ctx, eng.ActiveStock()); err == nil {
				if len(book.Bids) > 0 && len(book.Asks) > 0 {
					fields = append(fields, "spread", book.Asks[0].Price-book.Bids[0].Price)
				}
			}
			log.Infow("status", fields...)
			return nil
		},
	}); err != nil {
		return err
	}

	if err := sched.Add(scheduler.Task{
		Name: "weekly-report",
		Next: scheduler.WeeklyAt(time.Monday, 8, 30),
		Run: func(ctx context.Context) error {
			total, wins, realized, err := db.Trades().TradeStatsSince(ctx,
				time.Now().In(loc).AddDate(0, 0, -7))
			if err != nil {
				return err
			}
			notify(ctx, fmt.Sprintf("weekly report: %d trades, %d wins, realized %.0f",
				total, wins, realized))
			return nil
		},
	}); err != nil {
		return err
	}

	if err := sched.Add(economicEventCleanupTask(loc, db.Settings(), nil, log)); err != nil {
		return err
	}

	if cfg.Trading.Mode != "stock" {
		if err := sched.Add(scheduler.Task{
			Name: "settlement-notice",
			Next: scheduler.DailyAt(8, 30, true),
			Run: func(ctx context.Context) error {
				now := time.Now().In(loc)
				next := scheduler.NextExpiration(now, nil)
				if next.Year() == now.Year() && next.YearDay() == now.YearDay() {
					notify(ctx, fmt.Sprintf("futures settlement today (%s)", next.Format("2006-01-02")))
				}
				return nil
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

func cmdBacktest(args []string) int {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	configPath := fs.String("config", "./config/orchestrator.yaml", "configuration file path")
	strategyName := fs.String("strategy", "", "strategy name from the config (default: the main)")
	symbol := fs.String("symbol", "", "symbol (default: configured active stock)")
	startStr := fs.String("start", "", "start date YYYY-MM-DD")
	endStr := fs.String("end", "", "end date YYYY-MM-DD")
	timeframe := fs.String("timeframe", "1day", "bar timeframe")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, loc, err := bootstrap(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer logger.Sync()
	log := logger.Named("backtest")

	start, end, err := parseDateRange(*startStr, *endStr, loc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	sc, err := pickStrategy(cfg, *strategyName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	sym := *symbol
	if sym == "" {
		sym = sc.Symbol
	}
	if sym == "" {
		sym = cfg.Trading.ActiveStock
	}

	strat, err := strategy.New(sc.Type, sc.Name, sym, sc.Parameters)
	if err != nil {
		log.Errorw("strategy construction failed", "err", err)
		return exitConfig
	}

	db, err := store.Open(cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Errorw("database connection failed", "err", err)
		return exitFatal
	}
	defer db.Close()

	ctx := context.Background()
	bars, err := db.Bars().Load(ctx, sym, market.Timeframe(*timeframe), start, end)
	if err != nil {
		log.Errorw("loading bars failed", "err", err)
		return exitFatal
	}

	slip, err := slippageModel(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	res, err := backtest.Run(backtest.Config{
		Symbol:         sym,
		InitialCapital: cfg.Backtest.InitialCapital,
		RiskPct:        cfg.Sizing.RiskPct,
		MaxPositionPct: cfg.Sizing.MaxPositionPct,
		StopLossPct:    cfg.Risk.StopLossPct,
		MaxHoldingTime: cfg.Engine.MaxHoldingTime,
		FeeRate:        cfg.Trading.FeeRate,
		SellTaxRate:    cfg.Trading.SellTaxRate,
		Slippage:       slip,
		RoundLot:       cfg.Trading.Mode != "futures",
		MinTrades:      cfg.Backtest.MinTrades,
	}, strat, bars)
	if err != nil {
		log.Errorw("backtest failed", "err", err)
		return exitFatal
	}

	printBacktestResult(res)
	return exitOK
}

func printBacktestResult(res backtest.Result) {
	fmt.Printf("symbol:         %s\n", res.Symbol)
	fmt.Printf("bars:           %d\n", res.Bars)
	fmt.Printf("trades:         %d (%d wins, %.1f%%)\n", res.Trades, res.Wins, res.WinRate*100)
	fmt.Printf("net pnl:        %.0f (%.2f%%)\n", res.NetPnL, res.TotalReturn*100)
	fmt.Printf("costs:          %.0f\n", res.TotalCosts)
	fmt.Printf("sharpe:         %.2f\n", res.Sharpe)
	fmt.Printf("sortino:        %.2f\n", res.Sortino)
	fmt.Printf("calmar:         %.2f\n", res.Calmar)
	fmt.Printf("max drawdown:   %.2f%%\n", res.MaxDrawdown*100)
	fmt.Printf("profit factor:  %.2f\n", res.ProfitFactor)
	if !res.Valid {
		fmt.Printf("WARNING: only %d trades, result is not statistically meaningful\n", res.Trades)
	}
}

func cmdWalkforward(args []string) int {
	fs := flag.NewFlagSet("walkforward", flag.ContinueOnError)
	configPath := fs.String("config", "./config/orchestrator.yaml", "configuration file path")
	strategyName := fs.String("strategy", "", "strategy name from the config (default: the main)")
	symbol := fs.String("symbol", "", "symbol (default: configured active stock)")
	startStr := fs.String("start", "", "start date YYYY-MM-DD")
	endStr := fs.String("end", "", "end date YYYY-MM-DD")
	timeframe := fs.String("timeframe", "1day", "bar timeframe")
	rangesSpec := fs.String("ranges", "", "grid, e.g. fast_period=8:16:4,slow_period=20:30:5")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, loc, err := bootstrap(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer logger.Sync()
	log := logger.Named("walkforward")

	start, end, err := parseDateRange(*startStr, *endStr, loc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	ranges, err := parseRanges(*rangesSpec)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	sc, err := pickStrategy(cfg, *strategyName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	sym := *symbol
	if sym == "" {
		sym = sc.Symbol
	}

	db, err := store.Open(cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Errorw("database connection failed", "err", err)
		return exitFatal
	}
	defer db.Close()

	ctx := context.Background()
	bars, err := db.Bars().Load(ctx, sym, market.Timeframe(*timeframe), start, end)
	if err != nil {
		log.Errorw("loading bars failed", "err", err)
		return exitFatal
	}

	slip, err := slippageModel(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	report, err := backtest.RunWalkForward(ctx, backtest.WalkForwardConfig{
		TrainTestRatio: cfg.WalkFwd.TrainTestRatio,
		StepDays:       cfg.WalkFwd.StepDays,
		MinTestDays:    cfg.WalkFwd.MinTestDays,
		Workers:        cfg.WalkFwd.MaxParallel,
		StrategyType:   sc.Type,
		Symbol:         sym,
		Ranges:         ranges,
		Backtest: backtest.Config{
			Symbol:         sym,
			InitialCapital: cfg.Backtest.InitialCapital,
			RiskPct:        cfg.Sizing.RiskPct,
			MaxPositionPct: cfg.Sizing.MaxPositionPct,
			StopLossPct:    cfg.Risk.StopLossPct,
			MaxHoldingTime: cfg.Engine.MaxHoldingTime,
			FeeRate:        cfg.Trading.FeeRate,
			SellTaxRate:    cfg.Trading.SellTaxRate,
			Slippage:       slip,
			RoundLot:       cfg.Trading.Mode != "futures",
			MinTrades:      cfg.Backtest.MinTrades,
		},
	}, bars, log)
	if err != nil {
		log.Errorw("walk-forward failed", "err", err)
		return exitFatal
	}

	for _, w := range report.Windows {
		mark := ""
		if w.Overfit {
			mark = "  OVERFIT"
		}
		fmt.Printf("window %d  %s..%s  IS %.2f%%  OOS %.2f%%  fitness %.3f  IS/OOS sharpe %.2f  robustness %.0f%s\n",
			w.Window.Index,
			w.Window.TestStart.Format("2006-01-02"), w.Window.TestEnd.Format("2006-01-02"),
			w.InSample.TotalReturn*100, w.OutSample.TotalReturn*100,
			w.Fitness, w.SharpeRatio, w.Robustness, mark)
	}
	fmt.Printf("mean fitness %.3f  mean robustness %.0f  IS/OOS sharpe %.2f  overfit share %.0f%%\n",
		report.MeanFitness, report.MeanRobust, report.AvgSharpeRatio, report.OverfitShare*100)
	if report.OverfitWarning {
		fmt.Println("WARNING: most windows look overfit; treat these parameters with suspicion")
	}
	return exitOK
}

func cmdDownloadHistory(args []string) int {
	fs := flag.NewFlagSet("download-history", flag.ContinueOnError)
	configPath := fs.String("config", "./config/orchestrator.yaml", "configuration file path")
	symbolsStr := fs.String("symbols", "", "comma-separated symbols")
	startStr := fs.String("start", "", "start date YYYY-MM-DD")
	endStr := fs.String("end", "", "end date YYYY-MM-DD")
	timeframe := fs.String("timeframe", "1day", "bar timeframe")
	truncate := fs.Bool("truncate", false, "wipe each symbol before inserting")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, loc, err := bootstrap(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer logger.Sync()
	log := logger.Named("history")

	if *symbolsStr == "" {
		fmt.Fprintln(os.Stderr, "-symbols is required")
		return exitConfig
	}
	symbols := strings.Split(*symbolsStr, ",")
	for i := range symbols {
		symbols[i] = strings.TrimSpace(symbols[i])
	}
	start, end, err := parseDateRange(*startStr, *endStr, loc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	db, err := store.Open(cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Errorw("database connection failed", "err", err)
		return exitFatal
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Errorw("schema migration failed", "err", err)
		return exitFatal
	}

	br := bridge.NewClient(cfg.Bridge.URL, cfg.Bridge.RequestTimeout, logger.Named("bridge"))
	ing := history.New(history.Config{
		QueueSize:     cfg.History.QueueSize,
		BatchSize:     cfg.History.BatchSize,
		ChunkDays:     cfg.History.ChunkDays,
		WriterTimeout: cfg.History.WriterTimeout,
		Producers:     cfg.History.ProducerWorkers,
		Timeframe:     market.Timeframe(*timeframe),
		Truncate:      *truncate,
	}, br, db.Bars(), log)

	report, err := ing.Run(ctx, symbols, start, end)
	if err != nil {
		log.Errorw("ingestion failed", "err", err)
		return exitFatal
	}
	fmt.Printf("downloaded %d bars, inserted %d (%d skipped) in %d batches over %s\n",
		report.Downloaded, report.Inserted, report.Skipped, report.Batches,
		report.Duration.Round(time.Millisecond))
	return exitOK
}

// slippageModel builds the execution slippage model from the configured
// base rate, blend weight and session windows.
func slippageModel(cfg *config.Config) (execution.SlippageModel, error) {
	openStart, err := config.ParseHHMM(cfg.Session.MarketOpen)
	if err != nil {
		return execution.SlippageModel{}, err
	}
	openEnd, err := config.ParseHHMM(cfg.Session.OpeningEnd)
	if err != nil {
		return execution.SlippageModel{}, err
	}
	closeStart, err := config.ParseHHMM(cfg.Session.ClosingStart)
	if err != nil {
		return execution.SlippageModel{}, err
	}
	closeEnd, err := config.ParseHHMM(cfg.Session.MarketClose)
	if err != nil {
		return execution.SlippageModel{}, err
	}
	return execution.SlippageModel{
		BaseBps:         cfg.Execution.BaseSlippageBps,
		HistoricalBlend: cfg.Execution.HistoricalBlend,
		OpenStartMin:    openStart,
		OpenEndMin:      openEnd,
		CloseStartMin:   closeStart,
		CloseEndMin:     closeEnd,
	}, nil
}

func splitHHMM(s string) (hour, minute int, err error) {
	m, err := config.ParseHHMM(s)
	if err != nil {
		return 0, 0, err
	}
	return m / 60, m % 60, nil
}

// symbolLiquidity adapts stored per-stock settings to the router's
// liquidity lookup.
type symbolLiquidity struct {
	settings *store.SettingsRepo
}

func (s symbolLiquidity) SymbolLiquidity(ctx context.Context, symbol string) (float64, float64, bool, error) {
	st, ok, err := s.settings.GetStockSettings(ctx, symbol)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	if st.HistoricalSlippageBps.Valid {
		return float64(st.ADV), st.HistoricalSlippageBps.Float64, true, nil
	}
	return float64(st.ADV), 0, false, nil
}

// pickStrategy selects a configured strategy by name; empty name picks
// the enabled main.
func pickStrategy(cfg *config.Config, name string) (config.StrategyConfig, error) {
	for _, sc := range cfg.Strategies {
		if name != "" && sc.Name == name {
			return sc, nil
		}
		if name == "" && sc.IsMain && sc.Enabled {
			return sc, nil
		}
	}
	if name != "" {
		return config.StrategyConfig{}, fmt.Errorf("no strategy named %q in the config", name)
	}
	return config.StrategyConfig{}, fmt.Errorf("no enabled main strategy in the config")
}

func parseDateRange(startStr, endStr string, loc *time.Location) (time.Time, time.Time, error) {
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-start and -end are required (YYYY-MM-DD)")
	}
	start, err := time.ParseInLocation("2006-01-02", startStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", startStr)
	}
	end, err := time.ParseInLocation("2006-01-02", endStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", endStr)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s before start %s", endStr, startStr)
	}
	return start, end, nil
}

// parseRanges parses name=min:max:step[,name=...]; an "i" suffix on the
// step marks an integer parameter, e.g. fast_period=8:16:4i.
func parseRanges(spec string) ([]backtest.ParamRange, error) {
	if spec == "" {
		return nil, fmt.Errorf("-ranges is required, e.g. fast_period=8:16:4")
	}
	var out []backtest.ParamRange
	for _, part := range strings.Split(spec, ",") {
		name, rng, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		fields := strings.Split(rng, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("range %q needs min:max:step", part)
		}
		stepStr := fields[2]
		integer := strings.HasSuffix(stepStr, "i")
		stepStr = strings.TrimSuffix(stepStr, "i")

		min, err1 := strconv.ParseFloat(fields[0], 64)
		max, err2 := strconv.ParseFloat(fields[1], 64)
		step, err3 := strconv.ParseFloat(stepStr, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("range %q has non-numeric bounds", part)
		}
		out = append(out, backtest.ParamRange{
			Name: name, Min: min, Max: max, Step: step, Integer: integer,
		})
	}
	return out, nil
}
