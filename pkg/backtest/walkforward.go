package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/strategy"
)

// Window is one train/test split. Invariant:
// TrainStart <= TrainEnd < TestStart <= TestEnd.
type Window struct {
	Index      int
	TrainStart time.Time
	TrainEnd   time.Time
	TestStart  time.Time
	TestEnd    time.Time
}

// WalkForwardConfig drives the rolling optimization.
type WalkForwardConfig struct {
	TrainTestRatio float64 // train days per test day
	StepDays       int     // window advance per iteration
	MinTestDays    int     // windows with a shorter test span are dropped
	Backtest       Config
	StrategyType   string
	Symbol         string
	Ranges         []ParamRange
	Goal           Goal
	Workers        int
}

func (c *WalkForwardConfig) applyDefaults() {
	if c.TrainTestRatio <= 0 {
		c.TrainTestRatio = 3.0
	}
	if c.StepDays <= 0 {
		c.StepDays = 20
	}
	if c.MinTestDays <= 0 {
		c.MinTestDays = 20
	}
	if c.Goal == "" {
		c.Goal = GoalFitness
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// WindowResult is the outcome of one train/test iteration.
type WindowResult struct {
	Window      Window
	BestParams  map[string]float64
	InSample    Result
	OutSample   Result
	Fitness     float64
	SharpeRatio float64 // in-sample Sharpe / out-of-sample Sharpe
	Overfit     bool
	Flags       []string
	Robustness  float64 // clamp(100 * OOS / IS, 0, 100)
}

// WalkForwardReport aggregates every window.
type WalkForwardReport struct {
	Windows        []WindowResult
	MeanFitness    float64
	MeanRobust     float64
	AvgSharpeRatio float64 // mean in-sample/out-of-sample Sharpe ratio
	OverfitShare   float64
	OverfitWarning bool // more than half the windows flagged
}

// GenerateWindows rolls train/test splits over [start, end]. The test
// span is derived from the step and the train span from the ratio;
// windows whose test span would be shorter than MinTestDays are dropped.
func GenerateWindows(start, end time.Time, cfg WalkForwardConfig) []Window {
	cfg.applyDefaults()

	testDays := cfg.StepDays
	if testDays < cfg.MinTestDays {
		testDays = cfg.MinTestDays
	}
	trainDays := int(math.Ceil(float64(testDays) * cfg.TrainTestRatio))

	var windows []Window
	idx := 0
	for cursor := start; ; cursor = cursor.AddDate(0, 0, cfg.StepDays) {
		trainStart := cursor
		trainEnd := trainStart.AddDate(0, 0, trainDays)
		testStart := trainEnd.AddDate(0, 0, 1)
		testEnd := testStart.AddDate(0, 0, testDays)
		if testEnd.After(end) {
			break
		}
		windows = append(windows, Window{
			Index:      idx,
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
		idx++
	}
	return windows
}

// RunWalkForward optimizes on each train span and validates the best
// parameters out-of-sample on the following test span.
func RunWalkForward(ctx context.Context, cfg WalkForwardConfig, bars []market.Bar, log *zap.SugaredLogger) (WalkForwardReport, error) {
	cfg.applyDefaults()
	if len(bars) == 0 {
		return WalkForwardReport{}, fmt.Errorf("walkforward: no bars")
	}

	start, end := barSpan(bars)
	windows := GenerateWindows(start, end, cfg)
	if len(windows) == 0 {
		return WalkForwardReport{}, fmt.Errorf("walkforward: span %s..%s too short for any window",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	log.Infow("walk-forward started", "windows", len(windows),
		"strategy", cfg.StrategyType, "symbol", cfg.Symbol)

	report := WalkForwardReport{}
	for _, w := range windows {
		train := barsBetween(bars, w.TrainStart, w.TrainEnd)
		test := barsBetween(bars, w.TestStart, w.TestEnd)
		if len(train) == 0 || len(test) == 0 {
			log.Warnw("window skipped, empty slice", "index", w.Index)
			continue
		}

		opt := NewOptimizer(cfg.StrategyType, cfg.Symbol, cfg.Backtest, log)
		for _, r := range cfg.Ranges {
			opt.AddParamRange(r)
		}
		opt.SetGoal(cfg.Goal)
		opt.SetWorkers(cfg.Workers)

		candidates, err := opt.Run(ctx, train)
		if err != nil {
			return WalkForwardReport{}, fmt.Errorf("walkforward: window %d: %w", w.Index, err)
		}
		best := candidates[0]
		if math.IsInf(best.Score, -1) {
			log.Warnw("window skipped, no valid candidate", "index", w.Index)
			continue
		}

		strat, err := strategy.New(cfg.StrategyType,
			fmt.Sprintf("wf-%d", w.Index), cfg.Symbol, toParamMap(best.Params))
		if err != nil {
			return WalkForwardReport{}, fmt.Errorf("walkforward: window %d: %w", w.Index, err)
		}
		oos, err := Run(cfg.Backtest, strat, test)
		if err != nil {
			return WalkForwardReport{}, fmt.Errorf("walkforward: window %d out-of-sample: %w", w.Index, err)
		}

		wr := WindowResult{
			Window:      w,
			BestParams:  best.Params,
			InSample:    best.Result,
			OutSample:   oos,
			Fitness:     fitnessScore(oos),
			SharpeRatio: sharpeRatio(best.Result.Sharpe, oos.Sharpe),
		}
		wr.Flags = overfitFlags(best.Result, oos)
		wr.Overfit = len(wr.Flags) > 0
		wr.Robustness = robustness(best.Result.TotalReturn, oos.TotalReturn)
		report.Windows = append(report.Windows, wr)
	}

	if len(report.Windows) == 0 {
		return report, fmt.Errorf("walkforward: every window was skipped")
	}
	var overfit, ratios int
	for _, wr := range report.Windows {
		report.MeanFitness += wr.Fitness
		report.MeanRobust += wr.Robustness
		if wr.SharpeRatio != 0 {
			report.AvgSharpeRatio += wr.SharpeRatio
			ratios++
		}
		if wr.Overfit {
			overfit++
		}
	}
	n := float64(len(report.Windows))
	report.MeanFitness /= n
	report.MeanRobust /= n
	if ratios > 0 {
		report.AvgSharpeRatio /= float64(ratios)
	}
	report.OverfitShare = float64(overfit) / n
	report.OverfitWarning = report.OverfitShare > 0.5
	return report, nil
}

// fitnessScore blends the normalized risk-adjusted ratios,
// 0.40 Sharpe + 0.35 Sortino + 0.25 Calmar (each squashed to [0, 1]),
// then discounts thin samples (< 20 trades, proportionally) and deep
// drawdowns (> 20%, proportionally).
func fitnessScore(r Result) float64 {
	f := 0.40*normalizeRatio(r.Sharpe) +
		0.35*normalizeRatio(r.Sortino) +
		0.25*normalizeRatio(r.Calmar)
	if r.Trades < 20 {
		f *= float64(r.Trades) / 20
	}
	if r.MaxDrawdown > 0.20 {
		f *= 0.20 / r.MaxDrawdown
	}
	return f
}

// sharpeRatio is in-sample Sharpe over out-of-sample Sharpe, zero when
// the out-of-sample Sharpe is zero.
func sharpeRatio(is, oos float64) float64 {
	if oos == 0 {
		return 0
	}
	return is / oos
}

// normalizeRatio squashes a ratio into [0, 1] with 0 mapping to 0.5.
func normalizeRatio(x float64) float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		if x > 0 {
			return 1
		}
		return 0
	}
	return 0.5 + 0.5*math.Tanh(x/2)
}

// overfitFlags applies the three in-sample vs out-of-sample red flags.
func overfitFlags(is, oos Result) []string {
	var flags []string
	if is.TotalReturn > 0 && oos.TotalReturn < 0 {
		flags = append(flags, "profitable in-sample, losing out-of-sample")
	}
	// A positive in-sample Sharpe that out-of-sample halves, vanishes or
	// inverts is a degradation flag either way.
	if is.Sharpe > 0 && (oos.Sharpe <= 0 || is.Sharpe/oos.Sharpe > 2.0) {
		flags = append(flags, "in-sample Sharpe more than twice out-of-sample")
	}
	if oos.TotalReturn < -0.05 && is.TotalReturn > 0 {
		flags = append(flags, "out-of-sample loss exceeds 5%")
	}
	return flags
}

// robustness scores the out-of-sample carry-through as a percentage.
func robustness(isReturn, oosReturn float64) float64 {
	if isReturn == 0 {
		return 0
	}
	score := 100 * oosReturn / isReturn
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func barSpan(bars []market.Bar) (time.Time, time.Time) {
	start, end := bars[0].Timestamp, bars[0].Timestamp
	for _, b := range bars {
		if b.Timestamp.Before(start) {
			start = b.Timestamp
		}
		if b.Timestamp.After(end) {
			end = b.Timestamp
		}
	}
	return start, end
}

func barsBetween(bars []market.Bar, from, to time.Time) []market.Bar {
	var out []market.Bar
	for _, b := range bars {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out
}
