package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
	"github.com/yourusername/tw-trade-orchestrator/pkg/strategy"
)

// ParamRange is one axis of the grid search.
type ParamRange struct {
	Name    string
	Min     float64
	Max     float64
	Step    float64
	Integer bool
}

// Goal is the optimization objective.
type Goal string

const (
	// GoalFitness is the default: the Sharpe/Sortino/Calmar blend with
	// trade-count and drawdown penalties applied.
	GoalFitness      Goal = "fitness"
	GoalSharpe       Goal = "sharpe"
	GoalNetPnL       Goal = "pnl"
	GoalWinRate      Goal = "win_rate"
	GoalProfitFactor Goal = "profit_factor"
	GoalCalmar       Goal = "calmar"
)

// Candidate is one evaluated parameter combination.
type Candidate struct {
	Params map[string]float64
	Result Result
	Score  float64
	Rank   int
}

// Optimizer grid-searches strategy parameters against a fixed bar set.
type Optimizer struct {
	strategyType string
	symbol       string
	cfg          Config
	ranges       []ParamRange
	goal         Goal
	workers      int
	log          *zap.SugaredLogger
}

// NewOptimizer builds a grid-search optimizer for one strategy type.
func NewOptimizer(strategyType, symbol string, cfg Config, log *zap.SugaredLogger) *Optimizer {
	return &Optimizer{
		strategyType: strategyType,
		symbol:       symbol,
		cfg:          cfg,
		goal:         GoalFitness,
		workers:      4,
		log:          log,
	}
}

// AddParamRange adds one grid axis.
func (o *Optimizer) AddParamRange(r ParamRange) {
	o.ranges = append(o.ranges, r)
}

// SetGoal sets the objective used for ranking.
func (o *Optimizer) SetGoal(goal Goal) { o.goal = goal }

// SetWorkers bounds the parallel evaluations.
func (o *Optimizer) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	if n > 16 {
		n = 16
	}
	o.workers = n
}

// Run evaluates every grid point and returns candidates sorted best
// first. Invalid results (too few trades) score negative infinity so
// they sink to the bottom without being dropped from the report.
func (o *Optimizer) Run(ctx context.Context, bars []market.Bar) ([]Candidate, error) {
	if len(o.ranges) == 0 {
		return nil, fmt.Errorf("optimizer: no parameter ranges configured")
	}

	grid := expandGrid(o.ranges)
	o.log.Infow("starting grid search",
		"strategy", o.strategyType, "combinations", len(grid), "workers", o.workers)

	candidates := make([]Candidate, len(grid))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i, params := range grid {
		i, params := i, params
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			strat, err := strategy.New(o.strategyType,
				fmt.Sprintf("opt-%d", i), o.symbol, toParamMap(params))
			if err != nil {
				// Some grid points violate constructor constraints
				// (e.g. fast >= slow); skip them.
				mu.Lock()
				candidates[i] = Candidate{Params: params, Score: math.Inf(-1)}
				mu.Unlock()
				return nil
			}
			res, err := Run(o.cfg, strat, bars)
			if err != nil {
				return fmt.Errorf("optimizer: combination %d: %w", i, err)
			}
			mu.Lock()
			candidates[i] = Candidate{Params: params, Result: res, Score: o.score(res)}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Score > candidates[b].Score
	})
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

func (o *Optimizer) score(res Result) float64 {
	if !res.Valid {
		return math.Inf(-1)
	}
	switch o.goal {
	case GoalNetPnL:
		return res.NetPnL
	case GoalWinRate:
		return res.WinRate
	case GoalProfitFactor:
		return res.ProfitFactor
	case GoalCalmar:
		return res.Calmar
	case GoalSharpe:
		return res.Sharpe
	default:
		return fitnessScore(res)
	}
}

// expandGrid produces the cartesian product of the ranges.
func expandGrid(ranges []ParamRange) []map[string]float64 {
	grid := []map[string]float64{{}}
	for _, r := range ranges {
		var values []float64
		step := r.Step
		if step <= 0 {
			step = 1
		}
		for v := r.Min; v <= r.Max+1e-9; v += step {
			if r.Integer {
				values = append(values, math.Round(v))
			} else {
				values = append(values, v)
			}
		}
		next := make([]map[string]float64, 0, len(grid)*len(values))
		for _, base := range grid {
			for _, v := range values {
				point := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					point[k] = bv
				}
				point[r.Name] = v
				next = append(next, point)
			}
		}
		grid = next
	}
	return grid
}

func toParamMap(params map[string]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
