package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization factor for daily returns.
const TradingDaysPerYear = 252

// SharpeRatio computes the annualized Sharpe ratio from daily returns.
// Returns 0 when fewer than two points exist or volatility is zero.
func SharpeRatio(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}
	mean := stat.Mean(dailyReturns, nil)
	std := stat.StdDev(dailyReturns, nil)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// SortinoRatio computes the annualized Sortino ratio, penalizing only
// downside volatility. Returns 0 when there is no downside deviation.
func SortinoRatio(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}
	mean := stat.Mean(dailyReturns, nil)

	downSq := 0.0
	for _, r := range dailyReturns {
		if r < 0 {
			downSq += r * r
		}
	}
	downside := math.Sqrt(downSq / float64(len(dailyReturns)))
	if downside == 0 {
		return 0
	}
	return mean / downside * math.Sqrt(TradingDaysPerYear)
}

// CalmarRatio is the annualized return divided by the maximum drawdown of
// the equity curve. Returns 0 when the drawdown is zero.
func CalmarRatio(dailyReturns []float64, equityCurve []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	mdd := MaxDrawdown(equityCurve)
	if mdd == 0 {
		return 0
	}
	annualized := stat.Mean(dailyReturns, nil) * TradingDaysPerYear
	return annualized / mdd
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity
// curve as a positive fraction (0.25 means a 25% drawdown).
func MaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) == 0 {
		return 0
	}
	peak := equityCurve[0]
	maxDD := 0.0
	for _, v := range equityCurve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// DailyReturns converts an equity curve into simple daily returns.
func DailyReturns(equityCurve []float64) []float64 {
	if len(equityCurve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (equityCurve[i]-prev)/prev)
	}
	return out
}

// WinRate returns the fraction of trades with positive P&L.
func WinRate(tradePnLs []float64) float64 {
	if len(tradePnLs) == 0 {
		return 0
	}
	wins := 0
	for _, p := range tradePnLs {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(tradePnLs))
}

// ProfitFactor is gross profit divided by gross loss. Returns +Inf when
// there are profits and no losses, and 0 when there are no profits.
func ProfitFactor(tradePnLs []float64) float64 {
	grossProfit, grossLoss := 0.0, 0.0
	for _, p := range tradePnLs {
		if p > 0 {
			grossProfit += p
		} else {
			grossLoss += -p
		}
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / grossLoss
}
