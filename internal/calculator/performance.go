package calculator

import (
	"errors"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"RebalanceSentinel/internal/model"
)

// DefaultRiskFreeRate is the annual risk-free rate used for the Sharpe ratio.
const DefaultRiskFreeRate = 0.02

// ErrNotEnoughData is returned when fewer than two value points are recorded.
var ErrNotEnoughData = errors.New("not enough data for performance calculation")

// PerformanceReport summarizes how the recorded portfolio value evolved.
type PerformanceReport struct {
	Points             int     `json:"points"`
	Days               float64 `json:"days"`
	InitialValue       float64 `json:"initial_value"`
	CurrentValue       float64 `json:"current_value"`
	TotalReturn        float64 `json:"total_return"`
	TotalReturnPercent float64 `json:"total_return_percent"`
	DailyReturn        float64 `json:"daily_return_percent"`
	AnnualizedReturn   float64 `json:"annualized_return_percent"`
	MaxDrawdown        float64 `json:"max_drawdown_percent"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
}

// Performance computes returns, drawdown and a daily Sharpe ratio from value history.
// Requires at least two points.
func Performance(points []model.ValuePoint, riskFreeRate float64) (PerformanceReport, error) {
	if len(points) < 2 {
		return PerformanceReport{}, ErrNotEnoughData
	}
	sorted := make([]model.ValuePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	first, last := sorted[0], sorted[len(sorted)-1]
	report := PerformanceReport{
		Points:       len(sorted),
		Days:         last.At.Sub(first.At).Hours() / 24,
		InitialValue: first.Value,
		CurrentValue: last.Value,
	}

	values := make([]float64, len(sorted))
	for i, p := range sorted {
		values[i] = p.Value
	}
	report.MaxDrawdown = MaxDrawdown(values)

	if first.Value == 0 {
		return report, nil
	}

	report.TotalReturn = last.Value - first.Value
	report.TotalReturnPercent = report.TotalReturn / first.Value * 100
	if report.Days > 0 {
		report.DailyReturn = report.TotalReturnPercent / report.Days
	}
	report.AnnualizedReturn = annualize(report.TotalReturnPercent, report.Days)
	report.SharpeRatio = SharpeRatio(periodReturns(values), riskFreeRate)
	return report, nil
}

// annualize compounds a total return to a yearly rate. Windows shorter than a
// day are not annualized, and neither is a result that overflows.
func annualize(totalReturnPercent, days float64) float64 {
	if days < 1 {
		return 0
	}
	r := (math.Pow(1+totalReturnPercent/100, 365/days) - 1) * 100
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return 0
	}
	return r
}

// MaxDrawdown returns the largest peak-to-trough decline, in percent.
func MaxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	maxDD := 0.0
	peak := values[0]
	for _, v := range values[1:] {
		if v > peak {
			peak = v
			continue
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-v)/peak)
		}
	}
	return maxDD * 100
}

// SharpeRatio is the simplified daily Sharpe ratio of a return series.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviationPopulation(returns)
	if err != nil || sd == 0 {
		return 0
	}
	return (mean - riskFreeRate/365) / sd
}

func periodReturns(values []float64) []float64 {
	var out []float64
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, (values[i]-values[i-1])/values[i-1])
	}
	return out
}
