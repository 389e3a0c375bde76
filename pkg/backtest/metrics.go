// Performance metrics calculation for simulation results
package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ============================================================================
// METRIC KEYS
// ============================================================================

// Metric keys used in trial records, objectives, constraints and score weights
const (
	MetricNetProfitPct     = "net_profit_pct"
	MetricMaxDrawdownPct   = "max_drawdown_pct"
	MetricTotalTrades      = "total_trades"
	MetricWinRate          = "win_rate"
	MetricSharpeRatio      = "sharpe_ratio"
	MetricSortinoRatio     = "sortino_ratio"
	MetricProfitFactor     = "profit_factor"
	MetricUlcerIndex       = "ulcer_index"
	MetricRecoveryFactor   = "recovery_factor"
	MetricConsistencyScore = "consistency_score"
	MetricRoMaD            = "romad"
)

// MetricKeys lists every metric key in report order
var MetricKeys = []string{
	MetricNetProfitPct,
	MetricMaxDrawdownPct,
	MetricTotalTrades,
	MetricWinRate,
	MetricSharpeRatio,
	MetricSortinoRatio,
	MetricProfitFactor,
	MetricUlcerIndex,
	MetricRecoveryFactor,
	MetricConsistencyScore,
	MetricRoMaD,
}

// IsMetricKey reports whether key names a known metric
func IsMetricKey(key string) bool {
	for _, k := range MetricKeys {
		if k == key {
			return true
		}
	}
	return false
}

// riskFreeRate is the annual rate used by the Sharpe and Sortino ratios
const riskFreeRate = 0.02

// ============================================================================
// PERFORMANCE METRICS
// ============================================================================

// Metrics holds all performance metrics for a simulation.
// Statistics that are undefined for the result are NaN, never zero.
type Metrics struct {
	// Basic
	NetProfitPct   float64 `json:"net_profit_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	TotalTrades    int     `json:"total_trades"`
	WinRate        float64 `json:"win_rate"`

	// Advanced
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	ProfitFactor     float64 `json:"profit_factor"`
	UlcerIndex       float64 `json:"ulcer_index"`
	RecoveryFactor   float64 `json:"recovery_factor"`
	ConsistencyScore float64 `json:"consistency_score"` // percent of positive months
	RoMaD            float64 `json:"romad"`

	// Trade statistics
	WinningTrades      int           `json:"winning_trades"`
	LosingTrades       int           `json:"losing_trades"`
	AverageWin         float64       `json:"average_win"`
	AverageLoss        float64       `json:"average_loss"`
	LargestWin         float64       `json:"largest_win"`
	LargestLoss        float64       `json:"largest_loss"`
	Expectancy         float64       `json:"expectancy"`
	AverageHoldingTime time.Duration `json:"average_holding_time"`
	MedianHoldingTime  time.Duration `json:"median_holding_time"`

	// Portfolio statistics
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	PeakEquity     float64   `json:"peak_equity"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

// CalculateMetrics calculates all performance metrics from a simulation result
func CalculateMetrics(result *SimResult) (*Metrics, error) {
	if result == nil || len(result.MTMCurve) == 0 {
		return nil, fmt.Errorf("no equity curve data")
	}
	if result.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive")
	}

	curve := result.MTMCurve
	nan := math.NaN()

	metrics := &Metrics{
		InitialCapital: result.InitialCapital,
		FinalEquity:    result.FinalEquity,
		TotalTrades:    result.TotalTrades,
		WinningTrades:  result.WinningTrades,
		LosingTrades:   result.LosingTrades,
		StartDate:      curve[0].Timestamp,
		EndDate:        curve[len(curve)-1].Timestamp,
		WinRate:        nan,
		ProfitFactor:   nan,
		AverageWin:     nan,
		AverageLoss:    nan,
		Expectancy:     nan,
	}

	netProfit := metrics.FinalEquity - metrics.InitialCapital
	metrics.NetProfitPct = netProfit / metrics.InitialCapital * 100.0

	calculateDrawdowns(metrics, curve)

	if len(result.Trades) > 0 {
		calculateTradeStatistics(metrics, result.Trades)
	}

	monthly := monthlyReturns(curve, metrics.InitialCapital)
	calculateRatios(metrics, monthly)

	metrics.RecoveryFactor = nan
	metrics.RoMaD = nan
	if metrics.MaxDrawdown > 0 {
		metrics.RecoveryFactor = netProfit / metrics.MaxDrawdown
		metrics.RoMaD = metrics.NetProfitPct / metrics.MaxDrawdownPct
	}

	return metrics, nil
}

// Map returns the metrics keyed by MetricKeys
func (m *Metrics) Map() map[string]float64 {
	return map[string]float64{
		MetricNetProfitPct:     m.NetProfitPct,
		MetricMaxDrawdownPct:   m.MaxDrawdownPct,
		MetricTotalTrades:      float64(m.TotalTrades),
		MetricWinRate:          m.WinRate,
		MetricSharpeRatio:      m.SharpeRatio,
		MetricSortinoRatio:     m.SortinoRatio,
		MetricProfitFactor:     m.ProfitFactor,
		MetricUlcerIndex:       m.UlcerIndex,
		MetricRecoveryFactor:   m.RecoveryFactor,
		MetricConsistencyScore: m.ConsistencyScore,
		MetricRoMaD:            m.RoMaD,
	}
}

// calculateDrawdowns computes peak, max drawdown and the ulcer index from the MTM curve
func calculateDrawdowns(metrics *Metrics, curve []*EquityPoint) {
	peak := metrics.InitialCapital
	var sumSquares float64

	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		dd := peak - point.Equity
		ddPct := 0.0
		if peak > 0 {
			ddPct = dd / peak * 100.0
		}
		if dd > metrics.MaxDrawdown {
			metrics.MaxDrawdown = dd
		}
		if ddPct > metrics.MaxDrawdownPct {
			metrics.MaxDrawdownPct = ddPct
		}
		sumSquares += ddPct * ddPct
	}

	metrics.PeakEquity = peak
	metrics.UlcerIndex = math.Sqrt(sumSquares / float64(len(curve)))
}

// calculateTradeStatistics calculates statistics from closed trades
func calculateTradeStatistics(metrics *Metrics, trades []*Trade) {
	var totalWin, totalLoss float64
	holdingTimes := make([]time.Duration, 0, len(trades))

	for _, t := range trades {
		holdingTimes = append(holdingTimes, t.HoldingTime)

		if t.RealizedPL > 0 {
			totalWin += t.RealizedPL
			if t.RealizedPL > metrics.LargestWin {
				metrics.LargestWin = t.RealizedPL
			}
		} else {
			totalLoss += t.RealizedPL
			if t.RealizedPL < metrics.LargestLoss {
				metrics.LargestLoss = t.RealizedPL
			}
		}
	}

	n := float64(len(trades))
	metrics.WinRate = float64(metrics.WinningTrades) / n * 100.0
	metrics.Expectancy = (totalWin + totalLoss) / n

	if metrics.WinningTrades > 0 {
		metrics.AverageWin = totalWin / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = totalLoss / float64(metrics.LosingTrades)
	}

	// No losing P&L leaves the profit factor undefined
	if totalLoss < 0 {
		metrics.ProfitFactor = totalWin / math.Abs(totalLoss)
	}

	sort.Slice(holdingTimes, func(i, j int) bool { return holdingTimes[i] < holdingTimes[j] })
	var total time.Duration
	for _, d := range holdingTimes {
		total += d
	}
	metrics.AverageHoldingTime = total / time.Duration(len(holdingTimes))
	mid := len(holdingTimes) / 2
	if len(holdingTimes)%2 == 0 {
		metrics.MedianHoldingTime = (holdingTimes[mid-1] + holdingTimes[mid]) / 2
	} else {
		metrics.MedianHoldingTime = holdingTimes[mid]
	}
}

// monthlyReturns returns the fractional equity change of each calendar month,
// measured from the previous month's closing equity.
func monthlyReturns(curve []*EquityPoint, initial float64) []float64 {
	var returns []float64
	prev := initial

	for i, point := range curve {
		last := i == len(curve)-1
		if !last {
			y1, m1, _ := point.Timestamp.Date()
			y2, m2, _ := curve[i+1].Timestamp.Date()
			if y1 == y2 && m1 == m2 {
				continue
			}
		}
		if prev > 0 {
			returns = append(returns, point.Equity/prev-1)
		}
		prev = point.Equity
	}

	return returns
}

// calculateRatios computes Sharpe, Sortino and consistency from monthly returns
func calculateRatios(metrics *Metrics, monthly []float64) {
	metrics.SharpeRatio = math.NaN()
	metrics.SortinoRatio = math.NaN()
	metrics.ConsistencyScore = math.NaN()

	if len(monthly) == 0 {
		return
	}

	positive := 0
	var sum float64
	for _, r := range monthly {
		sum += r
		if r > 0 {
			positive++
		}
	}
	metrics.ConsistencyScore = float64(positive) / float64(len(monthly)) * 100.0

	if len(monthly) < 2 {
		return
	}

	rf := riskFreeRate / 12
	mean := sum / float64(len(monthly))

	var sumSquaredDiff, sumDownside float64
	for _, r := range monthly {
		diff := r - mean
		sumSquaredDiff += diff * diff
		if excess := r - rf; excess < 0 {
			sumDownside += excess * excess
		}
	}

	stdDev := math.Sqrt(sumSquaredDiff / float64(len(monthly)-1))
	if stdDev > 0 {
		metrics.SharpeRatio = (mean - rf) / stdDev * math.Sqrt(12)
	}

	downsideDev := math.Sqrt(sumDownside / float64(len(monthly)))
	if downsideDev > 0 {
		metrics.SortinoRatio = (mean - rf) / downsideDev * math.Sqrt(12)
	}
}

// ============================================================================
// REPORT GENERATION
// ============================================================================

// GenerateReport generates a human-readable performance report
func GenerateReport(metrics *Metrics) string {
	return fmt.Sprintf(`
================================================================================
PERFORMANCE REPORT
================================================================================
Period:            %s to %s
Initial Capital:   $%.2f
Final Equity:      $%.2f
Net Profit:        %s
Max Drawdown:      %s ($%.2f)

Total Trades:      %d (won %d, lost %d)
Win Rate:          %s
Profit Factor:     %s
Expectancy:        %s per trade
Avg Holding Time:  %s

Sharpe Ratio:      %s
Sortino Ratio:     %s
Ulcer Index:       %s
Recovery Factor:   %s
Consistency:       %s
RoMaD:             %s
================================================================================
`,
		metrics.StartDate.Format("2006-01-02"),
		metrics.EndDate.Format("2006-01-02"),
		metrics.InitialCapital,
		metrics.FinalEquity,
		formatPct(metrics.NetProfitPct),
		formatPct(metrics.MaxDrawdownPct),
		metrics.MaxDrawdown,
		metrics.TotalTrades,
		metrics.WinningTrades,
		metrics.LosingTrades,
		formatPct(metrics.WinRate),
		formatValue(metrics.ProfitFactor),
		formatValue(metrics.Expectancy),
		formatDuration(metrics.AverageHoldingTime),
		formatValue(metrics.SharpeRatio),
		formatValue(metrics.SortinoRatio),
		formatValue(metrics.UlcerIndex),
		formatValue(metrics.RecoveryFactor),
		formatPct(metrics.ConsistencyScore),
		formatValue(metrics.RoMaD),
	)
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func formatPct(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v)
}

// formatDuration formats a duration in a human-readable format
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
