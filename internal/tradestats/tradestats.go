// Package tradestats computes summary statistics over a backtest trade ledger.
package tradestats

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// ErrNoLosingTrades is returned by MaxDrawdown when the cumulative profit
// never falls below a previous high.
var ErrNoLosingTrades = errors.New("no losing trade, therefore no drawdown")

// Drawdown is the largest peak-to-trough fall of cumulative absolute profit.
type Drawdown struct {
	Amount     float64   `json:"amount"` // positive size of the fall
	HighTime   time.Time `json:"high_time"`
	LowTime    time.Time `json:"low_time"`
	HighValue  float64   `json:"high_value"`
	LowValue   float64   `json:"low_value"`
	Relative   float64   `json:"relative"` // fall relative to the peak balance
	TradeCount int       `json:"trade_count"`
}

// MaxDrawdown walks the trades in close-time order. startingBalance, when
// positive, is added to the cumulative profit before computing Relative.
func MaxDrawdown(trades []models.Trade, startingBalance float64) (Drawdown, error) {
	if len(trades) == 0 {
		return Drawdown{}, ErrNoLosingTrades
	}

	sorted := sortedByClose(trades)
	var (
		cumulative float64
		high       = math.Inf(-1)
		highTime   time.Time
		dd         = Drawdown{TradeCount: len(sorted)}
		worst      = 0.0
	)
	for _, t := range sorted {
		cumulative += t.ProfitAbs
		if cumulative > high {
			high = cumulative
			highTime = t.CloseTime
		}
		if fall := cumulative - high; fall < worst {
			worst = fall
			dd.HighTime = highTime
			dd.LowTime = t.CloseTime
			dd.HighValue = high
			dd.LowValue = cumulative
		}
	}

	if worst == 0 {
		return Drawdown{}, ErrNoLosingTrades
	}
	dd.Amount = -worst

	peak := dd.HighValue
	if startingBalance > 0 {
		peak += startingBalance
	}
	if peak > 0 {
		dd.Relative = dd.Amount / peak
	}
	return dd, nil
}

// Summary aggregates a trade ledger.
type Summary struct {
	Trades           int                `json:"trades"`
	Wins             int                `json:"wins"`
	Losses           int                `json:"losses"`
	Draws            int                `json:"draws"`
	WinRate          float64            `json:"win_rate"`
	TotalProfit      float64            `json:"total_profit"`
	MeanProfitRatio  float64            `json:"mean_profit_ratio"`
	MedianProfitAbs  float64            `json:"median_profit_abs"`
	StdDevProfitAbs  float64            `json:"stddev_profit_abs"`
	Expectancy       float64            `json:"expectancy"`
	ExpectancyRatio  float64            `json:"expectancy_ratio"`
	MaxDrawdown      float64            `json:"max_drawdown"`
	HasDrawdown      bool               `json:"has_drawdown"`
	AverageHoldTime  time.Duration      `json:"average_hold_time"`
	ProfitByExitType map[string]float64 `json:"profit_by_exit_type"`
}

// Summarize computes the ledger summary. Ratios over zero trades are 0 and
// MaxDrawdown is 0 when there is no drawdown.
func Summarize(trades []models.Trade) Summary {
	s := Summary{Trades: len(trades), ProfitByExitType: make(map[string]float64)}
	if len(trades) == 0 {
		return s
	}

	profits := make([]float64, len(trades))
	ratios := make([]float64, len(trades))
	var winSum, lossSum float64
	var hold time.Duration
	for i, t := range trades {
		profits[i] = t.ProfitAbs
		ratios[i] = t.ProfitRatio
		hold += t.Duration()
		s.ProfitByExitType[t.ExitReason] += t.ProfitAbs

		switch {
		case t.ProfitAbs > 0:
			s.Wins++
			winSum += t.ProfitAbs
		case t.ProfitAbs < 0:
			s.Losses++
			lossSum += -t.ProfitAbs
		default:
			s.Draws++
		}
	}

	s.TotalProfit, _ = stats.Sum(profits)
	s.MeanProfitRatio, _ = stats.Mean(ratios)
	s.MedianProfitAbs, _ = stats.Median(profits)
	s.StdDevProfitAbs, _ = stats.StandardDeviationSample(profits)
	if math.IsNaN(s.StdDevProfitAbs) {
		s.StdDevProfitAbs = 0
	}
	s.AverageHoldTime = hold / time.Duration(len(trades))
	s.WinRate = float64(s.Wins) / float64(s.Trades)
	s.Expectancy, s.ExpectancyRatio = expectancy(s, winSum, lossSum)

	if dd, err := MaxDrawdown(trades, 0); err == nil {
		s.MaxDrawdown = dd.Amount
		s.HasDrawdown = true
	}
	return s
}

// expectancy returns the expected profit per trade and the expectancy ratio.
// The ratio is 100 when there are wins but no losses.
func expectancy(s Summary, winSum, lossSum float64) (float64, float64) {
	n := float64(s.Trades)
	winRate := float64(s.Wins) / n
	lossRate := float64(s.Losses) / n

	var avgWin, avgLoss float64
	if s.Wins > 0 {
		avgWin = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		avgLoss = lossSum / float64(s.Losses)
	}

	exp := winRate*avgWin - lossRate*avgLoss
	ratio := 100.0
	if avgLoss > 0 {
		ratio = (1+avgWin/avgLoss)*winRate - 1
	} else if s.Wins == 0 {
		ratio = 0
	}
	return exp, ratio
}

func sortedByClose(trades []models.Trade) []models.Trade {
	sorted := make([]models.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CloseTime.Before(sorted[j].CloseTime)
	})
	return sorted
}
