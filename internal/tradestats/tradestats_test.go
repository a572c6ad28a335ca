package tradestats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ledger(profits ...float64) []models.Trade {
	trades := make([]models.Trade, len(profits))
	for i, p := range profits {
		trades[i] = models.Trade{
			Pair:        "BTC/USDT",
			OpenTime:    t0.Add(time.Duration(i) * time.Hour),
			CloseTime:   t0.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			ProfitAbs:   p,
			ProfitRatio: p / 1000,
			ExitReason:  "exit_signal",
		}
	}
	return trades
}

func TestMaxDrawdown(t *testing.T) {
	// cumulative: 10, 30, 5, 15, -5, 20
	trades := ledger(10, 20, -25, 10, -20, 25)

	dd, err := MaxDrawdown(trades, 0)
	require.NoError(t, err)
	assert.InDelta(t, 35, dd.Amount, 1e-9)
	assert.InDelta(t, 30, dd.HighValue, 1e-9)
	assert.InDelta(t, -5, dd.LowValue, 1e-9)
	assert.Equal(t, trades[1].CloseTime, dd.HighTime)
	assert.Equal(t, trades[4].CloseTime, dd.LowTime)
	assert.InDelta(t, 35.0/30.0, dd.Relative, 1e-9)

	dd, err = MaxDrawdown(trades, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 35.0/1030.0, dd.Relative, 1e-9)
}

func TestMaxDrawdownUsesCloseOrder(t *testing.T) {
	trades := ledger(-10, 20)
	trades[0].CloseTime, trades[1].CloseTime = trades[1].CloseTime, trades[0].CloseTime

	dd, err := MaxDrawdown(trades, 0)
	require.NoError(t, err)
	assert.InDelta(t, 10, dd.Amount, 1e-9)
}

func TestMaxDrawdownWithoutLosses(t *testing.T) {
	_, err := MaxDrawdown(ledger(5, 10, 1), 0)
	assert.True(t, errors.Is(err, ErrNoLosingTrades))

	// A first losing trade only sets the initial high.
	_, err = MaxDrawdown(ledger(-5, 10), 0)
	assert.True(t, errors.Is(err, ErrNoLosingTrades))

	_, err = MaxDrawdown(nil, 0)
	assert.True(t, errors.Is(err, ErrNoLosingTrades))
}

func TestSummarize(t *testing.T) {
	s := Summarize(ledger(10, 20, -25, 10, 0))

	assert.Equal(t, 5, s.Trades)
	assert.Equal(t, 3, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 1, s.Draws)
	assert.InDelta(t, 0.6, s.WinRate, 1e-9)
	assert.InDelta(t, 15, s.TotalProfit, 1e-9)
	assert.InDelta(t, 0.003, s.MeanProfitRatio, 1e-12)
	assert.InDelta(t, 10, s.MedianProfitAbs, 1e-9)
	assert.Greater(t, s.StdDevProfitAbs, 0.0)
	// 0.6 * 40/3 - 0.2 * 25
	assert.InDelta(t, 3, s.Expectancy, 1e-9)
	assert.InDelta(t, (1+(40.0/3)/25)*0.6-1, s.ExpectancyRatio, 1e-9)
	assert.True(t, s.HasDrawdown)
	assert.InDelta(t, 25, s.MaxDrawdown, 1e-9)
	assert.Equal(t, 30*time.Minute, s.AverageHoldTime)
	assert.InDelta(t, 15, s.ProfitByExitType["exit_signal"], 1e-9)
}

func TestSummarizeEdgeCases(t *testing.T) {
	empty := Summarize(nil)
	assert.Zero(t, empty.Trades)
	assert.Zero(t, empty.WinRate)
	assert.Zero(t, empty.Expectancy)
	assert.False(t, empty.HasDrawdown)

	winners := Summarize(ledger(5))
	assert.Equal(t, 100.0, winners.ExpectancyRatio)
	assert.Zero(t, winners.StdDevProfitAbs)
	assert.False(t, winners.HasDrawdown)
	assert.Zero(t, winners.MaxDrawdown)

	losers := Summarize(ledger(-5, -5))
	assert.InDelta(t, -1, losers.ExpectancyRatio, 1e-9)
	assert.InDelta(t, -5, losers.Expectancy, 1e-9)
}
