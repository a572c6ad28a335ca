package backtest

import (
	"math"
	"sort"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/strategy"
)

// Exit reasons recorded on simulated trades.
const (
	ExitReasonSignal = "exit_signal"
	ExitReasonForce  = "force_exit"
)

// Simulate replays the enter_long and exit_long columns of every frame as a
// long-only ledger. A position opens at the close of an entry row while flat
// and closes at the close of the next exit row. Positions still open on the
// last row are closed there. Fees are charged on both sides.
func Simulate(set models.IndicatorSet, stakeAmount, feeRate float64) []models.Trade {
	pairs := make([]string, 0, len(set))
	for pair := range set {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	var trades []models.Trade
	for _, pair := range pairs {
		trades = append(trades, simulatePair(pair, set[pair], stakeAmount, feeRate)...)
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].CloseTime.Before(trades[j].CloseTime)
	})
	return trades
}

func simulatePair(pair string, frame *models.Frame, stakeAmount, feeRate float64) []models.Trade {
	closes := frame.Floats(models.ColumnClose)
	enter := frame.Floats(strategy.ColumnEnterLong)
	exit := frame.Floats(strategy.ColumnExitLong)
	if closes == nil || enter == nil {
		return nil
	}

	var trades []models.Trade
	open := -1
	for i, price := range closes {
		if math.IsNaN(price) || price <= 0 {
			continue
		}
		if open < 0 {
			if enter[i] == 1 {
				open = i
			}
			continue
		}
		if exit != nil && exit[i] == 1 {
			trades = append(trades, closeTrade(pair, frame, open, i, stakeAmount, feeRate, ExitReasonSignal))
			open = -1
		}
	}

	if last := frame.Len() - 1; open >= 0 && last > open && !math.IsNaN(closes[last]) {
		trades = append(trades, closeTrade(pair, frame, open, last, stakeAmount, feeRate, ExitReasonForce))
	}
	return trades
}

func closeTrade(pair string, frame *models.Frame, from, to int, stakeAmount, feeRate float64, reason string) models.Trade {
	closes := frame.Floats(models.ColumnClose)
	openPrice, closePrice := closes[from], closes[to]

	amount := stakeAmount * (1 - feeRate) / openPrice
	proceeds := amount * closePrice * (1 - feeRate)
	profit := proceeds - stakeAmount

	return models.Trade{
		Pair:        pair,
		OpenTime:    frame.Timestamps[from],
		CloseTime:   frame.Timestamps[to],
		OpenPrice:   openPrice,
		ClosePrice:  closePrice,
		Amount:      amount,
		ProfitAbs:   profit,
		ProfitRatio: profit / stakeAmount,
		ExitReason:  reason,
	}
}

// Simulate runs Simulate with the engine's stake amount and exchange fee.
func (e *DataEngine) Simulate(set models.IndicatorSet) []models.Trade {
	fee := 0.0
	if sim, ok := e.exchange.(*SimExchange); ok {
		fee = sim.FeeRate()
	}
	trades := Simulate(set, e.cfg.StakeAmount(), fee)
	e.logger.Info("simulated trades", "strategy", e.strategy.Name(), "trades", len(trades))
	return trades
}
