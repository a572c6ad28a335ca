// Package indicators provides vectorised technical analysis indicators.
//
// Every function takes whole columns and returns a column of the same length.
// Rows inside the warm-up period are NaN. Leading NaN input rows, as produced
// by gap filling before the first known close, are skipped before warm-up
// starts.
package indicators

import (
	"fmt"
	"math"
)

func checkPeriod(period int) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %d", period)
	}
	return nil
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// firstValid returns the index of the first non-NaN value, or len(values).
func firstValid(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i
		}
	}
	return len(values)
}

// SMA calculates the Simple Moving Average for the given period. Each window
// is summed on its own so a value never depends on rows before its window.
func SMA(values []float64, period int) ([]float64, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	out := nanSlice(len(values))
	start := firstValid(values)

	for i := start + period - 1; i < len(values); i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(period)
	}
	return out, nil
}

// EMA calculates the Exponential Moving Average for the given period.
// The first value is the SMA of the first period values.
func EMA(values []float64, period int) ([]float64, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	out := nanSlice(len(values))
	start := firstValid(values)
	if len(values)-start < period {
		return out, nil
	}

	// Calculate multiplier: 2 / (period + 1)
	multiplier := 2.0 / float64(period+1)

	sma := 0.0
	for i := start; i < start+period; i++ {
		sma += values[i]
	}
	ema := sma / float64(period)
	out[start+period-1] = ema

	for i := start + period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out, nil
}

// RSI calculates the Relative Strength Index with Wilder's smoothing.
func RSI(values []float64, period int) ([]float64, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	out := nanSlice(len(values))
	start := firstValid(values)
	if len(values)-start < period+1 {
		return out, nil
	}

	gain := make([]float64, len(values))
	loss := make([]float64, len(values))
	for i := start + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain[i] = change
		} else {
			loss[i] = -change
		}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := start + 1; i <= start+period; i++ {
		avgGain += gain[i]
		avgLoss += loss[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[start+period] = rsiValue(avgGain, avgLoss)

	for i := start + period + 1; i < len(values); i++ {
		avgGain = (avgGain*float64(period-1) + gain[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss[i]) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - (100 / (1 + avgGain/avgLoss))
}

// ATR calculates the Average True Range for the given period. The first value
// is the mean of the first period true ranges, later values use Wilder's
// smoothing.
func ATR(high, low, closes []float64, period int) ([]float64, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	if len(high) != len(closes) || len(low) != len(closes) {
		return nil, fmt.Errorf("column lengths differ: high %d, low %d, close %d", len(high), len(low), len(closes))
	}
	out := nanSlice(len(closes))
	start := firstValid(closes)
	if len(closes)-start < period+1 {
		return out, nil
	}

	sum := 0.0
	for i := start + 1; i <= start+period; i++ {
		sum += trueRange(high[i], low[i], closes[i-1])
	}
	atr := sum / float64(period)
	out[start+period] = atr

	// Smooth remaining values using Wilder's method
	for i := start + period + 1; i < len(closes); i++ {
		atr = (atr*float64(period-1) + trueRange(high[i], low[i], closes[i-1])) / float64(period)
		out[i] = atr
	}
	return out, nil
}

// trueRange calculates the True Range of a candle given the previous close.
func trueRange(high, low, prevClose float64) float64 {
	highLow := high - low
	highClose := math.Abs(high - prevClose)
	lowClose := math.Abs(low - prevClose)

	return math.Max(highLow, math.Max(highClose, lowClose))
}

// Shift moves values n rows later. A negative n pulls values from later rows
// into earlier ones. Vacated rows are NaN.
func Shift(values []float64, n int) []float64 {
	out := nanSlice(len(values))
	for i := range values {
		j := i - n
		if j >= 0 && j < len(values) {
			out[i] = values[j]
		}
	}
	return out
}

// CrossedAbove marks rows where a moves from at or below b to above b.
func CrossedAbove(a, b []float64) []int64 {
	out := make([]int64, len(a))
	for i := 1; i < len(a) && i < len(b); i++ {
		if a[i] > b[i] && a[i-1] <= b[i-1] {
			out[i] = 1
		}
	}
	return out
}

// CrossedBelow marks rows where a moves from at or above b to below b.
func CrossedBelow(a, b []float64) []int64 {
	return CrossedAbove(b, a)
}
