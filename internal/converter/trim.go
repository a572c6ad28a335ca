package converter

import (
	"sort"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// trimBounds returns the row range [from, to) kept by a trim over ascending
// timestamps. When startupCandles is positive it replaces the window start;
// the window end always applies.
func trimBounds(ts []time.Time, window models.TimeRange, startupCandles int) (int, int) {
	n := len(ts)
	from, to := 0, n

	if startupCandles > 0 {
		from = startupCandles
		if from > n {
			from = n
		}
	} else if window.HasStart() {
		from = sort.Search(n, func(i int) bool { return !ts[i].Before(window.Start) })
	}

	if window.HasEnd() {
		to = sort.Search(n, func(i int) bool { return ts[i].After(window.End) })
	}
	if to < from {
		to = from
	}
	return from, to
}

// TrimToWindow returns a copy of frame without the startup rows or the rows
// outside window. A positive startupCandles drops that many leading rows and
// ignores window.Start; window.End is always applied.
func TrimToWindow(frame *models.Frame, window models.TimeRange, startupCandles int) *models.Frame {
	from, to := trimBounds(frame.Timestamps, window, startupCandles)
	return frame.Slice(from, to)
}

// TrimCandles applies the TrimToWindow rules to a candle table.
func TrimCandles(table *models.CandleTable, window models.TimeRange, startupCandles int) *models.CandleTable {
	from, to := trimBounds(table.Timestamps(), window, startupCandles)
	candles := make([]models.Candle, to-from)
	copy(candles, table.Candles[from:to])
	return table.WithCandles(candles)
}

// TrimFrames trims every pair's frame using the default converter.
func TrimFrames(set models.IndicatorSet, window models.TimeRange, startupCandles int) models.IndicatorSet {
	return defaultConverter.TrimFrames(set, window, startupCandles)
}

// TrimFrames trims every pair's frame and reduces its footprint. Pairs left
// without rows are logged and excluded from the result.
func (c *Converter) TrimFrames(set models.IndicatorSet, window models.TimeRange, startupCandles int) models.IndicatorSet {
	return c.trimFrames(set, window, startupCandles, true)
}

// TrimFramesFullWidth trims like TrimFrames but keeps every column at its
// computed width, so values compare bit for bit.
func (c *Converter) TrimFramesFullWidth(set models.IndicatorSet, window models.TimeRange, startupCandles int) models.IndicatorSet {
	return c.trimFrames(set, window, startupCandles, false)
}

func (c *Converter) trimFrames(set models.IndicatorSet, window models.TimeRange, startupCandles int, reduce bool) models.IndicatorSet {
	out := make(models.IndicatorSet, len(set))
	for pair, frame := range set {
		if frame == nil {
			c.logger.Warn("no indicator data for pair, skipping", "pair", pair)
			continue
		}
		trimmed := TrimToWindow(frame, window, startupCandles)
		if trimmed.Empty() {
			c.logger.Warn("pair has no data left after adjusting for startup candles, skipping",
				"pair", pair, "startup_candles", startupCandles, "window", window.String())
			continue
		}
		if reduce {
			trimmed = c.ReduceFootprint(trimmed)
		}
		out[pair] = trimmed
	}
	return out
}
