package converter

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// RawRow is one exchange candle: timestamp in epoch milliseconds followed by
// open, high, low, close and volume.
type RawRow []any

// Normalize converts raw rows into a clean candle table using the default converter.
func Normalize(rows []RawRow, timeframe, pair string, opts CleanOptions) (*models.CandleTable, error) {
	return defaultConverter.Normalize(rows, timeframe, pair, opts)
}

// Clean applies deduplication, incomplete-candle drop and gap fill using the default converter.
func Clean(table *models.CandleTable, opts CleanOptions) *models.CandleTable {
	return defaultConverter.Clean(table, opts)
}

// Normalize coerces raw rows to float candles and cleans them. Any malformed
// row fails the whole call with a *DataFormatError and no table.
func (c *Converter) Normalize(rows []RawRow, timeframe, pair string, opts CleanOptions) (*models.CandleTable, error) {
	c.logger.Debug("converting candle data to table", "pair", pair, "rows", len(rows))

	candles := make([]models.Candle, len(rows))
	for i, row := range rows {
		candle, err := coerceRow(i, row)
		if err != nil {
			c.metrics.RecordError("converter_format_errors", "raw rows rejected", map[string]string{"pair": pair})
			return nil, err
		}
		candles[i] = candle
	}

	table := &models.CandleTable{
		Pair:       pair,
		Timeframe:  timeframe,
		CandleType: models.CandleTypeSpot,
		Candles:    candles,
	}
	return c.Clean(table, opts), nil
}

func coerceRow(i int, row RawRow) (models.Candle, error) {
	if len(row) != len(rawColumns) {
		return models.Candle{}, &DataFormatError{
			Row: i,
			Err: fmt.Errorf("expected %d fields, got %d", len(rawColumns), len(row)),
		}
	}

	ts, err := toTimestamp(row[0])
	if err != nil {
		return models.Candle{}, &DataFormatError{Row: i, Field: rawColumns[0], Err: err}
	}

	var values [5]float64
	for j := 1; j < len(row); j++ {
		f, err := toFloat(row[j])
		if err != nil {
			return models.Candle{}, &DataFormatError{Row: i, Field: rawColumns[j], Err: err}
		}
		values[j-1] = f
	}

	return models.Candle{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// Clean merges duplicate timestamps, optionally drops the last row and
// optionally fills missing buckets. The input table is not modified.
func (c *Converter) Clean(table *models.CandleTable, opts CleanOptions) *models.CandleTable {
	merged := table.WithCandles(dedupe(table.Candles))

	if opts.DropIncomplete && merged.Len() > 0 {
		merged.Candles = merged.Candles[:merged.Len()-1]
		c.logger.Debug("dropping last candle", "pair", table.Pair)
	}

	if opts.FillMissing {
		filled, _ := c.FillUp(merged, table.Timeframe, table.Pair)
		return filled
	}
	return merged
}

// dedupe groups rows by timestamp and returns them in ascending order.
// Within a group: open is the first value, high the max, low the min,
// close the last value and volume the max. NaN values are skipped.
func dedupe(candles []models.Candle) []models.Candle {
	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := make([]models.Candle, 0, len(sorted))
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Timestamp.Equal(sorted[i].Timestamp) {
			j++
		}
		agg := newAggregate()
		for _, row := range sorted[i:j] {
			agg.add(row)
		}
		merged := agg.candle(sorted[i].Timestamp)
		merged.Volume = agg.maxVolume
		out = append(out, merged)
		i = j
	}
	return out
}

// aggregate folds rows into one candle with first/max/min/last semantics,
// skipping NaN fields.
type aggregate struct {
	open, high, low, close float64
	volumeSum, maxVolume   float64
	rows                   int
}

func newAggregate() *aggregate {
	nan := math.NaN()
	return &aggregate{open: nan, high: nan, low: nan, close: nan, maxVolume: nan}
}

func (a *aggregate) add(c models.Candle) {
	a.rows++
	if math.IsNaN(a.open) {
		a.open = c.Open
	}
	if !math.IsNaN(c.High) && (math.IsNaN(a.high) || c.High > a.high) {
		a.high = c.High
	}
	if !math.IsNaN(c.Low) && (math.IsNaN(a.low) || c.Low < a.low) {
		a.low = c.Low
	}
	if !math.IsNaN(c.Close) {
		a.close = c.Close
	}
	if !math.IsNaN(c.Volume) {
		a.volumeSum += c.Volume
		if math.IsNaN(a.maxVolume) || c.Volume > a.maxVolume {
			a.maxVolume = c.Volume
		}
	}
}

func (a *aggregate) candle(ts time.Time) models.Candle {
	return models.Candle{
		Timestamp: ts,
		Open:      a.open,
		High:      a.high,
		Low:       a.low,
		Close:     a.close,
		Volume:    a.volumeSum,
	}
}
