package converter

import (
	"math"
	"sort"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/timeframe"
)

// smallFillRatio is the share of synthesized rows below which a fill is
// logged at DEBUG instead of INFO.
const smallFillRatio = 0.01

// FillReport describes what FillUp changed.
type FillReport struct {
	Before      int          `json:"before"`
	After       int          `json:"after"`
	PctMissing  float64      `json:"pct_missing"`
	Synthesized int          `json:"synthesized"`
	Gaps        []models.Gap `json:"gaps,omitempty"`
}

// FillUp fills missing buckets using the default converter.
func FillUp(table *models.CandleTable, tf, pair string) (*models.CandleTable, FillReport) {
	return defaultConverter.FillUp(table, tf, pair)
}

// FillUp resamples the table onto the bucket grid of tf. Rows sharing a
// bucket aggregate as open=first, high=max, low=min, close=last and
// volume=sum. Empty buckets become flat candles at the previous close with
// zero volume; buckets before the first known close stay NaN.
//
// An unparseable timeframe is logged and the table is returned unchanged.
func (c *Converter) FillUp(table *models.CandleTable, tf, pair string) (*models.CandleTable, FillReport) {
	report := FillReport{Before: table.Len(), After: table.Len()}

	parsed, err := timeframe.Parse(tf)
	if err != nil {
		c.logger.Warn("cannot fill missing data, invalid timeframe", "pair", pair, "timeframe", tf, "error", err)
		return table, report
	}

	if table.Empty() {
		c.logger.Info("missing data fillup skipped, table is empty", "pair", pair, "timeframe", tf)
		return table.WithCandles([]models.Candle{}), report
	}

	rows := make([]models.Candle, len(table.Candles))
	copy(rows, table.Candles)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	bucketer := timeframe.BucketerFor(parsed, rows[0].Timestamp)
	last := bucketer.Floor(rows[len(rows)-1].Timestamp)

	out := make([]models.Candle, 0, len(rows))
	synthesized := make([]bool, 0, len(rows))
	i := 0
	for b := bucketer.Floor(rows[0].Timestamp); !b.After(last); b = bucketer.Next(b) {
		next := bucketer.Next(b)
		agg := newAggregate()
		for i < len(rows) && rows[i].Timestamp.Before(next) {
			agg.add(rows[i])
			i++
		}
		out = append(out, agg.candle(b))
		synthesized = append(synthesized, agg.rows == 0)
	}

	prevClose := math.NaN()
	for k := range out {
		row := &out[k]
		if math.IsNaN(row.Close) {
			row.Close = prevClose
		}
		prevClose = row.Close
		if math.IsNaN(row.Open) {
			row.Open = row.Close
		}
		if math.IsNaN(row.High) {
			row.High = row.Close
		}
		if math.IsNaN(row.Low) {
			row.Low = row.Close
		}
	}

	report.After = len(out)
	report.Gaps = collectGaps(out, synthesized, pair, tf)
	for _, s := range synthesized {
		if s {
			report.Synthesized++
		}
	}
	if report.Before > 0 {
		report.PctMissing = float64(report.After-report.Before) / float64(report.Before)
	}

	if report.Before != report.After {
		args := []any{
			"pair", pair,
			"before", report.Before,
			"after", report.After,
			"pct_missing", report.PctMissing * 100,
		}
		if report.PctMissing > smallFillRatio {
			c.logger.Info("missing data fillup", args...)
		} else {
			c.logger.Debug("missing data fillup", args...)
		}
	}
	c.metrics.RecordGauge("converter_synthesized_rows", float64(report.Synthesized), "rows synthesized by the last fill", map[string]string{"pair": pair})

	return table.WithCandles(out), report
}

// collectGaps groups consecutive synthesized buckets into gaps.
func collectGaps(candles []models.Candle, synthesized []bool, pair, tf string) []models.Gap {
	var gaps []models.Gap
	for k := 0; k < len(candles); k++ {
		if !synthesized[k] {
			continue
		}
		start := k
		for k+1 < len(candles) && synthesized[k+1] {
			k++
		}
		gaps = append(gaps, models.Gap{
			Pair:      pair,
			Timeframe: tf,
			StartTime: candles[start].Timestamp,
			EndTime:   candles[k].Timestamp,
			Missing:   k - start + 1,
		})
	}
	return gaps
}
