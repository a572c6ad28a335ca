package analysis

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// IndicatorDiff is one column whose final value differs between the full run
// and a partial run.
type IndicatorDiff struct {
	Pair     string  `json:"pair"`
	Column   string  `json:"column"`
	Baseline float64 `json:"baseline"`
	Partial  float64 `json:"partial"`
	// PctDiff is (Partial-Baseline)/Baseline*100. It is only meaningful when
	// Defined is true; a zero baseline leaves it undefined.
	PctDiff float64 `json:"pct_diff"`
	Defined bool    `json:"defined"`
}

// MarshalJSON encodes NaN and infinite cells as null.
func (d IndicatorDiff) MarshalJSON() ([]byte, error) {
	type plain IndicatorDiff
	return json.Marshal(struct {
		plain
		Baseline *float64 `json:"baseline"`
		Partial  *float64 `json:"partial"`
	}{plain: plain(d), Baseline: finite(d.Baseline), Partial: finite(d.Partial)})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// TimestampMismatch records a pair whose last full-run and partial-run rows
// sit on different candles.
type TimestampMismatch struct {
	Pair     string    `json:"pair"`
	Baseline time.Time `json:"baseline"`
	Partial  time.Time `json:"partial"`
}

// PartialResult is the comparison of one partial run against the baseline.
type PartialResult struct {
	StartupCandles int                 `json:"startup_candles"`
	RunID          string              `json:"run_id"`
	Diffs          []IndicatorDiff     `json:"diffs"`
	Mismatches     []TimestampMismatch `json:"mismatches,omitempty"`
	MissingPairs   []string            `json:"missing_pairs,omitempty"`
	MeanAbsPct     float64             `json:"mean_abs_pct"`
	MaxAbsPct      float64             `json:"max_abs_pct"`
}

// Clean reports whether the partial run matched the baseline on every pair.
func (r PartialResult) Clean() bool {
	return len(r.Diffs) == 0 && len(r.Mismatches) == 0 && len(r.MissingPairs) == 0
}

// Compare diffs the last indicator row of every partial run against the full
// run, in execution order. The first partial run that matches the baseline
// ends the comparison; later runs are counted as skipped.
func (a *RecursiveAnalyzer) Compare() *Report {
	full := a.Full()
	partials := a.Partials()

	report := &Report{
		Strategy:  a.cfg.Strategy,
		Timeframe: a.cfg.Timeframe,
		Tolerance: a.cfg.Tolerance,
	}
	if full == nil {
		return report
	}
	report.Timeframe = full.Timeframe
	report.Window = full.TimeRange

	for i, partial := range partials {
		result := comparePartial(full, partial, a.cfg.Tolerance)
		for _, m := range result.Mismatches {
			a.logger.Warn("last candle differs between runs",
				"pair", m.Pair, "startup_candles", partial.StartupCandles,
				"baseline", m.Baseline, "partial", m.Partial)
		}
		for _, d := range result.Diffs {
			a.logger.Info("indicator differs from full run",
				"pair", d.Pair, "column", d.Column, "startup_candles", partial.StartupCandles,
				"pct_diff", d.PctDiff, "defined", d.Defined)
		}
		a.metrics.RecordGauge("analysis_max_abs_pct", result.MaxAbsPct, "largest indicator deviation of a partial run",
			map[string]string{"strategy": a.cfg.Strategy})
		report.Partials = append(report.Partials, result)

		if result.Clean() {
			report.StoppedEarly = i < len(partials)-1
			report.Skipped = len(partials) - i - 1
			a.logger.Info("no difference found, stopping comparison",
				"startup_candles", partial.StartupCandles, "skipped", report.Skipped)
			break
		}
	}
	return report
}

func comparePartial(full, partial *models.VarHolder, tolerance float64) PartialResult {
	result := PartialResult{StartupCandles: partial.StartupCandles, RunID: partial.RunID}

	pairs := make([]string, 0, len(full.Indicators))
	for pair := range full.Indicators {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	var magnitudes []float64
	for _, pair := range pairs {
		baseFrame := full.Indicators[pair]
		baseTS, baseRow, ok := baseFrame.LastRow()
		if !ok {
			continue
		}
		partFrame, ok := partial.Indicators[pair]
		if !ok || partFrame.Empty() {
			result.MissingPairs = append(result.MissingPairs, pair)
			continue
		}
		partTS, partRow, _ := partFrame.LastRow()
		if !baseTS.Equal(partTS) {
			result.Mismatches = append(result.Mismatches, TimestampMismatch{Pair: pair, Baseline: baseTS, Partial: partTS})
			continue
		}

		for _, column := range baseFrame.Names() {
			partValue, ok := partRow[column]
			if !ok {
				continue
			}
			diff, differs := diffValues(baseRow[column], partValue, tolerance)
			if !differs {
				continue
			}
			diff.Pair = pair
			diff.Column = column
			result.Diffs = append(result.Diffs, diff)
			if diff.Defined {
				magnitudes = append(magnitudes, math.Abs(diff.PctDiff))
			}
		}
	}

	if len(magnitudes) > 0 {
		result.MeanAbsPct, _ = stats.Mean(magnitudes)
		result.MaxAbsPct, _ = stats.Max(magnitudes)
	}
	return result
}

// diffValues compares two cells. NaN equals NaN. With a positive tolerance,
// values whose relative difference does not exceed it are equal.
func diffValues(baseline, partial, tolerance float64) (IndicatorDiff, bool) {
	baseNaN, partNaN := math.IsNaN(baseline), math.IsNaN(partial)
	switch {
	case baseNaN && partNaN:
		return IndicatorDiff{}, false
	case baseNaN || partNaN:
		return IndicatorDiff{Baseline: baseline, Partial: partial}, true
	case baseline == partial:
		return IndicatorDiff{}, false
	}

	diff := IndicatorDiff{Baseline: baseline, Partial: partial}
	if baseline != 0 {
		diff.PctDiff = (partial - baseline) / baseline * 100
		diff.Defined = true
		if tolerance > 0 && math.Abs(diff.PctDiff) <= tolerance*100 {
			return IndicatorDiff{}, false
		}
	} else if tolerance > 0 && math.Abs(partial) <= tolerance {
		return IndicatorDiff{}, false
	}
	return diff, true
}
