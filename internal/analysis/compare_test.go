package analysis

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

func TestDiffValues(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name      string
		baseline  float64
		partial   float64
		tolerance float64
		differs   bool
		defined   bool
		pct       float64
	}{
		{"equal", 1.5, 1.5, 0, false, false, 0},
		{"both NaN", nan, nan, 0, false, false, 0},
		{"NaN baseline", nan, 2, 0, true, false, 0},
		{"NaN partial", 2, nan, 0, true, false, 0},
		{"increase", 100, 110, 0, true, true, 10},
		{"decrease", 200, 150, 0, true, true, -25},
		{"zero baseline", 0, 3, 0, true, false, 0},
		{"within tolerance", 100, 100.05, 0.001, false, false, 0},
		{"beyond tolerance", 100, 100.5, 0.001, true, true, 0.5},
		{"zero baseline within tolerance", 0, 0.0005, 0.001, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff, differs := diffValues(tt.baseline, tt.partial, tt.tolerance)
			assert.Equal(t, tt.differs, differs)
			if !differs {
				return
			}
			assert.Equal(t, tt.defined, diff.Defined)
			assert.InDelta(t, tt.pct, diff.PctDiff, 1e-9)
		})
	}
}

func holder(runID string, startup int, ts time.Time, columns map[string]float64) *models.VarHolder {
	frame := models.NewFrame([]time.Time{ts})
	for name, v := range columns {
		_ = frame.AddFloat(name, []float64{v})
	}
	return &models.VarHolder{
		RunID:          runID,
		StartupCandles: startup,
		Indicators:     models.IndicatorSet{"BTC/USDT": frame},
	}
}

func TestComparePartialRecordsMismatchesAndMissingPairs(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	full := holder("full", 0, ts, map[string]float64{"rsi": 55})
	full.Indicators["ETH/USDT"] = holder("", 0, ts, map[string]float64{"rsi": 40}).Indicators["BTC/USDT"]

	partial := holder("p1", 199, ts.Add(-5*time.Minute), map[string]float64{"rsi": 55})

	result := comparePartial(full, partial, 0)
	assert.False(t, result.Clean())
	assert.Empty(t, result.Diffs)
	require.Len(t, result.Mismatches, 1)
	assert.Equal(t, "BTC/USDT", result.Mismatches[0].Pair)
	assert.Equal(t, []string{"ETH/USDT"}, result.MissingPairs)
}

func TestComparePartialStatistics(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	full := holder("full", 0, ts, map[string]float64{"a": 100, "b": 50, "c": 0, "d": 7})
	partial := holder("p1", 199, ts, map[string]float64{"a": 110, "b": 40, "c": 1, "d": 7})

	result := comparePartial(full, partial, 0)
	require.Len(t, result.Diffs, 3)
	assert.InDelta(t, 15, result.MeanAbsPct, 1e-9)
	assert.InDelta(t, 20, result.MaxAbsPct, 1e-9)
	assert.Equal(t, "p1", result.RunID)
	assert.Equal(t, 199, result.StartupCandles)
}

func TestIndicatorDiffJSONEncodesNaNAsNull(t *testing.T) {
	data, err := json.Marshal(IndicatorDiff{Pair: "BTC/USDT", Column: "future_close", Baseline: math.NaN(), Partial: 101.5})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"pair":"BTC/USDT","column":"future_close","baseline":null,"partial":101.5,"pct_diff":0,"defined":false}`,
		string(data))
}
