package converter

import (
	"bytes"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableOf(tf string, candles ...models.Candle) *models.CandleTable {
	table := models.NewCandleTable(testPair, tf, models.CandleTypeSpot)
	table.Candles = candles
	return table
}

func TestFillUp_SynthesizesFlatCandles(t *testing.T) {
	table := tableOf("5m",
		models.NewCandle(ms(0), 10, 12, 9, 11, 5),
		models.NewCandle(ms(5*time.Minute), 11, 13, 10, 12, 6),
		models.NewCandle(ms(20*time.Minute), 12, 14, 11, 13, 7),
	)

	filled, report := FillUp(table, "5m", testPair)

	require.Equal(t, 5, filled.Len())
	assert.Equal(t, 3, report.Before)
	assert.Equal(t, 5, report.After)
	assert.Equal(t, 2, report.Synthesized)
	assert.InDelta(t, 2.0/3.0, report.PctMissing, 1e-12)

	for _, idx := range []int{2, 3} {
		c := filled.Candles[idx]
		assert.True(t, c.IsFlat(), "row %d should be flat", idx)
		assert.Equal(t, 12.0, c.Close, "row %d should carry the prior close", idx)
		assert.Zero(t, c.Volume)
	}
	assert.Equal(t, table.Candles[2], filled.Candles[4])

	require.Len(t, report.Gaps, 1)
	assert.Equal(t, 2, report.Gaps[0].Missing)
	assert.True(t, report.Gaps[0].StartTime.Equal(baseTime.Add(10*time.Minute)))
	assert.True(t, report.Gaps[0].EndTime.Equal(baseTime.Add(15*time.Minute)))
}

func TestFillUp_AggregatesWithinBucket(t *testing.T) {
	// Two 1m rows fall into one 5m bucket: volumes are summed.
	table := tableOf("5m",
		models.NewCandle(ms(0), 10, 12, 9, 11, 5),
		models.NewCandle(ms(time.Minute), 11, 15, 8, 14, 6),
	)

	filled, report := FillUp(table, "5m", testPair)

	require.Equal(t, 1, filled.Len())
	c := filled.First()
	assert.Equal(t, 10.0, c.Open)
	assert.Equal(t, 15.0, c.High)
	assert.Equal(t, 8.0, c.Low)
	assert.Equal(t, 14.0, c.Close)
	assert.Equal(t, 11.0, c.Volume)
	assert.Equal(t, -0.5, report.PctMissing)
}

func TestFillUp_MonthlyBuckets(t *testing.T) {
	jan := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	table := tableOf("1M",
		models.NewCandle(jan.UnixMilli(), 1, 2, 0.5, 1.5, 10),
		models.NewCandle(apr.UnixMilli(), 2, 3, 1.5, 2.5, 20),
	)

	filled, report := FillUp(table, "1M", testPair)

	require.Equal(t, 4, filled.Len())
	assert.Equal(t, 2, report.Synthesized)
	want := []time.Time{
		jan,
		time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
		apr,
	}
	assert.Equal(t, want, filled.Timestamps())
	assert.Equal(t, 1.5, filled.Candles[2].Close)
}

func TestFillUp_EmptyTable(t *testing.T) {
	filled, report := FillUp(tableOf("5m"), "5m", testPair)

	assert.True(t, filled.Empty())
	assert.Zero(t, report.PctMissing)
	assert.Zero(t, report.Before)
}

func TestFillUp_InvalidTimeframeReturnsInput(t *testing.T) {
	table := tableOf("5m",
		models.NewCandle(ms(0), 1, 1, 1, 1, 1),
		models.NewCandle(ms(20*time.Minute), 1, 1, 1, 1, 1),
	)

	filled, report := FillUp(table, "bogus", testPair)

	assert.Same(t, table, filled)
	assert.Equal(t, 2, report.After)
}

func TestFillUp_LeadingNaNStaysNaN(t *testing.T) {
	nan := math.NaN()
	table := tableOf("5m",
		models.Candle{Timestamp: baseTime, Open: nan, High: nan, Low: nan, Close: nan},
		models.NewCandle(ms(10*time.Minute), 1, 1, 1, 1, 1),
	)

	filled, _ := FillUp(table, "5m", testPair)

	require.Equal(t, 3, filled.Len())
	assert.True(t, math.IsNaN(filled.Candles[0].Close))
	assert.True(t, math.IsNaN(filled.Candles[1].Open))
	assert.NoError(t, filled.Candles[1].Validate())
}

func TestFillUp_LogLevelDependsOnMissingShare(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo})), nil)

	// 1 synthesized row out of 200 is 0.5%, logged below INFO.
	candles := make([]models.Candle, 0, 200)
	for i := 0; i < 201; i++ {
		if i == 100 {
			continue
		}
		candles = append(candles, models.NewCandle(ms(time.Duration(i)*time.Minute), 1, 1, 1, 1, 1))
	}
	_, report := c.FillUp(tableOf("1m", candles...), "1m", testPair)
	assert.Equal(t, 1, report.Synthesized)
	assert.NotContains(t, buf.String(), "missing data fillup")

	// 2 missing out of 3 is well above 1%.
	_, _ = c.FillUp(tableOf("5m",
		models.NewCandle(ms(0), 1, 1, 1, 1, 1),
		models.NewCandle(ms(5*time.Minute), 1, 1, 1, 1, 1),
		models.NewCandle(ms(20*time.Minute), 1, 1, 1, 1, 1),
	), "5m", testPair)
	assert.Contains(t, buf.String(), "missing data fillup")
	assert.Contains(t, buf.String(), "level=INFO")
}
