package converter

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequenceFrame(t *testing.T, n int) *models.Frame {
	t.Helper()
	f := models.NewFrame(hourly(n))
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i)
	}
	require.NoError(t, f.AddFloat("seq", values))
	return f
}

func TestTrimToWindow_StartupCandlesTakePrecedence(t *testing.T) {
	f := sequenceFrame(t, 300)
	window := models.TimeRange{
		Start: baseTime.Add(10 * time.Hour),
		End:   baseTime.Add(250 * time.Hour),
	}

	trimmed := TrimToWindow(f, window, 199)

	require.Equal(t, 52, trimmed.Len())
	assert.Equal(t, 199.0, trimmed.Floats("seq")[0])
	assert.True(t, trimmed.Timestamps[trimmed.Len()-1].Equal(window.End))
}

func TestTrimToWindow_DateBounds(t *testing.T) {
	f := sequenceFrame(t, 10)
	window := models.TimeRange{Start: baseTime.Add(2 * time.Hour), End: baseTime.Add(5 * time.Hour)}

	trimmed := TrimToWindow(f, window, 0)

	assert.Equal(t, []float64{2, 3, 4, 5}, trimmed.Floats("seq"))
	assert.Equal(t, 10, f.Len())
}

func TestTrimToWindow_OpenWindow(t *testing.T) {
	f := sequenceFrame(t, 5)

	assert.Equal(t, 5, TrimToWindow(f, models.TimeRange{}, 0).Len())
	assert.Equal(t, 0, TrimToWindow(f, models.TimeRange{}, 10).Len())
}

func TestTrimCandles(t *testing.T) {
	table := tableOf("1h")
	for _, ts := range hourly(6) {
		table.Candles = append(table.Candles, models.NewCandle(ts.UnixMilli(), 1, 1, 1, 1, 1))
	}

	trimmed := TrimCandles(table, models.TimeRange{End: baseTime.Add(3 * time.Hour)}, 2)

	require.Equal(t, 2, trimmed.Len())
	assert.True(t, trimmed.First().Timestamp.Equal(baseTime.Add(2*time.Hour)))
	assert.Equal(t, 6, table.Len())
}

func TestTrimFrames_ExcludesEmptyPairs(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(slog.New(slog.NewTextHandler(buf, nil)), nil)

	set := models.IndicatorSet{
		"BTC/USDT": sequenceFrame(t, 300),
		"ETH/USDT": sequenceFrame(t, 100),
		"XRP/USDT": nil,
	}

	out := c.TrimFrames(set, models.TimeRange{}, 199)

	require.Len(t, out, 1)
	require.Contains(t, out, "BTC/USDT")
	assert.Equal(t, 101, out["BTC/USDT"].Len())
	assert.Equal(t, models.KindFloat32, out["BTC/USDT"].Column("seq").Kind())
	assert.Contains(t, buf.String(), "ETH/USDT")
	assert.Contains(t, buf.String(), "level=WARN")
}
