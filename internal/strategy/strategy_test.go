package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// waveTable returns n five-minute candles tracing a sine wave around 100.
func waveTable(n int) *models.CandleTable {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, n)
	for i := range candles {
		price := 100 + 10*math.Sin(float64(i)/8)
		candles[i] = models.NewCandle(start.Add(time.Duration(i)*5*time.Minute).UnixMilli(),
			price, price+1, price-1, price+0.5, 100)
	}
	return models.NewCandleTable("BTC/USDT", "5m", models.CandleTypeSpot).WithCandles(candles)
}

func populate(t *testing.T, s Strategy, table *models.CandleTable) *models.Frame {
	t.Helper()
	frame := table.Frame()
	require.NoError(t, s.PopulateIndicators(frame))
	return frame
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"emacross", "lookahead", "smacross"}, Names())

	s, err := New(" EMACross ")
	require.NoError(t, err)
	assert.Equal(t, "emacross", s.Name())
	assert.Equal(t, "5m", s.Timeframe())
	assert.Equal(t, 100, s.StartupCandleCount())

	_, err = New("martingale")
	assert.ErrorContains(t, err, "unknown strategy")
}

func TestEMACrossColumns(t *testing.T) {
	frame := populate(t, NewEMACross(EMACrossConfigDefaults()), waveTable(200))

	for _, name := range []string{"ema_fast", "ema_slow", "rsi", "atr", ColumnEnterLong, ColumnExitLong} {
		assert.NotNil(t, frame.Column(name), name)
	}
	assert.Equal(t, models.KindInt64, frame.Column(ColumnEnterLong).Kind())

	rsi := frame.Floats("rsi")
	assert.True(t, math.IsNaN(rsi[13]))
	for _, v := range rsi[14:] {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}

	exits := 0
	for i, v := range frame.Floats(ColumnEnterLong) {
		if v == 1 {
			assert.Less(t, rsi[i], 70.0, "entry at row %d", i)
		}
		exits += int(frame.Floats(ColumnExitLong)[i])
	}
	assert.Positive(t, exits)
}

func TestEMACrossDefaultsStartupToSlowPeriod(t *testing.T) {
	s := NewEMACross(&EMACrossConfig{Timeframe: "1h", FastPeriod: 5, SlowPeriod: 20, RSIPeriod: 14, ATRPeriod: 14})
	assert.Equal(t, 20, s.StartupCandleCount())
}

func TestSMACrossIgnoresHistoryBeyondWindow(t *testing.T) {
	s := NewSMACross(SMACrossConfigDefaults())
	table := waveTable(300)

	full := populate(t, s, table)
	partial := populate(t, s, table.WithCandles(table.Candles[250:]))

	_, fullRow, ok := full.LastRow()
	require.True(t, ok)
	_, partialRow, ok := partial.LastRow()
	require.True(t, ok)
	assert.Equal(t, fullRow, partialRow)
}

func TestLookaheadRepaints(t *testing.T) {
	s := NewLookahead(LookaheadConfigDefaults())
	table := waveTable(300)

	full := populate(t, s, table)
	partial := populate(t, s, table.WithCandles(table.Candles[250:]))

	_, fullRow, _ := full.LastRow()
	_, partialRow, _ := partial.LastRow()

	assert.Equal(t, fullRow["sma"], partialRow["sma"])
	assert.True(t, math.IsNaN(fullRow["future_close"]))
	assert.NotEqual(t, fullRow["close_norm"], partialRow["close_norm"])

	closes := full.Floats(models.ColumnClose)
	assert.Equal(t, closes[1], full.Floats("future_close")[0])
}

func TestMissingCloseColumn(t *testing.T) {
	frame := models.NewFrame(nil)
	assert.Error(t, NewSMACross(SMACrossConfigDefaults()).PopulateIndicators(frame))
}
