package datahandler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func storeHourly(t *testing.T, h *DataHandler, pair string, n int) []models.Candle {
	t.Helper()
	rows := candles(n, time.Hour)
	table := models.NewCandleTable(pair, "1h", models.CandleTypeSpot).WithCandles(rows)
	require.NoError(t, h.Store(context.Background(), table))
	return rows
}

func TestLoadPrependsStartupCandles(t *testing.T) {
	h := New(NewMemoryBackend(), nil, nil)
	rows := storeHourly(t, h, "BTC/USDT", 300)

	table, err := h.Load(context.Background(), LoadRequest{
		Pair:           "BTC/USDT",
		Timeframe:      "1h",
		TimeRange:      models.TimeRange{Start: t0.Add(250 * time.Hour), End: t0.Add(260 * time.Hour)},
		StartupCandles: 10,
	})
	require.NoError(t, err)

	require.Equal(t, 21, table.Len())
	assert.Equal(t, rows[240], table.First())
	assert.Equal(t, rows[260], table.Last())
	assert.Equal(t, models.CandleTypeSpot, table.CandleType)
}

func TestLoadOpenRangeReturnsEverything(t *testing.T) {
	h := New(NewMemoryBackend(), nil, nil)
	rows := storeHourly(t, h, "BTC/USDT", 48)

	table, err := h.Load(context.Background(), LoadRequest{Pair: "BTC/USDT", Timeframe: "1h", StartupCandles: 5})
	require.NoError(t, err)
	assert.Equal(t, rows, table.Candles)
}

func TestLoadMissingSeriesIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	h := New(NewMemoryBackend(), bufferLogger(&buf), nil)

	table, err := h.Load(context.Background(), LoadRequest{Pair: "ETH/USDT", Timeframe: "5m"})
	require.NoError(t, err)
	assert.True(t, table.Empty())
	assert.Equal(t, "ETH/USDT", table.Pair)
	assert.Contains(t, buf.String(), "no history found")
}

func TestLoadOutsideStoredRangeIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	h := New(NewMemoryBackend(), bufferLogger(&buf), nil)
	storeHourly(t, h, "BTC/USDT", 24)

	table, err := h.Load(context.Background(), LoadRequest{
		Pair:      "BTC/USDT",
		Timeframe: "1h",
		TimeRange: models.TimeRange{Start: t0.AddDate(0, 1, 0)},
	})
	require.NoError(t, err)
	assert.True(t, table.Empty())
	assert.Contains(t, buf.String(), "no history in requested range")
}

func TestLoadWarnsOnPartialCoverage(t *testing.T) {
	var buf bytes.Buffer
	h := New(NewMemoryBackend(), bufferLogger(&buf), nil)
	storeHourly(t, h, "BTC/USDT", 24)

	table, err := h.Load(context.Background(), LoadRequest{
		Pair:      "BTC/USDT",
		Timeframe: "1h",
		TimeRange: models.TimeRange{Start: t0.Add(-time.Hour), End: t0.Add(48 * time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, 24, table.Len())
	assert.Contains(t, buf.String(), "missing data at start")
	assert.Contains(t, buf.String(), "missing data at end")
}

func TestLoadFillsMissingCandles(t *testing.T) {
	h := New(NewMemoryBackend(), nil, nil)
	rows := candles(6, time.Hour)
	gapped := append([]models.Candle{}, rows[:2]...)
	gapped = append(gapped, rows[5])
	require.NoError(t, h.Store(context.Background(),
		models.NewCandleTable("BTC/USDT", "1h", models.CandleTypeSpot).WithCandles(gapped)))

	table, err := h.Load(context.Background(), LoadRequest{Pair: "BTC/USDT", Timeframe: "1h", FillMissing: true})
	require.NoError(t, err)

	require.Equal(t, 6, table.Len())
	for i := 2; i < 5; i++ {
		c := table.Candles[i]
		assert.Equal(t, rows[i].Timestamp, c.Timestamp)
		assert.True(t, c.IsFlat())
		assert.Equal(t, rows[1].Close, c.Close)
		assert.Zero(t, c.Volume)
	}
	assert.Equal(t, rows[5], table.Last())
}

func TestLoadDropsIncompleteCandle(t *testing.T) {
	h := New(NewMemoryBackend(), nil, nil)
	rows := storeHourly(t, h, "BTC/USDT", 10)

	table, err := h.Load(context.Background(), LoadRequest{Pair: "BTC/USDT", Timeframe: "1h", DropIncomplete: true})
	require.NoError(t, err)
	assert.Equal(t, 9, table.Len())
	assert.Equal(t, rows[8], table.Last())
}

func TestLoadInvalidTimeframe(t *testing.T) {
	h := New(NewMemoryBackend(), nil, nil)

	_, err := h.Load(context.Background(), LoadRequest{Pair: "BTC/USDT", Timeframe: "5x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestStoreReplacesAndPurges(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryBackend(), nil, nil)
	storeHourly(t, h, "BTC/USDT", 10)
	storeHourly(t, h, "BTC/USDT", 4)

	table, err := h.Load(ctx, LoadRequest{Pair: "BTC/USDT", Timeframe: "1h"})
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())

	removed, err := h.Purge(ctx, "BTC/USDT", "1h", "")
	require.NoError(t, err)
	assert.True(t, removed)

	keys, err := h.ListAvailable(ctx, models.TradingModeSpot)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStoreRejectsInvalidTimeframe(t *testing.T) {
	h := New(NewMemoryBackend(), nil, nil)
	table := models.NewCandleTable("BTC/USDT", "", models.CandleTypeSpot).WithCandles(candles(2, time.Hour))

	err := h.Store(context.Background(), table)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestCSVKeepsNaN(t *testing.T) {
	ctx := context.Background()
	backend := NewCSVBackend(afero.NewMemMapFs(), "/data")
	rows := candles(2, time.Hour)
	rows[0].Open, rows[0].High, rows[0].Low, rows[0].Close = math.NaN(), math.NaN(), math.NaN(), math.NaN()
	require.NoError(t, backend.Write(ctx, spotKey, rows))

	got, err := backend.Read(ctx, spotKey)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].HasNaN())
	assert.Equal(t, rows[1], got[1])
}

func TestSQLiteStoresNaNAsNull(t *testing.T) {
	ctx := context.Background()
	backend, err := NewSQLiteBackend(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer backend.Close()

	rows := candles(2, time.Hour)
	rows[0].Close = math.NaN()
	require.NoError(t, backend.Write(ctx, spotKey, rows))

	got, err := backend.Read(ctx, spotKey)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got[0].Close))
	assert.Equal(t, rows[0].Open, got[0].Open)
	assert.NoError(t, backend.HealthCheck(ctx))
}

func TestCSVFileLayout(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	backend := NewCSVBackend(fs, "/data")

	require.NoError(t, backend.Write(ctx, spotKey, candles(2, 5*time.Minute)))
	require.NoError(t, backend.Write(ctx, markKey, candles(2, time.Hour)))

	exists, err := afero.Exists(fs, "/data/BTC_USDT-5m.csv")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(fs, "/data/futures/BTC_USDT_USDT-1h-mark.csv")
	require.NoError(t, err)
	assert.True(t, exists)

	raw, err := afero.ReadFile(fs, "/data/BTC_USDT-5m.csv")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("date,open,high,low,close,volume\n")))
}

func TestCSVListIgnoresForeignFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/notes.txt", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/BTC_USDT-5m.json", []byte("[]"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/futures/ETH_USDT_USDT-1h-bogus.csv", []byte(""), 0o644))
	backend := NewCSVBackend(fs, "/data")

	spot, err := backend.List(context.Background(), models.TradingModeSpot)
	require.NoError(t, err)
	assert.Empty(t, spot)

	futures, err := backend.List(context.Background(), models.TradingModeFutures)
	require.NoError(t, err)
	assert.Empty(t, futures)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	h, err := Open(ctx, FormatCSV, "/data", nil, WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, h.Format())

	shared := NewMemoryBackend()
	h, err = Open(ctx, FormatMemory, "", nil, WithMemoryBackend(shared))
	require.NoError(t, err)
	assert.Same(t, shared, h.Backend())

	dir := t.TempDir()
	h, err = Open(ctx, FormatSQLite, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, FormatSQLite, h.Format())
	require.NoError(t, h.Close())

	_, err = Open(ctx, Format("parquet"), dir, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" DuckDB ")
	require.NoError(t, err)
	assert.Equal(t, FormatDuckDB, f)

	_, err = ParseFormat("feather")
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}
