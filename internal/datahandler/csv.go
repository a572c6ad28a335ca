package datahandler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

const csvExt = "csv"

// csvCandle is the on-disk row layout. Dates are epoch milliseconds.
type csvCandle struct {
	Date   int64   `csv:"date"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// CSVBackend stores one CSV file per series below a data directory.
type CSVBackend struct {
	fs      afero.Fs
	dataDir string
}

// NewCSVBackend creates a CSV backend rooted at dataDir on fs. A nil fs uses
// the operating system filesystem.
func NewCSVBackend(fs afero.Fs, dataDir string) *CSVBackend {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &CSVBackend{fs: fs, dataDir: dataDir}
}

// Format implements Backend.
func (c *CSVBackend) Format() Format { return FormatCSV }

// Path returns the file holding key.
func (c *CSVBackend) Path(key SeriesKey) string {
	return path.Join(c.dataDir, seriesPath(key, csvExt))
}

// Read implements Backend.
func (c *CSVBackend) Read(ctx context.Context, key SeriesKey) ([]models.Candle, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError(FormatCSV, "read", key, ctx.Err())
	}

	file := c.Path(key)
	raw, err := afero.ReadFile(c.fs, file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(key)
		}
		return nil, NewStorageError(FormatCSV, "read", key, err)
	}

	var rows []csvCandle
	if err := gocsv.UnmarshalBytes(raw, &rows); err != nil {
		return nil, NewStorageError(FormatCSV, "read", key, fmt.Errorf("failed to parse %s: %w", file, err))
	}

	candles := make([]models.Candle, len(rows))
	for i, r := range rows {
		candles[i] = models.Candle{
			Timestamp: time.UnixMilli(r.Date).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return candles, nil
}

// Write implements Backend. The file is written to a temporary name and
// renamed into place.
func (c *CSVBackend) Write(ctx context.Context, key SeriesKey, candles []models.Candle) error {
	if ctx.Err() != nil {
		return NewStorageError(FormatCSV, "write", key, ctx.Err())
	}

	rows := make([]csvCandle, len(candles))
	for i := range candles {
		rows[i] = csvCandle{
			Date:   candles[i].UnixMilli(),
			Open:   candles[i].Open,
			High:   candles[i].High,
			Low:    candles[i].Low,
			Close:  candles[i].Close,
			Volume: candles[i].Volume,
		}
	}

	var buf bytes.Buffer
	if err := gocsv.Marshal(rows, &buf); err != nil {
		return NewStorageError(FormatCSV, "write", key, err)
	}

	file := c.Path(key)
	if err := c.fs.MkdirAll(path.Dir(file), 0o755); err != nil {
		return NewStorageError(FormatCSV, "write", key, err)
	}
	tmp := file + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return NewStorageError(FormatCSV, "write", key, err)
	}
	if err := c.fs.Rename(tmp, file); err != nil {
		_ = c.fs.Remove(tmp)
		return NewStorageError(FormatCSV, "write", key, err)
	}
	return nil
}

// Purge implements Backend.
func (c *CSVBackend) Purge(ctx context.Context, key SeriesKey) (bool, error) {
	if ctx.Err() != nil {
		return false, NewStorageError(FormatCSV, "purge", key, ctx.Err())
	}

	file := c.Path(key)
	exists, err := afero.Exists(c.fs, file)
	if err != nil {
		return false, NewStorageError(FormatCSV, "purge", key, err)
	}
	if !exists {
		return false, nil
	}
	if err := c.fs.Remove(file); err != nil {
		return false, NewStorageError(FormatCSV, "purge", key, err)
	}
	return true, nil
}

// List implements Backend. Spot series live in the data directory, all
// other candle types in its futures subdirectory.
func (c *CSVBackend) List(ctx context.Context, mode models.TradingMode) ([]SeriesKey, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError(FormatCSV, "list", SeriesKey{}, ctx.Err())
	}

	dir := c.dataDir
	if mode == models.TradingModeFutures {
		dir = path.Join(dir, futuresDir)
	}

	exists, err := afero.DirExists(c.fs, dir)
	if err != nil {
		return nil, NewStorageError(FormatCSV, "list", SeriesKey{}, err)
	}
	if !exists {
		return []SeriesKey{}, nil
	}

	entries, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return nil, NewStorageError(FormatCSV, "list", SeriesKey{}, err)
	}

	keys := make([]SeriesKey, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if key, ok := parseSeriesFilename(entry.Name(), csvExt, mode); ok {
			keys = append(keys, key)
		}
	}
	SortKeys(keys)
	return keys, nil
}

// Close implements Backend.
func (c *CSVBackend) Close() error { return nil }

var _ Backend = (*CSVBackend)(nil)
