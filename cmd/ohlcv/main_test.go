package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// writeRawCandles writes n raw 5m candles as a JSON array, leaving out the
// indices in skip.
func writeRawCandles(t *testing.T, dir, name string, n int, skip map[int]bool) string {
	t.Helper()
	rows := make([][]any, 0, n)
	for i := 0; i < n; i++ {
		if skip[i] {
			continue
		}
		price := 100 + 5*math.Sin(float64(i)/12)
		ts := start.Add(time.Duration(i) * 5 * time.Minute).UnixMilli()
		rows = append(rows, []any{ts, price, price + 1, price - 1, price + 0.25, 10 + float64(i%7)})
	}
	data, err := json.Marshal(rows)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// writeConfig points the data and user directories into dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := map[string]any{
		"data": map[string]any{
			"datadir":       filepath.Join(dir, "data"),
			"format":        "csv",
			"trading_mode":  "spot",
			"user_data_dir": dir,
		},
		"logging": map[string]any{"level": "debug", "format": "text"},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "ohlcv.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := &CLI{out: &out, logWriter: io.Discard}
	root := cli.newRootCommand()
	root.SetArgs(append([]string{"--config", configPath}, args...))
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	cli.close()
	return out.String(), err
}

// seedData stores a gapped BTC/USDT series and a complete ETH/USDT series.
func seedData(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	configPath = writeConfig(t, dir)

	btc := writeRawCandles(t, dir, "btc.json", 600, map[int]bool{100: true, 101: true, 102: true})
	out, err := runCLI(t, configPath, "normalize", "--input", btc, "--pair", "BTC/USDT", "--timeframe", "5m", "--fill-missing=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored 597 candles for BTC/USDT 5m (spot) from 597 raw rows")

	eth := writeRawCandles(t, dir, "eth.json", 600, nil)
	out, err = runCLI(t, configPath, "normalize", "--input", eth, "--pair", "ETH/USDT", "--timeframe", "5m")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored 600 candles for ETH/USDT 5m (spot) from 600 raw rows")
	return dir, configPath
}

func TestNormalizeRejectsMalformedInput(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir)
	input := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"not": "an array"}`), 0o644))

	_, err := runCLI(t, configPath, "normalize", "--input", input, "--pair", "BTC/USDT", "--timeframe", "5m")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDataFormat)
	assert.Equal(t, ExitDataError, exitCode(err))
}

func TestListData(t *testing.T) {
	_, configPath := seedData(t)

	out, err := runCLI(t, configPath, "list-data", "--show-timerange")
	require.NoError(t, err)
	assert.Contains(t, out, "BTC/USDT")
	assert.Contains(t, out, "ETH/USDT")
	assert.Contains(t, out, "2024-03-01 00:00")
	assert.Contains(t, out, "Found 2 series in")

	out, err = runCLI(t, configPath, "list-data", "--pairs", "ETH/USDT", "--show-timerange", "--json")
	require.NoError(t, err)
	var infos []struct {
		Pair    string    `json:"pair"`
		From    time.Time `json:"from"`
		Candles int       `json:"candles"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "ETH/USDT", infos[0].Pair)
	assert.Equal(t, 600, infos[0].Candles)
	assert.True(t, start.Equal(infos[0].From))
}

func TestListDataEmpty(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, writeConfig(t, dir), "list-data")
	require.NoError(t, err)
	assert.Contains(t, out, "No spot data found in")
}

func TestGaps(t *testing.T) {
	_, configPath := seedData(t)

	out, err := runCLI(t, configPath, "gaps", "--timeframe", "5m")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 gaps (3 missing candles) across 1 pairs")
	assert.Contains(t, out, "2024-03-01 08:20")

	out, err = runCLI(t, configPath, "gaps", "--timeframe", "5m", "--pairs", "ETH/USDT")
	require.NoError(t, err)
	assert.Contains(t, out, "No data gaps found for 1 pairs at 5m")

	_, err = runCLI(t, configPath, "gaps", "--timeframe", "7q")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestConvertData(t *testing.T) {
	_, configPath := seedData(t)

	out, err := runCLI(t, configPath, "convert-data", "--format-to", "sqlite", "--pairs", "ETH/USDT")
	require.NoError(t, err)
	assert.Contains(t, out, "600")

	out, err = runCLI(t, configPath, "--data-format", "sqlite", "list-data", "--show-timerange", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"ETH/USDT"`)
	assert.NotContains(t, out, `"BTC/USDT"`)

	// The source series stays without --erase.
	out, err = runCLI(t, configPath, "list-data", "--pairs", "ETH/USDT")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 series in")

	_, err = runCLI(t, configPath, "convert-data")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestBacktestJSON(t *testing.T) {
	_, configPath := seedData(t)

	out, err := runCLI(t, configPath, "backtest", "--strategy", "smacross", "--pairs", "ETH/USDT", "--json")
	require.NoError(t, err)
	var result struct {
		Strategy string `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "smacross", result.Strategy)
}

func TestBacktestUnknownStrategy(t *testing.T) {
	_, configPath := seedData(t)
	_, err := runCLI(t, configPath, "backtest", "--strategy", "nope", "--pairs", "ETH/USDT")
	assert.Error(t, err)
}

func TestRecursiveAnalysis(t *testing.T) {
	dir, configPath := seedData(t)
	modelDir := filepath.Join(dir, "models", "recursive-analysis")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "stale.bin"), []byte("x"), 0o644))

	out, err := runCLI(t, configPath, "recursive-analysis",
		"--strategy", "smacross",
		"--pairs", "ETH/USDT",
		"--timerange", "20240301-20240302",
		"--startup-candle", "50,100")
	require.NoError(t, err)
	assert.Contains(t, out, "strategy smacross: no recursive bias detected (stopped early, 1 runs skipped)")
	assert.NoFileExists(t, filepath.Join(modelDir, "stale.bin"))

	out, err = runCLI(t, configPath, "recursive-analysis",
		"--strategy", "lookahead",
		"--pairs", "ETH/USDT",
		"--timerange", "20240301-20240302",
		"--startup-candle", "50",
		"--json")
	require.NoError(t, err)
	var report struct {
		Strategy string `json:"strategy"`
		Partials []struct {
			StartupCandles int `json:"startup_candles"`
			Diffs          []struct {
				Column string `json:"column"`
			} `json:"diffs"`
		} `json:"partials"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, "lookahead", report.Strategy)
	require.Len(t, report.Partials, 1)
	assert.Equal(t, 50, report.Partials[0].StartupCandles)
	require.NotEmpty(t, report.Partials[0].Diffs)
	assert.Equal(t, "close_norm", report.Partials[0].Diffs[0].Column)
}

func TestRecursiveAnalysisRejectsBadTimerange(t *testing.T) {
	_, configPath := seedData(t)
	_, err := runCLI(t, configPath, "recursive-analysis", "--pairs", "ETH/USDT", "--timerange", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, exitCode(err))
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "missing.json"), "version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s version %s\n", AppName, Version), out)
}

func TestInvalidConfigOverride(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, writeConfig(t, dir), "--data-format", "parquet", "list-data")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, exitCode(err))
	assert.True(t, strings.Contains(err.Error(), "data.format"))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{context.Canceled, ExitInterrupt},
		{fmt.Errorf("wrapped: %w", apperrors.ErrConfiguration), ExitConfigError},
		{fmt.Errorf("wrapped: %w", apperrors.ErrStorage), ExitStorageError},
		{apperrors.ErrDataFormat, ExitDataError},
		{apperrors.ErrNotFound, ExitDataError},
		{fmt.Errorf("open: %w", os.ErrNotExist), ExitDataError},
		{fmt.Errorf("after retries: %w", &apperrors.ClassifiedError{Err: io.ErrUnexpectedEOF, Type: apperrors.ErrorTypeStorage}), ExitStorageError},
		{fmt.Errorf("unknown flag"), ExitUsageError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, exitCode(tt.err), tt.err.Error())
	}
}

func TestCommandsLogTraceID(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	cli := &CLI{out: io.Discard, logWriter: &logs}
	root := cli.newRootCommand()
	root.SetArgs([]string{"--config", writeConfig(t, dir), "--log-format", "json", "list-data"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	cli.close()

	var completed map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), line)
		if record["msg"] == "operation completed" {
			completed = record
		}
	}
	require.NotNil(t, completed, logs.String())
	assert.Equal(t, "list-data", completed["operation"])
	assert.Equal(t, "cli", completed["component"])
	assert.NotEmpty(t, completed["trace_id"])
	assert.Contains(t, completed, "duration")
}

func TestDownloadData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from, _ := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
		var candles []map[string]string
		for ts := from; ts <= to; ts += 3600 {
			stamp := strconv.FormatInt(ts, 10)
			candles = append(candles, map[string]string{"start": stamp, "open": "100", "high": "102", "low": "99", "close": "101", "volume": "7"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"candles": candles})
	}))
	defer srv.Close()

	dir := t.TempDir()
	configPath := writeConfig(t, dir)
	out, err := runCLI(t, configPath, "download-data",
		"--pairs", "BTC/USD",
		"--timeframes", "1h",
		"--timerange", "20240101-20240102",
		"--drop-incomplete=false",
		"--rate-limit", "0",
		"--base-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Downloaded 2024-01-01 00:00 to 2024-01-02 00:00 from coinbase")

	out, err = runCLI(t, configPath, "list-data", "--show-timerange", "--json")
	require.NoError(t, err)
	var infos []struct {
		Pair    string `json:"pair"`
		Candles int    `json:"candles"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "BTC/USD", infos[0].Pair)
	assert.Equal(t, 24, infos[0].Candles)
}

func TestDownloadDataRequiresPairs(t *testing.T) {
	_, err := runCLI(t, writeConfig(t, t.TempDir()), "download-data")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestDownloadWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	from, to, err := downloadWindow("", 2, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), from)
	assert.Equal(t, now, to)

	from, to, err = downloadWindow("20240101-", 30, now)
	require.NoError(t, err)
	assert.True(t, from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, now, to)

	_, _, err = downloadWindow("-20240101", 30, now)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, _, err = downloadWindow("", 0, now)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
