package config

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"log/slog"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "ohlcv-research", config.AppName)
	assert.Equal(t, "csv", config.Data.Format)
	assert.Equal(t, "spot", config.Data.TradingMode)
	assert.Equal(t, []int{199, 399, 499, 999, 1999}, config.Analysis.StartupCandles)
	assert.Equal(t, []string{"datahandler", "backtest"}, config.Analysis.QuietComponents)
	assert.Equal(t, "info", config.Logging.Level)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, 3, config.ErrorHandling.GlobalRetryPolicy.MaxAttempts)
	assert.NoError(t, config.Validate())
}

func TestDefaultConfig_StartupCandlesNotShared(t *testing.T) {
	config := DefaultConfig()
	config.Analysis.StartupCandles[0] = 1

	assert.Equal(t, 199, DefaultStartupCandles[0])
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:    "missing datadir fails",
			mutate:  func(c *AppConfig) { c.Data.Dir = "" },
			wantErr: "data.datadir is required",
		},
		{
			name:    "memory format needs no datadir",
			mutate:  func(c *AppConfig) { c.Data.Dir = ""; c.Data.Format = "memory" },
			wantErr: "",
		},
		{
			name:    "unknown format fails",
			mutate:  func(c *AppConfig) { c.Data.Format = "parquet" },
			wantErr: "data.format must be one of",
		},
		{
			name:    "unknown trading mode fails",
			mutate:  func(c *AppConfig) { c.Data.TradingMode = "margin" },
			wantErr: "data.trading_mode must be one of",
		},
		{
			name:    "non-positive startup candles fail",
			mutate:  func(c *AppConfig) { c.Analysis.StartupCandles = []int{199, 0} },
			wantErr: "analysis.startup_candles must be positive",
		},
		{
			name:    "negative tolerance fails",
			mutate:  func(c *AppConfig) { c.Analysis.Tolerance = -1 },
			wantErr: "analysis.tolerance must not be negative",
		},
		{
			name:    "invalid convert target fails",
			mutate:  func(c *AppConfig) { c.Convert.To = "feather" },
			wantErr: "convert.format_to must be one of",
		},
		{
			name:    "invalid log level fails",
			mutate:  func(c *AppConfig) { c.Logging.Level = "invalid" },
			wantErr: "logging.level must be one of",
		},
		{
			name:    "invalid retry attempts fails",
			mutate:  func(c *AppConfig) { c.ErrorHandling.GlobalRetryPolicy.MaxAttempts = 0 },
			wantErr: "max_attempts must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidation_CollectsAllProblems(t *testing.T) {
	config := DefaultConfig()
	config.Data.Format = "parquet"
	config.Logging.Format = "xml"

	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.format")
	assert.Contains(t, err.Error(), "logging.format")
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadConfigFromFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	configPath := filepath.Join("/etc/ohlcv", "config.json")

	fileConfig := DefaultConfig()
	fileConfig.Data.Dir = "/srv/data"
	fileConfig.Data.Format = "duckdb"
	fileConfig.Analysis.Strategy = "lookahead"
	data, err := json.Marshal(fileConfig)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, configPath, data, 0644))

	cm := NewConfigManagerWithFs(fs, configPath, slog.Default())
	cm.lookupEnv = noEnv

	config, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/srv/data", config.Data.Dir)
	assert.Equal(t, "duckdb", config.Data.Format)
	assert.Equal(t, "lookahead", config.Analysis.Strategy)
	assert.Equal(t, configPath, config.ConfigPath)
	assert.Same(t, config, cm.GetConfig())
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cm := NewConfigManagerWithFs(afero.NewMemMapFs(), "/missing.json", slog.Default())
	cm.lookupEnv = noEnv

	config, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Data, config.Data)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte("{not json"), 0644))

	cm := NewConfigManagerWithFs(fs, "/bad.json", slog.Default())
	cm.lookupEnv = noEnv

	_, err := cm.LoadConfig(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"OHLCV_DATADIR":         "/tmp/data",
		"OHLCV_DATA_FORMAT":     "sqlite",
		"OHLCV_PAIRS":           "BTC/USDT, ETH/USDT",
		"OHLCV_STARTUP_CANDLES": "100,200",
		"OHLCV_TOLERANCE":       "0.5",
		"OHLCV_CONVERT_ERASE":   "true",
		"OHLCV_LOG_LEVEL":       "debug",
	}

	cm := NewConfigManagerWithFs(afero.NewMemMapFs(), "", slog.Default())
	cm.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	config, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/data", config.Data.Dir)
	assert.Equal(t, "sqlite", config.Data.Format)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, config.Data.Pairs)
	assert.Equal(t, []int{100, 200}, config.Analysis.StartupCandles)
	assert.Equal(t, 0.5, config.Analysis.Tolerance)
	assert.True(t, config.Convert.Erase)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadConfigFromEnv_InvalidNumbers(t *testing.T) {
	env := map[string]string{
		"OHLCV_STARTUP_CANDLES": "100,abc",
		"OHLCV_TOLERANCE":       "lots",
	}

	cm := NewConfigManagerWithFs(afero.NewMemMapFs(), "", slog.Default())
	cm.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	_, err := cm.LoadConfig(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OHLCV_STARTUP_CANDLES")
	assert.Contains(t, err.Error(), "OHLCV_TOLERANCE")
}

func TestSaveConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	cm := NewConfigManagerWithFs(fs, "/conf/out.json", slog.Default())
	cm.lookupEnv = noEnv

	assert.Error(t, cm.SaveConfig(context.Background()))

	_, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)
	require.NoError(t, cm.SaveConfig(context.Background()))

	data, err := afero.ReadFile(fs, "/conf/out.json")
	require.NoError(t, err)
	var roundTrip AppConfig
	require.NoError(t, json.Unmarshal(data, &roundTrip))
	assert.Equal(t, "ohlcv-research", roundTrip.AppName)
}

func TestRetryPolicyFor(t *testing.T) {
	config := DefaultConfig()
	config.ErrorHandling.ComponentPolicies["datahandler"] = RetryPolicyConfig{MaxAttempts: 7, InitialDelay: "bogus"}

	assert.Equal(t, 7, config.RetryPolicyFor("datahandler").MaxAttempts)
	assert.Equal(t, 3, config.RetryPolicyFor("analysis").MaxAttempts)
	assert.Equal(t, config.RetryPolicyFor("datahandler").InitialDelayDuration().String(), "1s")
}

func TestModelDir(t *testing.T) {
	config := DefaultConfig()
	config.Data.UserDataDir = "/ud"
	config.Analysis.ModelIdentifier = "run1"
	assert.Equal(t, filepath.Join("/ud", "models", "run1"), config.ModelDir())
}
