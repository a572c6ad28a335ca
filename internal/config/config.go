// Package config provides centralized configuration management for the OHLCV research toolkit.
// This module handles configuration loading from multiple sources (files, environment variables),
// validation, and provides typed configuration structures for the data, analysis and
// conversion components.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/spf13/afero"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "OHLCV_"

// DefaultStartupCandles is the default startup-candle sequence of the bias analyzer.
var DefaultStartupCandles = []int{199, 399, 499, 999, 1999}

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" env:"APP_NAME"`
	Version    string `json:"version" env:"VERSION"`
	ConfigPath string `json:"-" env:"CONFIG_PATH"`

	// Data directory and storage format
	Data DataConfig `json:"data"`

	// Recursive bias analysis configuration
	Analysis AnalysisConfig `json:"analysis"`

	// Data format conversion configuration
	Convert ConvertConfig `json:"convert"`

	// Validator configuration
	Validator ValidatorConfig `json:"validator"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics"`

	// Error handling configuration
	ErrorHandling ErrorHandlingConfig `json:"error_handling"`
}

// DataConfig configures where candle data lives and how it is stored
type DataConfig struct {
	Dir         string   `json:"datadir" env:"DATADIR"`           // Root directory for candle data
	Format      string   `json:"format" env:"DATA_FORMAT"`        // "csv", "duckdb", "sqlite", "memory"
	TradingMode string   `json:"trading_mode" env:"TRADING_MODE"` // "spot", "futures"
	UserDataDir string   `json:"user_data_dir" env:"USER_DATA_DIR"`
	Pairs       []string `json:"pairs" env:"PAIRS"`
	Timeframes  []string `json:"timeframes" env:"TIMEFRAMES"`
}

// AnalysisConfig configures the recursive bias analyzer
type AnalysisConfig struct {
	Strategy        string   `json:"strategy" env:"STRATEGY"`
	Timeframe       string   `json:"timeframe" env:"TIMEFRAME"`
	TimeRange       string   `json:"timerange" env:"TIMERANGE"`
	StartupCandles  []int    `json:"startup_candles" env:"STARTUP_CANDLES"`
	BaseStartup     int      `json:"base_startup_candles" env:"BASE_STARTUP_CANDLES"`
	ModelIdentifier string   `json:"model_identifier" env:"MODEL_IDENTIFIER"`
	Tolerance       float64  `json:"tolerance" env:"TOLERANCE"`
	QuietComponents []string `json:"quiet_components"` // Components silenced during partial runs
}

// ConvertConfig configures format conversion between data backends
type ConvertConfig struct {
	From        string   `json:"format_from" env:"CONVERT_FROM"`
	To          string   `json:"format_to" env:"CONVERT_TO"`
	Erase       bool     `json:"erase" env:"CONVERT_ERASE"`
	CandleTypes []string `json:"candle_types" env:"CANDLE_TYPES"`
}

// ValidatorConfig configures table validation
type ValidatorConfig struct {
	Enabled       bool     `json:"enabled" env:"VALIDATOR_ENABLED"`
	EnabledChecks []string `json:"enabled_checks" env:"ENABLED_CHECKS"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format        string            `json:"format" env:"LOG_FORMAT"`           // Log format: json, text
	Output        string            `json:"output" env:"LOG_OUTPUT"`           // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" env:"LOG_FILE_PATH"`     // Log file path
	MaxSize       int               `json:"max_size" env:"LOG_MAX_SIZE"`       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge        int               `json:"max_age" env:"LOG_MAX_AGE"`         // Maximum log file age in days
	Compress      bool              `json:"compress" env:"LOG_COMPRESS"`       // Compress old log files
	ContextFields map[string]string `json:"context_fields"`                    // Additional context fields
}

// MetricsConfig configures in-process metrics collection
type MetricsConfig struct {
	Enabled        bool     `json:"enabled" env:"METRICS_ENABLED"`
	EnabledMetrics []string `json:"enabled_metrics"`
}

// ErrorHandlingConfig configures error handling and retry policies
type ErrorHandlingConfig struct {
	GlobalRetryPolicy RetryPolicyConfig            `json:"global_retry_policy"`
	ComponentPolicies map[string]RetryPolicyConfig `json:"component_policies"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts"`     // Maximum retry attempts
	InitialDelay    string   `json:"initial_delay"`    // Initial delay between retries
	MaxDelay        string   `json:"max_delay"`        // Maximum delay between retries
	BackoffStrategy string   `json:"backoff_strategy"` // Backoff strategy: fixed, exponential
	RetryableErrors []string `json:"retryable_errors"` // List of retryable error types
	Jitter          bool     `json:"jitter"`           // Add randomness to delays
}

// InitialDelayDuration parses InitialDelay, falling back to one second.
func (p RetryPolicyConfig) InitialDelayDuration() time.Duration {
	if d, err := time.ParseDuration(p.InitialDelay); err == nil {
		return d
	}
	return time.Second
}

// MaxDelayDuration parses MaxDelay, falling back to thirty seconds.
func (p RetryPolicyConfig) MaxDelayDuration() time.Duration {
	if d, err := time.ParseDuration(p.MaxDelay); err == nil {
		return d
	}
	return 30 * time.Second
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	fs         afero.Fs
	logger     *slog.Logger
	lookupEnv  func(string) (string, bool)
}

// NewConfigManager creates a new configuration manager reading from the OS filesystem
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	return NewConfigManagerWithFs(afero.NewOsFs(), configPath, logger)
}

// NewConfigManagerWithFs creates a configuration manager over the given filesystem
func NewConfigManagerWithFs(fs afero.Fs, configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		fs:         fs,
		logger:     logger,
		lookupEnv:  os.LookupEnv,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	// Load from configuration file if it exists
	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		config.ConfigPath = cm.configPath
	}

	// Override with environment variables
	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"datadir", config.Data.Dir,
		"data_format", config.Data.Format,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	exists, err := afero.Exists(cm.fs, cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file %s: %w", cm.configPath, err)
	}
	if !exists {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := afero.ReadFile(cm.fs, cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

func (cm *ConfigManager) env(name string) (string, bool) {
	val, ok := cm.lookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var problems []string

	// Load data config
	if val, ok := cm.env("DATADIR"); ok {
		config.Data.Dir = val
	}
	if val, ok := cm.env("DATA_FORMAT"); ok {
		config.Data.Format = val
	}
	if val, ok := cm.env("TRADING_MODE"); ok {
		config.Data.TradingMode = val
	}
	if val, ok := cm.env("USER_DATA_DIR"); ok {
		config.Data.UserDataDir = val
	}
	if val, ok := cm.env("PAIRS"); ok {
		config.Data.Pairs = splitList(val)
	}
	if val, ok := cm.env("TIMEFRAMES"); ok {
		config.Data.Timeframes = splitList(val)
	}

	// Load analysis config
	if val, ok := cm.env("STRATEGY"); ok {
		config.Analysis.Strategy = val
	}
	if val, ok := cm.env("TIMEFRAME"); ok {
		config.Analysis.Timeframe = val
	}
	if val, ok := cm.env("TIMERANGE"); ok {
		config.Analysis.TimeRange = val
	}
	if val, ok := cm.env("STARTUP_CANDLES"); ok {
		var counts []int
		for _, p := range splitList(val) {
			n, err := strconv.Atoi(p)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%sSTARTUP_CANDLES: %q is not an integer", EnvPrefix, p))
				continue
			}
			counts = append(counts, n)
		}
		config.Analysis.StartupCandles = counts
	}
	if val, ok := cm.env("BASE_STARTUP_CANDLES"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			config.Analysis.BaseStartup = n
		} else {
			problems = append(problems, fmt.Sprintf("%sBASE_STARTUP_CANDLES: %v", EnvPrefix, err))
		}
	}
	if val, ok := cm.env("MODEL_IDENTIFIER"); ok {
		config.Analysis.ModelIdentifier = val
	}
	if val, ok := cm.env("TOLERANCE"); ok {
		if tol, err := strconv.ParseFloat(val, 64); err == nil {
			config.Analysis.Tolerance = tol
		} else {
			problems = append(problems, fmt.Sprintf("%sTOLERANCE: %v", EnvPrefix, err))
		}
	}

	// Load convert config
	if val, ok := cm.env("CONVERT_FROM"); ok {
		config.Convert.From = val
	}
	if val, ok := cm.env("CONVERT_TO"); ok {
		config.Convert.To = val
	}
	if val, ok := cm.env("CONVERT_ERASE"); ok {
		config.Convert.Erase = val == "true"
	}
	if val, ok := cm.env("CANDLE_TYPES"); ok {
		config.Convert.CandleTypes = splitList(val)
	}

	// Load validator config
	if val, ok := cm.env("VALIDATOR_ENABLED"); ok {
		config.Validator.Enabled = val == "true"
	}

	// Load logging config
	if val, ok := cm.env("LOG_LEVEL"); ok {
		config.Logging.Level = val
	}
	if val, ok := cm.env("LOG_FORMAT"); ok {
		config.Logging.Format = val
	}
	if val, ok := cm.env("LOG_OUTPUT"); ok {
		config.Logging.Output = val
	}
	if val, ok := cm.env("LOG_FILE_PATH"); ok {
		config.Logging.FilePath = val
	}

	// Load metrics config
	if val, ok := cm.env("METRICS_ENABLED"); ok {
		config.Metrics.Enabled = val == "true"
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid environment overrides:\n- %s", strings.Join(problems, "\n- "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// Validate checks the configuration for consistency and required fields.
// All problems are collected and reported together.
func (c *AppConfig) Validate() error {
	var errors []string

	// Validate data configuration
	validFormats := map[string]bool{"csv": true, "duckdb": true, "sqlite": true, "memory": true}
	if c.Data.Dir == "" && c.Data.Format != "memory" {
		errors = append(errors, "data.datadir is required")
	}
	if !validFormats[c.Data.Format] {
		errors = append(errors, "data.format must be one of: csv, duckdb, sqlite, memory")
	}
	if c.Data.TradingMode != "spot" && c.Data.TradingMode != "futures" {
		errors = append(errors, "data.trading_mode must be one of: spot, futures")
	}

	// Validate analysis configuration
	for _, n := range c.Analysis.StartupCandles {
		if n <= 0 {
			errors = append(errors, fmt.Sprintf("analysis.startup_candles must be positive, got %d", n))
			break
		}
	}
	if c.Analysis.BaseStartup < 0 {
		errors = append(errors, "analysis.base_startup_candles must not be negative")
	}
	if c.Analysis.Tolerance < 0 {
		errors = append(errors, "analysis.tolerance must not be negative")
	}

	// Validate convert configuration
	if c.Convert.From != "" && !validFormats[c.Convert.From] {
		errors = append(errors, "convert.format_from must be one of: csv, duckdb, sqlite, memory")
	}
	if c.Convert.To != "" && !validFormats[c.Convert.To] {
		errors = append(errors, "convert.format_to must be one of: csv, duckdb, sqlite, memory")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	// Validate retry policy
	if c.ErrorHandling.GlobalRetryPolicy.MaxAttempts <= 0 {
		errors = append(errors, "error_handling.global_retry_policy.max_attempts must be greater than 0")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig saves the current configuration to the config file
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	// Ensure directory exists
	if err := cm.fs.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := afero.WriteFile(cm.fs, cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "ohlcv-research",
		Version: "1.0.0",
		Data: DataConfig{
			Dir:         "./user_data/data",
			Format:      "csv",
			TradingMode: "spot",
			UserDataDir: "./user_data",
		},
		Analysis: AnalysisConfig{
			Strategy:        "emacross",
			Timeframe:       "5m",
			StartupCandles:  append([]int(nil), DefaultStartupCandles...),
			ModelIdentifier: "recursive-analysis",
			QuietComponents: []string{"datahandler", "backtest"},
		},
		Convert: ConvertConfig{
			CandleTypes: []string{},
		},
		Validator: ValidatorConfig{
			Enabled:       true,
			EnabledChecks: []string{"ohlc_logic", "duplicates", "ordering", "sequence_gap"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "ohlcv-research",
			},
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			EnabledMetrics: []string{"converter", "analysis", "datahandler"},
		},
		ErrorHandling: ErrorHandlingConfig{
			GlobalRetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "200ms",
				MaxDelay:        "5s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"storage", "timeout"},
				Jitter:          true,
			},
			ComponentPolicies: make(map[string]RetryPolicyConfig),
		},
	}
}

// RetryPolicyFor returns the retry policy for a component, falling back to the global policy.
func (c *AppConfig) RetryPolicyFor(component string) RetryPolicyConfig {
	if p, ok := c.ErrorHandling.ComponentPolicies[component]; ok {
		return p
	}
	return c.ErrorHandling.GlobalRetryPolicy
}

// ModelDir returns the per-identifier model directory cleared between analysis runs.
func (c *AppConfig) ModelDir() string {
	return filepath.Join(c.Data.UserDataDir, "models", c.Analysis.ModelIdentifier)
}

// String returns a string representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
