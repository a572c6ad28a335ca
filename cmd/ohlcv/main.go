// OHLCV Research CLI
// This application provides a command-line interface for cleaning, storing,
// converting and analyzing OHLCV (Open, High, Low, Close, Volume) candle data,
// and for checking trading strategies for recursive (look-ahead) bias.
//
// Usage:
//
//	ohlcv download-data --pairs BTC/USD --timeframes 5m,1h --days 30
//	ohlcv normalize --input btc.json --pair BTC/USDT --timeframe 5m
//	ohlcv list-data --show-timerange
//	ohlcv gaps --pair BTC/USDT --timeframe 5m
//	ohlcv convert-data --format-from csv --format-to duckdb --erase
//	ohlcv backtest --strategy emacross --timerange 20240101-20240301
//	ohlcv recursive-analysis --strategy emacross --timerange 20240101-20240301
//
// For detailed help on any command, use: ohlcv <command> --help
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/johnayoung/go-ohlcv-research/internal/config"
	"github.com/johnayoung/go-ohlcv-research/internal/datahandler"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/metrics"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "ohlcv"
	ConfigFile = "ohlcv.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess      = 0
	ExitUsageError   = 1
	ExitConfigError  = 2
	ExitStorageError = 3
	ExitDataError    = 4
	ExitInterrupt    = 130
)

// CLI represents the main CLI application
type CLI struct {
	// Global flags
	configPath string
	dataDir    string
	dataFormat string
	logLevel   string
	logFormat  string

	config  *config.AppConfig
	loggers *logger.LoggerManager
	logger  *logger.ComponentLogger
	metrics *metrics.MetricsCollector
	errors  *apperrors.ErrorClassifier

	out       io.Writer
	logWriter io.Writer // overrides the configured log output when set
}

// main is the entry point for the CLI application
func main() {
	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{out: os.Stdout}
	err := cli.newRootCommand().ExecuteContext(ctx)
	cli.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error onto the process exit code.
func exitCode(err error) int {
	switch apperrors.GetErrorType(err) {
	case apperrors.ErrorTypeCanceled:
		return ExitInterrupt
	case apperrors.ErrorTypeConfiguration:
		return ExitConfigError
	case apperrors.ErrorTypeStorage:
		return ExitStorageError
	case apperrors.ErrorTypeDataFormat, apperrors.ErrorTypeNotFound:
		return ExitDataError
	default:
		return ExitUsageError
	}
}

func (cli *CLI) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           AppName,
		Short:         "OHLCV candle data research toolkit",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return cli.initialize(cmd.Context())
		},
	}
	root.SetOut(cli.out)

	flags := root.PersistentFlags()
	flags.StringVarP(&cli.configPath, "config", "c", ConfigFile, "configuration file")
	flags.StringVar(&cli.dataDir, "datadir", "", "candle data directory (overrides config)")
	flags.StringVar(&cli.dataFormat, "data-format", "", "data format: csv, duckdb, sqlite, memory (overrides config)")
	flags.StringVar(&cli.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&cli.logFormat, "log-format", "", "log format: text, json (overrides config)")

	root.AddCommand(
		cli.newDownloadDataCommand(),
		cli.newNormalizeCommand(),
		cli.newListDataCommand(),
		cli.newGapsCommand(),
		cli.newConvertDataCommand(),
		cli.newBacktestCommand(),
		cli.newRecursiveAnalysisCommand(),
		cli.newVersionCommand(),
	)
	for _, cmd := range root.Commands() {
		if cmd.RunE != nil {
			cli.traced(cmd)
		}
	}
	return root
}

// traced runs cmd under a fresh trace id and logs its outcome and duration.
func (cli *CLI) traced(cmd *cobra.Command) {
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithTraceID(cmd.Context(), logger.NewTraceID())
		return cli.logger.LogOperation(ctx, cmd.Name(), func(ctx context.Context) error {
			cmd.SetContext(ctx)
			return run(cmd, args)
		})
	}
}

// componentLogger returns the logger for component tagged with the trace and
// run ids carried by ctx.
func (cli *CLI) componentLogger(ctx context.Context, component string) *slog.Logger {
	return cli.loggers.WithComponentContext(ctx, component).Logger
}

// initialize sets up the CLI application components
func (cli *CLI) initialize(ctx context.Context) error {
	// Load configuration
	cm := config.NewConfigManager(cli.configPath, logger.Nop())
	cfg, err := cm.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	if cli.dataDir != "" {
		cfg.Data.Dir = cli.dataDir
	}
	if cli.dataFormat != "" {
		cfg.Data.Format = cli.dataFormat
	}
	if cli.logLevel != "" {
		cfg.Logging.Level = cli.logLevel
	}
	if cli.logFormat != "" {
		cfg.Logging.Format = cli.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	cli.config = cfg

	// Setup logging
	if cli.logWriter != nil {
		cli.loggers = logger.NewLoggerManagerWithWriter(cfg.Logging, cli.logWriter)
	} else {
		lm, err := logger.NewLoggerManager(cfg.Logging)
		if err != nil {
			return fmt.Errorf("%w: failed to setup logging: %v", apperrors.ErrConfiguration, err)
		}
		cli.loggers = lm
	}
	cli.logger = cli.loggers.GetComponentLogger("cli")

	cli.metrics = metrics.NewMetricsCollector(cfg.Metrics, cli.loggers)
	cli.errors = apperrors.NewErrorClassifier(cfg.ErrorHandling, cli.loggers.GetComponentLogger("errors").Logger)
	return nil
}

// openHandler opens the data handler for format, defaulting to the
// configured format and directory.
func (cli *CLI) openHandler(ctx context.Context, format string) (*datahandler.DataHandler, error) {
	if format == "" {
		format = cli.config.Data.Format
	}
	f, err := datahandler.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return datahandler.Open(ctx, f, cli.config.Data.Dir,
		cli.componentLogger(ctx, "datahandler"),
		datahandler.WithRetry(cli.errors),
		datahandler.WithMetrics(cli.metrics),
	)
}

// close flushes metrics and releases the log writer.
func (cli *CLI) close() {
	if cli.metrics != nil && cli.metrics.Enabled() {
		cli.metrics.LogSnapshot()
	}
	if cli.errors != nil {
		for errType, stats := range cli.errors.GetStats() {
			cli.logger.Debug("errors seen", "type", errType, "count", stats.Count,
				"first_seen", stats.FirstSeen, "last_seen", stats.LastSeen)
		}
	}
	if cli.loggers != nil {
		_ = cli.loggers.Close()
	}
}

func (cli *CLI) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", AppName, Version)
		},
	}
}
