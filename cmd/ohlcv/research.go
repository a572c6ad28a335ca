package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/johnayoung/go-ohlcv-research/internal/analysis"
	"github.com/johnayoung/go-ohlcv-research/internal/backtest"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/strategy"
	"github.com/johnayoung/go-ohlcv-research/internal/tradestats"
)

// BacktestFlags holds flags for the backtest command
type BacktestFlags struct {
	Strategy       string
	Timeframe      string
	Timerange      string
	Pairs          []string
	StartupCandles int
	CandleType     string
	StakeAmount    float64
	Fee            float64
	ShowTrades     bool
	JSON           bool
}

func (cli *CLI) newBacktestCommand() *cobra.Command {
	flags := &BacktestFlags{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a strategy's signals over stored candles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.handleBacktest(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.Strategy, "strategy", "s", "", fmt.Sprintf("strategy name %v (defaults to config)", strategy.Names()))
	f.StringVarP(&flags.Timeframe, "timeframe", "t", "", "candle timeframe (defaults to config, then the strategy's)")
	f.StringVar(&flags.Timerange, "timerange", "", "backtest range, e.g. 20240101-20240301 (defaults to config)")
	f.StringSliceVarP(&flags.Pairs, "pairs", "p", nil, "pairs to backtest (defaults to config)")
	f.IntVar(&flags.StartupCandles, "startup-candles", 0, "warm-up candles (defaults to the strategy's)")
	f.StringVar(&flags.CandleType, "candle-type", string(models.CandleTypeSpot), "candle type")
	f.Float64Var(&flags.StakeAmount, "stake-amount", backtest.DefaultStakeAmount, "stake per trade")
	f.Float64Var(&flags.Fee, "fee", 0.001, "fee rate charged on entry and exit")
	f.BoolVar(&flags.ShowTrades, "show-trades", false, "list every trade")
	f.BoolVar(&flags.JSON, "json", false, "print JSON instead of tables")
	return cmd
}

// backtestOutput is the JSON shape of a backtest result.
type backtestOutput struct {
	Strategy string               `json:"strategy"`
	Summary  tradestats.Summary   `json:"summary"`
	Drawdown *tradestats.Drawdown `json:"drawdown,omitempty"`
	Trades   []models.Trade       `json:"trades,omitempty"`
}

// handleBacktest handles the 'backtest' command
func (cli *CLI) handleBacktest(cmd *cobra.Command, flags *BacktestFlags) error {
	ctx := cmd.Context()
	window, err := models.ParseTimeRange(firstNonEmpty(flags.Timerange, cli.config.Analysis.TimeRange))
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	candleType, err := models.ParseCandleType(flags.CandleType)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	runCfg := backtest.NewRunConfig(
		firstNonEmpty(flags.Strategy, cli.config.Analysis.Strategy),
		firstNonEmpty(flags.Timeframe, cli.config.Analysis.Timeframe),
		firstNonEmptySlice(flags.Pairs, cli.config.Data.Pairs),
	).
		WithTimeRange(window).
		WithStartupCandles(flags.StartupCandles).
		WithCandleType(candleType).
		WithStakeAmount(flags.StakeAmount).
		WithReduceFootprint(true)

	handler, err := cli.openHandler(ctx, "")
	if err != nil {
		return err
	}
	defer handler.Close()

	engine, err := backtest.NewDataEngine(runCfg, backtest.NewExchange(backtest.DefaultExchangeName, flags.Fee), handler,
		cli.componentLogger(ctx, "backtest"), cli.metrics)
	if err != nil {
		return err
	}
	data, _, err := engine.LoadData(ctx)
	if err != nil {
		return err
	}
	set, err := engine.ComputeIndicators(ctx, data)
	if err != nil {
		return err
	}
	trades := engine.Simulate(set)

	out := backtestOutput{Strategy: runCfg.Strategy(), Summary: tradestats.Summarize(trades)}
	dd, err := tradestats.MaxDrawdown(trades, flags.StakeAmount)
	switch {
	case err == nil:
		out.Drawdown = &dd
	case !errors.Is(err, tradestats.ErrNoLosingTrades):
		return err
	}
	if flags.ShowTrades || flags.JSON {
		out.Trades = trades
	}

	if flags.JSON {
		return outputJSON(cli.out, out)
	}
	renderBacktest(cli, out)
	return nil
}

func renderBacktest(cli *CLI, out backtestOutput) {
	s := out.Summary
	rows := [][]string{
		{"Trades", strconv.Itoa(s.Trades)},
		{"Wins / Draws / Losses", fmt.Sprintf("%d / %d / %d", s.Wins, s.Draws, s.Losses)},
		{"Win rate", fmt.Sprintf("%.2f%%", s.WinRate*100)},
		{"Total profit", fmt.Sprintf("%.4f", s.TotalProfit)},
		{"Mean profit", fmt.Sprintf("%.4f%%", s.MeanProfitRatio*100)},
		{"Expectancy", fmt.Sprintf("%.4f (ratio %.2f)", s.Expectancy, s.ExpectancyRatio)},
		{"Average hold", s.AverageHoldTime.Round(time.Minute).String()},
	}
	if out.Drawdown != nil {
		rows = append(rows, []string{"Max drawdown", fmt.Sprintf("%.4f (%.2f%%)", out.Drawdown.Amount, out.Drawdown.Relative*100)})
	} else {
		rows = append(rows, []string{"Max drawdown", "none"})
	}
	outputTable(cli.out, []string{"Metric", out.Strategy}, rows)

	if len(out.Trades) == 0 {
		return
	}
	tradeRows := make([][]string, 0, len(out.Trades))
	for _, t := range out.Trades {
		tradeRows = append(tradeRows, []string{
			t.Pair,
			t.OpenTime.UTC().Format(displayTimeLayout),
			t.CloseTime.UTC().Format(displayTimeLayout),
			strconv.FormatFloat(t.OpenPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ClosePrice, 'f', -1, 64),
			fmt.Sprintf("%.4f", t.ProfitAbs),
			t.ExitReason,
		})
	}
	outputTable(cli.out, []string{"Pair", "Open", "Close", "Entry", "Exit", "Profit", "Reason"}, tradeRows)
}

// AnalysisFlags holds flags for the recursive-analysis command
type AnalysisFlags struct {
	Strategy        string
	Timeframe       string
	Timerange       string
	Pairs           []string
	StartupCandles  []int
	BaseStartup     int
	Tolerance       float64
	ModelIdentifier string
	JSON            bool
}

func (cli *CLI) newRecursiveAnalysisCommand() *cobra.Command {
	flags := &AnalysisFlags{}
	cmd := &cobra.Command{
		Use:   "recursive-analysis",
		Short: "Check a strategy's indicators for recursive bias",
		Long: "Runs one backtest over the full range, then one per startup-candle count over\n" +
			"the last candle only, and compares the final indicator values of every run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.handleRecursiveAnalysis(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.Strategy, "strategy", "s", "", fmt.Sprintf("strategy name %v (defaults to config)", strategy.Names()))
	f.StringVarP(&flags.Timeframe, "timeframe", "t", "", "candle timeframe (defaults to config)")
	f.StringVar(&flags.Timerange, "timerange", "", "full-run range, e.g. 20240101-20240301 (defaults to config)")
	f.StringSliceVarP(&flags.Pairs, "pairs", "p", nil, "pairs to analyze (defaults to config)")
	f.IntSliceVar(&flags.StartupCandles, "startup-candle", nil, "startup candle counts of the partial runs (defaults to config)")
	f.IntVar(&flags.BaseStartup, "base-startup-candles", 0, "startup candles of the full run (defaults to config, then the strategy's)")
	f.Float64Var(&flags.Tolerance, "tolerance", 0, "relative difference treated as equal (defaults to config)")
	f.StringVar(&flags.ModelIdentifier, "model-identifier", "", "model directory purged before every run (defaults to config)")
	f.BoolVar(&flags.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

// handleRecursiveAnalysis handles the 'recursive-analysis' command
func (cli *CLI) handleRecursiveAnalysis(cmd *cobra.Command, flags *AnalysisFlags) error {
	ctx := cmd.Context()
	app := cli.config
	app.Analysis.Strategy = firstNonEmpty(flags.Strategy, app.Analysis.Strategy)
	app.Analysis.Timeframe = firstNonEmpty(flags.Timeframe, app.Analysis.Timeframe)
	app.Analysis.TimeRange = firstNonEmpty(flags.Timerange, app.Analysis.TimeRange)
	app.Analysis.ModelIdentifier = firstNonEmpty(flags.ModelIdentifier, app.Analysis.ModelIdentifier)
	app.Data.Pairs = firstNonEmptySlice(flags.Pairs, app.Data.Pairs)
	if len(flags.StartupCandles) > 0 {
		app.Analysis.StartupCandles = flags.StartupCandles
	}
	if cmd.Flags().Changed("base-startup-candles") {
		app.Analysis.BaseStartup = flags.BaseStartup
	}
	if cmd.Flags().Changed("tolerance") {
		app.Analysis.Tolerance = flags.Tolerance
	}

	cfg, err := analysis.ConfigFromApp(app)
	if err != nil {
		return err
	}

	handler, err := cli.openHandler(ctx, "")
	if err != nil {
		return err
	}
	defer handler.Close()

	factory := backtest.NewDataEngineFactory(handler, cli.componentLogger(ctx, "backtest"), cli.metrics)
	analyzer, err := analysis.NewRecursiveAnalyzer(cfg, factory,
		cli.componentLogger(ctx, "analysis"),
		analysis.WithFs(afero.NewOsFs()),
		analysis.WithMetrics(cli.metrics),
		analysis.WithVerbosity(cli.loggers),
	)
	if err != nil {
		return err
	}

	started := time.Now()
	report, err := analyzer.Start(ctx)
	if err != nil {
		return err
	}
	cli.logger.WithDuration("recursive_analysis", time.Since(started), slog.LevelInfo, "recursive analysis finished",
		"strategy", cfg.Strategy, "bias", report.HasBias())

	if flags.JSON {
		return outputJSON(cli.out, report)
	}
	return report.Render(cli.out)
}
