package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/johnayoung/go-ohlcv-research/internal/converter"
	"github.com/johnayoung/go-ohlcv-research/internal/datahandler"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/gaps"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/timeframe"
	"github.com/johnayoung/go-ohlcv-research/internal/validator"
)

// NormalizeFlags holds flags for the normalize command
type NormalizeFlags struct {
	Input          string
	Pair           string
	Timeframe      string
	CandleType     string
	FillMissing    bool
	DropIncomplete bool
}

func (cli *CLI) newNormalizeCommand() *cobra.Command {
	flags := &NormalizeFlags{}
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Clean raw exchange candles and store them",
		Long: "Reads a JSON array of raw candles ([timestamp_ms, open, high, low, close, volume]),\n" +
			"deduplicates and sorts them, optionally fills missing candles, and stores the\n" +
			"table in the configured data format.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.handleNormalize(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.Input, "input", "i", "", "raw candle JSON file (required)")
	f.StringVarP(&flags.Pair, "pair", "p", "", "trading pair, e.g. BTC/USDT (required)")
	f.StringVarP(&flags.Timeframe, "timeframe", "t", "", "candle timeframe, e.g. 5m (required)")
	f.StringVar(&flags.CandleType, "candle-type", string(models.CandleTypeSpot), "candle type: spot, futures, mark, index, premiumIndex, funding_rate")
	f.BoolVar(&flags.FillMissing, "fill-missing", true, "synthesize flat candles for missing buckets")
	f.BoolVar(&flags.DropIncomplete, "drop-incomplete", false, "drop the last, possibly unfinished candle")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("pair")
	_ = cmd.MarkFlagRequired("timeframe")
	return cmd
}

// handleNormalize handles the 'normalize' command
func (cli *CLI) handleNormalize(cmd *cobra.Command, flags *NormalizeFlags) error {
	ctx := cmd.Context()
	candleType, err := models.ParseCandleType(flags.CandleType)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	data, err := afero.ReadFile(afero.NewOsFs(), flags.Input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", flags.Input, err)
	}
	var rows []converter.RawRow
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return fmt.Errorf("%w: %s is not a JSON array of candles: %v", apperrors.ErrDataFormat, flags.Input, err)
	}

	conv := converter.New(cli.componentLogger(ctx, "converter"), cli.metrics)
	table, err := conv.Normalize(rows, flags.Timeframe, flags.Pair, converter.CleanOptions{
		FillMissing:    flags.FillMissing,
		DropIncomplete: flags.DropIncomplete,
	})
	if err != nil {
		return err
	}
	table.CandleType = candleType

	if cli.config.Validator.Enabled {
		cfg, err := validator.ValidationConfigFromNames(cli.config.Validator.EnabledChecks)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
		}
		v := validator.NewOHLCVValidatorWithConfig(cfg, cli.componentLogger(ctx, "validator"))
		v.LogAnomalies(v.Validate(table), 10)
	}

	handler, err := cli.openHandler(ctx, "")
	if err != nil {
		return err
	}
	defer handler.Close()

	if err := handler.Store(ctx, table); err != nil {
		return fmt.Errorf("failed to store %s: %w", table, err)
	}

	fmt.Fprintf(cli.out, "Stored %d candles for %s %s (%s) from %d raw rows\n",
		table.Len(), flags.Pair, flags.Timeframe, candleType, len(rows))
	return nil
}

// ListDataFlags holds flags for the list-data command
type ListDataFlags struct {
	TradingMode   string
	Pairs         []string
	ShowTimerange bool
	JSON          bool
}

func (cli *CLI) newListDataCommand() *cobra.Command {
	flags := &ListDataFlags{}
	cmd := &cobra.Command{
		Use:   "list-data",
		Short: "List stored candle series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.handleListData(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.TradingMode, "trading-mode", "", "trading mode: spot, futures (defaults to config)")
	f.StringSliceVar(&flags.Pairs, "pairs", nil, "only list these pairs")
	f.BoolVar(&flags.ShowTimerange, "show-timerange", false, "load each series to show its range and size")
	f.BoolVar(&flags.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

// seriesInfo describes one stored series for list-data output.
type seriesInfo struct {
	datahandler.SeriesKey
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
	Candles *int       `json:"candles,omitempty"`
}

// handleListData handles the 'list-data' command
func (cli *CLI) handleListData(cmd *cobra.Command, flags *ListDataFlags) error {
	ctx := cmd.Context()
	mode, err := cli.tradingMode(flags.TradingMode)
	if err != nil {
		return err
	}

	handler, err := cli.openHandler(ctx, "")
	if err != nil {
		return err
	}
	defer handler.Close()

	keys, err := handler.ListAvailable(ctx, mode)
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(flags.Pairs))
	for _, p := range flags.Pairs {
		wanted[p] = true
	}

	var infos []seriesInfo
	for _, key := range keys {
		if len(wanted) > 0 && !wanted[key.Pair] {
			continue
		}
		info := seriesInfo{SeriesKey: key}
		if flags.ShowTimerange {
			table, err := handler.Load(ctx, datahandler.LoadRequest{
				Pair: key.Pair, Timeframe: key.Timeframe, CandleType: key.CandleType,
			})
			if err != nil {
				return err
			}
			n := table.Len()
			info.Candles = &n
			if n > 0 {
				from, to := table.First().Timestamp, table.Last().Timestamp
				info.From, info.To = &from, &to
			}
		}
		infos = append(infos, info)
	}

	if flags.JSON {
		return outputJSON(cli.out, infos)
	}
	if len(infos) == 0 {
		fmt.Fprintf(cli.out, "No %s data found in %s\n", mode, cli.config.Data.Dir)
		return nil
	}

	header := []string{"Pair", "Timeframe", "Type"}
	if flags.ShowTimerange {
		header = append(header, "From", "To", "Candles")
	}
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		row := []string{info.Pair, info.Timeframe, string(info.CandleType)}
		if flags.ShowTimerange {
			row = append(row, formatTime(info.From), formatTime(info.To), strconv.Itoa(*info.Candles))
		}
		rows = append(rows, row)
	}
	outputTable(cli.out, header, rows)
	fmt.Fprintf(cli.out, "Found %d series in %s\n", len(infos), cli.config.Data.Dir)
	return nil
}

// GapsFlags holds flags for the gaps command
type GapsFlags struct {
	Pairs      []string
	Timeframe  string
	CandleType string
	Timerange  string
	Workers    int
	MaxReads   float64
	JSON       bool
}

func (cli *CLI) newGapsCommand() *cobra.Command {
	flags := &GapsFlags{}
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Report missing candles in stored series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.handleGaps(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&flags.Pairs, "pairs", "p", nil, "pairs to scan (defaults to config pairs, then every stored pair)")
	f.StringVarP(&flags.Timeframe, "timeframe", "t", "", "timeframe to scan (required)")
	f.StringVar(&flags.CandleType, "candle-type", string(models.CandleTypeSpot), "candle type")
	f.StringVar(&flags.Timerange, "timerange", "", "range to scan, e.g. 20240101-20240201")
	f.IntVarP(&flags.Workers, "workers", "w", 4, "series scanned concurrently")
	f.Float64Var(&flags.MaxReads, "max-reads-per-second", 0, "throttle series loads (0 for no limit)")
	f.BoolVar(&flags.JSON, "json", false, "print JSON instead of a table")
	_ = cmd.MarkFlagRequired("timeframe")
	return cmd
}

// handleGaps handles the 'gaps' command
func (cli *CLI) handleGaps(cmd *cobra.Command, flags *GapsFlags) error {
	ctx := cmd.Context()
	tf, err := timeframe.Parse(flags.Timeframe)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	candleType, err := models.ParseCandleType(flags.CandleType)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	window, err := models.ParseTimeRange(flags.Timerange)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	handler, err := cli.openHandler(ctx, "")
	if err != nil {
		return err
	}
	defer handler.Close()

	pairs := flags.Pairs
	if len(pairs) == 0 {
		pairs = cli.config.Data.Pairs
	}
	if len(pairs) == 0 {
		keys, err := handler.ListAvailable(ctx, candleType.TradingMode())
		if err != nil {
			return err
		}
		for _, key := range keys {
			if key.Timeframe == flags.Timeframe && key.CandleType == candleType {
				pairs = append(pairs, key.Pair)
			}
		}
	}

	gapLog := cli.componentLogger(ctx, "gaps")
	scanner := gaps.NewScanner(gaps.NewGapDetector(handler, gapLog), flags.Workers, gaps.NewLimiter(flags.MaxReads), gapLog)
	reqs := make([]gaps.DetectRequest, 0, len(pairs))
	for _, pair := range pairs {
		reqs = append(reqs, gaps.DetectRequest{
			Pair:       pair,
			Timeframe:  flags.Timeframe,
			CandleType: candleType,
			TimeRange:  window,
		})
	}
	results, err := scanner.Scan(ctx, reqs)
	if err != nil {
		return err
	}
	var found []models.Gap
	for _, result := range results {
		if result.Err != nil {
			return fmt.Errorf("failed to scan %s: %w", result.Request.Pair, result.Err)
		}
		found = append(found, result.Gaps...)
	}
	scanStats := scanner.Stats()
	cli.logger.Debug("gap scan finished", "series", len(reqs), "avg_scan_time", scanStats.AvgScanTime)
	stats := gaps.Statistics(found, tf.Duration())
	cli.metrics.RecordGauge("gaps_missing_candles", float64(stats.MissingCandles), "missing candles found by the last scan",
		map[string]string{"timeframe": flags.Timeframe})

	if flags.JSON {
		return outputJSON(cli.out, struct {
			Gaps       []models.Gap       `json:"gaps"`
			Statistics gaps.GapStatistics `json:"statistics"`
		}{found, stats})
	}
	if len(found) == 0 {
		fmt.Fprintf(cli.out, "No data gaps found for %d pairs at %s\n", len(pairs), flags.Timeframe)
		return nil
	}

	rows := make([][]string, 0, len(found))
	for _, gap := range found {
		rows = append(rows, []string{
			gap.Pair,
			gap.StartTime.UTC().Format(displayTimeLayout),
			gap.EndTime.UTC().Format(displayTimeLayout),
			strconv.Itoa(gap.Missing),
			string(gaps.PriorityOf(gap, tf.Duration())),
		})
	}
	outputTable(cli.out, []string{"Pair", "From", "To", "Missing", "Priority"}, rows)
	fmt.Fprintf(cli.out, "Found %d gaps (%d missing candles) across %d pairs\n",
		stats.TotalGaps, stats.MissingCandles, len(stats.GapsByPair))
	return nil
}

// ConvertFlags holds flags for the convert-data command
type ConvertFlags struct {
	From        string
	To          string
	Erase       bool
	Pairs       []string
	Timeframes  []string
	CandleTypes []string
	Validate    bool
}

func (cli *CLI) newConvertDataCommand() *cobra.Command {
	flags := &ConvertFlags{}
	cmd := &cobra.Command{
		Use:   "convert-data",
		Short: "Copy stored candle series between data formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.handleConvertData(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.From, "format-from", "", "source format (defaults to convert.format_from, then data.format)")
	f.StringVar(&flags.To, "format-to", "", "target format (defaults to convert.format_to)")
	f.BoolVar(&flags.Erase, "erase", false, "delete the source series after converting")
	f.StringSliceVarP(&flags.Pairs, "pairs", "p", nil, "only convert these pairs")
	f.StringSliceVarP(&flags.Timeframes, "timeframes", "t", nil, "only convert these timeframes")
	f.StringSliceVar(&flags.CandleTypes, "candle-types", nil, "only convert these candle types")
	f.BoolVar(&flags.Validate, "validate", false, "validate every converted table")
	return cmd
}

// handleConvertData handles the 'convert-data' command
func (cli *CLI) handleConvertData(cmd *cobra.Command, flags *ConvertFlags) error {
	ctx := cmd.Context()
	conv := cli.config.Convert

	from := firstNonEmpty(flags.From, conv.From, cli.config.Data.Format)
	to := firstNonEmpty(flags.To, conv.To)
	if to == "" {
		return fmt.Errorf("%w: --format-to is required", apperrors.ErrConfiguration)
	}

	typeNames := flags.CandleTypes
	if len(typeNames) == 0 {
		typeNames = conv.CandleTypes
	}
	candleTypes := make([]models.CandleType, 0, len(typeNames))
	for _, name := range typeNames {
		ct, err := models.ParseCandleType(name)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
		}
		candleTypes = append(candleTypes, ct)
	}

	source, err := cli.openHandler(ctx, from)
	if err != nil {
		return err
	}
	defer source.Close()
	target, err := cli.openHandler(ctx, to)
	if err != nil {
		return err
	}
	defer target.Close()

	req := datahandler.ConvertRequest{
		Source:      source,
		Target:      target,
		Pairs:       firstNonEmptySlice(flags.Pairs, cli.config.Data.Pairs),
		Timeframes:  firstNonEmptySlice(flags.Timeframes, cli.config.Data.Timeframes),
		CandleTypes: candleTypes,
		Erase:       flags.Erase || conv.Erase,
	}
	if flags.Validate {
		req.Validator = validator.NewOHLCVValidator(cli.componentLogger(ctx, "validator"))
	}

	result, err := datahandler.ConvertFormat(ctx, req, cli.componentLogger(ctx, "convert"))
	if err != nil {
		return err
	}

	outputTable(cli.out, []string{"Converted", "Skipped", "Erased", "Failed", "Rows", "Anomalies"}, [][]string{{
		strconv.Itoa(len(result.Converted)),
		strconv.Itoa(len(result.Skipped)),
		strconv.Itoa(len(result.Erased)),
		strconv.Itoa(len(result.Failed)),
		strconv.Itoa(result.Rows),
		strconv.Itoa(result.Anomalies),
	}})
	if len(result.Failed) > 0 {
		for _, f := range result.Failed {
			fmt.Fprintf(cli.out, "failed: %s: %v\n", f.Key, f.Err)
		}
		return fmt.Errorf("%w: %d series failed to convert from %s to %s", apperrors.ErrStorage, len(result.Failed), from, to)
	}
	return nil
}

// tradingMode resolves a trading mode flag against the configuration.
func (cli *CLI) tradingMode(flag string) (models.TradingMode, error) {
	mode, err := models.ParseTradingMode(firstNonEmpty(flag, cli.config.Data.TradingMode))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	return mode, nil
}
