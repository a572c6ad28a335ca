package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayoung/go-ohlcv-research/internal/converter"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/exchange"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/validator"
)

// DownloadFlags holds flags for the download-data command
type DownloadFlags struct {
	Exchange       string
	Pairs          []string
	Timeframes     []string
	Timerange      string
	Days           int
	CandleType     string
	Erase          bool
	FillMissing    bool
	DropIncomplete bool
	RateLimit      float64
	BaseURL        string
}

func (cli *CLI) newDownloadDataCommand() *cobra.Command {
	flags := &DownloadFlags{}
	cmd := &cobra.Command{
		Use:   "download-data",
		Short: "Download historical candles from an exchange",
		Long: "Fetches historical candles for every pair and timeframe, normalizes them and\n" +
			"stores them in the configured data format. Stored candles outside the\n" +
			"downloaded window are kept unless --erase is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.handleDownloadData(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.Exchange, "exchange", "coinbase", "exchange to download from")
	f.StringSliceVarP(&flags.Pairs, "pairs", "p", nil, "pairs to download (defaults to config)")
	f.StringSliceVarP(&flags.Timeframes, "timeframes", "t", nil, "timeframes to download (defaults to config, then 5m)")
	f.StringVar(&flags.Timerange, "timerange", "", "download range, e.g. 20240101-20240301 (overrides --days)")
	f.IntVar(&flags.Days, "days", 30, "days of history to download")
	f.StringVar(&flags.CandleType, "candle-type", string(models.CandleTypeSpot), "candle type")
	f.BoolVar(&flags.Erase, "erase", false, "replace stored candles instead of merging")
	f.BoolVar(&flags.FillMissing, "fill-missing", true, "synthesize flat candles for missing buckets")
	f.BoolVar(&flags.DropIncomplete, "drop-incomplete", true, "drop the last, possibly unfinished candle")
	f.Float64Var(&flags.RateLimit, "rate-limit", 10, "requests per second (0 for no limit)")
	f.StringVar(&flags.BaseURL, "base-url", "", "exchange API base URL")
	_ = f.MarkHidden("base-url")
	return cmd
}

// handleDownloadData handles the 'download-data' command
func (cli *CLI) handleDownloadData(cmd *cobra.Command, flags *DownloadFlags) error {
	ctx := cmd.Context()
	if flags.Exchange != "coinbase" {
		return fmt.Errorf("%w: unsupported exchange %q", apperrors.ErrConfiguration, flags.Exchange)
	}
	candleType, err := models.ParseCandleType(flags.CandleType)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	pairs := firstNonEmptySlice(flags.Pairs, cli.config.Data.Pairs)
	if len(pairs) == 0 {
		return fmt.Errorf("%w: no pairs given, use --pairs or data.pairs", apperrors.ErrConfiguration)
	}
	timeframes := firstNonEmptySlice(flags.Timeframes, cli.config.Data.Timeframes, []string{"5m"})

	start, end, err := downloadWindow(flags.Timerange, flags.Days, time.Now().UTC())
	if err != nil {
		return err
	}

	opts := []exchange.CoinbaseOption{
		exchange.WithLogger(cli.componentLogger(ctx, "exchange")),
		exchange.WithRateLimit(flags.RateLimit, 1),
	}
	if flags.BaseURL != "" {
		opts = append(opts, exchange.WithBaseURL(flags.BaseURL))
	}
	fetcher := exchange.NewCoinbaseAdapter(opts...)

	handler, err := cli.openHandler(ctx, "")
	if err != nil {
		return err
	}
	defer handler.Close()

	var v *validator.OHLCVValidator
	if cli.config.Validator.Enabled {
		cfg, err := validator.ValidationConfigFromNames(cli.config.Validator.EnabledChecks)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
		}
		v = validator.NewOHLCVValidatorWithConfig(cfg, cli.componentLogger(ctx, "validator"))
	}

	downloader := exchange.NewDownloader(fetcher, handler, v, cli.errors, cli.componentLogger(ctx, "download"), cli.metrics)
	results, err := downloader.Download(ctx, exchange.DownloadRequest{
		Pairs:      pairs,
		Timeframes: timeframes,
		CandleType: candleType,
		Start:      start,
		End:        end,
		Clean: converter.CleanOptions{
			FillMissing:    flags.FillMissing,
			DropIncomplete: flags.DropIncomplete,
		},
		Erase: flags.Erase,
	})
	if err != nil {
		return err
	}

	failed := 0
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = fmt.Sprintf("%s: %v", r.ErrType, r.Err)
			failed++
		}
		rows = append(rows, []string{r.Key.Pair, r.Key.Timeframe, strconv.Itoa(r.Fetched), strconv.Itoa(r.Stored), status})
	}
	outputTable(cli.out, []string{"Pair", "Timeframe", "Fetched", "Stored", "Status"}, rows)
	fmt.Fprintf(cli.out, "Downloaded %s to %s from %s\n",
		start.Format(displayTimeLayout), end.Format(displayTimeLayout), fetcher.Name())

	if failed > 0 {
		cli.logger.WarnWithContext(ctx, "some series failed to download", "failed", failed, "total", len(results))
		return fmt.Errorf("%d of %d series failed to download", failed, len(results))
	}
	return nil
}

// downloadWindow resolves the download range. A timerange wins over days; an
// open end means now.
func downloadWindow(timerange string, days int, now time.Time) (time.Time, time.Time, error) {
	if timerange == "" {
		if days <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: --days must be positive", apperrors.ErrConfiguration)
		}
		return now.Add(-time.Duration(days) * 24 * time.Hour), now, nil
	}
	tr, err := models.ParseTimeRange(timerange)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	if !tr.HasStart() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: timerange %q needs a start", apperrors.ErrConfiguration, timerange)
	}
	end := now
	if tr.HasEnd() {
		end = tr.End
	}
	return tr.Start, end, nil
}
