package exchange

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/config"
	"github.com/johnayoung/go-ohlcv-research/internal/converter"
	"github.com/johnayoung/go-ohlcv-research/internal/datahandler"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/metrics"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/validator"
)

// DownloadRequest selects the series to download.
type DownloadRequest struct {
	Pairs      []string
	Timeframes []string
	CandleType models.CandleType
	Start      time.Time
	End        time.Time
	Clean      converter.CleanOptions
	// Erase drops stored candles instead of merging with them.
	Erase bool
}

// DownloadResult describes one downloaded series.
type DownloadResult struct {
	Key     datahandler.SeriesKey `json:"series"`
	Fetched int                   `json:"fetched"`
	Stored  int                   `json:"stored"`
	Err     error                 `json:"-"`
	// ErrType classifies Err. Empty on success.
	ErrType apperrors.ErrorType `json:"error_type,omitempty"`
}

// Downloader fetches candles, normalizes them and stores them through a data
// handler. Stored candles outside the downloaded window are kept.
type Downloader struct {
	fetcher   CandleFetcher
	handler   *datahandler.DataHandler
	converter *converter.Converter
	validator *validator.OHLCVValidator
	errors    *apperrors.ErrorClassifier
	logger    *slog.Logger
	metrics   metrics.Recorder
}

// NewDownloader creates a downloader. A nil validator skips validation; a nil
// classifier uses the default error handling policy.
func NewDownloader(fetcher CandleFetcher, handler *datahandler.DataHandler, v *validator.OHLCVValidator, ec *apperrors.ErrorClassifier, log *slog.Logger, rec metrics.Recorder) *Downloader {
	log = logger.OrNop(log)
	rec = metrics.OrNop(rec)
	if ec == nil {
		ec = apperrors.NewErrorClassifier(config.ErrorHandlingConfig{}, log)
	}
	return &Downloader{
		fetcher:   fetcher,
		handler:   handler,
		converter: converter.New(log, rec),
		validator: v,
		errors:    ec,
		logger:    log,
		metrics:   rec,
	}
}

// Download fetches every pair and timeframe in req. A series that fails is
// recorded in its result and does not stop the others; an error is returned
// only when ctx ends.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) ([]DownloadResult, error) {
	var results []DownloadResult
	for _, pair := range req.Pairs {
		for _, tf := range req.Timeframes {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			key := datahandler.SeriesKey{Pair: pair, Timeframe: tf, CandleType: req.CandleType}
			started := time.Now()
			result := d.downloadSeries(ctx, key, req)
			labels := map[string]string{"exchange": d.fetcher.Name(), "timeframe": tf}
			if result.Err != nil {
				classified := d.errors.Classify(result.Err, "download", "series")
				result.ErrType = classified.Type
				labels["error_type"] = string(classified.Type)
				d.metrics.RecordError("download_errors", "series that failed to download", labels)
				logger.LogError(d.logger, result.Err, "download failed", "series", key.String(),
					"error_type", classified.Type, "retryable", apperrors.IsRetryable(classified))
			} else {
				d.metrics.RecordDuration("download_duration", time.Since(started), "time to download one series", labels)
				d.logger.Info("downloaded series", "series", key.String(),
					"fetched", result.Fetched, "stored", result.Stored)
			}
			results = append(results, result)
		}
	}
	return results, nil
}

func (d *Downloader) downloadSeries(ctx context.Context, key datahandler.SeriesKey, req DownloadRequest) DownloadResult {
	result := DownloadResult{Key: key}
	rows, err := d.fetcher.FetchCandles(ctx, FetchRequest{
		Pair:      key.Pair,
		Timeframe: key.Timeframe,
		Start:     req.Start,
		End:       req.End,
	})
	if err != nil {
		result.Err = err
		return result
	}
	result.Fetched = len(rows)
	if len(rows) == 0 {
		d.logger.Warn("exchange returned no candles", "series", key.String())
		return result
	}

	table, err := d.converter.Normalize(rows, key.Timeframe, key.Pair, converter.CleanOptions{DropIncomplete: req.Clean.DropIncomplete})
	if err != nil {
		result.Err = err
		return result
	}
	table.CandleType = key.CandleType

	if !req.Erase {
		stored, err := d.handler.Load(ctx, datahandler.LoadRequest{
			Pair:       key.Pair,
			Timeframe:  key.Timeframe,
			CandleType: key.CandleType,
		})
		if err != nil {
			result.Err = apperrors.WrapError(err, "download", "load_stored", "failed to load stored candles")
			return result
		}
		table = table.WithCandles(mergeOutside(stored.Candles, table.Candles))
	}
	if req.Clean.FillMissing {
		table = d.converter.Clean(table, converter.CleanOptions{FillMissing: true})
	}

	if d.validator != nil {
		d.validator.LogAnomalies(d.validator.Validate(table), 10)
	}
	err = logger.TimedOperation(d.logger, "store", func() error {
		return d.handler.Store(ctx, table)
	})
	if err != nil {
		result.Err = err
		return result
	}
	result.Stored = table.Len()
	return result
}

// mergeOutside returns fresh plus the stored candles that fall before or
// after it, sorted by time. fresh must be sorted.
func mergeOutside(stored, fresh []models.Candle) []models.Candle {
	if len(fresh) == 0 {
		return stored
	}
	first, last := fresh[0].Timestamp, fresh[len(fresh)-1].Timestamp
	merged := make([]models.Candle, 0, len(stored)+len(fresh))
	for _, c := range stored {
		if c.Timestamp.Before(first) || c.Timestamp.After(last) {
			merged = append(merged, c)
		}
	}
	merged = append(merged, fresh...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	return merged
}
