package datahandler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/validator"
)

// ConvertRequest selects the series copied between two handlers.
type ConvertRequest struct {
	Source *DataHandler
	Target *DataHandler
	// Pairs and Timeframes filter the source series when non-empty.
	Pairs      []string
	Timeframes []string
	// CandleTypes filters by candle type. Empty means every type.
	CandleTypes []models.CandleType
	// Erase purges each converted series from the source when the two
	// handlers use different formats.
	Erase bool
	// Validator checks every converted table. Nil skips validation.
	Validator *validator.OHLCVValidator
}

// ConvertFailure records a series that could not be converted.
type ConvertFailure struct {
	Key SeriesKey
	Err error
}

// ConvertResult summarizes a conversion batch.
type ConvertResult struct {
	Converted []SeriesKey
	Skipped   []SeriesKey // empty source tables
	Erased    []SeriesKey
	Failed    []ConvertFailure
	Rows      int
	Anomalies int
}

// ConvertFormat copies every matching series from req.Source to req.Target.
// Series are processed in pair, timeframe, candle type order. A failing
// series is logged and recorded; the batch continues.
func ConvertFormat(ctx context.Context, req ConvertRequest, log *slog.Logger) (*ConvertResult, error) {
	log = logger.OrNop(log)

	var keys []SeriesKey
	for _, mode := range []models.TradingMode{models.TradingModeSpot, models.TradingModeFutures} {
		found, err := req.Source.ListAvailable(ctx, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s data: %w", mode, err)
		}
		keys = append(keys, found...)
	}

	keys = filterKeys(keys, req)
	SortKeys(keys)

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	log.Info("converting candle data",
		"from", string(req.Source.Format()),
		"to", string(req.Target.Format()),
		"series", len(keys))
	log.Debug("series to convert", "keys", strings.Join(names, "\n"))

	erase := req.Erase && req.Source.Format() != req.Target.Format()
	result := &ConvertResult{}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		table, err := req.Source.Load(ctx, LoadRequest{
			Pair:       key.Pair,
			Timeframe:  key.Timeframe,
			CandleType: key.CandleType,
		})
		if err != nil {
			log.Error("failed to load series", "series", key.String(), "error", err)
			result.Failed = append(result.Failed, ConvertFailure{Key: key, Err: err})
			continue
		}

		log.Info("converting candles", "series", key.String(), "rows", table.Len())
		if table.Empty() {
			result.Skipped = append(result.Skipped, key)
			continue
		}

		if req.Validator != nil {
			validation := req.Validator.Validate(table)
			result.Anomalies += len(validation.Anomalies)
			req.Validator.LogAnomalies(validation, 5)
		}

		if err := req.Target.Store(ctx, table); err != nil {
			log.Error("failed to store series", "series", key.String(), "error", err)
			result.Failed = append(result.Failed, ConvertFailure{Key: key, Err: err})
			continue
		}
		result.Converted = append(result.Converted, key)
		result.Rows += table.Len()

		if erase {
			log.Info("deleting source data", "series", key.String())
			if _, err := req.Source.Purge(ctx, key.Pair, key.Timeframe, key.CandleType); err != nil {
				log.Error("failed to purge source series", "series", key.String(), "error", err)
				result.Failed = append(result.Failed, ConvertFailure{Key: key, Err: err})
				continue
			}
			result.Erased = append(result.Erased, key)
		}
	}

	return result, nil
}

func filterKeys(keys []SeriesKey, req ConvertRequest) []SeriesKey {
	pairs := toSet(req.Pairs)
	timeframes := toSet(req.Timeframes)
	candleTypes := make(map[models.CandleType]bool, len(req.CandleTypes))
	for _, ct := range req.CandleTypes {
		candleTypes[ct] = true
	}

	out := keys[:0]
	for _, k := range keys {
		if len(pairs) > 0 && !pairs[k.Pair] {
			continue
		}
		if len(timeframes) > 0 && !timeframes[k.Timeframe] {
			continue
		}
		if len(candleTypes) > 0 && !candleTypes[k.CandleType] {
			continue
		}
		out = append(out, k)
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
