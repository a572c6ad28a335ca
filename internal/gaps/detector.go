package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/datahandler"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/timeframe"
)

// maxScanBuckets bounds the grid walked by a single detection.
const maxScanBuckets = 10_000_000

// GapDetectorImpl implements GapDetector over a datahandler.
type GapDetectorImpl struct {
	handler *datahandler.DataHandler
	logger  *slog.Logger
}

// NewGapDetector creates a detector reading through handler.
func NewGapDetector(handler *datahandler.DataHandler, log *slog.Logger) *GapDetectorImpl {
	return &GapDetectorImpl{
		handler: handler,
		logger:  logger.OrNop(log),
	}
}

// DetectGaps implements GapDetector.
func (gd *GapDetectorImpl) DetectGaps(ctx context.Context, req DetectRequest) ([]models.Gap, error) {
	tf, err := timeframe.Parse(req.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timeframe %q: %v", apperrors.ErrConfiguration, req.Timeframe, err)
	}

	table, err := gd.handler.Load(ctx, datahandler.LoadRequest{
		Pair:       req.Pair,
		Timeframe:  req.Timeframe,
		TimeRange:  req.TimeRange,
		CandleType: req.CandleType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", req.Pair, req.Timeframe, err)
	}
	if table.Empty() {
		gd.logger.Info("no candles to scan", "pair", req.Pair, "timeframe", req.Timeframe)
		return nil, nil
	}

	start, end := table.First().Timestamp, table.Last().Timestamp
	if req.TimeRange.HasStart() && req.TimeRange.Start.Before(start) {
		start = req.TimeRange.Start
	}
	if req.TimeRange.HasEnd() && req.TimeRange.End.After(end) {
		end = req.TimeRange.End
	}

	gaps, err := findGapsInRange(table.Candles, req.Pair, req.Timeframe, tf, start, end)
	if err != nil {
		return nil, err
	}

	gd.logger.Info("gap detection completed",
		"pair", req.Pair,
		"timeframe", req.Timeframe,
		"candles", table.Len(),
		"gaps_found", len(gaps),
	)
	return gaps, nil
}

// DetectGapsInSequence implements GapDetector.
func (gd *GapDetectorImpl) DetectGapsInSequence(candles []models.Candle, pair, tfName string) ([]models.Gap, error) {
	if len(candles) == 0 {
		return nil, nil
	}
	tf, err := timeframe.Parse(tfName)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timeframe %q: %v", apperrors.ErrConfiguration, tfName, err)
	}

	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return findGapsInRange(sorted, pair, tfName, tf, sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp)
}

// findGapsInRange walks the bucket grid from start to end and groups the
// buckets holding no candle into gaps.
func findGapsInRange(candles []models.Candle, pair, tfName string, tf timeframe.Timeframe, start, end time.Time) ([]models.Gap, error) {
	bucketer := timeframe.BucketerFor(tf, start)

	existing := make(map[int64]struct{}, len(candles))
	for _, c := range candles {
		existing[bucketer.Floor(c.Timestamp).UnixMilli()] = struct{}{}
	}

	var gaps []models.Gap
	var open *models.Gap
	steps := 0
	for current := bucketer.Floor(start); !current.After(end); current = bucketer.Next(current) {
		if steps++; steps > maxScanBuckets {
			return nil, fmt.Errorf("%w: range %s..%s spans more than %d %s buckets",
				apperrors.ErrConfiguration, start.Format(time.RFC3339), end.Format(time.RFC3339), maxScanBuckets, tfName)
		}
		if _, ok := existing[current.UnixMilli()]; ok {
			if open != nil {
				gaps = append(gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &models.Gap{Pair: pair, Timeframe: tfName, StartTime: current}
		}
		open.EndTime = current
		open.Missing++
	}
	if open != nil {
		gaps = append(gaps, *open)
	}
	return gaps, nil
}

// Statistics summarizes gaps. width is the nominal bucket width used for
// priorities.
func Statistics(gaps []models.Gap, width time.Duration) GapStatistics {
	stats := GapStatistics{
		TotalGaps:      len(gaps),
		GapsByPair:     make(map[string]int),
		GapsByPriority: make(map[GapPriority]int),
	}
	for i := range gaps {
		gap := gaps[i]
		stats.MissingCandles += gap.Missing
		stats.GapsByPair[gap.Pair]++
		stats.GapsByPriority[PriorityOf(gap, width)]++
		if stats.Longest == nil || gap.Missing > stats.Longest.Missing {
			stats.Longest = &gap
		}
	}
	return stats
}

var _ GapDetector = (*GapDetectorImpl)(nil)
