// Package gaps finds missing candles in stored OHLCV series.
// Gaps are measured on the timeframe's bucket grid, so monthly and yearly
// series are checked against calendar boundaries rather than fixed widths.
package gaps

import (
	"context"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// GapDetector identifies missing periods in historical OHLCV data.
type GapDetector interface {
	// DetectGaps loads the requested series and returns its gaps in time
	// order. When the request's range has bounds, missing buckets before the
	// first or after the last stored candle are reported too; open bounds
	// default to the stored data's first and last candle.
	DetectGaps(ctx context.Context, req DetectRequest) ([]models.Gap, error)

	// DetectGapsInSequence returns the gaps between consecutive candles of an
	// already loaded series. Candles need not be sorted.
	DetectGapsInSequence(candles []models.Candle, pair, timeframe string) ([]models.Gap, error)
}

// DetectRequest selects the series and range to scan.
type DetectRequest struct {
	Pair       string
	Timeframe  string
	CandleType models.CandleType
	TimeRange  models.TimeRange
}

// GapPriority ranks a gap by how much data it hides.
type GapPriority string

const (
	PriorityLow      GapPriority = "low"
	PriorityMedium   GapPriority = "medium"
	PriorityHigh     GapPriority = "high"
	PriorityCritical GapPriority = "critical"
)

// PriorityOf ranks a gap by the wall-clock span of its missing buckets.
func PriorityOf(gap models.Gap, width time.Duration) GapPriority {
	span := gap.Duration() + width
	switch {
	case span > 24*time.Hour:
		return PriorityCritical
	case span > 6*time.Hour:
		return PriorityHigh
	case span > time.Hour:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// GapStatistics summarizes a set of detected gaps.
type GapStatistics struct {
	TotalGaps      int                 `json:"total_gaps"`
	MissingCandles int                 `json:"missing_candles"`
	GapsByPair     map[string]int      `json:"gaps_by_pair"`
	GapsByPriority map[GapPriority]int `json:"gaps_by_priority"`
	Longest        *models.Gap         `json:"longest,omitempty"`
}
