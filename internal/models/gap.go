package models

import (
	"fmt"
	"time"
)

// Gap represents a run of missing buckets in a candle series.
// Gaps are reported by the gap filler and by the table validator.
type Gap struct {
	// Pair is the trading pair symbol (e.g., "BTC/USDT")
	Pair string `json:"pair"`

	// Timeframe is the series timeframe (e.g., "1h", "1M")
	Timeframe string `json:"timeframe"`

	// StartTime is the first missing bucket
	StartTime time.Time `json:"start_time"`

	// EndTime is the last missing bucket
	EndTime time.Time `json:"end_time"`

	// Missing is the number of buckets in the gap
	Missing int `json:"missing"`
}

// Duration returns the time between the first and last missing bucket.
func (g *Gap) Duration() time.Duration {
	return g.EndTime.Sub(g.StartTime)
}

// String returns a string representation of the gap for logging.
func (g *Gap) String() string {
	return fmt.Sprintf("Gap{%s %s %s..%s missing:%d}",
		g.Pair, g.Timeframe,
		g.StartTime.UTC().Format(time.RFC3339),
		g.EndTime.UTC().Format(time.RFC3339),
		g.Missing)
}
