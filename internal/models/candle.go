// Package models provides the data structures shared by the OHLCV research toolkit.
// This package contains candles, candle tables, columnar indicator frames, time
// ranges and the run records used by the bias analyzer.
package models

import (
	"fmt"
	"math"
	"time"
)

// Candle represents OHLCV price and volume data for one fixed time bucket.
type Candle struct {
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    float64   `json:"volume" db:"volume"`
}

// ValidationError represents a candle validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks the OHLC relationships of the candle.
// Prices that are NaN are skipped: synthesized rows that precede the first
// known close legitimately carry NaN.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be null or zero"}
	}

	if !math.IsNaN(c.Volume) && c.Volume < 0 {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	if c.HasNaN() {
		return nil
	}

	maxOpenClose := math.Max(c.Open, c.Close)
	if c.High < maxOpenClose {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%g) must be greater than or equal to max(open, close) (%g)", c.High, maxOpenClose),
		}
	}

	minOpenClose := math.Min(c.Open, c.Close)
	if c.Low > minOpenClose {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%g) must be less than or equal to min(open, close) (%g)", c.Low, minOpenClose),
		}
	}

	return nil
}

// HasNaN reports whether any of the price fields is NaN.
func (c *Candle) HasNaN() bool {
	return math.IsNaN(c.Open) || math.IsNaN(c.High) || math.IsNaN(c.Low) || math.IsNaN(c.Close)
}

// IsFlat reports whether open, high, low and close are all equal, which is
// the shape of a synthesized gap candle.
func (c *Candle) IsFlat() bool {
	return c.Open == c.High && c.High == c.Low && c.Low == c.Close
}

// UnixMilli returns the candle timestamp in epoch milliseconds.
func (c *Candle) UnixMilli() int64 {
	return c.Timestamp.UnixMilli()
}

// String returns a string representation of the candle for logging and debugging.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{%s O:%g H:%g L:%g C:%g V:%g}",
		c.Timestamp.UTC().Format(time.RFC3339),
		c.Open, c.High, c.Low, c.Close, c.Volume)
}

// NewCandle creates a candle from epoch milliseconds and float values.
func NewCandle(timestampMs int64, open, high, low, close, volume float64) Candle {
	return Candle{
		Timestamp: time.UnixMilli(timestampMs).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}
