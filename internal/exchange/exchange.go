// Package exchange downloads historical candles from exchange REST APIs.
//
// Fetchers return raw rows in the [timestamp_ms, open, high, low, close,
// volume] layout the converter package normalizes, so downloaded data goes
// through the same cleaning as any other raw input.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/converter"
)

// CandleFetcher downloads historical candles for one pair.
type CandleFetcher interface {
	// Name identifies the exchange in logs and output.
	Name() string

	// FetchCandles returns the raw candles whose open time falls in
	// [req.Start, req.End). Rows are not guaranteed to be sorted or unique.
	FetchCandles(ctx context.Context, req FetchRequest) ([]converter.RawRow, error)
}

// FetchRequest selects the candles to download.
type FetchRequest struct {
	Pair      string
	Timeframe string
	Start     time.Time
	End       time.Time
}

// Validate checks the request is complete and its window is not empty.
func (r FetchRequest) Validate() error {
	if r.Pair == "" {
		return &ValidationError{Field: "pair", Message: "is required"}
	}
	if _, _, ok := strings.Cut(r.Pair, "/"); !ok {
		return &ValidationError{Field: "pair", Message: fmt.Sprintf("%q is not in BASE/QUOTE form", r.Pair)}
	}
	if r.Timeframe == "" {
		return &ValidationError{Field: "timeframe", Message: "is required"}
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return &ValidationError{Field: "window", Message: "start and end are required"}
	}
	if !r.End.After(r.Start) {
		return &ValidationError{Field: "window", Message: "end must be after start"}
	}
	return nil
}

// Duration returns the span of the request window.
func (r FetchRequest) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// ValidationError represents an invalid fetch request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// ProductID converts a BASE/QUOTE pair into the exchange's BASE-QUOTE
// product symbol.
func ProductID(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", "-"))
}
