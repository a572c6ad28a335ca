// Package converter turns raw exchange rows into clean candle tables and
// shrinks indicator frames for analysis.
//
// The normalizer coerces rows to float candles, merges duplicate timestamps,
// optionally drops the trailing incomplete candle and fills missing buckets.
// The footprint reducer downcasts indicator columns and trims frames to an
// evaluation window.
package converter

import (
	"fmt"
	"log/slog"

	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/metrics"
)

// CleanOptions selects the optional cleaning steps.
type CleanOptions struct {
	// FillMissing synthesizes flat zero-volume candles for empty buckets.
	FillMissing bool
	// DropIncomplete removes the last row, assumed to be still open.
	DropIncomplete bool
}

// DataFormatError reports a raw row that could not be coerced into a candle.
type DataFormatError struct {
	Row   int
	Field string
	Err   error
}

// Error implements the error interface.
func (e *DataFormatError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("data format error at row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("data format error at row %d field %s: %v", e.Row, e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DataFormatError) Unwrap() error {
	return e.Err
}

// Is makes DataFormatError match apperrors.ErrDataFormat.
func (e *DataFormatError) Is(target error) bool {
	return target == apperrors.ErrDataFormat
}

// Converter normalizes candle data and reduces indicator frames.
// A Converter is safe for concurrent use; it holds no per-call state.
type Converter struct {
	logger  *slog.Logger
	metrics metrics.Recorder
}

// New creates a Converter. Nil arguments fall back to discarding implementations.
func New(log *slog.Logger, rec metrics.Recorder) *Converter {
	return &Converter{
		logger:  logger.OrNop(log),
		metrics: metrics.OrNop(rec),
	}
}

var defaultConverter = New(nil, nil)
