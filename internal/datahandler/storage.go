// Package datahandler persists candle tables and serves them back to the
// analysis layer.
//
// A Backend stores whole series keyed by (pair, timeframe, candle type).
// Four backends are provided:
// - memory: thread-safe maps, used by tests and dry runs
// - csv: one file per series under the data directory
// - duckdb: a single analytical database using the appender API
// - sqlite: a single embedded database using prepared inserts
//
// DataHandler wraps a Backend with the load semantics the backtest layer
// relies on: startup-candle prepending, window trimming and cleaning.
package datahandler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// Format names a storage backend.
type Format string

const (
	FormatMemory Format = "memory"
	FormatCSV    Format = "csv"
	FormatDuckDB Format = "duckdb"
	FormatSQLite Format = "sqlite"
)

// Formats lists every supported backend format.
var Formats = []Format{FormatMemory, FormatCSV, FormatDuckDB, FormatSQLite}

// ParseFormat converts a configured format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(strings.TrimSpace(s)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unknown data format %q", apperrors.ErrConfiguration, s)
}

// SeriesKey identifies one stored candle series.
type SeriesKey struct {
	Pair       string            `json:"pair"`
	Timeframe  string            `json:"timeframe"`
	CandleType models.CandleType `json:"candle_type"`
}

// String returns "pair, timeframe, candle type".
func (k SeriesKey) String() string {
	return fmt.Sprintf("%s, %s, %s", k.Pair, k.Timeframe, k.CandleType)
}

// KeyOf returns the series key of a table.
func KeyOf(table *models.CandleTable) SeriesKey {
	ct := table.CandleType
	if ct == "" {
		ct = models.CandleTypeSpot
	}
	return SeriesKey{Pair: table.Pair, Timeframe: table.Timeframe, CandleType: ct}
}

// SortKeys orders keys by pair, then timeframe, then candle type.
func SortKeys(keys []SeriesKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Pair != b.Pair {
			return a.Pair < b.Pair
		}
		if a.Timeframe != b.Timeframe {
			return a.Timeframe < b.Timeframe
		}
		return a.CandleType < b.CandleType
	})
}

// Backend persists whole candle series.
type Backend interface {
	// Format returns the backend's format name.
	Format() Format

	// Read returns the stored rows of a series in ascending order.
	// A missing series returns an error matching apperrors.ErrNotFound.
	Read(ctx context.Context, key SeriesKey) ([]models.Candle, error)

	// Write replaces the stored series with candles.
	Write(ctx context.Context, key SeriesKey, candles []models.Candle) error

	// Purge removes a series. It reports whether anything was removed.
	Purge(ctx context.Context, key SeriesKey) (bool, error)

	// List returns the series stored for a trading mode.
	List(ctx context.Context, mode models.TradingMode) ([]SeriesKey, error)

	// Close releases the backend's resources.
	Close() error
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "read", "write")
	Operation string

	// Backend is the format of the backend involved
	Backend Format

	// Key is the series involved, if any
	Key SeriesKey

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Key.Pair != "" {
		return fmt.Sprintf("%s storage operation %s on %s failed: %v", e.Backend, e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("%s storage operation %s failed: %v", e.Backend, e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes every StorageError match apperrors.ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == apperrors.ErrStorage
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(backend Format, operation string, key SeriesKey, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Backend:   backend,
		Key:       key,
		Err:       err,
	}
}

// notFound returns an error matching apperrors.ErrNotFound for key.
func notFound(key SeriesKey) error {
	return fmt.Errorf("%w: no data for %s", apperrors.ErrNotFound, key)
}

// errClosed is returned by backends used after Close.
var errClosed = fmt.Errorf("storage is closed")

// modeMatches reports whether a candle type is stored under mode.
func modeMatches(ct models.CandleType, mode models.TradingMode) bool {
	return ct.TradingMode() == mode
}
