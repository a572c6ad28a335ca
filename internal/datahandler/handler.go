package datahandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/converter"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/metrics"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/timeframe"
)

// LoadRequest describes one series load.
type LoadRequest struct {
	Pair           string
	Timeframe      string
	TimeRange      models.TimeRange
	FillMissing    bool
	DropIncomplete bool
	StartupCandles int
	CandleType     models.CandleType
}

// key returns the series key of the request. An empty candle type is spot.
func (r LoadRequest) key() SeriesKey {
	ct := r.CandleType
	if ct == "" {
		ct = models.CandleTypeSpot
	}
	return SeriesKey{Pair: r.Pair, Timeframe: r.Timeframe, CandleType: ct}
}

// DataHandler loads and stores candle tables through a Backend.
type DataHandler struct {
	backend   Backend
	converter *converter.Converter
	logger    *slog.Logger
	metrics   metrics.Recorder
}

// New creates a DataHandler over backend. Nil logger and recorder fall back
// to discarding implementations.
func New(backend Backend, log *slog.Logger, rec metrics.Recorder) *DataHandler {
	log = logger.OrNop(log)
	rec = metrics.OrNop(rec)
	return &DataHandler{
		backend:   backend,
		converter: converter.New(log, rec),
		logger:    log,
		metrics:   rec,
	}
}

// Backend returns the underlying backend.
func (h *DataHandler) Backend() Backend { return h.backend }

// Format returns the backend's format.
func (h *DataHandler) Format() Format { return h.backend.Format() }

// Load reads a series, prepends startup candles before a bounded start,
// trims it to the requested range and cleans it. Missing data is not an
// error: an empty table is returned and a warning logged.
func (h *DataHandler) Load(ctx context.Context, req LoadRequest) (*models.CandleTable, error) {
	key := req.key()
	empty := models.NewCandleTable(key.Pair, key.Timeframe, key.CandleType)

	tf, err := timeframe.Parse(req.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	window := req.TimeRange
	if req.StartupCandles > 0 && window.HasStart() {
		window = window.SubtractStart(time.Duration(req.StartupCandles) * tf.Duration())
	}

	start := time.Now()
	candles, err := h.backend.Read(ctx, key)
	h.metrics.RecordDuration("datahandler_read_duration", time.Since(start), "backend read latency",
		map[string]string{"format": string(h.backend.Format())})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Warn("no history found", "pair", key.Pair, "timeframe", key.Timeframe,
				"candle_type", string(key.CandleType), "timerange", window.String())
			return empty, nil
		}
		return nil, err
	}

	table := empty.WithCandles(candles)
	table = converter.TrimCandles(table, window, 0)
	if table.Empty() {
		h.logger.Warn("no history in requested range", "pair", key.Pair, "timeframe", key.Timeframe,
			"candle_type", string(key.CandleType), "timerange", window.String())
		return empty, nil
	}
	h.checkCoverage(table, window)

	return h.converter.Clean(table, converter.CleanOptions{
		FillMissing:    req.FillMissing,
		DropIncomplete: req.DropIncomplete,
	}), nil
}

// checkCoverage warns when stored data starts after or ends before window.
func (h *DataHandler) checkCoverage(table *models.CandleTable, window models.TimeRange) {
	first, last := table.First().Timestamp, table.Last().Timestamp
	if window.HasStart() && first.After(window.Start) {
		h.logger.Warn("missing data at start",
			"pair", table.Pair, "timeframe", table.Timeframe,
			"requested", window.Start.Format(time.RFC3339), "data_starts", first.Format(time.RFC3339))
	}
	if window.HasEnd() && last.Before(window.End) {
		h.logger.Warn("missing data at end",
			"pair", table.Pair, "timeframe", table.Timeframe,
			"requested", window.End.Format(time.RFC3339), "data_ends", last.Format(time.RFC3339))
	}
}

// Store replaces the stored series of table.
func (h *DataHandler) Store(ctx context.Context, table *models.CandleTable) error {
	key := KeyOf(table)
	if _, err := timeframe.Parse(key.Timeframe); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	if err := h.backend.Write(ctx, key, table.Candles); err != nil {
		return err
	}
	h.metrics.RecordCounter("datahandler_series_stored", "series written", map[string]string{"format": string(h.backend.Format())})
	return nil
}

// Purge removes a stored series and reports whether it existed.
func (h *DataHandler) Purge(ctx context.Context, pair, tf string, candleType models.CandleType) (bool, error) {
	if candleType == "" {
		candleType = models.CandleTypeSpot
	}
	return h.backend.Purge(ctx, SeriesKey{Pair: pair, Timeframe: tf, CandleType: candleType})
}

// ListAvailable lists the series stored for a trading mode, sorted by pair,
// timeframe and candle type.
func (h *DataHandler) ListAvailable(ctx context.Context, mode models.TradingMode) ([]SeriesKey, error) {
	return h.backend.List(ctx, mode)
}

// Close closes the backend.
func (h *DataHandler) Close() error {
	return h.backend.Close()
}
