package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/converter"
	"github.com/johnayoung/go-ohlcv-research/internal/datahandler"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/metrics"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/strategy"
)

// Engine runs one backtest configuration.
type Engine interface {
	// LoadData returns the candle table of every pair that has data and the
	// time range those tables actually cover.
	LoadData(ctx context.Context) (map[string]*models.CandleTable, models.TimeRange, error)

	// LoadDetailData loads the detail timeframe, if one is configured.
	LoadDetailData(ctx context.Context) error

	// ComputeIndicators derives an indicator frame per pair.
	ComputeIndicators(ctx context.Context, data map[string]*models.CandleTable) (models.IndicatorSet, error)

	// Timeframe returns the resolved candle timeframe.
	Timeframe() string

	// Exchange returns the exchange handle used by the engine.
	Exchange() Exchange
}

// Factory creates an Engine for cfg. A nil exchange asks the factory to
// create a new handle.
type Factory func(ctx context.Context, cfg RunConfig, exchange Exchange) (Engine, error)

// DefaultExchangeName names exchanges created by NewDataEngineFactory.
const DefaultExchangeName = "simulated"

// DataEngine is the reference Engine. It reads candles through a
// datahandler and computes indicators with a registered strategy.
type DataEngine struct {
	cfg       RunConfig
	exchange  Exchange
	handler   *datahandler.DataHandler
	strategy  strategy.Strategy
	converter *converter.Converter
	logger    *slog.Logger
	metrics   metrics.Recorder

	timeframe string
	startup   int
	detail    map[string]*models.CandleTable
}

// NewDataEngineFactory returns a Factory creating DataEngines over handler.
// Engines log with the run id carried by ctx.
func NewDataEngineFactory(handler *datahandler.DataHandler, log *slog.Logger, rec metrics.Recorder) Factory {
	log = logger.OrNop(log)
	return func(ctx context.Context, cfg RunConfig, exchange Exchange) (Engine, error) {
		runLog := log
		if runID := logger.GetRunID(ctx); runID != "" {
			runLog = log.With("run_id", runID)
		}
		return NewDataEngine(cfg, exchange, handler, runLog, rec)
	}
}

// NewDataEngine resolves the strategy, timeframe and startup count of cfg.
func NewDataEngine(cfg RunConfig, exchange Exchange, handler *datahandler.DataHandler, log *slog.Logger, rec metrics.Recorder) (*DataEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	strat, err := strategy.New(cfg.Strategy())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNotFound, err)
	}

	if exchange == nil {
		exchange = NewExchange(DefaultExchangeName, 0.001)
	}
	if sim, ok := exchange.(*SimExchange); ok {
		sim.attach()
	}

	tf := cfg.Timeframe()
	if tf == "" {
		tf = strat.Timeframe()
	}
	startup := cfg.StartupCandles()
	if startup == 0 {
		startup = strat.StartupCandleCount()
	}

	log = logger.OrNop(log)
	rec = metrics.OrNop(rec)
	return &DataEngine{
		cfg:       cfg,
		exchange:  exchange,
		handler:   handler,
		strategy:  strat,
		converter: converter.New(log, rec),
		logger:    log,
		metrics:   rec,
		timeframe: tf,
		startup:   startup,
	}, nil
}

// Timeframe implements Engine.
func (e *DataEngine) Timeframe() string { return e.timeframe }

// Exchange implements Engine.
func (e *DataEngine) Exchange() Exchange { return e.exchange }

// Strategy returns the resolved strategy.
func (e *DataEngine) Strategy() strategy.Strategy { return e.strategy }

// StartupCandles returns the resolved startup count.
func (e *DataEngine) StartupCandles() int { return e.startup }

// Config returns the run configuration.
func (e *DataEngine) Config() RunConfig { return e.cfg }

// LoadData implements Engine. Missing pairs are skipped; no data for any pair
// is an error.
func (e *DataEngine) LoadData(ctx context.Context) (map[string]*models.CandleTable, models.TimeRange, error) {
	start := time.Now()
	data := make(map[string]*models.CandleTable)
	var covered models.TimeRange

	for _, pair := range e.cfg.Pairs() {
		if err := ctx.Err(); err != nil {
			return nil, models.TimeRange{}, err
		}
		table, err := e.handler.Load(ctx, datahandler.LoadRequest{
			Pair:           pair,
			Timeframe:      e.timeframe,
			TimeRange:      e.cfg.TimeRange(),
			FillMissing:    true,
			StartupCandles: e.startup,
			CandleType:     e.cfg.CandleType(),
		})
		if err != nil {
			return nil, models.TimeRange{}, fmt.Errorf("failed to load %s: %w", pair, err)
		}
		if table.Empty() {
			continue
		}
		data[pair] = table

		first, last := table.First().Timestamp, table.Last().Timestamp
		if covered.Start.IsZero() || first.Before(covered.Start) {
			covered.Start = first
		}
		if last.After(covered.End) {
			covered.End = last
		}
	}

	e.metrics.RecordDuration("backtest_load_duration", time.Since(start), "candle load latency per run", nil)
	if len(data) == 0 {
		return nil, models.TimeRange{}, fmt.Errorf("%w: no data found for %v %s in %s",
			apperrors.ErrNotFound, e.cfg.Pairs(), e.timeframe, e.cfg.TimeRange())
	}

	e.logger.Info("loaded backtest data",
		"pairs", len(data),
		"startup_candles", e.startup,
		"from", covered.Start.Format(time.RFC3339),
		"to", covered.End.Format(time.RFC3339))
	return data, covered, nil
}

// LoadDetailData implements Engine.
func (e *DataEngine) LoadDetailData(ctx context.Context) error {
	tf := e.cfg.DetailTimeframe()
	if tf == "" {
		return nil
	}

	e.detail = make(map[string]*models.CandleTable)
	for _, pair := range e.cfg.Pairs() {
		table, err := e.handler.Load(ctx, datahandler.LoadRequest{
			Pair:       pair,
			Timeframe:  tf,
			TimeRange:  e.cfg.TimeRange(),
			CandleType: e.cfg.CandleType(),
		})
		if err != nil {
			return fmt.Errorf("failed to load %s detail data: %w", pair, err)
		}
		if !table.Empty() {
			e.detail[pair] = table
		}
	}
	e.logger.Debug("loaded detail data", "timeframe", tf, "pairs", len(e.detail))
	return nil
}

// DetailData returns the tables loaded by LoadDetailData.
func (e *DataEngine) DetailData() map[string]*models.CandleTable { return e.detail }

// ComputeIndicators implements Engine. Frames are computed over the loaded
// rows, startup rows included, then trimmed to the run window. Columns are
// downcast only when the run config asks for it.
func (e *DataEngine) ComputeIndicators(ctx context.Context, data map[string]*models.CandleTable) (models.IndicatorSet, error) {
	start := time.Now()
	pairs := make([]string, 0, len(data))
	for pair := range data {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	set := make(models.IndicatorSet, len(data))
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame := data[pair].Frame()
		if err := e.strategy.PopulateIndicators(frame); err != nil {
			return nil, fmt.Errorf("strategy %s failed on %s: %w", e.strategy.Name(), pair, err)
		}
		set[pair] = frame
	}

	var trimmed models.IndicatorSet
	if e.cfg.ReduceFootprint() {
		trimmed = e.converter.TrimFrames(set, e.cfg.TimeRange(), 0)
	} else {
		trimmed = e.converter.TrimFramesFullWidth(set, e.cfg.TimeRange(), 0)
	}
	e.metrics.RecordDuration("backtest_indicator_duration", time.Since(start), "indicator computation per run",
		map[string]string{"strategy": e.strategy.Name()})
	return trimmed, nil
}

var _ Engine = (*DataEngine)(nil)
