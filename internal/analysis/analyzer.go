// Package analysis detects recursive (look-ahead) bias in strategy
// indicators.
//
// The analyzer runs one backtest over the full requested range, then one
// partial backtest per configured startup-candle count. Every partial run
// covers only the last timeframe bar of the full range, primed with a
// different number of warm-up candles. An indicator whose final value changes
// with the amount of warm-up depends on history it should not see, or needs
// more startup candles than the strategy declares.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/johnayoung/go-ohlcv-research/internal/backtest"
	"github.com/johnayoung/go-ohlcv-research/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/metrics"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/timeframe"
)

// State is the analyzer's position in its run sequence.
type State int

const (
	StateInit State = iota
	StateFullRun
	StatePartialRun
	StateCompare
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFullRun:
		return "full_run"
	case StatePartialRun:
		return "partial_run"
	case StateCompare:
		return "compare"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures one analysis.
type Config struct {
	Pairs     []string
	Timeframe string
	TimeRange models.TimeRange
	Strategy  string

	// StartupCandles lists the warm-up counts of the partial runs, in order.
	StartupCandles []int
	// BaseStartup is the warm-up count of the full run. Zero uses the
	// strategy's own count.
	BaseStartup int

	// UserDataDir and ModelIdentifier locate the model directory that is
	// removed before every run. An empty identifier disables the purge.
	UserDataDir     string
	ModelIdentifier string

	// Tolerance is the relative difference below which two values count as
	// equal. Zero requires exact equality.
	Tolerance float64

	// QuietComponents are raised to WARN during the partial runs.
	QuietComponents []string
}

// ConfigFromApp builds an analysis Config from the application configuration.
func ConfigFromApp(app *config.AppConfig) (Config, error) {
	tr, err := models.ParseTimeRange(app.Analysis.TimeRange)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	return Config{
		Pairs:           append([]string(nil), app.Data.Pairs...),
		Timeframe:       app.Analysis.Timeframe,
		TimeRange:       tr,
		Strategy:        app.Analysis.Strategy,
		StartupCandles:  append([]int(nil), app.Analysis.StartupCandles...),
		BaseStartup:     app.Analysis.BaseStartup,
		UserDataDir:     app.Data.UserDataDir,
		ModelIdentifier: app.Analysis.ModelIdentifier,
		Tolerance:       app.Analysis.Tolerance,
		QuietComponents: append([]string(nil), app.Analysis.QuietComponents...),
	}, nil
}

// ModelDir returns the directory purged before each run, or "" when no model
// identifier is configured.
func (c Config) ModelDir() string {
	if c.ModelIdentifier == "" {
		return ""
	}
	return filepath.Join(c.UserDataDir, "models", c.ModelIdentifier)
}

// Verbosity lowers and restores the log level of named components.
// *logger.LoggerManager implements it.
type Verbosity interface {
	ReduceVerbosity(components ...string)
	RestoreVerbosity()
}

// RecursiveAnalyzer runs the full and partial backtests of one analysis.
// An analyzer is single use.
type RecursiveAnalyzer struct {
	cfg       Config
	factory   backtest.Factory
	fs        afero.Fs
	clock     func() time.Time
	logger    *slog.Logger
	metrics   metrics.Recorder
	verbosity Verbosity

	mu       sync.RWMutex
	state    State
	exchange backtest.Exchange
	full     *models.VarHolder
	partials []*models.VarHolder
}

// Option customizes a RecursiveAnalyzer.
type Option func(*RecursiveAnalyzer)

// WithFs sets the filesystem holding the model directory.
func WithFs(fs afero.Fs) Option {
	return func(a *RecursiveAnalyzer) { a.fs = fs }
}

// WithClock sets the clock used for an open range end.
func WithClock(clock func() time.Time) Option {
	return func(a *RecursiveAnalyzer) { a.clock = clock }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(a *RecursiveAnalyzer) { a.metrics = rec }
}

// WithVerbosity sets the controller used to quiet components during the
// partial runs.
func WithVerbosity(v Verbosity) Option {
	return func(a *RecursiveAnalyzer) { a.verbosity = v }
}

// WithExchange reuses an existing exchange handle for every run.
func WithExchange(exchange backtest.Exchange) Option {
	return func(a *RecursiveAnalyzer) { a.exchange = exchange }
}

// NewRecursiveAnalyzer validates cfg and creates an analyzer.
func NewRecursiveAnalyzer(cfg Config, factory backtest.Factory, log *slog.Logger, opts ...Option) (*RecursiveAnalyzer, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: backtest factory is required", apperrors.ErrConfiguration)
	}
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("%w: at least one pair is required", apperrors.ErrConfiguration)
	}
	if cfg.Strategy == "" {
		return nil, fmt.Errorf("%w: strategy is required", apperrors.ErrConfiguration)
	}
	if cfg.Timeframe != "" {
		if _, err := timeframe.Parse(cfg.Timeframe); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
		}
	}
	for _, n := range cfg.StartupCandles {
		if n <= 0 {
			return nil, fmt.Errorf("%w: startup candle counts must be positive, got %d", apperrors.ErrConfiguration, n)
		}
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("%w: tolerance must not be negative", apperrors.ErrConfiguration)
	}
	if len(cfg.StartupCandles) == 0 {
		cfg.StartupCandles = append([]int(nil), config.DefaultStartupCandles...)
	}

	a := &RecursiveAnalyzer{
		cfg:     cfg,
		factory: factory,
		fs:      afero.NewOsFs(),
		clock:   time.Now,
		logger:  logger.OrNop(log).With("strategy", cfg.Strategy),
		state:   StateInit,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.metrics = metrics.OrNop(a.metrics)
	return a, nil
}

// State returns the current state.
func (a *RecursiveAnalyzer) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *RecursiveAnalyzer) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Debug("analysis state change", "from", a.state.String(), "to", s.String())
	a.state = s
}

// Full returns the baseline run, or nil before the full run completed.
func (a *RecursiveAnalyzer) Full() *models.VarHolder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.full
}

// Partials returns the completed partial runs in execution order.
func (a *RecursiveAnalyzer) Partials() []*models.VarHolder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*models.VarHolder(nil), a.partials...)
}

// Start runs the full analysis and returns its report. The context is
// checked before each backtest run; a run in progress is not interrupted.
func (a *RecursiveAnalyzer) Start(ctx context.Context) (*Report, error) {
	if s := a.State(); s != StateInit {
		return nil, fmt.Errorf("analyzer already used (state %s)", s)
	}
	started := time.Now()

	a.setState(StateFullRun)
	if err := a.fillFull(ctx); err != nil {
		a.setState(StateFailed)
		return nil, err
	}

	a.setState(StatePartialRun)
	if err := a.fillPartials(ctx); err != nil {
		a.setState(StateFailed)
		return nil, err
	}

	a.setState(StateCompare)
	report := a.Compare()

	a.setState(StateDone)
	a.metrics.RecordDuration("analysis_duration", time.Since(started), "recursive analysis wall time",
		map[string]string{"strategy": a.cfg.Strategy})
	return report, nil
}

// fillFull runs the baseline backtest. Open range ends default to the epoch
// and the current time.
func (a *RecursiveAnalyzer) fillFull(ctx context.Context) error {
	from := a.cfg.TimeRange.Start
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := a.cfg.TimeRange.End
	if to.IsZero() {
		to = a.clock().UTC()
	}

	holder := &models.VarHolder{From: from, To: to, StartupCandles: a.cfg.BaseStartup}
	if err := a.prepareData(ctx, holder); err != nil {
		return fmt.Errorf("full run failed: %w", err)
	}

	a.mu.Lock()
	a.full = holder
	a.mu.Unlock()
	return nil
}

// fillPartials runs one partial backtest per startup count with the quiet
// components reduced to WARN. Verbosity is restored however the loop exits.
// The window ends at the last candle the full run covered, or at its
// requested end when the data reaches further.
func (a *RecursiveAnalyzer) fillPartials(ctx context.Context) error {
	full := a.Full()
	tf, err := timeframe.Parse(full.Timeframe)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	end := full.To
	if full.TimeRange.HasEnd() && full.TimeRange.End.Before(end) {
		end = full.TimeRange.End
	}
	start := end.Add(-tf.Duration())

	if a.verbosity != nil {
		a.verbosity.ReduceVerbosity(a.cfg.QuietComponents...)
		defer a.verbosity.RestoreVerbosity()
	}

	for _, startup := range a.cfg.StartupCandles {
		holder := &models.VarHolder{From: start, To: end, StartupCandles: startup}
		if err := a.prepareData(ctx, holder); err != nil {
			return fmt.Errorf("partial run with %d startup candles failed: %w", startup, err)
		}
		a.mu.Lock()
		a.partials = append(a.partials, holder)
		a.mu.Unlock()
	}
	return nil
}

// prepareData runs one backtest for holder's window and fills in its data,
// covered range, timeframe and indicators.
func (a *RecursiveAnalyzer) prepareData(ctx context.Context, holder *models.VarHolder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.purgeModelDir(); err != nil {
		return err
	}

	holder.RunID = uuid.NewString()
	ctx = logger.WithRunID(ctx, holder.RunID)
	log := a.logger.With("run_id", holder.RunID, "startup_candles", holder.StartupCandles)
	started := time.Now()

	runCfg := backtest.NewRunConfig(a.cfg.Strategy, a.cfg.Timeframe, a.cfg.Pairs).
		WithTimeRange(holder.Window()).
		WithStartupCandles(holder.StartupCandles)

	engine, err := a.factory(ctx, runCfg, a.exchange)
	if err != nil {
		return err
	}
	a.exchange = engine.Exchange()

	var (
		data    map[string]*models.CandleTable
		covered models.TimeRange
	)
	err = logger.TimedOperation(log, "load_data", func() error {
		var err error
		data, covered, err = engine.LoadData(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if err := engine.LoadDetailData(ctx); err != nil {
		return err
	}
	var set models.IndicatorSet
	err = logger.TimedOperation(log, "compute_indicators", func() error {
		var err error
		set, err = engine.ComputeIndicators(ctx, data)
		return err
	})
	if err != nil {
		return err
	}

	holder.Data = data
	holder.TimeRange = covered
	holder.Timeframe = engine.Timeframe()
	holder.Indicators = set

	kind := "partial"
	if a.Full() == nil {
		kind = "full"
	}
	a.metrics.RecordCounter("analysis_runs", "backtest runs executed", map[string]string{"kind": kind})
	a.metrics.RecordDuration("analysis_run_duration", time.Since(started), "backtest run latency", map[string]string{"kind": kind})
	log.Info("backtest run complete", "kind", kind, "window", holder.WindowString(), "pairs", len(set))
	return nil
}

// purgeModelDir removes the model directory so nothing carries over between
// runs.
func (a *RecursiveAnalyzer) purgeModelDir() error {
	dir := a.cfg.ModelDir()
	if dir == "" {
		return nil
	}
	exists, err := afero.DirExists(a.fs, dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to inspect model directory %s: %w", dir, err)
	}
	if !exists {
		return nil
	}
	if err := a.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove model directory %s: %w", dir, err)
	}
	a.logger.Debug("removed model directory", "path", dir)
	return nil
}
