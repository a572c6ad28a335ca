package backtest

import (
	"fmt"
	"strings"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// DefaultStakeAmount is the quote amount invested per simulated trade.
const DefaultStakeAmount = 1000.0

// RunConfig is the immutable configuration of one backtest run. The With
// methods return modified copies and never touch the receiver.
type RunConfig struct {
	strategy        string
	timeframe       string
	detailTimeframe string
	pairs           []string
	timeRange       models.TimeRange
	startupCandles  int
	candleType      models.CandleType
	stakeAmount     float64
	reduceWidth     bool
}

// NewRunConfig creates a run configuration for strategy over pairs. An empty
// timeframe falls back to the strategy's own timeframe.
func NewRunConfig(strategy, timeframe string, pairs []string) RunConfig {
	return RunConfig{
		strategy:    strategy,
		timeframe:   timeframe,
		pairs:       append([]string(nil), pairs...),
		candleType:  models.CandleTypeSpot,
		stakeAmount: DefaultStakeAmount,
	}
}

func (c RunConfig) Strategy() string              { return c.strategy }
func (c RunConfig) Timeframe() string             { return c.timeframe }
func (c RunConfig) DetailTimeframe() string       { return c.detailTimeframe }
func (c RunConfig) TimeRange() models.TimeRange   { return c.timeRange }
func (c RunConfig) StartupCandles() int           { return c.startupCandles }
func (c RunConfig) CandleType() models.CandleType { return c.candleType }
func (c RunConfig) StakeAmount() float64          { return c.stakeAmount }
func (c RunConfig) Pairs() []string               { return append([]string(nil), c.pairs...) }
func (c RunConfig) ReduceFootprint() bool         { return c.reduceWidth }

// WithTimeRange returns a copy covering r.
func (c RunConfig) WithTimeRange(r models.TimeRange) RunConfig {
	c.timeRange = r
	return c
}

// WithStartupCandles returns a copy using n startup candles. Zero means the
// strategy's own startup count.
func (c RunConfig) WithStartupCandles(n int) RunConfig {
	c.startupCandles = n
	return c
}

// WithPairs returns a copy restricted to pairs.
func (c RunConfig) WithPairs(pairs []string) RunConfig {
	c.pairs = append([]string(nil), pairs...)
	return c
}

// WithTimeframe returns a copy using timeframe.
func (c RunConfig) WithTimeframe(timeframe string) RunConfig {
	c.timeframe = timeframe
	return c
}

// WithDetailTimeframe returns a copy that also loads a detail timeframe.
func (c RunConfig) WithDetailTimeframe(timeframe string) RunConfig {
	c.detailTimeframe = timeframe
	return c
}

// WithCandleType returns a copy reading candle type ct.
func (c RunConfig) WithCandleType(ct models.CandleType) RunConfig {
	c.candleType = ct
	return c
}

// WithStakeAmount returns a copy investing amount per trade.
func (c RunConfig) WithStakeAmount(amount float64) RunConfig {
	c.stakeAmount = amount
	return c
}

// WithReduceFootprint returns a copy that downcasts indicator columns after
// trimming. Off by default: reduced frames only compare to float32 precision.
func (c RunConfig) WithReduceFootprint(reduce bool) RunConfig {
	c.reduceWidth = reduce
	return c
}

// Validate reports configuration errors.
func (c RunConfig) Validate() error {
	var problems []string
	if c.strategy == "" {
		problems = append(problems, "strategy is required")
	}
	if len(c.pairs) == 0 {
		problems = append(problems, "at least one pair is required")
	}
	if c.startupCandles < 0 {
		problems = append(problems, "startup candles must not be negative")
	}
	if c.stakeAmount <= 0 {
		problems = append(problems, "stake amount must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid run config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// String renders the run for log output.
func (c RunConfig) String() string {
	return fmt.Sprintf("%s %s %v %s startup=%d", c.strategy, c.timeframe, c.pairs, c.timeRange, c.startupCandles)
}
