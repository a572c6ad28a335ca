package strategy

import (
	"fmt"
	"math"

	"github.com/johnayoung/go-ohlcv-research/internal/indicators"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// LookaheadConfig parameterizes Lookahead.
type LookaheadConfig struct {
	Timeframe string `json:"timeframe"`
	SMAPeriod int    `json:"sma-period"`
}

// LookaheadConfigDefaults returns the registered lookahead parameters.
func LookaheadConfigDefaults() *LookaheadConfig {
	return &LookaheadConfig{Timeframe: "5m", SMAPeriod: 10}
}

// Lookahead is a deliberately biased strategy used to demonstrate bias
// detection. future_close reads the next candle's close and close_norm
// divides each close by the mean close of the whole loaded frame, so both
// change when the same row is computed over a different span of data.
type Lookahead struct {
	*LookaheadConfig
}

// NewLookahead creates the strategy.
func NewLookahead(cfg *LookaheadConfig) *Lookahead {
	return &Lookahead{LookaheadConfig: cfg}
}

func (s *Lookahead) Name() string            { return "lookahead" }
func (s *Lookahead) Timeframe() string       { return s.LookaheadConfig.Timeframe }
func (s *Lookahead) StartupCandleCount() int { return s.SMAPeriod }

// PopulateIndicators adds sma, future_close, close_norm and the signal columns.
func (s *Lookahead) PopulateIndicators(frame *models.Frame) error {
	closeV, err := closes(frame)
	if err != nil {
		return err
	}

	sma, err := indicators.SMA(closeV, s.SMAPeriod)
	if err != nil {
		return fmt.Errorf("sma: %w", err)
	}
	future := indicators.Shift(closeV, -1)

	mean := frameMean(closeV)
	norm := make([]float64, len(closeV))
	for i, c := range closeV {
		norm[i] = c / mean
	}

	if err := addColumns(frame, []string{"sma", "future_close", "close_norm"}, map[string][]float64{
		"sma":          sma,
		"future_close": future,
		"close_norm":   norm,
	}); err != nil {
		return err
	}

	enter := make([]int64, len(closeV))
	exit := make([]int64, len(closeV))
	for i := range closeV {
		switch {
		case future[i] > closeV[i]:
			enter[i] = 1
		case future[i] < closeV[i]:
			exit[i] = 1
		}
	}
	if err := frame.AddInt(ColumnEnterLong, enter); err != nil {
		return err
	}
	return frame.AddInt(ColumnExitLong, exit)
}

// frameMean averages the non-NaN values.
func frameMean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

var _ Strategy = (*Lookahead)(nil)
