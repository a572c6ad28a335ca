package strategy

import (
	"fmt"

	"github.com/johnayoung/go-ohlcv-research/internal/indicators"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// SMACrossConfig parameterizes SMACross.
type SMACrossConfig struct {
	Timeframe  string `json:"timeframe"`
	FastPeriod int    `json:"fast-period"`
	SlowPeriod int    `json:"slow-period"`
}

// SMACrossConfigDefaults returns the registered smacross parameters.
func SMACrossConfigDefaults() *SMACrossConfig {
	return &SMACrossConfig{
		Timeframe:  "5m",
		FastPeriod: 10,
		SlowPeriod: 30,
	}
}

// SMACross trades simple moving average crosses. Every column depends only on
// a fixed trailing window, so any startup count of at least SlowPeriod yields
// identical values.
type SMACross struct {
	*SMACrossConfig
}

// NewSMACross creates the strategy.
func NewSMACross(cfg *SMACrossConfig) *SMACross {
	return &SMACross{SMACrossConfig: cfg}
}

func (s *SMACross) Name() string            { return "smacross" }
func (s *SMACross) Timeframe() string       { return s.SMACrossConfig.Timeframe }
func (s *SMACross) StartupCandleCount() int { return s.SlowPeriod }

// PopulateIndicators adds sma_fast, sma_slow and the signal columns.
func (s *SMACross) PopulateIndicators(frame *models.Frame) error {
	closeV, err := closes(frame)
	if err != nil {
		return err
	}

	fast, err := indicators.SMA(closeV, s.FastPeriod)
	if err != nil {
		return fmt.Errorf("sma_fast: %w", err)
	}
	slow, err := indicators.SMA(closeV, s.SlowPeriod)
	if err != nil {
		return fmt.Errorf("sma_slow: %w", err)
	}
	if err := addColumns(frame, []string{"sma_fast", "sma_slow"}, map[string][]float64{
		"sma_fast": fast,
		"sma_slow": slow,
	}); err != nil {
		return err
	}

	if err := frame.AddInt(ColumnEnterLong, indicators.CrossedAbove(fast, slow)); err != nil {
		return err
	}
	return frame.AddInt(ColumnExitLong, indicators.CrossedBelow(fast, slow))
}

var _ Strategy = (*SMACross)(nil)
