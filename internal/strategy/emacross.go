package strategy

import (
	"fmt"

	"github.com/johnayoung/go-ohlcv-research/internal/indicators"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// EMACrossConfig parameterizes EMACross.
type EMACrossConfig struct {
	Timeframe      string  `json:"timeframe"`
	FastPeriod     int     `json:"fast-period"`
	SlowPeriod     int     `json:"slow-period"`
	RSIPeriod      int     `json:"rsi-period"`
	ATRPeriod      int     `json:"atr-period"`
	RSIEntryMax    float64 `json:"rsi-entry-max"` // no entries above this RSI
	RSIExit        float64 `json:"rsi-exit"`      // exit above this RSI
	StartupCandles int     `json:"startup-candles"`
}

// EMACrossConfigDefaults returns the registered emacross parameters.
func EMACrossConfigDefaults() *EMACrossConfig {
	return &EMACrossConfig{
		Timeframe:      "5m",
		FastPeriod:     12,
		SlowPeriod:     26,
		RSIPeriod:      14,
		ATRPeriod:      14,
		RSIEntryMax:    70,
		RSIExit:        80,
		StartupCandles: 100,
	}
}

// EMACross enters long when the fast EMA crosses above the slow EMA with RSI
// below RSIEntryMax and exits on the opposite cross or an overbought RSI.
// Every column only uses past rows. EMA and RSI seed from the first loaded
// rows, so values converge as more startup candles are supplied.
type EMACross struct {
	*EMACrossConfig
}

// NewEMACross creates the strategy.
func NewEMACross(cfg *EMACrossConfig) *EMACross {
	if cfg.StartupCandles == 0 {
		cfg.StartupCandles = cfg.SlowPeriod
	}
	return &EMACross{EMACrossConfig: cfg}
}

func (s *EMACross) Name() string            { return "emacross" }
func (s *EMACross) Timeframe() string       { return s.EMACrossConfig.Timeframe }
func (s *EMACross) StartupCandleCount() int { return s.StartupCandles }

// PopulateIndicators adds ema_fast, ema_slow, rsi, atr and the signal columns.
func (s *EMACross) PopulateIndicators(frame *models.Frame) error {
	closeV, err := closes(frame)
	if err != nil {
		return err
	}

	fast, err := indicators.EMA(closeV, s.FastPeriod)
	if err != nil {
		return fmt.Errorf("ema_fast: %w", err)
	}
	slow, err := indicators.EMA(closeV, s.SlowPeriod)
	if err != nil {
		return fmt.Errorf("ema_slow: %w", err)
	}
	rsi, err := indicators.RSI(closeV, s.RSIPeriod)
	if err != nil {
		return fmt.Errorf("rsi: %w", err)
	}

	atr, err := indicators.ATR(frame.Floats(models.ColumnHigh), frame.Floats(models.ColumnLow), closeV, s.ATRPeriod)
	if err != nil {
		return fmt.Errorf("atr: %w", err)
	}

	if err := addColumns(frame, []string{"ema_fast", "ema_slow", "rsi", "atr"}, map[string][]float64{
		"ema_fast": fast,
		"ema_slow": slow,
		"rsi":      rsi,
		"atr":      atr,
	}); err != nil {
		return err
	}

	up := indicators.CrossedAbove(fast, slow)
	down := indicators.CrossedBelow(fast, slow)
	enter := make([]int64, len(closeV))
	exit := make([]int64, len(closeV))
	for i := range closeV {
		if up[i] == 1 && rsi[i] < s.RSIEntryMax {
			enter[i] = 1
		}
		if down[i] == 1 || rsi[i] > s.RSIExit {
			exit[i] = 1
		}
	}
	if err := frame.AddInt(ColumnEnterLong, enter); err != nil {
		return err
	}
	return frame.AddInt(ColumnExitLong, exit)
}

var _ Strategy = (*EMACross)(nil)
