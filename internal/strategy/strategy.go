// Package strategy defines the indicator strategies run by the backtest
// engine and a registry to look them up by name.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// Signal columns populated by strategies. Values are 1 on signal rows, else 0.
const (
	ColumnEnterLong = "enter_long"
	ColumnExitLong  = "exit_long"
)

// Strategy turns a candle frame into an indicator frame by adding columns.
type Strategy interface {
	Name() string

	// Timeframe is the candle timeframe the strategy is written for.
	Timeframe() string

	// StartupCandleCount is the number of leading candles the strategy needs
	// before its indicators are valid.
	StartupCandleCount() int

	// PopulateIndicators adds indicator and signal columns to frame in place.
	PopulateIndicators(frame *models.Frame) error
}

// Constructor creates a strategy with its default parameters.
type Constructor func() Strategy

var (
	mu       sync.RWMutex
	registry = make(map[string]Constructor)
)

// Register makes a strategy available under name. Registering a name twice
// replaces the earlier constructor.
func Register(name string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalize(name)] = ctor
}

// New creates the strategy registered under name.
func New(name string) (Strategy, error) {
	mu.RLock()
	ctor, ok := registry[normalize(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names returns the registered strategy names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func init() {
	Register("emacross", func() Strategy { return NewEMACross(EMACrossConfigDefaults()) })
	Register("smacross", func() Strategy { return NewSMACross(SMACrossConfigDefaults()) })
	Register("lookahead", func() Strategy { return NewLookahead(LookaheadConfigDefaults()) })
}

// closes returns the close column of frame or an error when it is missing.
func closes(frame *models.Frame) ([]float64, error) {
	values := frame.Floats(models.ColumnClose)
	if values == nil {
		return nil, fmt.Errorf("frame has no %s column", models.ColumnClose)
	}
	return values, nil
}

// addColumns adds float columns in the given order, stopping at the first error.
func addColumns(frame *models.Frame, names []string, values map[string][]float64) error {
	for _, name := range names {
		if err := frame.AddFloat(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}
