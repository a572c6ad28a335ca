// Package backtest defines the backtest engine used by the bias analyzer and
// provides a reference engine that reads candles through a datahandler.
//
// An Engine is created per run by a Factory from an immutable RunConfig and a
// shared Exchange handle. Engines are small and composable:
//   - LoadData returns cleaned candle tables per pair plus the covered range
//   - LoadDetailData loads the optional detail timeframe
//   - ComputeIndicators turns candle tables into indicator frames
package backtest

import (
	"sync"

	"github.com/google/uuid"
)

// Exchange is the market handle shared by every run of an analysis.
//
// The handle is created once, by the first engine that needs one, and passed
// to every later Factory call so markets are not reloaded between runs.
// Handles are not reentrant: runs sharing one must execute sequentially.
type Exchange interface {
	// Name returns the exchange identifier.
	Name() string
}

// SimExchange is the simulated exchange used by DataEngine.
type SimExchange struct {
	name    string
	id      string
	feeRate float64

	mu    sync.Mutex
	users int
}

// NewExchange creates a simulated exchange charging feeRate per side.
func NewExchange(name string, feeRate float64) *SimExchange {
	return &SimExchange{
		name:    name,
		id:      uuid.NewString(),
		feeRate: feeRate,
	}
}

// Name implements Exchange.
func (e *SimExchange) Name() string { return e.name }

// ID identifies this handle instance.
func (e *SimExchange) ID() string { return e.id }

// FeeRate returns the fee charged on each side of a trade.
func (e *SimExchange) FeeRate() float64 { return e.feeRate }

// attach counts an engine using the handle.
func (e *SimExchange) attach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users++
}

// Users returns how many engines have been created over this handle.
func (e *SimExchange) Users() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.users
}

var _ Exchange = (*SimExchange)(nil)
