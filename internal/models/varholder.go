package models

import (
	"time"
)

// VarHolder records the inputs and outputs of one analysis backtest run.
// A VarHolder is created per run and owned by the analyzer that created it.
type VarHolder struct {
	RunID          string
	TimeRange      TimeRange
	Data           map[string]*CandleTable
	Indicators     IndicatorSet
	From           time.Time
	To             time.Time
	Timeframe      string
	StartupCandles int
}

// Window returns the requested run window.
func (v *VarHolder) Window() TimeRange {
	return TimeRange{Start: v.From, End: v.To}
}

// WindowString renders the run window for log output.
func (v *VarHolder) WindowString() string {
	const layout = "2006-01-02T15:04:05"
	return v.From.UTC().Format(layout) + "-" + v.To.UTC().Format(layout)
}
