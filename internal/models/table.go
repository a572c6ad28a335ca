package models

import (
	"fmt"
	"time"
)

// CandleType identifies the market a candle series was sampled from.
type CandleType string

const (
	CandleTypeSpot         CandleType = "spot"
	CandleTypeFutures      CandleType = "futures"
	CandleTypeMark         CandleType = "mark"
	CandleTypeIndex        CandleType = "index"
	CandleTypePremiumIndex CandleType = "premiumIndex"
	CandleTypeFundingRate  CandleType = "funding_rate"
)

// AllCandleTypes lists every supported candle type in declaration order.
var AllCandleTypes = []CandleType{
	CandleTypeSpot,
	CandleTypeFutures,
	CandleTypeMark,
	CandleTypeIndex,
	CandleTypePremiumIndex,
	CandleTypeFundingRate,
}

// ParseCandleType converts a string to a CandleType. The empty string maps to spot.
func ParseCandleType(s string) (CandleType, error) {
	if s == "" {
		return CandleTypeSpot, nil
	}
	for _, ct := range AllCandleTypes {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown candle type %q", s)
}

// TradingMode returns the trading mode the candle type belongs to.
func (ct CandleType) TradingMode() TradingMode {
	if ct == CandleTypeSpot || ct == "" {
		return TradingModeSpot
	}
	return TradingModeFutures
}

// TradingMode separates spot data from derivatives data.
type TradingMode string

const (
	TradingModeSpot    TradingMode = "spot"
	TradingModeFutures TradingMode = "futures"
)

// ParseTradingMode converts a string to a TradingMode. The empty string maps to spot.
func ParseTradingMode(s string) (TradingMode, error) {
	switch s {
	case "", string(TradingModeSpot):
		return TradingModeSpot, nil
	case string(TradingModeFutures):
		return TradingModeFutures, nil
	default:
		return "", fmt.Errorf("unknown trading mode %q", s)
	}
}

// CandleTable is an ordered candle series for one (pair, timeframe, candle type) triple.
type CandleTable struct {
	Pair       string     `json:"pair"`
	Timeframe  string     `json:"timeframe"`
	CandleType CandleType `json:"candle_type"`
	Candles    []Candle   `json:"candles"`
}

// NewCandleTable creates an empty table for the given series key.
func NewCandleTable(pair, timeframe string, candleType CandleType) *CandleTable {
	return &CandleTable{
		Pair:       pair,
		Timeframe:  timeframe,
		CandleType: candleType,
		Candles:    []Candle{},
	}
}

// Len returns the number of rows.
func (t *CandleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Candles)
}

// Empty reports whether the table has no rows.
func (t *CandleTable) Empty() bool {
	return t.Len() == 0
}

// First returns the first candle. It panics on an empty table.
func (t *CandleTable) First() Candle {
	return t.Candles[0]
}

// Last returns the last candle. It panics on an empty table.
func (t *CandleTable) Last() Candle {
	return t.Candles[len(t.Candles)-1]
}

// Timestamps returns the timestamp index of the table.
func (t *CandleTable) Timestamps() []time.Time {
	ts := make([]time.Time, len(t.Candles))
	for i := range t.Candles {
		ts[i] = t.Candles[i].Timestamp
	}
	return ts
}

// WithCandles returns a table with the same key and the given rows.
func (t *CandleTable) WithCandles(candles []Candle) *CandleTable {
	return &CandleTable{
		Pair:       t.Pair,
		Timeframe:  t.Timeframe,
		CandleType: t.CandleType,
		Candles:    candles,
	}
}

// Clone returns a deep copy of the table.
func (t *CandleTable) Clone() *CandleTable {
	candles := make([]Candle, len(t.Candles))
	copy(candles, t.Candles)
	return t.WithCandles(candles)
}

// Frame returns a columnar view of the table carrying the OHLCV columns.
func (t *CandleTable) Frame() *Frame {
	n := len(t.Candles)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range t.Candles {
		open[i] = c.Open
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volume[i] = c.Volume
	}

	f := NewFrame(t.Timestamps())
	f.mustAdd(NewFloatColumn(ColumnOpen, open))
	f.mustAdd(NewFloatColumn(ColumnHigh, high))
	f.mustAdd(NewFloatColumn(ColumnLow, low))
	f.mustAdd(NewFloatColumn(ColumnClose, closes))
	f.mustAdd(NewFloatColumn(ColumnVolume, volume))
	return f
}

// String returns the series key.
func (t *CandleTable) String() string {
	return fmt.Sprintf("%s %s %s (%d rows)", t.Pair, t.Timeframe, t.CandleType, t.Len())
}
