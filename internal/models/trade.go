package models

import "time"

// Trade is one closed round trip in a backtest trade ledger.
type Trade struct {
	Pair        string    `json:"pair" csv:"pair"`
	OpenTime    time.Time `json:"open_time" csv:"open_time"`
	CloseTime   time.Time `json:"close_time" csv:"close_time"`
	OpenPrice   float64   `json:"open_price" csv:"open_price"`
	ClosePrice  float64   `json:"close_price" csv:"close_price"`
	Amount      float64   `json:"amount" csv:"amount"`
	ProfitAbs   float64   `json:"profit_abs" csv:"profit_abs"`
	ProfitRatio float64   `json:"profit_ratio" csv:"profit_ratio"`
	ExitReason  string    `json:"exit_reason" csv:"exit_reason"`
}

// Duration returns how long the trade was open.
func (t Trade) Duration() time.Duration {
	return t.CloseTime.Sub(t.OpenTime)
}

// IsLoss reports whether the trade closed with a negative profit.
func (t Trade) IsLoss() bool {
	return t.ProfitAbs < 0
}
