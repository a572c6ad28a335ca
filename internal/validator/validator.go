// Package validator provides candle table validation and anomaly detection.
//
// This package checks the invariants a normalized candle table must hold:
// - Logical consistency of every row (OHLC relationships, volume >= 0)
// - Unique, ascending timestamps
// - A fixed step equal to the table's timeframe
//
// Findings are reported as models.Anomaly values; validation never fails a
// conversion on its own, callers decide what to do with the anomalies.
package validator

import (
	"fmt"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// Check names a single validation rule.
type Check string

const (
	// CheckOHLCLogic verifies high >= max(open, close), low <= min(open, close)
	// and a non-negative volume.
	CheckOHLCLogic Check = "ohlc_logic"
	// CheckDuplicates flags rows sharing a timestamp.
	CheckDuplicates Check = "duplicates"
	// CheckOrdering flags rows whose timestamp precedes the previous row.
	CheckOrdering Check = "ordering"
	// CheckSequenceGap flags steps that are not exactly one timeframe.
	CheckSequenceGap Check = "sequence_gap"
)

// AllChecks lists every supported check.
var AllChecks = []Check{CheckOHLCLogic, CheckDuplicates, CheckOrdering, CheckSequenceGap}

// ParseCheck converts a configured check name.
func ParseCheck(s string) (Check, error) {
	for _, c := range AllChecks {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown validation check %q", s)
}

// ValidationConfig selects the checks a validator runs.
type ValidationConfig struct {
	EnabledChecks map[Check]bool
	// MaxAnomalies caps the anomalies reported per table. 0 means unlimited.
	MaxAnomalies int
}

// NewValidationConfig returns a configuration with every check enabled.
func NewValidationConfig() *ValidationConfig {
	enabled := make(map[Check]bool, len(AllChecks))
	for _, c := range AllChecks {
		enabled[c] = true
	}
	return &ValidationConfig{EnabledChecks: enabled, MaxAnomalies: 1000}
}

// ValidationConfigFromNames builds a configuration enabling only the named
// checks. An empty list enables every check.
func ValidationConfigFromNames(names []string) (*ValidationConfig, error) {
	cfg := NewValidationConfig()
	if len(names) == 0 {
		return cfg, nil
	}
	cfg.EnabledChecks = make(map[Check]bool, len(names))
	for _, name := range names {
		c, err := ParseCheck(name)
		if err != nil {
			return nil, err
		}
		cfg.EnabledChecks[c] = true
	}
	return cfg, nil
}

// Enabled reports whether check c runs.
func (c *ValidationConfig) Enabled(check Check) bool {
	return c.EnabledChecks[check]
}

// ValidationResults holds the outcome of validating one table.
type ValidationResults struct {
	Pair           string                `json:"pair"`
	Timeframe      string                `json:"timeframe"`
	CandleType     models.CandleType     `json:"candle_type"`
	Rows           int                   `json:"rows"`
	Anomalies      []models.Anomaly      `json:"anomalies"`
	Summary        models.AnomalySummary `json:"summary"`
	QualityScore   float64               `json:"quality_score"`
	Truncated      bool                  `json:"truncated"`
	ProcessingTime time.Duration         `json:"processing_time"`
}

// Valid reports whether no anomaly of error severity or worse was found.
func (r *ValidationResults) Valid() bool {
	for _, a := range r.Anomalies {
		if a.Severity.AtLeast(models.SeverityError) {
			return false
		}
	}
	return true
}

// qualityScore is the share of rows without any anomaly.
func qualityScore(rows int, anomalies []models.Anomaly) float64 {
	if rows == 0 {
		return 1
	}
	bad := make(map[int]struct{}, len(anomalies))
	for _, a := range anomalies {
		bad[a.Row] = struct{}{}
	}
	return float64(rows-len(bad)) / float64(rows)
}
