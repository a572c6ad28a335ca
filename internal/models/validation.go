package models

import (
	"fmt"
	"time"
)

// SeverityLevel represents the severity of an anomaly
type SeverityLevel string

const (
	SeverityInfo     SeverityLevel = "info"
	SeverityWarning  SeverityLevel = "warning"
	SeverityError    SeverityLevel = "error"
	SeverityCritical SeverityLevel = "critical"
)

// rank orders severities for escalation.
func (s SeverityLevel) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is as severe as other.
func (s SeverityLevel) AtLeast(other SeverityLevel) bool {
	return s.rank() >= other.rank()
}

// AnomalyType represents the type of table anomaly detected
type AnomalyType string

const (
	AnomalyTypeDuplicate     AnomalyType = "duplicate_timestamp"
	AnomalyTypeUnsorted      AnomalyType = "unsorted"
	AnomalyTypeSequenceGap   AnomalyType = "sequence_gap"
	AnomalyTypeIrregularStep AnomalyType = "irregular_step"
	AnomalyTypeLogicError    AnomalyType = "logic_error"
)

// Anomaly represents a data quality issue found at a row of a candle table.
type Anomaly struct {
	Type        AnomalyType   `json:"type"`
	Row         int           `json:"row"`
	Timestamp   time.Time     `json:"timestamp"`
	Description string        `json:"description"`
	Severity    SeverityLevel `json:"severity"`
}

// String returns a string representation of the anomaly.
func (a Anomaly) String() string {
	return fmt.Sprintf("[%s/%s] row %d (%s): %s",
		a.Severity, a.Type, a.Row, a.Timestamp.UTC().Format(time.RFC3339), a.Description)
}

// AnomalySummary aggregates anomalies by type and highest severity.
type AnomalySummary struct {
	Total     int                 `json:"total"`
	ByType    map[AnomalyType]int `json:"by_type"`
	Worst     SeverityLevel       `json:"worst"`
	FirstSeen time.Time           `json:"first_seen"`
}

// SummarizeAnomalies aggregates a list of anomalies.
func SummarizeAnomalies(anomalies []Anomaly) AnomalySummary {
	summary := AnomalySummary{
		Total:  len(anomalies),
		ByType: make(map[AnomalyType]int),
		Worst:  SeverityInfo,
	}
	for i, a := range anomalies {
		summary.ByType[a.Type]++
		if a.Severity.AtLeast(summary.Worst) {
			summary.Worst = a.Severity
		}
		if i == 0 || a.Timestamp.Before(summary.FirstSeen) {
			summary.FirstSeen = a.Timestamp
		}
	}
	return summary
}
