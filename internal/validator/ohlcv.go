package validator

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
	"github.com/johnayoung/go-ohlcv-research/internal/timeframe"
)

// OHLCVValidator validates candle tables.
type OHLCVValidator struct {
	config *ValidationConfig
	logger *slog.Logger
}

// NewOHLCVValidator creates a new validator with every check enabled.
func NewOHLCVValidator(log *slog.Logger) *OHLCVValidator {
	return NewOHLCVValidatorWithConfig(nil, log)
}

// NewOHLCVValidatorWithConfig creates a new validator with a custom configuration.
func NewOHLCVValidatorWithConfig(config *ValidationConfig, log *slog.Logger) *OHLCVValidator {
	if config == nil {
		config = NewValidationConfig()
	}
	return &OHLCVValidator{
		config: config,
		logger: logger.OrNop(log),
	}
}

// ValidateTable runs the enabled checks against table and returns the
// anomalies found, in row order per check.
func (v *OHLCVValidator) ValidateTable(table *models.CandleTable) []models.Anomaly {
	var anomalies []models.Anomaly
	if table.Empty() {
		return anomalies
	}

	if v.config.Enabled(CheckOHLCLogic) {
		for i := range table.Candles {
			if a, ok := v.ValidateCandle(i, table.Candles[i]); ok {
				anomalies = append(anomalies, a)
			}
		}
	}

	var step time.Duration
	if v.config.Enabled(CheckSequenceGap) {
		if tf, err := timeframe.Parse(table.Timeframe); err != nil {
			v.logger.Warn("skipping step check, invalid timeframe", "timeframe", table.Timeframe, "error", err)
		} else if !tf.IsCalendar() {
			step = tf.Duration()
		}
	}

	anomalies = append(anomalies, v.ValidateTimestampSequence(table.Timestamps(), step)...)
	return anomalies
}

// Validate runs ValidateTable and wraps the outcome with a summary.
func (v *OHLCVValidator) Validate(table *models.CandleTable) *ValidationResults {
	start := time.Now()
	anomalies := v.ValidateTable(table)

	results := &ValidationResults{
		Pair:       table.Pair,
		Timeframe:  table.Timeframe,
		CandleType: table.CandleType,
		Rows:       table.Len(),
	}
	if v.config.MaxAnomalies > 0 && len(anomalies) > v.config.MaxAnomalies {
		anomalies = anomalies[:v.config.MaxAnomalies]
		results.Truncated = true
	}
	results.Anomalies = anomalies
	results.Summary = models.SummarizeAnomalies(anomalies)
	results.QualityScore = qualityScore(table.Len(), anomalies)
	results.ProcessingTime = time.Since(start)

	v.logger.Debug("Completed table validation",
		"pair", table.Pair,
		"timeframe", table.Timeframe,
		"rows", results.Rows,
		"anomalies", len(anomalies),
		"quality_score", results.QualityScore)

	return results
}

// ValidateCandle checks the OHLC relationships of row i.
func (v *OHLCVValidator) ValidateCandle(i int, c models.Candle) (models.Anomaly, bool) {
	if err := c.Validate(); err != nil {
		severity := models.SeverityError
		if c.Timestamp.IsZero() {
			severity = models.SeverityCritical
		}
		return models.Anomaly{
			Type:        models.AnomalyTypeLogicError,
			Row:         i,
			Timestamp:   c.Timestamp,
			Description: err.Error(),
			Severity:    severity,
		}, true
	}
	if c.Volume == 0 && !c.IsFlat() && !math.IsNaN(c.Close) {
		return models.Anomaly{
			Type:        models.AnomalyTypeLogicError,
			Row:         i,
			Timestamp:   c.Timestamp,
			Description: "price moved with zero volume",
			Severity:    models.SeverityInfo,
		}, true
	}
	return models.Anomaly{}, false
}

// ValidateTimestampSequence checks ordering and uniqueness of timestamps and,
// when step is positive, that consecutive rows are exactly step apart.
func (v *OHLCVValidator) ValidateTimestampSequence(timestamps []time.Time, step time.Duration) []models.Anomaly {
	var anomalies []models.Anomaly
	for i := 1; i < len(timestamps); i++ {
		prev, cur := timestamps[i-1], timestamps[i]
		delta := cur.Sub(prev)

		switch {
		case delta == 0:
			if v.config.Enabled(CheckDuplicates) {
				anomalies = append(anomalies, models.Anomaly{
					Type:        models.AnomalyTypeDuplicate,
					Row:         i,
					Timestamp:   cur,
					Description: "timestamp repeats the previous row",
					Severity:    models.SeverityError,
				})
			}
		case delta < 0:
			if v.config.Enabled(CheckOrdering) {
				anomalies = append(anomalies, models.Anomaly{
					Type:        models.AnomalyTypeUnsorted,
					Row:         i,
					Timestamp:   cur,
					Description: fmt.Sprintf("timestamp is %s before the previous row", -delta),
					Severity:    models.SeverityError,
				})
			}
		case step > 0 && delta != step:
			if delta%step == 0 {
				anomalies = append(anomalies, models.Anomaly{
					Type:        models.AnomalyTypeSequenceGap,
					Row:         i,
					Timestamp:   cur,
					Description: fmt.Sprintf("%d candles missing before this row", int(delta/step)-1),
					Severity:    models.SeverityWarning,
				})
			} else {
				anomalies = append(anomalies, models.Anomaly{
					Type:        models.AnomalyTypeIrregularStep,
					Row:         i,
					Timestamp:   cur,
					Description: fmt.Sprintf("step %s is not a multiple of %s", delta, step),
					Severity:    models.SeverityError,
				})
			}
		}
	}
	return anomalies
}

// LogAnomalies writes a one-line summary and the worst anomalies to the log.
func (v *OHLCVValidator) LogAnomalies(results *ValidationResults, limit int) {
	if len(results.Anomalies) == 0 {
		return
	}
	v.logger.Warn("candle table has anomalies",
		"pair", results.Pair,
		"timeframe", results.Timeframe,
		"candle_type", string(results.CandleType),
		"total", results.Summary.Total,
		"worst", string(results.Summary.Worst),
		"quality_score", results.QualityScore)

	for i, a := range results.Anomalies {
		if i >= limit {
			break
		}
		v.logger.Debug("anomaly", "detail", a.String())
	}
}
