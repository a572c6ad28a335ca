// Package timeframe parses candle timeframe strings and maps candle
// timestamps onto resampling buckets.
package timeframe

import (
	"fmt"
	"strconv"
	"time"
)

// Minute thresholds at which bucketing switches from fixed width to
// calendar months and calendar years.
const (
	MonthMinutes = 30 * 24 * 60
	YearMinutes  = 365 * 24 * 60
)

// unitSeconds maps a timeframe unit to its length in seconds. Months and
// years use their nominal 30 and 365 day lengths.
var unitSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 60 * 60,
	'd': 24 * 60 * 60,
	'w': 7 * 24 * 60 * 60,
	'M': 30 * 24 * 60 * 60,
	'y': 365 * 24 * 60 * 60,
}

// Timeframe is a parsed candle duration such as "5m" or "1M".
type Timeframe struct {
	Value int
	Unit  byte
}

// Parse converts a timeframe string to a Timeframe.
func Parse(s string) (Timeframe, error) {
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("invalid timeframe format: %q", s)
	}

	unit := s[len(s)-1]
	if _, ok := unitSeconds[unit]; !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe unit %q in %q", string(unit), s)
	}

	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || value <= 0 {
		return Timeframe{}, fmt.Errorf("invalid timeframe value: %q", s)
	}

	return Timeframe{Value: value, Unit: unit}, nil
}

// MustParse is like Parse but panics on error. Intended for constants in tests
// and strategy definitions.
func MustParse(s string) Timeframe {
	tf, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return tf
}

// Seconds returns the nominal length of the timeframe in seconds.
func (tf Timeframe) Seconds() int64 {
	return int64(tf.Value) * unitSeconds[tf.Unit]
}

// Minutes returns the nominal length of the timeframe in whole minutes.
func (tf Timeframe) Minutes() int {
	return int(tf.Seconds() / 60)
}

// Duration returns the nominal length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// IsCalendar reports whether buckets for this timeframe follow calendar
// months or years rather than a fixed width.
func (tf Timeframe) IsCalendar() bool {
	return tf.Minutes() >= MonthMinutes
}

// String returns the canonical timeframe label.
func (tf Timeframe) String() string {
	return strconv.Itoa(tf.Value) + string(tf.Unit)
}

// Minutes parses s and returns its length in minutes.
func Minutes(s string) (int, error) {
	tf, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return tf.Minutes(), nil
}

// Duration parses s and returns its nominal length.
func Duration(s string) (time.Duration, error) {
	tf, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return tf.Duration(), nil
}
