package timeframe

import (
	"time"
)

// Bucketer maps timestamps onto the resampling grid of a timeframe.
type Bucketer interface {
	// Floor returns the start of the bucket containing t.
	Floor(t time.Time) time.Time
	// Next returns the start of the bucket following the one starting at b.
	Next(b time.Time) time.Time
}

// BucketerFor returns the bucketing policy for tf with the grid anchored
// relative to origin, normally the first row of a series.
//
// Timeframes shorter than a month use fixed-width buckets anchored at the UTC
// midnight of origin's day. Timeframes of at least a month and less than a
// year use calendar months counted from the first of origin's month. Longer
// timeframes use calendar years counted from January 1 of origin's year.
func BucketerFor(tf Timeframe, origin time.Time) Bucketer {
	origin = origin.UTC()
	minutes := tf.Minutes()

	switch {
	case minutes >= YearMinutes:
		step := tf.Value
		if tf.Unit != 'y' {
			step = minutes / YearMinutes
		}
		return yearBucketer{
			origin: time.Date(origin.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
			step:   step,
		}
	case minutes >= MonthMinutes:
		step := tf.Value
		if tf.Unit != 'M' {
			step = minutes / MonthMinutes
		}
		return monthBucketer{
			origin: time.Date(origin.Year(), origin.Month(), 1, 0, 0, 0, 0, time.UTC),
			step:   step,
		}
	default:
		return fixedBucketer{
			origin: time.Date(origin.Year(), origin.Month(), origin.Day(), 0, 0, 0, 0, time.UTC),
			width:  tf.Duration(),
		}
	}
}

type fixedBucketer struct {
	origin time.Time
	width  time.Duration
}

func (b fixedBucketer) Floor(t time.Time) time.Time {
	offset := t.UTC().Sub(b.origin)
	n := offset / b.width
	if offset < 0 && offset%b.width != 0 {
		n--
	}
	return b.origin.Add(n * b.width)
}

func (b fixedBucketer) Next(start time.Time) time.Time {
	return start.Add(b.width)
}

type monthBucketer struct {
	origin time.Time
	step   int
}

func (b monthBucketer) Floor(t time.Time) time.Time {
	t = t.UTC()
	months := (t.Year()-b.origin.Year())*12 + int(t.Month()) - int(b.origin.Month())
	return b.origin.AddDate(0, floorMultiple(months, b.step), 0)
}

func (b monthBucketer) Next(start time.Time) time.Time {
	return start.AddDate(0, b.step, 0)
}

type yearBucketer struct {
	origin time.Time
	step   int
}

func (b yearBucketer) Floor(t time.Time) time.Time {
	years := t.UTC().Year() - b.origin.Year()
	return b.origin.AddDate(floorMultiple(years, b.step), 0, 0)
}

func (b yearBucketer) Next(start time.Time) time.Time {
	return start.AddDate(b.step, 0, 0)
}

// floorMultiple rounds n down to a multiple of step.
func floorMultiple(n, step int) int {
	q := n / step
	if n < 0 && n%step != 0 {
		q--
	}
	return q * step
}
