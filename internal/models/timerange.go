package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeRange is an inclusive time window. A zero Start or End is unbounded.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// HasStart reports whether the range has a lower bound.
func (r TimeRange) HasStart() bool { return !r.Start.IsZero() }

// HasEnd reports whether the range has an upper bound.
func (r TimeRange) HasEnd() bool { return !r.End.IsZero() }

// IsOpen reports whether neither bound is set.
func (r TimeRange) IsOpen() bool { return !r.HasStart() && !r.HasEnd() }

// Contains reports whether t falls within the range.
func (r TimeRange) Contains(t time.Time) bool {
	if r.HasStart() && t.Before(r.Start) {
		return false
	}
	if r.HasEnd() && t.After(r.End) {
		return false
	}
	return true
}

// SubtractStart returns a copy with a bounded start moved d earlier.
func (r TimeRange) SubtractStart(d time.Duration) TimeRange {
	if r.HasStart() {
		r.Start = r.Start.Add(-d)
	}
	return r
}

// String renders the range as "from-to" in unix seconds, leaving unbounded
// sides empty.
func (r TimeRange) String() string {
	var from, to string
	if r.HasStart() {
		from = strconv.FormatInt(r.Start.Unix(), 10)
	}
	if r.HasEnd() {
		to = strconv.FormatInt(r.End.Unix(), 10)
	}
	return from + "-" + to
}

// ParseTimeRange parses "from-to" where each side is empty, YYYYMMDD, unix
// seconds or unix milliseconds.
func ParseTimeRange(s string) (TimeRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeRange{}, nil
	}

	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return TimeRange{}, fmt.Errorf("invalid timerange %q: expected from-to", s)
	}

	start, err := parseTimeRangeBound(parts[0])
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid timerange start %q: %w", parts[0], err)
	}
	end, err := parseTimeRangeBound(parts[1])
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid timerange end %q: %w", parts[1], err)
	}

	r := TimeRange{Start: start, End: end}
	if r.HasStart() && r.HasEnd() && !r.Start.Before(r.End) {
		return TimeRange{}, fmt.Errorf("invalid timerange %q: start must be before end", s)
	}
	return r, nil
}

func parseTimeRangeBound(s string) (time.Time, error) {
	switch len(s) {
	case 0:
		return time.Time{}, nil
	case 8:
		return time.Parse("20060102", s)
	case 10:
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(sec, 0).UTC(), nil
	case 13:
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported date format")
	}
}
