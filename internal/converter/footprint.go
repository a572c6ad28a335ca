package converter

import (
	"math"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// ReduceFootprint downcasts non-protected columns using the default converter.
func ReduceFootprint(frame *models.Frame, protected ...string) *models.Frame {
	return defaultConverter.ReduceFootprint(frame, protected...)
}

// ReduceFootprint returns a copy of frame whose non-protected columns are
// stored at the narrowest width that holds their observed range. Integer
// columns shrink through int32, int16 and int8. Float64 columns become
// float32 when every finite value fits. When protected is empty the OHLCV
// columns are protected. Applying it twice gives the same result.
func (c *Converter) ReduceFootprint(frame *models.Frame, protected ...string) *models.Frame {
	if len(protected) == 0 {
		protected = models.OHLCVColumns
	}
	keep := make(map[string]bool, len(protected))
	for _, name := range protected {
		keep[name] = true
	}

	out := models.NewFrame(append([]time.Time(nil), frame.Timestamps...))
	for _, col := range frame.Columns() {
		if keep[col.Name()] {
			_ = out.Add(col)
			continue
		}
		_ = out.Add(col.Cast(narrowestKind(col)))
	}

	before, after := frame.MemoryUsage(), out.MemoryUsage()
	c.logger.Debug("reduced frame memory usage",
		"bytes_before", before,
		"bytes_after", after,
		"columns", len(frame.Columns()))

	return out
}

// minNormalFloat32 is the smallest normal float32. Smaller magnitudes lose
// precision or flush to zero.
const minNormalFloat32 = 0x1p-126

// narrowestKind returns the smallest kind that holds every value of col.
func narrowestKind(col *models.Column) models.Kind {
	n := col.Len()
	if n == 0 {
		return col.Kind()
	}

	if col.Kind().IsInteger() {
		lo, hi := col.Int(0), col.Int(0)
		for i := 1; i < n; i++ {
			v := col.Int(i)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		switch {
		case lo >= math.MinInt8 && hi <= math.MaxInt8:
			return models.KindInt8
		case lo >= math.MinInt16 && hi <= math.MaxInt16:
			return models.KindInt16
		case lo >= math.MinInt32 && hi <= math.MaxInt32:
			return models.KindInt32
		default:
			return models.KindInt64
		}
	}

	if col.Kind() == models.KindFloat32 {
		return models.KindFloat32
	}
	for i := 0; i < n; i++ {
		v := col.Float(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if a := math.Abs(v); a > math.MaxFloat32 || (a != 0 && a < minNormalFloat32) {
			return models.KindFloat64
		}
	}
	return models.KindFloat32
}
