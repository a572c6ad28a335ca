package converter

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// rawColumns names the fields of a raw row in order.
var rawColumns = [...]string{"date", "open", "high", "low", "close", "volume"}

// toFloat coerces a raw numeric field to float64.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case decimal.Decimal:
		return n.InexactFloat64(), nil
	case string:
		s := strings.TrimSpace(n)
		if strings.EqualFold(s, "nan") {
			return math.NaN(), nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return d.InexactFloat64(), nil
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// toTimestamp coerces a raw timestamp, given in epoch milliseconds or as a
// time.Time, to a UTC instant.
func toTimestamp(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("zero time")
		}
		return t.UTC().Truncate(time.Millisecond), nil
	}

	var ms int64
	switch n := v.(type) {
	case int64:
		ms = n
	case int:
		ms = int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return time.Time{}, fmt.Errorf("not a timestamp: %q", n.String())
			}
			i = int64(f)
		}
		ms = i
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return time.Time{}, fmt.Errorf("not a timestamp: %q", n)
		}
		ms = d.IntPart()
	default:
		f, err := toFloat(v)
		if err != nil {
			return time.Time{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("not a finite timestamp")
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms).UTC(), nil
}
