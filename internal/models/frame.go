package models

import (
	"fmt"
	"math"
	"time"
)

// Standard OHLCV column names.
const (
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// OHLCVColumns are the columns every candle-derived frame carries.
var OHLCVColumns = []string{ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume}

// Kind is the storage width of a column.
type Kind uint8

const (
	KindFloat64 Kind = iota
	KindFloat32
	KindInt64
	KindInt32
	KindInt16
	KindInt8
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindFloat64:
		return "float64"
	case KindFloat32:
		return "float32"
	case KindInt64:
		return "int64"
	case KindInt32:
		return "int32"
	case KindInt16:
		return "int16"
	case KindInt8:
		return "int8"
	default:
		return "unknown"
	}
}

// Size returns the byte width of one value of this kind.
func (k Kind) Size() int {
	switch k {
	case KindFloat64, KindInt64:
		return 8
	case KindFloat32, KindInt32:
		return 4
	case KindInt16:
		return 2
	case KindInt8:
		return 1
	default:
		return 0
	}
}

// IsInteger reports whether the kind stores integers.
func (k Kind) IsInteger() bool {
	return k == KindInt64 || k == KindInt32 || k == KindInt16 || k == KindInt8
}

// Column is a named, typed numeric series. Exactly one backing slice is
// populated, matching Kind.
type Column struct {
	name string
	kind Kind
	f64  []float64
	f32  []float32
	i64  []int64
	i32  []int32
	i16  []int16
	i8   []int8
}

// NewFloatColumn creates a float64 column. The slice is not copied.
func NewFloatColumn(name string, values []float64) *Column {
	return &Column{name: name, kind: KindFloat64, f64: values}
}

// NewIntColumn creates an int64 column. The slice is not copied.
func NewIntColumn(name string, values []int64) *Column {
	return &Column{name: name, kind: KindInt64, i64: values}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the storage width of the column.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values.
func (c *Column) Len() int {
	switch c.kind {
	case KindFloat64:
		return len(c.f64)
	case KindFloat32:
		return len(c.f32)
	case KindInt64:
		return len(c.i64)
	case KindInt32:
		return len(c.i32)
	case KindInt16:
		return len(c.i16)
	case KindInt8:
		return len(c.i8)
	}
	return 0
}

// Float returns value i widened to float64.
func (c *Column) Float(i int) float64 {
	switch c.kind {
	case KindFloat64:
		return c.f64[i]
	case KindFloat32:
		return float64(c.f32[i])
	case KindInt64:
		return float64(c.i64[i])
	case KindInt32:
		return float64(c.i32[i])
	case KindInt16:
		return float64(c.i16[i])
	case KindInt8:
		return float64(c.i8[i])
	}
	return math.NaN()
}

// Int returns value i widened to int64. Float columns are truncated.
func (c *Column) Int(i int) int64 {
	switch c.kind {
	case KindInt64:
		return c.i64[i]
	case KindInt32:
		return int64(c.i32[i])
	case KindInt16:
		return int64(c.i16[i])
	case KindInt8:
		return int64(c.i8[i])
	}
	return int64(c.Float(i))
}

// Floats returns a float64 copy of all values.
func (c *Column) Floats() []float64 {
	out := make([]float64, c.Len())
	for i := range out {
		out[i] = c.Float(i)
	}
	return out
}

// Bytes returns the memory used by the column values.
func (c *Column) Bytes() int {
	return c.Len() * c.kind.Size()
}

// Slice returns a copy of rows [from, to).
func (c *Column) Slice(from, to int) *Column {
	out := &Column{name: c.name, kind: c.kind}
	switch c.kind {
	case KindFloat64:
		out.f64 = append([]float64(nil), c.f64[from:to]...)
	case KindFloat32:
		out.f32 = append([]float32(nil), c.f32[from:to]...)
	case KindInt64:
		out.i64 = append([]int64(nil), c.i64[from:to]...)
	case KindInt32:
		out.i32 = append([]int32(nil), c.i32[from:to]...)
	case KindInt16:
		out.i16 = append([]int16(nil), c.i16[from:to]...)
	case KindInt8:
		out.i8 = append([]int8(nil), c.i8[from:to]...)
	}
	return out
}

// Cast converts the column to the target kind. Callers are responsible for
// checking that the values fit.
func (c *Column) Cast(kind Kind) *Column {
	if kind == c.kind {
		return c.Slice(0, c.Len())
	}
	n := c.Len()
	out := &Column{name: c.name, kind: kind}
	switch kind {
	case KindFloat64:
		out.f64 = make([]float64, n)
		for i := 0; i < n; i++ {
			out.f64[i] = c.Float(i)
		}
	case KindFloat32:
		out.f32 = make([]float32, n)
		for i := 0; i < n; i++ {
			out.f32[i] = float32(c.Float(i))
		}
	case KindInt64:
		out.i64 = make([]int64, n)
		for i := 0; i < n; i++ {
			out.i64[i] = c.Int(i)
		}
	case KindInt32:
		out.i32 = make([]int32, n)
		for i := 0; i < n; i++ {
			out.i32[i] = int32(c.Int(i))
		}
	case KindInt16:
		out.i16 = make([]int16, n)
		for i := 0; i < n; i++ {
			out.i16[i] = int16(c.Int(i))
		}
	case KindInt8:
		out.i8 = make([]int8, n)
		for i := 0; i < n; i++ {
			out.i8[i] = int8(c.Int(i))
		}
	}
	return out
}

// Frame is a time-indexed columnar table. Column order is preserved.
type Frame struct {
	Timestamps []time.Time
	columns    []*Column
	index      map[string]int
}

// NewFrame creates a frame over the given timestamp index.
func NewFrame(timestamps []time.Time) *Frame {
	return &Frame{
		Timestamps: timestamps,
		index:      make(map[string]int),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Timestamps)
}

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool {
	return f.Len() == 0
}

// Add inserts or replaces a column. The column length must match the index.
func (f *Frame) Add(col *Column) error {
	if col.Len() != len(f.Timestamps) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", col.name, col.Len(), len(f.Timestamps))
	}
	if i, ok := f.index[col.name]; ok {
		f.columns[i] = col
		return nil
	}
	f.index[col.name] = len(f.columns)
	f.columns = append(f.columns, col)
	return nil
}

func (f *Frame) mustAdd(col *Column) {
	if err := f.Add(col); err != nil {
		panic(err)
	}
}

// AddFloat adds a float64 column.
func (f *Frame) AddFloat(name string, values []float64) error {
	return f.Add(NewFloatColumn(name, values))
}

// AddInt adds an int64 column.
func (f *Frame) AddInt(name string, values []int64) error {
	return f.Add(NewIntColumn(name, values))
}

// Column returns the named column, or nil.
func (f *Frame) Column(name string) *Column {
	i, ok := f.index[name]
	if !ok {
		return nil
	}
	return f.columns[i]
}

// Floats returns the named column as float64 values, or nil when absent.
func (f *Frame) Floats(name string) []float64 {
	col := f.Column(name)
	if col == nil {
		return nil
	}
	return col.Floats()
}

// Columns returns the columns in insertion order.
func (f *Frame) Columns() []*Column {
	return f.columns
}

// Names returns the column names in insertion order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.name
	}
	return names
}

// Row returns row i keyed by column name.
func (f *Frame) Row(i int) map[string]float64 {
	row := make(map[string]float64, len(f.columns))
	for _, c := range f.columns {
		row[c.name] = c.Float(i)
	}
	return row
}

// LastRow returns the final timestamp and row. ok is false on an empty frame.
func (f *Frame) LastRow() (ts time.Time, row map[string]float64, ok bool) {
	if f.Empty() {
		return time.Time{}, nil, false
	}
	last := f.Len() - 1
	return f.Timestamps[last], f.Row(last), true
}

// Slice returns a copy of rows [from, to).
func (f *Frame) Slice(from, to int) *Frame {
	ts := append([]time.Time(nil), f.Timestamps[from:to]...)
	out := NewFrame(ts)
	for _, c := range f.columns {
		out.mustAdd(c.Slice(from, to))
	}
	return out
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	return f.Slice(0, f.Len())
}

// MemoryUsage returns the bytes used by the index and all columns.
func (f *Frame) MemoryUsage() int {
	total := len(f.Timestamps) * 8
	for _, c := range f.columns {
		total += c.Bytes()
	}
	return total
}

// IndicatorSet maps a pair to its indicator frame.
type IndicatorSet map[string]*Frame
