// Package frame provides a columnar store for index-aligned time series.
// A Frame holds the timestamp column plus any number of named float64
// columns (OHLC prices and indicator outputs), all of identical length.
// Missing values are represented as NaN, never as zero.
package frame

import (
	"fmt"
	"math"
	"time"

	"marlin/internal/domain"
)

// Built-in price column names.
const (
	ColOpen  = "open"
	ColHigh  = "high"
	ColLow   = "low"
	ColClose = "close"
)

// UnknownColumnError reports a lookup against a column that does not exist.
type UnknownColumnError struct {
	Name string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("frame: no column named %q", e.Name)
}

// DimensionError reports a column insert whose length does not match the
// frame's existing rows.
type DimensionError struct {
	Name string
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("frame: column %q has %d values, frame has %d rows", e.Name, e.Got, e.Want)
}

// Missing returns the sentinel for a missing cell.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the missing-value sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Frame is a columnar series store. It is built once per backtest run and
// treated as read-only by the simulator after truncation.
type Frame struct {
	timestamps []time.Time
	columns    map[string][]float64
	order      []string // insertion order, for deterministic enumeration
}

// New builds a Frame from candles, creating the open/high/low/close columns
// aligned to the timestamp column.
func New(candles []domain.Candle) *Frame {
	f := &Frame{
		timestamps: make([]time.Time, 0, len(candles)),
		columns:    make(map[string][]float64),
	}
	open := make([]float64, 0, len(candles))
	high := make([]float64, 0, len(candles))
	low := make([]float64, 0, len(candles))
	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		f.timestamps = append(f.timestamps, c.Timestamp)
		open = append(open, c.Open)
		high = append(high, c.High)
		low = append(low, c.Low)
		closes = append(closes, c.Close)
	}
	f.setColumn(ColOpen, open)
	f.setColumn(ColHigh, high)
	f.setColumn(ColLow, low)
	f.setColumn(ColClose, closes)
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.timestamps) }

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.columns[name]
	return ok
}

// AddColumn creates or replaces a column. The values slice must match the
// frame's row count once any rows exist.
func (f *Frame) AddColumn(name string, values []float64) error {
	if f.Len() > 0 && len(values) != f.Len() {
		return &DimensionError{Name: name, Got: len(values), Want: f.Len()}
	}
	f.setColumn(name, values)
	return nil
}

func (f *Frame) setColumn(name string, values []float64) {
	if _, exists := f.columns[name]; !exists {
		f.order = append(f.order, name)
	}
	f.columns[name] = values
}

// Column returns the backing slice for a column. Callers must not mutate it
// during a simulation run.
func (f *Frame) Column(name string) ([]float64, error) {
	col, ok := f.columns[name]
	if !ok {
		return nil, &UnknownColumnError{Name: name}
	}
	return col, nil
}

// Value returns the cell at row i of the named column.
func (f *Frame) Value(i int, name string) (float64, error) {
	col, ok := f.columns[name]
	if !ok {
		return 0, &UnknownColumnError{Name: name}
	}
	return col[i], nil
}

// Cell returns the cell at row i of the named column, or the missing
// sentinel when the column does not exist. Condition evaluation uses this:
// referencing an absent column is not an error there, it simply never fires.
func (f *Frame) Cell(i int, name string) float64 {
	col, ok := f.columns[name]
	if !ok {
		return Missing()
	}
	return col[i]
}

// Timestamp returns the timestamp of row i.
func (f *Frame) Timestamp(i int) time.Time { return f.timestamps[i] }

// Lookback returns up to count+1 values of the named column ending at row i,
// most-recent-first. The window is clipped at the start of the series, so the
// result holds min(count, i)+1 values and its first element is always the
// value at row i.
func (f *Frame) Lookback(i int, name string, count int) ([]float64, error) {
	col, ok := f.columns[name]
	if !ok {
		return nil, &UnknownColumnError{Name: name}
	}
	start := i - count
	if start < 0 {
		start = 0
	}
	window := col[start : i+1]
	out := make([]float64, len(window))
	for j, v := range window {
		out[len(window)-1-j] = v
	}
	return out, nil
}

// TruncateLeadingIncomplete removes rows [0, t] where t is the last row that
// contains a missing value in any column. This is a single prefix trim
// matching indicator warm-up: an SMA(20) column is missing for its first 19
// rows, so the first 19 rows of every column go. When no row has a missing
// value, nothing is removed.
func (f *Frame) TruncateLeadingIncomplete() {
	last := -1
	for i := 0; i < f.Len(); i++ {
		for _, name := range f.order {
			if IsMissing(f.columns[name][i]) {
				last = i
				break
			}
		}
	}
	if last < 0 {
		return
	}
	f.timestamps = f.timestamps[last+1:]
	for _, name := range f.order {
		f.columns[name] = f.columns[name][last+1:]
	}
}
