package strategy

import (
	"math"

	"marlin/internal/frame"
)

// SafetyKind selects which leg a SafetySpec compiles into.
type SafetyKind string

const (
	SafetyTarget SafetyKind = "target"
	SafetyStop   SafetyKind = "stop"
)

// SafetyFunc computes the absolute trigger price for a leg from the entry
// price, the position side (+1 long, −1 short), and the entry row. ok is
// false when the leg cannot be armed for this entry (e.g. the referenced
// column is missing at that row).
type SafetyFunc func(entryPx float64, side int, f *frame.Frame, row int) (price float64, ok bool)

// CompileSafety turns a safety spec into a price function. A nil spec means
// the leg is disabled and yields a nil func. Prices snap to the tick grid by
// flooring toward negative infinity; the snap is deliberately asymmetric
// around zero and must stay that way for parity with recorded results.
func CompileSafety(spec *SafetySpec, kind SafetyKind, tick float64) SafetyFunc {
	if spec == nil {
		return nil
	}
	coeff := 1.0
	if kind == SafetyStop {
		coeff = -1.0
	}

	if term := spec.Fixed; term != nil {
		return func(entryPx float64, side int, f *frame.Frame, row int) (float64, bool) {
			// The reference value scales the offset: e.g. an ATR column for
			// volatility-sized stops. No column means a bare price offset.
			ref := 1.0
			if term.ColumnName != "" && f.Has(term.ColumnName) {
				ref = f.Cell(row, term.ColumnName)
			}
			offset := coeff * float64(side) * ref * term.Value
			price := entryPx + math.Floor(offset/tick)*tick
			if math.IsNaN(price) {
				return 0, false
			}
			return price, true
		}
	}

	term := spec.Percent
	return func(entryPx float64, side int, _ *frame.Frame, _ int) (float64, bool) {
		price := math.Floor(entryPx*(1+coeff*float64(side)*term.Value/100)/tick) * tick
		if math.IsNaN(price) {
			return 0, false
		}
		return price, true
	}
}

// Compiled is a Definition with every query turned into an evaluable
// function. Built once per run; the simulator only sees this form.
type Compiled struct {
	Name       string
	Indicators []IndicatorSpec
	LongEntry  Predicate
	ShortEntry Predicate
	LongExit   Predicate
	ShortExit  Predicate
	Target     SafetyFunc // nil when the leg is disabled
	Stop       SafetyFunc
}

// Compile builds the evaluable form of the definition for a given tick size.
func (d *Definition) Compile(tick float64) *Compiled {
	return &Compiled{
		Name:       d.Name,
		Indicators: d.Indicators,
		LongEntry:  Compile(d.LongEntry),
		ShortEntry: Compile(d.ShortEntry),
		LongExit:   Compile(d.LongExit),
		ShortExit:  Compile(d.ShortExit),
		Target:     CompileSafety(d.Target, SafetyTarget, tick),
		Stop:       CompileSafety(d.Stop, SafetyStop, tick),
	}
}
