// Package indicator computes technical indicator columns over a frame's
// close prices (ATR also reads high/low) and appends them to the frame. The
// numeric formulas come from go-talib; this adapter's contract is only that
// every output column has one value per input row, with the missing sentinel
// during the indicator's warm-up.
package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"marlin/internal/frame"
	"marlin/internal/strategy"
)

// Apply computes every requested indicator and adds the resulting columns to
// the frame. For macd and bb the column names are suffixed sub-columns
// (name:MACD, name:signal, ... / name:upper, name:middle, name:lower,
// name:pb).
func Apply(f *frame.Frame, specs []strategy.IndicatorSpec) error {
	for _, spec := range specs {
		if err := apply(f, spec); err != nil {
			return fmt.Errorf("indicator %q: %w", spec.Name, err)
		}
	}
	return nil
}

func apply(f *frame.Frame, spec strategy.IndicatorSpec) error {
	closes, err := f.Column(frame.ColClose)
	if err != nil {
		return err
	}
	in := spec.Input

	switch spec.Kind {
	case strategy.IndSMA:
		return f.AddColumn(spec.Name, mask(talib.Sma(closes, in.Period), in.Period-1))

	case strategy.IndEMA:
		return f.AddColumn(spec.Name, mask(talib.Ema(closes, in.Period), in.Period-1))

	case strategy.IndRSI:
		return f.AddColumn(spec.Name, mask(talib.Rsi(closes, in.Period), in.Period))

	case strategy.IndATR:
		high, err := f.Column(frame.ColHigh)
		if err != nil {
			return err
		}
		low, err := f.Column(frame.ColLow)
		if err != nil {
			return err
		}
		return f.AddColumn(spec.Name, mask(talib.Atr(high, low, closes, in.Period), in.Period))

	case strategy.IndMACD:
		macd, signal, hist := talib.Macd(closes, in.FastPeriod, in.SlowPeriod, in.SignalPeriod)
		// The MACD line warms up after the slow EMA; signal and histogram
		// need a further signal-period of MACD values.
		lineWarm := in.SlowPeriod - 1
		signalWarm := in.SlowPeriod + in.SignalPeriod - 2
		if err := f.AddColumn(spec.Name+":MACD", mask(macd, lineWarm)); err != nil {
			return err
		}
		if err := f.AddColumn(spec.Name+":signal", mask(signal, signalWarm)); err != nil {
			return err
		}
		return f.AddColumn(spec.Name+":histogram", mask(hist, signalWarm))

	case strategy.IndBB:
		upper, middle, lower := talib.BBands(closes, in.Period, in.StdDev, in.StdDev, talib.SMA)
		warm := in.Period - 1
		upper = mask(upper, warm)
		middle = mask(middle, warm)
		lower = mask(lower, warm)
		// Percent-b locates the close inside the band: (close−lower)/(upper−lower).
		pb := make([]float64, len(closes))
		for i := range pb {
			pb[i] = (closes[i] - lower[i]) / (upper[i] - lower[i])
		}
		if err := f.AddColumn(spec.Name+":upper", upper); err != nil {
			return err
		}
		if err := f.AddColumn(spec.Name+":middle", middle); err != nil {
			return err
		}
		if err := f.AddColumn(spec.Name+":lower", lower); err != nil {
			return err
		}
		return f.AddColumn(spec.Name+":pb", pb)

	default:
		return fmt.Errorf("unsupported kind %q", spec.Kind)
	}
}

// mask overwrites the first warm values with the missing sentinel. go-talib
// fills the warm-up prefix with zeros, which the frame must not mistake for
// real values.
func mask(values []float64, warm int) []float64 {
	for i := 0; i < warm && i < len(values); i++ {
		values[i] = frame.Missing()
	}
	return values
}
