// Package backtest simulates a compiled strategy over a candle frame and
// aggregates the resulting trade ledger. The simulator is a sequential state
// machine: one pass over the rows, at most one open position, no shared
// state between runs.
package backtest

import (
	"math"
	"math/rand"
	"time"

	"marlin/internal/domain"
	"marlin/internal/frame"
	"marlin/internal/strategy"
)

// Fee schedule for the two instruments with a dedicated model. Entry, exit,
// and stop fills are market orders (taker); target fills are limit orders
// (maker, rebated). Every other symbol trades fee-free in simulation.
const (
	takerFee = 0.00075
	makerFee = 0.00025

	// ETHUSD is a quanto contract worth 0.000001 XBT per 1 USD of price.
	ethContractMult = 0.000001
)

// Backtester runs a compiled strategy against a frame. Construct one per
// run; it owns its position and ledger exclusively, so independent runs can
// execute in parallel on separate instances.
type Backtester struct {
	frame    *frame.Frame
	strat    *strategy.Compiled
	symbol   string
	config   domain.RunConfig
	position domain.Position
	trades   []domain.Trade
	balance  float64
	peak     float64
	randFn   func() float64
}

// New creates a Backtester. Zero-valued config fields fall back to the
// defaults: capital 1, leverage 10, fixed amount 5000, no slippage, fees
// off, order limit 1e6.
func New(symbol string, f *frame.Frame, strat *strategy.Compiled, cfg domain.RunConfig) *Backtester {
	applyDefaults(&cfg)
	return &Backtester{
		frame:   f,
		strat:   strat,
		symbol:  symbol,
		config:  cfg,
		balance: cfg.InitialCap,
		peak:    math.Inf(-1),
		randFn:  rand.Float64,
	}
}

func applyDefaults(cfg *domain.RunConfig) {
	if cfg.InitialCap == 0 {
		cfg.InitialCap = 1
	}
	if cfg.Leverage == 0 {
		cfg.Leverage = 10
	}
	if cfg.AmountType == "" {
		cfg.AmountType = domain.AmountFixed
	}
	if cfg.Amount == 0 {
		cfg.Amount = 5000
	}
	if cfg.OrderLimit == 0 {
		cfg.OrderLimit = 1000000
	}
}

// SetRand replaces the randomness source used for the entry slippage
// direction. The default is math/rand; tests inject a fixed source to make
// runs deterministic.
func (b *Backtester) SetRand(fn func() float64) {
	b.randFn = fn
}

// Run iterates the frame in time order and returns the trade ledger. A row
// is handled exit-first: safety legs, then explicit exit conditions, then
// (if flat) entry conditions, so a single row may close one position and
// open the next. A position still open at the end of the series is dropped,
// not force-closed.
func (b *Backtester) Run() []domain.Trade {
	for i := 0; i < b.frame.Len(); i++ {
		high := b.frame.Cell(i, frame.ColHigh)
		low := b.frame.Cell(i, frame.ColLow)
		closePx := b.frame.Cell(i, frame.ColClose)
		ts := b.frame.Timestamp(i)

		if b.position.IsOpen {
			var reason domain.ExitReason
			var exitPx float64

			if b.strat.Target != nil || b.strat.Stop != nil {
				if r, ok := b.checkSafety(high, low); ok {
					reason = r
					if r == domain.ExitTarget {
						exitPx = *b.position.TargetPx
					} else {
						exitPx = *b.position.StopPx
					}
				}
			}
			if reason == "" {
				if b.position.Qty > 0 && b.strat.LongExit(b.frame, i) {
					reason, exitPx = domain.ExitLong, closePx
				} else if b.position.Qty < 0 && b.strat.ShortExit(b.frame, i) {
					reason, exitPx = domain.ExitShort, closePx
				}
			}
			if reason != "" && exitPx != 0 {
				b.exitPosition(ts, exitPx, reason)
			}
		}

		if !b.position.IsOpen {
			var side int
			switch {
			case b.strat.LongEntry(b.frame, i):
				side = 1
			case b.strat.ShortEntry(b.frame, i):
				side = -1
			default:
				continue
			}
			b.enterPosition(ts, closePx, side, i)
		}
	}
	return b.trades
}

// checkSafety tests the armed legs against the row's extremes. The stop is
// checked first: when one candle spans both trigger prices the pessimistic
// fill wins.
func (b *Backtester) checkSafety(high, low float64) (domain.ExitReason, bool) {
	qty := b.position.Qty
	if sp := b.position.StopPx; sp != nil &&
		((qty > 0 && low <= *sp) || (qty < 0 && high >= *sp)) {
		return domain.ExitStop, true
	}
	if tp := b.position.TargetPx; tp != nil &&
		((qty > 0 && high >= *tp) || (qty < 0 && low <= *tp)) {
		return domain.ExitTarget, true
	}
	return "", false
}

// enterPosition opens a position at the row close, sized per the config and
// capped at the order limit, with optional safety legs computed from the
// entry row.
func (b *Backtester) enterPosition(ts time.Time, entryPx float64, side int, row int) {
	qty := b.quantity(entryPx)
	if qty > b.config.OrderLimit {
		qty = b.config.OrderLimit
	}
	qty *= float64(side)

	var targetPx, stopPx *float64
	if b.strat.Target != nil {
		if px, ok := b.strat.Target(entryPx, side, b.frame, row); ok && px != 0 {
			targetPx = &px
		}
	}
	if b.strat.Stop != nil {
		if px, ok := b.strat.Stop(entryPx, side, b.frame, row); ok && px != 0 {
			stopPx = &px
		}
	}

	b.position = domain.Position{
		IsOpen:     true,
		EntryTime:  ts,
		Qty:        qty,
		AvgEntryPx: entryPx,
		TargetPx:   targetPx,
		StopPx:     stopPx,
	}
}

// quantity derives the unsigned order quantity. Fixed mode is a flat
// contract count; percent mode converts a balance fraction into contracts
// using the symbol's quoting convention.
func (b *Backtester) quantity(entryPx float64) float64 {
	cfg := b.config
	if cfg.AmountType == domain.AmountFixed {
		return cfg.Amount
	}
	switch b.symbol {
	case domain.SymbolXBTUSD:
		// Inverse contract: 1 contract = 1 USD, balance is in XBT.
		return math.Floor(entryPx * b.balance * cfg.Amount * cfg.Leverage)
	case domain.SymbolETHUSD:
		return b.balance * cfg.Amount * cfg.Leverage * 1000000 / entryPx
	default:
		return b.balance * cfg.Amount * cfg.Leverage / entryPx
	}
}

// exitPosition closes the open position: applies slippage, fees, and the
// symbol's PnL formula, updates balance and drawdown, appends the trade, and
// resets to flat.
func (b *Backtester) exitPosition(ts time.Time, exitPx float64, reason domain.ExitReason) {
	if !b.position.IsOpen {
		return
	}
	pos := b.position
	slip := b.config.Slippage

	coeff := 1.0
	if pos.Qty < 0 {
		coeff = -1.0
	}

	// Entry fills slip against the position 80% of the time, with it 20%.
	entrySlip := coeff
	if b.randFn() > 0.8 {
		entrySlip = -coeff
	}
	entryPx := pos.AvgEntryPx + entrySlip*slip

	// Target exits fill as resting limit orders; everything else crosses the
	// spread and pays slippage.
	exitAfterSlip := exitPx
	if reason != domain.ExitTarget {
		exitAfterSlip -= coeff * slip
	}

	var fee float64
	if b.config.Fee {
		fee = b.fee(pos.Qty, pos.AvgEntryPx, exitAfterSlip, reason)
	}

	pnl := b.pnl(pos.Qty, entryPx, exitAfterSlip) - fee
	b.balance += pnl
	if b.balance > b.peak {
		b.peak = b.balance
	}

	result := domain.ResultLost
	if pnl > 0 {
		result = domain.ResultWon
	}

	b.trades = append(b.trades, domain.Trade{
		EntryTime: pos.EntryTime,
		ExitTime:  ts,
		Reason:    reason,
		OrderQty:  pos.Qty,
		EntryPx:   entryPx,
		ExitPx:    exitAfterSlip,
		Pnl:       pnl,
		Fee:       fee,
		Result:    result,
		Balance:   b.balance,
		Drawdown:  (b.balance/b.peak - 1) * 100,
		TargetPx:  pos.TargetPx,
		StopPx:    pos.StopPx,
	})

	b.position = domain.Position{}
}

// fee computes the round-trip commission. XBTUSD contracts are USD-sized and
// inverse-quoted, so fees convert through price; ETHUSD is quanto-sized.
func (b *Backtester) fee(qty, entryPx, exitPx float64, reason domain.ExitReason) float64 {
	absQty := math.Abs(qty)
	switch b.symbol {
	case domain.SymbolXBTUSD:
		fee := absQty / entryPx * takerFee
		if reason != domain.ExitTarget {
			fee += absQty / exitPx * takerFee
		} else {
			fee += -absQty / exitPx * makerFee
		}
		return fee
	case domain.SymbolETHUSD:
		fee := math.Abs(qty*entryPx*ethContractMult) * takerFee
		if reason != domain.ExitTarget {
			fee += math.Abs(qty*exitPx*ethContractMult) * takerFee
		} else {
			fee += -math.Abs(qty*exitPx*ethContractMult) * makerFee
		}
		return fee
	default:
		return 0
	}
}

// pnl applies the symbol's settlement formula to a signed quantity.
func (b *Backtester) pnl(qty, entryPx, exitPx float64) float64 {
	switch b.symbol {
	case domain.SymbolXBTUSD:
		return qty * (1/entryPx - 1/exitPx)
	case domain.SymbolETHUSD:
		return (exitPx - entryPx) * ethContractMult * qty
	default:
		return (exitPx - entryPx) * qty
	}
}
