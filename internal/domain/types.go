// Package domain defines the core types shared across the marlin backtesting
// platform: candles, positions, trades, and run configuration.
package domain

import "time"

// Market symbols with dedicated fee and PnL schedules. Any other symbol is
// simulated with linear PnL and zero fees.
const (
	SymbolXBTUSD = "XBTUSD" // inverse contract, quoted in USD, settled in XBT
	SymbolETHUSD = "ETHUSD" // quanto contract, 0.000001 XBT per 1 USD
)

// Candle is a single OHLC price bar. Candles are immutable once ingested and
// ordered ascending by timestamp within a symbol.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
}

// ExitReason tags a trade with what closed it.
type ExitReason string

const (
	ExitLong   ExitReason = "Long Exit"
	ExitShort  ExitReason = "Short Exit"
	ExitTarget ExitReason = "Target"
	ExitStop   ExitReason = "Stop"
)

// TradeResult records whether a closed trade made money.
type TradeResult string

const (
	ResultWon  TradeResult = "Won"
	ResultLost TradeResult = "Lost"
)

// AmountType selects how order quantity is derived from the run config.
type AmountType string

const (
	AmountFixed   AmountType = "fixed"   // Amount is the contract quantity
	AmountPercent AmountType = "percent" // Amount is a fraction of balance, leveraged
)

// RunConfig holds the simulation parameters for a single backtest run. It is
// loaded once per run and never mutated during the simulation.
type RunConfig struct {
	InitialCap float64    `json:"initialCap"`
	Leverage   float64    `json:"leverage"`
	AmountType AmountType `json:"amountType"`
	Amount     float64    `json:"amount"`
	Slippage   float64    `json:"slippage"` // price offset per fill, in ticks already scaled to price
	Fee        bool       `json:"fee"`
	OrderLimit float64    `json:"orderLimit"`
}

// Position is the simulator's single mutable state. It is either flat
// (IsOpen false, all other fields zero) or open. The simulator replaces it
// wholesale on every open and close.
type Position struct {
	IsOpen     bool
	EntryTime  time.Time
	Qty        float64 // signed; sign is the side
	AvgEntryPx float64
	TargetPx   *float64 // nil when the leg is disarmed
	StopPx     *float64
}

// Trade is one closed round trip, appended to the ledger on every exit.
// Prices are post-slippage. Balance and Drawdown are path-dependent running
// values at the time the trade closed.
type Trade struct {
	EntryTime time.Time   `json:"entryTime"`
	ExitTime  time.Time   `json:"exitTime"`
	Reason    ExitReason  `json:"type"`
	OrderQty  float64     `json:"orderQty"`
	EntryPx   float64     `json:"entryPx"`
	ExitPx    float64     `json:"exitPx"`
	Pnl       float64     `json:"pnl"`
	Fee       float64     `json:"fee"`
	Result    TradeResult `json:"result"`
	Balance   float64     `json:"balance"`
	Drawdown  float64     `json:"drawdown"` // percent below the running peak balance
	TargetPx  *float64    `json:"targetPx,omitempty"`
	StopPx    *float64    `json:"stopPx,omitempty"`
}

// TickSize returns the minimum price increment used to snap target and stop
// prices for the given symbol.
func TickSize(symbol string) float64 {
	switch symbol {
	case SymbolXBTUSD:
		return 0.5
	case SymbolETHUSD:
		return 0.05
	default:
		return 0.01
	}
}
