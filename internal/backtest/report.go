package backtest

import (
	"encoding/json"
	"errors"
	"math"

	"marlin/internal/domain"
)

// ErrEmptyLedger is returned by Summarize when there are no trades to
// aggregate.
var ErrEmptyLedger = errors.New("backtest: empty trade ledger")

// Summary aggregates a trade ledger. The average fields are NaN when their
// bucket is empty; callers treat NaN as "no data". JSON encoding renders
// those as null.
type Summary struct {
	TotalTrades  int     `json:"totalTrades"`
	Won          int     `json:"won"`
	Lost         int     `json:"lost"`
	NetPnl       float64 `json:"netPnl"`
	GrossWonPnl  float64 `json:"grossWonPnl"`
	GrossLostPnl float64 `json:"grossLostPnl"`
	AvgWonPnl    float64 `json:"avgWonPnl"`
	AvgLostPnl   float64 `json:"avgLostPnl"`
	MaxDrawdown  float64 `json:"maxDrawdown"`
	Balance      float64 `json:"balance"`
}

// MarshalJSON encodes NaN averages as null, since encoding/json rejects NaN
// outright.
func (s *Summary) MarshalJSON() ([]byte, error) {
	type alias Summary
	wire := struct {
		*alias
		AvgWonPnl  *float64 `json:"avgWonPnl"`
		AvgLostPnl *float64 `json:"avgLostPnl"`
	}{alias: (*alias)(s)}
	if !math.IsNaN(s.AvgWonPnl) {
		wire.AvgWonPnl = &s.AvgWonPnl
	}
	if !math.IsNaN(s.AvgLostPnl) {
		wire.AvgLostPnl = &s.AvgLostPnl
	}
	return json.Marshal(wire)
}

// Summarize reduces a ledger to a Summary. Trades are classified by the sign
// of their pnl: strictly positive is won, everything else lost. MaxDrawdown
// is the most negative drawdown seen, never above zero.
func Summarize(trades []domain.Trade) (*Summary, error) {
	if len(trades) == 0 {
		return nil, ErrEmptyLedger
	}
	s := &Summary{TotalTrades: len(trades)}
	for _, t := range trades {
		if t.Pnl > 0 {
			s.Won++
			s.GrossWonPnl += t.Pnl
		} else {
			s.Lost++
			s.GrossLostPnl += t.Pnl
		}
		if t.Drawdown < s.MaxDrawdown {
			s.MaxDrawdown = t.Drawdown
		}
	}
	s.NetPnl = s.GrossWonPnl + s.GrossLostPnl
	s.AvgWonPnl = s.GrossWonPnl / float64(s.Won)
	s.AvgLostPnl = s.GrossLostPnl / float64(s.Lost)
	s.Balance = trades[len(trades)-1].Balance
	return s, nil
}
