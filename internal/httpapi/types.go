package httpapi

import (
	"marlin/internal/backtest"
	"marlin/internal/domain"
)

// BacktestRequest is the body of POST /api/backtest. Start and End accept
// RFC 3339 timestamps or plain dates (2006-01-02). Config fields left unset
// fall back to the server's configured defaults.
type BacktestRequest struct {
	Symbol       string           `json:"symbol"`
	Start        string           `json:"start"`
	End          string           `json:"end"`
	StrategyName string           `json:"strategyName"`
	Config       domain.RunConfig `json:"config"`
}

// BacktestResponse carries the ledger and its summary. Summary is null when
// the run produced no trades.
type BacktestResponse struct {
	Summary *backtest.Summary `json:"summary"`
	Trades  []domain.Trade    `json:"trades"`
	CSVPath string            `json:"csvPath,omitempty"`
}

// StrategyListResponse is the body of GET /api/strategy.
type StrategyListResponse struct {
	Strategies []string `json:"strategies"`
}

// StrategySavedResponse acknowledges a saved or updated strategy.
type StrategySavedResponse struct {
	Name string `json:"name"`
}
