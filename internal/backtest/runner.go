package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marlin/internal/domain"
	"marlin/internal/frame"
	"marlin/internal/indicator"
	"marlin/internal/store"
	"marlin/internal/strategy"
)

// Runner wires the pipeline for one backtest: load candles, build the frame,
// compute indicators, trim the warm-up, compile the strategy, simulate,
// summarize. Each Run call builds fresh state, so a single Runner is safe to
// share across concurrent requests.
type Runner struct {
	candles    store.CandleStore
	strategies store.StrategyStore
	log        *slog.Logger
}

// NewRunner creates a Runner over the given stores.
func NewRunner(candles store.CandleStore, strategies store.StrategyStore, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{candles: candles, strategies: strategies, log: log}
}

// Result is the output of one backtest run. Summary is nil when the run
// produced no trades.
type Result struct {
	Trades  []domain.Trade `json:"trades"`
	Summary *Summary       `json:"summary"`
}

// Run executes the named strategy over the symbol's candles in [start, end].
func (r *Runner) Run(ctx context.Context, symbol string, start, end time.Time, strategyName string, cfg domain.RunConfig) (*Result, error) {
	doc, err := r.strategies.GetStrategy(ctx, strategyName)
	if err != nil {
		return nil, fmt.Errorf("load strategy %q: %w", strategyName, err)
	}
	def, err := strategy.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse strategy %q: %w", strategyName, err)
	}
	return r.RunDefinition(ctx, symbol, start, end, def, cfg)
}

// RunDefinition executes an already-parsed strategy definition.
func (r *Runner) RunDefinition(ctx context.Context, symbol string, start, end time.Time, def *strategy.Definition, cfg domain.RunConfig) (*Result, error) {
	candles, err := r.candles.ReadCandles(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("read candles for %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s in [%s, %s]",
			symbol, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	f := frame.New(candles)
	if err := indicator.Apply(f, def.Indicators); err != nil {
		return nil, fmt.Errorf("apply indicators: %w", err)
	}
	f.TruncateLeadingIncomplete()

	compiled := def.Compile(domain.TickSize(symbol))
	bt := New(symbol, f, compiled, cfg)
	trades := bt.Run()

	r.log.Info("backtest complete",
		"symbol", symbol,
		"candles", len(candles),
		"rows", f.Len(),
		"trades", len(trades))

	res := &Result{Trades: trades}
	if len(trades) > 0 {
		res.Summary, err = Summarize(trades)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
