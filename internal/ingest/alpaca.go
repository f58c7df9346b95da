package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marlin/internal/domain"
	"marlin/internal/store"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// AlpacaSource backfills daily bars for configured equity symbols via the
// Alpaca market-data API. Equity symbols backtest with zero fees and linear
// PnL, so daily bars are enough resolution for them.
type AlpacaSource struct {
	client    *marketdata.Client
	store     store.CandleStore
	symbols   []string
	startDate string
	log       *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource with the given credentials and
// symbol list.
func NewAlpacaSource(apiKey, apiSecret string, symbols []string, startDate string, s store.CandleStore) *AlpacaSource {
	return &AlpacaSource{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		store:     s,
		symbols:   symbols,
		startDate: startDate,
		log:       slog.Default().With("source", "alpaca-daily"),
	}
}

// Name returns the source identifier.
func (s *AlpacaSource) Name() string { return "alpaca-daily" }

// Run fetches daily bars for every configured symbol from its newest stored
// candle (or the configured start date) to the present.
func (s *AlpacaSource) Run(ctx context.Context) error {
	configured, err := time.Parse("2006-01-02", s.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", s.startDate, err)
	}
	end := time.Now().UTC()

	for _, symbol := range s.symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		start := configured
		latest, err := s.store.LatestTimestamp(ctx, symbol)
		if err != nil {
			return fmt.Errorf("reading latest timestamp for %s: %w", symbol, err)
		}
		if !latest.IsZero() {
			start = latest.AddDate(0, 0, 1)
		}
		if !start.Before(end) {
			continue
		}

		bars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
		})
		if err != nil {
			return fmt.Errorf("GetBars %s: %w", symbol, err)
		}

		candles := make([]domain.Candle, 0, len(bars))
		for _, b := range bars {
			candles = append(candles, domain.Candle{
				Symbol:    strings.ToUpper(symbol),
				Timestamp: b.Timestamp.UTC(),
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
			})
		}
		if err := s.store.WriteCandles(ctx, candles); err != nil {
			return fmt.Errorf("writing candles for %s: %w", symbol, err)
		}
		s.log.Info("backfill done", "symbol", symbol, "bars", len(candles))
	}
	return nil
}
