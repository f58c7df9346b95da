package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"marlin/internal/domain"
	"marlin/internal/store"
	"marlin/internal/util"
)

// Compile-time interface check.
var _ Source = (*BitMEXSource)(nil)

// DefaultBitMEXURL is the production BitMEX REST endpoint.
const DefaultBitMEXURL = "https://www.bitmex.com/api/v1"

// pageSize is the maximum candle count per trade/bucketed request.
const pageSize = 750

// BitMEXSource backfills bucketed candles from the BitMEX public REST API.
// It pages backward from the present until it reaches the newest stored
// candle (or the configured start date on first run), so repeated runs only
// fetch the gap.
type BitMEXSource struct {
	baseURL    string
	httpc      *http.Client
	store      store.CandleStore
	symbols    []string
	binSize    string
	startDate  string
	limiter    *util.RateLimiter
	maxRetries int
	log        *slog.Logger
}

// NewBitMEXSource creates a BitMEXSource. binSize must be one of 1m, 5m, 1h,
// 1d. An empty baseURL selects the production endpoint.
func NewBitMEXSource(baseURL string, symbols []string, binSize, startDate string, rateLimitPerMin, maxRetries int, s store.CandleStore) (*BitMEXSource, error) {
	if _, ok := binSizes[binSize]; !ok {
		return nil, fmt.Errorf("ingest: unsupported bin size %q", binSize)
	}
	if baseURL == "" {
		baseURL = DefaultBitMEXURL
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 30 // unauthenticated public limit
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &BitMEXSource{
		baseURL:    baseURL,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		store:      s,
		symbols:    symbols,
		binSize:    binSize,
		startDate:  startDate,
		limiter:    util.NewRateLimiter(rateLimitPerMin),
		maxRetries: maxRetries,
		log:        slog.Default().With("source", "bitmex"),
	}, nil
}

// Name returns the source identifier.
func (s *BitMEXSource) Name() string { return "bitmex" }

// Run backfills every configured symbol in turn.
func (s *BitMEXSource) Run(ctx context.Context) error {
	for _, symbol := range s.symbols {
		if err := s.backfill(ctx, symbol); err != nil {
			return fmt.Errorf("backfilling %s: %w", symbol, err)
		}
	}
	return nil
}

// bucketedCandle is one element of the trade/bucketed response.
type bucketedCandle struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
}

func (s *BitMEXSource) backfill(ctx context.Context, symbol string) error {
	since, err := s.store.LatestTimestamp(ctx, symbol)
	if err != nil {
		return fmt.Errorf("reading latest timestamp: %w", err)
	}
	if since.IsZero() {
		since, err = time.Parse("2006-01-02", s.startDate)
		if err != nil {
			return fmt.Errorf("parsing start date %q: %w", s.startDate, err)
		}
	}

	bin := binSizes[s.binSize]
	cursor := time.Now().UTC()
	var total int

	for cursor.After(since) {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		var page []bucketedCandle
		err := util.Retry(ctx, s.maxRetries, time.Second, func() error {
			var ferr error
			page, ferr = s.fetchPage(ctx, symbol, cursor)
			return ferr
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		candles := make([]domain.Candle, 0, len(page))
		for _, b := range page {
			if !b.Timestamp.After(since) {
				continue
			}
			candles = append(candles, domain.Candle{
				Symbol:    b.Symbol,
				Timestamp: b.Timestamp.UTC(),
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
			})
		}
		if len(candles) > 0 {
			if err := s.store.WriteCandles(ctx, candles); err != nil {
				return fmt.Errorf("writing candles: %w", err)
			}
			total += len(candles)
		}

		// Pages are newest-first; continue from just before the oldest row.
		oldest := page[len(page)-1].Timestamp
		cursor = oldest.Add(-bin)

		if len(page) < pageSize {
			break
		}
	}

	s.log.Info("backfill done", "symbol", symbol, "candles", total, "binSize", s.binSize)
	return nil
}

// fetchPage requests one page of bucketed candles ending at (and including)
// the cursor, newest first.
func (s *BitMEXSource) fetchPage(ctx context.Context, symbol string, cursor time.Time) ([]bucketedCandle, error) {
	q := url.Values{}
	q.Set("binSize", s.binSize)
	q.Set("symbol", symbol)
	q.Set("count", strconv.Itoa(pageSize))
	q.Set("reverse", "true")
	q.Set("partial", "false")
	q.Set("endTime", cursor.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/trade/bucketed?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bitmex: %s: %s", resp.Status, body)
	}

	var page []bucketedCandle
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding bucketed candles: %w", err)
	}
	return page, nil
}
