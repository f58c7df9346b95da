package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"marlin/internal/domain"
)

// memStore is a minimal in-memory CandleStore for ingest tests.
type memStore struct {
	mu      sync.Mutex
	candles []domain.Candle
}

func (m *memStore) WriteCandles(_ context.Context, candles []domain.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, candles...)
	return nil
}

func (m *memStore) ReadCandles(context.Context, string, time.Time, time.Time) ([]domain.Candle, error) {
	return nil, nil
}

func (m *memStore) LatestTimestamp(_ context.Context, symbol string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, c := range m.candles {
		if c.Symbol == symbol && c.Timestamp.After(latest) {
			latest = c.Timestamp
		}
	}
	return latest, nil
}

func (m *memStore) ListSymbols(context.Context) ([]string, error) { return nil, nil }

func bucketed(ts time.Time, close float64) bucketedCandle {
	return bucketedCandle{
		Timestamp: ts,
		Symbol:    "XBTUSD",
		Open:      close - 10,
		High:      close + 20,
		Low:       close - 20,
		Close:     close,
	}
}

func TestBitMEXBackfillPagesBackward(t *testing.T) {
	base := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)

	// Two pages: a full one covering the newer candles, then a short one.
	// Short pages end the backfill.
	newer := make([]bucketedCandle, pageSize)
	for i := range newer {
		// Newest first, 5m apart.
		newer[i] = bucketed(base.Add(time.Duration(pageSize-i)*5*time.Minute), 50000+float64(i))
	}
	older := []bucketedCandle{bucketed(base, 49000)}

	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Query().Get("endTime"))
		if got := r.URL.Query().Get("binSize"); got != "5m" {
			t.Errorf("binSize = %q, want 5m", got)
		}
		if got := r.URL.Query().Get("reverse"); got != "true" {
			t.Errorf("reverse = %q, want true", got)
		}
		page := newer
		if len(requests) > 1 {
			page = older
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	store := &memStore{}
	src, err := NewBitMEXSource(srv.URL, []string{"XBTUSD"}, "5m", "2021-01-01", 6000, 1, store)
	if err != nil {
		t.Fatalf("NewBitMEXSource: %v", err)
	}
	if err := src.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("made %d requests, want 2", len(requests))
	}
	if got := len(store.candles); got != pageSize+1 {
		t.Errorf("stored %d candles, want %d", got, pageSize+1)
	}

	// The second request's cursor sits one bin before the first page's
	// oldest candle.
	cursor, err := time.Parse(time.RFC3339, requests[1])
	if err != nil {
		t.Fatalf("parsing second cursor: %v", err)
	}
	oldest := newer[len(newer)-1].Timestamp
	if want := oldest.Add(-5 * time.Minute); !cursor.Equal(want) {
		t.Errorf("second cursor = %v, want %v", cursor, want)
	}
}

func TestBitMEXBackfillStopsAtStoredCandles(t *testing.T) {
	base := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]bucketedCandle{
			bucketed(base.Add(10*time.Minute), 50100),
			bucketed(base.Add(5*time.Minute), 50050),
			bucketed(base, 50000), // already stored, must be filtered
		})
	}))
	defer srv.Close()

	store := &memStore{candles: []domain.Candle{{Symbol: "XBTUSD", Timestamp: base, Close: 50000}}}
	src, err := NewBitMEXSource(srv.URL, []string{"XBTUSD"}, "5m", "2021-01-01", 6000, 1, store)
	if err != nil {
		t.Fatalf("NewBitMEXSource: %v", err)
	}
	if err := src.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One pre-existing candle plus the two newer ones.
	if got := len(store.candles); got != 3 {
		t.Errorf("stored %d candles, want 3", got)
	}
	for _, c := range store.candles[1:] {
		if !c.Timestamp.After(base) {
			t.Errorf("candle at %v was not newer than the stored watermark", c.Timestamp)
		}
	}
}

func TestBitMEXRetriesOnServerError(t *testing.T) {
	base := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]bucketedCandle{bucketed(base.Add(5*time.Minute), 50100)})
	}))
	defer srv.Close()

	store := &memStore{}
	src, err := NewBitMEXSource(srv.URL, []string{"XBTUSD"}, "5m", "2021-03-01", 6000, 3, store)
	if err != nil {
		t.Fatalf("NewBitMEXSource: %v", err)
	}
	if err := src.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Errorf("made %d calls, want 2 (one failure, one success)", calls)
	}
	if len(store.candles) != 1 {
		t.Errorf("stored %d candles, want 1", len(store.candles))
	}
}

func TestBitMEXRejectsUnknownBinSize(t *testing.T) {
	if _, err := NewBitMEXSource("", []string{"XBTUSD"}, "3m", "2021-01-01", 30, 5, &memStore{}); err == nil {
		t.Fatal("want error for unsupported bin size")
	}
}

func TestSourceNames(t *testing.T) {
	b, err := NewBitMEXSource("", nil, "1h", "2021-01-01", 30, 5, &memStore{})
	if err != nil {
		t.Fatalf("NewBitMEXSource: %v", err)
	}
	if got := b.Name(); got != "bitmex" {
		t.Errorf("BitMEXSource.Name() = %q, want %q", got, "bitmex")
	}

	a := NewAlpacaSource("key", "secret", []string{"AAPL"}, "2021-01-01", &memStore{})
	if got := a.Name(); got != "alpaca-daily" {
		t.Errorf("AlpacaSource.Name() = %q, want %q", got, "alpaca-daily")
	}
}

func TestBitMEXPageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src, err := NewBitMEXSource(srv.URL, []string{"XBTUSD"}, "5m", "2021-03-01", 6000, 1, &memStore{})
	if err != nil {
		t.Fatalf("NewBitMEXSource: %v", err)
	}
	if err := src.Run(context.Background()); err == nil {
		t.Fatal("want error when the API keeps failing")
	} else if want := fmt.Sprintf("%d", http.StatusTooManyRequests); !strings.Contains(err.Error(), want) {
		t.Errorf("err = %v, want it to mention status %s", err, want)
	}
}
