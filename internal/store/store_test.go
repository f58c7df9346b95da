package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"marlin/internal/domain"
)

func candle(symbol string, ts time.Time, close float64) domain.Candle {
	return domain.Candle{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      close - 1,
		High:      close + 2,
		Low:       close - 2,
		Close:     close,
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "marlin.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestSQLiteCandles(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	base := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := []domain.Candle{
		candle("XBTUSD", base, 50000),
		candle("XBTUSD", base.Add(time.Minute), 50100),
		candle("XBTUSD", base.Add(2*time.Minute), 50200),
		candle("ETHUSD", base, 1600),
	}
	if err := s.WriteCandles(ctx, candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	got, err := s.ReadCandles(ctx, "XBTUSD", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candles, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.Before(got[i].Timestamp) {
			t.Errorf("candles not ascending at %d", i)
		}
	}
	if got[0].Close != 50000 {
		t.Errorf("first close = %v, want 50000", got[0].Close)
	}

	// Range bounds are inclusive.
	got, err = s.ReadCandles(ctx, "XBTUSD", base.Add(time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 1 || got[0].Close != 50100 {
		t.Fatalf("inclusive range read = %v, want the single middle candle", got)
	}

	latest, err := s.LatestTimestamp(ctx, "XBTUSD")
	if err != nil {
		t.Fatalf("LatestTimestamp: %v", err)
	}
	if !latest.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("latest = %v, want %v", latest, base.Add(2*time.Minute))
	}

	latest, err = s.LatestTimestamp(ctx, "UNKNOWN")
	if err != nil {
		t.Fatalf("LatestTimestamp: %v", err)
	}
	if !latest.IsZero() {
		t.Errorf("latest for unknown symbol = %v, want zero", latest)
	}

	symbols, err := s.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "ETHUSD" || symbols[1] != "XBTUSD" {
		t.Errorf("symbols = %v, want [ETHUSD XBTUSD]", symbols)
	}
}

func TestSQLiteCandleDedup(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	ts := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.WriteCandles(ctx, []domain.Candle{candle("XBTUSD", ts, 50000)}); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}
	// Rewriting the same timestamp replaces the row.
	if err := s.WriteCandles(ctx, []domain.Candle{candle("XBTUSD", ts, 51000)}); err != nil {
		t.Fatalf("WriteCandles (duplicate): %v", err)
	}

	got, err := s.ReadCandles(ctx, "XBTUSD", ts, ts)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candles after dedup, want 1", len(got))
	}
	if got[0].Close != 51000 {
		t.Errorf("close = %v, want the replacement 51000", got[0].Close)
	}
}

func TestSQLiteStrategies(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	doc := []byte(`{"name":"mom","indicators":[]}`)
	if err := s.SaveStrategy(ctx, "mom", doc); err != nil {
		t.Fatalf("SaveStrategy: %v", err)
	}
	// Duplicate names are rejected by the primary key.
	if err := s.SaveStrategy(ctx, "mom", doc); err == nil {
		t.Fatal("SaveStrategy should reject a duplicate name")
	}

	got, err := s.GetStrategy(ctx, "mom")
	if err != nil {
		t.Fatalf("GetStrategy: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("doc = %s, want %s", got, doc)
	}

	if _, err := s.GetStrategy(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetStrategy(missing) err = %v, want ErrNotFound", err)
	}

	updated := []byte(`{"name":"mom","indicators":[],"note":"v2"}`)
	if err := s.UpdateStrategy(ctx, "mom", updated); err != nil {
		t.Fatalf("UpdateStrategy: %v", err)
	}
	got, _ = s.GetStrategy(ctx, "mom")
	if string(got) != string(updated) {
		t.Errorf("doc after update = %s, want %s", got, updated)
	}

	if err := s.UpdateStrategy(ctx, "missing", doc); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStrategy(missing) err = %v, want ErrNotFound", err)
	}

	names, err := s.ListStrategies(ctx)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(names) != 1 || names[0] != "mom" {
		t.Errorf("names = %v, want [mom]", names)
	}
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.candlePath("xbtusd", 2021)
	want := filepath.Join("/data", "candles", "XBTUSD", "2021.parquet")
	if got != want {
		t.Errorf("candlePath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteRead(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	base := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := []domain.Candle{
		candle("XBTUSD", base, 50000),
		candle("XBTUSD", base.Add(time.Minute), 50100),
		// Spans a year boundary to exercise multi-file reads.
		candle("XBTUSD", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 47000),
	}
	if err := ps.WriteCandles(ctx, candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	got, err := ps.ReadCandles(ctx, "XBTUSD", base, time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candles, want 3 across two year files", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.Before(got[i].Timestamp) {
			t.Errorf("candles not ascending at %d", i)
		}
	}

	latest, err := ps.LatestTimestamp(ctx, "XBTUSD")
	if err != nil {
		t.Fatalf("LatestTimestamp: %v", err)
	}
	if latest.Year() != 2022 {
		t.Errorf("latest = %v, want a 2022 timestamp", latest)
	}
}

func TestParquetStoreMerge(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	ts := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := ps.WriteCandles(ctx, []domain.Candle{candle("ETHUSD", ts, 1600)}); err != nil {
		t.Fatalf("WriteCandles (first): %v", err)
	}
	// Second write merges into the same year file: one new row, one replaced.
	if err := ps.WriteCandles(ctx, []domain.Candle{
		candle("ETHUSD", ts, 1650),
		candle("ETHUSD", ts.Add(time.Minute), 1660),
	}); err != nil {
		t.Fatalf("WriteCandles (second): %v", err)
	}

	got, err := ps.ReadCandles(ctx, "ETHUSD", ts, ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candles after merge, want 2", len(got))
	}
	if got[0].Close != 1650 {
		t.Errorf("close = %v, want the replacement 1650", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	ts := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := ps.WriteCandles(ctx, []domain.Candle{
		candle("ETHUSD", ts, 1600),
		candle("XBTUSD", ts, 50000),
	}); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "ETHUSD" || symbols[1] != "XBTUSD" {
		t.Errorf("symbols = %v, want [ETHUSD XBTUSD]", symbols)
	}
}
