// Package store defines storage interfaces for persisting and retrieving
// candles and strategy documents, with SQLite and Parquet implementations.
package store

import (
	"context"
	"errors"
	"time"

	"marlin/internal/domain"
)

// ErrNotFound is returned when a requested strategy does not exist.
var ErrNotFound = errors.New("store: not found")

// CandleStore persists and retrieves OHLC candle data.
type CandleStore interface {
	// WriteCandles persists a batch of candles, deduplicating on
	// symbol+timestamp: an incoming duplicate replaces the stored row.
	WriteCandles(ctx context.Context, candles []domain.Candle) error

	// ReadCandles returns candles for the symbol within [start, end],
	// ascending by timestamp.
	ReadCandles(ctx context.Context, symbol string, start, end time.Time) ([]domain.Candle, error)

	// LatestTimestamp returns the newest stored timestamp for a symbol, or
	// the zero time when none exist.
	LatestTimestamp(ctx context.Context, symbol string) (time.Time, error)

	// ListSymbols returns all distinct symbols with stored candles.
	ListSymbols(ctx context.Context) ([]string, error)
}

// StrategyStore persists strategy documents as raw JSON keyed by name.
type StrategyStore interface {
	// SaveStrategy inserts a new strategy document.
	SaveStrategy(ctx context.Context, name string, doc []byte) error

	// GetStrategy retrieves a strategy document by name. ErrNotFound when
	// the name is unknown.
	GetStrategy(ctx context.Context, name string) ([]byte, error)

	// ListStrategies returns all stored strategy names.
	ListStrategies(ctx context.Context) ([]string, error)

	// UpdateStrategy replaces an existing strategy document. ErrNotFound
	// when the name is unknown.
	UpdateStrategy(ctx context.Context, name string, doc []byte) error
}
