// Package ingest backfills candle data from upstream market-data APIs into a
// CandleStore.
package ingest

import (
	"context"
	"time"
)

// Source is the interface for all candle ingestion processes.
type Source interface {
	// Name returns the source identifier.
	Name() string
	// Run executes the backfill. It returns when the store is caught up to
	// the present or ctx is cancelled.
	Run(ctx context.Context) error
}

// binSizes maps the supported BitMEX bucket sizes to their durations.
var binSizes = map[string]time.Duration{
	"1m": time.Minute,
	"5m": 5 * time.Minute,
	"1h": time.Hour,
	"1d": 24 * time.Hour,
}
