package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marlin/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ CandleStore = (*SQLiteStore)(nil)
var _ StrategyStore = (*SQLiteStore)(nil)

// SQLiteStore implements CandleStore and StrategyStore backed by a SQLite
// database. Timestamps are stored as Unix milliseconds in UTC.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol    TEXT    NOT NULL,
	timestamp INTEGER NOT NULL,
	open      REAL    NOT NULL,
	high      REAL    NOT NULL,
	low       REAL    NOT NULL,
	close     REAL    NOT NULL,
	PRIMARY KEY (symbol, timestamp)
);

CREATE TABLE IF NOT EXISTS strategies (
	name       TEXT    PRIMARY KEY,
	doc        TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, ensures the
// schema exists, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// CandleStore implementation
// ---------------------------------------------------------------------------

// WriteCandles inserts candles in a single transaction, replacing any stored
// row with the same symbol and timestamp.
func (s *SQLiteStore) WriteCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timestamp, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timestamp) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx,
			c.Symbol, c.Timestamp.UnixMilli(), c.Open, c.High, c.Low, c.Close); err != nil {
			return fmt.Errorf("inserting candle %s@%s: %w", c.Symbol, c.Timestamp, err)
		}
	}
	return tx.Commit()
}

// ReadCandles returns candles for the symbol within [start, end], ascending
// by timestamp.
func (s *SQLiteStore) ReadCandles(ctx context.Context, symbol string, start, end time.Time) ([]domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timestamp, open, high, low, close
		FROM candles
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var ms int64
		if err := rows.Scan(&c.Symbol, &ms, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, err
		}
		c.Timestamp = time.UnixMilli(ms).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LatestTimestamp returns the newest stored timestamp for a symbol, or the
// zero time when no candles exist.
func (s *SQLiteStore) LatestTimestamp(ctx context.Context, symbol string) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM candles WHERE symbol = ?`, symbol).Scan(&ms)
	if err != nil {
		return time.Time{}, err
	}
	if !ms.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), nil
}

// ListSymbols returns all distinct symbols with stored candles.
func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT symbol FROM candles ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy inserts a new strategy document.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, name string, doc []byte) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strategies (name, doc, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		name, string(doc), now, now)
	if err != nil {
		return fmt.Errorf("saving strategy %q: %w", name, err)
	}
	return nil
}

// GetStrategy retrieves a strategy document by name.
func (s *SQLiteStore) GetStrategy(ctx context.Context, name string) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM strategies WHERE name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// ListStrategies returns all stored strategy names, sorted.
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM strategies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpdateStrategy replaces an existing strategy document.
func (s *SQLiteStore) UpdateStrategy(ctx context.Context, name string, doc []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategies SET doc = ?, updated_at = ? WHERE name = ?`,
		string(doc), time.Now().UnixMilli(), name)
	if err != nil {
		return fmt.Errorf("updating strategy %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
