// Package export writes backtest trade ledgers to CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"marlin/internal/domain"
)

var header = []string{
	"entryTime", "exitTime", "type", "orderQty", "entryPx", "exitPx",
	"pnl", "fee", "result", "balance", "drawdown", "targetPx", "stopPx",
}

// WriteTrades writes the ledger to w as CSV, one row per trade. Disarmed
// target/stop columns are left empty.
func WriteTrades(w io.Writer, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			string(t.Reason),
			num(t.OrderQty),
			num(t.EntryPx),
			num(t.ExitPx),
			num(t.Pnl),
			num(t.Fee),
			string(t.Result),
			num(t.Balance),
			num(t.Drawdown),
			optNum(t.TargetPx),
			optNum(t.StopPx),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveTrades writes the ledger to <dir>/<name>-<timestamp>.csv and returns
// the file path.
func SaveTrades(dir, name string, trades []domain.Trade) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.csv", name, time.Now().UTC().Format("20060102T150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteTrades(f, trades); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optNum(v *float64) string {
	if v == nil {
		return ""
	}
	return num(*v)
}
