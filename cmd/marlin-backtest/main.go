package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"marlin/internal/backtest"
	"marlin/internal/config"
	"marlin/internal/export"
	"marlin/internal/store"
	"marlin/internal/strategy"
	"marlin/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to test, e.g. XBTUSD")
	name := flag.String("strategy", "", "name of a saved strategy")
	file := flag.String("file", "", "path to a strategy JSON document (overrides -strategy)")
	startStr := flag.String("start", "", "start of the candle range (RFC 3339 or YYYY-MM-DD)")
	endStr := flag.String("end", "", "end of the candle range (RFC 3339 or YYYY-MM-DD)")
	csvPath := flag.String("csv", "", "write the trade ledger as CSV to this path")
	flag.Parse()

	if *symbol == "" || (*name == "" && *file == "") {
		flag.Usage()
		os.Exit(1)
	}

	start, err := parseTime(*startStr)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end, err := parseTime(*endStr)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}

	cfgPath := "config/marlin.yaml"
	if p := os.Getenv("MARLIN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	runner := backtest.NewRunner(st, st, logger)
	ctx := context.Background()

	var res *backtest.Result
	if *file != "" {
		doc, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("reading strategy file: %v", err)
		}
		def, err := strategy.Parse(doc)
		if err != nil {
			log.Fatalf("parsing strategy: %v", err)
		}
		res, err = runner.RunDefinition(ctx, *symbol, start, end, def, cfg.Backtest.RunConfig())
		if err != nil {
			log.Fatalf("backtest failed: %v", err)
		}
	} else {
		res, err = runner.Run(ctx, *symbol, start, end, *name, cfg.Backtest.RunConfig())
		if err != nil {
			log.Fatalf("backtest failed: %v", err)
		}
	}

	if *csvPath != "" && len(res.Trades) > 0 {
		f, err := os.Create(*csvPath)
		if err != nil {
			log.Fatalf("creating CSV file: %v", err)
		}
		if err := export.WriteTrades(f, res.Trades); err != nil {
			f.Close()
			log.Fatalf("writing CSV: %v", err)
		}
		f.Close()
		logger.Info("trade ledger written", "path", *csvPath, "trades", len(res.Trades))
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatalf("encoding result: %v", err)
	}
	fmt.Println(string(out))
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
