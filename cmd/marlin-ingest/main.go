package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"marlin/internal/config"
	"marlin/internal/ingest"
	"marlin/internal/store"
	"marlin/internal/util"
)

func main() {
	source := flag.String("source", "bitmex", "candle source to run: bitmex, alpaca or all")
	flag.Parse()

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

	var sources []ingest.Source

	if *source == "bitmex" || *source == "all" {
		bm, err := ingest.NewBitMEXSource(
			cfg.Ingest.BitMEX.BaseURL,
			cfg.Ingest.BitMEX.Symbols,
			cfg.Ingest.BitMEX.BinSize,
			cfg.Ingest.BitMEX.StartDate,
			cfg.Ingest.BitMEX.RateLimitPerMin,
			cfg.Ingest.BitMEX.MaxRetries,
			st,
		)
		if err != nil {
			log.Fatalf("configuring bitmex source: %v", err)
		}
		sources = append(sources, bm)
	}

	if *source == "alpaca" || *source == "all" {
		sources = append(sources, ingest.NewAlpacaSource(
			cfg.Ingest.Alpaca.APIKey,
			cfg.Ingest.Alpaca.APISecret,
			cfg.Ingest.Alpaca.Symbols,
			cfg.Ingest.Alpaca.StartDate,
			st,
		))
	}

	if len(sources) == 0 {
		log.Fatalf("unknown source %q", *source)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, src := range sources {
		logger.Info("running ingest source", "source", src.Name())
		if err := src.Run(ctx); err != nil {
			log.Fatalf("source %s: %v", src.Name(), err)
		}
	}
	logger.Info("ingest complete")
}
