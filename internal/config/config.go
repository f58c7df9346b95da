// Package config loads the marlin YAML configuration file and applies
// environment variable overrides.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"marlin/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the marlin backtesting service.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Ingest   Ingest   `yaml:"ingest"`
	Backtest Backtest `yaml:"backtest"`
	Export   Export   `yaml:"export"`
	Logging  Logging  `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Ingest configures the candle ingestion jobs.
type Ingest struct {
	BitMEX BitMEXJob `yaml:"bitmex"`
	Alpaca AlpacaJob `yaml:"alpaca"`
}

// BitMEXJob holds parameters for the BitMEX bucketed-candle backfill.
type BitMEXJob struct {
	BaseURL         string   `yaml:"base_url"`
	Symbols         []string `yaml:"symbols"`
	BinSize         string   `yaml:"bin_size"`
	StartDate       string   `yaml:"start_date"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	MaxRetries      int      `yaml:"max_retries"`
}

// AlpacaJob holds credentials and symbols for the daily equity-bar backfill.
type AlpacaJob struct {
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
	Symbols   []string `yaml:"symbols"`
	StartDate string   `yaml:"start_date"`
}

// Backtest holds the default run parameters used when a request leaves them
// unset.
type Backtest struct {
	InitialCap float64 `yaml:"initial_cap"`
	Leverage   float64 `yaml:"leverage"`
	AmountType string  `yaml:"amount_type"`
	Amount     float64 `yaml:"amount"`
	Slippage   float64 `yaml:"slippage"`
	Fee        bool    `yaml:"fee"`
	OrderLimit float64 `yaml:"order_limit"`
}

// RunConfig converts the configured defaults into a domain.RunConfig.
func (b Backtest) RunConfig() domain.RunConfig {
	return domain.RunConfig{
		InitialCap: b.InitialCap,
		Leverage:   b.Leverage,
		AmountType: domain.AmountType(b.AmountType),
		Amount:     b.Amount,
		Slippage:   b.Slippage,
		Fee:        b.Fee,
		OrderLimit: b.OrderLimit,
	}
}

// Export holds the destination for CSV trade ledgers.
type Export struct {
	Dir string `yaml:"dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Ingest.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Ingest.Alpaca.APISecret = v
	}

	// Canonical Alpaca env var names take priority over ours.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Ingest.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Ingest.Alpaca.APISecret = v
	}
}
