package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// StorageConfig holds the locations of the bar and result stores
type StorageConfig struct {
	SQLitePath     string `yaml:"sqlite_path"`
	ParquetDir     string `yaml:"parquet_dir"`
	ClickHouseAddr string `yaml:"clickhouse_addr"`
	ClickHouseDB   string `yaml:"clickhouse_db"`
	ClickHouseUser string `yaml:"clickhouse_user"`
	ClickHousePass string `yaml:"clickhouse_password"`
	ClickHouseTbl  string `yaml:"clickhouse_table"`
}

// AlpacaConfig holds credentials for the Alpaca market data API
type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	// RateLimitPerMin caps data requests; zero disables the limiter
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// Enabled reports whether credentials are present
func (a AlpacaConfig) Enabled() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	APIAddr       string `yaml:"api_addr"`
	TelemetryAddr string `yaml:"telemetry_addr"`
}

// BacktestConfig holds engine and runner defaults
type BacktestConfig struct {
	InitialCapital decimal.Decimal `yaml:"-"`
	WindowSize     int             `yaml:"window_size"`
	VoteThreshold  float64         `yaml:"vote_threshold"`
	CloseAtEnd     bool            `yaml:"close_at_end"`
	Workers        int             `yaml:"workers"`
	FetchRetries   int             `yaml:"fetch_retries"`
	FetchBackoff   time.Duration   `yaml:"fetch_backoff"`
	// BarSource selects where runs read bars: sqlite, parquet, clickhouse or alpaca
	BarSource string `yaml:"bar_source"`
	// CacheBars archives bars fetched from remote sources in the Parquet dir
	CacheBars bool `yaml:"cache_bars"`

	RawInitialCapital string `yaml:"initial_capital"`
}

// LoggingConfig configures the application logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig holds application-wide configuration
type AppConfig struct {
	Storage  StorageConfig  `yaml:"storage"`
	Alpaca   AlpacaConfig   `yaml:"alpaca"`
	Server   ServerConfig   `yaml:"server"`
	Backtest BacktestConfig `yaml:"backtest"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns the configuration used when nothing is set
func Default() *AppConfig {
	return &AppConfig{
		Storage: StorageConfig{
			SQLitePath:    "quantbt.db",
			ParquetDir:    "data",
			ClickHouseDB:  "default",
			ClickHouseTbl: "bars",
		},
		Alpaca: AlpacaConfig{
			RateLimitPerMin: 200,
		},
		Server: ServerConfig{
			APIAddr:       ":8080",
			TelemetryAddr: ":9090",
		},
		Backtest: BacktestConfig{
			InitialCapital: decimal.NewFromInt(10000),
			WindowSize:     20,
			VoteThreshold:  0.6,
			Workers:        4,
			FetchRetries:   3,
			FetchBackoff:   500 * time.Millisecond,
			BarSource:      "sqlite",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and environment variables, in that order of precedence.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if raw := cfg.Backtest.RawInitialCapital; raw != "" {
			parsed, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid backtest.initial_capital %q: %w", raw, err)
			}
			cfg.Backtest.InitialCapital = parsed
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make every run fail
func (c *AppConfig) Validate() error {
	var errs []error
	if !c.Backtest.InitialCapital.IsPositive() {
		errs = append(errs, errors.New("backtest initial capital must be positive"))
	}
	if c.Backtest.WindowSize < 2 {
		errs = append(errs, fmt.Errorf("backtest window size must be at least 2, got %d", c.Backtest.WindowSize))
	}
	if c.Backtest.VoteThreshold <= 0 || c.Backtest.VoteThreshold > 1 {
		errs = append(errs, fmt.Errorf("vote threshold must be within (0, 1], got %v", c.Backtest.VoteThreshold))
	}
	if c.Backtest.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Backtest.Workers))
	}
	switch c.Backtest.BarSource {
	case "sqlite", "parquet", "clickhouse":
	case "alpaca":
		if !c.Alpaca.Enabled() {
			errs = append(errs, errors.New("bar source alpaca requires ALPACA_API_KEY and ALPACA_API_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bar source %q", c.Backtest.BarSource))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides overrides configuration fields from well-known
// environment variables when they are set.
func applyEnvOverrides(cfg *AppConfig) {
	setString(&cfg.Storage.SQLitePath, "SQLITE_PATH")
	setString(&cfg.Storage.ParquetDir, "PARQUET_DIR")
	setString(&cfg.Storage.ClickHouseAddr, "CLICKHOUSE_ADDR")
	setString(&cfg.Storage.ClickHouseDB, "CLICKHOUSE_DB")
	setString(&cfg.Storage.ClickHouseUser, "CLICKHOUSE_USER")
	setString(&cfg.Storage.ClickHousePass, "CLICKHOUSE_PASSWORD")
	setString(&cfg.Storage.ClickHouseTbl, "CLICKHOUSE_TABLE")

	setString(&cfg.Alpaca.APIKey, "ALPACA_API_KEY")
	setString(&cfg.Alpaca.APISecret, "ALPACA_API_SECRET")
	setString(&cfg.Alpaca.DataURL, "ALPACA_DATA_URL")
	cfg.Alpaca.RateLimitPerMin = parseIntEnv("ALPACA_RATE_LIMIT_PER_MIN", cfg.Alpaca.RateLimitPerMin)

	setString(&cfg.Server.APIAddr, "API_ADDR")
	setString(&cfg.Server.TelemetryAddr, "TELEMETRY_ADDR")

	if value := os.Getenv("INITIAL_CAPITAL"); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			cfg.Backtest.InitialCapital = parsed
		}
	}
	if val := parseIntEnv("BACKTEST_WINDOW_SIZE", cfg.Backtest.WindowSize); val > 0 {
		cfg.Backtest.WindowSize = val
	}
	if val := parseFloatEnv("BACKTEST_VOTE_THRESHOLD", cfg.Backtest.VoteThreshold); val > 0 {
		cfg.Backtest.VoteThreshold = val
	}
	cfg.Backtest.CloseAtEnd = parseBoolEnv("BACKTEST_CLOSE_AT_END", cfg.Backtest.CloseAtEnd)
	cfg.Backtest.CacheBars = parseBoolEnv("BACKTEST_CACHE_BARS", cfg.Backtest.CacheBars)
	if val := parseIntEnv("BACKTEST_WORKERS", cfg.Backtest.Workers); val > 0 {
		cfg.Backtest.Workers = val
	}
	if val := parseIntEnv("BACKTEST_FETCH_RETRIES", cfg.Backtest.FetchRetries); val >= 0 {
		cfg.Backtest.FetchRetries = val
	}
	if duration := os.Getenv("BACKTEST_FETCH_BACKOFF"); duration != "" {
		if parsed, err := time.ParseDuration(duration); err == nil {
			cfg.Backtest.FetchBackoff = parsed
		}
	}
	if source := os.Getenv("BAR_SOURCE"); source != "" {
		cfg.Backtest.BarSource = strings.ToLower(strings.TrimSpace(source))
	}

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

// parseIntEnv parses an integer environment variable
func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// parseFloatEnv parses a float environment variable
func parseFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// parseBoolEnv parses a boolean environment variable
func parseBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
