// Package config provides application-wide configuration management.
// All configuration is loaded from files and environment variables.
// The portfolio controller's rotation gates and trailing-stop tiers are
// not configured here; they are constants in internal/portfolio.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Mode controls whether the engine simulates fills or places real orders.
// Only ModePaper is implemented; ModeLive is accepted by the JSON schema
// so operators get a clear validation error rather than a missing field.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config holds all system configuration.
// Loaded once at startup and passed as read-only to all components.
type Config struct {
	// TradingMode must be "paper" — "live" is rejected at validation time
	// since real order routing is out of scope.
	TradingMode Mode `json:"trading_mode"`

	// Timeframe is the candle interval used for feature extraction (e.g. "4h").
	Timeframe string `json:"timeframe"`

	// Language selects the oracle's rationale language ("en" or "ko").
	Language string `json:"language"`

	// QuoteAmountUSD is the notional size of every paper buy.
	QuoteAmountUSD float64 `json:"quote_amount_usd"`

	// Portfolio holds the controller's slot, rotation and cooldown settings.
	Portfolio PortfolioConfig `json:"portfolio"`

	// Exchange holds paper-fill tunables.
	Exchange ExchangeConfig `json:"exchange"`

	// Oracle holds scenario-analysis tunables.
	Oracle OracleConfig `json:"oracle"`

	// Paths for file-based I/O (candidates JSON in, benchmark JSON out).
	Paths PathsConfig `json:"paths"`

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `json:"database_url"`

	// CircuitBreaker guards the cycle loop against repeated MarketData or
	// Oracle failures.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`

	// Universe is the fixed set of symbols screened every cycle. Falls
	// back to DefaultUniverse when omitted from the config file.
	Universe []UniverseEntry `json:"universe"`
}

// UniverseEntry pairs a symbol with its theme tag, generalizing the
// teacher's sector map (loadSectorMap in cmd/engine) from NSE sectors to
// crypto narrative themes used by the feature builder and Holding audit
// trail.
type UniverseEntry struct {
	Symbol string `json:"symbol"`
	Theme  string `json:"theme"`
}

// DefaultUniverse is used whenever a config file omits "universe".
var DefaultUniverse = []UniverseEntry{
	{Symbol: "BTC-USD", Theme: "layer1"},
	{Symbol: "ETH-USD", Theme: "layer1"},
	{Symbol: "SOL-USD", Theme: "layer1"},
	{Symbol: "BNB-USD", Theme: "exchange"},
	{Symbol: "XRP-USD", Theme: "payments"},
	{Symbol: "ADA-USD", Theme: "layer1"},
	{Symbol: "DOGE-USD", Theme: "meme"},
	{Symbol: "AVAX-USD", Theme: "layer1"},
	{Symbol: "LINK-USD", Theme: "oracle"},
	{Symbol: "DOT-USD", Theme: "interop"},
	{Symbol: "TRX-USD", Theme: "layer1"},
	{Symbol: "XLM-USD", Theme: "payments"},
	{Symbol: "LTC-USD", Theme: "payments"},
	{Symbol: "BCH-USD", Theme: "payments"},
	{Symbol: "ATOM-USD", Theme: "interop"},
	{Symbol: "NEAR-USD", Theme: "layer1"},
}

// CircuitBreakerConfig configures internal/risk.CircuitBreaker.
type CircuitBreakerConfig struct {
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	MaxFailuresPerHour     int `json:"max_failures_per_hour"`
	CooldownMinutes        int `json:"cooldown_minutes"`
}

// PortfolioConfig mirrors the teacher's RiskConfig in shape, generalized
// from equity position sizing to the rotation/trailing-stop controller.
// cmd/engine passes only MaxSlots and RotationCooldownHours to the
// controller; the other rotation fields are loaded, validated and logged
// on reload, but the controller uses its own package constants instead.
type PortfolioConfig struct {
	MaxSlots                 int     `json:"max_slots"`
	RotationMinScoreDelta    float64 `json:"rotation_min_score_delta"`
	RotationLossPriorityPct  float64 `json:"rotation_loss_priority_pct"`
	RotationMaxPerCycle      int     `json:"rotation_max_per_cycle"`
	RotationMinHoldingHours  float64 `json:"rotation_min_holding_hours"`
	RotationCooldownHours    float64 `json:"rotation_reentry_cooldown_hours"`
}

// ExchangeConfig mirrors the teacher's broker-specific settings, generalized
// to the paper fill model's fee/slippage model.
type ExchangeConfig struct {
	FeeRate      float64 `json:"fee_rate"`
	SlippageRate float64 `json:"slippage_rate"`
}

// OracleConfig selects between the heuristic and LLM scenario oracle.
type OracleConfig struct {
	Endpoint string `json:"endpoint"`
}

// PathsConfig defines filesystem paths for file-based I/O.
type PathsConfig struct {
	// CandidatesDir is where the Phase-1 selector writes candidates JSON.
	CandidatesDir string `json:"candidates_dir"`

	// BenchmarkOutputPath is where the BenchmarkExporter writes its snapshot.
	BenchmarkOutputPath string `json:"benchmark_output_path"`

	// LogDir is where all system logs are written.
	LogDir string `json:"log_dir"`
}

// Load reads configuration from a JSON file, applying a local .env file
// (if present) and then environment variable overrides on top.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; absence of .env is not an error

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}

	// Environment variable overrides.
	if v := os.Getenv("CRYPTOSWING_TRADE_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CRYPTOSWING_TIMEFRAME"); v != "" {
		cfg.Timeframe = v
	}

	if len(cfg.Universe) == 0 {
		cfg.Universe = DefaultUniverse
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.TradingMode != ModePaper {
		return fmt.Errorf("trading_mode must be %q, got %q (real order routing is not implemented)", ModePaper, c.TradingMode)
	}
	if c.Timeframe == "" {
		return fmt.Errorf("timeframe is required")
	}
	if c.QuoteAmountUSD <= 0 {
		return fmt.Errorf("quote_amount_usd must be positive, got %f", c.QuoteAmountUSD)
	}
	if c.Portfolio.MaxSlots <= 0 {
		return fmt.Errorf("portfolio.max_slots must be positive, got %d", c.Portfolio.MaxSlots)
	}
	if c.Portfolio.RotationMaxPerCycle < 0 {
		return fmt.Errorf("portfolio.rotation_max_per_cycle must be >= 0, got %d", c.Portfolio.RotationMaxPerCycle)
	}
	if c.Portfolio.RotationCooldownHours < 0 {
		return fmt.Errorf("portfolio.rotation_reentry_cooldown_hours must be >= 0, got %f", c.Portfolio.RotationCooldownHours)
	}
	if c.Exchange.FeeRate < 0 {
		return fmt.Errorf("exchange.fee_rate must be >= 0, got %f", c.Exchange.FeeRate)
	}
	if c.Exchange.SlippageRate < 0 {
		return fmt.Errorf("exchange.slippage_rate must be >= 0, got %f", c.Exchange.SlippageRate)
	}
	if c.Paths.CandidatesDir == "" {
		return fmt.Errorf("paths.candidates_dir is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	return nil
}
