// Package config defines all configuration for the quant runtime. Config is
// loaded from a YAML file with sensitive fields overridable via
// QUANTCORE_* environment variables and per-venue credential env vars.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool                    `mapstructure:"dry_run"`
	Venues    map[string]VenueConfig  `mapstructure:"venues"`
	Risk      RiskConfig              `mapstructure:"risk"`
	Backtest  BacktestConfig          `mapstructure:"backtest"`
	Store     StoreConfig             `mapstructure:"store"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Dashboard DashboardConfig         `mapstructure:"dashboard"`
}

// VenueConfig holds one venue's connection details. API credentials are read
// from environment variables named <VENUE>_API_KEY / <VENUE>_API_SECRET /
// <VENUE>_API_PASSPHRASE (see spec §6), never stored in the YAML file itself.
type VenueConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	WSURL           string        `mapstructure:"ws_url"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`

	// populated from environment at Load time, never from YAML
	APIKey     string `mapstructure:"-"`
	APISecret  string `mapstructure:"-"`
	Passphrase string `mapstructure:"-"`
}

// RiskConfig seeds the RiskProfile clamped at construction to the hard
// ceilings in internal/risk.
type RiskConfig struct {
	MaxDrawdownPct          float64 `mapstructure:"max_drawdown_pct"`
	SingleOrderSizeCap      float64 `mapstructure:"single_order_size_cap"`
	DailyLossLimit          float64 `mapstructure:"daily_loss_limit"`
	MaxConcurrentStrategies int     `mapstructure:"max_concurrent_strategies"`
}

// BacktestConfig tunes the orchestrator and grid search.
type BacktestConfig struct {
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	MaxCombinations   int `mapstructure:"max_combinations"`
}

// StoreConfig sets where state is persisted.
type StoreConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	DataDir      string `mapstructure:"data_dir"`
	StrategyDir  string `mapstructure:"strategy_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the HTTP/WS surface (§6).
type DashboardConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Port            int      `mapstructure:"port"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ShutdownToken   string   `mapstructure:"-"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// fields use env vars: QUANTCORE_DRY_RUN, QUANTCORE_SHUTDOWN_TOKEN, and one
// <VENUE>_API_KEY / <VENUE>_API_SECRET / <VENUE>_API_PASSPHRASE triple per
// configured venue.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("QUANTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for name, vc := range cfg.Venues {
		upper := strings.ToUpper(name)
		vc.APIKey = os.Getenv(upper + "_API_KEY")
		vc.APISecret = os.Getenv(upper + "_API_SECRET")
		vc.Passphrase = os.Getenv(upper + "_API_PASSPHRASE")
		cfg.Venues[name] = vc
	}

	cfg.Dashboard.ShutdownToken = os.Getenv("QUANTCORE_SHUTDOWN_TOKEN")

	if os.Getenv("QUANTCORE_DRY_RUN") == "true" || os.Getenv("QUANTCORE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	for name, vc := range c.Venues {
		if vc.BaseURL == "" {
			return fmt.Errorf("venues.%s.base_url is required", name)
		}
		if vc.APIKey == "" {
			return fmt.Errorf("venue %s missing API key (set %s_API_KEY)", name, strings.ToUpper(name))
		}
	}
	if c.Risk.MaxDrawdownPct <= 0 {
		return fmt.Errorf("risk.max_drawdown_pct must be > 0")
	}
	if c.Risk.SingleOrderSizeCap <= 0 {
		return fmt.Errorf("risk.single_order_size_cap must be > 0")
	}
	if c.Risk.DailyLossLimit <= 0 {
		return fmt.Errorf("risk.daily_loss_limit must be > 0")
	}
	if c.Risk.MaxConcurrentStrategies <= 0 {
		return fmt.Errorf("risk.max_concurrent_strategies must be > 0")
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Store.StrategyDir == "" {
		return fmt.Errorf("store.strategy_dir is required")
	}
	if c.Dashboard.Enabled && c.Dashboard.ShutdownToken == "" {
		return fmt.Errorf("dashboard.enabled requires QUANTCORE_SHUTDOWN_TOKEN to be set")
	}
	return nil
}
