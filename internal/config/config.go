// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// credentials overridable via CB_* environment variables.
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
	DryRun   bool           `mapstructure:"dry_run"`
	API      APIConfig      `mapstructure:"api"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds Coinbase Exchange REST/WS endpoints and HMAC credentials.
type APIConfig struct {
	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSURL       string `mapstructure:"ws_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// StrategyConfig tunes the target-price market-making algorithm of
// internal/maker. Every tunable constant the algorithm needs is a named
// field here rather than hardcoded. OrderSize, RejectionPenalty and the
// three intervals have defaults (see Load); the six spreads do not.
type StrategyConfig struct {
	// OrderSize is the fixed BTC clip size quoted on each side.
	OrderSize string `mapstructure:"order_size"`

	BidSpread                 string `mapstructure:"bid_spread"`
	AskSpread                 string `mapstructure:"ask_spread"`
	BidTooFarAdjustmentSpread string `mapstructure:"bid_too_far_adjustment_spread"`
	BidTooCloseAdjustmentSpread string `mapstructure:"bid_too_close_adjustment_spread"`
	AskTooFarAdjustmentSpread string `mapstructure:"ask_too_far_adjustment_spread"`
	AskTooCloseAdjustmentSpread string `mapstructure:"ask_too_close_adjustment_spread"`

	// RejectionPenalty is added to the backoff distance from the spread
	// each time a post-only order is rejected for that side.
	RejectionPenalty string `mapstructure:"rejection_penalty"`

	TickInterval        time.Duration `mapstructure:"tick_interval"`
	StartupDelay        time.Duration `mapstructure:"startup_delay"`
	BalancePollInterval time.Duration `mapstructure:"balance_poll_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default strategy tunables, used when config.yaml leaves a field unset.
const (
	DefaultOrderSize                   = "0.01"
	DefaultRejectionPenalty            = "0.04"
	DefaultTickInterval                = 5 * time.Millisecond
	DefaultStartupDelay                = 10 * time.Second
	DefaultBalancePollInterval         = 30 * time.Second
)

// Load reads config from a YAML file with env var overrides.
// Credentials use env vars: CB_API_KEY, CB_API_SECRET, CB_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("strategy.order_size", DefaultOrderSize)
	v.SetDefault("strategy.rejection_penalty", DefaultRejectionPenalty)
	v.SetDefault("strategy.tick_interval", DefaultTickInterval)
	v.SetDefault("strategy.startup_delay", DefaultStartupDelay)
	v.SetDefault("strategy.balance_poll_interval", DefaultBalancePollInterval)
	v.SetDefault("api.rest_base_url", "https://api.exchange.coinbase.com")
	v.SetDefault("api.ws_url", "wss://ws-feed.exchange.coinbase.com")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("CB_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("CB_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("CB_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("CB_DRY_RUN") == "true" || os.Getenv("CB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields.
func (c *Config) Validate() error {
	if c.API.RESTBaseURL == "" {
		return fmt.Errorf("api.rest_base_url is required")
	}
	if c.API.WSURL == "" {
		return fmt.Errorf("api.ws_url is required")
	}
	if !c.DryRun {
		if c.API.ApiKey == "" || c.API.Secret == "" || c.API.Passphrase == "" {
			return fmt.Errorf("api credentials are required unless dry_run is set (CB_API_KEY, CB_API_SECRET, CB_PASSPHRASE)")
		}
	}
	if c.Strategy.OrderSize == "" {
		return fmt.Errorf("strategy.order_size is required")
	}
	if c.Strategy.BidSpread == "" || c.Strategy.AskSpread == "" {
		return fmt.Errorf("strategy.bid_spread and strategy.ask_spread are required")
	}
	return nil
}
