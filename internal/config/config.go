// Package config loads the sentinel's settings from YAML, .env and the environment.
package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"RebalanceSentinel/internal/calculator"
	"RebalanceSentinel/internal/model"
	"RebalanceSentinel/internal/session"
)

// Target is one configured allocation, in percent.
type Target struct {
	Asset   string  `yaml:"asset"`
	Percent float64 `yaml:"percent"`
}

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Stellar struct {
		Network    string `yaml:"network"`
		HorizonURL string `yaml:"horizon_url"`
		// WalletAddress connects on start when no session is persisted.
		WalletAddress string `yaml:"wallet_address"`
	} `yaml:"stellar"`
	Prices struct {
		ReflectorURL    string             `yaml:"reflector_url"`
		CoinGeckoURL    string             `yaml:"coingecko_url"`
		CoinGeckoAPIKey string             `yaml:"coingecko_api_key"`
		CoinGeckoPerMin int                `yaml:"coingecko_requests_per_minute"`
		CoinGeckoIDs    map[string]string  `yaml:"coingecko_ids"`
		Static          map[string]float64 `yaml:"static"`
		Watchlist       []string           `yaml:"watchlist"`
		AttemptTimeout  time.Duration      `yaml:"attempt_timeout"`
		FetchTimeout    time.Duration      `yaml:"fetch_timeout"`
	} `yaml:"prices"`
	Portfolio struct {
		DriftThreshold float64  `yaml:"drift_threshold"`
		Targets        []Target `yaml:"targets"`
	} `yaml:"portfolio"`
	Contract struct {
		ID            string `yaml:"id"`
		GatewayURL    string `yaml:"gateway_url"`
		GatewayAPIKey string `yaml:"gateway_api_key"`
		RPCURL        string `yaml:"rpc_url"`
	} `yaml:"contract"`
	Schedule struct {
		RefreshCron string        `yaml:"refresh_cron"`
		PruneCron   string        `yaml:"prune_cron"`
		StaleAfter  time.Duration `yaml:"stale_after"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath    string `yaml:"sqlite_path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"database"`
	Session struct {
		StateFile string `yaml:"state_file"`
	} `yaml:"session"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads an optional .env file and the YAML config, then applies
// environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken},
		{"TELEGRAM_CHAT_ID", &c.Telegram.ChatID},
		{"STELLAR_NETWORK", &c.Stellar.Network},
		{"HORIZON_URL", &c.Stellar.HorizonURL},
		{"WALLET_ADDRESS", &c.Stellar.WalletAddress},
		{"REFLECTOR_URL", &c.Prices.ReflectorURL},
		{"COINGECKO_URL", &c.Prices.CoinGeckoURL},
		{"COINGECKO_API_KEY", &c.Prices.CoinGeckoAPIKey},
		{"CONTRACT_ID", &c.Contract.ID},
		{"CONTRACT_GATEWAY_URL", &c.Contract.GatewayURL},
		{"CONTRACT_GATEWAY_API_KEY", &c.Contract.GatewayAPIKey},
		{"SOROBAN_RPC_URL", &c.Contract.RPCURL},
		{"REFRESH_CRON", &c.Schedule.RefreshCron},
		{"SQLITE_PATH", &c.Database.SQLitePath},
		{"HTTP_ADDR", &c.HTTP.Addr},
		{"LOG_LEVEL", &c.Log.Level},
		{"HTTPS_PROXY", &c.Proxy},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Stellar.Network == "" {
		c.Stellar.Network = "testnet"
	}
	if c.Stellar.HorizonURL == "" {
		if c.Stellar.Network == "public" {
			c.Stellar.HorizonURL = "https://horizon.stellar.org"
		} else {
			c.Stellar.HorizonURL = "https://horizon-testnet.stellar.org"
		}
	}
	if c.Prices.ReflectorURL == "" {
		if c.Stellar.Network == "public" {
			c.Prices.ReflectorURL = "https://reflector.stellar.org"
		} else {
			c.Prices.ReflectorURL = "https://reflector-testnet.stellar.org"
		}
	}
	if c.Prices.CoinGeckoURL == "" {
		c.Prices.CoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price"
	}
	if c.Prices.CoinGeckoPerMin == 0 {
		c.Prices.CoinGeckoPerMin = 10
	}
	if len(c.Prices.Watchlist) == 0 {
		c.Prices.Watchlist = []string{"XLM", "USDC", "AQUA", "yXLM"}
	}
	if c.Prices.AttemptTimeout <= 0 {
		c.Prices.AttemptTimeout = 8 * time.Second
	}
	if c.Prices.FetchTimeout <= 0 {
		c.Prices.FetchTimeout = 15 * time.Second
	}
	if c.Portfolio.DriftThreshold == 0 {
		c.Portfolio.DriftThreshold = 5
	}
	if len(c.Portfolio.Targets) == 0 {
		c.Portfolio.Targets = []Target{
			{Asset: "XLM", Percent: 40},
			{Asset: "USDC", Percent: 30},
			{Asset: "AQUA", Percent: 20},
			{Asset: "yXLM", Percent: 10},
		}
	}
	if c.Contract.RPCURL == "" {
		c.Contract.RPCURL = "https://soroban-testnet.stellar.org"
	}
	if c.Schedule.RefreshCron == "" {
		c.Schedule.RefreshCron = "@every 5m"
	}
	if c.Schedule.PruneCron == "" {
		c.Schedule.PruneCron = "0 30 3 * * *"
	}
	if c.Schedule.StaleAfter <= 0 {
		c.Schedule.StaleAfter = 10 * time.Minute
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/rebalance_sentinel.db"
	}
	if c.Database.RetentionDays == 0 {
		c.Database.RetentionDays = 90
	}
	if c.Session.StateFile == "" {
		c.Session.StateFile = "data/session.json"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if c.Stellar.Network != "testnet" && c.Stellar.Network != "public" {
		return fmt.Errorf("stellar.network must be testnet or public, got %q", c.Stellar.Network)
	}
	if c.Stellar.WalletAddress != "" {
		if err := session.ValidateAccount(c.Stellar.WalletAddress); err != nil {
			return fmt.Errorf("stellar.wallet_address: %w", err)
		}
	}
	if err := calculator.ValidateThreshold(c.DriftThreshold()); err != nil {
		return fmt.Errorf("portfolio.drift_threshold: %w", err)
	}
	if err := validateTargets(c.Portfolio.Targets); err != nil {
		return fmt.Errorf("portfolio.targets: %w", err)
	}
	for code, p := range c.Prices.Static {
		if p <= 0 {
			return fmt.Errorf("prices.static.%s must be positive", code)
		}
	}
	if c.Contract.ID != "" && c.Contract.GatewayURL == "" {
		return fmt.Errorf("contract.gateway_url is required when contract.id is set")
	}
	if c.Prices.CoinGeckoPerMin < 0 {
		return fmt.Errorf("prices.coingecko_requests_per_minute must not be negative")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Schedule.RefreshCron); err != nil {
		return fmt.Errorf("schedule.refresh_cron: %w", err)
	}
	if _, err := parser.Parse(c.Schedule.PruneCron); err != nil {
		return fmt.Errorf("schedule.prune_cron: %w", err)
	}
	return nil
}

func validateTargets(targets []Target) error {
	seen := make(map[string]struct{}, len(targets))
	total := 0.0
	for _, t := range targets {
		if strings.TrimSpace(t.Asset) == "" {
			return fmt.Errorf("asset code is required")
		}
		if _, dup := seen[t.Asset]; dup {
			return fmt.Errorf("duplicate asset %s", t.Asset)
		}
		seen[t.Asset] = struct{}{}
		if t.Percent <= 0 || t.Percent > 100 {
			return fmt.Errorf("%s: percent must be in (0, 100], got %g", t.Asset, t.Percent)
		}
		total += t.Percent
	}
	if math.Abs(total-100) > 0.01 {
		return fmt.Errorf("percents must sum to 100, got %g", total)
	}
	return nil
}

// DriftThreshold returns the configured threshold in percent points.
func (c *Config) DriftThreshold() decimal.Decimal {
	return decimal.NewFromFloat(c.Portfolio.DriftThreshold)
}

// TargetAllocations converts the configured targets.
func (c *Config) TargetAllocations() []model.TargetAllocation {
	out := make([]model.TargetAllocation, 0, len(c.Portfolio.Targets))
	for _, t := range c.Portfolio.Targets {
		out = append(out, model.TargetAllocation{AssetCode: t.Asset, TargetPercent: decimal.NewFromFloat(t.Percent)})
	}
	return out
}

// StaticPrices returns the configured fallback table, or nil to use the built-in one.
func (c *Config) StaticPrices() map[string]decimal.Decimal {
	if len(c.Prices.Static) == 0 {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(c.Prices.Static))
	for code, p := range c.Prices.Static {
		out[code] = decimal.NewFromFloat(p)
	}
	return out
}

// ContractEnabled reports whether contract reads and writes are configured.
func (c *Config) ContractEnabled() bool {
	return c.Contract.ID != "" && c.Contract.GatewayURL != ""
}

// TelegramEnabled reports whether alerts and commands are configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != ""
}

// Watchlist returns the sorted, de-duplicated watchlist.
func (c *Config) Watchlist() []string {
	seen := make(map[string]struct{}, len(c.Prices.Watchlist))
	var out []string
	for _, code := range c.Prices.Watchlist {
		if _, ok := seen[code]; ok || code == "" {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
