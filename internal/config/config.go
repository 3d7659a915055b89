// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	Mode     string  `yaml:"mode"` // polling | noop
	Username string  `yaml:"username"`
	Workers  int     `yaml:"workers"` // polling workers
	AdminIDs []int64 `yaml:"admin_ids"`
	Language string  `yaml:"language"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port        int    `yaml:"port"`
	ReturnPath  string `yaml:"return_path"`
	WebhookPath string `yaml:"webhook_path"`
}

type AdminConfig struct {
	APIKey    string        `yaml:"api_key"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" validate:"required"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// GatewayConfig describes one checkout provider. Paths are relative to BaseURL;
// StatusPath may carry a {ref} placeholder for the provider reference.
type GatewayConfig struct {
	Name            string        `yaml:"name"`
	BaseURL         string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey          string        `yaml:"api_key"`
	APIKeyHeader    string        `yaml:"api_key_header"`
	ShopID          string        `yaml:"shop_id"`
	CreatePath      string        `yaml:"create_path"`
	StatusPath      string        `yaml:"status_path"`
	StatusMethod    string        `yaml:"status_method" validate:"omitempty,oneof=GET POST"`
	WebhookSecret   string        `yaml:"webhook_secret"`
	SignatureHeader string        `yaml:"signature_header"`
	ReturnURL       string        `yaml:"return_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout"`
}

type PackageConfig struct {
	ID          string          `yaml:"id" validate:"required"`
	Name        string          `yaml:"name" validate:"required"`
	Coins       int64           `yaml:"coins" validate:"gte=0"`
	Days        int             `yaml:"days" validate:"gte=0"`
	Price       decimal.Decimal `yaml:"price"`
	Currency    string          `yaml:"currency" validate:"required,len=3"`
	Description string          `yaml:"description"`
}

type SchedulerConfig struct {
	PaymentPollInterval time.Duration `yaml:"payment_poll_interval"`
	PaymentExpiry       time.Duration `yaml:"payment_expiry"`
	PerPaymentTimeout   time.Duration `yaml:"per_payment_timeout"`
	MinPendingAge       time.Duration `yaml:"min_pending_age"`
	// StaleCreditAfter: a payment still crediting after this is reported as dangling.
	StaleCreditAfter time.Duration `yaml:"stale_credit_after"`
	BatchSize        int           `yaml:"batch_size"`
}

type SettingsConfig struct {
	RegistrationCoins int64 `yaml:"registration_coins" validate:"gte=0"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Backend   BackendConfig   `yaml:"backend"`
	Packages  []PackageConfig `yaml:"packages" validate:"dive"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Settings  SettingsConfig  `yaml:"settings"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. A .env file next to the process is
// loaded first so ${VAR} references in the YAML resolve to secrets kept out of it.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse expands environment references in raw, decodes it and applies defaults.
func Parse(raw []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = "polling"
	}
	if cfg.Bot.Language == "" {
		cfg.Bot.Language = "en"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.WebhookPath == "" {
		cfg.HTTP.WebhookPath = "/api/payment/webhook"
	}
	if cfg.HTTP.ReturnPath == "" {
		cfg.HTTP.ReturnPath = "/payment/return"
	}
	if cfg.Admin.TokenTTL <= 0 {
		cfg.Admin.TokenTTL = 30 * time.Minute
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Gateway.Name == "" {
		cfg.Gateway.Name = "tribute"
	}
	if cfg.Gateway.APIKeyHeader == "" {
		cfg.Gateway.APIKeyHeader = "Api-Key"
	}
	if cfg.Gateway.CreatePath == "" {
		cfg.Gateway.CreatePath = "/api/v1/payments"
	}
	if cfg.Gateway.StatusPath == "" {
		cfg.Gateway.StatusPath = "/api/v1/payments/{ref}"
	}
	if cfg.Gateway.StatusMethod == "" {
		cfg.Gateway.StatusMethod = "GET"
	}
	if cfg.Gateway.SignatureHeader == "" {
		cfg.Gateway.SignatureHeader = "X-Signature"
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 15 * time.Second
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}

	if cfg.Scheduler.PaymentPollInterval <= 0 {
		cfg.Scheduler.PaymentPollInterval = time.Minute
	}
	if cfg.Scheduler.PaymentExpiry <= 0 {
		cfg.Scheduler.PaymentExpiry = 24 * time.Hour
	}
	if cfg.Scheduler.PerPaymentTimeout <= 0 {
		cfg.Scheduler.PerPaymentTimeout = 20 * time.Second
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.StaleCreditAfter <= cfg.Backend.Timeout {
		cfg.Scheduler.StaleCreditAfter = 2 * cfg.Backend.Timeout
	}
	if cfg.Settings.RegistrationCoins == 0 {
		cfg.Settings.RegistrationCoins = 50
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = DefaultPackages()
	}

	// Minimal validation
	if cfg.Bot.Token == "" && cfg.Bot.Mode != "noop" {
		return nil, errors.New("bot.token is required")
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.Packages))
	for _, p := range cfg.Packages {
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("duplicate package id %q", p.ID)
		}
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("package %q: price must be positive", p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// DefaultPackages is the stock catalog used when the config lists none.
func DefaultPackages() []PackageConfig {
	return []PackageConfig{
		{ID: "1month", Name: "1 month", Coins: 100, Days: 30, Price: decimal.NewFromInt(2), Currency: "EUR"},
		{ID: "3months", Name: "3 months", Coins: 300, Days: 90, Price: decimal.NewFromInt(5), Currency: "EUR"},
		{ID: "6months", Name: "6 months", Coins: 600, Days: 180, Price: decimal.NewFromInt(10), Currency: "EUR"},
		{ID: "year", Name: "1 year", Coins: 1200, Days: 365, Price: decimal.NewFromInt(20), Currency: "EUR"},
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
