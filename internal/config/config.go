package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	WebhookTimeout  time.Duration `yaml:"webhook_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	// AuthSecret is the HS256 key for bearer tokens on /api/v1. Empty disables auth in dev.
	AuthSecret string `yaml:"auth_secret"`
}

type DatabaseConfig struct {
	// Driver is postgres (default) or memory. memory keeps everything in process
	// and is only accepted in dev mode.
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelegramConfig configures the operator alert channel.
type TelegramConfig struct {
	Token           string  `yaml:"token"`
	OperatorChatIDs []int64 `yaml:"operator_chat_ids"`
}

// Endpoints holds the sandbox and production base URLs of one provider.
type Endpoints struct {
	SandboxURL    string `yaml:"sandbox_url"`
	ProductionURL string `yaml:"production_url"`
}

type MobileMoneyAConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	MerchantKey  string `yaml:"merchant_key"`
	Endpoints    `yaml:",inline"`
}

type MobileMoneyBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	APIKey        string `yaml:"api_key"`
	SiteID        string `yaml:"site_id"`
	WebhookSecret string `yaml:"webhook_secret"`
	Endpoints     `yaml:",inline"`
}

type CardAggregatorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	TerminalID    string `yaml:"terminal_id"`
	WebhookSecret string `yaml:"webhook_secret"`
	Endpoints     `yaml:",inline"`
}

type PaymentConfig struct {
	Environment     string        `yaml:"environment"` // sandbox|production
	CallbackBaseURL string        `yaml:"callback_base_url"`
	ReturnURL       string        `yaml:"return_url"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBase       time.Duration `yaml:"retry_base"`
	AttemptTTL      time.Duration `yaml:"attempt_ttl"`

	MobileMoneyA   MobileMoneyAConfig   `yaml:"mobile_money_a"`
	MobileMoneyB   MobileMoneyBConfig   `yaml:"mobile_money_b"`
	CardAggregator CardAggregatorConfig `yaml:"card_aggregator"`
}

// Sandbox reports whether sandbox endpoints are selected.
func (p PaymentConfig) Sandbox() bool { return p.Environment != "production" }

// BaseURL picks the endpoint for the configured environment.
func (p PaymentConfig) BaseURL(e Endpoints) string {
	if p.Sandbox() {
		return e.SandboxURL
	}
	return e.ProductionURL
}

type PlanConfig struct {
	Code         string `yaml:"code"`
	Tier         string `yaml:"tier"`
	DurationDays int    `yaml:"duration_days"`
	Price        string `yaml:"price"`
	Currency     string `yaml:"currency"`
	Recurring    bool   `yaml:"recurring"`
}

type ReferralConfig struct {
	CommissionRate string `yaml:"commission_rate"`
}

type SchedulerConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileAfter    time.Duration `yaml:"reconcile_after"`
	BatchSize         int           `yaml:"batch_size"`
}

type RateLimitConfig struct {
	InitiatePerMinute int `yaml:"initiate_per_minute"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Payment   PaymentConfig   `yaml:"payment"`
	Plans     []PlanConfig    `yaml:"plans"`
	Referral  ReferralConfig  `yaml:"referral"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Workers   int             `yaml:"workers"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, expanding ${VAR} references from the
// environment (a .env file next to the working directory is loaded first).
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes raw YAML, applies defaults and validates.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.WebhookTimeout <= 0 {
		cfg.HTTP.WebhookTimeout = 5 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	p := &cfg.Payment
	p.Environment = strings.ToLower(strings.TrimSpace(p.Environment))
	if p.Environment == "" {
		p.Environment = "sandbox"
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = 10 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.RetryBase <= 0 {
		p.RetryBase = 2 * time.Second
	}
	if p.AttemptTTL <= 0 {
		p.AttemptTTL = 30 * time.Minute
	}

	if cfg.Referral.CommissionRate == "" {
		cfg.Referral.CommissionRate = "0.10"
	}
	if cfg.Scheduler.SweepInterval <= 0 {
		cfg.Scheduler.SweepInterval = time.Minute
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = 2 * time.Minute
	}
	if cfg.Scheduler.ReconcileAfter <= 0 {
		cfg.Scheduler.ReconcileAfter = 2 * time.Minute
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.RateLimit.InitiatePerMinute <= 0 {
		cfg.RateLimit.InitiatePerMinute = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
}

// Validate fails fast on missing infrastructure settings or on credentials
// missing for an enabled gateway.
func (cfg *Config) Validate() error {
	var errs []error
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required"))
		}
		if cfg.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required"))
		}
	case "memory":
		if !cfg.Runtime.Dev {
			errs = append(errs, errors.New("database.driver=memory is only allowed in dev mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or memory, got %q", cfg.Database.Driver))
	}
	if cfg.HTTP.AuthSecret == "" && !cfg.Runtime.Dev {
		errs = append(errs, errors.New("http.auth_secret is required outside dev mode"))
	}
	p := cfg.Payment
	if p.Environment != "sandbox" && p.Environment != "production" {
		errs = append(errs, fmt.Errorf("payment.environment must be sandbox or production, got %q", p.Environment))
	}
	if p.MobileMoneyA.Enabled || p.MobileMoneyB.Enabled || p.CardAggregator.Enabled {
		if p.CallbackBaseURL == "" {
			errs = append(errs, errors.New("payment.callback_base_url is required"))
		}
	}
	if a := p.MobileMoneyA; a.Enabled {
		errs = append(errs, required("payment.mobile_money_a",
			"client_id", a.ClientID, "client_secret", a.ClientSecret, "merchant_key", a.MerchantKey,
			"base url", p.BaseURL(a.Endpoints))...)
	}
	if b := p.MobileMoneyB; b.Enabled {
		errs = append(errs, required("payment.mobile_money_b",
			"api_key", b.APIKey, "site_id", b.SiteID, "webhook_secret", b.WebhookSecret,
			"base url", p.BaseURL(b.Endpoints))...)
	}
	if c := p.CardAggregator; c.Enabled {
		errs = append(errs, required("payment.card_aggregator",
			"username", c.Username, "password", c.Password, "terminal_id", c.TerminalID,
			"webhook_secret", c.WebhookSecret, "base url", p.BaseURL(c.Endpoints))...)
	}
	if !cfg.Runtime.Dev && !p.MobileMoneyA.Enabled && !p.MobileMoneyB.Enabled && !p.CardAggregator.Enabled {
		errs = append(errs, errors.New("no payment gateway enabled (use -dev for the noop gateway)"))
	}
	for i, pl := range cfg.Plans {
		if pl.Code == "" || pl.Price == "" || pl.Currency == "" || pl.DurationDays <= 0 {
			errs = append(errs, fmt.Errorf("plans[%d]: code, price, currency and duration_days are required", i))
		}
	}
	return errors.Join(errs...)
}

// required takes (name, value) pairs and reports each empty value.
func required(section string, kv ...string) []error {
	var errs []error
	for i := 0; i+1 < len(kv); i += 2 {
		if strings.TrimSpace(kv[i+1]) == "" {
			errs = append(errs, fmt.Errorf("%s.%s is required when enabled", section, kv[i]))
		}
	}
	return errs
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
