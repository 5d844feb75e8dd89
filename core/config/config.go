package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// SignalConfig holds settings for the Signal transport bridge.
type SignalConfig struct {
	// SocketPath is the signald-style JSON socket the bridge listens on.
	SocketPath string `yaml:"socket_path" envconfig:"SIGNAL_SOCKET_PATH"`
	// Account is the bot's own phone number in E.164.
	Account string `yaml:"account" envconfig:"SIGNAL_ACCOUNT"`
	// Region is the default region for parsing bare national numbers.
	Region string `yaml:"region" envconfig:"SIGNAL_REGION"`
	// AdminNumber may run hidden administrative commands.
	AdminNumber string `yaml:"admin_number" envconfig:"SIGNAL_ADMIN_NUMBER"`
	// ReconnectSeconds is the pause before re-dialing a dropped socket; 0 -> default.
	ReconnectSeconds int `yaml:"reconnect_seconds" envconfig:"SIGNAL_RECONNECT_SECONDS"`
}

// LedgerConfig holds settings for the payment ledger backend.
type LedgerConfig struct {
	URL string `yaml:"url" envconfig:"LEDGER_URL"`
	// PollIntervalMS is the pause between settlement status checks.
	PollIntervalMS int `yaml:"poll_interval_ms" envconfig:"LEDGER_POLL_INTERVAL_MS"`
	// PollTimeoutSeconds bounds how long a submitted payment is polled before
	// it is marked failed as unreachable.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds" envconfig:"LEDGER_POLL_TIMEOUT_SECONDS"`
	// RequestTimeoutSeconds bounds a single HTTP call to the backend.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" envconfig:"LEDGER_REQUEST_TIMEOUT_SECONDS"`
}

// PaymentsConfig tunes the payment coordinator.
type PaymentsConfig struct {
	// ConfirmTTLSeconds is the window a request may await confirmation
	// before it expires.
	ConfirmTTLSeconds int `yaml:"confirm_ttl_seconds" envconfig:"PAYMENTS_CONFIRM_TTL_SECONDS"`
	// SweepIntervalSeconds is the pause between expiry sweeps.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" envconfig:"PAYMENTS_SWEEP_INTERVAL_SECONDS"`
	// CASRetries bounds internal retries on session write conflicts.
	CASRetries int `yaml:"cas_retries" envconfig:"PAYMENTS_CAS_RETRIES"`
}

// CacheConfig holds Redis connection settings.
type CacheConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	// Namespace prefixes every key so several bots can share one instance.
	Namespace string `yaml:"namespace" envconfig:"REDIS_NAMESPACE"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Stacks      string `yaml:"stacks"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	ErrorsFile  string `yaml:"errors_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// DatabaseConfig holds Postgres connection settings. It mirrors the
// database package's own Config so this package stays import-free of it.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// RateLimitConfig holds settings for per-identity inbound rate limiting.
type RateLimitConfig struct {
	IntervalMS int `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
}

// Config aggregates the configuration for the whole bot.
type Config struct {
	Signal    SignalConfig    `yaml:"signal"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Signal.SocketPath) == "" {
		return fmt.Errorf("signal.socket_path is required")
	}
	if strings.TrimSpace(cfg.Signal.Account) == "" {
		return fmt.Errorf("signal.account is required")
	}
	if cfg.Signal.Region == "" {
		cfg.Signal.Region = "US"
	}
	if cfg.Signal.ReconnectSeconds <= 0 {
		cfg.Signal.ReconnectSeconds = 5
	}

	if strings.TrimSpace(cfg.Ledger.URL) == "" {
		return fmt.Errorf("ledger.url is required")
	}
	if cfg.Ledger.PollIntervalMS <= 0 {
		cfg.Ledger.PollIntervalMS = 2000
	}
	if cfg.Ledger.PollTimeoutSeconds <= 0 {
		cfg.Ledger.PollTimeoutSeconds = 600
	}
	if cfg.Ledger.RequestTimeoutSeconds <= 0 {
		cfg.Ledger.RequestTimeoutSeconds = 15
	}

	if cfg.Payments.ConfirmTTLSeconds <= 0 {
		cfg.Payments.ConfirmTTLSeconds = 300
	}
	if cfg.Payments.SweepIntervalSeconds <= 0 {
		cfg.Payments.SweepIntervalSeconds = 30
	}
	if cfg.Payments.CASRetries <= 0 {
		cfg.Payments.CASRetries = 3
	}

	// An empty cache.addr disables Redis entirely: no confirm locks, no
	// display-name lookup.
	cfg.Cache.Addr = strings.TrimSpace(cfg.Cache.Addr)
	if cfg.Cache.Namespace == "" {
		cfg.Cache.Namespace = "paybot"
	}

	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}
	return nil
}

// Reconnect returns the socket re-dial pause as a duration.
func (s SignalConfig) Reconnect() time.Duration {
	return time.Duration(s.ReconnectSeconds) * time.Second
}

// RateInterval returns the per-identity inbound rate limit as a duration.
func (r RateLimitConfig) RateInterval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

// ConfirmTTL returns the confirmation window as a duration.
func (p PaymentsConfig) ConfirmTTL() time.Duration {
	return time.Duration(p.ConfirmTTLSeconds) * time.Second
}

// SweepInterval returns the expiry sweep cadence as a duration.
func (p PaymentsConfig) SweepInterval() time.Duration {
	return time.Duration(p.SweepIntervalSeconds) * time.Second
}

// PollInterval returns the settlement poll cadence as a duration.
func (l LedgerConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalMS) * time.Millisecond
}

// PollTimeout returns the settlement polling deadline as a duration.
func (l LedgerConfig) PollTimeout() time.Duration {
	return time.Duration(l.PollTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-call backend deadline as a duration.
func (l LedgerConfig) RequestTimeout() time.Duration {
	return time.Duration(l.RequestTimeoutSeconds) * time.Second
}
