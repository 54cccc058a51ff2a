// Package config loads worker settings from defaults, an optional TOML file,
// a .env file and the process environment, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
)

type Config struct {
	Worker   WorkerConfig   `toml:"worker"`
	Limits   LimitsConfig   `toml:"limits"`
	Retry    RetryConfig    `toml:"retry"`
	Sender   SenderConfig   `toml:"sender"`
	Resend   ResendConfig   `toml:"resend"`
	Database DatabaseConfig `toml:"database"`
	AMQP     AMQPConfig     `toml:"amqp"`
	Redis    RedisConfig    `toml:"redis"`
	HTTP     HTTPConfig     `toml:"http"`
	Logging  LoggingConfig  `toml:"logging"`
}

type WorkerConfig struct {
	Instance             string `toml:"instance"`
	Concurrency          int    `toml:"concurrency"`
	BatchSize            int    `toml:"batch_size"`
	DryRun               bool   `toml:"dry_run"`
	PollIntervalIdleMs   int    `toml:"poll_interval_idle_ms"`
	PollIntervalActiveMs int    `toml:"poll_interval_active_ms"`
	HeartbeatInterval    string `toml:"heartbeat_interval"`
	RateSyncInterval     string `toml:"rate_sync_interval"`
	Store                string `toml:"store"` // "postgres" or "memory"
}

type LimitsConfig struct {
	GlobalRequestsPerMinute int `toml:"global_requests_per_minute"`
	PerRecipientHourlyLimit int `toml:"per_recipient_hourly_limit"`
}

type RetryConfig struct {
	MaxAttempts int   `toml:"max_attempts"`
	Schedule    []int `toml:"schedule"` // seconds
}

type SenderConfig struct {
	FromAddress    string `toml:"from_address"`
	ReplyTo        string `toml:"reply_to"`
	UnsubscribeURL string `toml:"unsubscribe_url"`
}

type ResendConfig struct {
	APIKey        string `toml:"api_key"`
	WebhookSecret string `toml:"webhook_secret"`
	Timeout       string `toml:"timeout"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type AMQPConfig struct {
	URL   string `toml:"url"`
	Queue string `toml:"queue"`
}

type RedisConfig struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "text"
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Instance:             "worker-1",
			Concurrency:          3,
			BatchSize:            25,
			PollIntervalIdleMs:   30000,
			PollIntervalActiveMs: 2000,
			HeartbeatInterval:    "5m",
			RateSyncInterval:     "1m",
			Store:                "postgres",
		},
		Limits: LimitsConfig{
			GlobalRequestsPerMinute: 60,
			PerRecipientHourlyLimit: 20,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			Schedule:    []int{250, 500, 1000, 2000, 4000},
		},
		Resend:  ResendConfig{Timeout: "30s"},
		AMQP:    AMQPConfig{Queue: "outreach_enqueued"},
		Redis:   RedisConfig{KeyPrefix: "outreach:ratelimit:"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return appErrors.NewConfigurationError(key, "not an integer: "+v)
		}
		*dst = n
		return nil
	}

	str("WORKER_INSTANCE", &c.Worker.Instance)
	str("STORE", &c.Worker.Store)
	str("HEARTBEAT_INTERVAL", &c.Worker.HeartbeatInterval)
	str("RATE_SYNC_INTERVAL", &c.Worker.RateSyncInterval)
	str("FROM_ADDRESS", &c.Sender.FromAddress)
	str("REPLY_TO", &c.Sender.ReplyTo)
	str("UNSUBSCRIBE_URL", &c.Sender.UnsubscribeURL)
	str("RESEND_API_KEY", &c.Resend.APIKey)
	str("RESEND_WEBHOOK_SECRET", &c.Resend.WebhookSecret)
	str("RESEND_TIMEOUT", &c.Resend.Timeout)
	str("DATABASE_URL", &c.Database.URL)
	str("AMQP_URL", &c.AMQP.URL)
	str("AMQP_QUEUE", &c.AMQP.Queue)
	str("REDIS_URL", &c.Redis.URL)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	for key, dst := range map[string]*int{
		"CONCURRENCY":                &c.Worker.Concurrency,
		"BATCH_SIZE":                 &c.Worker.BatchSize,
		"POLL_INTERVAL_IDLE_MS":      &c.Worker.PollIntervalIdleMs,
		"POLL_INTERVAL_ACTIVE_MS":    &c.Worker.PollIntervalActiveMs,
		"GLOBAL_REQUESTS_PER_MINUTE": &c.Limits.GlobalRequestsPerMinute,
		"PER_RECIPIENT_HOURLY_LIMIT": &c.Limits.PerRecipientHourlyLimit,
		"MAX_ATTEMPTS":               &c.Retry.MaxAttempts,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("DRY_RUN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return appErrors.NewConfigurationError("DRY_RUN", "not a boolean: "+v)
		}
		c.Worker.DryRun = b
	}

	if v, ok := lookup("RETRY_SCHEDULE"); ok && v != "" {
		schedule, err := parseSchedule(v)
		if err != nil {
			return err
		}
		c.Retry.Schedule = schedule
	}
	return nil
}

func parseSchedule(v string) ([]int, error) {
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return nil, appErrors.NewConfigurationError("RETRY_SCHEDULE", "expected positive seconds, got "+p)
		}
		out = append(out, n)
	}
	return out, nil
}

// Validate rejects settings the worker cannot run with. A missing transport
// key is not rejected; see Degraded.
func (c *Config) Validate() error {
	switch {
	case c.Worker.Concurrency < 1:
		return appErrors.NewConfigurationError("concurrency", "must be at least 1")
	case c.Worker.BatchSize < 1:
		return appErrors.NewConfigurationError("batch_size", "must be at least 1")
	case c.Worker.PollIntervalIdleMs < 1 || c.Worker.PollIntervalActiveMs < 1:
		return appErrors.NewConfigurationError("poll_interval", "must be positive")
	case c.Limits.GlobalRequestsPerMinute < 0 || c.Limits.PerRecipientHourlyLimit < 0:
		return appErrors.NewConfigurationError("limits", "must not be negative")
	case c.Retry.MaxAttempts < 1:
		return appErrors.NewConfigurationError("max_attempts", "must be at least 1")
	case len(c.Retry.Schedule) == 0:
		return appErrors.NewConfigurationError("retry_schedule", "must not be empty")
	case c.Worker.Store != "postgres" && c.Worker.Store != "memory":
		return appErrors.NewConfigurationError("store", "must be postgres or memory")
	case c.Worker.Store == "postgres" && c.Database.URL == "":
		return appErrors.NewConfigurationError("database.url", "required for the postgres store")
	}
	for _, field := range []struct{ name, value string }{
		{"heartbeat_interval", c.Worker.HeartbeatInterval},
		{"rate_sync_interval", c.Worker.RateSyncInterval},
		{"resend.timeout", c.Resend.Timeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return appErrors.NewConfigurationError(field.name, err.Error())
		}
	}
	return nil
}

// Degraded lists problems that keep the worker from sending while still letting it run checks.
func (c *Config) Degraded() []error {
	var problems []error
	if c.Worker.DryRun {
		return nil
	}
	if c.Resend.APIKey == "" {
		problems = append(problems, appErrors.NewConfigurationError("resend.api_key", "not set"))
	}
	if c.Sender.FromAddress == "" {
		problems = append(problems, appErrors.NewConfigurationError("sender.from_address", "not set"))
	}
	return problems
}

func (c *Config) HeartbeatInterval() time.Duration { return mustDuration(c.Worker.HeartbeatInterval) }
func (c *Config) RateSyncInterval() time.Duration  { return mustDuration(c.Worker.RateSyncInterval) }
func (c *Config) ResendTimeout() time.Duration     { return mustDuration(c.Resend.Timeout) }

func (c *Config) IdleInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalIdleMs) * time.Millisecond
}

func (c *Config) ActiveInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalActiveMs) * time.Millisecond
}

// mustDuration is only called on values Validate has accepted.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
