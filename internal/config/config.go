package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration.
// Values come from an optional YAML file (CONFIG_FILE) overlaid by
// environment variables. Every field has a sensible default; only
// DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	MigrationsDir string

	// Idempotency: how long a same-key request waits on an in-flight one
	// before answering 409.
	IdempotencyLockTimeout time.Duration

	// Email gateway. Kind is "http" or "ses".
	EmailGateway     string
	EmailBaseURL     string
	EmailSender      string
	EmailSenderName  string
	EmailAuthToken   string
	EmailTimeout     time.Duration
	SESRegion        string
	SESAccessKey     string
	SESSecretKey     string
	BreakerFailures  int
	BreakerOpenDelay time.Duration

	// Delivery worker
	WorkerConcurrency int
	PollInterval      time.Duration
	InFlightLease     time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	// RetrySchedule overrides the exponential curve when set:
	// index 0 = delay after the first failure, clamped at the last entry.
	RetrySchedule []time.Duration

	// Maximum gateway requests per second across all workers.
	RateLimit int

	StatsInterval time.Duration
}

// fileConfig mirrors Config for YAML decoding. Durations are strings
// accepted by time.ParseDuration.
type fileConfig struct {
	HTTP struct {
		Port            string `yaml:"port"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Database struct {
		URL           string `yaml:"url"`
		MaxConns      int32  `yaml:"max_conns"`
		MinConns      int32  `yaml:"min_conns"`
		MigrationsDir string `yaml:"migrations_dir"`
		LockTimeout   string `yaml:"idempotency_lock_timeout"`
	} `yaml:"database"`
	Email struct {
		Gateway          string `yaml:"gateway"`
		BaseURL          string `yaml:"base_url"`
		Sender           string `yaml:"sender"`
		SenderName       string `yaml:"sender_name"`
		AuthToken        string `yaml:"authorization_token"`
		Timeout          string `yaml:"timeout"`
		SESRegion        string `yaml:"ses_region"`
		SESAccessKey     string `yaml:"ses_access_key"`
		SESSecretKey     string `yaml:"ses_secret_key"`
		BreakerFailures  int    `yaml:"breaker_failures"`
		BreakerOpenDelay string `yaml:"breaker_open_delay"`
	} `yaml:"email"`
	Worker struct {
		Concurrency    int      `yaml:"concurrency"`
		PollInterval   string   `yaml:"poll_interval"`
		InFlightLease  string   `yaml:"in_flight_lease"`
		MaxRetries     *int     `yaml:"max_retries"`
		RetryBaseDelay string   `yaml:"retry_base_delay"`
		RetryMaxDelay  string   `yaml:"retry_max_delay"`
		RetrySchedule  []string `yaml:"retry_schedule"`
		RateLimit      int      `yaml:"rate_limit"`
		StatsInterval  string   `yaml:"stats_interval"`
	} `yaml:"worker"`
}

// minLeaseFactor is how many send timeouts the in-flight lease must cover.
const minLeaseFactor = 2

func defaults() *Config {
	return &Config{
		HTTPPort:        "8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,

		DBMaxConns:    25,
		DBMinConns:    5,
		MigrationsDir: "migrations",

		IdempotencyLockTimeout: 2 * time.Second,

		EmailGateway:     "http",
		EmailBaseURL:     "http://localhost:8025",
		EmailSender:      "newsletter@example.com",
		EmailTimeout:     10 * time.Second,
		SESRegion:        "us-east-1",
		BreakerFailures:  5,
		BreakerOpenDelay: 30 * time.Second,

		WorkerConcurrency: 4,
		PollInterval:      time.Second,
		InFlightLease:     2 * time.Minute,
		MaxRetries:        5,
		RetryBaseDelay:    5 * time.Second,
		RetryMaxDelay:     30 * time.Minute,

		RateLimit:     50,
		StatsInterval: 15 * time.Second,
	}
}

// Load builds the configuration: defaults, then CONFIG_FILE (if set),
// then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EmailGateway != "http" && cfg.EmailGateway != "ses" {
		return nil, fmt.Errorf("EMAIL_GATEWAY must be http or ses, got %q", cfg.EmailGateway)
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if cfg.EmailTimeout <= 0 {
		return nil, fmt.Errorf("EMAIL_TIMEOUT must be positive, got %s", cfg.EmailTimeout)
	}
	// A lease that can expire mid-send lets a second worker claim the task.
	if cfg.InFlightLease < minLeaseFactor*cfg.EmailTimeout {
		return nil, fmt.Errorf("IN_FLIGHT_LEASE (%s) must be at least %d times EMAIL_TIMEOUT (%s)",
			cfg.InFlightLease, minLeaseFactor, cfg.EmailTimeout)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.HTTPPort, f.HTTP.Port)
	setString(&c.DatabaseURL, f.Database.URL)
	setString(&c.MigrationsDir, f.Database.MigrationsDir)
	setString(&c.EmailGateway, f.Email.Gateway)
	setString(&c.EmailBaseURL, f.Email.BaseURL)
	setString(&c.EmailSender, f.Email.Sender)
	setString(&c.EmailSenderName, f.Email.SenderName)
	setString(&c.EmailAuthToken, f.Email.AuthToken)
	setString(&c.SESRegion, f.Email.SESRegion)
	setString(&c.SESAccessKey, f.Email.SESAccessKey)
	setString(&c.SESSecretKey, f.Email.SESSecretKey)

	if f.Database.MaxConns > 0 {
		c.DBMaxConns = f.Database.MaxConns
	}
	if f.Database.MinConns > 0 {
		c.DBMinConns = f.Database.MinConns
	}
	if f.Email.BreakerFailures > 0 {
		c.BreakerFailures = f.Email.BreakerFailures
	}
	if f.Worker.Concurrency > 0 {
		c.WorkerConcurrency = f.Worker.Concurrency
	}
	if f.Worker.MaxRetries != nil {
		c.MaxRetries = *f.Worker.MaxRetries
	}
	if f.Worker.RateLimit > 0 {
		c.RateLimit = f.Worker.RateLimit
	}

	durations := []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&c.ReadTimeout, f.HTTP.ReadTimeout, "http.read_timeout"},
		{&c.WriteTimeout, f.HTTP.WriteTimeout, "http.write_timeout"},
		{&c.ShutdownTimeout, f.HTTP.ShutdownTimeout, "http.shutdown_timeout"},
		{&c.IdempotencyLockTimeout, f.Database.LockTimeout, "database.idempotency_lock_timeout"},
		{&c.EmailTimeout, f.Email.Timeout, "email.timeout"},
		{&c.BreakerOpenDelay, f.Email.BreakerOpenDelay, "email.breaker_open_delay"},
		{&c.PollInterval, f.Worker.PollInterval, "worker.poll_interval"},
		{&c.InFlightLease, f.Worker.InFlightLease, "worker.in_flight_lease"},
		{&c.RetryBaseDelay, f.Worker.RetryBaseDelay, "worker.retry_base_delay"},
		{&c.RetryMaxDelay, f.Worker.RetryMaxDelay, "worker.retry_max_delay"},
		{&c.StatsInterval, f.Worker.StatsInterval, "worker.stats_interval"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if len(f.Worker.RetrySchedule) > 0 {
		schedule, err := parseSchedule(f.Worker.RetrySchedule)
		if err != nil {
			return fmt.Errorf("config file worker.retry_schedule: %w", err)
		}
		c.RetrySchedule = schedule
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.ReadTimeout = getDuration("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getDuration("WRITE_TIMEOUT", c.WriteTimeout)
	c.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.DBMaxConns = int32(getInt("DB_MAX_CONNS", int(c.DBMaxConns)))
	c.DBMinConns = int32(getInt("DB_MIN_CONNS", int(c.DBMinConns)))
	c.MigrationsDir = getEnv("MIGRATIONS_DIR", c.MigrationsDir)
	c.IdempotencyLockTimeout = getDuration("IDEMPOTENCY_LOCK_TIMEOUT", c.IdempotencyLockTimeout)

	c.EmailGateway = strings.ToLower(getEnv("EMAIL_GATEWAY", c.EmailGateway))
	c.EmailBaseURL = getEnv("EMAIL_BASE_URL", c.EmailBaseURL)
	c.EmailSender = getEnv("EMAIL_SENDER", c.EmailSender)
	c.EmailSenderName = getEnv("EMAIL_SENDER_NAME", c.EmailSenderName)
	c.EmailAuthToken = getEnv("EMAIL_AUTH_TOKEN", c.EmailAuthToken)
	c.EmailTimeout = getDuration("EMAIL_TIMEOUT", c.EmailTimeout)
	c.SESRegion = getEnv("SES_REGION", c.SESRegion)
	c.SESAccessKey = getEnv("SES_ACCESS_KEY", c.SESAccessKey)
	c.SESSecretKey = getEnv("SES_SECRET_KEY", c.SESSecretKey)
	c.BreakerFailures = getInt("BREAKER_FAILURES", c.BreakerFailures)
	c.BreakerOpenDelay = getDuration("BREAKER_OPEN_DELAY", c.BreakerOpenDelay)

	c.WorkerConcurrency = getInt("WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.PollInterval = getDuration("POLL_INTERVAL", c.PollInterval)
	c.InFlightLease = getDuration("IN_FLIGHT_LEASE", c.InFlightLease)
	c.MaxRetries = getInt("MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getDuration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryMaxDelay = getDuration("RETRY_MAX_DELAY", c.RetryMaxDelay)
	c.RateLimit = getInt("GATEWAY_RATE_LIMIT", c.RateLimit)
	c.StatsInterval = getDuration("STATS_INTERVAL", c.StatsInterval)

	if v := os.Getenv("RETRY_SCHEDULE"); v != "" {
		schedule, err := parseSchedule(strings.Split(v, ","))
		if err != nil {
			return fmt.Errorf("RETRY_SCHEDULE: %w", err)
		}
		c.RetrySchedule = schedule
	}
	return nil
}

func parseSchedule(parts []string) ([]time.Duration, error) {
	schedule := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		schedule = append(schedule, d)
	}
	return schedule, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
