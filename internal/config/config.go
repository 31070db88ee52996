package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the server, worker, and CLI.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Delivery  Delivery        `yaml:"delivery"`
	Transport TransportConfig `yaml:"transport"`
	SES       SESConfig       `yaml:"ses"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AdminToken     string   `yaml:"admin_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the Postgres connection and pool settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig is optional. When Addr is empty the dispatcher falls back to
// a Postgres advisory lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TransportConfig selects and throttles the outbound email transport.
type TransportConfig struct {
	Provider      string  `yaml:"provider"` // smtp, ses, log
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	TimeoutSecs   int     `yaml:"timeout_seconds"`
}

// Timeout returns the per-message transport timeout.
func (c TransportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SESConfig holds AWS SES v2 credentials.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// TrackingConfig holds tracking link signing and optional SQS fan-out.
type TrackingConfig struct {
	SigningKey  string `yaml:"signing_key"`
	SQSQueueURL string `yaml:"sqs_queue_url"`
	SQSRegion   string `yaml:"sqs_region"`
}

// WorkerConfig holds the background loop intervals.
type WorkerConfig struct {
	PollIntervalSeconds     int `yaml:"poll_interval_seconds"`
	RecoveryIntervalSeconds int `yaml:"recovery_interval_seconds"`
	StaleAfterMinutes       int `yaml:"stale_after_minutes"`
	DueBatchLimit           int `yaml:"due_batch_limit"`
}

// PollInterval returns how often the dispatcher scans for due work.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RecoveryInterval returns how often stuck rows are swept.
func (c WorkerConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

// StaleAfter returns the age after which a sending row counts as stuck.
func (c WorkerConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Transport.Provider == "" {
		cfg.Transport.Provider = "smtp"
	}
	if cfg.Transport.RatePerSecond == 0 {
		cfg.Transport.RatePerSecond = 5
	}
	if cfg.Transport.Burst == 0 {
		cfg.Transport.Burst = 1
	}
	if cfg.Transport.TimeoutSecs == 0 {
		cfg.Transport.TimeoutSecs = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Tracking.SQSRegion == "" {
		cfg.Tracking.SQSRegion = cfg.SES.Region
	}
	if cfg.Worker.PollIntervalSeconds == 0 {
		cfg.Worker.PollIntervalSeconds = 30
	}
	if cfg.Worker.RecoveryIntervalSeconds == 0 {
		cfg.Worker.RecoveryIntervalSeconds = 120
	}
	if cfg.Worker.StaleAfterMinutes == 0 {
		cfg.Worker.StaleAfterMinutes = 15
	}
	if cfg.Worker.DueBatchLimit == 0 {
		cfg.Worker.DueBatchLimit = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Delivery = cfg.Delivery.withDefaults()
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first if present. A missing config file is not an
// error; defaults and the environment are used instead.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		cfg.setDefaults()
	} else if err != nil {
		return nil, err
	}

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Server.AdminToken, "ADMIN_TOKEN")
	setInt(&cfg.Server.Port, "PORT")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}

	setString(&cfg.Delivery.SMTP.Host, "SMTP_HOST")
	setInt(&cfg.Delivery.SMTP.Port, "SMTP_PORT")
	setString(&cfg.Delivery.SMTP.User, "SMTP_USER")
	setString(&cfg.Delivery.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.Delivery.FromEmail, "SMTP_FROM")
	setString(&cfg.Delivery.FromName, "SMTP_FROM_NAME")
	setString(&cfg.Delivery.BaseURL, "BASE_URL")
	setInt(&cfg.Delivery.HourlyCap, "EMAIL_HOURLY_CAP")
	setInt(&cfg.Delivery.BatchSize, "EMAIL_BATCH_SIZE")
	setInt(&cfg.Delivery.BatchIntervalMinutes, "EMAIL_BATCH_INTERVAL_MINUTES")
	setInt(&cfg.Delivery.MaxRetries, "EMAIL_MAX_RETRIES")

	setString(&cfg.Transport.Provider, "EMAIL_TRANSPORT")
	setString(&cfg.SES.Region, "AWS_SES_REGION")
	setString(&cfg.SES.AccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.SES.SecretKey, "AWS_SES_SECRET_KEY")
	setString(&cfg.Tracking.SigningKey, "TRACKING_SIGNING_KEY")
	setString(&cfg.Tracking.SQSQueueURL, "TRACKING_SQS_QUEUE_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
