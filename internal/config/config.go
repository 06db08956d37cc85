// Package config loads platform configuration from a YAML file with
// environment overrides. Missing required settings are fatal at startup;
// nothing else in the system treats configuration as recoverable.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the platform binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	Tracking TrackingConfig `yaml:"tracking"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the API listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the queue store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig holds retry and retention policy for the delivery queue.
type QueueConfig struct {
	MaxTries    int `yaml:"max_tries"`
	RetryAfter  int `yaml:"retry_after"`  // seconds, base of the exponential backoff
	WorkerSleep int `yaml:"worker_sleep"` // seconds to idle when the queue is empty
	MaxRunTime  int `yaml:"max_run_time"` // seconds per worker invocation
	DaysToKeep  int `yaml:"days_to_keep"`
}

// SMTPConfig holds SMTP submission settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SESConfig holds AWS SES credentials for the SES sender.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// TrackingConfig holds the tracking URL surface.
type TrackingConfig struct {
	Domain string `yaml:"domain"`  // hostname tracking URLs are built on
	AppURL string `yaml:"app_url"` // base URL serving unsubscribe pages
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Sender selection: SES is used when credentials are configured, SMTP
// otherwise.
const (
	SenderSMTP = "smtp"
	SenderSES  = "ses"
)

// SenderMode returns which sender adapter the worker should use.
func (c *Config) SenderMode() string {
	if c.SES.AccessKey != "" && c.SES.SecretKey != "" {
		return SenderSES
	}
	return SenderSMTP
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads the YAML file when present, then applies environment
// overrides. A .env file in the working directory is honored.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	applyString(&cfg.Server.Host, "SERVER_HOST")
	applyInt(&cfg.Server.Port, "SERVER_PORT")
	applyString(&cfg.Database.URL, "DATABASE_URL")
	applyString(&cfg.Redis.Addr, "REDIS_ADDR")
	applyString(&cfg.Redis.Password, "REDIS_PASSWORD")
	applyInt(&cfg.Redis.DB, "REDIS_DB")
	applyInt(&cfg.Queue.MaxTries, "QUEUE_MAX_TRIES")
	applyInt(&cfg.Queue.RetryAfter, "QUEUE_RETRY_AFTER")
	applyInt(&cfg.Queue.WorkerSleep, "QUEUE_WORKER_SLEEP")
	applyInt(&cfg.Queue.MaxRunTime, "QUEUE_MAX_RUN_TIME")
	applyInt(&cfg.Queue.DaysToKeep, "QUEUE_DAYS_TO_KEEP")
	applyString(&cfg.SMTP.Host, "SMTP_HOST")
	applyInt(&cfg.SMTP.Port, "SMTP_PORT")
	applyString(&cfg.SMTP.Username, "SMTP_USERNAME")
	applyString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	applyString(&cfg.SES.AccessKey, "AWS_SES_ACCESS_KEY")
	applyString(&cfg.SES.SecretKey, "AWS_SES_SECRET_KEY")
	applyString(&cfg.SES.Region, "AWS_SES_REGION")
	applyString(&cfg.Tracking.Domain, "TRACKING_DOMAIN")
	applyString(&cfg.Tracking.AppURL, "APP_URL")
	applyString(&cfg.Log.Level, "LOG_LEVEL")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the core refuses to run without.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Tracking.Domain == "" {
		return fmt.Errorf("config: tracking.domain is required")
	}
	if c.Tracking.AppURL == "" {
		return fmt.Errorf("config: tracking.app_url is required")
	}
	if c.Queue.MaxTries < 1 {
		return fmt.Errorf("config: queue.max_tries must be >= 1, got %d", c.Queue.MaxTries)
	}
	if c.Queue.RetryAfter < 1 {
		return fmt.Errorf("config: queue.retry_after must be >= 1, got %d", c.Queue.RetryAfter)
	}
	if c.Queue.DaysToKeep < 0 {
		return fmt.Errorf("config: queue.days_to_keep must be >= 0, got %d", c.Queue.DaysToKeep)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Queue: QueueConfig{
			MaxTries:    3,
			RetryAfter:  60,
			WorkerSleep: 5,
			MaxRunTime:  55,
			DaysToKeep:  30,
		},
		SMTP: SMTPConfig{Port: 587},
		SES:  SESConfig{Region: "us-east-1"},
		Log:  LogConfig{Level: "info"},
	}
}

func applyString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func applyInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}
