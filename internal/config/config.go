package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	UPS      UPSConfig
	Log      LogConfig
	EventLog EventLogConfig
	Redis    RedisConfig
	Audit    AuditConfig
	Database DatabaseConfig
	Monitor  MonitorConfig
	Tracing  TracingConfig
}

// UPSConfig holds UPS-RS client settings
type UPSConfig struct {
	BaseURL      string
	AETitle      string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	VerifyTLS    bool
	CABundle     string
	ClientCert   string
	ClientKey    string
	BearerToken  string
	AsyncWorkers int
}

type LogConfig struct {
	Level  string
	Format string
}

// EventLogConfig selects where received notifications are kept
type EventLogConfig struct {
	Type     string // memory or redis
	Capacity int
	TTL      time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AuditConfig struct {
	Enabled bool
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

type MonitorConfig struct {
	Addr           string
	AllowedOrigins []string
}

type TracingConfig struct {
	Exporter    string
	Endpoint    string
	Insecure    bool
	Headers     string
	SampleRatio float64
	Environment string
}

// Load reads configuration from the environment, after an optional .env file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads configuration from the process environment only
func FromEnv() (*Config, error) {
	var errs []error
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolVar := func(key string, fallback bool) bool {
		v, err := getEnvBool(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		UPS: UPSConfig{
			BaseURL:      getEnv("UPS_BASE_URL", ""),
			AETitle:      getEnv("UPS_AE_TITLE", ""),
			Timeout:      time.Duration(intVar("UPS_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxRetries:   intVar("UPS_MAX_RETRIES", 3),
			RetryDelay:   time.Duration(intVar("UPS_RETRY_DELAY_MS", 1000)) * time.Millisecond,
			VerifyTLS:    boolVar("UPS_VERIFY_TLS", true),
			CABundle:     getEnv("UPS_CA_BUNDLE", ""),
			ClientCert:   getEnv("UPS_CLIENT_CERT", ""),
			ClientKey:    getEnv("UPS_CLIENT_KEY", ""),
			BearerToken:  getEnv("UPS_BEARER_TOKEN", ""),
			AsyncWorkers: intVar("UPS_ASYNC_WORKERS", 5),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		EventLog: EventLogConfig{
			Type:     getEnv("EVENTLOG_TYPE", "memory"),
			Capacity: intVar("EVENTLOG_CAPACITY", 1000),
			TTL:      time.Duration(intVar("EVENTLOG_TTL_MINUTES", 1440)) * time.Minute,
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     intVar("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       intVar("REDIS_DB", 0),
		},
		Audit: AuditConfig{
			Enabled: boolVar("AUDIT_ENABLED", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     intVar("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ups_client"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "silent"),
		},
		Monitor: MonitorConfig{
			Addr:           getEnv("MONITOR_ADDR", ""),
			AllowedOrigins: splitList(getEnv("MONITOR_ALLOWED_ORIGINS", "*")),
		},
		Tracing: TracingConfig{
			Exporter:    getEnv("OTEL_EXPORTER", "none"),
			Endpoint:    getEnv("OTEL_ENDPOINT", ""),
			Insecure:    boolVar("OTEL_INSECURE", true),
			Headers:     getEnv("OTEL_HEADERS", ""),
			Environment: getEnv("OTEL_ENVIRONMENT", ""),
		},
	}

	ratio, err := strconv.ParseFloat(getEnv("OTEL_SAMPLER_RATIO", "1"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid OTEL_SAMPLER_RATIO: %w", err))
	}
	cfg.Tracing.SampleRatio = ratio

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks the settings needed to talk to a UPS-RS server
func (c *Config) Validate() error {
	if c.UPS.BaseURL == "" {
		return errors.New("UPS_BASE_URL is required")
	}
	u, err := url.Parse(c.UPS.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("UPS_BASE_URL must be an http or https URL, got %q", c.UPS.BaseURL)
	}
	if c.UPS.Timeout <= 0 {
		return errors.New("UPS_TIMEOUT_SECONDS must be positive")
	}
	if c.UPS.MaxRetries < 0 {
		return errors.New("UPS_MAX_RETRIES must not be negative")
	}
	if c.UPS.RetryDelay < 0 {
		return errors.New("UPS_RETRY_DELAY_MS must not be negative")
	}
	if (c.UPS.ClientCert == "") != (c.UPS.ClientKey == "") {
		return errors.New("UPS_CLIENT_CERT and UPS_CLIENT_KEY must be set together")
	}
	switch c.EventLog.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("EVENTLOG_TYPE must be memory or redis, got %q", c.EventLog.Type)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
