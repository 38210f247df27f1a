package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the credit plane.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Credits    CreditsConfig
	Stripe     StripeConfig
	Monitoring MonitoringConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// CreditsConfig holds credit engine configuration.
type CreditsConfig struct {
	// MaxUpdateRetries bounds the optimistic balance-write loop.
	MaxUpdateRetries int

	// ReservationBackend selects where reservations live: "postgres" or
	// "redis".
	ReservationBackend string

	// VerificationPollInterval is how often the consumer drains the
	// verification result queue when no results are pending.
	VerificationPollInterval time.Duration
}

// StripeConfig holds Stripe configuration for balance top-ups.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// MonitoringConfig holds observability configuration.
type MonitoringConfig struct {
	MetricsPath       string
	LogLevel          string
	SlackWebhookURL   string
	SlackChannel      string
	AdminAPIToken     string
	NotifyOnNegatives bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", "30s"),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", "30s"),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", "120s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "creditplane"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "creditplane"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Credits: CreditsConfig{
			MaxUpdateRetries:         getEnvAsInt("CREDITS_MAX_UPDATE_RETRIES", 5),
			ReservationBackend:       getEnv("CREDITS_RESERVATION_BACKEND", "postgres"),
			VerificationPollInterval: getEnvAsDuration("CREDITS_VERIFICATION_POLL_INTERVAL", "2s"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Monitoring: MonitoringConfig{
			MetricsPath:       getEnv("METRICS_PATH", "/metrics"),
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			SlackWebhookURL:   getEnv("SLACK_WEBHOOK_URL", ""),
			SlackChannel:      getEnv("SLACK_CHANNEL", ""),
			AdminAPIToken:     getEnv("ADMIN_API_TOKEN", ""),
			NotifyOnNegatives: getEnvAsBool("NOTIFY_ON_NEGATIVE_BALANCE", true),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Monitoring.AdminAPIToken == "" {
		return nil, fmt.Errorf("ADMIN_API_TOKEN is required")
	}

	switch cfg.Credits.ReservationBackend {
	case "postgres", "redis":
	default:
		return nil, fmt.Errorf("CREDITS_RESERVATION_BACKEND must be postgres or redis, got %q", cfg.Credits.ReservationBackend)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable with a fallback.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer.
func getEnvAsInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvAsBool retrieves an environment variable as a boolean.
func getEnvAsBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a duration.
func getEnvAsDuration(key, fallback string) time.Duration {
	value := getEnv(key, fallback)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}
