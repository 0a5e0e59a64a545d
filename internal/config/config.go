package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Checkout session cookie configuration
	Session SessionConfig

	// Redis configuration (optional; memory stores are used when empty)
	Redis RedisConfig

	// RabbitMQ configuration (optional)
	RabbitMQ RabbitMQConfig

	// SMTP configuration (optional)
	Mail MailConfig

	// SMS gateway configuration (optional)
	SMS SMSConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig

	// Hold and sweeper configuration
	Hold HoldConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Logging configuration
	Logging LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
	PublicURL   string // externally reachable base URL, used for provider callbacks
	FrontendURL string // where payment returns are redirected
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// SessionConfig holds the signed checkout-session cookie settings
type SessionConfig struct {
	Secret     string
	CookieName string
	MaxAge     time.Duration
	Secure     bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// RabbitMQConfig holds the broker used for booking notifications
type RabbitMQConfig struct {
	URL   string
	Queue string
}

// MailConfig holds SMTP settings for confirmation emails
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether SMTP was configured
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.From != ""
}

// SMSConfig holds the SMS gateway used for confirmation texts
type SMSConfig struct {
	APIURL   string
	Username string
	Password string // SECRET - never expose to client
	Sender   string
}

// Enabled reports whether an SMS gateway was configured
func (s SMSConfig) Enabled() bool {
	return s.APIURL != "" && s.Username != ""
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled  bool
	Holds    string // ulule rate format, e.g. "30-M"
	Checkout string
	Webhooks string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// HoldConfig controls hold lifetime and background sweeping
type HoldConfig struct {
	TTL           time.Duration
	SweepSchedule string // cron spec; empty disables the background sweeper
}

// PaymentConfig holds payment provider configuration
type PaymentConfig struct {
	DefaultProvider       string
	StatusTimeout         time.Duration
	PendingReconcileAfter time.Duration
	PendingSchedule       string // cron spec for stale PENDING reconciliation; empty disables it
	WebhookDedupTTL       time.Duration
	Rapyd                 RapydConfig
	Netgiro               NetgiroConfig
}

// RapydConfig holds Rapyd credentials
type RapydConfig struct {
	BaseURL   string
	AccessKey string
	SecretKey string // SECRET - never expose to client
	Country   string
}

// NetgiroConfig holds Netgiro credentials
type NetgiroConfig struct {
	BaseURL       string
	ApplicationID string
	SecretKey     string // SECRET - never expose to client
}

// LoggingConfig holds optional rotating file output
type LoggingConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			PublicURL:   strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),
			FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", ""), "/"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Session: SessionConfig{
			Secret:     getEnv("SESSION_SECRET", ""),
			CookieName: getEnv("SESSION_COOKIE_NAME", "pk_session"),
			MaxAge:     getEnvAsDuration("SESSION_MAX_AGE", 24*time.Hour),
			Secure:     getEnvAsBool("SESSION_COOKIE_SECURE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   getEnv("RABBITMQ_URL", ""),
			Queue: getEnv("RABBITMQ_BOOKING_QUEUE", "booking.confirmed"),
		},
		Mail: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
		},
		SMS: SMSConfig{
			APIURL:   strings.TrimRight(getEnv("SMS_API_URL", ""), "/"),
			Username: getEnv("SMS_USERNAME", ""),
			Password: getEnv("SMS_PASSWORD", ""),
			Sender:   getEnv("SMS_SENDER", "ParkFlow"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Holds:    getEnv("RATE_LIMIT_HOLDS", "60-M"),
			Checkout: getEnv("RATE_LIMIT_CHECKOUT", "20-M"),
			Webhooks: getEnv("RATE_LIMIT_WEBHOOKS", "600-M"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Hold: HoldConfig{
			TTL:           getEnvAsDuration("HOLD_TTL", 10*time.Minute),
			SweepSchedule: getEnv("HOLD_SWEEP_SCHEDULE", ""),
		},
		Payment: PaymentConfig{
			DefaultProvider:       strings.ToLower(getEnv("PAYMENT_DEFAULT_PROVIDER", "rapyd")),
			StatusTimeout:         getEnvAsDuration("PAYMENT_STATUS_TIMEOUT", 10*time.Second),
			PendingReconcileAfter: getEnvAsDuration("PAYMENT_PENDING_RECONCILE_AFTER", 15*time.Minute),
			PendingSchedule:       getEnv("PAYMENT_PENDING_SCHEDULE", ""),
			WebhookDedupTTL:       getEnvAsDuration("WEBHOOK_DEDUP_TTL", 24*time.Hour),
			Rapyd: RapydConfig{
				BaseURL:   strings.TrimRight(getEnv("RAPYD_BASE_URL", "https://sandboxapi.rapyd.net"), "/"),
				AccessKey: getEnv("RAPYD_ACCESS_KEY", ""),
				SecretKey: getEnv("RAPYD_SECRET_KEY", ""),
				Country:   getEnv("RAPYD_COUNTRY", "IS"),
			},
			Netgiro: NetgiroConfig{
				BaseURL:       strings.TrimRight(getEnv("NETGIRO_BASE_URL", "https://test.netgiro.is"), "/"),
				ApplicationID: getEnv("NETGIRO_APPLICATION_ID", ""),
				SecretKey:     getEnv("NETGIRO_SECRET_KEY", ""),
			},
		},
		Logging: LoggingConfig{
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}

	if c.Hold.TTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive, got %s", c.Hold.TTL)
	}

	switch c.Payment.DefaultProvider {
	case "rapyd", "netgiro":
	default:
		return fmt.Errorf("invalid PAYMENT_DEFAULT_PROVIDER: %s (must be 'rapyd' or 'netgiro')", c.Payment.DefaultProvider)
	}

	// Provider secrets are only mandatory in production; development runs against sandboxes
	if c.Server.Environment == "production" {
		if c.Payment.Rapyd.AccessKey == "" || c.Payment.Rapyd.SecretKey == "" {
			return fmt.Errorf("RAPYD_ACCESS_KEY and RAPYD_SECRET_KEY are required in production")
		}
		if c.Payment.Netgiro.ApplicationID == "" || c.Payment.Netgiro.SecretKey == "" {
			return fmt.Errorf("NETGIRO_APPLICATION_ID and NETGIRO_SECRET_KEY are required in production")
		}
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s", "10m") or bare seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
