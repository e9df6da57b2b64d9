package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	// Admin API
	AdminSecret string

	// Telegram
	TelegramBotToken string
	BotUsername      string

	// Verification tuning
	CodeValidity      time.Duration
	ResendGap         time.Duration
	HourlyLimit       int
	MaxVerifyAttempts int

	// Rate limiting
	RateLimit RateLimitConfig
}

// RateLimitConfig holds per-group IP rate limits.
type RateLimitConfig struct {
	Enabled      bool
	APIRequests  int
	APIWindow    time.Duration
	AuthRequests int
	AuthWindow   time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "chatverify"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// JWT defaults
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "chatverify"),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 7*24*time.Hour),

		AdminSecret: getEnv("ADMIN_SECRET", ""),

		// Telegram
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		BotUsername:      getEnv("BOT_USERNAME", ""),

		// Verification defaults
		CodeValidity:      getEnvDuration("OTP_CODE_VALIDITY", 5*time.Minute),
		ResendGap:         getEnvDuration("OTP_RESEND_GAP", 60*time.Second),
		HourlyLimit:       getEnvInt("OTP_HOURLY_LIMIT", 100),
		MaxVerifyAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),

		RateLimit: RateLimitConfig{
			Enabled:      getEnvBool("RATE_LIMIT_ENABLED", true),
			APIRequests:  getEnvInt("RATE_LIMIT_API_REQUESTS", 60),
			APIWindow:    getEnvDuration("RATE_LIMIT_API_WINDOW", time.Minute),
			AuthRequests: getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindow:   getEnvDuration("RATE_LIMIT_AUTH_WINDOW", time.Minute),
		},
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.AdminSecret == "" {
		return nil, fmt.Errorf("ADMIN_SECRET is required")
	}
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	return cfg, nil
}

// BotLink returns the public URL of the linking bot, or empty when no
// username is configured.
func (c *Config) BotLink() string {
	if c.BotUsername == "" {
		return ""
	}
	return "https://t.me/" + c.BotUsername
}

// DatabaseURL builds the Postgres connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
