package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	// Admin
	AdminEmails  string
	AdminUserIDs string

	// Server
	Port        string
	CORSOrigins string
	AppEnv      string
	SentryDSN   string

	// Logging
	LogLevel         string
	LogRetentionDays int

	// Payments
	PaymentTimeout    time.Duration
	PaymentMaxPending int
	PaymentRefPrefix  string

	// Shared secret the payment gateway sends in Authorization; empty disables the callback.
	PaymentWebhookSecret string

	// Periodic sweep
	SweepInterval time.Duration
	RedisURL      string

	// WhatsApp relay
	WhatsAppAPIURL   string
	WhatsAppAPIToken string
	WhatsAppGroupID  string
	NotifyQueueSize  int
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "licensing_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  parseDuration(getEnv("JWT_ACCESS_EXPIRY", "15m"), 15*time.Minute),
		JWTRefreshExpiry: parseDuration(getEnv("JWT_REFRESH_EXPIRY", "168h"), 168*time.Hour),

		AdminEmails:  getEnv("ADMIN_EMAILS", ""),
		AdminUserIDs: getEnv("ADMIN_USER_IDS", ""),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		AppEnv:      getEnv("APP_ENV", "development"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogRetentionDays: parseInt(getEnv("LOG_RETENTION_DAYS", "30"), 30),

		PaymentTimeout:    parseDuration(getEnv("PAYMENT_TIMEOUT", "24h"), 24*time.Hour),
		PaymentMaxPending: parseInt(getEnv("PAYMENT_MAX_PENDING", "3"), 3),
		PaymentRefPrefix:  getEnv("PAYMENT_REF_PREFIX", "PAY"),

		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),

		SweepInterval: parseDuration(getEnv("SWEEP_INTERVAL", "10m"), 10*time.Minute),
		RedisURL:      getEnv("REDIS_URL", ""),

		WhatsAppAPIURL:   getEnv("WHATSAPP_API_URL", ""),
		WhatsAppAPIToken: getEnv("WHATSAPP_API_TOKEN", ""),
		WhatsAppGroupID:  getEnv("WHATSAPP_GROUP_ID", ""),
		NotifyQueueSize:  parseInt(getEnv("NOTIFY_QUEUE_SIZE", "100"), 100),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
