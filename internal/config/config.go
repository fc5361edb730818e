package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Per-link advisory lock TTL. Must outlive validate->post->transition
	// but never an external call, which the lock is not held across.
	PaymentLockTTL time.Duration

	WebhookCallTimeout time.Duration
	VerifyCallBudget   time.Duration

	SweepInterval  time.Duration
	SweepBatchSize int

	CardRailBaseURL   string
	CardRailAPIKey    string
	LedgerRailBaseURL string
	AcctSyncBaseURL   string
	AcctSyncToken     string

	RatesPrimaryURL  string
	RatesFallbackURL string

	MetricsEnabled  bool
	OTLPEndpoint    string
	OTLPProtocol    string
	BreakerCooldown time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "railpost"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "railpost"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		PaymentLockTTL: getenvDuration("PAYMENT_LOCK_TTL", 30*time.Second),

		WebhookCallTimeout: getenvDuration("WEBHOOK_CALL_TIMEOUT", 5*time.Second),
		VerifyCallBudget:   getenvDuration("VERIFY_CALL_BUDGET", 10*time.Second),

		SweepInterval:  getenvDuration("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize: getenvInt("SWEEP_BATCH_SIZE", 100),

		CardRailBaseURL:   getenv("CARD_RAIL_BASE_URL", "https://api.cardrail.example.com"),
		CardRailAPIKey:    strings.TrimSpace(getenv("CARD_RAIL_API_KEY", "")),
		LedgerRailBaseURL: getenv("LEDGER_RAIL_BASE_URL", "https://mirror.ledgerrail.example.com"),
		AcctSyncBaseURL:   getenv("ACCT_SYNC_BASE_URL", "https://api.acctsync.example.com"),
		AcctSyncToken:     strings.TrimSpace(getenv("ACCT_SYNC_TOKEN", "")),

		RatesPrimaryURL:  getenv("RATES_PRIMARY_URL", "https://rates.primary.example.com"),
		RatesFallbackURL: getenv("RATES_FALLBACK_URL", "https://rates.fallback.example.com"),

		MetricsEnabled:  getenvBool("METRICS_ENABLED", false),
		OTLPEndpoint:    getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:    strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
		BreakerCooldown: getenvDuration("BREAKER_COOLDOWN", 30*time.Second),
	}
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
