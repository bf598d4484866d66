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
	HTTPAddr    string
	LogLevel    string

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

	// SecretsKey encrypts issuer certificate material at rest.
	SecretsKey string

	Arca   ArcaConfig
	SMTP   SMTPConfig
	Worker WorkerConfig
}

// ArcaConfig covers the tax-authority integration.
type ArcaConfig struct {
	// TicketDir is the ticket cache directory. Deployments sharing a
	// network filesystem point every host at the same directory.
	TicketDir string
	// TicketLockTTL bounds how long a crashed worker can hold the
	// per-credential login lock.
	TicketLockTTL  time.Duration
	RequestTimeout time.Duration
}

// SMTPConfig configures the receipt email provider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// WorkerConfig controls the task queue worker.
type WorkerConfig struct {
	PollInterval      time.Duration
	RecoveryThreshold time.Duration
	Concurrency       int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "lotefact"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "lotefact"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		SecretsKey: strings.TrimSpace(getenv("SECRETS_KEY", "")),

		Arca: ArcaConfig{
			TicketDir:      getenv("ARCA_TICKET_DIR", defaultTicketDir()),
			TicketLockTTL:  getenvDuration("ARCA_TICKET_LOCK_TTL", 2*time.Minute),
			RequestTimeout: getenvDuration("ARCA_REQUEST_TIMEOUT", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", ""),
		},
		Worker: WorkerConfig{
			PollInterval:      getenvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
			RecoveryThreshold: getenvDuration("WORKER_RECOVERY_THRESHOLD", 15*time.Minute),
			Concurrency:       getenvInt("WORKER_CONCURRENCY", 4),
		},
	}
}

func defaultTicketDir() string {
	return strings.TrimRight(os.TempDir(), "/") + "/arca_ta_cache"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
