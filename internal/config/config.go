package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ストアの種類
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string

	// Booking
	Timezone  string
	Location  *time.Location
	MaxNights int

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitBooking int

	// Notification
	NotifyWebhookURL     string
	NotifyAMQPURL        string
	NotifyAMQPExchange   string
	NotifyAMQPRoutingKey string
	NotifyQueueSize      int
	NotifyWorkers        int
	NotifyTimeout        time.Duration

	// Observability
	OTLPEndpoint string
	LogLevel     string

	// Server
	ServerPort      string
	ShutdownTimeout time.Duration

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = getEnvString("STORE_DRIVER", StoreDriverPostgres)
	if cfg.StoreDriver != StoreDriverPostgres && cfg.StoreDriver != StoreDriverMemory {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreDriver == StoreDriverPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.Timezone = getEnvString("TIMEZONE", "Europe/Paris")
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	// Optional fields with defaults
	cfg.MaxNights = getEnvInt("MAX_NIGHTS", 28)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBooking = getEnvInt("RATE_LIMIT_BOOKING", 10)
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.NotifyAMQPURL = getEnvString("NOTIFY_AMQP_URL", "")
	cfg.NotifyAMQPExchange = getEnvString("NOTIFY_AMQP_EXCHANGE", "sailbook.events")
	cfg.NotifyAMQPRoutingKey = getEnvString("NOTIFY_AMQP_ROUTING_KEY", "reservation")
	cfg.NotifyQueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", 256)
	cfg.NotifyWorkers = getEnvInt("NOTIFY_WORKERS", 2)
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)
	cfg.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	if cfg.MaxNights < 1 {
		return nil, fmt.Errorf("MAX_NIGHTS must be positive, got %d", cfg.MaxNights)
	}
	if cfg.RateLimitGeneral < 1 || cfg.RateLimitBooking < 1 {
		return nil, fmt.Errorf("rate limits must be positive, got general=%d booking=%d", cfg.RateLimitGeneral, cfg.RateLimitBooking)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
