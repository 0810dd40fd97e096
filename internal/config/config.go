// Package config provides configuration management for the trade sync service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Exchange ExchangeConfig
	Sync     SyncConfig
	Enrich   EnrichConfig
	Logging  LoggingConfig
}

// ServerConfig holds the status API server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	ConnectRetries int
	ConnectBackoff time.Duration
}

// ClickHouseConfig holds ClickHouse configuration for the raw trade archive.
// An empty Host disables the archive.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	SeenTTL        time.Duration
}

// ExchangeConfig holds exchange API client configuration
type ExchangeConfig struct {
	BaseURL        string
	RecvWindow     time.Duration
	RequestTimeout time.Duration
}

// SyncConfig holds trade sync configuration
type SyncConfig struct {
	Interval       time.Duration // how often a full sync pass runs
	AccountPacing  time.Duration // delay between accounts within a pass
	PagePacing     time.Duration // delay between page fetches
	MaxPages       int           // page cap per fetch strategy
	WindowDays     int           // lookback window for the first strategy
	WindowPageSize int
	FallbackSize   int
	MinimalSize    int
}

// EnrichConfig holds chat enrichment configuration
type EnrichConfig struct {
	Interval     time.Duration
	RecordPacing time.Duration
	ChatPageSize int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "trade_sync"),
				User:           getEnv("POSTGRES_USER", "trade_sync"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				ConnectRetries: getEnvAsInt("POSTGRES_CONNECT_RETRIES", 5),
				ConnectBackoff: getEnvAsDuration("POSTGRES_CONNECT_BACKOFF", 5*time.Second),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "trade_sync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				SeenTTL:        getEnvAsDuration("REDIS_SEEN_TTL", 7*24*time.Hour),
			},
		},
		Exchange: ExchangeConfig{
			BaseURL:        getEnv("EXCHANGE_BASE_URL", "https://api.bybit.com"),
			RecvWindow:     getEnvAsDuration("EXCHANGE_RECV_WINDOW", 5*time.Second),
			RequestTimeout: getEnvAsDuration("EXCHANGE_REQUEST_TIMEOUT", 30*time.Second),
		},
		Sync: SyncConfig{
			Interval:       getEnvAsDuration("SYNC_INTERVAL", 5*time.Minute),
			AccountPacing:  getEnvAsDuration("SYNC_ACCOUNT_PACING", 1500*time.Millisecond),
			PagePacing:     getEnvAsDuration("SYNC_PAGE_PACING", 400*time.Millisecond),
			MaxPages:       getEnvAsInt("SYNC_MAX_PAGES", 10),
			WindowDays:     getEnvAsInt("SYNC_WINDOW_DAYS", 3),
			WindowPageSize: getEnvAsInt("SYNC_WINDOW_PAGE_SIZE", 20),
			FallbackSize:   getEnvAsInt("SYNC_FALLBACK_PAGE_SIZE", 10),
			MinimalSize:    getEnvAsInt("SYNC_MINIMAL_PAGE_SIZE", 5),
		},
		Enrich: EnrichConfig{
			Interval:     getEnvAsDuration("ENRICH_INTERVAL", 10*time.Minute),
			RecordPacing: getEnvAsDuration("ENRICH_RECORD_PACING", 500*time.Millisecond),
			ChatPageSize: getEnvAsInt("ENRICH_CHAT_PAGE_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
