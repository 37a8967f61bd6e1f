// Package config provides configuration management for the messaging server.
// It loads configuration from environment variables and .env files.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage backend identifiers.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Cache policy identifiers for the file store.
const (
	CacheAll    = "cache-all"
	ReadThrough = "read-through"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Keys      KeysConfig
	Faucet    FaucetConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Debug     bool
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	// Backend selects file, redis or postgres.
	Backend string
	// Dir is the directory holding collection files for the file backend.
	Dir string
	// CachePolicy selects cache-all or read-through for the file backend.
	CachePolicy string
	Redis       RedisConfig
	Postgres    PostgresConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// PostgresConfig holds Postgres connection configuration.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// KeysConfig holds this server's key material and the external faucet server's
// identity. KeyData is the single secret seed everything else is derived from.
type KeysConfig struct {
	// KeyData is the decoded secret seed. Required.
	KeyData []byte
	// ServerName identifies this server inside signed faucet frames. Required.
	ServerName string
	// ExternalName is the name of the external faucet server.
	ExternalName string
	// ExternalPublicKey is the external faucet server's box public key. Required.
	ExternalPublicKey []byte
}

// FaucetConfig holds faucet gate tunables.
type FaucetConfig struct {
	// ServerURL is the websocket URL of the external faucet server.
	ServerURL string
	// RequestLimit is the maximum number of successful requests per window.
	RequestLimit int
	// Window is the rolling window the limit applies to.
	Window time.Duration
	// InProgressTimeout is how long an unfinished request blocks new ones.
	InProgressTimeout time.Duration
	// ReplyTimeout bounds the external round trip.
	ReplyTimeout time.Duration
}

// RateLimitConfig holds per-connection event rate limiting configuration.
type RateLimitConfig struct {
	EventsPerSecond int
	Burst           int
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// MinKeyDataLen is the minimum seed length able to feed address, encryption and
// signing key derivation.
const MinKeyDataLen = 32

// LoadConfig loads configuration from .env file and environment variables.
// Missing required key material is an error; the process must refuse to start.
func LoadConfig() (*Config, error) {
	// .env file is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "3001"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", BackendFile),
			Dir:         getEnv("STORAGE_DIR", "./data"),
			CachePolicy: getEnv("STORAGE_CACHE_POLICY", CacheAll),
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "totem_messaging"),
				User:           getEnv("POSTGRES_USER", "totem"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
		},
		Faucet: FaucetConfig{
			ServerURL:         getEnv("FAUCET_SERVER_URL", "wss://faucet.totem.live"),
			RequestLimit:      getEnvAsInt("FAUCET_REQUEST_LIMIT", 5),
			Window:            getEnvAsDuration("FAUCET_WINDOW", 24*time.Hour),
			InProgressTimeout: getEnvAsDuration("FAUCET_TIMEOUT", 15*time.Minute),
			ReplyTimeout:      getEnvAsDuration("FAUCET_REPLY_TIMEOUT", 2*time.Minute),
		},
		RateLimit: RateLimitConfig{
			EventsPerSecond: getEnvAsInt("EVENT_RATE_LIMIT", 20),
			Burst:           getEnvAsInt("EVENT_RATE_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Debug: getEnvAsBool("DEBUG", false),
	}

	keys, err := loadKeysConfig()
	if err != nil {
		return nil, err
	}
	cfg.Keys = keys

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadKeysConfig loads and decodes the required key material.
func loadKeysConfig() (KeysConfig, error) {
	keyDataHex := os.Getenv("TOTEM_KEY_DATA")
	if keyDataHex == "" {
		return KeysConfig{}, fmt.Errorf("TOTEM_KEY_DATA is required")
	}
	keyData, err := hex.DecodeString(keyDataHex)
	if err != nil {
		return KeysConfig{}, fmt.Errorf("TOTEM_KEY_DATA is not valid hex: %w", err)
	}
	if len(keyData) < MinKeyDataLen {
		return KeysConfig{}, fmt.Errorf("TOTEM_KEY_DATA must be at least %d bytes, got %d", MinKeyDataLen, len(keyData))
	}

	serverName := os.Getenv("TOTEM_SERVER_NAME")
	if serverName == "" {
		return KeysConfig{}, fmt.Errorf("TOTEM_SERVER_NAME is required")
	}

	externalPubHex := os.Getenv("FAUCET_SERVER_PUBLIC_KEY")
	if externalPubHex == "" {
		return KeysConfig{}, fmt.Errorf("FAUCET_SERVER_PUBLIC_KEY is required")
	}
	externalPub, err := hex.DecodeString(externalPubHex)
	if err != nil {
		return KeysConfig{}, fmt.Errorf("FAUCET_SERVER_PUBLIC_KEY is not valid hex: %w", err)
	}
	if len(externalPub) != 32 {
		return KeysConfig{}, fmt.Errorf("FAUCET_SERVER_PUBLIC_KEY must be 32 bytes, got %d", len(externalPub))
	}

	return KeysConfig{
		KeyData:           keyData,
		ServerName:        serverName,
		ExternalName:      getEnv("FAUCET_SERVER_NAME", "faucet"),
		ExternalPublicKey: externalPub,
	}, nil
}

// validate rejects configurations the server cannot run with.
func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q (must be file, redis or postgres)", c.Storage.Backend)
	}
	switch c.Storage.CachePolicy {
	case CacheAll, ReadThrough:
	default:
		return fmt.Errorf("invalid STORAGE_CACHE_POLICY %q (must be cache-all or read-through)", c.Storage.CachePolicy)
	}
	if c.Faucet.RequestLimit <= 0 {
		return fmt.Errorf("FAUCET_REQUEST_LIMIT must be positive")
	}
	if c.RateLimit.EventsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("event rate limit and burst must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
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

// getEnvAsBool gets an environment variable as a boolean with a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
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
