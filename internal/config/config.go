package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config holds all configuration for the application
type Config struct {
	Environment string
	Port        string
	Redis       RedisConfig
	Storage     StorageConfig
	Upload      UploadConfig
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	// UserRoot is the directory under which every user's files live,
	// one subdirectory per user id.
	UserRoot string
	// TempRoot holds one staging directory per upload session.
	TempRoot string
	// SQLitePath is the location of the catalog database.
	SQLitePath string
}

// UploadConfig holds tunables for the resumable upload engine
type UploadConfig struct {
	DefaultChunkSize     int64
	MaxChunkSize         int64
	MaxChunksPerSession  int64
	MaxSessionsPerUser   int
	MaxConcurrentWriters int64
	SessionTTL           time.Duration
	StaleAfter           time.Duration
	ReapInterval         time.Duration
	RequestTimeout       time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0, // Default to DB 0
		},
		Storage: StorageConfig{
			UserRoot:   getEnv("USER_ROOT", "./storage/files"),
			TempRoot:   getEnv("TEMP_ROOT", "./storage/tmp"),
			SQLitePath: getEnv("SQLITE_PATH", "./workspace.db"),
		},
		Upload: UploadConfig{
			DefaultChunkSize:     getEnvInt64("UPLOAD_CHUNK_SIZE", 2*1024*1024),
			MaxChunkSize:         getEnvInt64("UPLOAD_MAX_CHUNK_SIZE", 8*1024*1024),
			MaxChunksPerSession:  getEnvInt64("UPLOAD_MAX_CHUNKS", 10000),
			MaxSessionsPerUser:   int(getEnvInt64("UPLOAD_MAX_SESSIONS_PER_USER", 5)),
			MaxConcurrentWriters: getEnvInt64("UPLOAD_MAX_WRITERS", 32),
			SessionTTL:           getEnvDuration("UPLOAD_SESSION_TTL", 24*time.Hour),
			StaleAfter:           getEnvDuration("UPLOAD_STALE_AFTER", 24*time.Hour),
			ReapInterval:         getEnvDuration("UPLOAD_REAP_INTERVAL", time.Hour),
			RequestTimeout:       getEnvDuration("UPLOAD_REQUEST_TIMEOUT", 30*time.Second),
		},
	}

	return cfg, nil
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
