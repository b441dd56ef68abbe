package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Engine   EngineConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig holds PostgreSQL settings for the poll history archive.
// When URL is empty the archive is disabled.
type DatabaseConfig struct {
	URL string
}

// EngineConfig holds poll engine tuning knobs. Operator-facing poll settings
// (enabled, auto-start, duration, minimum gap) live in the shared store so
// every invocation sees changes immediately; these are deploy-time values.
type EngineConfig struct {
	TickIntervalSeconds      int // periodic resolve/auto-start tick
	LockTTLSeconds           int // resolution lock expiry
	WinnerDisplaySeconds     int // how long a finished poll stays on screen
	DefaultDurationSeconds   int // poll duration when the caller passes none
	EnableInProcessScheduler bool
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Engine: EngineConfig{
			TickIntervalSeconds:      getEnvInt("ENGINE_TICK_INTERVAL_SEC", 5),
			LockTTLSeconds:           getEnvInt("ENGINE_LOCK_TTL_SEC", 10),
			WinnerDisplaySeconds:     getEnvInt("ENGINE_WINNER_DISPLAY_SEC", 30),
			DefaultDurationSeconds:   getEnvInt("ENGINE_DEFAULT_DURATION_SEC", 60),
			EnableInProcessScheduler: getEnvBool("ENGINE_IN_PROCESS_SCHEDULER", true),
		},
	}
	if cfg.Engine.LockTTLSeconds <= 0 {
		return nil, fmt.Errorf("ENGINE_LOCK_TTL_SEC must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
