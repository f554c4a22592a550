package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JWTSecret       string
	TokenTTL        time.Duration
	ShutdownTimeout time.Duration

	BootstrapAdminPassword   string
	BootstrapManagerPassword string
}

// Load reads configuration from the environment, with an optional .env
// file for local development. An empty DATABASE_URL selects the
// in-memory store; an empty REDIS_ADDR disables the price cache.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:        getString("HTTP_ADDR", ":8080"),
		DatabaseURL:     getString("DATABASE_URL", ""),
		RedisAddr:       getString("REDIS_ADDR", ""),
		RedisPassword:   getString("REDIS_PASSWORD", ""),
		RedisDB:         getInt("REDIS_DB", 0),
		JWTSecret:       getString("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:        getDuration("TOKEN_TTL", 12*time.Hour),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		BootstrapAdminPassword:   getString("BOOTSTRAP_ADMIN_PASSWORD", "admin123"),
		BootstrapManagerPassword: getString("BOOTSTRAP_MANAGER_PASSWORD", "9999"),
	}
}

func getString(key string, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
