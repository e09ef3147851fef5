package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Realtime RealtimeConfig
}

type ServerConfig struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	AllowedOrigin string
}

type StoreConfig struct {
	// Backend selects the session store: memory, redis or postgres.
	Backend     string
	RedisURL    string
	DatabaseURL string
	SessionTTL  time.Duration
}

type RealtimeConfig struct {
	ChatHistoryLimit  int
	DocUpdateLogLimit int
	// EmptySessionPolicy is "retain" (default; TTL expires the session)
	// or "purge" (delete as soon as the last active user leaves).
	EmptySessionPolicy string
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:          getEnvOrDefault("PORT", ":8080"),
			ReadTimeout:   getDurationOrDefault("READ_TIMEOUT", "15s"),
			WriteTimeout:  getDurationOrDefault("WRITE_TIMEOUT", "15s"),
			AllowedOrigin: getEnvOrDefault("ALLOWED_ORIGIN", "*"),
		},
		Store: StoreConfig{
			Backend:     getEnvOrDefault("STORE_BACKEND", "memory"),
			RedisURL:    os.Getenv("REDIS_URL"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SessionTTL:  getDurationOrDefault("SESSION_TTL", "24h"),
		},
		Realtime: RealtimeConfig{
			ChatHistoryLimit:   getIntOrDefault("CHAT_HISTORY_LIMIT", 100),
			DocUpdateLogLimit:  getIntOrDefault("DOC_UPDATE_LOG_LIMIT", 500),
			EmptySessionPolicy: getEnvOrDefault("EMPTY_SESSION_POLICY", "retain"),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}
