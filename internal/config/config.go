// Package config loads process configuration from the environment, with an
// optional .env file for development.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port      int
	Env       string
	Version   string
	LogLevel  string
	LogFormat string

	// Redis (task queue backend)
	RedisURL  string
	RedisAddr string // host:port format for Asynq

	// API
	APIToken           string
	CORSAllowedOrigins []string
	MaxUploadBytes     int64

	// SSH
	KnownHostsPath string
	StrictHostKey  bool
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 8080),
		Env:                getEnv("ENV", "development"),
		Version:            getEnv("VERSION", "0.1.0"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		APIToken:           getEnv("SKIFF_API_TOKEN", ""),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		MaxUploadBytes:     getEnvAsInt64("MAX_UPLOAD_BYTES", 50<<20),
		KnownHostsPath:     getEnv("SKIFF_KNOWN_HOSTS", defaultKnownHosts()),
		StrictHostKey:      getEnvAsBool("SKIFF_STRICT_HOST_KEY", false),
	}

	cfg.RedisAddr = parseRedisAddr(cfg.RedisURL)

	return cfg, nil
}

func defaultKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// parseRedisAddr extracts host:port from a Redis URL.
// Supports: redis://host:port, host:port, host
func parseRedisAddr(redisURL string) string {
	addr := strings.TrimPrefix(redisURL, "redis://")
	addr = strings.TrimPrefix(addr, "rediss://")
	addr = strings.TrimSuffix(addr, "/")
	if !strings.Contains(addr, ":") {
		addr = addr + ":6379"
	}
	return addr
}
