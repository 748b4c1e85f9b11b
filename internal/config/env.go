package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/analysedoc/analysedoc/internal/core/fetch"
)

type Config struct {
	Port string

	// Outbound proxy for web and transcript fetches; empty host disables.
	ProxyHost string
	ProxyPort int
	ProxyUser string
	ProxyPass string

	FetchTimeout time.Duration

	ChunkMaxTokens     int
	ChunkOverlapTokens int

	// CORS allowlist for the HTTP boundary, comma-separated.
	AllowedOrigins string
}

// LoadConfig loads the environment variables and returns the config.
// Provider API keys are not read here; they arrive per session request.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		ProxyHost:          getEnv("PROXY_HOST", ""),
		ProxyPort:          getEnvInt("PROXY_PORT", 8080),
		ProxyUser:          getEnv("PROXY_USER", ""),
		ProxyPass:          getEnv("PROXY_PASS", ""),
		FetchTimeout:       time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		ChunkMaxTokens:     getEnvInt("CHUNK_MAX_TOKENS", 500),
		ChunkOverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 50),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
	}

	if cfg.ChunkOverlapTokens >= cfg.ChunkMaxTokens {
		log.Printf("WARN: CHUNK_OVERLAP_TOKENS >= CHUNK_MAX_TOKENS, using defaults 500/50")
		cfg.ChunkMaxTokens, cfg.ChunkOverlapTokens = 500, 50
	}

	return cfg
}

// Proxy returns the fetcher proxy settings, nil when no proxy is set.
func (c *Config) Proxy() *fetch.ProxyConfig {
	if c.ProxyHost == "" {
		return nil
	}
	return &fetch.ProxyConfig{
		Host: c.ProxyHost,
		Port: c.ProxyPort,
		User: c.ProxyUser,
		Pass: c.ProxyPass,
	}
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}
