package api

import (
	"fmt"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port              int
	DBPath            string
	RateLimitRequests int      // Requests per minute (0 = disabled)
	RateLimitBurst    int      // Burst size
	AllowedOrigins    []string // CORS and WebSocket origins (empty = allow all)
	Aliases           bool     // Accept abbreviations and alternate book names
	ResolveCacheSize  int      // Memoised passage results (0 = no cache)
	ShutdownTimeout   time.Duration
	Version           string
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Port:              8080,
		DBPath:            "carry.db",
		RateLimitRequests: 120,
		RateLimitBurst:    20,
		ResolveCacheSize:  4096,
		ShutdownTimeout:   10 * time.Second,
		Version:           "dev",
	}
}

// Validate checks the configuration before the server starts.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.RateLimitRequests < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.ResolveCacheSize < 0 {
		return fmt.Errorf("resolve cache size must not be negative")
	}
	return nil
}
