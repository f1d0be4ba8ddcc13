// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything the server binary needs at startup.
type Config struct {
	Env            string
	ListenAddr     string
	Network        string
	PayTo          string
	Price          string
	FacilitatorURL string
	RedisURL       string
	TrustProxy     bool
	LogLevel       string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be fully set already.
	_ = godotenv.Load()

	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		Network:        getEnv("NETWORK", "base-sepolia"),
		PayTo:          os.Getenv("PAY_TO"),
		Price:          getEnv("PRICE", "1000000"),
		FacilitatorURL: os.Getenv("FACILITATOR_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		TrustProxy:     os.Getenv("TRUST_PROXY") == "true",
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if cfg.PayTo == "" {
		return nil, fmt.Errorf("PAY_TO is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
