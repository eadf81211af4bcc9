// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server needs. When DatabaseDSN is empty the
// server runs on the file-backed store at StorePath instead of Postgres.
type Config struct {
	Addr          string        `env:"BUYERSIGN_ADDR" envDefault:":8080"`
	PublicBaseURL string        `env:"BUYERSIGN_PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	DatabaseDSN   string        `env:"BUYERSIGN_DATABASE_DSN"`
	StorePath     string        `env:"BUYERSIGN_STORE_PATH" envDefault:"buyersign.json"`
	JWTKey        string        `env:"BUYERSIGN_JWT_KEY"`
	AccessTTL     time.Duration `env:"BUYERSIGN_ACCESS_TTL" envDefault:"15m"`
	GeminiAPIKey  string        `env:"GEMINI_API_KEY"`
	Debug         bool          `env:"BUYERSIGN_DEBUG" envDefault:"false"`
}

// ParseEnv reads the configuration from process environment variables.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.JWTKey == "" {
		return Config{}, fmt.Errorf("BUYERSIGN_JWT_KEY is required")
	}
	return cfg, nil
}
