// Package config loads the gateway configuration from the environment.
//
// A .env file in the working directory is read first (godotenv), then real
// environment variables override it. There are few enough knobs that plain
// env reading beats a config-file framework here.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything cmd/server needs to wire the gateway.
type Config struct {
	Port   int
	DBPath string

	// SessionSecret signs the application session JWTs.
	SessionSecret string

	// Provider selects the identity provider implementation:
	// "google" (hosted, needs the Google* fields) or "local" (in-process,
	// for development and demos).
	Provider string

	GoogleAPIKey       string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string
}

// Load reads the configuration. Missing optional values get defaults;
// validation of required values happens here so main fails fast.
func Load() (Config, error) {
	// Absent .env is fine — production sets real env vars.
	_ = godotenv.Load()

	cfg := Config{
		Port:   8080,
		DBPath: "data/authbridge.db",

		SessionSecret: os.Getenv("SESSION_SECRET"),
		Provider:      getenv("AUTH_PROVIDER", "google"),

		GoogleAPIKey:       os.Getenv("GOOGLE_API_KEY"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if cfg.GoogleCallbackURL == "" {
		cfg.GoogleCallbackURL = fmt.Sprintf("http://localhost:%d/auth/google/callback", cfg.Port)
	}

	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("config: SESSION_SECRET is required")
	}
	switch cfg.Provider {
	case "local":
	case "google":
		if cfg.GoogleAPIKey == "" || cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			return Config{}, fmt.Errorf("config: GOOGLE_API_KEY, GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required for the google provider")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown AUTH_PROVIDER %q", cfg.Provider)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
