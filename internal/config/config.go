// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/aristath/steward/internal/modules/settings"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for all databases (always absolute)
	Asset         string // Underlying asset identifier the vault pools
	AdvisoryURL   string // Base URL of the yield advisory service
	AdvisoryToken string // Bearer token for the advisory service (optional)
	StrategyToken string // Bearer token presented to strategy services (optional)
	LogLevel      string
	Port          int
	DevMode       bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// 1. Check STEWARD_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path and ensure it exists
	dataDir := getEnv("STEWARD_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		Asset:         getEnv("VAULT_ASSET", "USDC"),
		AdvisoryURL:   getEnv("ADVISORY_SERVICE_URL", "http://localhost:9000"),
		AdvisoryToken: getEnv("ADVISORY_TOKEN", ""),
		StrategyToken: getEnv("STRATEGY_TOKEN", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvAsInt("PORT", 8001),
		DevMode:       getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UpdateFromSettings updates configuration from the settings database.
// This should be called after the config database is initialized.
// Settings DB values take precedence over environment variables.
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	advisoryURL, err := settingsRepo.Get("advisory_url")
	if err != nil {
		return fmt.Errorf("failed to get advisory_url from settings: %w", err)
	}
	// Only use settings DB value if it's not empty; empty keeps the env
	// var value (if any) as fallback.
	if advisoryURL != nil && *advisoryURL != "" {
		c.AdvisoryURL = *advisoryURL
	}

	advisoryToken, err := settingsRepo.Get("advisory_token")
	if err != nil {
		return fmt.Errorf("failed to get advisory_token from settings: %w", err)
	}
	if advisoryToken != nil && *advisoryToken != "" {
		c.AdvisoryToken = *advisoryToken
	}

	strategyToken, err := settingsRepo.Get("strategy_token")
	if err != nil {
		return fmt.Errorf("failed to get strategy_token from settings: %w", err)
	}
	if strategyToken != nil && *strategyToken != "" {
		c.StrategyToken = *strategyToken
	}

	return nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Asset == "" {
		return fmt.Errorf("VAULT_ASSET must not be empty")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
