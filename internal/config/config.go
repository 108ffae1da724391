// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. It is constructed once at process
// start and passed by reference into every component — no ambient globals.
type Config struct {
	// Gateway connection
	GatewayURL string // Client Portal gateway base URL (self-signed TLS on localhost)
	AccountID  string

	// Drift monitor
	DriftThresholdPct float64       // alert when |actual - target| exceeds this, in percentage points
	CheckInterval     time.Duration // time between drift checks
	HistoryLookback   string        // gateway period string for historical bars, e.g. "2y"

	// Notifications (ntfy.sh)
	NtfyTopic   string
	NtfyEnabled bool

	// Status API
	Port int

	// Storage
	DataDir string // directory for the history cache database

	LogLevel string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present, so each
// machine running the monitor can carry its own settings.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		GatewayURL:        getEnv("IBKR_HOST", "https://localhost:5002"),
		AccountID:         getEnv("ACCOUNT_ID", ""),
		DriftThresholdPct: getEnvAsFloat("DRIFT_THRESHOLD_PCT", 5.0),
		CheckInterval:     time.Duration(getEnvAsInt("CHECK_INTERVAL_SECS", 3600)) * time.Second,
		HistoryLookback:   getEnv("HISTORY_LOOKBACK", "2y"),
		NtfyTopic:         getEnv("NTFY_TOPIC", ""),
		NtfyEnabled:       strings.EqualFold(getEnv("NTFY_ENABLED", "off"), "on"),
		Port:              getEnvAsInt("GO_PORT", 8001),
		DataDir:           absDataDir,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DriftThresholdPct <= 0 {
		return fmt.Errorf("drift threshold must be positive, got %v", c.DriftThresholdPct)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %v", c.CheckInterval)
	}
	// Account ID is optional here: read-only commands (auth, search) work
	// without it, and the monitor validates it at startup.
	return nil
}

// FeedURL derives the websocket endpoint from the gateway base URL.
func (c *Config) FeedURL() string {
	url := c.GatewayURL
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/v1/api/ws"
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
