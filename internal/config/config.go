// Package config provides configuration management for the insider-trading
// sentinel: environment variables (optionally backed by a .env file), typed
// defaults, and startup validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	DataDir  string // base directory for the SQLite database and universe CSV
	Port     int    // HTTP server port
	LogLevel string // debug, info, warn, error
	DevMode  bool

	SECUserAgent string // outbound User-Agent sent to SEC EDGAR

	LookbackDays      int     // AnomalyEngine historical window
	ClusterWindowDays int     // cluster-selling window
	AnomalyThreshold  float64 // AlertService threshold

	IngestRateLimit        int // FilingSource requests/second budget
	AtomPollIntervalMarket time.Duration
	AtomPollIntervalOff    time.Duration
	BatchIntervalMinutes   int
	BatchOverlapHours      int

	MarketOpen  string // "09:30"
	MarketClose string // "16:00"

	UniverseFile string
}

// Load reads configuration from environment variables, with .env as an
// optional overlay. dataDirOverride takes priority over INSIDER_DATA_DIR,
// following CLI-flag > env-var > default precedence.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("INSIDER_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		Port:         getEnvAsInt("INSIDER_PORT", 8080),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		SECUserAgent: getEnv("SEC_USER_AGENT", "form4sentinel research@example.com"),

		LookbackDays:      getEnvAsInt("INSIDER_LOOKBACK_DAYS", 730),
		ClusterWindowDays: getEnvAsInt("INSIDER_CLUSTER_WINDOW_DAYS", 14),
		AnomalyThreshold:  getEnvAsFloat("INSIDER_ANOMALY_THRESHOLD", 0.6),

		IngestRateLimit:        getEnvAsInt("INSIDER_INGEST_RATE_LIMIT", 8),
		AtomPollIntervalMarket: time.Duration(getEnvAsInt("INSIDER_ATOM_POLL_INTERVAL_MARKET", 300)) * time.Second,
		AtomPollIntervalOff:    time.Duration(getEnvAsInt("INSIDER_ATOM_POLL_INTERVAL_OFF", 1800)) * time.Second,
		BatchIntervalMinutes:   getEnvAsInt("INSIDER_BATCH_INTERVAL_MINUTES", 60),
		BatchOverlapHours:      getEnvAsInt("INSIDER_BATCH_OVERLAP_HOURS", 2),

		MarketOpen:  getEnv("INSIDER_MARKET_OPEN", "09:30"),
		MarketClose: getEnv("INSIDER_MARKET_CLOSE", "16:00"),

		UniverseFile: getEnv("INSIDER_UNIVERSE_FILE", filepath.Join(absDataDir, "universe.csv")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DBPath returns the path to the sqlite database file for this configuration.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "insider.db")
}

// Validate rejects configuration the process cannot safely start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be positive, got %d", c.LookbackDays)
	}
	if c.ClusterWindowDays <= 0 {
		return fmt.Errorf("cluster_window_days must be positive, got %d", c.ClusterWindowDays)
	}
	if c.AnomalyThreshold < 0 || c.AnomalyThreshold > 1 {
		return fmt.Errorf("anomaly_threshold must be in [0,1], got %f", c.AnomalyThreshold)
	}
	if c.IngestRateLimit <= 0 {
		return fmt.Errorf("ingest_rate_limit must be positive, got %d", c.IngestRateLimit)
	}
	if c.BatchIntervalMinutes <= 0 {
		return fmt.Errorf("batch_interval_minutes must be positive, got %d", c.BatchIntervalMinutes)
	}
	if _, err := time.Parse("15:04", c.MarketOpen); err != nil {
		return fmt.Errorf("invalid market_open %q: %w", c.MarketOpen, err)
	}
	if _, err := time.Parse("15:04", c.MarketClose); err != nil {
		return fmt.Errorf("invalid market_close %q: %w", c.MarketClose, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
