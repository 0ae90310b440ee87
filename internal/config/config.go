package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// OSM backend configuration
	OSMBaseURL        string
	OAuthClientID     string
	OAuthClientSecret string
	FrontendURL       string

	// Demo mode serves everything from seeded cache and never calls upstream
	DemoMode bool

	// Cache TTLs (per category, see storage)
	FlexiListTTL      time.Duration
	FlexiStructureTTL time.Duration
	FlexiDataTTL      time.Duration
	EventsTTL         time.Duration

	// Request queue tuning
	QueueMaxRetries   int
	QueueBaseDelay    time.Duration
	QueueMaxDelay     time.Duration
	QueueEntryTimeout time.Duration

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Logging configuration
	LogLevel string
}

// Load reads configuration from the environment (and an optional .env file).
// It fails fast if required variables are missing.
func Load() (*Config, error) {
	// Best effort; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := &Config{
		// Optional values with defaults
		Host:         getEnv("HOST", "localhost"),
		Port:         getEnvInt("PORT", 4201),
		DatabasePath: getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DemoMode:     getEnvBool("DEMO_MODE", false),

		FlexiListTTL:      getEnvDuration("FLEXI_LIST_TTL", 30*time.Minute),
		FlexiStructureTTL: getEnvDuration("FLEXI_STRUCTURE_TTL", 60*time.Minute),
		FlexiDataTTL:      getEnvDuration("FLEXI_DATA_TTL", 5*time.Minute),
		EventsTTL:         getEnvDuration("EVENTS_TTL", 5*time.Minute),

		QueueMaxRetries:   getEnvInt("QUEUE_MAX_RETRIES", 3),
		QueueBaseDelay:    getEnvDuration("QUEUE_BASE_DELAY", time.Second),
		QueueMaxDelay:     getEnvDuration("QUEUE_MAX_DELAY", 30*time.Second),
		QueueEntryTimeout: getEnvDuration("QUEUE_ENTRY_TIMEOUT", 5*time.Minute),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsHost:    getEnv("METRICS_HOST", "localhost"),
		MetricsPort:    getEnvInt("METRICS_PORT", 9201),
	}

	// Required values
	var missingVars []string

	cfg.OSMBaseURL = os.Getenv("OSM_BASE_URL")
	if cfg.OSMBaseURL == "" {
		missingVars = append(missingVars, "OSM_BASE_URL")
	}

	// OAuth credentials are not needed in demo mode
	if !cfg.DemoMode {
		cfg.OAuthClientID = os.Getenv("OAUTH_CLIENT_ID")
		if cfg.OAuthClientID == "" {
			missingVars = append(missingVars, "OAUTH_CLIENT_ID")
		}

		cfg.OAuthClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")
		if cfg.OAuthClientSecret == "" {
			missingVars = append(missingVars, "OAUTH_CLIENT_SECRET")
		}
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvDuration gets a duration environment variable ("5m", "30s") or
// returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
