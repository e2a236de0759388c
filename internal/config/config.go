// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackendMode selects which backend serves domain operations.
type BackendMode string

const (
	// BackendLocal routes every operation to the local RPC backend.
	BackendLocal BackendMode = "local"
	// BackendExternal routes every operation to the bearer-token REST backend.
	BackendExternal BackendMode = "external"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// CustomAuthEnabled selects the external REST backend ("custom auth" mode).
	CustomAuthEnabled bool
	// CustomAPIBaseURL may be empty even in external mode; the REST client
	// reports that on first use, not here.
	CustomAPIBaseURL string
	LocalRPCAddr     string

	RequestTimeout      time.Duration
	AuthRecheckInterval time.Duration
	AuthNotifyDebounce  time.Duration
	StoreWatchInterval  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/chatbridge.db"),

		CustomAuthEnabled: getEnvBool("ENABLE_CUSTOM_AUTH", getEnvBool("NEXT_PUBLIC_ENABLE_CUSTOM_AUTH", false)),
		CustomAPIBaseURL:  getEnv("CUSTOM_API_BASE_URL", getEnv("NEXT_PUBLIC_CUSTOM_API_BASE_URL", "")),
		LocalRPCAddr:      getEnv("LOCAL_RPC_ADDR", "localhost:50051"),

		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		AuthRecheckInterval: getEnvDuration("AUTH_RECHECK_INTERVAL", time.Minute),
		AuthNotifyDebounce:  getEnvDuration("AUTH_NOTIFY_DEBOUNCE", 5*time.Second),
		StoreWatchInterval:  getEnvDuration("STORE_WATCH_INTERVAL", 2*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if !c.CustomAuthEnabled && c.LocalRPCAddr == "" {
		return fmt.Errorf("LOCAL_RPC_ADDR cannot be empty when custom auth is disabled")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.AuthRecheckInterval <= 0 {
		return fmt.Errorf("AUTH_RECHECK_INTERVAL must be > 0")
	}
	if c.AuthNotifyDebounce < 0 {
		return fmt.Errorf("AUTH_NOTIFY_DEBOUNCE cannot be negative")
	}
	if c.StoreWatchInterval <= 0 {
		return fmt.Errorf("STORE_WATCH_INTERVAL must be > 0")
	}
	return nil
}

// Mode returns the backend selected for this process.
func (c *Config) Mode() BackendMode {
	if c.CustomAuthEnabled {
		return BackendExternal
	}
	return BackendLocal
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs := getEnvInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
