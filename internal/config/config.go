// Package config loads opsgate configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// ModeReadOnly refuses destructive operations outright.
	ModeReadOnly = "read-only"
	// ModeReadWrite allows destructive operations when writes are enabled.
	ModeReadWrite = "read-write"

	defaultListenAddr  = ":27780"
	defaultProviderURL = "http://localhost:27700"
	defaultRegion      = "primary"
)

// Config holds service runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	Mode        string
	EnableWrite bool

	SessionToken  string
	ProviderURL   string
	ProviderToken string
	Region        string

	DatabaseDSN string
	NATSURL     string

	ConsentCacheTTL  time.Duration
	DurableTimeout   time.Duration
	ProbeTimeout     time.Duration
	ProbeConcurrency int

	DevMode bool
}

// Load returns configuration parsed from environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       envOrDefault("OPSGATE_LISTEN_ADDR", defaultListenAddr),
		LogLevel:         strings.ToLower(strings.TrimSpace(envOrDefault("OPSGATE_LOG_LEVEL", "info"))),
		Mode:             strings.ToLower(strings.TrimSpace(envOrDefault("OPSGATE_MODE", ModeReadOnly))),
		EnableWrite:      envBool("OPSGATE_ENABLE_WRITE", false),
		SessionToken:     strings.TrimSpace(os.Getenv("OPSGATE_SESSION_TOKEN")),
		ProviderURL:      strings.TrimRight(envOrDefault("OPSGATE_PROVIDER_URL", defaultProviderURL), "/"),
		ProviderToken:    strings.TrimSpace(os.Getenv("OPSGATE_PROVIDER_TOKEN")),
		Region:           strings.TrimSpace(envOrDefault("OPSGATE_REGION", defaultRegion)),
		DatabaseDSN:      strings.TrimSpace(os.Getenv("OPSGATE_DATABASE_DSN")),
		NATSURL:          strings.TrimSpace(os.Getenv("OPSGATE_NATS_URL")),
		ConsentCacheTTL:  envDuration("OPSGATE_CONSENT_CACHE_TTL", 12*time.Hour),
		DurableTimeout:   envDuration("OPSGATE_DURABLE_TIMEOUT", 3*time.Second),
		ProbeTimeout:     envDuration("OPSGATE_PROBE_TIMEOUT", 10*time.Second),
		ProbeConcurrency: envInt("OPSGATE_PROBE_CONCURRENCY", 4),
		DevMode:          envBool("OPSGATE_DEV_MODE", false),
	}

	switch cfg.Mode {
	case ModeReadOnly, ModeReadWrite:
	default:
		return Config{}, fmt.Errorf("invalid OPSGATE_MODE %q (allowed: %s|%s)", cfg.Mode, ModeReadOnly, ModeReadWrite)
	}
	if cfg.EnableWrite && cfg.Mode != ModeReadWrite {
		return Config{}, fmt.Errorf("OPSGATE_ENABLE_WRITE=true requires OPSGATE_MODE=%s", ModeReadWrite)
	}

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ConsentCacheTTL <= 0 {
		return Config{}, fmt.Errorf("OPSGATE_CONSENT_CACHE_TTL must be positive")
	}
	if cfg.DurableTimeout <= 0 {
		return Config{}, fmt.Errorf("OPSGATE_DURABLE_TIMEOUT must be positive")
	}
	if cfg.ProbeConcurrency <= 0 {
		return Config{}, fmt.Errorf("OPSGATE_PROBE_CONCURRENCY must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		default:
			return defaultVal
		}
	}
	return parsed
}

func envInt(key string, defaultVal int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultVal
	}
	return parsed
}
