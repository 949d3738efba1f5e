package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the AgentFlow service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	LLMMode        string
	LLMHTTPURL     string
	LLMModel       string
	LLMTimeout     time.Duration
	LLMMaxTokens   int
	LLMTemperature float64

	ImageGenHTTPURL string

	BlobBucket   string
	BlobLocalDir string
	BlobBaseURL  string

	BridgeURL          string
	BridgePollInterval time.Duration
	BridgePollTimeout  time.Duration

	ContextMemoryLimit int
	RecentMessageLimit int

	SnapshotSchedule string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "agentflow"),
		AllowAnyOrigin:   false,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		LLMMode:          envOrDefault("LLM_MODE", "auto"),
		LLMHTTPURL:       stringsTrimSpace("LLM_HTTP_URL"),
		LLMModel:         envOrDefault("LLM_MODEL", "nvidia/NVIDIA-Nemotron-3-Nano-30B-A3B-BF16"),
		LLMTimeout:       60 * time.Second,
		LLMMaxTokens:     2048,
		LLMTemperature:   0.7,
		ImageGenHTTPURL:  stringsTrimSpace("IMAGEGEN_HTTP_URL"),
		BlobBucket:       stringsTrimSpace("BLOB_GCS_BUCKET"),
		BlobLocalDir:     envOrDefault("BLOB_LOCAL_DIR", "data/artifacts"),
		BlobBaseURL:      envOrDefault("BLOB_BASE_URL", "http://localhost:8080/files"),
		BridgeURL:        stringsTrimSpace("AGENT_BRIDGE_URL"),
		// The GUI automation bridge runs long tasks; poll instead of holding one request open.
		BridgePollInterval: 3 * time.Second,
		BridgePollTimeout:  10 * time.Minute,
		ContextMemoryLimit: 5,
		RecentMessageLimit: 10,
		SnapshotSchedule:   envOrDefault("ANALYTICS_SNAPSHOT_SCHEDULE", "@daily"),
		ShutdownTimeout:    15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.BridgePollInterval, err = durationFromEnv("AGENT_BRIDGE_POLL_INTERVAL", cfg.BridgePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.BridgePollTimeout, err = durationFromEnv("AGENT_BRIDGE_POLL_TIMEOUT", cfg.BridgePollTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextMemoryLimit, err = intFromEnv("CONTEXT_MEMORY_LIMIT", cfg.ContextMemoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RecentMessageLimit, err = intFromEnv("RECENT_MESSAGE_LIMIT", cfg.RecentMessageLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.BridgePollInterval <= 0 {
		return Config{}, fmt.Errorf("AGENT_BRIDGE_POLL_INTERVAL must be positive")
	}
	if cfg.BridgePollTimeout < cfg.BridgePollInterval {
		return Config{}, fmt.Errorf("AGENT_BRIDGE_POLL_TIMEOUT must be at least the poll interval")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if cfg.ContextMemoryLimit <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_MEMORY_LIMIT must be positive")
	}
	if cfg.RecentMessageLimit <= 0 {
		return Config{}, fmt.Errorf("RECENT_MESSAGE_LIMIT must be positive")
	}
	if strings.TrimSpace(cfg.SnapshotSchedule) == "" {
		return Config{}, fmt.Errorf("ANALYTICS_SNAPSHOT_SCHEDULE must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
