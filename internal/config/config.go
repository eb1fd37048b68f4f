package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the weather agent service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	RegistryURL     string
	RegistryTimeout time.Duration

	ModelAdapterMode string
	ModelHTTPURL     string
	ModelTimeout     time.Duration

	WeatherProvider string
	WeatherAPIKey   string
	WeatherBaseURL  string
	ToolTimeout     time.Duration

	ContextWindow  int
	ContextCeiling int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "nimbus"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		RegistryURL:      trimmedEnv("PROMPT_REGISTRY_URL"),
		ModelAdapterMode: envOrDefault("MODEL_ADAPTER_MODE", "auto"),
		ModelHTTPURL:     trimmedEnv("MODEL_HTTP_URL"),
		WeatherProvider:  envOrDefault("WEATHER_PROVIDER", "auto"),
		WeatherAPIKey:    trimmedEnv("OPENWEATHER_API_KEY"),
		WeatherBaseURL:   envOrDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org"),
		ShutdownTimeout:  15 * time.Second,
		RegistryTimeout:  5 * time.Second,
		ModelTimeout:     30 * time.Second,
		ToolTimeout:      10 * time.Second,
		ContextWindow:    10,
		ContextCeiling:   40,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RegistryTimeout, err = durationFromEnv("PROMPT_REGISTRY_TIMEOUT", cfg.RegistryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTimeout, err = durationFromEnv("MODEL_TIMEOUT", cfg.ModelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolTimeout, err = durationFromEnv("TOOL_TIMEOUT", cfg.ToolTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextWindow, err = intFromEnv("MEMORY_CONTEXT_WINDOW", cfg.ContextWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextCeiling, err = intFromEnv("MEMORY_CONTEXT_CEILING", cfg.ContextCeiling)
	if err != nil {
		return Config{}, err
	}

	if cfg.ContextWindow <= 0 {
		return Config{}, fmt.Errorf("MEMORY_CONTEXT_WINDOW must be positive")
	}
	if cfg.ContextCeiling < cfg.ContextWindow {
		return Config{}, fmt.Errorf("MEMORY_CONTEXT_CEILING must be at least MEMORY_CONTEXT_WINDOW")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("TOOL_TIMEOUT must be positive")
	}
	switch cfg.ModelAdapterMode {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("MODEL_ADAPTER_MODE must be auto, http, or mock")
	}
	switch cfg.WeatherProvider {
	case "auto", "openweather", "mock":
	default:
		return Config{}, fmt.Errorf("WEATHER_PROVIDER must be auto, openweather, or mock")
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

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
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
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
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
