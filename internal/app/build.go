// Package app wires configuration into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mstefanon/nimbus/internal/agent"
	"github.com/mstefanon/nimbus/internal/config"
	"github.com/mstefanon/nimbus/internal/httpapi"
	"github.com/mstefanon/nimbus/internal/memory"
	"github.com/mstefanon/nimbus/internal/model"
	"github.com/mstefanon/nimbus/internal/observability"
	"github.com/mstefanon/nimbus/internal/prompt"
	"github.com/mstefanon/nimbus/internal/registry"
	"github.com/mstefanon/nimbus/internal/weather"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Prompts *prompt.Cache
	Memory  *memory.Manager
	Router  *agent.Router
	Metrics *observability.Metrics
	Stages  *observability.StageWindow

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(0)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	mem := memory.NewManager(store, cfg.ContextWindow, cfg.ContextCeiling)

	var registryClient registry.Client
	if strings.TrimSpace(cfg.RegistryURL) != "" {
		registryClient = registry.NewHTTPClient(cfg.RegistryURL, cfg.RegistryTimeout)
	}
	prompts := prompt.NewCache(registryClient, cfg.RegistryTimeout, metrics)

	adapter, err := model.NewAdapter(model.Config{
		Mode:    cfg.ModelAdapterMode,
		URL:     cfg.ModelHTTPURL,
		Timeout: cfg.ModelTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("model adapter init failed: %w", err)
	}

	weatherClient, err := buildWeatherClient(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	router := agent.NewRouter(prompts, mem, adapter, weatherClient, metrics, stages, cfg.ToolTimeout)
	api := httpapi.New(cfg, router, mem, prompts, metrics, stages)

	cleanup := func() error {
		return store.Close()
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Prompts: prompts,
		Memory:  mem,
		Router:  router,
		Metrics: metrics,
		Stages:  stages,
		Cleanup: cleanup,
	}, nil
}

func buildWeatherClient(cfg config.Config) (weather.Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.WeatherProvider))
	switch mode {
	case "", "auto":
		if strings.TrimSpace(cfg.WeatherAPIKey) != "" {
			return weather.NewOpenWeatherClient(cfg.WeatherBaseURL, cfg.WeatherAPIKey, cfg.ToolTimeout), nil
		}
		return weather.NewMock(), nil
	case "openweather":
		if strings.TrimSpace(cfg.WeatherAPIKey) == "" {
			return nil, errors.New("OPENWEATHER_API_KEY is required for the openweather provider")
		}
		return weather.NewOpenWeatherClient(cfg.WeatherBaseURL, cfg.WeatherAPIKey, cfg.ToolTimeout), nil
	case "mock":
		return weather.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown weather provider %q", cfg.WeatherProvider)
	}
}
