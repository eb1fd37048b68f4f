// Package model bridges the agent runtime with the external language-model
// collaborator. The adapter either answers directly or hands back a
// structured tool selection; everything else about the model is opaque.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable covers model timeouts and transport failures.
var ErrUnavailable = errors.New("language model unavailable")

// Tool identifiers form a closed set; adding a tool means extending this
// enum and its handler in the agent, not registering a callable.
type Tool string

const (
	ToolNone           Tool = ""
	ToolCurrentWeather Tool = "get_current_weather"
	ToolForecast       Tool = "get_weather_forecast"
)

// ContextTurn is one prior exchange fed to the model.
type ContextTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DecideRequest asks the model to pick a tool or answer directly.
type DecideRequest struct {
	SystemPrompt string        `json:"system_prompt"`
	Context      []ContextTurn `json:"context,omitempty"`
	Query        string        `json:"query"`
	// ToolResults holds the textual results of tool calls already made for
	// this query; a populated list tells the model its data has arrived.
	ToolResults []string `json:"tool_results,omitempty"`
}

// Decision is the structured outcome of a Decide call. When Tool is
// ToolNone, Reply carries the model's direct answer.
type Decision struct {
	Tool     Tool   `json:"tool"`
	Reply    string `json:"reply,omitempty"`
	Location string `json:"location,omitempty"`
	Days     int    `json:"days,omitempty"`
}

// ComposeRequest asks the model to turn tool output into the final reply.
type ComposeRequest struct {
	Prompt      string        `json:"prompt"`
	Query       string        `json:"query"`
	ToolResults []string      `json:"tool_results"`
	Context     []ContextTurn `json:"context,omitempty"`
}

// DeltaHandler receives streaming text fragments of the final reply.
type DeltaHandler func(delta string) error

// Adapter is the language-model collaborator contract.
type Adapter interface {
	Decide(ctx context.Context, req DecideRequest) (Decision, error)
	Compose(ctx context.Context, req ComposeRequest, onDelta DeltaHandler) (string, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	URL     string
	Timeout time.Duration
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPAdapter(cfg.URL, cfg.Timeout), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("model URL is required for http mode")
		}
		return NewHTTPAdapter(cfg.URL, cfg.Timeout), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported model adapter mode %q", cfg.Mode)
	}
}
