package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter forwards requests to a model-serving endpoint speaking the
// decide/compose JSON protocol.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		url:    strings.TrimRight(strings.TrimSpace(url), "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) Decide(ctx context.Context, req DecideRequest) (Decision, error) {
	var decision Decision
	if err := a.post(ctx, "/decide", req, &decision); err != nil {
		return Decision{}, err
	}
	switch decision.Tool {
	case ToolNone, ToolCurrentWeather, ToolForecast:
	default:
		// An unknown tool name from the endpoint is treated as a direct
		// answer rather than an invocation of something we do not have.
		decision.Tool = ToolNone
	}
	return decision, nil
}

func (a *HTTPAdapter) Compose(ctx context.Context, req ComposeRequest, onDelta DeltaHandler) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := a.post(ctx, "/compose", req, &out); err != nil {
		return "", err
	}
	if out.Text != "" && onDelta != nil {
		if err := onDelta(out.Text); err != nil {
			return "", err
		}
	}
	return out.Text, nil
}

func (a *HTTPAdapter) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, res.StatusCode, string(body))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
