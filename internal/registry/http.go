package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mstefanon/nimbus/internal/reliability"
)

// HTTPClient talks to a registry exposing GET/PUT /prompts/{name} with JSON
// bodies of the Entry shape.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Pull(ctx context.Context, name string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.promptURL(name), nil)
	if err != nil {
		return Entry{}, fmt.Errorf("create pull request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return Entry{}, ErrNotFound
	case reliability.IsRetryableHTTPStatus(res.StatusCode):
		return Entry{}, fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Entry{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, res.StatusCode, string(body))
	}

	var entry Entry
	if err := json.NewDecoder(res.Body).Decode(&entry); err != nil {
		return Entry{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if entry.Name == "" {
		entry.Name = name
	}
	return entry, nil
}

func (c *HTTPClient) Push(ctx context.Context, name, content string) (string, error) {
	payload, err := json.Marshal(Entry{Name: name, Content: content})
	if err != nil {
		return "", fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.promptURL(name), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, res.StatusCode, string(body))
	}

	var entry Entry
	if err := json.NewDecoder(res.Body).Decode(&entry); err != nil {
		// Some registries answer pushes with an empty body; treat the push as
		// accepted with an unknown version.
		return "", nil
	}
	return entry.Version, nil
}

func (c *HTTPClient) promptURL(name string) string {
	return c.baseURL + "/prompts/" + url.PathEscape(name)
}
