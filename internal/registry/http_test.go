package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientPull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %q, want GET", r.Method)
		}
		if r.URL.Path != "/prompts/weather_agent_system" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Entry{
			Name:    "weather_agent_system",
			Content: "You are a weather assistant.",
			Version: "v7",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	entry, err := c.Pull(context.Background(), "weather_agent_system")
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if entry.Version != "v7" || entry.Content == "" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestHTTPClientPullNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	_, err := c.Pull(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Pull() error = %v, want ErrNotFound", err)
	}
}

func TestHTTPClientPullServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	_, err := c.Pull(context.Background(), "weather_agent_system")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Pull() error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPClientPush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("method = %q, want PUT", r.Method)
		}
		var entry Entry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if entry.Content != "updated" {
			t.Fatalf("Content = %q", entry.Content)
		}
		_ = json.NewEncoder(w).Encode(Entry{Name: entry.Name, Content: entry.Content, Version: "v2"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	version, err := c.Push(context.Background(), "weather_agent_system", "updated")
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if version != "v2" {
		t.Fatalf("version = %q, want v2", version)
	}
}

func TestHTTPClientPushTransportErrorIsUnavailable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Push(context.Background(), "weather_agent_system", "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Push() error = %v, want ErrUnavailable", err)
	}
}
