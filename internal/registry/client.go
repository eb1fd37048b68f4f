// Package registry talks to the remote prompt template registry. The prompt
// cache is its only consumer; outages here must never take the service down.
package registry

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable covers transport failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("template registry unavailable")
	// ErrNotFound means the registry answered but has no entry for the name.
	ErrNotFound = errors.New("template not found in registry")
)

// Entry is one named template as stored by the registry.
type Entry struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Version string `json:"version"`
}

// Client pulls and pushes named templates.
type Client interface {
	Pull(ctx context.Context, name string) (Entry, error)
	Push(ctx context.Context, name, content string) (version string, err error)
}
