// Package prompt owns the in-process prompt template cache. Entries come
// from the remote registry when it is reachable and from compiled-in
// defaults when it is not; a registry outage degrades, it never blocks.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mstefanon/nimbus/internal/observability"
	"github.com/mstefanon/nimbus/internal/registry"
	"github.com/mstefanon/nimbus/internal/reliability"
)

// Source records where a cached entry came from.
type Source string

const (
	SourceDefault  Source = "local_default"
	SourceRemote   Source = "remote"
	SourceFallback Source = "remote_fallback_on_error"
)

// ErrAlreadyExists is returned by UploadDefault when the registry already
// holds an entry under the requested name.
var ErrAlreadyExists = errors.New("prompt already exists in registry")

// Entry is one resolved prompt template.
type Entry struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Source    Source    `json:"source"`
	Version   string    `json:"version,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache maps prompt names to entries. It is safe for concurrent use and
// collapses concurrent pulls for the same missing name into one registry
// call.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	client      registry.Client
	pullTimeout time.Duration
	retryBase   time.Duration
	metrics     *observability.Metrics

	group singleflight.Group
}

func NewCache(client registry.Client, pullTimeout time.Duration, metrics *observability.Metrics) *Cache {
	if pullTimeout <= 0 {
		pullTimeout = 5 * time.Second
	}
	return &Cache{
		entries:     make(map[string]Entry),
		client:      client,
		pullTimeout: pullTimeout,
		retryBase:   200 * time.Millisecond,
		metrics:     metrics,
	}
}

// Initialize eagerly pulls every known prompt. Pull failures degrade to the
// compiled-in default and are logged; startup never fails on a registry
// outage.
func (c *Cache) Initialize(ctx context.Context) {
	for _, name := range KnownNames {
		if c.client == nil {
			c.store(c.defaultEntry(name, SourceDefault))
			continue
		}
		entry, err := c.pull(ctx, name)
		if err != nil {
			log.Printf("prompt cache: pull %q failed, using local default: %v", name, err)
			entry = c.defaultEntry(name, SourceDefault)
		}
		c.store(entry)
	}
}

// Get returns the cached entry for name, lazily pulling it on first miss.
// Concurrent misses for the same name share one in-flight pull. Get never
// fails: on pull error the compiled-in default is cached and returned,
// tagged SourceFallback.
func (c *Cache) Get(ctx context.Context, name string) Entry {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		return rendered(entry)
	}

	v, _, _ := c.group.Do(name, func() (any, error) {
		// Another waiter may have completed the pull between the read
		// above and acquiring the flight.
		c.mu.RLock()
		cached, ok := c.entries[name]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		pulled, err := c.pull(ctx, name)
		if err != nil {
			log.Printf("prompt cache: lazy pull %q failed, falling back: %v", name, err)
			pulled = c.defaultEntry(name, SourceFallback)
			if c.metrics != nil {
				c.metrics.PromptFallbacks.Inc()
			}
		}
		c.store(pulled)
		return pulled, nil
	})
	return rendered(v.(Entry))
}

// Update pushes new content for name and refreshes the local entry, or
// re-pulls from the registry when content is empty. On failure the
// previously cached entry is left untouched and the registry error is
// returned; silently keeping stale data after an explicit update would mask
// the failure.
func (c *Cache) Update(ctx context.Context, name, content string) (Entry, error) {
	if strings.TrimSpace(content) != "" {
		version, err := c.push(ctx, name, content)
		if err != nil {
			return Entry{}, err
		}
		entry := Entry{
			Name:      name,
			Content:   content,
			Source:    SourceRemote,
			Version:   version,
			FetchedAt: time.Now().UTC(),
		}
		c.store(entry)
		return rendered(entry), nil
	}

	entry, err := c.pull(ctx, name)
	if err != nil {
		return Entry{}, err
	}
	c.store(entry)
	return rendered(entry), nil
}

// UpdateAll re-pulls every cached prompt, reporting per-name outcomes.
func (c *Cache) UpdateAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, entry := range c.List() {
		_, err := c.Update(ctx, entry.Name, "")
		results[entry.Name] = err
	}
	return results
}

// List returns a snapshot copy of all cached entries, sorted by name.
func (c *Cache) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UploadDefault pushes the compiled-in default for name, but only when the
// registry has no entry under that name; a human-edited remote prompt must
// never be clobbered.
func (c *Cache) UploadDefault(ctx context.Context, name string) (string, error) {
	content, ok := DefaultContent(name)
	if !ok {
		return "", fmt.Errorf("no compiled-in default for prompt %q", name)
	}

	_, err := c.pull(ctx, name)
	switch {
	case err == nil:
		return "", ErrAlreadyExists
	case !errors.Is(err, registry.ErrNotFound):
		return "", err
	}

	version, err := c.push(ctx, name, content)
	if err != nil {
		return "", err
	}
	c.store(Entry{
		Name:      name,
		Content:   content,
		Source:    SourceRemote,
		Version:   version,
		FetchedAt: time.Now().UTC(),
	})
	return version, nil
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

const pullAttempts = 2

func (c *Cache) pull(ctx context.Context, name string) (Entry, error) {
	if c.client == nil {
		return Entry{}, fmt.Errorf("%w: no registry configured", registry.ErrUnavailable)
	}
	var lastErr error
	for attempt := 0; attempt < pullAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Entry{}, fmt.Errorf("%w: %v", registry.ErrUnavailable, ctx.Err())
			case <-time.After(reliability.ExponentialBackoff(attempt-1, c.retryBase, 2*time.Second)):
			}
		}

		pullCtx, cancel := context.WithTimeout(ctx, c.pullTimeout)
		remote, err := c.client.Pull(pullCtx, name)
		cancel()
		if err == nil {
			c.countRegistryOp("pull", "ok")
			return Entry{
				Name:      name,
				Content:   remote.Content,
				Source:    SourceRemote,
				Version:   remote.Version,
				FetchedAt: time.Now().UTC(),
			}, nil
		}
		lastErr = err
		if errors.Is(err, registry.ErrNotFound) {
			// A missing entry will not appear on retry.
			break
		}
	}
	c.countRegistryOp("pull", "error")
	return Entry{}, lastErr
}

func (c *Cache) push(ctx context.Context, name, content string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("%w: no registry configured", registry.ErrUnavailable)
	}
	var lastErr error
	for attempt := 0; attempt < pullAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", registry.ErrUnavailable, ctx.Err())
			case <-time.After(reliability.ExponentialBackoff(attempt-1, c.retryBase, 2*time.Second)):
			}
		}

		pushCtx, cancel := context.WithTimeout(ctx, c.pullTimeout)
		version, err := c.client.Push(pushCtx, name, content)
		cancel()
		if err == nil {
			c.countRegistryOp("push", "ok")
			return version, nil
		}
		lastErr = err
	}
	c.countRegistryOp("push", "error")
	return "", lastErr
}

func (c *Cache) store(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Name] = entry
}

func (c *Cache) defaultEntry(name string, source Source) Entry {
	content, ok := DefaultContent(name)
	if !ok {
		content = genericDefault
	}
	return Entry{
		Name:      name,
		Content:   content,
		Source:    source,
		FetchedAt: time.Now().UTC(),
	}
}

func (c *Cache) countRegistryOp(op, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RegistryOps.WithLabelValues(op, outcome).Inc()
}

// rendered substitutes runtime placeholders into a copy of the entry; the
// cached content keeps the raw template.
func rendered(entry Entry) Entry {
	if strings.Contains(entry.Content, TodayPlaceholder) {
		today := time.Now().Format("Monday, January 2, 2006")
		entry.Content = strings.ReplaceAll(entry.Content, TodayPlaceholder, today)
	}
	return entry
}
