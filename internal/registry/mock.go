package registry

import (
	"context"
	"fmt"
	"sync"
)

// Mock is an in-memory registry for tests. Pull/push counters let tests
// verify the cache's single-flight and retry behavior.
type Mock struct {
	mu        sync.Mutex
	entries   map[string]Entry
	versions  int
	PullErr   error
	PushErr   error
	PullCalls int
	PushCalls int
}

func NewMock() *Mock {
	return &Mock{entries: make(map[string]Entry)}
}

func (m *Mock) Pull(_ context.Context, name string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PullCalls++
	if m.PullErr != nil {
		return Entry{}, m.PullErr
	}
	entry, ok := m.entries[name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (m *Mock) Push(_ context.Context, name, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PushCalls++
	if m.PushErr != nil {
		return "", m.PushErr
	}
	m.versions++
	version := fmt.Sprintf("v%d", m.versions)
	m.entries[name] = Entry{Name: name, Content: content, Version: version}
	return version, nil
}

// Seed installs an entry without counting a push.
func (m *Mock) Seed(name, content, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = Entry{Name: name, Content: content, Version: version}
}

func (m *Mock) Pulls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PullCalls
}
