package memory

import (
	"context"
	"fmt"

	"github.com/mstefanon/nimbus/internal/policy"
)

// Manager serves bounded, ordered per-user conversation history on top of a
// durable Store. Writes go through to the store before they are visible to
// readers; store failures surface as ErrStoreUnavailable rather than being
// masked with local buffering or stale results.
type Manager struct {
	store   Store
	window  int
	ceiling int
}

// NewManager builds a manager with a default context window and a hard
// ceiling applied to every read regardless of the requested limit.
func NewManager(store Store, window, ceiling int) *Manager {
	if window <= 0 {
		window = 10
	}
	if ceiling < window {
		ceiling = window
	}
	return &Manager{store: store, window: window, ceiling: ceiling}
}

// Append writes one turn through to the store. User-authored content is
// PII-redacted before persistence.
func (m *Manager) Append(ctx context.Context, record TurnRecord) error {
	return m.Record(ctx, []TurnRecord{record})
}

// Record writes a batch of turns as one atomic unit. The router uses this
// for its Record step so a cancelled query never leaves a partial sequence.
func (m *Manager) Record(ctx context.Context, records []TurnRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].Role == RoleUser {
			redacted, changed := policy.RedactPII(records[i].Content)
			records[i].Content = redacted
			records[i].PIIRedacted = changed
		}
	}
	if err := m.store.AppendTurns(ctx, records); err != nil {
		return fmt.Errorf("%w: append: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetContext returns the most recent limit turns in chronological order.
// Non-positive limits fall back to the default window; the ceiling always
// applies. A user with no history yields an empty slice, not an error.
func (m *Manager) GetContext(ctx context.Context, userID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = m.window
	}
	if limit > m.ceiling {
		limit = m.ceiling
	}
	turns, err := m.store.RecentTurns(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrStoreUnavailable, err)
	}
	return turns, nil
}

// Clear deletes all history for a user. Clearing an empty history succeeds.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	if err := m.store.DeleteTurns(ctx, userID); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Window reports the default context window size.
func (m *Manager) Window() int { return m.window }
