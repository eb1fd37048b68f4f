package memory

import (
	"context"
	"errors"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrStoreUnavailable wraps any durable-store failure surfaced by the
// manager, so callers can tell "no history" apart from "history unreadable".
var ErrStoreUnavailable = errors.New("conversation store unavailable")

// TurnRecord stores a single conversational turn. Turns are append-only;
// ordering within a user is (CreatedAt, Seq), with Seq breaking timestamp
// ties by insertion order.
type TurnRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ToolName    string    `json:"tool_name,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
	Seq         int64     `json:"seq"`
}

// Store persists and retrieves conversation turns.
type Store interface {
	// AppendTurns writes a batch atomically: either every turn in the batch
	// becomes visible or none does.
	AppendTurns(ctx context.Context, records []TurnRecord) error
	// RecentTurns returns the newest limit turns in chronological order.
	RecentTurns(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
	// DeleteTurns removes all turns for a user.
	DeleteTurns(ctx context.Context, userID string) error
	Close() error
}
