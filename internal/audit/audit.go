package audit

import (
	"context"
	"time"
)

// Entry is an append-only record of a privileged action. Entries are never
// updated or deleted.
type Entry struct {
	ID           string            `json:"id"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Actor        string            `json:"actor,omitempty"`
	EcoleID      string            `json:"ecole_id,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Store appends immutable entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}
