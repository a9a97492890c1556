// Package mirror maintains the low-latency denormalized copy of recent
// conversation messages that the live chat UI reads. The mirror is not
// authoritative: it may lag or be missing entries without violating
// correctness, and it can be rebuilt from the relational store at any time.
package mirror

import (
	"context"
	"time"

	"github.com/brokercrm/chat-ingest/internal/model"
)

// Entry is the abbreviated projection of a chat message kept per handle.
type Entry struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	CustomerID   string    `json:"customer_id"`
	Kind         string    `json:"kind"`
	Content      string    `json:"content"`
	FromCustomer bool      `json:"from_customer"`
	Status       string    `json:"status"`
	SentAt       time.Time `json:"sent_at"`
	Version      int64     `json:"version,omitempty"`
}

// Mirror is the realtime store boundary. All methods are best-effort from
// the caller's perspective; errors are logged and never abort the
// authoritative write path.
type Mirror interface {
	// Publish prepends an entry to a handle's recent list.
	Publish(ctx context.Context, handle string, e Entry) error

	// Supersede replaces the provisional entry identified by tempID with the
	// authoritative one. If the provisional entry is gone it publishes the
	// authoritative entry instead.
	Supersede(ctx context.Context, handle, tempID string, e Entry) error

	// Recent returns up to limit entries for a handle, newest first.
	Recent(ctx context.Context, handle string, limit int) ([]Entry, error)

	// Rebuild replaces a handle's list with the given entries, newest first.
	Rebuild(ctx context.Context, handle string, entries []Entry) error
}

// FromMessage projects an authoritative message into its mirror form.
func FromMessage(m *model.ChatMessage) Entry {
	return Entry{
		ID:           m.ID,
		Handle:       m.SenderHandle,
		CustomerID:   m.CustomerID,
		Kind:         string(m.Kind),
		Content:      m.Content,
		FromCustomer: m.FromCustomer,
		Status:       string(m.Status),
		SentAt:       m.SentAt,
		Version:      m.Version,
	}
}
