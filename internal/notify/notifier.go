// Package notify broadcasts fire-and-forget events toward UI clients. The
// change feed is the consistency mechanism; these events only shorten the
// time until a poller notices new data.
package notify

import (
	"context"
	"sync"
)

// Event is a broadcast notification.
type Event struct {
	Kind       string `json:"kind"`
	Handle     string `json:"handle,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Version    int64  `json:"version,omitempty"`
}

// Event kinds.
const (
	EventMessageCreated  = "message_created"
	EventCustomerUpdated = "customer_updated"
)

// Notifier delivers events best-effort. Implementations must not block the
// caller on delivery failures.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards all events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(ctx context.Context, e Event) {}

// Recorder collects events for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Notifier.
func (r *Recorder) Notify(ctx context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
