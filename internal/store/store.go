// Package store provides the authoritative relational persistence layer. The
// Postgres implementation is the single source of truth; the in-memory
// implementation backs tests.
package store

import (
	"context"
	"errors"

	"github.com/brokercrm/chat-ingest/internal/model"
)

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a unique constraint rejected the write.
	ErrConflict = errors.New("conflict")
	// ErrInvalidStatus means the storage layer rejected a status value
	// outside its enumerated domain.
	ErrInvalidStatus = errors.New("invalid status value")
	// ErrNotInitialized means the backing store is not reachable or not yet
	// migrated.
	ErrNotInitialized = errors.New("store not initialized")
)

// Store is the relational persistence contract.
//
// Transact runs fn against a transactional view; any error rolls the whole
// transaction back. Implementations must make version assignment atomic with
// the message mutation it belongs to.
type Store interface {
	// Ready reports whether the backing store is initialized, performing one
	// lazy initialization attempt if it is not.
	Ready(ctx context.Context) error

	Transact(ctx context.Context, fn func(tx Store) error) error

	GetCustomerByID(ctx context.Context, id string) (*model.Customer, error)
	// GetCustomerByIdentifier resolves a (type, value) identifier to its
	// owning customer, including archived ones.
	GetCustomerByIdentifier(ctx context.Context, typ model.IdentifierType, value string) (*model.Customer, error)
	CreateCustomer(ctx context.Context, c *model.Customer) error
	UpdateCustomer(ctx context.Context, c *model.Customer) error
	// EnsureIdentifier creates the identifier row if absent. It never
	// duplicates and never moves ownership of an existing row; claiming a
	// row owned by a different customer returns ErrConflict so the caller
	// can roll back and re-resolve to the owner.
	EnsureIdentifier(ctx context.Context, typ model.IdentifierType, value, customerID string) error
	AppendActivity(ctx context.Context, a *model.Activity) error

	HasPendingLead(ctx context.Context, customerID, handle string) (bool, error)
	CreateLead(ctx context.Context, l *model.Lead) error
	ListLeads(ctx context.Context, limit, offset int) ([]model.Lead, int64, error)

	// CreateMessage persists the message and assigns its Version from the
	// global monotonic counter, atomically with the insert.
	CreateMessage(ctx context.Context, m *model.ChatMessage) error
	// UpdateMessageStatus transitions a message's status and assigns a fresh
	// Version. Returns ErrInvalidStatus when the status domain rejects the
	// value.
	UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error
	ListConversation(ctx context.Context, handle string, limit, offset int) ([]model.ChatMessage, int64, error)
	ListConversations(ctx context.Context) ([]model.ConversationSummary, error)
	ListUnread(ctx context.Context, handle string) ([]model.ChatMessage, error)
	// ChangesSince returns messages with version > clientVersion ordered by
	// version ascending, optionally restricted to one handle, bounded to
	// limit rows.
	ChangesSince(ctx context.Context, version int64, handle string, limit int) ([]model.ChatMessage, error)
	CurrentVersion(ctx context.Context) (int64, error)

	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}
