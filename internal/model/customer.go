// Package model defines data structures for the chat ingestion pipeline.
package model

import (
	"encoding/json"
	"time"
)

// CustomerState is the lifecycle state of a customer record.
type CustomerState string

const (
	CustomerActive   CustomerState = "active"
	CustomerArchived CustomerState = "archived"
)

// IdentifierType classifies a channel identifier.
type IdentifierType string

const (
	IdentifierLine  IdentifierType = "line"
	IdentifierPhone IdentifierType = "phone"
	IdentifierEmail IdentifierType = "email"
)

// Customer is the durable identity a person resolves to, regardless of which
// channel they contacted us on. Archived customers are restorable; they are
// never hard-deleted.
type Customer struct {
	ID              string          `gorm:"type:uuid;primaryKey" json:"id"`
	DisplayName     string          `gorm:"type:varchar(128);not null" json:"display_name"`
	LineUserID      string          `gorm:"type:varchar(64);index" json:"line_user_id,omitempty"`
	Channel         string          `gorm:"type:varchar(16);not null" json:"channel"`
	AssignedStaffID *string         `gorm:"type:varchar(64)" json:"assigned_staff_id,omitempty"`
	Reachable       bool            `gorm:"not null;default:false" json:"reachable"`
	FollowUpAt      *time.Time      `json:"follow_up_at,omitempty"`
	State           CustomerState   `gorm:"type:varchar(16);not null;default:'active'" json:"state"`
	SourceMeta      json.RawMessage `gorm:"type:jsonb" json:"source_meta,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Archived reports whether the customer is soft-deleted.
func (c *Customer) Archived() bool {
	return c.State == CustomerArchived
}

// Identifier is a typed (channel, value) pair owned by exactly one customer.
// The (type, value) unique index is the race-safety backstop for concurrent
// identity resolution.
type Identifier struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Type       IdentifierType `gorm:"type:varchar(16);not null;uniqueIndex:idx_identifier_type_value" json:"type"`
	Value      string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_identifier_type_value" json:"value"`
	CustomerID string         `gorm:"type:uuid;not null;index" json:"customer_id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// ActivityKind labels an entry in a customer's activity log.
type ActivityKind string

const (
	ActivityCreated         ActivityKind = "created"
	ActivityChannelsUnified ActivityKind = "channels_unified"
	ActivityRestored        ActivityKind = "restored"
	ActivityFollowed        ActivityKind = "followed"
	ActivityUnfollowed      ActivityKind = "unfollowed"
	ActivityReferralCode    ActivityKind = "referral_code"
)

// Activity is an audit event on a customer.
type Activity struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID string          `gorm:"type:uuid;not null;index" json:"customer_id"`
	Kind       ActivityKind    `gorm:"type:varchar(32);not null" json:"kind"`
	Detail     json.RawMessage `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
