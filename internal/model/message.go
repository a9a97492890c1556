package model

import (
	"encoding/json"
	"time"
)

// MessageKind classifies the content of a conversation message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindMedia    MessageKind = "media"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindSystem   MessageKind = "system"
)

// MessageStatus is the delivery/read state of a message.
type MessageStatus string

const (
	StatusUnread  MessageStatus = "unread"
	StatusRead    MessageStatus = "read"
	StatusReplied MessageStatus = "replied"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// StatusFallback is the known-safe status retried when the storage layer
// rejects an attempted status value (status domain drift between code and
// schema).
const StatusFallback = StatusUnread

// ChatMessage is the authoritative relational record of a conversation
// message. Version is assigned from a single monotonic counter shared across
// all message mutations; it is the total order the change feed serves.
type ChatMessage struct {
	ID           string          `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID   string          `gorm:"type:uuid;not null;index" json:"customer_id"`
	StaffID      *string         `gorm:"type:varchar(64)" json:"staff_id,omitempty"`
	SenderHandle string          `gorm:"type:varchar(64);not null;index" json:"sender_handle"`
	Kind         MessageKind     `gorm:"type:varchar(16);not null" json:"kind"`
	Content      string          `gorm:"type:text;not null" json:"content"`
	SentAt       time.Time       `gorm:"not null" json:"sent_at"`
	FromCustomer bool            `gorm:"not null" json:"from_customer"`
	Status       MessageStatus   `gorm:"type:varchar(16);not null;check:status IN ('unread','read','replied','sent','failed')" json:"status"`
	Version      int64           `gorm:"not null;uniqueIndex" json:"version"`
	Meta         json.RawMessage `gorm:"type:jsonb" json:"meta,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// LeadStatus is the state of a lead record.
type LeadStatus string

const (
	LeadPending LeadStatus = "pending"
	LeadWorking LeadStatus = "working"
	LeadClosed  LeadStatus = "closed"
)

// Lead is an open follow-up opportunity created when a customer follows the
// official account. At most one pending lead exists per (customer, handle).
type Lead struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID string     `gorm:"type:uuid;not null;index" json:"customer_id"`
	Handle     string     `gorm:"type:varchar(64);not null;index" json:"handle"`
	Status     LeadStatus `gorm:"type:varchar(16);not null" json:"status"`
	Origin     string     `gorm:"type:varchar(16);not null" json:"origin"`
	Note       string     `gorm:"type:text" json:"note,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Setting is a persisted configuration entry. Platform credentials live here
// rather than in the environment so changes take effect without a redeploy.
type Setting struct {
	Key       string    `gorm:"type:varchar(64);primaryKey" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Setting keys used by the platform client and signature verifier.
const (
	SettingChannelSecret = "line.channel_secret"
	SettingChannelToken  = "line.channel_token"
)
