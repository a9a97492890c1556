// Package line implements the messaging-platform boundary: webhook payload
// decoding, request signature verification, and the outbound API client.
package line

import (
	"time"
)

// Event kinds after classification. Unknown kinds decode into EventUnhandled
// rather than failing the batch.
type EventKind string

const (
	EventMessage   EventKind = "message"
	EventFollow    EventKind = "follow"
	EventUnfollow  EventKind = "unfollow"
	EventUnhandled EventKind = "unhandled"
)

// WebhookRequest is the platform's inbound event batch.
type WebhookRequest struct {
	Destination string  `json:"destination,omitempty"`
	Events      []Event `json:"events"`
}

// Event is one entry of a webhook batch. The payload varies by type; fields
// not applicable to a given type are zero.
type Event struct {
	Type       string          `json:"type"`
	Timestamp  int64           `json:"timestamp"` // milliseconds since epoch
	Source     Source          `json:"source"`
	ReplyToken string          `json:"replyToken,omitempty"`
	Message    *MessagePayload `json:"message,omitempty"`
}

// Source identifies the originating party of an event.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
}

// MessagePayload is the message-event sub-payload.
type MessagePayload struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	PackageID string  `json:"packageId,omitempty"`
	StickerID string  `json:"stickerId,omitempty"`
	Title     string  `json:"title,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Duration  int64   `json:"duration,omitempty"`
	FileName  string  `json:"fileName,omitempty"`
}

// Kind classifies the event into the handled set.
func (e Event) Kind() EventKind {
	switch e.Type {
	case "message":
		return EventMessage
	case "follow":
		return EventFollow
	case "unfollow":
		return EventUnfollow
	default:
		return EventUnhandled
	}
}

// Time returns the platform-reported event time, or the given fallback when
// the timestamp is absent.
func (e Event) Time(fallback time.Time) time.Time {
	if e.Timestamp <= 0 {
		return fallback
	}
	return time.UnixMilli(e.Timestamp)
}

// ContentKind maps the message sub-type onto the stored message kinds. Image,
// video, audio and file all land in media; anything unrecognized is reported
// as unhandled via the second return.
func (m *MessagePayload) ContentKind() (string, bool) {
	if m == nil {
		return "", false
	}
	switch m.Type {
	case "text":
		return "text", true
	case "image", "video", "audio", "file":
		return "media", true
	case "sticker":
		return "sticker", true
	case "location":
		return "location", true
	default:
		return m.Type, false
	}
}
