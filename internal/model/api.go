package model

// EventResult is the per-event outcome of webhook batch processing. Failures
// are reported here, never through the HTTP status.
type EventResult struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WebhookResponse is the body returned to the platform for every accepted
// batch.
type WebhookResponse struct {
	Status          string        `json:"status"`
	ExecutionID     string        `json:"execution_id"`
	EventsProcessed int           `json:"events_processed"`
	EventsResults   []EventResult `json:"events_results"`
}

// ConversationPage is one page of a conversation's messages.
type ConversationPage struct {
	Messages []ChatMessage `json:"messages"`
	Total    int64         `json:"total"`
	HasMore  bool          `json:"has_more"`
}

// ConversationSummary is a sidebar entry: one row per handle.
type ConversationSummary struct {
	Handle      string       `json:"handle"`
	CustomerID  string       `json:"customer_id"`
	DisplayName string       `json:"display_name"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UnreadCount int64        `json:"unread_count"`
}

// PollResponse is the long-poll gateway reply. Timeout true means no changes
// arrived within the requested window; Version is always the current feed
// version so the client can re-poll without drifting.
type PollResponse struct {
	Timeout  bool          `json:"timeout"`
	Version  int64         `json:"version"`
	Messages []ChatMessage `json:"messages"`
}

// IncrementalResponse is a typed diff since a client version, with a content
// checksum for client-side integrity verification.
type IncrementalResponse struct {
	Type          string                `json:"type"`
	Version       int64                 `json:"version"`
	Checksum      string                `json:"checksum"`
	Messages      []ChatMessage         `json:"messages,omitempty"`
	Conversations []ConversationSummary `json:"conversations,omitempty"`
}

// SendMessageRequest is a staff reply to a conversation.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse returns the recorded outbound message; Status failed
// means platform delivery did not succeed and manual retry is required.
type SendMessageResponse struct {
	Message *ChatMessage `json:"message"`
}

// MarkReadResponse reports how many messages transitioned to read.
type MarkReadResponse struct {
	Updated int `json:"updated"`
}

// LeadPage is one page of lead records.
type LeadPage struct {
	Leads []Lead `json:"leads"`
	Total int64  `json:"total"`
}
