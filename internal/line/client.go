package line

import (
	"context"
)

// Profile is the platform's public profile of a user.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
	Language      string `json:"language,omitempty"`
}

// TokenSource supplies the bearer token for outbound calls.
type TokenSource interface {
	ChannelToken(ctx context.Context) (string, error)
}

// Client is the interface for the outbound platform API.
type Client interface {
	// GetProfile fetches the public profile of a platform user.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// PushText delivers a text message to a platform user.
	PushText(ctx context.Context, to, text string) error
}
