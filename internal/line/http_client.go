package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brokercrm/chat-ingest/pkg/logger"
)

const defaultBaseURL = "https://api.line.me"

// HTTPClient is the production implementation of Client.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	log     *logger.Logger
}

// NewHTTPClient creates a platform API client. The bearer token is read from
// tokens per call, so rotated credentials apply without restart.
func NewHTTPClient(tokens TokenSource, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: defaultBaseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// WithBaseURL overrides the API origin, used by tests.
func (c *HTTPClient) WithBaseURL(u string) *HTTPClient {
	c.baseURL = u
	return c
}

// GetProfile implements Client.
func (c *HTTPClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	body, err := c.do(ctx, http.MethodGet, "/v2/bot/profile/"+userID, nil)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// PushText implements Client.
func (c *HTTPClient) PushText(ctx context.Context, to, text string) error {
	payload := map[string]any{
		"to": to,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	}
	_, err := c.do(ctx, http.MethodPost, "/v2/bot/message/push", payload)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	token, err := c.tokens.ChannelToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("channel token unavailable: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("channel token not configured")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("platform API %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	return data, nil
}
