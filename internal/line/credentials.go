package line

import (
	"context"
	"sync"
	"time"
)

// SettingsFunc reads a persisted configuration value by key.
type SettingsFunc func(ctx context.Context, key string) (string, error)

// Credentials is a read-through cache over the persisted channel secret and
// bearer token. Values are re-read after a short TTL so configuration changes
// take effect without a redeploy.
type Credentials struct {
	get       SettingsFunc
	secretKey string
	tokenKey  string
	ttl       time.Duration

	mu     sync.Mutex
	secret cachedValue
	token  cachedValue
}

type cachedValue struct {
	value   string
	fetched time.Time
}

// NewCredentials creates a credentials source reading through get.
func NewCredentials(get SettingsFunc, secretKey, tokenKey string) *Credentials {
	return &Credentials{
		get:       get,
		secretKey: secretKey,
		tokenKey:  tokenKey,
		ttl:       time.Minute,
	}
}

// ChannelSecret returns the webhook signing secret.
func (c *Credentials) ChannelSecret(ctx context.Context) (string, error) {
	return c.cached(ctx, c.secretKey, &c.secret)
}

// ChannelToken returns the bearer token for outbound API calls.
func (c *Credentials) ChannelToken(ctx context.Context) (string, error) {
	return c.cached(ctx, c.tokenKey, &c.token)
}

func (c *Credentials) cached(ctx context.Context, key string, slot *cachedValue) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot.value != "" && time.Since(slot.fetched) < c.ttl {
		return slot.value, nil
	}
	value, err := c.get(ctx, key)
	if err != nil {
		// Keep serving the last known value on transient read failures.
		if slot.value != "" {
			return slot.value, nil
		}
		return "", err
	}
	slot.value = value
	slot.fetched = time.Now()
	return value, nil
}
