package line

import (
	"context"
	"errors"
	"testing"
)

type settingsStub struct {
	values map[string]string
	err    error
	calls  int
}

func (s *settingsStub) get(ctx context.Context, key string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	v, ok := s.values[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestCredentialsReadThrough(t *testing.T) {
	stub := &settingsStub{values: map[string]string{
		"line.channel_secret": "sec",
		"line.channel_token":  "tok",
	}}
	c := NewCredentials(stub.get, "line.channel_secret", "line.channel_token")
	ctx := context.Background()

	secret, err := c.ChannelSecret(ctx)
	if err != nil || secret != "sec" {
		t.Fatalf("secret = %q, %v", secret, err)
	}
	token, err := c.ChannelToken(ctx)
	if err != nil || token != "tok" {
		t.Fatalf("token = %q, %v", token, err)
	}

	// Cached within the TTL; no further reads.
	calls := stub.calls
	if _, err := c.ChannelSecret(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ChannelToken(ctx); err != nil {
		t.Fatal(err)
	}
	if stub.calls != calls {
		t.Errorf("expected cached values, reads went %d -> %d", calls, stub.calls)
	}
}

func TestCredentialsServesStaleOnReadFailure(t *testing.T) {
	stub := &settingsStub{values: map[string]string{"line.channel_secret": "sec"}}
	c := NewCredentials(stub.get, "line.channel_secret", "line.channel_token")
	c.ttl = 0 // force a re-read on every call
	ctx := context.Background()

	if _, err := c.ChannelSecret(ctx); err != nil {
		t.Fatal(err)
	}

	stub.err = errors.New("database down")
	secret, err := c.ChannelSecret(ctx)
	if err != nil {
		t.Fatalf("expected stale value on read failure, got %v", err)
	}
	if secret != "sec" {
		t.Errorf("expected stale secret, got %q", secret)
	}
}

func TestCredentialsMissingValueFails(t *testing.T) {
	stub := &settingsStub{values: map[string]string{}}
	c := NewCredentials(stub.get, "line.channel_secret", "line.channel_token")

	if _, err := c.ChannelSecret(context.Background()); err == nil {
		t.Fatal("expected error when the setting was never stored")
	}
}
