package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/pkg/logger"
)

type staticSecret string

func (s staticSecret) ChannelSecret(ctx context.Context) (string, error) {
	return string(s), nil
}

type failingSecret struct{}

func (failingSecret) ChannelSecret(ctx context.Context) (string, error) {
	return "", errors.New("settings unavailable")
}

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyValidSignature(t *testing.T) {
	v := NewSignatureVerifier(staticSecret("channel-secret"), false, testLogger())
	body := []byte(`{"events":[]}`)

	if !v.Verify(context.Background(), body, sign("channel-secret", body)) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifyRejectsMismatch(t *testing.T) {
	v := NewSignatureVerifier(staticSecret("channel-secret"), false, testLogger())
	body := []byte(`{"events":[]}`)

	if v.Verify(context.Background(), body, sign("wrong-secret", body)) {
		t.Fatal("expected mismatched signature to fail")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	v := NewSignatureVerifier(staticSecret("channel-secret"), false, testLogger())
	header := sign("channel-secret", []byte(`{"events":[]}`))

	if v.Verify(context.Background(), []byte(`{"events":[{}]}`), header) {
		t.Fatal("expected tampered body to fail")
	}
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	v := NewSignatureVerifier(staticSecret("channel-secret"), false, testLogger())

	if v.Verify(context.Background(), []byte(`{"events":[]}`), "") {
		t.Fatal("expected missing header to fail")
	}
}

func TestVerifyFailsClosedWithoutSecret(t *testing.T) {
	body := []byte(`{"events":[]}`)

	for name, src := range map[string]SecretSource{
		"empty secret":  staticSecret(""),
		"source errors": failingSecret{},
	} {
		v := NewSignatureVerifier(src, false, testLogger())
		if v.Verify(context.Background(), body, sign("anything", body)) {
			t.Fatalf("%s: expected verification to fail closed", name)
		}
	}
}

func TestVerifyDevBypassWithoutSecret(t *testing.T) {
	v := NewSignatureVerifier(staticSecret(""), true, testLogger())

	if !v.Verify(context.Background(), []byte(`{"events":[]}`), "") {
		t.Fatal("expected development bypass to accept unsigned request")
	}
}

func TestVerifyDevBypassStillChecksConfiguredSecret(t *testing.T) {
	v := NewSignatureVerifier(staticSecret("channel-secret"), true, testLogger())
	body := []byte(`{"events":[]}`)

	if v.Verify(context.Background(), body, sign("wrong-secret", body)) {
		t.Fatal("expected bad signature to fail even with bypass enabled")
	}
}
