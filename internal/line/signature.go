package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/pkg/logger"
)

// SecretSource supplies the channel secret from persisted configuration.
type SecretSource interface {
	ChannelSecret(ctx context.Context) (string, error)
}

// SignatureVerifier authenticates inbound webhook batches against the
// platform's HMAC-SHA256 signature header.
//
// With no secret configured the verifier fails closed. The development bypass
// is gated by an explicit flag set from the environment designation, never by
// mere absence of configuration.
type SignatureVerifier struct {
	secrets   SecretSource
	devBypass bool
	log       *logger.Logger
}

// NewSignatureVerifier creates a verifier. devBypass must only be true in
// designated development/test environments.
func NewSignatureVerifier(secrets SecretSource, devBypass bool, log *logger.Logger) *SignatureVerifier {
	return &SignatureVerifier{secrets: secrets, devBypass: devBypass, log: log}
}

// Verify checks base64(HMAC-SHA256(body, secret)) against the delivered
// header using a constant-time comparison.
func (v *SignatureVerifier) Verify(ctx context.Context, body []byte, header string) bool {
	secret, err := v.secrets.ChannelSecret(ctx)
	if err != nil || secret == "" {
		if v.devBypass {
			v.log.Warn("signature verification bypassed, development environment without channel secret")
			return true
		}
		v.log.Error("signature verification failed, channel secret not configured", zap.Error(err))
		return false
	}

	if header == "" || len(body) == 0 {
		if v.devBypass {
			v.log.Warn("signature verification bypassed, development environment with missing header or body")
			return true
		}
		v.log.Warn("signature verification failed, missing header or empty body")
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(header)) != 1 {
		v.log.Warn("signature verification failed, signature mismatch")
		return false
	}

	v.log.Debug("signature verified")
	return true
}
