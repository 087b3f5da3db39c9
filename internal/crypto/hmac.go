// Package crypto provides the HMAC signature scheme used to authenticate
// pushed webhook payloads from ingestion providers.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// WebhookVerifier authenticates webhook payloads. The signature is
// HMAC-SHA256(secret, body) encoded as lowercase hex, carried in the
// X-Signature request header.
type WebhookVerifier struct {
	secret []byte
}

// NewWebhookVerifier creates a verifier for the given shared secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("crypto: webhook secret must not be empty")
	}
	return &WebhookVerifier{secret: []byte(secret)}, nil
}

// Sign computes the hex-encoded HMAC-SHA256 signature of body.
func (v *WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body. Comparison is constant-time.
func (v *WebhookVerifier) Verify(body []byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (v *WebhookVerifier) String() string {
	if len(v.secret) <= 4 {
		return "WebhookVerifier{secret=****}"
	}
	return fmt.Sprintf("WebhookVerifier{secret=%s****}", v.secret[:4])
}
