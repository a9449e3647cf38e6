// Package signature verifies the X-Hub-Signature-256 header Meta attaches to
// webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// HeaderName is the request header carrying the body signature.
const HeaderName = "X-Hub-Signature-256"

const prefix = "sha256="

var (
	ErrMissingSignature = errors.New("signature header is required")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Compute returns the header value expected for body under secret.
func Compute(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Check validates header against body. An empty secret disables verification
// and always succeeds; callers must only pass an empty secret when unsigned
// webhooks were explicitly allowed.
func Check(body []byte, header, secret string) error {
	if secret == "" {
		return nil
	}
	if header == "" {
		return ErrMissingSignature
	}
	if !hmac.Equal([]byte(Compute(secret, body)), []byte(header)) {
		return ErrInvalidSignature
	}
	return nil
}

// Verify reports whether header is a valid signature of body.
func Verify(body []byte, header, secret string) bool {
	return Check(body, header, secret) == nil
}
