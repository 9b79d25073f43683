package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of the raw body>".
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// Verifier checks that a webhook body was signed with the app secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

// Enabled reports whether a secret is configured. Without one Verify always fails.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify computes HMAC-SHA256 over the raw body and compares its hex form with
// the header value in constant time. body must be the bytes as received.
func (v *Verifier) Verify(body []byte, header string) bool {
	if !v.Enabled() {
		return false
	}
	sig := strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix)
	if sig == "" {
		return false
	}

	expected := Sign(v.secret, body)

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// Sign returns the lowercase hex HMAC-SHA256 of body, without prefix.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}
