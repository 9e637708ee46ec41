// Package signer computes the keyed digest sent alongside every webhook
// request. Receivers recompute the digest over the exact body bytes with the
// shared secret and reject mismatches.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix identifies the algorithm in the X-Webhook-Signature header value.
const Prefix = "sha256="

// Sign returns the HMAC-SHA256 of payload keyed by secret, hex-encoded and
// prefixed with the algorithm name. Pure function, safe for concurrent use.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload under secret. Comparison
// is constant-time.
func Verify(secret string, payload []byte, signature string) bool {
	raw, ok := strings.CutPrefix(signature, Prefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(raw)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
