package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const SignatureHeader = "X-Webhook-Signature"

// SignPayload returns the hex HMAC-SHA256 of body under secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex signature, optionally prefixed "sha256=".
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
