package monnify

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries hex(HMAC-SHA512(rawBody, secret)) on inbound webhooks.
const SignatureHeader = "monnify-signature"

// ComputeSignature returns the lowercase hex HMAC-SHA512 of body.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the provided header against the expected signature
// case-insensitively and in constant time.
func VerifySignature(body []byte, header, secret string) bool {
	provided := strings.ToLower(strings.TrimSpace(header))
	if provided == "" || secret == "" {
		return false
	}
	expected := ComputeSignature(body, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}
