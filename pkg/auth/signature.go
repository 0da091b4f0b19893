package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignBody computes the hex-encoded HMAC-SHA256 signature of body under key.
// The assistant runtime signs tool endpoint payloads this way and presents
// the result in the OpenAI-Signature header.
func SignBody(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is a valid HMAC-SHA256 signature
// of body under key. Verification passes when no key is configured.
func VerifySignature(key, body []byte, signature string) bool {
	if len(key) == 0 {
		return true
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}
