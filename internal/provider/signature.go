package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// HMAC helpers shared by the adapters. Validation always runs over the
// exact raw byte sequence received, before any JSON decoding, and uses
// constant-time comparison.

// SignHex computes the hex-encoded HMAC-SHA256 of body.
func SignHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignBase64 computes the base64-encoded HMAC-SHA256 of body.
func SignBase64(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHex checks a hex signature in constant time.
func VerifyHex(secret string, body []byte, sigHex string) bool {
	want, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// VerifyBase64 checks a base64 signature in constant time.
func VerifyBase64(secret string, body []byte, sigB64 string) bool {
	want, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
