// Package auth verifies the HMAC-SHA256 signature agents attach to each
// ingestion request.
//
// The signed message is the decimal timestamp, a newline, and the request
// body exactly as received:
//
//	hex(HMAC-SHA256(secret, timestamp + "\n" + body))
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	// SignatureHexLength is the length of a hex encoded SHA-256 MAC.
	SignatureHexLength = 64
)

var (
	timestampPattern = regexp.MustCompile(`^[0-9]{1,20}$`)
	signaturePattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// Verifier checks request signatures. It is safe for concurrent use.
type Verifier struct {
	keys *KeyCache
}

// NewVerifier returns a verifier backed by keys. A nil cache gets a private one.
func NewVerifier(keys *KeyCache) *Verifier {
	if keys == nil {
		keys = NewKeyCache()
	}
	return &Verifier{keys: keys}
}

// ExtractTimestamp returns the trimmed timestamp header when it is a run of
// 1 to 20 decimal digits.
func ExtractTimestamp(header string) (string, bool) {
	trimmed := strings.TrimSpace(header)
	if !timestampPattern.MatchString(trimmed) {
		return "", false
	}
	return trimmed, true
}

// ExtractSignature returns the lowercase hex signature with an optional 0x
// prefix removed.
func ExtractSignature(header string) (string, bool) {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	if !signaturePattern.MatchString(trimmed) {
		return "", false
	}
	return strings.ToLower(trimmed), true
}

// Verify reports whether signatureHeader is the MAC of timestampHeader and
// body under secret. Every malformed input fails closed.
func (v *Verifier) Verify(secret string, body []byte, signatureHeader, timestampHeader string) bool {
	if secret == "" {
		return false
	}

	timestamp, ok := ExtractTimestamp(timestampHeader)
	if !ok {
		return false
	}

	signature, ok := ExtractSignature(signatureHeader)
	if !ok {
		return false
	}

	supplied, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	expected := v.keys.get(secret).sum([]byte(timestamp), []byte{'\n'}, body)
	return hmac.Equal(expected, supplied)
}

// Sign produces the hex signature an agent sends in X-Probe-Signature.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
