// Package csrf implements the double-submit cookie pattern: a random token
// lives in a client-readable cookie and is mirrored into the X-CSRF-Token
// header on every state-mutating request. The server accepts the request
// only when header and cookie match.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// HeaderName is the request header carrying the mirrored token.
const HeaderName = "X-CSRF-Token"

// tokenBytes is the entropy of a generated token. 32 bytes = 256 bits.
const tokenBytes = 32

// GenerateToken returns a cryptographically random, URL-safe token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("csrf: failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateToken compares the header and cookie values of a double-submit
// pair. It fails closed: absent values, undecodable values and mismatches
// all return false. Both values are decoded to raw byte buffers before a
// constant-time comparison so the check does not leak contents via timing.
func ValidateToken(headerValue, cookieValue string) bool {
	if headerValue == "" || cookieValue == "" {
		return false
	}

	h, err := base64.RawURLEncoding.DecodeString(headerValue)
	if err != nil {
		return false
	}
	c, err := base64.RawURLEncoding.DecodeString(cookieValue)
	if err != nil {
		return false
	}
	if len(h) != len(c) {
		// Length is not secret here: tokens are fixed-size, so a length
		// mismatch already means the pair cannot match.
		return false
	}

	return subtle.ConstantTimeCompare(h, c) == 1
}
