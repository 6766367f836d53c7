package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// SecureCompare compares two strings in time that depends only on their length.
// The length check comes first; equal-length inputs are XOR-accumulated over every byte
// so the position of the first mismatch does not change the running time.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// HashAPIKey returns the hex SHA-256 of an API key. Keys are only ever stored and
// compared in this form.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// MaskToken keeps the first and last four characters of a credential for logs.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***" + token[len(token)-4:]
}
